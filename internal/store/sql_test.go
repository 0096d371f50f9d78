package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// These assert the shape inherited from original_source/pgjobq/sql/_functions.py:
// every mutation ties its pg_notify call to the same statement as the
// row change via a CTE, so a listener can never see a notification for
// a write that rolled back.

func TestPublishNotifiesInSameStatement(t *testing.T) {
	assert.Contains(t, publishSQL, "pg_notify('pgjobq.new_job', $1)")
	assert.Contains(t, publishSQL, "INSERT INTO pgjobq.messages")
	assert.True(t, strings.Index(publishSQL, "published_notification") < strings.Index(publishSQL, "INSERT INTO pgjobq.messages"))
}

func TestAckNotifiesInSameStatement(t *testing.T) {
	assert.Contains(t, ackSQL, "pg_notify('pgjobq.job_completed'")
	assert.Contains(t, ackSQL, "DELETE FROM pgjobq.messages")
}

func TestNackNotifiesInSameStatement(t *testing.T) {
	assert.Contains(t, nackSQL, "pg_notify('pgjobq.new_job', $1)")
	assert.Contains(t, nackSQL, "UPDATE pgjobq.messages")
}

func TestPollVariantsUseSkipLocked(t *testing.T) {
	assert.Contains(t, pollSQL, "FOR UPDATE SKIP LOCKED")
	assert.Contains(t, pollSQLFifo, "FOR UPDATE SKIP LOCKED")
	assert.NotContains(t, pollSQL, "ORDER BY id")
	assert.Contains(t, pollSQLFifo, "ORDER BY id")
}

func TestExtendDeadlineUsesSkipLocked(t *testing.T) {
	assert.Contains(t, extendDeadlineSQL, "FOR UPDATE SKIP LOCKED")
}
