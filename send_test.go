package pgjobq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAssignsDistinctIDs(t *testing.T) {
	q, _, _ := newTestQueue("jobs", testQueueConfig())
	h, err := q.Send(context.Background(), []byte("a"), []byte("b"), []byte("c"))
	require.NoError(t, err)
	require.Len(t, h.IDs(), 3)

	seen := map[string]bool{}
	for _, id := range h.IDs() {
		assert.False(t, seen[id.String()], "duplicate id %s", id)
		seen[id.String()] = true
	}
}

func TestSendDelayDefersAvailability(t *testing.T) {
	q, _, _ := newTestQueue("jobs", testQueueConfig())
	_, err := q.SendBatch(context.Background(), [][]byte{[]byte("delayed")}, WithDelay(time.Hour))
	require.NoError(t, err)

	sess, err := q.Receive(context.Background(), WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer sess.Close()

	select {
	case <-sess.Handles():
		t.Fatal("delayed message delivered before its delay elapsed")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSendToNonexistentQueueFails(t *testing.T) {
	q, fs, _ := newTestQueue("jobs", testQueueConfig())
	ghost := &Queue{
		name:            "ghost",
		store:           fs,
		sub:             q.sub,
		logger:          q.logger,
		renewalMargin:   q.renewalMargin,
		finalizeTimeout: q.finalizeTimeout,
	}

	_, err := ghost.Send(context.Background(), []byte("a"))
	assert.ErrorIs(t, err, ErrQueueNotFound)

	stats, err := fs.Statistics(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestAwaitCompletionResolvesAfterAck(t *testing.T) {
	q, _, _ := newTestQueue("jobs", testQueueConfig())
	h, err := q.Send(context.Background(), []byte("a"))
	require.NoError(t, err)

	sess, err := q.Receive(context.Background(), WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer sess.Close()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- h.AwaitCompletion(ctx)
	}()

	jh := <-sess.Handles()
	require.NoError(t, jh.Acquire(context.Background(), func(ctx context.Context, j *Job) error { return nil }))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitCompletion never resolved")
	}
}
