package store

import "fmt"

// SQL statements mirror the CTE-plus-pg_notify shape of pgjobq's original
// implementation: every mutation ties its NOTIFY to the same statement as
// the row change so a listener can never observe a notification for a
// write that didn't commit.

const createQueueSQL = `
INSERT INTO pgjobq.queues (name, ack_deadline, retention_period, max_delivery_attempts)
VALUES ($1, $2::interval, $3::interval, $4)
ON CONFLICT (name) DO NOTHING
`

const lookupQueueSQL = `
SELECT
	id,
	name,
	extract(epoch FROM ack_deadline),
	extract(epoch FROM retention_period),
	max_delivery_attempts
FROM pgjobq.queues
WHERE name = $1
`

const publishSQL = `
WITH queue_info AS (
	SELECT id AS queue_id, retention_period, max_delivery_attempts
	FROM pgjobq.queues
	WHERE name = $1
), published_notification AS (
	SELECT pg_notify('pgjobq.new_job', $1)
)
INSERT INTO pgjobq.messages (
	queue_id,
	id,
	expires_at,
	delivery_attempts_remaining,
	available_at,
	body
)
SELECT
	queue_id,
	$2,
	now() + retention_period,
	max_delivery_attempts,
	now() + COALESCE($4, '0 seconds'::interval),
	$3
FROM queue_info
LEFT JOIN published_notification ON true
RETURNING 1  -- NULL rows yield no result, surfaced to the caller as "queue not found"
`

const pollSQLTemplate = `
WITH queue_info AS (
	SELECT id, ack_deadline
	FROM pgjobq.queues
	WHERE name = $1
), selected_messages AS (
	SELECT id
	FROM pgjobq.messages
	WHERE (
		delivery_attempts_remaining != 0
		AND expires_at > now()
		AND available_at < now()
		AND queue_id = (SELECT id FROM queue_info)
	)
	%s
	FOR UPDATE SKIP LOCKED
	LIMIT $2
)
UPDATE pgjobq.messages
SET
	available_at = now() + (SELECT ack_deadline FROM queue_info),
	delivery_attempts_remaining = delivery_attempts_remaining - 1
FROM selected_messages
WHERE pgjobq.messages.id = selected_messages.id
RETURNING pgjobq.messages.id AS id, available_at AS next_ack_deadline, body
`

var (
	pollSQL     = fmt.Sprintf(pollSQLTemplate, "")
	pollSQLFifo = fmt.Sprintf(pollSQLTemplate, "ORDER BY id")
)

const ackSQL = `
WITH notified AS (
	SELECT pg_notify('pgjobq.job_completed', $1 || ',' || CAST($2::uuid AS text))
)
DELETE FROM pgjobq.messages
WHERE queue_id = (SELECT id FROM pgjobq.queues WHERE name = $1)
	AND id = $2::uuid
	AND 1 = (SELECT 1 FROM notified)
`

const nackSQL = `
WITH notified AS (
	SELECT pg_notify('pgjobq.new_job', $1)
)
UPDATE pgjobq.messages
SET available_at = now()
WHERE queue_id = (SELECT id FROM pgjobq.queues WHERE name = $1)
	AND id = $2
	AND 1 = (SELECT 1 FROM notified)
`

const extendDeadlineSQL = `
WITH message_for_update AS (
	SELECT id, queue_id
	FROM pgjobq.messages
	WHERE queue_id = (SELECT id FROM pgjobq.queues WHERE name = $1) AND id = $2
	FOR UPDATE SKIP LOCKED
)
UPDATE pgjobq.messages
SET available_at = (
	now() + (
		SELECT ack_deadline
		FROM pgjobq.queues
		WHERE pgjobq.queues.id = (SELECT queue_id FROM message_for_update)
	)
)
WHERE pgjobq.messages.id = (SELECT id FROM message_for_update)
RETURNING available_at AS next_ack_deadline
`

const statisticsSQL = `
SELECT
	count(*) FILTER (WHERE delivery_attempts_remaining > 0 AND expires_at > now()) AS total,
	count(*) FILTER (WHERE delivery_attempts_remaining > 0 AND expires_at > now() AND available_at <= now()) AS undelivered
FROM pgjobq.messages
WHERE queue_id = (SELECT id FROM pgjobq.queues WHERE name = $1)
`

const existingIDsSQL = `
SELECT id
FROM pgjobq.messages
WHERE queue_id = (SELECT id FROM pgjobq.queues WHERE name = $1)
	AND id = ANY($2)
`
