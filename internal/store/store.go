// Package store issues the parameterised statements that back the job
// queue (create and look up a queue, publish, poll, ack, nack, extend
// deadline, statistics, existing ids) against a connection pool. It
// returns plain records; none of
// the lease/handle/session state machines live here.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueNotFound is returned by Publish and GetQueueInfo when no
// queue of the given name exists. Poll, Ack, Nack, and ExtendDeadline
// treat a missing queue as "no rows" instead, since by the time a
// message id exists its queue row must too.
var ErrQueueNotFound = errors.New("store: queue not found")

// QueueConfig holds the tunables a queue is created with.
type QueueConfig struct {
	AckDeadline         time.Duration
	RetentionPeriod     time.Duration
	MaxDeliveryAttempts int
}

// QueueInfo is a queue row as looked up by name.
type QueueInfo struct {
	ID                  int64
	Name                string
	AckDeadline         time.Duration
	RetentionPeriod     time.Duration
	MaxDeliveryAttempts int
}

// Message is one deliverable row returned by Poll, already advanced past
// its deliverability predicate (delivery_attempts_remaining decremented,
// available_at pushed out to the new ack deadline).
type Message struct {
	ID              uuid.UUID
	Body            []byte
	NextAckDeadline time.Time
}

// PublishMessage is one row of a batched Publish call.
type PublishMessage struct {
	ID    uuid.UUID
	Body  []byte
	Delay time.Duration
}

// Statistics mirrors the statistics data-access operation.
type Statistics struct {
	Total       int
	Undelivered int
}

// Store is the minimal data-access interface the core coordination layer
// consumes. Implementations run each operation as a single round trip
// and must be safe for concurrent use by multiple sessions.
type Store interface {
	// CreateQueue inserts a queue row. It is idempotent: creating an
	// already-existing queue by name is a no-op.
	CreateQueue(ctx context.Context, name string, cfg QueueConfig) error

	// GetQueueInfo looks up a queue's configured tunables by name.
	// Returns ErrQueueNotFound if no such queue exists.
	GetQueueInfo(ctx context.Context, name string) (QueueInfo, error)

	// Publish inserts messages for queueName in one statement per
	// message, each tied to its own pg_notify('pgjobq.new_job', ...).
	// Returns ErrQueueNotFound if the queue doesn't exist; in that case
	// no row is inserted for any message in the batch.
	Publish(ctx context.Context, queueName string, messages []PublishMessage) error

	// Poll returns up to batchSize deliverable rows, FIFO-ordered by
	// insertion id when fifo is true.
	Poll(ctx context.Context, queueName string, batchSize int, fifo bool) ([]Message, error)

	// Ack deletes the row and notifies pgjobq.job_completed. No-op if
	// the row is already gone.
	Ack(ctx context.Context, queueName string, jobID uuid.UUID) error

	// Nack marks the row immediately redeliverable and notifies
	// pgjobq.new_job.
	Nack(ctx context.Context, queueName string, jobID uuid.UUID) error

	// ExtendDeadline pushes available_at out to now + ack_deadline. The
	// second return value is false if the row could not be locked
	// (another statement holds it, or it's gone) — the caller treats
	// this as "the handle has moved on".
	ExtendDeadline(ctx context.Context, queueName string, jobID uuid.UUID) (time.Time, bool, error)

	// Statistics reports total and undelivered message counts.
	Statistics(ctx context.Context, queueName string) (Statistics, error)

	// ExistingIDs reports which of the given ids still have a row.
	// Used by the completion tracker's periodic poll fallback.
	ExistingIDs(ctx context.Context, queueName string, ids []uuid.UUID) (map[uuid.UUID]bool, error)

	// Close releases any resources (e.g. connection pools) this Store
	// owns exclusively. Pools passed in by the caller are not closed.
	Close() error
}
