package pgjobq

import (
	"context"

	"github.com/google/uuid"

	"github.com/odiseo0/pgjobq/internal/ids"
	"github.com/odiseo0/pgjobq/internal/store"
)

// SendHandle reports on the batch of messages one Send/SendBatch call
// published, in the order their bodies were given.
type SendHandle struct {
	queue *Queue
	ids   []uuid.UUID
}

// IDs returns the message ids assigned to this batch.
func (h *SendHandle) IDs() []uuid.UUID {
	out := make([]uuid.UUID, len(h.ids))
	copy(out, h.ids)
	return out
}

// AwaitCompletion blocks until every message in this batch has been
// acked (or has otherwise left the queue), or ctx is done.
func (h *SendHandle) AwaitCompletion(ctx context.Context) error {
	waiter, err := h.queue.WaitForCompletion(ctx, h.ids...)
	if err != nil {
		return err
	}
	return waiter.Wait(ctx)
}

// Send publishes bodies as a single batch and returns once every row is
// committed. Equivalent to SendBatch with no options.
func (q *Queue) Send(ctx context.Context, bodies ...[]byte) (*SendHandle, error) {
	return q.SendBatch(ctx, bodies)
}

// SendBatch publishes bodies as a single batch, applying opts (for
// example WithDelay) uniformly across the whole batch.
func (q *Queue) SendBatch(ctx context.Context, bodies [][]byte, opts ...SendOption) (*SendHandle, error) {
	var cfg sendConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(bodies) == 0 {
		return &SendHandle{queue: q}, nil
	}

	msgs := make([]store.PublishMessage, len(bodies))
	messageIDs := make([]uuid.UUID, len(bodies))
	for i, body := range bodies {
		id := ids.New()
		messageIDs[i] = id
		msgs[i] = store.PublishMessage{ID: id, Body: body, Delay: cfg.delay}
	}

	if err := q.store.Publish(ctx, q.name, msgs); err != nil {
		return nil, wrapStorage(err, "send %d message(s) to %q", len(bodies), q.name)
	}

	if q.metrics != nil {
		q.metrics.RecordPublished(q.name, len(bodies))
	}
	q.logger.Debug().Int("count", len(bodies)).Msg("published messages")

	return &SendHandle{queue: q, ids: messageIDs}, nil
}
