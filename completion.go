package pgjobq

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odiseo0/pgjobq/internal/notify"
	"github.com/odiseo0/pgjobq/internal/store"
)

// CompletionWaiter blocks a caller until a fixed set of message ids has
// left the queue, combining pgjobq.job_completed notifications with a
// periodic existence poll — notifications are best-effort, so the poll
// is what makes completion eventually observable even if every
// notification for a batch is lost.
type CompletionWaiter struct {
	queue        string
	ids          []uuid.UUID
	st           store.Store
	sub          *notify.Subscriber
	logger       zerolog.Logger
	pollInterval time.Duration
}

func newCompletionWaiter(queue string, ids []uuid.UUID, st store.Store, sub *notify.Subscriber, logger zerolog.Logger, pollInterval time.Duration) *CompletionWaiter {
	return &CompletionWaiter{
		queue:        queue,
		ids:          ids,
		st:           st,
		sub:          sub,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// Wait blocks until every id this waiter was built with has completed,
// or ctx is done.
func (w *CompletionWaiter) Wait(ctx context.Context) error {
	pending := make(map[uuid.UUID]struct{}, len(w.ids))
	for _, id := range w.ids {
		pending[id] = struct{}{}
	}
	if len(pending) == 0 {
		return nil
	}

	if err := w.dropCompleted(ctx, pending); err != nil {
		return wrapStorage(err, "check completion for %q", w.queue)
	}
	if len(pending) == 0 {
		return nil
	}

	ch, unsubscribe := w.sub.Subscribe(w.queue, notify.JobCompleted)
	defer unsubscribe()

	// pollInterval <= 0 means "rely on notifications alone past the
	// initial check" rather than the busy-loop time.NewTicker would
	// panic trying to build.
	var tickerC <-chan time.Time
	if w.pollInterval > 0 {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ch:
			delete(pending, ev.JobID)
			if len(pending) == 0 {
				return nil
			}
		case <-tickerC:
			if err := w.dropCompleted(ctx, pending); err != nil {
				w.logger.Warn().Err(err).Msg("completion poll failed, will retry")
				continue
			}
			if len(pending) == 0 {
				return nil
			}
		}
	}
}

func (w *CompletionWaiter) dropCompleted(ctx context.Context, pending map[uuid.UUID]struct{}) error {
	outstanding := make([]uuid.UUID, 0, len(pending))
	for id := range pending {
		outstanding = append(outstanding, id)
	}
	existing, err := w.st.ExistingIDs(ctx, w.queue, outstanding)
	if err != nil {
		return err
	}
	for id := range pending {
		if !existing[id] {
			delete(pending, id)
		}
	}
	return nil
}
