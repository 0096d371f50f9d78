package pgjobq

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odiseo0/pgjobq/internal/metrics"
	"github.com/odiseo0/pgjobq/internal/store"
)

type jobState int

const (
	jobPending jobState = iota
	jobAcquired
	jobDone
)

// Job is the payload and identity handed to a Receive handler.
type Job struct {
	ID   uuid.UUID
	Body []byte
}

// JobHandle is the lease-backed control surface for one delivered
// message. Acquire is the only legal way to do work against it: it
// guarantees the underlying row is acked on success and nacked on
// failure, and that the final ack/nack round trip completes even if the
// caller's context is cancelled mid-handler.
type JobHandle struct {
	job     Job
	queue   string
	st      store.Store
	logger  zerolog.Logger
	metrics *metrics.Recorder

	renewalMargin   float64
	finalizeTimeout time.Duration
	onDone          func(uuid.UUID)

	mu       sync.Mutex
	state    jobState
	deadline time.Time
	released bool

	renewerCancel context.CancelFunc
	renewerDone   chan struct{}
}

func newJobHandle(job Job, queue string, deadline time.Time, st store.Store, logger zerolog.Logger, rec *metrics.Recorder, renewalMargin float64, finalizeTimeout time.Duration, onDone func(uuid.UUID)) *JobHandle {
	return &JobHandle{
		job:             job,
		queue:           queue,
		st:              st,
		logger:          logger.With().Str("job_id", job.ID.String()).Logger(),
		metrics:         rec,
		renewalMargin:   renewalMargin,
		finalizeTimeout: finalizeTimeout,
		onDone:          onDone,
		deadline:        deadline,
	}
}

// ID returns the message id this handle leases.
func (h *JobHandle) ID() uuid.UUID { return h.job.ID }

// Body returns the message payload.
func (h *JobHandle) Body() []byte { return h.job.Body }

// Acquire runs fn against the leased job, extending the lease in the
// background for as long as fn runs. On fn returning nil the message is
// acked; on any other return (including a panic recovered and
// re-raised) it is nacked so another receiver can retry it. Acquire
// itself returns ErrAlreadyProcessing, ErrAlreadyCompleted, or
// ErrNoLongerAvailable without running fn when the handle can't be
// acquired.
func (h *JobHandle) Acquire(ctx context.Context, fn func(context.Context, *Job) error) (err error) {
	if beginErr := h.begin(); beginErr != nil {
		return beginErr
	}
	h.startRenewer()

	defer func() {
		h.stopRenewer()
		if r := recover(); r != nil {
			h.finalize(ctx, errPanic)
			panic(r)
		}
	}()

	runErr := fn(ctx, &h.job)
	return h.finalize(ctx, runErr)
}

func (h *JobHandle) begin() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrNoLongerAvailable
	}
	switch h.state {
	case jobAcquired:
		return ErrAlreadyProcessing
	case jobDone:
		return ErrAlreadyCompleted
	}
	h.state = jobAcquired
	return nil
}

// markReleased tells a still-pending handle its receive session has
// exited. It reports whether the handle was actually pending — a
// handle already being processed finishes on its own terms.
func (h *JobHandle) markReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != jobPending || h.released {
		return false
	}
	h.released = true
	return true
}

func (h *JobHandle) startRenewer() {
	ctx, cancel := context.WithCancel(context.Background())
	h.renewerCancel = cancel
	h.renewerDone = make(chan struct{})
	go h.renew(ctx)
}

func (h *JobHandle) stopRenewer() {
	h.renewerCancel()
	<-h.renewerDone
}

// renew extends the lease at renewalMargin of the remaining time before
// each deadline, so a slow handler never loses its row to another
// poller while still making progress.
func (h *JobHandle) renew(ctx context.Context) {
	defer close(h.renewerDone)

	for {
		h.mu.Lock()
		remaining := time.Until(h.deadline)
		h.mu.Unlock()

		wait := time.Duration(float64(remaining) * (1 - h.renewalMargin))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		next, ok, err := h.st.ExtendDeadline(ctx, h.queue, h.job.ID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Warn().Err(err).Msg("extend deadline failed, retrying")
			continue
		}
		if !ok {
			return
		}
		h.mu.Lock()
		h.deadline = next
		h.mu.Unlock()
	}
}

func (h *JobHandle) finalize(ctx context.Context, runErr error) error {
	h.mu.Lock()
	h.state = jobDone
	h.mu.Unlock()
	if h.onDone != nil {
		defer h.onDone(h.job.ID)
	}

	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.finalizeTimeout)
	defer cancel()

	if runErr == nil {
		if err := h.st.Ack(finalizeCtx, h.queue, h.job.ID); err != nil {
			return wrapStorage(err, "ack %s on %q", h.job.ID, h.queue)
		}
		if h.metrics != nil {
			h.metrics.RecordAcked(h.queue)
		}
		return nil
	}

	if nackErr := h.st.Nack(finalizeCtx, h.queue, h.job.ID); nackErr != nil {
		h.logger.Warn().Err(nackErr).Msg("nack failed after handler error")
	} else if h.metrics != nil {
		h.metrics.RecordNacked(h.queue)
	}
	return runErr
}
