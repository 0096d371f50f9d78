package pgjobq

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odiseo0/pgjobq/internal/notify"
)

// ReceiveSession polls a queue and delivers JobHandles over Handles()
// until Close is called or its context ends. Delivered-but-unacquired
// handles are nacked on Close so another session can pick them up
// immediately rather than waiting out their lease.
type ReceiveSession struct {
	queue *Queue
	cfg   receiveConfig

	out    chan *JobHandle
	cancel context.CancelFunc
	g      *errgroup.Group

	mu       sync.Mutex
	inflight map[uuid.UUID]*JobHandle
}

// Receive starts a new poll loop against the queue. Close the returned
// session when done; abandoning it leaks the poll goroutine.
func (q *Queue) Receive(ctx context.Context, opts ...ReceiveOption) (*ReceiveSession, error) {
	cfg := defaultReceiveConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.batchSize < 1 {
		cfg.batchSize = 1
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(sessionCtx)

	rs := &ReceiveSession{
		queue:    q,
		cfg:      cfg,
		out:      make(chan *JobHandle),
		cancel:   cancel,
		g:        g,
		inflight: make(map[uuid.UUID]*JobHandle),
	}
	g.Go(func() error { return rs.pollLoop(gctx) })
	return rs, nil
}

// Handles returns the channel JobHandles are delivered on. It is closed
// once the poll loop exits.
func (rs *ReceiveSession) Handles() <-chan *JobHandle {
	return rs.out
}

func (rs *ReceiveSession) pollLoop(ctx context.Context) error {
	defer close(rs.out)

	newJob, unsubscribe := rs.queue.sub.Subscribe(rs.queue.name, notify.NewJob)
	defer unsubscribe()

	// pollInterval <= 0 means "never wait on a ticker, only on a
	// notification" rather than the busy-loop time.NewTicker would
	// panic trying to build; tickerC stays permanently empty in that
	// case so the select below just falls through to newJob/ctx.Done.
	var tickerC <-chan time.Time
	if rs.cfg.pollInterval > 0 {
		ticker := time.NewTicker(rs.cfg.pollInterval)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	for {
		start := time.Now()
		messages, err := rs.queue.store.Poll(ctx, rs.queue.name, rs.cfg.batchSize, rs.cfg.fifo)
		if rs.queue.metrics != nil {
			rs.queue.metrics.ObservePoll(rs.queue.name, time.Since(start))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			rs.queue.logger.Warn().Err(err).Msg("poll failed, will retry")
		}

		for _, m := range messages {
			handle := newJobHandle(
				Job{ID: m.ID, Body: m.Body},
				rs.queue.name,
				m.NextAckDeadline,
				rs.queue.store,
				rs.queue.logger,
				rs.queue.metrics,
				rs.queue.renewalMargin,
				rs.queue.finalizeTimeout,
				rs.untrack,
			)
			rs.track(handle)

			select {
			case rs.out <- handle:
			case <-ctx.Done():
				rs.releaseOnExit(handle)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-newJob:
		case <-tickerC:
		}
	}
}

func (rs *ReceiveSession) track(h *JobHandle) {
	rs.mu.Lock()
	rs.inflight[h.ID()] = h
	rs.mu.Unlock()
}

func (rs *ReceiveSession) untrack(id uuid.UUID) {
	rs.mu.Lock()
	delete(rs.inflight, id)
	rs.mu.Unlock()
}

func (rs *ReceiveSession) releaseOnExit(h *JobHandle) {
	if h.markReleased() {
		ctx, cancel := context.WithTimeout(context.Background(), rs.queue.finalizeTimeout)
		defer cancel()
		if err := rs.queue.store.Nack(ctx, rs.queue.name, h.ID()); err != nil {
			rs.queue.logger.Warn().Err(err).Msg("nack on session exit failed")
		}
	}
}

// Close stops the poll loop, nacks every delivered-but-unacquired
// handle so they become immediately redeliverable, and waits for the
// poll goroutine to exit.
func (rs *ReceiveSession) Close() error {
	rs.cancel()
	err := rs.g.Wait()

	rs.mu.Lock()
	pending := make([]*JobHandle, 0, len(rs.inflight))
	for _, h := range rs.inflight {
		pending = append(pending, h)
	}
	rs.mu.Unlock()
	for _, h := range pending {
		rs.releaseOnExit(h)
	}

	return err
}
