// Package notify holds one dedicated connection per queue façade,
// LISTENing on pgjobq's two channels and fanning events out to bounded,
// lossy, in-process subscriptions. Consumers must treat every event as
// a hint: the authoritative state always lives in the messages table.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind distinguishes the two channels pgjobq notifies on.
type Kind int

const (
	NewJob Kind = iota
	JobCompleted
)

const (
	channelNewJob       = "pgjobq.new_job"
	channelJobCompleted = "pgjobq.job_completed"

	// eventBufferSize bounds each subscription's channel; a slow consumer
	// drops events rather than stalling the LISTEN connection.
	eventBufferSize = 16

	minReconnectBackoff = 100 * time.Millisecond
	maxReconnectBackoff = time.Minute
)

// Event is one best-effort notification. JobID is the zero UUID for
// NewJob events.
type Event struct {
	Kind      Kind
	QueueName string
	JobID     uuid.UUID
}

// conn is the minimal surface a dedicated LISTEN connection needs,
// implemented separately for pgx and database/sql+lib/pq backends.
type conn interface {
	listen(ctx context.Context, channel string) error
	waitForNotification(ctx context.Context) (channel, payload string, err error)
	close()
}

// Dialer opens a fresh dedicated connection, used on first start and
// again on every reconnect after connection loss.
type Dialer func(ctx context.Context) (conn, error)

// Subscriber owns one dedicated connection and multiplexes its two
// channels to any number of in-process subscriptions.
type Subscriber struct {
	dial   Dialer
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[string][]*subscription // keyed by queueName+kind

	cancel context.CancelFunc
	done   chan struct{}
}

type subscription struct {
	queueName string
	kind      Kind
	ch        chan Event
}

// Start dials the dedicated connection, issues both LISTENs, and begins
// the fan-out loop in the background. Returns once the first connection
// attempt succeeds so callers can surface a clear startup error.
func Start(ctx context.Context, logger zerolog.Logger, dial Dialer) (*Subscriber, error) {
	c, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := listenBoth(ctx, c); err != nil {
		c.close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		dial:   dial,
		logger: logger,
		subs:   make(map[string][]*subscription),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(runCtx, c)
	return s, nil
}

func listenBoth(ctx context.Context, c conn) error {
	if err := c.listen(ctx, channelNewJob); err != nil {
		return err
	}
	return c.listen(ctx, channelJobCompleted)
}

// Subscribe returns a bounded lossy stream of events for queueName/kind
// and an unsubscribe function. The caller must call unsubscribe when
// done to stop the channel from being written to after it's abandoned.
func (s *Subscriber) Subscribe(queueName string, kind Kind) (<-chan Event, func()) {
	sub := &subscription{queueName: queueName, kind: kind, ch: make(chan Event, eventBufferSize)}
	key := subKey(queueName, kind)

	s.mu.Lock()
	s.subs[key] = append(s.subs[key], sub)
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[key]
		for i, existing := range list {
			if existing == sub {
				s.subs[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	return sub.ch, unsubscribe
}

// WaitForAny is sugar over Subscribe for a single event matching kind.
func (s *Subscriber) WaitForAny(ctx context.Context, queueName string, kind Kind, timeout time.Duration) (Event, bool) {
	ch, unsubscribe := s.Subscribe(queueName, kind)
	defer unsubscribe()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case ev := <-ch:
		return ev, true
	case <-timeoutCh:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

func (s *Subscriber) dispatch(ev Event) {
	s.mu.Lock()
	list := s.subs[subKey(ev.QueueName, ev.Kind)]
	// copy under lock, send outside it
	targets := make([]*subscription, len(list))
	copy(targets, list)
	s.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		default:
			// Drop-oldest: make room then retry once, best-effort.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

func (s *Subscriber) run(ctx context.Context, c conn) {
	defer close(s.done)
	backoff := minReconnectBackoff

	for {
		channel, payload, err := c.waitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.close()
				return
			}
			s.logger.Warn().Err(err).Msg("notification connection lost, reconnecting")
			c.close()

			c, err = s.reconnect(ctx, &backoff)
			if err != nil {
				return // ctx cancelled during reconnect loop
			}
			continue
		}
		backoff = minReconnectBackoff

		ev, ok := parseEvent(channel, payload)
		if !ok {
			continue
		}
		s.dispatch(ev)
	}
}

func (s *Subscriber) reconnect(ctx context.Context, backoff *time.Duration) (conn, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(*backoff):
		}
		*backoff *= 2
		if *backoff > maxReconnectBackoff {
			*backoff = maxReconnectBackoff
		}

		c, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("reconnect attempt failed")
			continue
		}
		if err := listenBoth(ctx, c); err != nil {
			c.close()
			s.logger.Warn().Err(err).Msg("re-subscribing after reconnect failed")
			continue
		}
		return c, nil
	}
}

// Close stops the fan-out loop and releases the dedicated connection.
func (s *Subscriber) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func subKey(queueName string, kind Kind) string {
	if kind == NewJob {
		return queueName + "|new_job"
	}
	return queueName + "|job_completed"
}

func parseEvent(channel, payload string) (Event, bool) {
	switch channel {
	case channelNewJob:
		return Event{Kind: NewJob, QueueName: payload}, true
	case channelJobCompleted:
		idx := strings.LastIndexByte(payload, ',')
		if idx < 0 {
			return Event{}, false
		}
		queueName := payload[:idx]
		id, err := uuid.Parse(payload[idx+1:])
		if err != nil {
			return Event{}, false
		}
		return Event{Kind: JobCompleted, QueueName: queueName, JobID: id}, true
	default:
		return Event{}, false
	}
}
