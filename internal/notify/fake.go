package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// NewFake builds a Subscriber with no real database connection, for
// tests that exercise subscription fan-out without a listener. The
// returned function injects an event as if it had arrived over the
// wire.
func NewFake() (*Subscriber, func(Event)) {
	s := &Subscriber{
		dial:   func(ctx context.Context) (conn, error) { return nil, context.Canceled },
		logger: zerolog.Nop(),
		subs:   make(map[string][]*subscription),
		cancel: func() {},
		done:   make(chan struct{}),
	}
	close(s.done)
	return s, s.dispatch
}
