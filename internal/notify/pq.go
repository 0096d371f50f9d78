package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// pqMinReconnect/pqMaxReconnect bound lib/pq's own internal reconnect
// loop; kept separate from the Subscriber-level backoff above it, which
// governs re-dialing a brand new *pq.Listener after Close.
const (
	pqMinReconnect = 10 * time.Second
	pqMaxReconnect = time.Minute
)

type pqConn struct {
	listener *pq.Listener
}

// DialPQ returns a Dialer backed by a lib/pq Listener, for callers
// standardized on database/sql rather than pgx.
func DialPQ(connStr string) Dialer {
	return func(ctx context.Context) (conn, error) {
		errCh := make(chan error, 1)
		listener := pq.NewListener(connStr, pqMinReconnect, pqMaxReconnect, func(ev pq.ListenerEventType, err error) {
			if ev == pq.ListenerEventConnectionAttemptFailed {
				select {
				case errCh <- err:
				default:
				}
			}
		})
		select {
		case err := <-errCh:
			listener.Close()
			return nil, fmt.Errorf("dial lib/pq listener: %w", err)
		case <-time.After(50 * time.Millisecond):
			// lib/pq dials in the background after NewListener returns;
			// this gives the event callback a short window to report an
			// immediate failure.
		}
		return &pqConn{listener: listener}, nil
	}
}

func (c *pqConn) listen(ctx context.Context, channel string) error {
	return c.listener.Listen(channel)
}

func (c *pqConn) waitForNotification(ctx context.Context) (string, string, error) {
	select {
	case n, ok := <-c.listener.Notify:
		if !ok {
			return "", "", fmt.Errorf("lib/pq listener closed")
		}
		if n == nil {
			// lib/pq sends a nil notification after it resubscribes
			// following an internal reconnect; treat it as a no-op tick.
			return "", "", nil
		}
		return n.Channel, n.Extra, nil
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

func (c *pqConn) close() {
	_ = c.listener.Close()
}
