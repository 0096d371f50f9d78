package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxConn struct {
	conn *pgxpool.Conn
}

// DialPgx returns a Dialer that acquires one dedicated connection from
// pool for the lifetime of the Subscriber. The connection is never
// released back to the pool while the subscriber holds it.
func DialPgx(pool *pgxpool.Pool) Dialer {
	return func(ctx context.Context) (conn, error) {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire dedicated notification connection: %w", err)
		}
		return &pgxConn{conn: c}, nil
	}
}

func (c *pgxConn) listen(ctx context.Context, channel string) error {
	_, err := c.conn.Exec(ctx, fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize()))
	return err
}

func (c *pgxConn) waitForNotification(ctx context.Context) (string, string, error) {
	n, err := c.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", "", err
	}
	return n.Channel, n.Payload, nil
}

func (c *pgxConn) close() {
	c.conn.Release()
}
