package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joomcode/errorx"
)

// PgxStore is a pgxpool-backed Store. It never holds a dedicated
// connection itself — one round trip, one pool acquisition — the
// notification listener (internal/notify) owns the dedicated connection
// LISTEN requires.
type PgxStore struct {
	pool *pgxpool.Pool
}

// NewPgxStore wraps an already-connected pool.
func NewPgxStore(pool *pgxpool.Pool) *PgxStore {
	return &PgxStore{pool: pool}
}

func (s *PgxStore) CreateQueue(ctx context.Context, name string, cfg QueueConfig) error {
	_, err := s.pool.Exec(ctx, createQueueSQL, name, cfg.AckDeadline, cfg.RetentionPeriod, cfg.MaxDeliveryAttempts)
	if err != nil {
		return errorx.Decorate(err, "create queue %q", name)
	}
	return nil
}

func (s *PgxStore) GetQueueInfo(ctx context.Context, name string) (QueueInfo, error) {
	var info QueueInfo
	var ackDeadlineSeconds, retentionPeriodSeconds float64
	err := s.pool.QueryRow(ctx, lookupQueueSQL, name).Scan(
		&info.ID, &info.Name, &ackDeadlineSeconds, &retentionPeriodSeconds, &info.MaxDeliveryAttempts,
	)
	if err == pgx.ErrNoRows {
		return QueueInfo{}, errorx.Decorate(ErrQueueNotFound, "look up queue %q", name)
	}
	if err != nil {
		return QueueInfo{}, errorx.Decorate(err, "look up queue %q", name)
	}
	info.AckDeadline = time.Duration(ackDeadlineSeconds * float64(time.Second))
	info.RetentionPeriod = time.Duration(retentionPeriodSeconds * float64(time.Second))
	return info, nil
}

func (s *PgxStore) Publish(ctx context.Context, queueName string, messages []PublishMessage) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errorx.Decorate(err, "begin publish tx for %q", queueName)
	}
	defer tx.Rollback(ctx)

	for _, m := range messages {
		var ok int
		row := tx.QueryRow(ctx, publishSQL, queueName, m.ID, m.Body, nonZeroInterval(m.Delay))
		if err := row.Scan(&ok); err != nil {
			if err == pgx.ErrNoRows {
				return errorx.Decorate(ErrQueueNotFound, "publish to %q", queueName)
			}
			return errorx.Decorate(err, "publish message %s to %q", m.ID, queueName)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errorx.Decorate(err, "commit publish tx for %q", queueName)
	}
	return nil
}

func nonZeroInterval(d time.Duration) *time.Duration {
	if d <= 0 {
		return nil
	}
	return &d
}

func (s *PgxStore) Poll(ctx context.Context, queueName string, batchSize int, fifo bool) ([]Message, error) {
	query := pollSQL
	if fifo {
		query = pollSQLFifo
	}
	rows, err := s.pool.Query(ctx, query, queueName, batchSize)
	if err != nil {
		return nil, errorx.Decorate(err, "poll %q", queueName)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.NextAckDeadline, &m.Body); err != nil {
			return nil, errorx.Decorate(err, "scan poll row for %q", queueName)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errorx.Decorate(err, "poll %q", queueName)
	}
	return out, nil
}

func (s *PgxStore) Ack(ctx context.Context, queueName string, jobID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, ackSQL, queueName, jobID); err != nil {
		return errorx.Decorate(err, "ack %s on %q", jobID, queueName)
	}
	return nil
}

func (s *PgxStore) Nack(ctx context.Context, queueName string, jobID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, nackSQL, queueName, jobID); err != nil {
		return errorx.Decorate(err, "nack %s on %q", jobID, queueName)
	}
	return nil
}

func (s *PgxStore) ExtendDeadline(ctx context.Context, queueName string, jobID uuid.UUID) (time.Time, bool, error) {
	var next time.Time
	err := s.pool.QueryRow(ctx, extendDeadlineSQL, queueName, jobID).Scan(&next)
	if err == pgx.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errorx.Decorate(err, "extend deadline for %s on %q", jobID, queueName)
	}
	return next, true, nil
}

func (s *PgxStore) Statistics(ctx context.Context, queueName string) (Statistics, error) {
	var stats Statistics
	err := s.pool.QueryRow(ctx, statisticsSQL, queueName).Scan(&stats.Total, &stats.Undelivered)
	if err != nil {
		return Statistics{}, errorx.Decorate(err, "statistics for %q", queueName)
	}
	return stats, nil
}

func (s *PgxStore) ExistingIDs(ctx context.Context, queueName string, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]bool{}, nil
	}
	rows, err := s.pool.Query(ctx, existingIDsSQL, queueName, ids)
	if err != nil {
		return nil, errorx.Decorate(err, "existing ids for %q", queueName)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]bool, len(ids))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errorx.Decorate(err, "scan existing id for %q", queueName)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// Close is a no-op: the pool was supplied by the caller at construction
// and remains theirs to close.
func (s *PgxStore) Close() error {
	return nil
}
