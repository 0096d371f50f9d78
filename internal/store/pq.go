package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joomcode/errorx"
	"github.com/lib/pq"
)

// SQLStore is a database/sql-backed Store for callers already
// standardized on lib/pq rather than pgx.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an already-opened *sql.DB.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) CreateQueue(ctx context.Context, name string, cfg QueueConfig) error {
	_, err := s.db.ExecContext(ctx, createQueueSQL, name, intervalLiteral(cfg.AckDeadline), intervalLiteral(cfg.RetentionPeriod), cfg.MaxDeliveryAttempts)
	if err != nil {
		return errorx.Decorate(err, "create queue %q", name)
	}
	return nil
}

func (s *SQLStore) GetQueueInfo(ctx context.Context, name string) (QueueInfo, error) {
	var info QueueInfo
	var ackDeadlineSeconds, retentionPeriodSeconds float64
	row := s.db.QueryRowContext(ctx, lookupQueueSQL, name)
	if err := row.Scan(&info.ID, &info.Name, &ackDeadlineSeconds, &retentionPeriodSeconds, &info.MaxDeliveryAttempts); err != nil {
		if err == sql.ErrNoRows {
			return QueueInfo{}, errorx.Decorate(ErrQueueNotFound, "look up queue %q", name)
		}
		return QueueInfo{}, errorx.Decorate(err, "look up queue %q", name)
	}
	info.AckDeadline = time.Duration(ackDeadlineSeconds * float64(time.Second))
	info.RetentionPeriod = time.Duration(retentionPeriodSeconds * float64(time.Second))
	return info, nil
}

func (s *SQLStore) Publish(ctx context.Context, queueName string, messages []PublishMessage) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errorx.Decorate(err, "begin publish tx for %q", queueName)
	}
	defer tx.Rollback()

	for _, m := range messages {
		var ok int
		row := tx.QueryRowContext(ctx, publishSQL, queueName, m.ID.String(), m.Body, nonZeroIntervalString(m.Delay))
		if err := row.Scan(&ok); err != nil {
			if err == sql.ErrNoRows {
				return errorx.Decorate(ErrQueueNotFound, "publish to %q", queueName)
			}
			return errorx.Decorate(err, "publish message %s to %q", m.ID, queueName)
		}
	}
	if err := tx.Commit(); err != nil {
		return errorx.Decorate(err, "commit publish tx for %q", queueName)
	}
	return nil
}

// intervalLiteral renders d the way Postgres's interval input parser
// wants it; lib/pq has no driver.Valuer for time.Duration the way pgx's
// type registry does.
func intervalLiteral(d time.Duration) string {
	return fmt.Sprintf("%f seconds", d.Seconds())
}

// nonZeroIntervalString mirrors nonZeroInterval for the lib/pq driver.
func nonZeroIntervalString(d time.Duration) interface{} {
	if d <= 0 {
		return nil
	}
	return intervalLiteral(d)
}

func (s *SQLStore) Poll(ctx context.Context, queueName string, batchSize int, fifo bool) ([]Message, error) {
	query := pollSQL
	if fifo {
		query = pollSQLFifo
	}
	rows, err := s.db.QueryContext(ctx, query, queueName, batchSize)
	if err != nil {
		return nil, errorx.Decorate(err, "poll %q", queueName)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var id string
		var m Message
		if err := rows.Scan(&id, &m.NextAckDeadline, &m.Body); err != nil {
			return nil, errorx.Decorate(err, "scan poll row for %q", queueName)
		}
		if m.ID, err = uuid.Parse(id); err != nil {
			return nil, errorx.Decorate(err, "parse poll row id for %q", queueName)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errorx.Decorate(err, "poll %q", queueName)
	}
	return out, nil
}

func (s *SQLStore) Ack(ctx context.Context, queueName string, jobID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, ackSQL, queueName, jobID.String()); err != nil {
		return errorx.Decorate(err, "ack %s on %q", jobID, queueName)
	}
	return nil
}

func (s *SQLStore) Nack(ctx context.Context, queueName string, jobID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, nackSQL, queueName, jobID.String()); err != nil {
		return errorx.Decorate(err, "nack %s on %q", jobID, queueName)
	}
	return nil
}

func (s *SQLStore) ExtendDeadline(ctx context.Context, queueName string, jobID uuid.UUID) (time.Time, bool, error) {
	var next time.Time
	err := s.db.QueryRowContext(ctx, extendDeadlineSQL, queueName, jobID.String()).Scan(&next)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errorx.Decorate(err, "extend deadline for %s on %q", jobID, queueName)
	}
	return next, true, nil
}

func (s *SQLStore) Statistics(ctx context.Context, queueName string) (Statistics, error) {
	var stats Statistics
	err := s.db.QueryRowContext(ctx, statisticsSQL, queueName).Scan(&stats.Total, &stats.Undelivered)
	if err != nil {
		return Statistics{}, errorx.Decorate(err, "statistics for %q", queueName)
	}
	return stats, nil
}

func (s *SQLStore) ExistingIDs(ctx context.Context, queueName string, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]bool{}, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	rows, err := s.db.QueryContext(ctx, existingIDsSQL, queueName, pq.Array(strIDs))
	if err != nil {
		return nil, errorx.Decorate(err, "existing ids for %q", queueName)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]bool, len(ids))
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errorx.Decorate(err, "scan existing id for %q", queueName)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, errorx.Decorate(err, "parse existing id for %q", queueName)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// Close is a no-op: the *sql.DB was supplied by the caller and remains
// theirs to close.
func (s *SQLStore) Close() error {
	return nil
}
