// Package pgjobq is a Postgres-backed job queue client library providing
// durable, at-least-once, lease-based delivery with delayed send,
// FIFO/unordered dispatch, batched publish, and producer completion
// waiting, driven by LISTEN/NOTIFY wake-up on top of SELECT ... FOR
// UPDATE SKIP LOCKED polling.
package pgjobq

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/odiseo0/pgjobq/internal/metrics"
	"github.com/odiseo0/pgjobq/internal/notify"
	"github.com/odiseo0/pgjobq/internal/store"
)

// Pool is satisfied by *pgxpool.Pool or *sql.DB. CreateQueue and
// ConnectToQueue resolve it to a concrete Store/notification backend by
// type switch, so callers on either driver share the same public API.
type Pool interface{}

// QueueStatistics reports a queue's current size.
type QueueStatistics struct {
	Total       int
	Undelivered int
}

// QueueInfo reports a queue's configured tunables as stored in
// pgjobq.queues.
type QueueInfo struct {
	ID                  int64
	Name                string
	AckDeadline         time.Duration
	RetentionPeriod     time.Duration
	MaxDeliveryAttempts int
}

// CreateQueue creates a queue by name if it doesn't already exist. It
// does not create the underlying pgjobq.queues/pgjobq.messages tables —
// see the schema package for that.
func CreateQueue(ctx context.Context, name string, pool Pool, opts ...QueueOption) error {
	cfg := defaultQueueConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := resolveStore(pool)
	if err != nil {
		return err
	}
	defer st.Close()

	err = st.CreateQueue(ctx, name, store.QueueConfig{
		AckDeadline:         cfg.ackDeadline,
		RetentionPeriod:     cfg.retentionPeriod,
		MaxDeliveryAttempts: cfg.maxDeliveryAttempts,
	})
	if err != nil {
		return wrapStorage(err, "create queue %q", name)
	}
	return nil
}

// Queue is a connected handle to one named queue: a Store for data
// access, a Subscriber for best-effort wake-up, a logger, and an
// optional metrics Recorder.
type Queue struct {
	name    string
	store   store.Store
	sub     *notify.Subscriber
	logger  zerolog.Logger
	metrics *metrics.Recorder

	renewalMargin   float64
	finalizeTimeout time.Duration

	closeOnce sync.Once
}

// ConnectToQueue opens a Queue backed by pool, dialing a dedicated
// LISTEN connection for notifications. Callers keep ownership of pool;
// Close never closes it.
func ConnectToQueue(ctx context.Context, name string, pool Pool, opts ...ConnectOption) (*Queue, error) {
	cfg := defaultConnectConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := resolveStore(pool)
	if err != nil {
		return nil, err
	}

	logger := zerolog.Nop().With().Str("queue", name).Logger()

	dial, err := resolveDialer(pool, cfg.pqConnStr)
	if err != nil {
		st.Close()
		return nil, err
	}
	sub, err := notify.Start(ctx, logger, dial)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("start notification subscriber for %q: %w", name, err)
	}

	q := &Queue{
		name:            name,
		store:           st,
		sub:             sub,
		logger:          logger,
		renewalMargin:   cfg.renewalMargin,
		finalizeTimeout: cfg.finalizeTimeout,
	}
	if cfg.metricsEnabled {
		q.metrics = metrics.New(cfg.metricsNamespace)
	}
	return q, nil
}

// WithLogger replaces the Queue's logger. Call it right after
// ConnectToQueue, before Send/Receive are used concurrently.
func (q *Queue) WithLogger(logger zerolog.Logger) *Queue {
	q.logger = logger.With().Str("queue", q.name).Logger()
	return q
}

// Metrics returns the Queue's Prometheus recorder, or nil if WithMetrics
// wasn't passed to ConnectToQueue.
func (q *Queue) Metrics() *metrics.Recorder {
	return q.metrics
}

// GetStatistics reports the queue's current total and undelivered
// message counts, opportunistically refreshing the metrics gauge if one
// is configured.
func (q *Queue) GetStatistics(ctx context.Context) (QueueStatistics, error) {
	stats, err := q.store.Statistics(ctx, q.name)
	if err != nil {
		return QueueStatistics{}, wrapStorage(err, "statistics for %q", q.name)
	}
	if q.metrics != nil {
		q.metrics.SetDepth(q.name, stats.Total, stats.Undelivered)
	}
	return QueueStatistics{Total: stats.Total, Undelivered: stats.Undelivered}, nil
}

// Info reports the queue's configured tunables as stored in
// pgjobq.queues.
func (q *Queue) Info(ctx context.Context) (QueueInfo, error) {
	info, err := q.store.GetQueueInfo(ctx, q.name)
	if err != nil {
		return QueueInfo{}, wrapStorage(err, "queue info for %q", q.name)
	}
	return QueueInfo{
		ID:                  info.ID,
		Name:                info.Name,
		AckDeadline:         info.AckDeadline,
		RetentionPeriod:     info.RetentionPeriod,
		MaxDeliveryAttempts: info.MaxDeliveryAttempts,
	}, nil
}

// WaitForCompletion returns a waiter for the given message ids; call
// Wait on it to actually block. Kept separate from Wait so callers can
// fan out multiple waits before blocking on any of them. Equivalent to
// WaitForCompletionBatch with no options.
func (q *Queue) WaitForCompletion(ctx context.Context, ids ...uuid.UUID) (*CompletionWaiter, error) {
	return q.WaitForCompletionBatch(ctx, ids)
}

// WaitForCompletionBatch is WaitForCompletion with room for options such
// as WithCompletionPollInterval.
func (q *Queue) WaitForCompletionBatch(ctx context.Context, ids []uuid.UUID, opts ...CompletionOption) (*CompletionWaiter, error) {
	cfg := defaultCompletionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newCompletionWaiter(q.name, ids, q.store, q.sub, q.logger, cfg.pollInterval), nil
}

// Close releases the Queue's dedicated notification connection. The
// caller's connection pool is left open.
func (q *Queue) Close(ctx context.Context) error {
	var err error
	q.closeOnce.Do(func() {
		err = q.sub.Close()
		_ = q.store.Close()
	})
	return err
}

func resolveStore(pool Pool) (store.Store, error) {
	switch p := pool.(type) {
	case *pgxpool.Pool:
		return store.NewPgxStore(p), nil
	case *sql.DB:
		return store.NewSQLStore(p), nil
	default:
		return nil, fmt.Errorf("pgjobq: unsupported pool type %T, want *pgxpool.Pool or *sql.DB", pool)
	}
}

func resolveDialer(pool Pool, pqConnStr string) (notify.Dialer, error) {
	switch p := pool.(type) {
	case *pgxpool.Pool:
		return notify.DialPgx(p), nil
	case *sql.DB:
		if pqConnStr == "" {
			return nil, fmt.Errorf("pgjobq: WithConnectionString is required when connecting with a *sql.DB")
		}
		return notify.DialPQ(pqConnStr), nil
	default:
		return nil, fmt.Errorf("pgjobq: unsupported pool type %T, want *pgxpool.Pool or *sql.DB", pool)
	}
}
