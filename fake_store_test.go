package pgjobq

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odiseo0/pgjobq/internal/notify"
	"github.com/odiseo0/pgjobq/internal/store"
)

// fakeStore is an in-memory store.Store used to exercise the
// handle/session/tracker state machines without a real Postgres
// instance. It reimplements just enough of the CTE semantics in
// internal/store/sql.go to be a faithful stand-in: delivery attempts
// are decremented on Poll, Nack makes a row immediately re-pollable,
// and Ack removes it.
type fakeStore struct {
	mu       sync.Mutex
	queues   map[string]store.QueueConfig
	messages map[string]map[uuid.UUID]*fakeMessage
	order    map[string][]uuid.UUID
}

type fakeMessage struct {
	body                      []byte
	availableAt               time.Time
	expiresAt                 time.Time
	deliveryAttemptsRemaining int
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		queues:   make(map[string]store.QueueConfig),
		messages: make(map[string]map[uuid.UUID]*fakeMessage),
		order:    make(map[string][]uuid.UUID),
	}
}

func (f *fakeStore) CreateQueue(ctx context.Context, name string, cfg store.QueueConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queues[name]; ok {
		return nil
	}
	f.queues[name] = cfg
	f.messages[name] = make(map[uuid.UUID]*fakeMessage)
	return nil
}

func (f *fakeStore) GetQueueInfo(ctx context.Context, name string) (store.QueueInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.queues[name]
	if !ok {
		return store.QueueInfo{}, store.ErrQueueNotFound
	}
	return store.QueueInfo{
		Name:                name,
		AckDeadline:         cfg.AckDeadline,
		RetentionPeriod:     cfg.RetentionPeriod,
		MaxDeliveryAttempts: cfg.MaxDeliveryAttempts,
	}, nil
}

func (f *fakeStore) Publish(ctx context.Context, queueName string, msgs []store.PublishMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.queues[queueName]
	if !ok {
		return store.ErrQueueNotFound
	}
	now := time.Now()
	for _, m := range msgs {
		f.messages[queueName][m.ID] = &fakeMessage{
			body:                      m.Body,
			availableAt:               now.Add(m.Delay),
			expiresAt:                 now.Add(cfg.RetentionPeriod),
			deliveryAttemptsRemaining: cfg.MaxDeliveryAttempts,
		}
		f.order[queueName] = append(f.order[queueName], m.ID)
	}
	return nil
}

func (f *fakeStore) Poll(ctx context.Context, queueName string, batchSize int, fifo bool) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := f.queues[queueName]
	now := time.Now()

	ids := make([]uuid.UUID, 0, len(f.messages[queueName]))
	if fifo {
		ids = append(ids, f.order[queueName]...)
	} else {
		for id := range f.messages[queueName] {
			ids = append(ids, id)
		}
	}

	var out []store.Message
	for _, id := range ids {
		if len(out) >= batchSize {
			break
		}
		m, ok := f.messages[queueName][id]
		if !ok || m.deliveryAttemptsRemaining == 0 || m.expiresAt.Before(now) || m.availableAt.After(now) {
			continue
		}
		m.deliveryAttemptsRemaining--
		m.availableAt = now.Add(cfg.AckDeadline)
		out = append(out, store.Message{ID: id, Body: m.body, NextAckDeadline: m.availableAt})
	}
	return out, nil
}

func (f *fakeStore) Ack(ctx context.Context, queueName string, jobID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages[queueName], jobID)
	return nil
}

func (f *fakeStore) Nack(ctx context.Context, queueName string, jobID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[queueName][jobID]; ok {
		m.availableAt = time.Now()
	}
	return nil
}

func (f *fakeStore) ExtendDeadline(ctx context.Context, queueName string, jobID uuid.UUID) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[queueName][jobID]
	if !ok {
		return time.Time{}, false, nil
	}
	cfg := f.queues[queueName]
	m.availableAt = time.Now().Add(cfg.AckDeadline)
	return m.availableAt, true, nil
}

func (f *fakeStore) Statistics(ctx context.Context, queueName string) (store.Statistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var stats store.Statistics
	for _, m := range f.messages[queueName] {
		if m.deliveryAttemptsRemaining == 0 || m.expiresAt.Before(now) {
			continue
		}
		stats.Total++
		if !m.availableAt.After(now) {
			stats.Undelivered++
		}
	}
	return stats, nil
}

func (f *fakeStore) ExistingIDs(ctx context.Context, queueName string, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if _, ok := f.messages[queueName][id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

// newTestQueue wires a Queue directly to a fakeStore and a fake
// notify.Subscriber, bypassing ConnectToQueue (which requires a real
// *pgxpool.Pool or *sql.DB) so the handle/session/tracker logic can be
// exercised without a database.
func newTestQueue(name string, cfg store.QueueConfig) (*Queue, *fakeStore, func(notify.Event)) {
	fs := newFakeStore()
	_ = fs.CreateQueue(context.Background(), name, cfg)

	sub, inject := notify.NewFake()
	q := &Queue{
		name:            name,
		store:           fs,
		sub:             sub,
		logger:          zerolog.Nop(),
		renewalMargin:   DefaultRenewalMargin,
		finalizeTimeout: defaultFinalizeTimeout,
	}
	return q, fs, inject
}
