package pgjobq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odiseo0/pgjobq/internal/notify"
)

func TestWaitForCompletionReturnsImmediatelyWhenAlreadyDone(t *testing.T) {
	q, _, _ := newTestQueue("jobs", testQueueConfig())
	h, err := q.Send(context.Background(), []byte("a"))
	require.NoError(t, err)
	require.NoError(t, q.store.Ack(context.Background(), "jobs", h.IDs()[0]))

	waiter, err := q.WaitForCompletion(context.Background(), h.IDs()...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	assert.NoError(t, waiter.Wait(ctx))
}

func TestWaitForCompletionRespondsToNotification(t *testing.T) {
	q, _, inject := newTestQueue("jobs", testQueueConfig())
	h, err := q.Send(context.Background(), []byte("a"))
	require.NoError(t, err)

	waiter, err := q.WaitForCompletion(context.Background(), h.IDs()...)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- waiter.Wait(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.store.Ack(context.Background(), "jobs", h.IDs()[0]))
	inject(notify.Event{Kind: notify.JobCompleted, QueueName: "jobs", JobID: h.IDs()[0]})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait never resolved on notification")
	}
}

func TestWaitForCompletionFallsBackToPolling(t *testing.T) {
	q, _, _ := newTestQueue("jobs", testQueueConfig())
	h, err := q.Send(context.Background(), []byte("a"))
	require.NoError(t, err)

	waiter, err := q.WaitForCompletionBatch(context.Background(), h.IDs(), WithCompletionPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- waiter.Wait(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.store.Ack(context.Background(), "jobs", h.IDs()[0]))
	// deliberately no notification injected: only the poll fallback can
	// observe completion here.

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poll fallback never observed completion")
	}
}

func TestWaitForCompletionZeroPollIntervalReliesOnNotifications(t *testing.T) {
	q, _, inject := newTestQueue("jobs", testQueueConfig())
	h, err := q.Send(context.Background(), []byte("a"))
	require.NoError(t, err)

	waiter, err := q.WaitForCompletionBatch(context.Background(), h.IDs(), WithCompletionPollInterval(0))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- waiter.Wait(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.store.Ack(context.Background(), "jobs", h.IDs()[0]))
	inject(notify.Event{Kind: notify.JobCompleted, QueueName: "jobs", JobID: h.IDs()[0]})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait with zero poll interval never resolved on notification")
	}
}
