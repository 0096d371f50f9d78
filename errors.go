package pgjobq

import (
	"errors"

	"github.com/joomcode/errorx"

	"github.com/odiseo0/pgjobq/internal/store"
)

// Sentinel errors callers can match against with errors.Is. The
// underlying cause (driver error, context error) is wrapped underneath
// via errorx so it remains inspectable with errors.As.
var (
	// ErrQueueNotFound is returned by Send, SendBatch, and Queue.Info
	// when no queue of the given name exists.
	ErrQueueNotFound = errors.New("pgjobq: queue not found")

	// ErrAlreadyProcessing is returned by JobHandle.Acquire when the
	// handle is currently acquired by another in-flight call.
	ErrAlreadyProcessing = errors.New("pgjobq: job is already being processed")

	// ErrAlreadyCompleted is returned by JobHandle.Acquire on a handle
	// that already reached a terminal state.
	ErrAlreadyCompleted = errors.New("pgjobq: job is already completed")

	// ErrNoLongerAvailable is returned by JobHandle.Acquire once the
	// owning receive session has exited.
	ErrNoLongerAvailable = errors.New("pgjobq: job is no longer available, its receive session has exited")

	// ErrTransientStorage wraps driver/connection/timeout failures the
	// caller may choose to retry.
	ErrTransientStorage = errors.New("pgjobq: transient storage error")

	// errPanic marks a handler panic so the job is nacked before the
	// panic is re-raised to the caller.
	errPanic = errors.New("pgjobq: handler panicked")
)

// wrapStorage decorates err with call-site context and marks it as
// ErrTransientStorage for errors.Is, unless err already carries one of
// our own sentinels or the store package's, in which case it's
// translated to the matching public sentinel instead.
func wrapStorage(err error, msg string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrQueueNotFound) {
		return errorx.Decorate(errors.Join(ErrQueueNotFound, err), msg, args...)
	}
	for _, sentinel := range []error{ErrQueueNotFound, ErrAlreadyProcessing, ErrAlreadyCompleted, ErrNoLongerAvailable} {
		if errors.Is(err, sentinel) {
			return errorx.Decorate(err, msg, args...)
		}
	}
	return errorx.Decorate(errors.Join(ErrTransientStorage, err), msg, args...)
}
