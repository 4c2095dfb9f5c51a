package bus

import "github.com/coreflux/busline/pkg/errors"

// Error codes for bus operations.
const (
	CodeDisposed             = "BUS_DISPOSED"
	CodeUnknownQueue         = "BUS_UNKNOWN_QUEUE"
	CodeQueueOptionsMismatch = "BUS_QUEUE_OPTIONS_MISMATCH"
	CodeStoreUnavailable     = "BUS_STORE_UNAVAILABLE"
	CodeStoreFaulted         = "BUS_STORE_FAULTED"
	CodePublishFailed        = "BUS_PUBLISH_FAILED"
	CodeSubscribeFailed      = "BUS_SUBSCRIBE_FAILED"
	CodeTokenInvalid         = "BUS_TOKEN_INVALID"
)

// ErrDisposed is returned by operations invoked on a disposed Engine.
// QueueingService.Dispose empties its registry, so a later Enqueue there
// returns ErrUnknownQueue instead.
func ErrDisposed(err error) *errors.AppError {
	return errors.New(CodeDisposed, "queue engine is disposed", err)
}

// ErrUnknownQueue is returned when Enqueue targets an unregistered name.
func ErrUnknownQueue(name string, err error) *errors.AppError {
	return errors.New(CodeUnknownQueue, "unknown queue: "+name, err)
}

// ErrQueueOptionsMismatch is returned when CreateQueue is called a second
// time for an existing name with different options or listener.
func ErrQueueOptionsMismatch(name string, err error) *errors.AppError {
	return errors.New(CodeQueueOptionsMismatch, "queue already exists with different options: "+name, err)
}

// ErrStoreUnavailable indicates a transient (non-permanent) store failure on
// enqueue. Engine.Enqueue calls Store.Insert once and does not retry it; a
// Store wrapped in ResilientStore has already spent its retry budget when
// this is returned.
func ErrStoreUnavailable(err error) *errors.AppError {
	return errors.New(CodeStoreUnavailable, "queue store unavailable", err)
}

// ErrStoreFaulted indicates a permanent store failure; the queue rejects
// further enqueues until reinitialized.
func ErrStoreFaulted(err error) *errors.AppError {
	return errors.New(CodeStoreFaulted, "queue store permanently faulted", err)
}

// ErrPublishFailed indicates a Publish operation failed to fan out to one
// or more subscribers.
func ErrPublishFailed(err error) *errors.AppError {
	return errors.New(CodePublishFailed, "failed to publish to one or more subscribers", err)
}

// ErrSubscribeFailed indicates a subscription-tracking call failed.
func ErrSubscribeFailed(err error) *errors.AppError {
	return errors.New(CodeSubscribeFailed, "subscription tracking operation failed", err)
}

// ErrTokenInvalid indicates a stored security token could not be restored
// into a Principal.
func ErrTokenInvalid(err error) *errors.AppError {
	return errors.New(CodeTokenInvalid, "security token could not be restored", err)
}
