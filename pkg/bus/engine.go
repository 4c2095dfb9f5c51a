package bus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreflux/busline/pkg/concurrency"
	berrors "github.com/coreflux/busline/pkg/errors"
	"github.com/coreflux/busline/pkg/logger"
	"github.com/coreflux/busline/pkg/resilience"
)

// retryQueueSlack bounds how many in-flight worker slots the task channel
// buffers before Submit blocks, mirroring concurrency.WorkerPool's own
// "Submit blocks when saturated" contract.
const retryQueueSlack = 4

// Engine owns a single named queue: it persists enqueued messages through a
// Store, dispatches them to a Listener with bounded concurrency, retries
// non-acknowledged attempts up to MaxAttempts, and abandons (dead-letters)
// messages that exhaust their attempt budget.
//
// Invariants:
//  1. A non-terminal record is dispatched at most once concurrently.
//  2. The number of concurrently in-flight messages never exceeds
//     QueueOptions.ConcurrencyLimit.
//  3. A terminal record is never redispatched, including across restarts.
type Engine struct {
	name     string
	store    Store
	listener Listener
	opts     QueueOptions
	codec    TokenCodec

	pool     *concurrency.WorkerPool
	retryQ   *retrySchedule
	ctx      context.Context
	cancel   context.CancelFunc

	initOnce  sync.Once
	disposeMu *concurrency.RWMutex
	disposed atomic.Bool
	faulted  atomic.Bool

	wg sync.WaitGroup
}

// NewEngine constructs an Engine for queue name. Call Init before Enqueue.
func NewEngine(name string, store Store, listener Listener, opts QueueOptions, codec TokenCodec) *Engine {
	return &Engine{
		name:      name,
		store:     store,
		listener:  listener,
		opts:      opts.normalize(),
		codec:     codec,
		disposeMu: concurrency.NewRWMutex(concurrency.MutexOptions{Name: "bus-engine-" + name}),
	}
}

// Init is idempotent: it starts the dispatch loop and schedules every
// pending record returned by the store. Enqueue is accepted before Init
// returns; those messages are scheduled as they land.
func (e *Engine) Init(ctx context.Context) error {
	var initErr error
	e.initOnce.Do(func() {
		e.ctx, e.cancel = context.WithCancel(context.Background())
		e.pool = concurrency.NewWorkerPool(e.opts.ConcurrencyLimit, e.opts.ConcurrencyLimit*retryQueueSlack)
		e.pool.Start(e.ctx)
		e.retryQ = newRetrySchedule()

		e.wg.Add(1)
		go e.retryLoop()

		records, err := e.store.SelectPending(ctx, e.name)
		if err != nil {
			initErr = berrors.Wrap(err, "failed to load pending records on init")
			return
		}
		for _, record := range records {
			e.scheduleForDispatch(record)
		}
		logger.L().InfoContext(ctx, "queue engine initialized", "queue", e.name, "pending", len(records))
	})
	return initErr
}

// Enqueue appends a new Pending record and schedules it for dispatch.
func (e *Engine) Enqueue(ctx context.Context, msg *Message, principal *Principal) error {
	if e.disposed.Load() {
		return ErrDisposed(nil)
	}
	if e.faulted.Load() {
		return ErrStoreFaulted(nil)
	}

	record, err := e.store.Insert(ctx, e.name, msg, principal)
	if err != nil {
		if isPermanentStoreError(err) {
			e.faulted.Store(true)
			logger.L().ErrorContext(ctx, "queue store permanently faulted", "queue", e.name, "error", err)
			return ErrStoreFaulted(err)
		}
		return ErrStoreUnavailable(err)
	}

	e.disposeMu.RLock()
	defer e.disposeMu.RUnlock()
	if e.disposed.Load() {
		return ErrDisposed(nil)
	}
	e.scheduleForDispatch(record)
	return nil
}

func (e *Engine) scheduleForDispatch(record *QueuedMessage) {
	if record.IsTerminal() {
		return
	}
	e.pool.Submit(func(ctx context.Context) {
		e.attempt(ctx, record)
	})
}

// attempt runs one pass of the per-message state machine: pickup, expiry
// check, dispatch, then terminal-or-retry.
func (e *Engine) attempt(ctx context.Context, qm *QueuedMessage) {
	if qm.IsTerminal() {
		return
	}

	if qm.Message.IsExpired(time.Now()) {
		e.transitionAcknowledged(ctx, qm)
		return
	}

	qm.Attempts++

	var principal *Principal
	if qm.Principal != nil {
		principal = qm.Principal
	} else if token, ok := qm.Message.Headers.SecurityToken(); ok && e.codec != nil {
		restored, err := e.codec.Restore(ctx, token)
		if err != nil {
			logger.L().WarnContext(ctx, "failed to restore principal", "queue", e.name, "message_id", qm.Message.ID, "error", err)
		} else {
			principal = restored
		}
	}

	dispatchCtx := withPrincipal(ctx, principal)

	var acked atomic.Bool
	dc := newDeliveryContext(principal, qm.Message.Headers, func() { acked.Store(true) })

	err := e.invokeListener(dispatchCtx, qm.Message, dc)
	if err != nil {
		logger.L().WarnContext(ctx, "listener did not acknowledge message", "queue", e.name, "message_id", qm.Message.ID, "attempt", qm.Attempts, "error", err)
	}

	if acked.Load() || (err == nil && e.opts.AutoAcknowledge) {
		e.transitionAcknowledged(ctx, qm)
		return
	}

	if qm.Attempts >= e.opts.MaxAttempts {
		e.transitionAbandoned(ctx, qm)
		return
	}

	// Persist the attempt count before sleeping so a crash during the
	// retry delay never double-counts the attempt on recovery.
	e.persist(ctx, qm)

	select {
	case <-e.ctx.Done():
		return
	default:
	}
	e.retryQ.Add(qm, e.opts.RetryDelay)
}

func (e *Engine) transitionAcknowledged(ctx context.Context, qm *QueuedMessage) {
	now := time.Now().UTC()
	qm.State = Acknowledged
	qm.AcknowledgedAt = &now
	e.persist(ctx, qm)
}

func (e *Engine) transitionAbandoned(ctx context.Context, qm *QueuedMessage) {
	now := time.Now().UTC()
	qm.State = Abandoned
	qm.AbandonedAt = &now
	e.persist(ctx, qm)
	logger.L().ErrorContext(ctx, "message abandoned", "queue", e.name, "message_id", qm.Message.ID, "attempts", qm.Attempts)
}

// invokeListener recovers from a listener panic and treats it exactly like
// a returned error: a non-acknowledgement that counts against MaxAttempts.
func (e *Engine) invokeListener(ctx context.Context, msg *Message, dc *DeliveryContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().ErrorContext(ctx, "listener panicked", "queue", e.name, "message_id", msg.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return e.listener(ctx, msg, dc)
}

// persist writes qm's mutable fields with bounded retries. If the store
// remains unreachable past the retry ceiling, the failure is logged and
// swallowed: the message's in-memory attempt count is left unflushed and
// will be re-picked on the next Init, which is acceptable under
// at-least-once delivery.
func (e *Engine) persist(ctx context.Context, qm *QueuedMessage) {
	cfg := resilience.RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 25 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
	}
	err := resilience.Retry(ctx, cfg, func(ctx context.Context) error {
		return e.store.Update(ctx, e.name, qm)
	})
	if err != nil {
		logger.L().ErrorContext(ctx, "failed to persist queue record after retries", "queue", e.name, "message_id", qm.Message.ID, "error", err)
	}
}

func (e *Engine) retryLoop() {
	defer e.wg.Done()
	for {
		qm, err := e.retryQ.Next(e.ctx)
		if err != nil {
			return
		}
		e.scheduleForDispatch(qm)
	}
}

// Dispose cancels the dispatch loop: no further attempts are started, the
// retry delay queue is drained of its ability to schedule new work, and the
// worker pool is stopped once in-flight workers return. Listener
// invocations in flight receive ctx cancellation via the context passed to
// them, but are not forcibly aborted.
func (e *Engine) Dispose() error {
	if !e.disposed.CompareAndSwap(false, true) {
		return nil
	}
	e.disposeMu.Lock()
	defer e.disposeMu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	// Wait for retryLoop to observe cancellation and return before closing
	// the retry queue or stopping the worker pool: retryLoop can still be
	// mid-flight on a scheduleForDispatch call (pool.Submit) when cancel()
	// fires, and closing the pool's task channel concurrently with a send
	// on it panics.
	e.wg.Wait()
	if e.retryQ != nil {
		e.retryQ.Close()
	}
	if e.pool != nil {
		e.pool.Stop()
	}
	return nil
}

// isPermanentStoreError classifies a store failure as permanent (schema
// mismatch, permission denied — surfaced immediately, faults the queue) vs
// transient (retried, surfaced only on exhaustion). Classification keys
// off the AppError code taxonomy in pkg/errors.
func isPermanentStoreError(err error) bool {
	switch berrors.CodeOf(err) {
	case berrors.CodeInvalidArgument, berrors.CodeForbidden, berrors.CodeFailedPrecondition, berrors.CodeUnauthenticated:
		return true
	default:
		return false
	}
}
