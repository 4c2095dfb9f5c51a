package bus

import (
	"context"
	"sync/atomic"
	"time"
)

// State is the lifecycle stage of a QueuedMessage. Acknowledged and
// Abandoned are terminal: a record in either state is never redispatched.
type State int

const (
	Pending State = iota
	Acknowledged
	Abandoned
)

func (s State) String() string {
	switch s {
	case Acknowledged:
		return "Acknowledged"
	case Abandoned:
		return "Abandoned"
	default:
		return "Pending"
	}
}

// QueuedMessage is a Message as it exists inside a queue, together with its
// restored principal and dispatch bookkeeping.
type QueuedMessage struct {
	// RecordID is the backend-assigned identifier for this record (e.g. a
	// relational primary key or document _id). Empty until Store.Insert
	// materializes it.
	RecordID string

	Message   *Message
	Principal *Principal

	State    State
	Attempts int

	AcknowledgedAt *time.Time
	AbandonedAt    *time.Time
}

// IsTerminal reports whether qm has reached Acknowledged or Abandoned.
func (qm *QueuedMessage) IsTerminal() bool {
	return qm.State == Acknowledged || qm.State == Abandoned
}

// QueueOptions configures one queue's dispatch behavior.
type QueueOptions struct {
	// ConcurrencyLimit bounds how many messages this queue dispatches in
	// parallel. Must be >= 1.
	ConcurrencyLimit int

	// MaxAttempts bounds how many times a message is handed to the listener
	// before it is abandoned. Must be >= 1.
	MaxAttempts int

	// RetryDelay is the pause applied between attempts, cancellable by
	// Engine.Dispose.
	RetryDelay time.Duration

	// AutoAcknowledge, when true, acknowledges a message whose listener
	// returned without error and without calling DeliveryContext.Acknowledge
	// itself.
	AutoAcknowledge bool

	// IsDurable marks whether messages and state transitions for this queue
	// must survive a process restart. Non-durable queues may be backed by
	// in-memory storage only.
	IsDurable bool
}

// DefaultQueueOptions returns an explicit, usable baseline in the same
// spirit as resilience.DefaultRetryConfig: callers that don't care get
// sensible dispatch behavior instead of a degenerate zero value.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		ConcurrencyLimit: 4,
		MaxAttempts:      3,
		RetryDelay:       0,
		AutoAcknowledge:  false,
		IsDurable:        true,
	}
}

func (o QueueOptions) normalize() QueueOptions {
	if o.ConcurrencyLimit < 1 {
		o.ConcurrencyLimit = 1
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}

func (o QueueOptions) equal(other QueueOptions) bool {
	return o.ConcurrencyLimit == other.ConcurrencyLimit &&
		o.MaxAttempts == other.MaxAttempts &&
		o.RetryDelay == other.RetryDelay &&
		o.AutoAcknowledge == other.AutoAcknowledge &&
		o.IsDurable == other.IsDurable
}

// DeliveryContext is offered to a Listener alongside the message. It exposes
// the restored principal, the message headers, and the means to explicitly
// acknowledge the message. Calling Acknowledge more than once is a no-op.
type DeliveryContext struct {
	principal *Principal
	headers   *Headers
	acked     atomic.Bool
	ackFn     func()
}

func newDeliveryContext(p *Principal, h *Headers, ackFn func()) *DeliveryContext {
	return &DeliveryContext{principal: p, headers: h, ackFn: ackFn}
}

// Acknowledge signals that the message has been durably consumed by the
// listener. The first call wins; later calls are no-ops.
func (d *DeliveryContext) Acknowledge() {
	if d.acked.CompareAndSwap(false, true) {
		d.ackFn()
	}
}

// Acknowledged reports whether Acknowledge has been called.
func (d *DeliveryContext) Acknowledged() bool { return d.acked.Load() }

// Principal returns the identity restored for this delivery, if any.
func (d *DeliveryContext) Principal() *Principal { return d.principal }

// Headers returns the message's headers.
func (d *DeliveryContext) Headers() *Headers { return d.headers }

// Listener is the in-process receiver registered when a queue is created.
// A nil error is treated as a non-acknowledgement unless AutoAcknowledge is
// set or DeliveryContext.Acknowledge was called; a returned error (or a
// recovered panic) never triggers AutoAcknowledge, so it is a
// non-acknowledgement unless the listener called Acknowledge first. Errors
// are logged, never surfaced to the caller of Enqueue.
type Listener func(ctx context.Context, msg *Message, dc *DeliveryContext) error

// Store is the backend-neutral persistence contract a queue engine uses.
// Implementations live in pkg/bus/adapters/*; none of them are required to
// share state across distinct Engine instances targeting the same physical
// store. Each backend owns its data.
type Store interface {
	// SelectPending returns every non-terminal record for queue, in any
	// order the backend finds convenient.
	SelectPending(ctx context.Context, queue string) ([]*QueuedMessage, error)

	// SelectDead returns terminal Abandoned records for queue whose
	// AbandonedAt falls within [from, to].
	SelectDead(ctx context.Context, queue string, from, to time.Time) ([]*QueuedMessage, error)

	// Insert appends a new Pending record and returns it materialized with
	// any backend-assigned fields (e.g. RecordID) populated.
	Insert(ctx context.Context, queue string, msg *Message, principal *Principal) (*QueuedMessage, error)

	// Update overwrites the mutable fields (State, Attempts,
	// AcknowledgedAt, AbandonedAt) of the given record.
	Update(ctx context.Context, queue string, record *QueuedMessage) error
}
