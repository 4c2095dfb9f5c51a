package bus

import (
	"context"

	"github.com/coreflux/busline/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedQueueing wraps a Queueing with logging and tracing.
type InstrumentedQueueing struct {
	next   Queueing
	tracer trace.Tracer
}

// NewInstrumentedQueueing wraps next with tracing and structured logging.
func NewInstrumentedQueueing(next Queueing) *InstrumentedQueueing {
	return &InstrumentedQueueing{next: next, tracer: otel.Tracer("pkg/bus")}
}

func (q *InstrumentedQueueing) CreateQueue(ctx context.Context, name string, listener Listener, opts QueueOptions) error {
	ctx, span := q.tracer.Start(ctx, "bus.CreateQueue", trace.WithAttributes(
		attribute.String("bus.queue", name),
	))
	defer span.End()

	logger.L().InfoContext(ctx, "creating queue", "queue", name, "concurrency_limit", opts.ConcurrencyLimit, "max_attempts", opts.MaxAttempts)

	err := q.next.CreateQueue(ctx, name, listener, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "failed to create queue", "queue", name, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "queue created")
	return nil
}

func (q *InstrumentedQueueing) Enqueue(ctx context.Context, name string, msg *Message, principal *Principal) error {
	ctx, span := q.tracer.Start(ctx, "bus.Enqueue", trace.WithAttributes(
		attribute.String("bus.queue", name),
		attribute.String("bus.message_id", msg.ID.String()),
	))
	defer span.End()

	logger.L().InfoContext(ctx, "enqueuing message", "queue", name, "message_id", msg.ID)

	err := q.next.Enqueue(ctx, name, msg, principal)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "failed to enqueue message", "queue", name, "message_id", msg.ID, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "message enqueued")
	return nil
}

func (q *InstrumentedQueueing) Dispose() error {
	logger.L().Info("disposing queueing service")
	return q.next.Dispose()
}

var _ Queueing = (*InstrumentedQueueing)(nil)

// InstrumentedJournaling wraps a Journaling with logging and tracing.
type InstrumentedJournaling struct {
	next   Journaling
	tracer trace.Tracer
}

// NewInstrumentedJournaling wraps next with tracing and structured logging.
func NewInstrumentedJournaling(next Journaling) *InstrumentedJournaling {
	return &InstrumentedJournaling{next: next, tracer: otel.Tracer("pkg/bus")}
}

func (j *InstrumentedJournaling) JournalSent(ctx context.Context, queue string, msg *Message, principal *Principal) error {
	return j.journal(ctx, "bus.JournalSent", queue, msg, principal, j.next.JournalSent)
}

func (j *InstrumentedJournaling) JournalReceived(ctx context.Context, queue string, msg *Message, principal *Principal) error {
	return j.journal(ctx, "bus.JournalReceived", queue, msg, principal, j.next.JournalReceived)
}

func (j *InstrumentedJournaling) JournalPublished(ctx context.Context, topic string, msg *Message, principal *Principal) error {
	return j.journal(ctx, "bus.JournalPublished", topic, msg, principal, j.next.JournalPublished)
}

func (j *InstrumentedJournaling) journal(ctx context.Context, spanName, target string, msg *Message, principal *Principal, fn func(context.Context, string, *Message, *Principal) error) error {
	ctx, span := j.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("bus.message_id", msg.ID.String()),
	))
	defer span.End()

	err := fn(ctx, target, msg, principal)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "failed to append journal entry", "target", target, "message_id", msg.ID, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "journal entry appended")
	return nil
}

func (j *InstrumentedJournaling) Read(ctx context.Context, filter JournalFilter) ([]*JournalEntry, error) {
	entries, err := j.next.Read(ctx, filter)
	if err != nil {
		logger.L().ErrorContext(ctx, "failed to read journal", "queue", filter.Queue, "topic", filter.Topic, "error", err)
	}
	return entries, err
}

var _ Journaling = (*InstrumentedJournaling)(nil)
