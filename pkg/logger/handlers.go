package logger

import (
	"context"
	"log/slog"
	"math/rand"
	"regexp"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// TraceHandler stamps records with the trace_id and span_id of the span in
// their context, correlating log lines with traces.
type TraceHandler struct {
	next slog.Handler
}

// NewTraceHandler wraps next with trace correlation.
func NewTraceHandler(next slog.Handler) *TraceHandler {
	return &TraceHandler{next: next}
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{next: h.next.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{next: h.next.WithGroup(name)}
}

// AsyncHandler buffers records in a channel and writes them from a single
// background goroutine, so the logging call site never blocks on IO.
type AsyncHandler struct {
	next    slog.Handler
	records chan asyncRecord
	drop    bool
	once    sync.Once
	done    chan struct{}
}

type asyncRecord struct {
	ctx context.Context
	rec slog.Record
}

// NewAsyncHandler wraps next with a buffer of bufferSize records. When the
// buffer is full, dropWhenFull selects between dropping the record and
// blocking the caller.
func NewAsyncHandler(next slog.Handler, bufferSize int, dropWhenFull bool) *AsyncHandler {
	h := &AsyncHandler{
		next:    next,
		records: make(chan asyncRecord, bufferSize),
		drop:    dropWhenFull,
		done:    make(chan struct{}),
	}
	go h.drain()
	return h
}

func (h *AsyncHandler) drain() {
	defer close(h.done)
	for r := range h.records {
		_ = h.next.Handle(r.ctx, r.rec)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.drop {
		select {
		case h.records <- asyncRecord{ctx: ctx, rec: r}:
		default:
			// Buffer full; losing a log line beats blocking the caller.
		}
		return nil
	}
	h.records <- asyncRecord{ctx: ctx, rec: r}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), records: h.records, drop: h.drop, done: h.done}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), records: h.records, drop: h.drop, done: h.done}
}

// Close stops accepting records and waits for the buffer to flush.
func (h *AsyncHandler) Close() {
	h.once.Do(func() {
		close(h.records)
		<-h.done
	})
}

// SamplingHandler probabilistically drops records below Warn level. Warnings
// and errors always pass.
type SamplingHandler struct {
	next slog.Handler
	rate float64
}

// NewSamplingHandler wraps next, keeping roughly rate (0.0-1.0) of
// Debug/Info records.
func NewSamplingHandler(next slog.Handler, rate float64) *SamplingHandler {
	return &SamplingHandler{next: next, rate: rate}
}

func (h *SamplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SamplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < slog.LevelWarn && rand.Float64() > h.rate {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *SamplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SamplingHandler{next: h.next.WithAttrs(attrs), rate: h.rate}
}

func (h *SamplingHandler) WithGroup(name string) slog.Handler {
	return &SamplingHandler{next: h.next.WithGroup(name), rate: h.rate}
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)
)

const redactedPlaceholder = "[REDACTED]"

// RedactHandler masks PII (email addresses, card-like digit runs) in string
// attribute values before they reach the output handler.
type RedactHandler struct {
	next slog.Handler
}

// NewRedactHandler wraps next with PII redaction.
func NewRedactHandler(next slog.Handler) *RedactHandler {
	return &RedactHandler{next: next}
}

func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	s := a.Value.String()
	// Fast path: most values carry no PII, so probe before rewriting.
	if !emailPattern.MatchString(s) && !cardPattern.MatchString(s) {
		return a
	}
	s = emailPattern.ReplaceAllString(s, redactedPlaceholder)
	s = cardPattern.ReplaceAllString(s, redactedPlaceholder)
	return slog.String(a.Key, s)
}

func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = redactAttr(a)
	}
	return &RedactHandler{next: h.next.WithAttrs(out)}
}

func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{next: h.next.WithGroup(name)}
}
