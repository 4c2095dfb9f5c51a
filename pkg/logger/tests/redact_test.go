package logger_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/coreflux/busline/pkg/logger"
)

func TestRedactHandlerMasksEmailAndCardValues(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(logger.NewRedactHandler(slog.NewJSONHandler(&buf, nil)))

	l.InfoContext(context.Background(), "message enqueued",
		"queue", "orders-inbox",
		"reply_to", "mailto:ops@example.com",
		"payment_ref", "4111 1111 1111 1111",
	)

	out := buf.String()
	if strings.Contains(out, "ops@example.com") {
		t.Fatal("email survived redaction")
	}
	if strings.Contains(out, "4111 1111 1111 1111") {
		t.Fatal("card number survived redaction")
	}
	if !strings.Contains(out, "orders-inbox") {
		t.Fatal("clean attribute was mangled")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatal("expected redaction placeholder in output")
	}
}

func BenchmarkRedactHandlerDirtyRecord(b *testing.B) {
	l := slog.New(logger.NewRedactHandler(slog.NewJSONHandler(io.Discard, nil)))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.InfoContext(ctx, "message enqueued",
			"queue", "orders-inbox",
			"message_id", "8f14e45f-ceea-467f-a8cb-17c6bd8531be",
			"reply_to", "mailto:ops@example.com",
			"payment_ref", "4111 1111 1111 1111",
		)
	}
}

func BenchmarkRedactHandlerCleanRecord(b *testing.B) {
	l := slog.New(logger.NewRedactHandler(slog.NewJSONHandler(io.Discard, nil)))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.InfoContext(ctx, "message acknowledged",
			"queue", "orders-inbox",
			"message_id", "8f14e45f-ceea-467f-a8cb-17c6bd8531be",
			"attempts", 1,
			"state", "Acknowledged",
		)
	}
}
