// Package logger provides the bus's structured logging: slog handlers
// layered for trace correlation, async buffering, PII redaction, and
// sampling, behind a process-wide accessor L().
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Config selects the output format and which handler layers Init stacks.
type Config struct {
	// Level is the minimum level emitted: DEBUG, INFO, WARN, or ERROR.
	Level string `env:"LOG_LEVEL" env-default:"INFO"`

	// Format is JSON or TEXT.
	Format string `env:"LOG_FORMAT" env-default:"JSON"`

	// SamplingRate keeps roughly this fraction of Debug/Info records;
	// 1.0 keeps everything. Warnings and errors always pass.
	SamplingRate float64 `env:"LOG_SAMPLING_RATE" env-default:"1.0"`

	// Async buffers records so logging never blocks the caller.
	Async bool `env:"LOG_ASYNC" env-default:"true"`

	// Redact masks PII in attribute values before output.
	Redact bool `env:"LOG_REDACT" env-default:"true"`
}

const asyncBufferSize = 4096

var global atomic.Pointer[slog.Logger]

// Init builds the layered logger cfg describes, installs it as both the
// package global and slog's default, and returns it. Layers, outermost
// first: sampling (drop early), redaction, async hand-off, trace stamping,
// output.
func Init(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: levelFrom(cfg.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "TEXT") {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	h = NewTraceHandler(h)
	if cfg.Async {
		h = NewAsyncHandler(h, asyncBufferSize, true)
	}
	if cfg.Redact {
		h = NewRedactHandler(h)
	}
	if cfg.SamplingRate > 0 && cfg.SamplingRate < 1 {
		h = NewSamplingHandler(h, cfg.SamplingRate)
	}

	l := slog.New(h)
	slog.SetDefault(l)
	global.Store(l)
	return l
}

// L returns the logger installed by Init, or slog's default before any
// Init call.
func L() *slog.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	return slog.Default()
}

func levelFrom(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
