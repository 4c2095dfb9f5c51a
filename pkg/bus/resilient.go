package bus

import (
	"context"
	"time"

	"github.com/coreflux/busline/pkg/resilience"
)

// ResilientStoreConfig configures the circuit-breaker-plus-retry wrapper
// around a Store.
type ResilientStoreConfig struct {
	CircuitBreakerEnabled   bool          `env:"BUS_STORE_CB_ENABLED" env-default:"true"`
	CircuitBreakerThreshold int64         `env:"BUS_STORE_CB_THRESHOLD" env-default:"5"`
	CircuitBreakerTimeout   time.Duration `env:"BUS_STORE_CB_TIMEOUT" env-default:"30s"`

	RetryEnabled     bool          `env:"BUS_STORE_RETRY_ENABLED" env-default:"true"`
	RetryMaxAttempts int           `env:"BUS_STORE_RETRY_MAX" env-default:"3"`
	RetryBackoff     time.Duration `env:"BUS_STORE_RETRY_BACKOFF" env-default:"100ms"`
}

// ResilientStore wraps a Store with circuit breaker and retry support, so a
// flaky backend connection surfaces as ErrStoreUnavailable only after its
// budget is exhausted rather than on the first transient failure.
type ResilientStore struct {
	store    Store
	cb       *resilience.CircuitBreaker
	retryCfg resilience.RetryConfig
}

// NewResilientStore wraps store with resilience features configured by cfg.
func NewResilientStore(store Store, cfg ResilientStoreConfig) *ResilientStore {
	rs := &ResilientStore{store: store}

	if cfg.CircuitBreakerEnabled {
		rs.cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "bus-store",
			FailureThreshold: cfg.CircuitBreakerThreshold,
			SuccessThreshold: 2,
			Timeout:          cfg.CircuitBreakerTimeout,
		})
	}

	if cfg.RetryEnabled {
		rs.retryCfg = resilience.RetryConfig{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: cfg.RetryBackoff,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2.0,
		}
	}

	return rs
}

func (rs *ResilientStore) execute(ctx context.Context, fn resilience.Executor) error {
	operation := fn

	if rs.cb != nil {
		cbFn := operation
		operation = func(ctx context.Context) error {
			return rs.cb.Execute(ctx, cbFn)
		}
	}

	if rs.retryCfg.MaxAttempts > 0 {
		return resilience.Retry(ctx, rs.retryCfg, operation)
	}

	return operation(ctx)
}

func (rs *ResilientStore) SelectPending(ctx context.Context, queue string) ([]*QueuedMessage, error) {
	var records []*QueuedMessage
	err := rs.execute(ctx, func(ctx context.Context) error {
		var err error
		records, err = rs.store.SelectPending(ctx, queue)
		return err
	})
	return records, err
}

func (rs *ResilientStore) SelectDead(ctx context.Context, queue string, from, to time.Time) ([]*QueuedMessage, error) {
	var records []*QueuedMessage
	err := rs.execute(ctx, func(ctx context.Context) error {
		var err error
		records, err = rs.store.SelectDead(ctx, queue, from, to)
		return err
	})
	return records, err
}

func (rs *ResilientStore) Insert(ctx context.Context, queue string, msg *Message, principal *Principal) (*QueuedMessage, error) {
	var record *QueuedMessage
	err := rs.execute(ctx, func(ctx context.Context) error {
		var err error
		record, err = rs.store.Insert(ctx, queue, msg, principal)
		return err
	})
	return record, err
}

func (rs *ResilientStore) Update(ctx context.Context, queue string, record *QueuedMessage) error {
	return rs.execute(ctx, func(ctx context.Context) error {
		return rs.store.Update(ctx, queue, record)
	})
}

var _ Store = (*ResilientStore)(nil)
