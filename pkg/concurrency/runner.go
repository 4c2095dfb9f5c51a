package concurrency

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/coreflux/busline/pkg/logger"
)

// Go runs fn on its own goroutine. A panic is logged with its stack and
// swallowed instead of crashing the process.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.L().ErrorContext(ctx, "goroutine panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}

// FanOut invokes fn(0..n-1) concurrently, one goroutine each, and returns
// once every invocation has finished. Panics in fn are contained per
// goroutine by Go.
func FanOut(ctx context.Context, n int, fn func(i int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		Go(ctx, func() {
			defer wg.Done()
			fn(i)
		})
	}
	wg.Wait()
}
