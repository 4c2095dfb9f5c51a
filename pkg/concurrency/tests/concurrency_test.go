package tests

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreflux/busline/pkg/concurrency"
)

func TestRWMutexSerializesWriters(t *testing.T) {
	mu := concurrency.NewRWMutex(concurrency.MutexOptions{Name: "test", Debug: true})

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			counter++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counter != 20 {
		t.Fatalf("expected 20 increments, got %d", counter)
	}
}

func TestRWMutexAllowsConcurrentReaders(t *testing.T) {
	mu := concurrency.NewRWMutex(concurrency.MutexOptions{Name: "test"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.RLock()
			time.Sleep(time.Millisecond)
			mu.RUnlock()
		}()
	}
	wg.Wait()
}

func TestWorkerPoolBoundsParallelism(t *testing.T) {
	const workers = 3
	pool := concurrency.NewWorkerPool(workers, workers*4)
	pool.Start(context.Background())

	var inFlight, maxSeen atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers*4; i++ {
		wg.Add(1)
		pool.Submit(func(ctx context.Context) {
			defer wg.Done()
			cur := inFlight.Add(1)
			for {
				seen := maxSeen.Load()
				if cur <= seen || maxSeen.CompareAndSwap(seen, cur) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
		})
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	pool.Stop()

	if got := maxSeen.Load(); got > workers {
		t.Fatalf("saw %d tasks in flight, pool allows %d", got, workers)
	}
}

func TestWorkerPoolStopWaitsForBacklog(t *testing.T) {
	pool := concurrency.NewWorkerPool(1, 8)
	pool.Start(context.Background())

	var ran atomic.Int32
	for i := 0; i < 8; i++ {
		pool.Submit(func(ctx context.Context) {
			ran.Add(1)
		})
	}
	pool.Stop()

	if got := ran.Load(); got != 8 {
		t.Fatalf("expected all 8 queued tasks to run before Stop returned, got %d", got)
	}
}

func TestFanOutRunsEveryIndexAndContainsPanics(t *testing.T) {
	var ran [8]atomic.Bool
	concurrency.FanOut(context.Background(), len(ran), func(i int) {
		ran[i].Store(true)
		if i == 3 {
			panic("listener blew up")
		}
	})

	for i := range ran {
		if !ran[i].Load() {
			t.Fatalf("index %d never ran", i)
		}
	}
}

func BenchmarkRWMutexWriteLock(b *testing.B) {
	b.Run("fast", func(b *testing.B) {
		mu := concurrency.NewRWMutex(concurrency.MutexOptions{Name: "bench"})
		for i := 0; i < b.N; i++ {
			mu.Lock()
			mu.Unlock()
		}
	})
	b.Run("debug", func(b *testing.B) {
		mu := concurrency.NewRWMutex(concurrency.MutexOptions{Name: "bench", Debug: true})
		for i := 0; i < b.N; i++ {
			mu.Lock()
			mu.Unlock()
		}
	})
}
