package concurrency

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreflux/busline/pkg/logger"
)

// MutexOptions tunes the optional observability on RWMutex.
type MutexOptions struct {
	// Name identifies the mutex in slow-holder log lines.
	Name string

	// SlowThreshold is the write-hold duration above which a warning is
	// logged. Zero selects a 100ms default.
	SlowThreshold time.Duration

	// Debug enables hold-duration tracking and caller capture. Off, Lock
	// and Unlock cost the same as a plain sync.RWMutex.
	Debug bool
}

// RWMutex is a sync.RWMutex that, in debug mode, records who took the
// write lock and complains when it was held past SlowThreshold. Read locks
// are untracked: they admit many concurrent holders and per-holder
// bookkeeping would cost more than it tells.
type RWMutex struct {
	inner sync.RWMutex
	opts  MutexOptions

	heldSince atomic.Int64 // UnixNano of the current write acquisition
	site      atomic.Value // "file:line" of the current write holder
}

// NewRWMutex builds an RWMutex with opts.
func NewRWMutex(opts MutexOptions) *RWMutex {
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = 100 * time.Millisecond
	}
	return &RWMutex{opts: opts}
}

// Lock acquires the write lock.
func (m *RWMutex) Lock() {
	m.inner.Lock()
	if !m.opts.Debug {
		return
	}
	m.heldSince.Store(time.Now().UnixNano())
	if _, file, line, ok := runtime.Caller(1); ok {
		m.site.Store(fmt.Sprintf("%s:%d", file, line))
	}
}

// Unlock releases the write lock, logging if it was held too long.
func (m *RWMutex) Unlock() {
	if !m.opts.Debug {
		m.inner.Unlock()
		return
	}
	held := time.Duration(time.Now().UnixNano() - m.heldSince.Load())
	site := m.site.Load()
	m.inner.Unlock()
	if held > m.opts.SlowThreshold {
		logger.L().Warn("write lock held too long",
			"mutex", m.opts.Name,
			"held", held,
			"holder", site,
		)
	}
}

// RLock acquires a read lock.
func (m *RWMutex) RLock() { m.inner.RLock() }

// RUnlock releases a read lock.
func (m *RWMutex) RUnlock() { m.inner.RUnlock() }
