package bus

import (
	"context"
	"reflect"
	"sync"

	"github.com/coreflux/busline/pkg/logger"
)

// Queueing is the programmatic surface a host uses to own queues: create
// them, enqueue onto them by name, and dispose of all of them together.
type Queueing interface {
	CreateQueue(ctx context.Context, name string, listener Listener, opts QueueOptions) error
	Enqueue(ctx context.Context, name string, msg *Message, principal *Principal) error
	Dispose() error
}

// StoreFactory creates (or opens) the Store backing queue name. It is
// called at most once per distinct name by QueueingService.
type StoreFactory func(name string) (Store, error)

type registeredQueue struct {
	engine   *Engine
	listener Listener
	opts     QueueOptions
}

// QueueingService is a registry of queues by name: it creates and looks up
// queue engines and routes Enqueue calls.
type QueueingService struct {
	mu      sync.RWMutex
	queues  map[string]*registeredQueue
	factory StoreFactory
	codec   TokenCodec
}

// NewQueueingService builds a QueueingService. factory supplies the Store
// for a queue the first time it is created; codec (may be nil) restores
// principals captured at enqueue time.
func NewQueueingService(factory StoreFactory, codec TokenCodec) *QueueingService {
	return &QueueingService{
		queues:  make(map[string]*registeredQueue),
		factory: factory,
		codec:   codec,
	}
}

// listenerIdentity returns a comparable handle for a Listener so repeat
// CreateQueue calls for the same name can detect a materially different
// callback. Go funcs aren't comparable with ==, so this follows the common
// idiom of comparing the underlying code pointer via reflection; it is not
// a strict identity check (two distinct closures over the same function
// literal compare equal), but it is sufficient to catch the case that
// matters: a caller registering an unrelated listener under a name already
// in use.
func listenerIdentity(l Listener) uintptr {
	return reflect.ValueOf(l).Pointer()
}

// CreateQueue creates or reopens a queue and begins dispatch. It is
// idempotent per name within one process: a second call with the same
// listener and options is a no-op; a second call with a different listener
// or options fails rather than silently shadowing the first.
func (s *QueueingService) CreateQueue(ctx context.Context, name string, listener Listener, opts QueueOptions) error {
	opts = opts.normalize()

	s.mu.Lock()
	if existing, ok := s.queues[name]; ok {
		s.mu.Unlock()
		if !existing.opts.equal(opts) || listenerIdentity(existing.listener) != listenerIdentity(listener) {
			return ErrQueueOptionsMismatch(name, nil)
		}
		return nil
	}

	store, err := s.factory(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	engine := NewEngine(name, store, listener, opts, s.codec)
	s.queues[name] = &registeredQueue{engine: engine, listener: listener, opts: opts}
	s.mu.Unlock()

	if err := engine.Init(ctx); err != nil {
		logger.L().ErrorContext(ctx, "failed to initialize queue engine", "queue", name, "error", err)
		return err
	}
	return nil
}

// Enqueue routes msg onto the named queue. It fails if name does not exist.
func (s *QueueingService) Enqueue(ctx context.Context, name string, msg *Message, principal *Principal) error {
	s.mu.RLock()
	rq, ok := s.queues[name]
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownQueue(name, nil)
	}
	return rq.engine.Enqueue(ctx, msg, principal)
}

// Dispose disposes every owned queue engine.
func (s *QueueingService) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, rq := range s.queues {
		if err := rq.engine.Dispose(); err != nil {
			logger.L().ErrorContext(context.Background(), "failed to dispose queue engine", "queue", name, "error", err)
		}
	}
	s.queues = make(map[string]*registeredQueue)
	return nil
}

var _ Queueing = (*QueueingService)(nil)
