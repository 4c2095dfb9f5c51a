// Package memqueue implements pkg/bus's Store, JournalStore, and
// SubscriptionStore against process memory. State does not survive a
// restart; pair it with queues that set IsDurable=false.
package memqueue

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coreflux/busline/pkg/bus"
	"github.com/coreflux/busline/pkg/concurrency"
	"github.com/coreflux/busline/pkg/errors"
)

// Store is an in-memory bus.Store. One Store instance is scoped to a single
// queue name; the queue argument on its methods is accepted for interface
// symmetry and ignored.
type Store struct {
	mu      *concurrency.RWMutex
	records map[string]*bus.QueuedMessage
	nextID  atomic.Uint64
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		mu:      concurrency.NewRWMutex(concurrency.MutexOptions{Name: "memqueue-store"}),
		records: make(map[string]*bus.QueuedMessage),
	}
}

func cloneRecord(qm *bus.QueuedMessage) *bus.QueuedMessage {
	clone := *qm
	return &clone
}

func (s *Store) SelectPending(ctx context.Context, queue string) ([]*bus.QueuedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*bus.QueuedMessage
	for _, qm := range s.records {
		if qm.State == bus.Pending {
			out = append(out, cloneRecord(qm))
		}
	}
	return out, nil
}

func (s *Store) SelectDead(ctx context.Context, queue string, from, to time.Time) ([]*bus.QueuedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*bus.QueuedMessage
	for _, qm := range s.records {
		if qm.State != bus.Abandoned || qm.AbandonedAt == nil {
			continue
		}
		if qm.AbandonedAt.Before(from) || qm.AbandonedAt.After(to) {
			continue
		}
		out = append(out, cloneRecord(qm))
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, queue string, msg *bus.Message, principal *bus.Principal) (*bus.QueuedMessage, error) {
	if msg == nil {
		return nil, errors.InvalidArgument("message is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := strconv.FormatUint(s.nextID.Add(1), 10)
	qm := &bus.QueuedMessage{
		RecordID:  id,
		Message:   msg,
		Principal: principal,
		State:     bus.Pending,
	}
	s.records[id] = qm
	return cloneRecord(qm), nil
}

func (s *Store) Update(ctx context.Context, queue string, record *bus.QueuedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[record.RecordID]
	if !ok {
		return errors.NotFound("queue record not found: "+record.RecordID, nil)
	}
	existing.State = record.State
	existing.Attempts = record.Attempts
	existing.AcknowledgedAt = record.AcknowledgedAt
	existing.AbandonedAt = record.AbandonedAt
	return nil
}

var _ bus.Store = (*Store)(nil)

// JournalStore is an in-memory, append-only bus.JournalStore. Position is
// the decimal string form of a monotonically increasing append counter.
type JournalStore struct {
	mu      *concurrency.RWMutex
	entries []*bus.JournalEntry
}

// NewJournalStore returns an empty in-memory JournalStore.
func NewJournalStore() *JournalStore {
	return &JournalStore{
		mu: concurrency.NewRWMutex(concurrency.MutexOptions{Name: "memqueue-journal"}),
	}
}

func (j *JournalStore) Append(ctx context.Context, entry *bus.JournalEntry) (*bus.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	clone := *entry
	clone.Position = bus.Position(strconv.Itoa(len(j.entries) + 1))
	j.entries = append(j.entries, &clone)

	out := clone
	return &out, nil
}

func (j *JournalStore) Read(ctx context.Context, filter bus.JournalFilter) ([]*bus.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	afterPos := -1
	if filter.After != "" {
		if n, err := strconv.Atoi(string(filter.After)); err == nil {
			afterPos = n
		}
	}

	var out []*bus.JournalEntry
	for _, e := range j.entries {
		pos, _ := strconv.Atoi(string(e.Position))
		if pos <= afterPos {
			continue
		}
		if filter.Queue != "" && e.Queue != filter.Queue {
			continue
		}
		if filter.Topic != "" && e.Topic != filter.Topic {
			continue
		}
		if !filter.MatchesTime(e.RecordedAt) {
			continue
		}
		if !filter.MatchesCategory(e.Category) {
			continue
		}
		clone := *e
		out = append(out, &clone)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

var _ bus.JournalStore = (*JournalStore)(nil)

// SubscriptionStore is an in-memory bus.SubscriptionStore. The inner map
// value is the subscription's expiry; the zero time means no expiry.
type SubscriptionStore struct {
	mu   *concurrency.RWMutex
	subs map[string]map[string]time.Time
}

// NewSubscriptionStore returns an empty in-memory SubscriptionStore.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		mu:   concurrency.NewRWMutex(concurrency.MutexOptions{Name: "memqueue-subscriptions"}),
		subs: make(map[string]map[string]time.Time),
	}
}

func (s *SubscriptionStore) Subscribe(ctx context.Context, topic, queue string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queues, ok := s.subs[topic]
	if !ok {
		queues = make(map[string]time.Time)
		s.subs[topic] = queues
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().UTC().Add(ttl)
	}
	queues[queue] = expiresAt
	return nil
}

func (s *SubscriptionStore) Unsubscribe(ctx context.Context, topic, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if queues, ok := s.subs[topic]; ok {
		delete(queues, queue)
	}
	return nil
}

func (s *SubscriptionStore) QueuesFor(ctx context.Context, topic string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	queues := s.subs[topic]
	out := make([]string, 0, len(queues))
	for q, expiresAt := range queues {
		if !expiresAt.IsZero() && now.After(expiresAt) {
			// Lapsed subscriptions are pruned on read rather than by a
			// background sweeper.
			delete(queues, q)
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

var _ bus.SubscriptionStore = (*SubscriptionStore)(nil)
