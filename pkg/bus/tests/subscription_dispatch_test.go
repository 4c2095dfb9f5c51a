package tests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coreflux/busline/pkg/bus"
	"github.com/coreflux/busline/pkg/bus/adapters/memqueue"
	"github.com/stretchr/testify/suite"
)

// SubscriptionSuite exercises the subscription tracking contract using the
// reference in-memory implementation.
type SubscriptionSuite struct {
	suite.Suite
	ctx   context.Context
	store *memqueue.SubscriptionStore
}

func (s *SubscriptionSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memqueue.NewSubscriptionStore()
}

func (s *SubscriptionSuite) TestSubscribeThenListSubscribers() {
	s.Require().NoError(s.store.Subscribe(s.ctx, "orders.created", "inventory-inbox", 0))
	s.Require().NoError(s.store.Subscribe(s.ctx, "orders.created", "billing-inbox", 0))

	queues, err := s.store.QueuesFor(s.ctx, "orders.created")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"inventory-inbox", "billing-inbox"}, queues)
}

func (s *SubscriptionSuite) TestSubscribeTwiceIsNoOp() {
	s.Require().NoError(s.store.Subscribe(s.ctx, "orders.created", "inventory-inbox", 0))
	s.Require().NoError(s.store.Subscribe(s.ctx, "orders.created", "inventory-inbox", 0))

	queues, err := s.store.QueuesFor(s.ctx, "orders.created")
	s.Require().NoError(err)
	s.Len(queues, 1)
}

func (s *SubscriptionSuite) TestExpiredSubscriptionExcluded() {
	s.Require().NoError(s.store.Subscribe(s.ctx, "orders.created", "inventory-inbox", time.Millisecond))
	s.Require().NoError(s.store.Subscribe(s.ctx, "orders.created", "billing-inbox", time.Hour))

	time.Sleep(20 * time.Millisecond)

	queues, err := s.store.QueuesFor(s.ctx, "orders.created")
	s.Require().NoError(err)
	s.Equal([]string{"billing-inbox"}, queues)
}

func (s *SubscriptionSuite) TestResubscribeRefreshesExpiry() {
	s.Require().NoError(s.store.Subscribe(s.ctx, "orders.created", "inventory-inbox", time.Millisecond))
	// The upsert with a longer ttl must supersede the about-to-lapse one.
	s.Require().NoError(s.store.Subscribe(s.ctx, "orders.created", "inventory-inbox", time.Hour))

	time.Sleep(20 * time.Millisecond)

	queues, err := s.store.QueuesFor(s.ctx, "orders.created")
	s.Require().NoError(err)
	s.Equal([]string{"inventory-inbox"}, queues)
}

func (s *SubscriptionSuite) TestUnsubscribeRemovesSubscriber() {
	s.Require().NoError(s.store.Subscribe(s.ctx, "orders.created", "inventory-inbox", 0))
	s.Require().NoError(s.store.Unsubscribe(s.ctx, "orders.created", "inventory-inbox"))

	queues, err := s.store.QueuesFor(s.ctx, "orders.created")
	s.Require().NoError(err)
	s.Empty(queues)
}

func TestSubscriptionSuite(t *testing.T) {
	suite.Run(t, new(SubscriptionSuite))
}

// fakeSender records every Send call instead of touching a real transport.
// Publish fans out concurrently, so recording is mutex-guarded.
type fakeSender struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]bool
}

func (f *fakeSender) Send(ctx context.Context, queue string, msg *bus.Message, principal *bus.Principal) error {
	if f.failFor[queue] {
		return errors.New("delivery failed")
	}
	f.mu.Lock()
	f.sent = append(f.sent, queue)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) sentQueues() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// DispatcherSuite exercises Publish's journal-then-fan-out sequencing.
type DispatcherSuite struct {
	suite.Suite
	ctx     context.Context
	journal *bus.JournalingService
	subs    *memqueue.SubscriptionStore
}

func (s *DispatcherSuite) SetupTest() {
	s.ctx = context.Background()
	s.journal = bus.NewJournalingService(memqueue.NewJournalStore())
	s.subs = memqueue.NewSubscriptionStore()
}

func (s *DispatcherSuite) TestPublishJournalsThenFansOutToEverySubscriber() {
	s.Require().NoError(s.subs.Subscribe(s.ctx, "orders.created", "inventory-inbox", 0))
	s.Require().NoError(s.subs.Subscribe(s.ctx, "orders.created", "billing-inbox", 0))

	sender := &fakeSender{}
	d := bus.NewDispatcher(nil, s.journal, s.subs, sender)

	msg := bus.NewMessage([]byte("order #1"))
	s.Require().NoError(d.Publish(s.ctx, "orders.created", msg, nil))

	s.ElementsMatch([]string{"inventory-inbox", "billing-inbox"}, sender.sentQueues())

	entries, err := s.journal.Read(s.ctx, bus.JournalFilter{Categories: []bus.Category{bus.Published}})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("orders.created", entries[0].Topic)
}

func (s *DispatcherSuite) TestPublishSurfacesPartialDeliveryFailure() {
	s.Require().NoError(s.subs.Subscribe(s.ctx, "orders.created", "inventory-inbox", 0))
	s.Require().NoError(s.subs.Subscribe(s.ctx, "orders.created", "billing-inbox", 0))

	sender := &fakeSender{failFor: map[string]bool{"billing-inbox": true}}
	d := bus.NewDispatcher(nil, s.journal, s.subs, sender)

	err := d.Publish(s.ctx, "orders.created", bus.NewMessage(nil), nil)
	s.Error(err)
	// The failure of one subscriber must not block delivery to the others.
	s.Contains(sender.sentQueues(), "inventory-inbox")
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}
