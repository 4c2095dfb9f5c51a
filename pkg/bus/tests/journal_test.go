package tests

import (
	"context"
	"testing"
	"time"

	"github.com/coreflux/busline/pkg/bus"
	"github.com/coreflux/busline/pkg/bus/adapters/memqueue"
	"github.com/stretchr/testify/suite"
)

// JournalSuite exercises the append-only journal contract: a reader at
// cursor p sees a stable prefix.
type JournalSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memqueue.JournalStore
	journal *bus.JournalingService
}

func (s *JournalSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memqueue.NewJournalStore()
	s.journal = bus.NewJournalingService(s.store)
}

func (s *JournalSuite) TestJournalSentReceivedPublishedCategories() {
	s.Require().NoError(s.journal.JournalSent(s.ctx, "orders", bus.NewMessage([]byte("a")), nil))
	s.Require().NoError(s.journal.JournalReceived(s.ctx, "orders", bus.NewMessage([]byte("b")), nil))
	s.Require().NoError(s.journal.JournalPublished(s.ctx, "orders.created", bus.NewMessage([]byte("c")), nil))

	entries, err := s.journal.Read(s.ctx, bus.JournalFilter{})
	s.Require().NoError(err)
	s.Require().Len(entries, 3)
	s.Equal(bus.Sent, entries[0].Category)
	s.Equal(bus.Received, entries[1].Category)
	s.Equal(bus.Published, entries[2].Category)
	s.Equal("orders.created", entries[2].Topic)
}

func (s *JournalSuite) TestReadFiltersByCategory() {
	s.Require().NoError(s.journal.JournalSent(s.ctx, "orders", bus.NewMessage(nil), nil))
	s.Require().NoError(s.journal.JournalPublished(s.ctx, "orders.created", bus.NewMessage(nil), nil))

	entries, err := s.journal.Read(s.ctx, bus.JournalFilter{Categories: []bus.Category{bus.Published}})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(bus.Published, entries[0].Category)
}

func (s *JournalSuite) TestReadFiltersByTimeRange() {
	s.Require().NoError(s.journal.JournalSent(s.ctx, "orders", bus.NewMessage(nil), nil))
	s.Require().NoError(s.journal.JournalSent(s.ctx, "orders", bus.NewMessage(nil), nil))

	now := time.Now().UTC()

	within, err := s.journal.Read(s.ctx, bus.JournalFilter{From: now.Add(-time.Minute), To: now.Add(time.Minute)})
	s.Require().NoError(err)
	s.Len(within, 2)

	future, err := s.journal.Read(s.ctx, bus.JournalFilter{From: now.Add(time.Hour)})
	s.Require().NoError(err)
	s.Empty(future)

	past, err := s.journal.Read(s.ctx, bus.JournalFilter{To: now.Add(-time.Hour)})
	s.Require().NoError(err)
	s.Empty(past)
}

func (s *JournalSuite) TestReadAtCursorIsAStablePrefix() {
	s.Require().NoError(s.journal.JournalSent(s.ctx, "orders", bus.NewMessage(nil), nil))
	first, err := s.journal.Read(s.ctx, bus.JournalFilter{})
	s.Require().NoError(err)
	s.Require().Len(first, 1)
	cursor := first[0].Position

	s.Require().NoError(s.journal.JournalSent(s.ctx, "orders", bus.NewMessage(nil), nil))

	// A reader re-issuing the same After cursor only sees entries appended
	// since that point, never entries before it disappearing or duplicating.
	after, err := s.journal.Read(s.ctx, bus.JournalFilter{After: cursor})
	s.Require().NoError(err)
	s.Require().Len(after, 1)

	full, err := s.journal.Read(s.ctx, bus.JournalFilter{})
	s.Require().NoError(err)
	s.Require().Len(full, 2)
	s.Equal(cursor, full[0].Position)
}

func (s *JournalSuite) TestConcurrentReadersObserveSamePrefix() {
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.journal.JournalSent(s.ctx, "orders", bus.NewMessage(nil), nil))
	}

	a, err := s.journal.Read(s.ctx, bus.JournalFilter{})
	s.Require().NoError(err)
	b, err := s.journal.Read(s.ctx, bus.JournalFilter{})
	s.Require().NoError(err)

	s.Require().Len(a, 5)
	s.Require().Len(b, 5)
	for i := range a {
		s.Equal(a[i].Position, b[i].Position)
	}
}

func TestJournalSuite(t *testing.T) {
	suite.Run(t, new(JournalSuite))
}
