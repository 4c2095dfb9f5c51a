package tests

import (
	"context"
	"testing"
	"time"

	"github.com/coreflux/busline/pkg/bus"
	"github.com/coreflux/busline/pkg/bus/adapters/memqueue"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

// ServiceSuite exercises QueueingService's registry semantics.
type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	service *bus.QueueingService
}

func noopListener(ctx context.Context, msg *bus.Message, dc *bus.DeliveryContext) error {
	dc.Acknowledge()
	return nil
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.service = bus.NewQueueingService(func(name string) (bus.Store, error) {
		return memqueue.New(), nil
	}, nil)
}

func (s *ServiceSuite) TearDownTest() {
	s.Require().NoError(s.service.Dispose())
}

func (s *ServiceSuite) TestEnqueueOnUnknownQueueFails() {
	err := s.service.Enqueue(s.ctx, uuid.NewString(), bus.NewMessage(nil), nil)
	s.Error(err)
}

func (s *ServiceSuite) TestCreateQueueThenEnqueueDispatches() {
	name := uuid.NewString()
	received := make(chan struct{}, 1)
	s.Require().NoError(s.service.CreateQueue(s.ctx, name, func(ctx context.Context, msg *bus.Message, dc *bus.DeliveryContext) error {
		dc.Acknowledge()
		received <- struct{}{}
		return nil
	}, bus.QueueOptions{ConcurrencyLimit: 1, MaxAttempts: 1, IsDurable: true}))

	s.Require().NoError(s.service.Enqueue(s.ctx, name, bus.NewMessage(nil), nil))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		s.FailNow("message was not dispatched through the service")
	}
}

func (s *ServiceSuite) TestCreateQueueIsIdempotentForIdenticalOptions() {
	name := uuid.NewString()
	opts := bus.QueueOptions{ConcurrencyLimit: 2, MaxAttempts: 1, IsDurable: true}
	s.Require().NoError(s.service.CreateQueue(s.ctx, name, noopListener, opts))
	s.Require().NoError(s.service.CreateQueue(s.ctx, name, noopListener, opts))
}

func (s *ServiceSuite) TestCreateQueueRejectsOptionsMismatch() {
	name := uuid.NewString()
	s.Require().NoError(s.service.CreateQueue(s.ctx, name, noopListener, bus.QueueOptions{ConcurrencyLimit: 1, MaxAttempts: 1, IsDurable: true}))

	err := s.service.CreateQueue(s.ctx, name, noopListener, bus.QueueOptions{ConcurrencyLimit: 5, MaxAttempts: 1, IsDurable: true})
	s.Error(err)
}

func (s *ServiceSuite) TestCreateQueueRejectsDifferentListener() {
	name := uuid.NewString()
	opts := bus.QueueOptions{ConcurrencyLimit: 1, MaxAttempts: 1, IsDurable: true}
	s.Require().NoError(s.service.CreateQueue(s.ctx, name, noopListener, opts))

	otherListener := func(ctx context.Context, msg *bus.Message, dc *bus.DeliveryContext) error {
		dc.Acknowledge()
		return nil
	}
	err := s.service.CreateQueue(s.ctx, name, otherListener, opts)
	s.Error(err)
}

func (s *ServiceSuite) TestDisposeRejectsFurtherEnqueues() {
	name := uuid.NewString()
	s.Require().NoError(s.service.CreateQueue(s.ctx, name, noopListener, bus.QueueOptions{ConcurrencyLimit: 1, MaxAttempts: 1, IsDurable: true}))
	s.Require().NoError(s.service.Dispose())

	err := s.service.Enqueue(s.ctx, name, bus.NewMessage(nil), nil)
	s.Error(err)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
