// Package kafkaqueue implements pkg/bus's Store against an external Kafka
// broker: a sarama sync producer publishes enqueued records and a sarama
// consumer group feeds pickup. Persistence and redelivery live in Kafka
// itself, and the queue name maps to a topic.
package kafkaqueue

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/coreflux/busline/pkg/bus"
	"github.com/coreflux/busline/pkg/bus/adapters/internal/wire"
	"github.com/coreflux/busline/pkg/errors"
	"github.com/coreflux/busline/pkg/logger"
	"github.com/google/uuid"
)

const (
	headerMessageID = "message-id"
	headerHeaders   = "bus-headers"
	headerPrincipal = "bus-principal"
)

// Config configures the Kafka-backed store.
type Config struct {
	Brokers []string
	GroupID string
}

// Store is a Kafka-backed bus.Store. Enqueue (Insert) publishes a record to
// the queue's topic; a background consumer group populates an in-process
// projection of pending records that SelectPending/SelectDead/Update read
// and mutate, mirroring the engine's own in-memory bookkeeping needs while
// the broker remains the durable source of truth for redelivery after a
// crash (a restarted consumer group resumes from its committed offset).
type Store struct {
	producer sarama.SyncProducer
	consumer sarama.ConsumerGroup
	cfg      Config

	mu      sync.RWMutex
	records map[string]*bus.QueuedMessage

	ctx    context.Context
	cancel context.CancelFunc
}

// New connects a sync producer and a consumer group to brokers, and begins
// consuming queue into the in-process projection.
func New(ctx context.Context, cfg Config, queue string) (*Store, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kafka producer")
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		producer.Close()
		return nil, errors.Wrap(err, "failed to create kafka consumer group")
	}

	storeCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		producer: producer,
		consumer: group,
		cfg:      cfg,
		records:  make(map[string]*bus.QueuedMessage),
		ctx:      storeCtx,
		cancel:   cancel,
	}

	go s.consumeLoop(queue)
	return s, nil
}

func (s *Store) consumeLoop(queue string) {
	handler := &consumerHandler{store: s}
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		if err := s.consumer.Consume(s.ctx, []string{queue}, handler); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			logger.L().ErrorContext(s.ctx, "kafka consumer group session ended with error", "queue", queue, "error", err)
			time.Sleep(time.Second)
		}
	}
}

type consumerHandler struct {
	store *Store
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			qm, err := fromKafkaMessage(msg)
			if err != nil {
				logger.L().ErrorContext(sess.Context(), "failed to decode kafka message", "error", err)
				sess.MarkMessage(msg, "")
				continue
			}
			h.store.mu.Lock()
			h.store.records[qm.RecordID] = qm
			h.store.mu.Unlock()
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

func headerValue(headers []*sarama.RecordHeader, key string) string {
	for _, h := range headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func fromKafkaMessage(msg *sarama.ConsumerMessage) (*bus.QueuedMessage, error) {
	recordID := headerValue(msg.Headers, headerMessageID)
	if recordID == "" {
		recordID = uuid.NewString()
	}
	headers, err := wire.UnmarshalHeaders(headerValue(msg.Headers, headerHeaders))
	if err != nil {
		return nil, err
	}
	principal, err := wire.UnmarshalPrincipal(headerValue(msg.Headers, headerPrincipal))
	if err != nil {
		return nil, err
	}
	msgID, ok := headers.MessageID()
	if !ok {
		msgID = uuid.New()
	}
	return &bus.QueuedMessage{
		RecordID:  recordID,
		Message:   &bus.Message{ID: msgID, Headers: headers, Content: msg.Value},
		Principal: principal,
		State:     bus.Pending,
	}, nil
}

func (s *Store) SelectPending(ctx context.Context, queue string) ([]*bus.QueuedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*bus.QueuedMessage, 0, len(s.records))
	for _, qm := range s.records {
		if qm.State == bus.Pending {
			clone := *qm
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *Store) SelectDead(ctx context.Context, queue string, from, to time.Time) ([]*bus.QueuedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*bus.QueuedMessage, 0)
	for _, qm := range s.records {
		if qm.State != bus.Abandoned || qm.AbandonedAt == nil {
			continue
		}
		if qm.AbandonedAt.Before(from) || qm.AbandonedAt.After(to) {
			continue
		}
		clone := *qm
		out = append(out, &clone)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, queue string, msg *bus.Message, principal *bus.Principal) (*bus.QueuedMessage, error) {
	if msg == nil {
		return nil, errors.InvalidArgument("message is required", nil)
	}

	recordID := uuid.NewString()
	headersJSON, err := wire.MarshalHeaders(msg.Headers)
	if err != nil {
		return nil, err
	}
	principalJSON, err := wire.MarshalPrincipal(principal)
	if err != nil {
		return nil, err
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: queue,
		Value: sarama.ByteEncoder(msg.Content),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerMessageID), Value: []byte(recordID)},
			{Key: []byte(headerHeaders), Value: []byte(headersJSON)},
			{Key: []byte(headerPrincipal), Value: []byte(principalJSON)},
		},
	}
	if _, _, err := s.producer.SendMessage(kafkaMsg); err != nil {
		return nil, errors.Wrap(err, "failed to publish to kafka")
	}

	qm := &bus.QueuedMessage{RecordID: recordID, Message: msg, Principal: principal, State: bus.Pending}
	s.mu.Lock()
	s.records[recordID] = qm
	s.mu.Unlock()

	clone := *qm
	return &clone, nil
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

// Close stops the consumer loop and releases the producer and consumer
// group connections.
func (s *Store) Close() error {
	s.cancel()
	consumerErr := s.consumer.Close()
	producerErr := s.producer.Close()
	if consumerErr != nil {
		return errors.Wrap(consumerErr, "failed to close kafka consumer group")
	}
	if producerErr != nil {
		return errors.Wrap(producerErr, "failed to close kafka producer")
	}
	return nil
}

var _ bus.Store = (*Store)(nil)
