package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coreflux/busline/pkg/concurrency"
	"github.com/coreflux/busline/pkg/logger"
)

// OutboundSender hands a published message to one subscriber. pkg/bus only
// defines the seam a host wires a concrete transport into, e.g. enqueueing
// onto the subscriber's own queue, or forwarding onto an external broker
// topic.
type OutboundSender interface {
	Send(ctx context.Context, queue string, msg *Message, principal *Principal) error
}

// Dispatcher is the glue between the queueing, journaling, and subscription
// surfaces: it combines them into the three operations a host actually
// calls (Send, Receive, Publish).
type Dispatcher struct {
	queueing Queueing
	journal  Journaling
	subs     SubscriptionStore
	sender   OutboundSender
}

// NewDispatcher builds a Dispatcher over the given queueing, journaling, and
// subscription services, and the transport used to fan a Publish out to
// subscribed queues.
func NewDispatcher(queueing Queueing, journal Journaling, subs SubscriptionStore, sender OutboundSender) *Dispatcher {
	return &Dispatcher{queueing: queueing, journal: journal, subs: subs, sender: sender}
}

// Send enqueues msg directly onto queue and journals the send. A journaling
// failure is logged but does not fail the send.
func (d *Dispatcher) Send(ctx context.Context, queue string, msg *Message, principal *Principal) error {
	if err := d.queueing.Enqueue(ctx, queue, msg, principal); err != nil {
		return err
	}
	if err := d.journal.JournalSent(ctx, queue, msg, principal); err != nil {
		logger.L().ErrorContext(ctx, "failed to journal sent message", "queue", queue, "message_id", msg.ID, "error", err)
	}
	return nil
}

// Receive journals that msg was delivered to queue. Callers invoke this from
// within a Listener, immediately before or after handling msg, so the audit
// trail carries Received entries alongside Sent and Published.
func (d *Dispatcher) Receive(ctx context.Context, queue string, msg *Message, principal *Principal) error {
	if err := d.journal.JournalReceived(ctx, queue, msg, principal); err != nil {
		logger.L().ErrorContext(ctx, "failed to journal received message", "queue", queue, "message_id", msg.ID, "error", err)
		return err
	}
	return nil
}

// Publish journals msg against topic, then hands a copy to every queue
// currently subscribed to topic via the injected OutboundSender. Sends fan
// out concurrently; a failure to one subscriber does not stop delivery to
// the others, and any failure surfaces as ErrPublishFailed once the fan-out
// drains.
func (d *Dispatcher) Publish(ctx context.Context, topic string, msg *Message, principal *Principal) error {
	if err := d.journal.JournalPublished(ctx, topic, msg, principal); err != nil {
		logger.L().ErrorContext(ctx, "failed to journal published message", "topic", topic, "message_id", msg.ID, "error", err)
	}

	queues, err := d.subs.QueuesFor(ctx, topic)
	if err != nil {
		return ErrSubscribeFailed(err)
	}

	var failures atomic.Int32
	concurrency.FanOut(ctx, len(queues), func(i int) {
		queue := queues[i]
		if err := d.sender.Send(ctx, queue, msg, principal); err != nil {
			logger.L().ErrorContext(ctx, "failed to deliver published message to subscriber", "topic", topic, "queue", queue, "message_id", msg.ID, "error", err)
			failures.Add(1)
		}
	})
	if failures.Load() > 0 {
		return ErrPublishFailed(nil)
	}
	return nil
}

// Subscribe registers queue's interest in topic for ttl. A ttl <= 0
// subscribes without expiry; re-subscribing refreshes the expiry.
func (d *Dispatcher) Subscribe(ctx context.Context, topic, queue string, ttl time.Duration) error {
	if err := d.subs.Subscribe(ctx, topic, queue, ttl); err != nil {
		return ErrSubscribeFailed(err)
	}
	return nil
}

// Unsubscribe removes queue's interest in topic.
func (d *Dispatcher) Unsubscribe(ctx context.Context, topic, queue string) error {
	if err := d.subs.Unsubscribe(ctx, topic, queue); err != nil {
		return ErrSubscribeFailed(err)
	}
	return nil
}
