package bus

import (
	"context"
	"time"
)

// Subscription records one queue's interest in a topic. Publish consults the
// SubscriptionStore to find every queue subscribed to a topic and enqueues a
// copy of the published message onto each.
type Subscription struct {
	Topic     string
	Queue     string
	CreatedAt time.Time

	// ExpiresAt, when non-nil, is the instant this subscription lapses. A
	// lapsed subscription is never returned by QueuesFor and is eligible
	// for removal by the store.
	ExpiresAt *time.Time
}

// SubscriptionStore tracks topic subscriptions. pkg/bus only ever calls this
// interface; it never assumes a particular backing store, matching how Store
// and JournalStore are kept independent of any concrete adapter.
type SubscriptionStore interface {
	// Subscribe records that queue wants copies of messages published to
	// topic, as an upsert: re-subscribing an existing (topic, queue) pair
	// refreshes its expiry. A ttl <= 0 subscribes without expiry.
	Subscribe(ctx context.Context, topic, queue string, ttl time.Duration) error

	// Unsubscribe removes a prior Subscribe. Removing an absent pair is a
	// no-op.
	Unsubscribe(ctx context.Context, topic, queue string) error

	// QueuesFor returns every queue subscribed to topic whose subscription
	// has not expired.
	QueuesFor(ctx context.Context, topic string) ([]string, error)
}
