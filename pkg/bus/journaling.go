package bus

import (
	"context"
	"time"
)

// Journaling is the programmatic surface for recording and reading the
// durable audit trail of sent, received, and published messages.
type Journaling interface {
	JournalSent(ctx context.Context, queue string, msg *Message, principal *Principal) error
	JournalReceived(ctx context.Context, queue string, msg *Message, principal *Principal) error
	JournalPublished(ctx context.Context, topic string, msg *Message, principal *Principal) error
	Read(ctx context.Context, filter JournalFilter) ([]*JournalEntry, error)
}

// JournalingService records audit entries into a JournalStore. Entries are
// best-effort relative to the operation they describe: a failure to journal
// is logged by the caller but never unwinds a successful Send/Publish.
// Dispatcher.Receive only journals, so it returns the journaling error.
type JournalingService struct {
	store JournalStore
}

// NewJournalingService builds a JournalingService backed by store.
func NewJournalingService(store JournalStore) *JournalingService {
	return &JournalingService{store: store}
}

func (j *JournalingService) append(ctx context.Context, category Category, queue, topic string, msg *Message, principal *Principal) error {
	_, err := j.store.Append(ctx, &JournalEntry{
		Category:   category,
		Queue:      queue,
		Topic:      topic,
		Message:    msg,
		Principal:  principal,
		RecordedAt: time.Now().UTC(),
	})
	return err
}

// JournalSent records that msg was handed to queue via Enqueue/Send.
func (j *JournalingService) JournalSent(ctx context.Context, queue string, msg *Message, principal *Principal) error {
	return j.append(ctx, Sent, queue, "", msg, principal)
}

// JournalReceived records that msg was delivered to queue's Listener.
func (j *JournalingService) JournalReceived(ctx context.Context, queue string, msg *Message, principal *Principal) error {
	return j.append(ctx, Received, queue, "", msg, principal)
}

// JournalPublished records that msg was fanned out to topic's subscribers.
func (j *JournalingService) JournalPublished(ctx context.Context, topic string, msg *Message, principal *Principal) error {
	return j.append(ctx, Published, "", topic, msg, principal)
}

// Read returns journal entries matching filter.
func (j *JournalingService) Read(ctx context.Context, filter JournalFilter) ([]*JournalEntry, error) {
	return j.store.Read(ctx, filter)
}

var _ Journaling = (*JournalingService)(nil)
