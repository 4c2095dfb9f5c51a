// Package mongoqueue implements pkg/bus's Store, JournalStore, and
// SubscriptionStore against MongoDB: one collection per queue, plus a
// single journal collection and a single subscriptions collection.
package mongoqueue

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/coreflux/busline/pkg/bus"
	"github.com/coreflux/busline/pkg/bus/adapters/internal/wire"
	"github.com/coreflux/busline/pkg/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const journalCollectionName = "PB_MessageJournal"
const subscriptionsCollectionName = "PB_Subscriptions"

// Config configures the MongoDB-backed adapters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	UseTLS             bool
	InsecureSkipVerify bool
	MaxOpenConns       int
	MaxIdleConns       int
}

func (c Config) uri() string {
	if c.User != "" && c.Password != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d", c.User, c.Password, c.Host, c.Port)
	}
	return fmt.Sprintf("mongodb://%s:%d", c.Host, c.Port)
}

// Connect opens a MongoDB client and returns the target database, shared by
// Store, JournalStore, and SubscriptionStore so all three can be built
// against a single connection.
func Connect(ctx context.Context, cfg Config) (*mongo.Database, *mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.uri())

	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify})
	}
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.MaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxOpenConns))
	}
	if cfg.MaxIdleConns > 0 {
		opts.SetMinPoolSize(uint64(cfg.MaxIdleConns))
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, errors.Wrap(err, "failed to ping mongodb")
	}
	return client.Database(cfg.Database), client, nil
}

type queuedMessageDoc struct {
	ID             string     `bson:"_id"`
	Queue          string     `bson:"queue"`
	MessageID      string     `bson:"message_id"`
	HeadersJSON    string     `bson:"headers_json"`
	Content        []byte     `bson:"content"`
	PrincipalJSON  string     `bson:"principal_json"`
	State          int        `bson:"state"`
	Attempts       int        `bson:"attempts"`
	AcknowledgedAt *time.Time `bson:"acknowledged_at,omitempty"`
	AbandonedAt    *time.Time `bson:"abandoned_at,omitempty"`
}

// Store is a MongoDB-backed bus.Store, collection-per-queue.
type Store struct {
	db *mongo.Database
}

// NewStore builds a Store over db, an already-connected database (see
// Connect).
func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

func (s *Store) collection(queue string) *mongo.Collection {
	return s.db.Collection(queue)
}

func toDoc(queue string, qm *bus.QueuedMessage) (*queuedMessageDoc, error) {
	headersJSON, err := wire.MarshalHeaders(qm.Message.Headers)
	if err != nil {
		return nil, err
	}
	principalJSON, err := wire.MarshalPrincipal(qm.Principal)
	if err != nil {
		return nil, err
	}
	id := qm.RecordID
	if id == "" {
		id = uuid.NewString()
	}
	return &queuedMessageDoc{
		ID:             id,
		Queue:          queue,
		MessageID:      qm.Message.ID.String(),
		HeadersJSON:    headersJSON,
		Content:        qm.Message.Content,
		PrincipalJSON:  principalJSON,
		State:          int(qm.State),
		Attempts:       qm.Attempts,
		AcknowledgedAt: qm.AcknowledgedAt,
		AbandonedAt:    qm.AbandonedAt,
	}, nil
}

func fromDoc(doc *queuedMessageDoc) (*bus.QueuedMessage, error) {
	msgID, err := uuid.Parse(doc.MessageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse stored message id")
	}
	headers, err := wire.UnmarshalHeaders(doc.HeadersJSON)
	if err != nil {
		return nil, err
	}
	principal, err := wire.UnmarshalPrincipal(doc.PrincipalJSON)
	if err != nil {
		return nil, err
	}
	return &bus.QueuedMessage{
		RecordID:       doc.ID,
		Message:        &bus.Message{ID: msgID, Headers: headers, Content: doc.Content},
		Principal:      principal,
		State:          bus.State(doc.State),
		Attempts:       doc.Attempts,
		AcknowledgedAt: doc.AcknowledgedAt,
		AbandonedAt:    doc.AbandonedAt,
	}, nil
}

func (s *Store) selectByState(ctx context.Context, queue string, state bus.State) ([]*bus.QueuedMessage, error) {
	cursor, err := s.collection(queue).Find(ctx, bson.M{"state": int(state)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query queue collection")
	}
	defer cursor.Close(ctx)

	var docs []*queuedMessageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode queue documents")
	}
	out := make([]*bus.QueuedMessage, 0, len(docs))
	for _, doc := range docs {
		qm, err := fromDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, qm)
	}
	return out, nil
}

func (s *Store) SelectPending(ctx context.Context, queue string) ([]*bus.QueuedMessage, error) {
	return s.selectByState(ctx, queue, bus.Pending)
}

func (s *Store) SelectDead(ctx context.Context, queue string, from, to time.Time) ([]*bus.QueuedMessage, error) {
	cursor, err := s.collection(queue).Find(ctx, bson.M{
		"state":        int(bus.Abandoned),
		"abandoned_at": bson.M{"$gte": from, "$lte": to},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query queue collection")
	}
	defer cursor.Close(ctx)

	var docs []*queuedMessageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode queue documents")
	}
	out := make([]*bus.QueuedMessage, 0, len(docs))
	for _, doc := range docs {
		qm, err := fromDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, qm)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, queue string, msg *bus.Message, principal *bus.Principal) (*bus.QueuedMessage, error) {
	if msg == nil {
		return nil, errors.InvalidArgument("message is required", nil)
	}
	qm := &bus.QueuedMessage{Message: msg, Principal: principal, State: bus.Pending}
	doc, err := toDoc(queue, qm)
	if err != nil {
		return nil, err
	}
	if _, err := s.collection(queue).InsertOne(ctx, doc); err != nil {
		return nil, errors.Wrap(err, "failed to insert queue document")
	}
	return fromDoc(doc)
}

func (s *Store) Update(ctx context.Context, queue string, record *bus.QueuedMessage) error {
	res, err := s.collection(queue).UpdateOne(ctx,
		bson.M{"_id": record.RecordID},
		bson.M{"$set": bson.M{
			"state":           int(record.State),
			"attempts":        record.Attempts,
			"acknowledged_at": record.AcknowledgedAt,
			"abandoned_at":    record.AbandonedAt,
		}},
	)
	if err != nil {
		return errors.Wrap(err, "failed to update queue document")
	}
	if res.MatchedCount == 0 {
		return errors.NotFound("queue record not found: "+record.RecordID, nil)
	}
	return nil
}

var _ bus.Store = (*Store)(nil)

type journalDoc struct {
	Position      int64     `bson:"position"`
	Category      int       `bson:"category"`
	Queue         string    `bson:"queue"`
	Topic         string    `bson:"topic"`
	MessageID     string    `bson:"message_id"`
	HeadersJSON   string    `bson:"headers_json"`
	Content       []byte    `bson:"content"`
	PrincipalJSON string    `bson:"principal_json"`
	RecordedAt    time.Time `bson:"recorded_at"`
}

// JournalStore is a MongoDB-backed bus.JournalStore using one collection for
// every category.
type JournalStore struct {
	collection *mongo.Collection
}

// NewJournalStore builds a JournalStore over db's journal collection.
func NewJournalStore(db *mongo.Database) *JournalStore {
	return &JournalStore{collection: db.Collection(journalCollectionName)}
}

// nextPosition increments a counter document and returns its new value.
// MongoDB has no native auto-increment; a findOneAndUpdate against a single
// counter document keeps this atomic without a separate sequence service.
func (j *JournalStore) nextPosition(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := j.collection.Database().Collection(journalCollectionName + "_seq").FindOneAndUpdate(
		ctx,
		bson.M{"_id": "seq"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, errors.Wrap(err, "failed to allocate journal position")
	}
	return counter.Seq, nil
}

func (j *JournalStore) Append(ctx context.Context, entry *bus.JournalEntry) (*bus.JournalEntry, error) {
	headersJSON, err := wire.MarshalHeaders(entry.Message.Headers)
	if err != nil {
		return nil, err
	}
	principalJSON, err := wire.MarshalPrincipal(entry.Principal)
	if err != nil {
		return nil, err
	}
	pos, err := j.nextPosition(ctx)
	if err != nil {
		return nil, err
	}
	doc := &journalDoc{
		Position:      pos,
		Category:      int(entry.Category),
		Queue:         entry.Queue,
		Topic:         entry.Topic,
		MessageID:     entry.Message.ID.String(),
		HeadersJSON:   headersJSON,
		Content:       entry.Message.Content,
		PrincipalJSON: principalJSON,
		RecordedAt:    entry.RecordedAt,
	}
	if _, err := j.collection.InsertOne(ctx, doc); err != nil {
		return nil, errors.Wrap(err, "failed to append journal document")
	}
	out := *entry
	out.Position = bus.Position(fmt.Sprintf("%d", pos))
	return &out, nil
}

func (j *JournalStore) Read(ctx context.Context, filter bus.JournalFilter) ([]*bus.JournalEntry, error) {
	query := bson.M{}
	if filter.Queue != "" {
		query["queue"] = filter.Queue
	}
	if filter.Topic != "" {
		query["topic"] = filter.Topic
	}
	if filter.After != "" {
		var after int64
		fmt.Sscanf(string(filter.After), "%d", &after)
		query["position"] = bson.M{"$gt": after}
	}
	if !filter.From.IsZero() || !filter.To.IsZero() {
		timeRange := bson.M{}
		if !filter.From.IsZero() {
			timeRange["$gte"] = filter.From
		}
		if !filter.To.IsZero() {
			timeRange["$lte"] = filter.To
		}
		query["recorded_at"] = timeRange
	}
	if len(filter.Categories) > 0 {
		cats := make([]int, len(filter.Categories))
		for i, c := range filter.Categories {
			cats[i] = int(c)
		}
		query["category"] = bson.M{"$in": cats}
	}

	findOpts := options.Find().SetSort(bson.M{"position": 1})
	if filter.Limit > 0 {
		findOpts.SetLimit(int64(filter.Limit))
	}

	cursor, err := j.collection.Find(ctx, query, findOpts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query journal collection")
	}
	defer cursor.Close(ctx)

	var docs []*journalDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode journal documents")
	}

	out := make([]*bus.JournalEntry, 0, len(docs))
	for _, doc := range docs {
		msgID, err := uuid.Parse(doc.MessageID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse stored message id")
		}
		headers, err := wire.UnmarshalHeaders(doc.HeadersJSON)
		if err != nil {
			return nil, err
		}
		principal, err := wire.UnmarshalPrincipal(doc.PrincipalJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, &bus.JournalEntry{
			Position:   bus.Position(fmt.Sprintf("%d", doc.Position)),
			Category:   bus.Category(doc.Category),
			Queue:      doc.Queue,
			Topic:      doc.Topic,
			Message:    &bus.Message{ID: msgID, Headers: headers, Content: doc.Content},
			Principal:  principal,
			RecordedAt: doc.RecordedAt,
		})
	}
	return out, nil
}

var _ bus.JournalStore = (*JournalStore)(nil)

type subscriptionDoc struct {
	Topic     string     `bson:"topic"`
	Queue     string     `bson:"queue"`
	CreatedAt time.Time  `bson:"created_at"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// SubscriptionStore is a MongoDB-backed bus.SubscriptionStore.
type SubscriptionStore struct {
	collection *mongo.Collection
}

// NewSubscriptionStore builds a SubscriptionStore over db's subscriptions
// collection.
func NewSubscriptionStore(db *mongo.Database) *SubscriptionStore {
	return &SubscriptionStore{collection: db.Collection(subscriptionsCollectionName)}
}

func (s *SubscriptionStore) Subscribe(ctx context.Context, topic, queue string, ttl time.Duration) error {
	now := time.Now().UTC()
	update := bson.M{
		"$setOnInsert": bson.M{"topic": topic, "queue": queue, "created_at": now},
	}
	// Re-subscribing refreshes the expiry; ttl <= 0 clears it.
	if ttl > 0 {
		update["$set"] = bson.M{"expires_at": now.Add(ttl)}
	} else {
		update["$unset"] = bson.M{"expires_at": ""}
	}
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"topic": topic, "queue": queue},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert subscription")
	}
	return nil
}

func (s *SubscriptionStore) Unsubscribe(ctx context.Context, topic, queue string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"topic": topic, "queue": queue})
	if err != nil {
		return errors.Wrap(err, "failed to delete subscription")
	}
	return nil
}

func (s *SubscriptionStore) QueuesFor(ctx context.Context, topic string) ([]string, error) {
	query := bson.M{
		"topic": topic,
		"$or": []bson.M{
			{"expires_at": bson.M{"$exists": false}},
			{"expires_at": bson.M{"$gt": time.Now().UTC()}},
		},
	}
	cursor, err := s.collection.Find(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query subscriptions")
	}
	defer cursor.Close(ctx)

	var docs []*subscriptionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode subscriptions")
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Queue)
	}
	return out, nil
}

var _ bus.SubscriptionStore = (*SubscriptionStore)(nil)
