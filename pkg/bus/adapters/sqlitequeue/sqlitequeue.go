// Package sqlitequeue implements pkg/bus's Store and JournalStore against an
// embedded, file-backed SQLite database via GORM. A single database file
// holds both the queue and journal tables.
package sqlitequeue

import (
	"context"
	"strconv"
	"time"

	"github.com/coreflux/busline/pkg/bus"
	"github.com/coreflux/busline/pkg/bus/adapters/internal/wire"
	"github.com/coreflux/busline/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config configures the SQLite-backed store.
type Config struct {
	// Path is the database file path. ":memory:" opens a private, in-process
	// database that still exercises the SQL code path.
	Path string
}

// pbQueuedMessage is the GORM model behind the PB_QueuedMessages table.
type pbQueuedMessage struct {
	ID             string `gorm:"primaryKey"`
	Queue          string `gorm:"index"`
	MessageID      string
	HeadersJSON    string
	Content        []byte
	PrincipalJSON  string
	State          int
	Attempts       int
	AcknowledgedAt *time.Time
	AbandonedAt    *time.Time
}

func (pbQueuedMessage) TableName() string { return "PB_QueuedMessages" }

// pbMessageJournal is the GORM model behind PB_MessageJournal.
type pbMessageJournal struct {
	Position      uint64 `gorm:"primaryKey;autoIncrement"`
	Category      int    `gorm:"index"`
	Queue         string `gorm:"index"`
	Topic         string `gorm:"index"`
	MessageID     string
	HeadersJSON   string
	Content       []byte
	PrincipalJSON string
	RecordedAt    time.Time
}

func (pbMessageJournal) TableName() string { return "PB_MessageJournal" }

// Store is a sqlite-backed bus.Store.
type Store struct {
	db *gorm.DB
}

// New opens (creating if absent) the SQLite database at cfg.Path and runs
// the idempotent migration for PB_QueuedMessages.
func New(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = "bus.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to sqlite")
	}

	if err := db.AutoMigrate(&pbQueuedMessage{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate PB_QueuedMessages")
	}

	return &Store{db: db}, nil
}

func toRow(queue string, qm *bus.QueuedMessage) (*pbQueuedMessage, error) {
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
	return &pbQueuedMessage{
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

func fromRow(row *pbQueuedMessage) (*bus.QueuedMessage, error) {
	msgID, err := uuid.Parse(row.MessageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse stored message id")
	}
	headers, err := wire.UnmarshalHeaders(row.HeadersJSON)
	if err != nil {
		return nil, err
	}
	principal, err := wire.UnmarshalPrincipal(row.PrincipalJSON)
	if err != nil {
		return nil, err
	}
	return &bus.QueuedMessage{
		RecordID:       row.ID,
		Message:        &bus.Message{ID: msgID, Headers: headers, Content: row.Content},
		Principal:      principal,
		State:          bus.State(row.State),
		Attempts:       row.Attempts,
		AcknowledgedAt: row.AcknowledgedAt,
		AbandonedAt:    row.AbandonedAt,
	}, nil
}

func (s *Store) SelectPending(ctx context.Context, queue string) ([]*bus.QueuedMessage, error) {
	var rows []*pbQueuedMessage
	if err := s.db.WithContext(ctx).Where("queue = ? AND state = ?", queue, int(bus.Pending)).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to select pending records")
	}
	out := make([]*bus.QueuedMessage, 0, len(rows))
	for _, row := range rows {
		qm, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, qm)
	}
	return out, nil
}

func (s *Store) SelectDead(ctx context.Context, queue string, from, to time.Time) ([]*bus.QueuedMessage, error) {
	var rows []*pbQueuedMessage
	err := s.db.WithContext(ctx).
		Where("queue = ? AND state = ? AND abandoned_at BETWEEN ? AND ?", queue, int(bus.Abandoned), from, to).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to select dead records")
	}
	out := make([]*bus.QueuedMessage, 0, len(rows))
	for _, row := range rows {
		qm, err := fromRow(row)
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
	row, err := toRow(queue, qm)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, errors.Wrap(err, "failed to insert queue record")
	}
	return fromRow(row)
}

func (s *Store) Update(ctx context.Context, queue string, record *bus.QueuedMessage) error {
	res := s.db.WithContext(ctx).Model(&pbQueuedMessage{}).Where("id = ?", record.RecordID).Updates(map[string]interface{}{
		"state":           int(record.State),
		"attempts":        record.Attempts,
		"acknowledged_at": record.AcknowledgedAt,
		"abandoned_at":    record.AbandonedAt,
	})
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to update queue record")
	}
	if res.RowsAffected == 0 {
		return errors.NotFound("queue record not found: "+record.RecordID, nil)
	}
	return nil
}

var _ bus.Store = (*Store)(nil)

// JournalStore is a sqlite-backed bus.JournalStore. Both bus tables can
// share one database file.
type JournalStore struct {
	db *gorm.DB
}

// NewJournalStore opens (creating if absent) the SQLite database at
// cfg.Path and runs the idempotent migration for PB_MessageJournal. Passing
// the same path used by New for a Store lets both tables live in one file.
func NewJournalStore(cfg Config) (*JournalStore, error) {
	path := cfg.Path
	if path == "" {
		path = "bus.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to sqlite")
	}
	if err := db.AutoMigrate(&pbMessageJournal{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate PB_MessageJournal")
	}
	return &JournalStore{db: db}, nil
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
	row := &pbMessageJournal{
		Category:      int(entry.Category),
		Queue:         entry.Queue,
		Topic:         entry.Topic,
		MessageID:     entry.Message.ID.String(),
		HeadersJSON:   headersJSON,
		Content:       entry.Message.Content,
		PrincipalJSON: principalJSON,
		RecordedAt:    entry.RecordedAt,
	}
	if err := j.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, errors.Wrap(err, "failed to append journal entry")
	}
	out := *entry
	out.Position = bus.Position(strconv.FormatUint(row.Position, 10))
	return &out, nil
}

func (j *JournalStore) Read(ctx context.Context, filter bus.JournalFilter) ([]*bus.JournalEntry, error) {
	q := j.db.WithContext(ctx).Model(&pbMessageJournal{})
	if filter.Queue != "" {
		q = q.Where("queue = ?", filter.Queue)
	}
	if filter.Topic != "" {
		q = q.Where("topic = ?", filter.Topic)
	}
	if filter.After != "" {
		if pos, err := strconv.ParseUint(string(filter.After), 10, 64); err == nil {
			q = q.Where("position > ?", pos)
		}
	}
	if !filter.From.IsZero() {
		q = q.Where("recorded_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("recorded_at <= ?", filter.To)
	}
	if len(filter.Categories) > 0 {
		cats := make([]int, len(filter.Categories))
		for i, c := range filter.Categories {
			cats[i] = int(c)
		}
		q = q.Where("category IN ?", cats)
	}
	q = q.Order("position ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []*pbMessageJournal
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read journal")
	}

	out := make([]*bus.JournalEntry, 0, len(rows))
	for _, row := range rows {
		msgID, err := uuid.Parse(row.MessageID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse stored message id")
		}
		headers, err := wire.UnmarshalHeaders(row.HeadersJSON)
		if err != nil {
			return nil, err
		}
		principal, err := wire.UnmarshalPrincipal(row.PrincipalJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, &bus.JournalEntry{
			Position:   bus.Position(strconv.FormatUint(row.Position, 10)),
			Category:   bus.Category(row.Category),
			Queue:      row.Queue,
			Topic:      row.Topic,
			Message:    &bus.Message{ID: msgID, Headers: headers, Content: row.Content},
			Principal:  principal,
			RecordedAt: row.RecordedAt,
		})
	}
	return out, nil
}

var _ bus.JournalStore = (*JournalStore)(nil)
