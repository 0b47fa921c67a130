package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator. The synchronization core only
// ever creates, reads and updates through it; query semantics live on the
// other side of this boundary.
type Store interface {
	// DirectConversation finds the direct conversation between two users,
	// creating it on first use. The unordered-pair key guarantees both
	// call orders resolve to the same row.
	DirectConversation(ctx context.Context, a, b string) (*Conversation, error)
	ConversationByID(ctx context.Context, id string) (*Conversation, error)

	SaveMessage(ctx context.Context, m *Message) error
	MessageByID(ctx context.Context, id string) (*Message, error)
	UpdateMessage(ctx context.Context, m *Message) error

	// MarkRead flags every unread message in the conversation that was not
	// sent by readerID and returns the rows it touched.
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]Message, error)

	// ConversationList is the expensive aggregate behind the cache layer:
	// every conversation the user participates in, newest activity first,
	// with last message and unread count.
	ConversationList(ctx context.Context, userID string) ([]ConversationSummary, error)
}

type gormStore struct {
	db *gorm.DB
}

func openStore(dsn string, verbose bool) (*gormStore, error) {
	loglevel := logger.Error
	if verbose {
		loglevel = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		CreateBatchSize: 10,
		Logger: logger.New(zap.NewStdLog(zap.L()), logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      loglevel,
		}),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(new(Conversation), new(Participant), new(Message)); err != nil {
		return nil, err
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) DirectConversation(ctx context.Context, a, b string) (*Conversation, error) {
	key := PairKeyFor(a, b)
	c := Conversation{}
	err := s.db.WithContext(ctx).Preload("Participants").
		Where("pair_key = ?", key).First(&c).Error
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	c = Conversation{
		ID:           newID(),
		Kind:         ConversationDirect,
		PairKey:      key,
		LastActivity: time.Now(),
		Participants: []Participant{{UserID: a}, {UserID: b}},
	}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		// Two connections racing on the first message both try to create;
		// the unique index on pair_key lets exactly one win.
		var again Conversation
		ferr := s.db.WithContext(ctx).Preload("Participants").
			Where("pair_key = ?", key).First(&again).Error
		if ferr != nil {
			return nil, err
		}
		return &again, nil
	}
	return &c, nil
}

func (s *gormStore) ConversationByID(ctx context.Context, id string) (*Conversation, error) {
	c := Conversation{}
	err := s.db.WithContext(ctx).Preload("Participants").
		Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *gormStore) SaveMessage(ctx context.Context, m *Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(new(Conversation)).
			Where("id = ?", m.ConversationID).
			Update("last_activity", m.CreatedAt).Error
	})
}

func (s *gormStore) MessageByID(ctx context.Context, id string) (*Message, error) {
	m := Message{}
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *gormStore) UpdateMessage(ctx context.Context, m *Message) error {
	return s.db.WithContext(ctx).Save(m).Error
}

func (s *gormStore) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]Message, error) {
	ms := []Message{}
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? and sender_id <> ? and read = ?", conversationID, readerID, false).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return ms, nil
	}
	ids := make([]string, 0, len(ms))
	for i := range ms {
		ids = append(ids, ms[i].ID)
		ms[i].Read = true
		ms[i].ReadAt = &at
	}
	err = s.db.WithContext(ctx).Model(new(Message)).
		Where("id in (?)", ids).
		Updates(map[string]interface{}{"read": true, "read_at": at}).Error
	if err != nil {
		return nil, err
	}
	return ms, nil
}

func (s *gormStore) ConversationList(ctx context.Context, userID string) ([]ConversationSummary, error) {
	ids := []string{}
	err := s.db.WithContext(ctx).Model(new(Participant)).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, err
	}

	out := make([]ConversationSummary, 0, len(ids))
	for _, id := range ids {
		c, err := s.ConversationByID(ctx, id)
		if err != nil {
			return nil, err
		}
		sum := ConversationSummary{Conversation: *c}

		last := Message{}
		err = s.db.WithContext(ctx).
			Where("conversation_id = ?", id).
			Order("created_at desc").First(&last).Error
		if err == nil {
			sum.LastMessage = &last
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		var unread int64
		err = s.db.WithContext(ctx).Model(new(Message)).
			Where("conversation_id = ? and sender_id <> ? and read = ?", id, userID, false).
			Count(&unread).Error
		if err != nil {
			return nil, err
		}
		sum.UnreadCount = int(unread)
		out = append(out, sum)
	}
	sortSummaries(out)
	return out, nil
}
