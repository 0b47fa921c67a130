package main

import (
	"context"
	"sync"
	"time"
)

// fakeStore keeps everything in maps; the tests only need the
// create/read/update surface the core calls through.
type fakeStore struct {
	mu     sync.Mutex
	convs  map[string]*Conversation
	byPair map[string]*Conversation
	msgs   map[string]*Message
	order  []string

	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs:  map[string]*Conversation{},
		byPair: map[string]*Conversation{},
		msgs:   map[string]*Message{},
	}
}

func (s *fakeStore) DirectConversation(ctx context.Context, a, b string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := PairKeyFor(a, b)
	if c, ok := s.byPair[key]; ok {
		return c, nil
	}
	c := &Conversation{
		ID:           newID(),
		Kind:         ConversationDirect,
		PairKey:      key,
		LastActivity: time.Now(),
		Participants: []Participant{{UserID: a}, {UserID: b}},
	}
	s.byPair[key] = c
	s.convs[c.ID] = c
	return c, nil
}

func (s *fakeStore) ConversationByID(ctx context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) addGroup(name string, users ...string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &Conversation{
		ID:           newID(),
		Kind:         ConversationGroup,
		Name:         name,
		LastActivity: time.Now(),
	}
	for _, u := range users {
		c.Participants = append(c.Participants, Participant{UserID: u})
	}
	s.convs[c.ID] = c
	return c
}

func (s *fakeStore) SaveMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := *m
	s.msgs[m.ID] = &cp
	s.order = append(s.order, m.ID)
	if c, ok := s.convs[m.ConversationID]; ok {
		c.LastActivity = m.CreatedAt
	}
	return nil
}

func (s *fakeStore) MessageByID(ctx context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) UpdateMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[m.ID]; !ok {
		return ErrNotFound
	}
	cp := *m
	s.msgs[m.ID] = &cp
	return nil
}

func (s *fakeStore) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Message{}
	for _, id := range s.order {
		m := s.msgs[id]
		if m.ConversationID != conversationID || m.SenderID == readerID || m.Read {
			continue
		}
		m.Read = true
		t := at
		m.ReadAt = &t
		out = append(out, *m)
	}
	return out, nil
}

func (s *fakeStore) ConversationList(ctx context.Context, userID string) ([]ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ConversationSummary{}
	for _, c := range s.convs {
		if !c.HasParticipant(userID) {
			continue
		}
		sum := ConversationSummary{Conversation: *c}
		for _, id := range s.order {
			m := s.msgs[id]
			if m.ConversationID != c.ID {
				continue
			}
			cp := *m
			sum.LastMessage = &cp
			if m.SenderID != userID && !m.Read {
				sum.UnreadCount++
			}
		}
		out = append(out, sum)
	}
	sortSummaries(out)
	return out, nil
}
