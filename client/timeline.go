package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is the client-side view of a message: either a server-confirmed
// row or a pending optimistic record awaiting its confirmation.
type Message struct {
	ID             string       `json:"id"`
	LocalID        string       `json:"localId,omitempty"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	RecipientID    string       `json:"recipientId,omitempty"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Read           bool         `json:"read"`
	ReadAt         *time.Time   `json:"readAt,omitempty"`
	ReplyToID      string       `json:"replyToId,omitempty"`
	ReplySnippet   string       `json:"replySnippet,omitempty"`
	ReplySender    string       `json:"replySender,omitempty"`
	Reactions      []Reaction   `json:"reactions"`
	CreatedAt      time.Time    `json:"createdAt"`

	// Pending marks an optimistic record that has not been confirmed yet.
	Pending bool `json:"-"`
}

type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
	Size      int64  `json:"size"`
}

type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

type ReadEvent struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReadAt         time.Time `json:"readAt"`
	ReaderID       string    `json:"readerId"`
}

type ReactionEvent struct {
	MessageID      string     `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	Reactions      []Reaction `json:"reactions"`
}

// newLocalID mints a temporary identifier for an optimistic record. The
// prefix keeps the namespace disjoint from server ids, which are bare
// UUIDs.
func newLocalID() string {
	return "local-" + uuid.NewString()
}

// matchesEcho is the heuristic tying an optimistic record to a confirmed
// echo when the local id is unavailable: same sender, same content, same
// destination. A direct message is submitted before the client knows its
// conversation id while the echo always carries the server-resolved one,
// so when the pending record has no conversation id the destination is
// compared on the recipient instead.
func (m *Message) matchesEcho(confirmed *Message) bool {
	if m.SenderID != confirmed.SenderID || m.Content != confirmed.Content {
		return false
	}
	if m.ConversationID != "" {
		return m.ConversationID == confirmed.ConversationID
	}
	return m.RecipientID != "" && m.RecipientID == confirmed.RecipientID
}

// Timeline is the ordered local view of messages for one user. Writes
// land optimistically and are replaced in place when the confirmed echo
// arrives; after reconciliation exactly one visible copy of any write
// exists, never zero and never two.
type Timeline struct {
	mu      sync.Mutex
	userID  string
	records []*Message
	byID    map[string]*Message
	byLocal map[string]*Message
}

func NewTimeline(userID string) *Timeline {
	return &Timeline{
		userID:  userID,
		byID:    map[string]*Message{},
		byLocal: map[string]*Message{},
	}
}

// ApplyOptimistic appends a provisional record so the UI reflects the
// write immediately, and returns the minted local id.
func (t *Timeline) ApplyOptimistic(m Message) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	m.LocalID = newLocalID()
	m.SenderID = t.userID
	m.Pending = true
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	r := &m
	t.records = append(t.records, r)
	t.byLocal[m.LocalID] = r
	return m.LocalID
}

// Reconcile merges a confirmed message into the timeline:
//
//  1. an echoed local id, or a sender/content/destination match against a
//     pending record of ours, replaces that record in place;
//  2. a known server id updates the existing record, last write wins;
//  3. anything else is appended as new — confirmed data is never dropped.
func (t *Timeline) Reconcile(confirmed Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	confirmed.Pending = false

	if r, ok := t.byLocal[confirmed.LocalID]; ok && confirmed.LocalID != "" && r.Pending {
		t.replace(r, confirmed)
		return
	}
	if confirmed.SenderID == t.userID {
		if r := t.pendingMatch(&confirmed); r != nil {
			t.replace(r, confirmed)
			return
		}
	}
	if r, ok := t.byID[confirmed.ID]; ok {
		local := r.LocalID
		*r = confirmed
		r.LocalID = local
		return
	}

	r := &confirmed
	t.records = append(t.records, r)
	t.byID[confirmed.ID] = r
}

// replace swaps the confirmed row into the pending record's slot, keeping
// its position in the order.
func (t *Timeline) replace(r *Message, confirmed Message) {
	local := r.LocalID
	*r = confirmed
	r.LocalID = local
	t.byID[r.ID] = r
}

// pendingMatch returns the oldest unresolved record matching the echo,
// so rapid identical writes resolve in submission order.
func (t *Timeline) pendingMatch(confirmed *Message) *Message {
	for _, r := range t.records {
		if r.Pending && r.matchesEcho(confirmed) {
			return r
		}
	}
	return nil
}

// ToggleReaction applies a reaction optimistically. The authoritative set
// arrives later via ApplyReactions and overwrites this.
func (t *Timeline) ToggleReaction(messageID, emoji string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[messageID]
	if !ok {
		return
	}
	for i, re := range r.Reactions {
		if re.UserID == t.userID && re.Emoji == emoji {
			r.Reactions = append(r.Reactions[:i:i], r.Reactions[i+1:]...)
			return
		}
	}
	r.Reactions = append(r.Reactions, Reaction{UserID: t.userID, Emoji: emoji})
}

// ApplyReactions replaces a message's reaction set with the confirmed
// state. Unknown message ids are ignored; the row will arrive on the next
// pull.
func (t *Timeline) ApplyReactions(ev ReactionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.byID[ev.MessageID]; ok {
		r.Reactions = ev.Reactions
	}
}

// ApplyRead marks a message read from a confirmed read receipt.
func (t *Timeline) ApplyRead(ev ReadEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.byID[ev.MessageID]; ok {
		r.Read = true
		at := ev.ReadAt
		r.ReadAt = &at
	}
}

// Messages returns a snapshot of the timeline in order.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, *r)
	}
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
