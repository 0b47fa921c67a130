package main

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

type Conversation struct {
	ID   string `json:"id" gorm:"primaryKey;size:64"`
	Kind string `json:"kind" gorm:"index;size:16"`

	// PairKey is the unordered-pair key for direct conversations so the
	// same two users can never end up with two threads. Empty for groups.
	PairKey string `json:"-" gorm:"uniqueIndex;size:160"`

	Name    string `json:"name,omitempty"`
	OwnerID string `json:"ownerId,omitempty" gorm:"size:64"`

	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`

	Participants []Participant `json:"participants" gorm:"foreignKey:ConversationID"`
}

type Participant struct {
	ID             uint   `json:"-" gorm:"primaryKey"`
	ConversationID string `json:"-" gorm:"index;size:64"`
	UserID         string `json:"userId" gorm:"index;size:64"`
}

func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// OtherParticipant returns the peer in a direct conversation.
func (c *Conversation) OtherParticipant(userID string) string {
	for _, p := range c.Participants {
		if p.UserID != userID {
			return p.UserID
		}
	}
	return ""
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// PairKeyFor builds the unordered-pair key: the same key comes out no
// matter which side initiates.
func PairKeyFor(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

type Message struct {
	ID             string `json:"id" gorm:"primaryKey;size:64"`
	ConversationID string `json:"conversationId" gorm:"index;size:64"`
	SenderID       string `json:"senderId" gorm:"index;size:64"`
	RecipientID    string `json:"recipientId,omitempty" gorm:"size:64"`

	Content     string         `json:"content"`
	Attachments AttachmentList `json:"attachments,omitempty" gorm:"type:jsonb"`

	Read   bool       `json:"read" gorm:"index"`
	ReadAt *time.Time `json:"readAt,omitempty"`

	// Reply reference, denormalized so clients can render the quoted
	// snippet without another fetch.
	ReplyToID    string `json:"replyToId,omitempty" gorm:"size:64"`
	ReplySnippet string `json:"replySnippet,omitempty"`
	ReplySender  string `json:"replySender,omitempty"`

	Reactions ReactionList `json:"reactions" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"createdAt" gorm:"index"`
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

type AttachmentList []Attachment

func (l AttachmentList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *AttachmentList) Scan(v interface{}) error {
	return scanJSON(v, l)
}

type ReactionList []Reaction

// Toggle adds the (user, emoji) reaction if absent and removes it if
// present. At most one entry per pair survives either way.
func (l ReactionList) Toggle(userID, emoji string) ReactionList {
	for i, r := range l {
		if r.UserID == userID && r.Emoji == emoji {
			return append(l[:i:i], l[i+1:]...)
		}
	}
	return append(l, Reaction{UserID: userID, Emoji: emoji})
}

func (l ReactionList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *ReactionList) Scan(v interface{}) error {
	return scanJSON(v, l)
}

func scanJSON(v, dst interface{}) error {
	switch d := v.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(d, dst)
	case string:
		return json.Unmarshal([]byte(d), dst)
	default:
		return fmt.Errorf("unsupported column type %T", v)
	}
}

// ConversationSummary is the per-conversation row of the aggregate the
// cache layer memoizes for each user.
type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	LastMessage  *Message     `json:"lastMessage,omitempty"`
	UnreadCount  int          `json:"unreadCount"`
}

func sortSummaries(s []ConversationSummary) {
	sort.Slice(s, func(i, j int) bool {
		return s[i].Conversation.LastActivity.After(s[j].Conversation.LastActivity)
	})
}
