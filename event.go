package main

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityKind tags which domain object a DomainEvent is about.
type EntityKind string

const (
	KindShipment    EntityKind = "shipment"
	KindDriver      EntityKind = "driver"
	KindUser        EntityKind = "user"
	KindPayment     EntityKind = "payment"
	KindJob         EntityKind = "job"
	KindMessage     EntityKind = "message"
	KindReaction    EntityKind = "reaction"
	KindReadReceipt EntityKind = "readReceipt"
)

func validKind(k EntityKind) bool {
	switch k {
	case KindShipment, KindDriver, KindUser, KindPayment, KindJob,
		KindMessage, KindReaction, KindReadReceipt:
		return true
	}
	return false
}

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// DomainEvent is immutable once built: publish it and forget it.
type DomainEvent struct {
	Kind    EntityKind      `json:"type"`
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Scope selects who a published event reaches. Exactly one field is set.
type Scope struct {
	ToUser             string `json:"toUser,omitempty"`
	ToAllAuthenticated bool   `json:"toAllAuthenticated,omitempty"`
}

// Frame is the wire envelope on the websocket, both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client-to-server events.
const (
	evJoin        = "join"
	evSendMessage = "sendMessage"
	evTyping      = "typing"
	evReact       = "react"
	evMarkRead    = "markRead"
)

// Server-to-client events.
const (
	evNewMessage      = "new-message"
	evMessageRead     = "messageRead"
	evMessageReaction = "messageReaction"
	evDataUpdated     = "data-updated"
	evUserTyping      = "userTyping"
	evError           = "error"
)

// encode renders the frame a connection receives for this event. Chat
// events keep their dedicated names; everything else rides data-updated
// with the full tagged event so dashboards can filter client-side.
func (e DomainEvent) encode() ([]byte, error) {
	switch e.Kind {
	case KindMessage:
		return frameBytes(evNewMessage, e.Payload)
	case KindReadReceipt:
		return frameBytes(evMessageRead, e.Payload)
	case KindReaction:
		return frameBytes(evMessageReaction, e.Payload)
	}
	d, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return frameBytes(evDataUpdated, d)
}

func frameBytes(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

func mustFrame(event string, payload interface{}) []byte {
	d, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	b, err := frameBytes(event, d)
	if err != nil {
		panic(err)
	}
	return b
}

type sendMessageReq struct {
	RecipientID    string         `json:"recipientId,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	Content        string         `json:"content"`
	Attachments    AttachmentList `json:"attachments,omitempty"`
	ReplyTo        string         `json:"replyTo,omitempty"`

	// LocalID is the client's optimistic temporary identifier. It is
	// echoed back verbatim in the confirmation so the sender can match
	// the echo even across identical rapid-fire messages.
	LocalID string `json:"localId,omitempty"`
}

type typingReq struct {
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

type reactReq struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type markReadReq struct {
	ConversationID string `json:"conversationId"`
}

// confirmedMessage is the new-message payload: the persisted row plus the
// echoed local id.
type confirmedMessage struct {
	Message
	LocalID string `json:"localId,omitempty"`
}

type readEvent struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReadAt         time.Time `json:"readAt"`
	ReaderID       string    `json:"readerId"`
}

type reactionEvent struct {
	MessageID      string       `json:"messageId"`
	ConversationID string       `json:"conversationId"`
	Reactions      ReactionList `json:"reactions"`
}

type typingEvent struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

type errorEvent struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}

func newID() string {
	return uuid.NewString()
}
