package client

import (
	"encoding/json"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Frame mirrors the server's wire envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Update is a broadcast-scope domain event (shipment, driver, user,
// payment, job) as delivered on data-updated.
type Update struct {
	Type    string          `json:"type"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Session is one live dashboard connection: it holds the websocket, the
// local timeline, and the reconciliation loop that feeds it.
type Session struct {
	userID string

	conn *websocket.Conn
	wmu  sync.Mutex

	Timeline *Timeline

	// OnData, when set, receives broadcast-scope domain events. Role
	// filtering is the dashboard's business, not the server's.
	OnData func(Update)

	// OnTyping, when set, receives typing relays.
	OnTyping func(senderID string, isTyping bool)

	log  *zap.SugaredLogger
	done chan struct{}
}

// Dial connects, presents the session token at the handshake, and joins
// the presence registry. The token is never sent again after this.
func Dial(addr, token, userID string) (*Session, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws", RawQuery: "token=" + url.QueryEscape(token)}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	s := &Session{
		userID:   userID,
		conn:     conn,
		Timeline: NewTimeline(userID),
		log:      zap.S().With("component", "session", "user", userID),
		done:     make(chan struct{}),
	}
	if err := s.writeFrame("join", nil); err != nil {
		conn.Close()
		return nil, err
	}
	go s.readLoop()
	return s, nil
}

func (s *Session) Close() error {
	close(s.done)
	return s.conn.Close()
}

// SendMessage applies the optimistic record and submits the write, with
// the local id riding along so the confirmation echo is unambiguous.
func (s *Session) SendMessage(recipientID, conversationID, content string, attachments []Attachment, replyTo string) (string, error) {
	localID := s.Timeline.ApplyOptimistic(Message{
		ConversationID: conversationID,
		RecipientID:    recipientID,
		Content:        content,
		Attachments:    attachments,
		ReplyToID:      replyTo,
	})
	err := s.writeFrame("sendMessage", map[string]interface{}{
		"recipientId":    recipientID,
		"conversationId": conversationID,
		"content":        content,
		"attachments":    attachments,
		"replyTo":        replyTo,
		"localId":        localID,
	})
	return localID, err
}

// React toggles a reaction locally and submits the toggle.
func (s *Session) React(messageID, emoji string) error {
	s.Timeline.ToggleReaction(messageID, emoji)
	return s.writeFrame("react", map[string]interface{}{
		"messageId": messageID,
		"emoji":     emoji,
	})
}

func (s *Session) MarkRead(conversationID string) error {
	return s.writeFrame("markRead", map[string]interface{}{
		"conversationId": conversationID,
	})
}

func (s *Session) Typing(recipientID string, isTyping bool) error {
	return s.writeFrame("typing", map[string]interface{}{
		"recipientId": recipientID,
		"isTyping":    isTyping,
	})
}

func (s *Session) writeFrame(event string, payload interface{}) error {
	f := Frame{Event: event}
	if payload != nil {
		d, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		f.Data = d
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Error("read:", err)
			}
			return
		}
		s.dispatch(data)
	}
}

// dispatch feeds every confirmed event through reconciliation. Events we
// cannot place are appended, never discarded.
func (s *Session) dispatch(data []byte) {
	f := Frame{}
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Error("frame json:", err)
		return
	}
	switch f.Event {
	case "new-message":
		m := Message{}
		if err := json.Unmarshal(f.Data, &m); err != nil {
			s.log.Error("message json:", err)
			return
		}
		s.Timeline.Reconcile(m)
	case "messageRead":
		ev := ReadEvent{}
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			s.log.Error("read json:", err)
			return
		}
		s.Timeline.ApplyRead(ev)
	case "messageReaction":
		ev := ReactionEvent{}
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			s.log.Error("reaction json:", err)
			return
		}
		s.Timeline.ApplyReactions(ev)
	case "data-updated":
		if s.OnData == nil {
			return
		}
		u := Update{}
		if err := json.Unmarshal(f.Data, &u); err != nil {
			s.log.Error("update json:", err)
			return
		}
		s.OnData(u)
	case "userTyping":
		if s.OnTyping == nil {
			return
		}
		ev := struct {
			SenderID string `json:"senderId"`
			IsTyping bool   `json:"isTyping"`
		}{}
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			return
		}
		s.OnTyping(ev.SenderID, ev.IsTyping)
	case "error":
		s.log.Warn("server error frame:", string(f.Data))
	}
}
