package main

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const replySnippetLen = 80

// handleSendMessage walks one outgoing message through its states:
// submitted by the client, persisted through the store, then fanned out.
// The confirmation always goes back to the sender's own connections too,
// so every tab the sender has open can reconcile its optimistic copy.
// An offline recipient is not an error; the persisted row waits for their
// next pull.
func (n *Node) handleSendMessage(c *Client, data json.RawMessage) {
	log := c.log.With("method", "sendMessage")
	req := sendMessageReq{}
	if err := json.Unmarshal(data, &req); err != nil {
		n.sendError(c, evSendMessage, "bad payload")
		return
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		n.sendError(c, evSendMessage, "empty message")
		return
	}

	ctx := context.Background()
	conv, err := n.resolveConversation(ctx, c.user, req)
	if err != nil {
		log.Error("resolve conversation:", err)
		n.sendError(c, evSendMessage, "conversation unavailable")
		return
	}

	m := &Message{
		ID:             newID(),
		ConversationID: conv.ID,
		SenderID:       c.user,
		Content:        req.Content,
		Attachments:    req.Attachments,
		Reactions:      ReactionList{},
		CreatedAt:      time.Now(),
	}
	if conv.Kind == ConversationDirect {
		// The stored row carries the recipient either way the client
		// addressed the write.
		m.RecipientID = req.RecipientID
		if m.RecipientID == "" {
			m.RecipientID = conv.OtherParticipant(c.user)
		}
	}
	if req.ReplyTo != "" {
		if target, err := n.store.MessageByID(ctx, req.ReplyTo); err == nil {
			m.ReplyToID = target.ID
			m.ReplySnippet = snippet(target.Content)
			m.ReplySender = target.SenderID
		} else {
			log.Warn("reply target missing:", req.ReplyTo, err)
		}
	}

	if err := n.store.SaveMessage(ctx, m); err != nil {
		log.Error("db:save message:", err)
		n.sendError(c, evSendMessage, "write rejected")
		return
	}

	participants := conv.ParticipantIDs()
	n.invalidateAggregates(participants...)

	for _, pid := range participants {
		payload := confirmedMessage{Message: *m}
		if pid == c.user {
			payload.LocalID = req.LocalID
		}
		d, err := json.Marshal(payload)
		if err != nil {
			log.Error("json:marshal message:", err)
			continue
		}
		n.bc.Publish(DomainEvent{
			Kind:    KindMessage,
			Action:  ActionCreate,
			Payload: d,
		}, Scope{ToUser: pid})
	}
}

func (n *Node) resolveConversation(ctx context.Context, sender string, req sendMessageReq) (*Conversation, error) {
	if req.ConversationID != "" {
		conv, err := n.store.ConversationByID(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		if !conv.HasParticipant(sender) {
			return nil, ErrNotFound
		}
		return conv, nil
	}
	if req.RecipientID == "" {
		return nil, ErrNotFound
	}
	return n.store.DirectConversation(ctx, sender, req.RecipientID)
}

// handleTyping relays a typing indicator to the recipient's connections.
// Nothing is persisted; a recipient who is offline just never sees it.
func (n *Node) handleTyping(c *Client, data json.RawMessage) {
	req := typingReq{}
	if err := json.Unmarshal(data, &req); err != nil || req.RecipientID == "" {
		return
	}
	frame := mustFrame(evUserTyping, typingEvent{
		SenderID:    c.user,
		RecipientID: req.RecipientID,
		IsTyping:    req.IsTyping,
	})
	for _, rc := range n.presence.ConnectionsFor(req.RecipientID) {
		if !rc.trySend(frame) {
			sendFailures.Inc()
		}
	}
}

// handleReact toggles a (user, emoji) reaction on a message and relays
// the message's full reaction state to every participant.
func (n *Node) handleReact(c *Client, data json.RawMessage) {
	log := c.log.With("method", "react")
	req := reactReq{}
	if err := json.Unmarshal(data, &req); err != nil || req.MessageID == "" || req.Emoji == "" {
		n.sendError(c, evReact, "bad payload")
		return
	}

	ctx := context.Background()
	m, err := n.store.MessageByID(ctx, req.MessageID)
	if err != nil {
		log.Error("db:find message:", err)
		n.sendError(c, evReact, "message unavailable")
		return
	}
	conv, err := n.store.ConversationByID(ctx, m.ConversationID)
	if err != nil {
		log.Error("db:find conversation:", err)
		n.sendError(c, evReact, "conversation unavailable")
		return
	}
	if !conv.HasParticipant(c.user) {
		n.sendError(c, evReact, "not a participant")
		return
	}

	m.Reactions = m.Reactions.Toggle(c.user, req.Emoji)
	if err := n.store.UpdateMessage(ctx, m); err != nil {
		log.Error("db:update message:", err)
		n.sendError(c, evReact, "write rejected")
		return
	}

	participants := conv.ParticipantIDs()
	n.invalidateAggregates(participants...)

	d, err := json.Marshal(reactionEvent{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		Reactions:      m.Reactions,
	})
	if err != nil {
		log.Error("json:marshal reactions:", err)
		return
	}
	for _, pid := range participants {
		n.bc.Publish(DomainEvent{
			Kind:    KindReaction,
			Action:  ActionUpdate,
			Payload: d,
		}, Scope{ToUser: pid})
	}
}

// handleMarkRead flags the conversation read for the caller and relays a
// read receipt per touched message to the other participants.
func (n *Node) handleMarkRead(c *Client, data json.RawMessage) {
	log := c.log.With("method", "markRead")
	req := markReadReq{}
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		n.sendError(c, evMarkRead, "bad payload")
		return
	}

	ctx := context.Background()
	conv, err := n.store.ConversationByID(ctx, req.ConversationID)
	if err != nil {
		log.Error("db:find conversation:", err)
		n.sendError(c, evMarkRead, "conversation unavailable")
		return
	}
	if !conv.HasParticipant(c.user) {
		n.sendError(c, evMarkRead, "not a participant")
		return
	}

	now := time.Now()
	read, err := n.store.MarkRead(ctx, conv.ID, c.user, now)
	if err != nil {
		log.Error("db:mark read:", err)
		n.sendError(c, evMarkRead, "write rejected")
		return
	}
	if len(read) == 0 {
		return
	}

	participants := conv.ParticipantIDs()
	n.invalidateAggregates(participants...)

	for _, m := range read {
		d, err := json.Marshal(readEvent{
			MessageID:      m.ID,
			ConversationID: conv.ID,
			ReadAt:         now,
			ReaderID:       c.user,
		})
		if err != nil {
			log.Error("json:marshal read event:", err)
			continue
		}
		for _, pid := range participants {
			if pid == c.user {
				continue
			}
			n.bc.Publish(DomainEvent{
				Kind:    KindReadReceipt,
				Action:  ActionUpdate,
				Payload: d,
			}, Scope{ToUser: pid})
		}
	}
}

// invalidateAggregates drops every cached conversation-list aggregate
// whose value depends on the write that just happened. This runs before
// the write path returns, so the next read either misses or sees
// post-write state, never the stale value.
func (n *Node) invalidateAggregates(userIDs ...string) {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, conversationListKey(id))
	}
	n.cache.Delete(keys...)
}

// conversationList serves the cached aggregate, recomputing from the
// store on a miss.
func (n *Node) conversationList(ctx context.Context, userID string) ([]byte, error) {
	key := conversationListKey(userID)
	if v, ok := n.cache.Get(key); ok {
		cacheHits.WithLabelValues("hit").Inc()
		return v, nil
	}
	cacheHits.WithLabelValues("miss").Inc()

	sums, err := n.store.ConversationList(ctx, userID)
	if err != nil {
		return nil, err
	}
	v, err := json.Marshal(sums)
	if err != nil {
		return nil, err
	}
	n.cache.Set(key, v, time.Duration(DefConfig.Cache.aggregateTTL())*time.Minute)
	return v, nil
}

func (n *Node) sendError(c *Client, op, msg string) {
	if !c.trySend(mustFrame(evError, errorEvent{Op: op, Message: msg})) {
		zap.S().Warn("error frame dropped:", c.user, op)
	}
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= replySnippetLen {
		return s
	}
	return string(r[:replySnippetLen])
}
