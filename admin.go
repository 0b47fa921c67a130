package main

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func internalResp(log *zap.SugaredLogger, w http.ResponseWriter, status int, code, content string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"code":"` + code + `","data":"` + content + `"}`))
	log.Info("[RESP]", code, content)
}

// publishReq is what the CRUD handlers post after a successful write:
// the domain event to fan out, plus the users whose cached aggregates
// the write made stale.
type publishReq struct {
	Type    EntityKind      `json:"type"`
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload"`

	ToUser          string   `json:"toUser,omitempty"`
	InvalidateUsers []string `json:"invalidateUsers,omitempty"`
}

// handlePublish lets the out-of-process CRUD layer push confirmed domain
// events into the fan-out path. Requests are MD5-signed with the shared
// internal secret.
func (n *Node) handlePublish(w http.ResponseWriter, r *http.Request) {
	log := zap.S().With("method", "publish")
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		internalResp(log, w, http.StatusBadRequest, "fail", "body")
		return
	}

	s := r.URL.Query().Get("sign")
	ts := r.URL.Query().Get("ts")
	if s == "" || ts == "" || !CheckSignMD5(DefConfig.InternalSecret, string(body), ts, s) {
		internalResp(log, w, http.StatusUnauthorized, "fail", "sign")
		return
	}

	req := publishReq{}
	if err := json.Unmarshal(body, &req); err != nil {
		internalResp(log, w, http.StatusBadRequest, "fail", "data format")
		return
	}
	if !validKind(req.Type) || req.Action == "" {
		internalResp(log, w, http.StatusBadRequest, "fail", "unknown event")
		return
	}

	// Stale aggregates go before the event does: by the time any client
	// reacts to the push, a re-read already misses.
	if len(req.InvalidateUsers) > 0 {
		n.invalidateAggregates(req.InvalidateUsers...)
	}

	scope := Scope{ToAllAuthenticated: true}
	if req.ToUser != "" {
		scope = Scope{ToUser: req.ToUser}
	}
	n.bc.Publish(DomainEvent{
		Kind:    req.Type,
		Action:  req.Action,
		Payload: req.Payload,
	}, scope)
	internalResp(log, w, http.StatusOK, "ok", string(req.Type))
}

// handlePresence reports whether a user has a live connection. The
// answer is cached with the short presence TTL; registry changes delete
// the key, so the cache never outlives a disconnect by long.
func (n *Node) handlePresence(w http.ResponseWriter, r *http.Request) {
	log := zap.S().With("method", "presence")
	userID := mux.Vars(r)["user"]
	key := presenceKey(userID)

	if v, ok := n.cache.Get(key); ok {
		cacheHits.WithLabelValues("hit").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.Write(v)
		return
	}
	cacheHits.WithLabelValues("miss").Inc()

	v, err := json.Marshal(map[string]bool{"online": n.presence.IsOnline(userID)})
	if err != nil {
		internalResp(log, w, http.StatusInternalServerError, "fail", "encode")
		return
	}
	n.cache.Set(key, v, time.Duration(DefConfig.Cache.presenceTTL())*time.Minute)
	w.Header().Set("Content-Type", "application/json")
	w.Write(v)
}

// handleConversations serves the cached conversation-list aggregate for
// the pull path.
func (n *Node) handleConversations(w http.ResponseWriter, r *http.Request) {
	log := zap.S().With("method", "conversations")
	userID := mux.Vars(r)["user"]

	v, err := n.conversationList(r.Context(), userID)
	if err != nil {
		log.Error("aggregate:", err)
		internalResp(log, w, http.StatusInternalServerError, "fail", "aggregate")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(v)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
