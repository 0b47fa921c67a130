package main

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func md5Hex(s string) string {
	h := md5.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

func TestHandshakeRejectedBeforeRegistration(t *testing.T) {
	DefConfig.JWTSecret = "s3cret"
	n := newTestNode(t, newFakeStore())

	srv := httptest.NewServer(http.HandlerFunc(n.serveWs))
	defer srv.Close()

	for _, q := range []string{"", "?token=garbage"} {
		resp, err := http.Get(srv.URL + q)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
	}
	if n.presence.Count() != 0 {
		t.Fatal("a refused handshake must never register presence")
	}
}

func TestHandleFrameRequiresJoin(t *testing.T) {
	n := newTestNode(t, newFakeStore())
	c := testClient("u1", "c1")
	c.node = n

	n.handleFrame(c, []byte(`{"event":"sendMessage","data":{"recipientId":"u2","content":"hi"}}`))

	f := recvFrame(t, c)
	if f.Event != evError {
		t.Fatalf("expected error before join, got %q", f.Event)
	}
	if n.presence.IsOnline("u1") {
		t.Fatal("u1 must not be registered yet")
	}
}

func TestHandleFrameJoinThenSend(t *testing.T) {
	n := newTestNode(t, newFakeStore())
	c1 := testClient("u1", "c1")
	c1.node = n
	c2 := joinUser(n, "u2", "c2")

	n.handleFrame(c1, []byte(`{"event":"join"}`))
	n.handleFrame(c1, []byte(`{"event":"join"}`))
	if got := len(n.presence.ConnectionsFor("u1")); got != 1 {
		t.Fatalf("join must be idempotent, got %d connections", got)
	}

	n.handleFrame(c1, []byte(`{"event":"sendMessage","data":{"recipientId":"u2","content":"hi"}}`))
	m := recvMessage(t, c2)
	if m.Content != "hi" {
		t.Fatalf("bad delivery: %+v", m)
	}
}

func TestHandleFrameBadJSONIsIgnored(t *testing.T) {
	n := newTestNode(t, newFakeStore())
	c := joinUser(n, "u1", "c1")

	n.handleFrame(c, []byte(`{nope`))
	n.handleFrame(c, []byte(`{"event":"whatever"}`))
	noFrame(t, c)
}

func internalRouter(n *Node) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/internal/publish", n.handlePublish).Methods(http.MethodPost)
	r.HandleFunc("/internal/presence/{user}", n.handlePresence).Methods(http.MethodGet)
	r.HandleFunc("/internal/conversations/{user}", n.handleConversations).Methods(http.MethodGet)
	return r
}

func TestPublishEndpoint(t *testing.T) {
	DefConfig.InternalSecret = "internal"
	n := newTestNode(t, newFakeStore())
	c1 := joinUser(n, "u1", "c1")
	c2 := joinUser(n, "u2", "c2")

	srv := httptest.NewServer(internalRouter(n))
	defer srv.Close()

	body := `{"type":"shipment","action":"update","payload":{"id":"s1","status":"delivered"}}`
	ts := fmt.Sprint(time.Now().Unix())
	sign := md5Hex("internal" + body + ts)

	resp, err := http.Post(srv.URL+"/internal/publish?ts="+ts+"&sign="+sign, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	for _, c := range []*Client{c1, c2} {
		f := recvFrame(t, c)
		if f.Event != evDataUpdated {
			t.Fatalf("expected data-updated, got %q", f.Event)
		}
	}
}

func TestPublishEndpointBadSign(t *testing.T) {
	DefConfig.InternalSecret = "internal"
	n := newTestNode(t, newFakeStore())
	c1 := joinUser(n, "u1", "c1")

	srv := httptest.NewServer(internalRouter(n))
	defer srv.Close()

	body := `{"type":"shipment","action":"update","payload":{}}`
	resp, err := http.Post(srv.URL+"/internal/publish?ts=1&sign=bad", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	noFrame(t, c1)
}

func TestPublishEndpointScopedAndInvalidating(t *testing.T) {
	DefConfig.InternalSecret = "internal"
	n := newTestNode(t, newFakeStore())
	c1 := joinUser(n, "u1", "c1")
	c2 := joinUser(n, "u2", "c2")

	// Prime u1's aggregate so the invalidation is observable.
	n.cache.Set(conversationListKey("u1"), []byte("[]"), time.Minute)

	srv := httptest.NewServer(internalRouter(n))
	defer srv.Close()

	body := `{"type":"job","action":"create","payload":{"id":"j1"},"toUser":"u1","invalidateUsers":["u1"]}`
	ts := fmt.Sprint(time.Now().Unix())
	sign := md5Hex("internal" + body + ts)

	resp, err := http.Post(srv.URL+"/internal/publish?ts="+ts+"&sign="+sign, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	recvFrame(t, c1)
	noFrame(t, c2)
	if _, ok := n.cache.Get(conversationListKey("u1")); ok {
		t.Fatal("publish must invalidate the named users' aggregates")
	}
}

func TestPresenceEndpoint(t *testing.T) {
	n := newTestNode(t, newFakeStore())
	joinUser(n, "u1", "c1")

	srv := httptest.NewServer(internalRouter(n))
	defer srv.Close()

	check := func(user string, want bool) {
		t.Helper()
		resp, err := http.Get(srv.URL + "/internal/presence/" + user)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		out := map[string]bool{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out["online"] != want {
			t.Fatalf("presence(%s) = %v, want %v", user, out["online"], want)
		}
	}

	check("u1", true)
	check("ghost", false)
}

func TestPresenceCacheDroppedOnDisconnect(t *testing.T) {
	n := newTestNode(t, newFakeStore())
	c := joinUser(n, "u1", "c1")

	srv := httptest.NewServer(internalRouter(n))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/internal/presence/u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if _, ok := n.cache.Get(presenceKey("u1")); !ok {
		t.Fatal("lookup should have been cached")
	}

	n.dropClient(c)
	if _, ok := n.cache.Get(presenceKey("u1")); ok {
		t.Fatal("disconnect must drop the cached presence entry")
	}
}
