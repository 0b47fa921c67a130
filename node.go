package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v9"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Node owns the shared state of one server instance: the presence
// registry, the broadcaster, the cache and the store handle. Every
// connection goroutine goes through it.
type Node struct {
	presence *Presence
	bc       *Broadcaster
	cache    Cache
	store    Store

	rdb  *redis.Client
	rpub *redis.PubSub

	upgrader websocket.Upgrader

	log *zap.SugaredLogger
}

// ClusterMessage is the envelope on the redis relay channel.
type ClusterMessage struct {
	NodeName  string      `json:"node"`
	Event     DomainEvent `json:"event"`
	Scope     Scope       `json:"scope"`
	Timestamp int64       `json:"ts"`
}

func newNode() *Node {
	log := zap.S()

	store, err := openStore(DefConfig.DB, DefConfig.DBLog)
	if err != nil {
		log.Fatal(err)
	}

	var cache Cache
	var rdb *redis.Client
	if DefConfig.Redis.Enable {
		rdb = redis.NewClient(&redis.Options{
			Addr:         DefConfig.Redis.Host,
			DialTimeout:  10 * time.Second,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			PoolSize:     10,
			PoolTimeout:  30 * time.Second,
		})
		if DefConfig.Redis.Name == "" {
			DefConfig.Redis.Name = time.Now().Format("Node-20060102150405")
		}
		if DefConfig.Redis.Channel == "" {
			DefConfig.Redis.Channel = "realtime-events"
		}
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatal("redis err:", err.Error())
		}
		cache = newRedisCache(rdb)
	} else {
		cache = newMemoryCache()
	}

	n := buildNode(store, cache)
	n.rdb = rdb
	if rdb != nil {
		n.bc.relay = n
		go n.clusterRev()
		log.Info("node joined relay channel:", DefConfig.Redis.Name, DefConfig.Redis.Channel)
	}
	return n
}

// buildNode wires the in-memory components. Production goes through
// newNode; tests inject their own store and cache here.
func buildNode(store Store, cache Cache) *Node {
	n := &Node{
		presence: NewPresence(),
		cache:    cache,
		store:    store,
		log:      zap.S().With("component", "node"),
	}
	n.bc = NewBroadcaster(n.presence)
	n.upgrader = websocket.Upgrader{
		ReadBufferSize:  DefConfig.Client.ReadBufferSize,
		WriteBufferSize: DefConfig.Client.WriteBufferSize,
	}
	n.upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}
	return n
}

// Relay publishes the event to the redis channel for sibling nodes.
func (n *Node) Relay(ev DomainEvent, scope Scope) {
	log := n.log.With("method", "relay")
	d, err := json.Marshal(ClusterMessage{
		NodeName:  DefConfig.Redis.Name,
		Event:     ev,
		Scope:     scope,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		log.Error("json:", err)
		return
	}
	if err := n.rdb.Publish(context.Background(), DefConfig.Redis.Channel, string(d)).Err(); err != nil {
		log.Error("redis:", err)
	}
}

// clusterRev consumes the relay channel and delivers sibling events to
// local connections only; relaying them again would loop.
func (n *Node) clusterRev() {
	log := zap.S().With("method", "clusterRev")
	defer func() {
		if err := recover(); err != nil {
			log.Error("clusterRev err:", err)
		}
		go n.clusterRev()
	}()
	n.rpub = n.rdb.Subscribe(context.Background(), DefConfig.Redis.Channel)

	m := ClusterMessage{}
	for msg := range n.rpub.Channel() {
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			log.Error("clusterRev json:", err)
			continue
		}
		if m.NodeName == DefConfig.Redis.Name {
			continue
		}
		n.bc.deliver(m.Event, m.Scope)
	}
}

func (n *Node) Close() {
	if n.rpub != nil {
		n.rpub.Close()
	}
	if n.rdb != nil {
		n.rdb.Close()
	}
	if mc, ok := n.cache.(*memoryCache); ok {
		mc.Close()
	}
}

// handleFrame dispatches one inbound frame. Identity was fixed at the
// handshake; join only admits the connection into the presence registry.
func (n *Node) handleFrame(c *Client, data []byte) {
	defer func() {
		if err := recover(); err != nil {
			c.log.Errorf("handler panic:%v\n", err)
		}
	}()

	f := Frame{}
	if err := json.Unmarshal(data, &f); err != nil {
		c.log.Errorf("handler:json unmarshal: %+v\n", err.Error())
		return
	}

	if f.Event == evJoin {
		n.joinClient(c)
		return
	}
	if !c.joined {
		n.sendError(c, f.Event, "join first")
		return
	}

	switch f.Event {
	case evSendMessage:
		n.handleSendMessage(c, f.Data)
	case evTyping:
		n.handleTyping(c, f.Data)
	case evReact:
		n.handleReact(c, f.Data)
	case evMarkRead:
		n.handleMarkRead(c, f.Data)
	default:
		c.log.Errorf("handler error: unknown event:%v\n", f.Event)
	}
}

func (n *Node) joinClient(c *Client) {
	c.mu.Lock()
	already := c.joined
	c.joined = true
	c.mu.Unlock()
	if already {
		return
	}
	c.log.Info("join")
	n.presence.Register(c)
	n.cache.Delete(presenceKey(c.user))
	openConnections.Set(float64(n.presence.Count()))
}

func (n *Node) dropClient(c *Client) {
	c.log.Info("drop")
	n.presence.Unregister(c.cid)
	n.cache.Delete(presenceKey(c.user))
	openConnections.Set(float64(n.presence.Count()))
	c.closeSend()
}

// serveWs handles websocket requests from the peer. The credential is
// verified here, once; a connection that fails verification is refused
// before it can ever register presence.
func (n *Node) serveWs(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		const prefix = "Bearer "
		if h := r.Header.Get("Authorization"); len(h) > len(prefix) && h[:len(prefix)] == prefix {
			token = h[len(prefix):]
		}
	}
	claims, err := ParseToken(DefConfig.JWTSecret, token)
	if err != nil {
		n.log.Warn("handshake rejected:", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Error("upgrade:", err)
		return
	}
	client := &Client{
		cid:    newID(),
		node:   n,
		user:   claims.UserID,
		claims: claims,
		conn:   conn,
		send:   make(chan []byte, DefConfig.Client.sendQueue()),
	}
	client.log = zap.S().With("cid", client.cid, "user", client.user)
	if DefConfig.Client.Compression {
		client.conn.EnableWriteCompression(true)
		client.conn.SetCompressionLevel(DefConfig.Client.CompressionLevel)
	}
	client.conn.SetCloseHandler(func(code int, text string) error {
		client.log.Info("CloseHandler:", code, text)
		message := websocket.FormatCloseMessage(code, "")
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		return nil
	})
	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}
