package main

import "sync"

// Presence maps a user to the set of connections currently held open for
// them. It is shared by every connection goroutine, so all bookkeeping
// happens under its lock — and nothing else does: callers take snapshots
// and never send while the lock is held.
type Presence struct {
	mu    sync.RWMutex
	users map[string]map[string]*Client
	conns map[string]*Client
}

func NewPresence() *Presence {
	return &Presence{
		users: map[string]map[string]*Client{},
		conns: map[string]*Client{},
	}
}

// Register files the connection under its user. Registering the same
// connection twice is a no-op.
func (p *Presence) Register(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.conns[c.cid]; ok {
		return
	}
	p.conns[c.cid] = c
	set, ok := p.users[c.user]
	if !ok {
		set = map[string]*Client{}
		p.users[c.user] = set
	}
	set[c.cid] = c
}

// Unregister removes the connection wherever it is filed. When the user's
// last connection goes, the whole entry goes with it and the user is
// offline. Unknown connection ids are ignored.
func (p *Presence) Unregister(cid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[cid]
	if !ok {
		return
	}
	delete(p.conns, cid)
	if set, ok := p.users[c.user]; ok {
		delete(set, cid)
		if len(set) == 0 {
			delete(p.users, c.user)
		}
	}
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users[userID]) > 0
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (p *Presence) ConnectionsFor(userID string) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Client, 0, len(p.users[userID]))
	for _, c := range p.users[userID] {
		out = append(out, c)
	}
	return out
}

// All returns a snapshot of every registered connection.
func (p *Presence) All() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Client, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c)
	}
	return out
}

func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}
