package main

import "go.uber.org/zap"

// Relay forwards a published event to sibling nodes so recipients
// connected elsewhere still get live delivery.
type Relay interface {
	Relay(ev DomainEvent, scope Scope)
}

// Broadcaster fans a DomainEvent out to live connections. Delivery is
// at-most-once and best-effort: no acknowledgement, no queueing, no
// retry. A recipient with no live connection simply misses the event and
// catches up on its next pull.
type Broadcaster struct {
	presence *Presence
	relay    Relay
	log      *zap.SugaredLogger
}

func NewBroadcaster(p *Presence) *Broadcaster {
	return &Broadcaster{
		presence: p,
		log:      zap.S().With("component", "broadcaster"),
	}
}

// Publish delivers the event to every connection the scope selects, then
// hands it to the relay if one is configured.
func (b *Broadcaster) Publish(ev DomainEvent, scope Scope) {
	b.deliver(ev, scope)
	if b.relay != nil {
		b.relay.Relay(ev, scope)
	}
}

// deliver pushes to local connections only. Snapshots are taken from the
// presence registry up front; no registry lock is held while sending. One
// connection failing to take the event never stops the rest.
func (b *Broadcaster) deliver(ev DomainEvent, scope Scope) {
	data, err := ev.encode()
	if err != nil {
		b.log.Error("encode:", ev.Kind, ev.Action, err)
		return
	}

	var targets []*Client
	switch {
	case scope.ToUser != "":
		targets = b.presence.ConnectionsFor(scope.ToUser)
	case scope.ToAllAuthenticated:
		targets = b.presence.All()
	default:
		return
	}

	eventsPublished.WithLabelValues(string(ev.Kind)).Inc()
	for _, c := range targets {
		if !c.trySend(data) {
			sendFailures.Inc()
			b.log.Warn("drop:", c.user, c.cid)
		}
	}
}
