// Package eventbus fans pipeline diagnostics out to in-process
// subscribers. Delivery is best effort: a subscriber that falls behind
// loses events and is told how many, but never blocks a publisher.
package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/schema"
)

type subscriber struct {
	ch      chan schema.DiagEvent
	dropped uint64
}

// Bus fanouts diagnostic events to per-session subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.SessionID]map[*subscriber]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.SessionID]map[*subscriber]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for one session and returns a
// channel + cancel. The empty session id subscribes to every session.
// Cancel detaches the subscriber and closes the channel.
func (b *Bus) Subscribe(sessionID schema.SessionID) (<-chan schema.DiagEvent, func()) {
	if b == nil {
		return nil, func() {}
	}
	sub := &subscriber{ch: make(chan schema.DiagEvent, b.depth)}
	b.mu.Lock()
	set := b.subs[sessionID]
	if set == nil {
		set = make(map[*subscriber]struct{})
		b.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	count := len(set)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("session", sessionID).Debug("diag subscribe", "subs", count)
	}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set := b.subs[sessionID]; set != nil {
				delete(set, sub)
				if len(set) == 0 {
					delete(b.subs, sessionID)
				}
			}
			close(sub.ch)
			b.mu.Unlock()
			if b.log != nil {
				b.log.With("session", sessionID).Debug("diag unsubscribe")
			}
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to subscribers of ev.Session and to wildcard
// subscribers. Full subscribers are skipped; the skip count is carried
// on a later DiagDropped event once the subscriber drains.
func (b *Bus) Publish(ev schema.DiagEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	dropped := 0
	dropped += b.deliver(b.subs[ev.Session], ev)
	if ev.Session != "" {
		dropped += b.deliver(b.subs[""], ev)
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.With("session", ev.Session).Trace("diag dropped", "count", dropped)
	}
}

func (b *Bus) deliver(set map[*subscriber]struct{}, ev schema.DiagEvent) int {
	dropped := 0
	for sub := range set {
		if sub.dropped > 0 {
			notice := schema.DiagEvent{
				Kind:    schema.DiagDropped,
				Session: ev.Session,
				Seq:     sub.dropped,
				At:      ev.At,
			}
			select {
			case sub.ch <- notice:
				sub.dropped = 0
			default:
			}
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			dropped++
		}
	}
	return dropped
}
