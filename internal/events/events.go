package events

import "sync"

// Broadcaster is a minimal payloadless notification fan-out. Consumers that
// care about session changes re-read the session store when fired; there is
// deliberately no payload. It replaces an ambient global event bus: the
// composition root constructs one and hands it to producers and consumers
// explicitly.
//
// Publishing is fire-and-forget: subscriber return values and panics are not
// the publisher's concern, and mutating store calls must be followed by a
// Publish at the call site. The session store itself never publishes; that
// obligation sits with its mutators (the lifecycle managers).
type Broadcaster struct {
	mu   sync.Mutex
	subs []func()
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe registers a callback invoked on every Publish.
func (b *Broadcaster) Subscribe(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Publish notifies every subscriber.
func (b *Broadcaster) Publish() {
	b.mu.Lock()
	subs := make([]func(), len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
