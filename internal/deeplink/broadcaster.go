package deeplink

import "sync"

// Responder receives decomposed deep links.
type Responder func(Components)

// Broadcaster fans deep links out to every registered responder.
// A responder registered after a publish immediately receives the last
// published value.
type Broadcaster struct {
	mu         sync.Mutex
	responders []Responder
	last       *Components
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Register adds a responder.
func (b *Broadcaster) Register(r Responder) {
	b.mu.Lock()
	b.responders = append(b.responders, r)
	last := b.last
	b.mu.Unlock()

	if last != nil {
		r(*last)
	}
}

// Publish records c as the last value and delivers it to all responders.
// Responders run on the caller's goroutine, outside the lock.
func (b *Broadcaster) Publish(c Components) {
	b.mu.Lock()
	b.last = &c
	responders := make([]Responder, len(b.responders))
	copy(responders, b.responders)
	b.mu.Unlock()

	for _, r := range responders {
		r(c)
	}
}

// Last returns the most recently published value.
func (b *Broadcaster) Last() (Components, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return Components{}, false
	}
	return *b.last, true
}
