package chatclient

import (
	"sync"

	"github.com/tropichat/relay/internal/protocol"
)

const subscriberBuffer = 64

type subscription struct {
	types map[string]bool
	ch    chan protocol.Inbound
}

func (s *subscription) wants(typ string) bool {
	return len(s.types) == 0 || s.types[typ]
}

// broker fans events out to independent subscribers. A subscriber that stops
// reading loses events rather than stalling the others.
type broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]*subscription)}
}

func (b *broker) subscribe(types ...string) (<-chan protocol.Inbound, func()) {
	s := &subscription{types: make(map[string]bool, len(types)), ch: make(chan protocol.Inbound, subscriberBuffer)}
	for _, t := range types {
		s.types[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

func (b *broker) publish(ev protocol.Inbound) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if !s.wants(ev.Type) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
