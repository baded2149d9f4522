// Package memorybus est l'implémentation in-process de l'UpdateBus:
// un canal par abonné, regroupés par id de computation.
package memorybus

import (
	"sync"

	"github.com/alazzawimahmoud/math-stream/internal/domain"
)

type Bus struct {
	mu    sync.Mutex
	subs  map[string]map[chan domain.Update]struct{}
	alive bool
}

func New() *Bus {
	return &Bus{subs: make(map[string]map[chan domain.Update]struct{}), alive: true}
}

func (b *Bus) Publish(computationID string, update domain.Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return
	}
	for ch := range b.subs[computationID] {
		select {
		case ch <- update:
		default:
			// drop si l'abonné est trop lent
		}
	}
}

func (b *Bus) Subscribe(computationID string) (<-chan domain.Update, func()) {
	ch := make(chan domain.Update, 64)
	b.mu.Lock()
	if !b.alive {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	set, ok := b.subs[computationID]
	if !ok {
		set = make(map[chan domain.Update]struct{})
		b.subs[computationID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[computationID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, computationID)
			}
		}
		b.mu.Unlock()
	}

	return ch, cancel
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return
	}
	b.alive = false
	for _, set := range b.subs {
		for ch := range set {
			close(ch)
		}
	}
	b.subs = nil
}
