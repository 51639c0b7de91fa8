package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory lifecycle signal (connection transitions, job fires, restores).
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a slow subscriber drops events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel receiving events whose Type starts with one of
	// prefixes (all events when no prefix is given).
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch       chan Event
	prefixes []string
}

func (s *sub) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		// A concurrent unsubscribe may close ch between snapshot and send.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), prefixes: append([]string(nil), prefixes...)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Publish is a nil-safe helper for components holding an optional Bus.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}
