package bridge

import (
	"errors"
	"strings"
	"sync"
)

// ErrBusUnavailable simulates a broker outage on a MemoryBus.
var ErrBusUnavailable = errors.New("bus unavailable")

// MemoryBus is an in-process Bus. Joining several bridges to one MemoryBus
// simulates a multi-process cluster without a broker, which is how the
// degraded-delivery and fanout properties are exercised in tests.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[int]*memorySub
	next int
	down bool
}

type memorySub struct {
	bus     *MemoryBus
	id      int
	pattern string
	handler func(subject string, data []byte)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memorySub)}
}

// SetDown toggles simulated broker unavailability. While down, Publish
// fails and nothing is delivered.
func (b *MemoryBus) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *MemoryBus) Publish(subject string, data []byte) error {
	b.mu.RLock()
	if b.down {
		b.mu.RUnlock()
		return ErrBusUnavailable
	}
	matched := make([]*memorySub, 0, len(b.subs))
	for _, sub := range b.subs {
		if subjectMatches(sub.pattern, subject) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		sub.handler(subject, data)
	}
	return nil
}

func (b *MemoryBus) Subscribe(pattern string, handler func(string, []byte)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	sub := &memorySub{bus: b, id: b.next, pattern: pattern, handler: handler}
	b.subs[sub.id] = sub
	return sub, nil
}

func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[int]*memorySub)
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}

// subjectMatches implements dot-token matching where "*" matches exactly one
// token, mirroring the broker's wildcard semantics.
func subjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	if len(pt) != len(st) {
		return false
	}
	for i := range pt {
		if pt[i] != "*" && pt[i] != st[i] {
			return false
		}
	}
	return true
}
