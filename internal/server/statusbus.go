package server

import (
	"sync"

	"github.com/bbn/patchbay/internal/metrics"
)

// StatusEvent is one frame on a gear's status stream.
type StatusEvent struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

const subscriberBuffer = 16

// StatusBus multiplexes per-gear processing state to any number of SSE
// subscribers. Delivery is best-effort and fanout-ordered; a subscriber that
// stops draining its channel is dropped so publishers never block.
type StatusBus struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]chan StatusEvent
	nextID uint64
}

// NewStatusBus returns an empty bus.
func NewStatusBus() *StatusBus {
	return &StatusBus{subs: map[string]map[uint64]chan StatusEvent{}}
}

// Subscribe registers a listener for gearID. The returned channel is closed
// by unsubscribe or when the subscriber is dropped for slowness. Unsubscribe
// is idempotent; when a gear's last subscriber leaves, its map entry is
// removed.
func (b *StatusBus) Subscribe(gearID string) (<-chan StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan StatusEvent, subscriberBuffer)
	id := b.nextID
	b.nextID++
	if b.subs[gearID] == nil {
		b.subs[gearID] = map[uint64]chan StatusEvent{}
	}
	b.subs[gearID][id] = ch
	metrics.StatusSubscribers.Inc()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(gearID, id)
	}
	return ch, unsub
}

// Publish delivers ev to every subscriber of gearID. Subscribers whose
// buffers are full are dropped; a failure on one never affects the others.
func (b *StatusBus) Publish(gearID, status string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs[gearID] {
		select {
		case ch <- StatusEvent{Status: status, Data: data}:
		default:
			b.removeLocked(gearID, id)
		}
	}
}

// Subscribers reports the current subscriber count for a gear.
func (b *StatusBus) Subscribers(gearID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[gearID])
}

// HasEntry reports whether the per-gear map entry exists at all.
func (b *StatusBus) HasEntry(gearID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[gearID]
	return ok
}

func (b *StatusBus) removeLocked(gearID string, id uint64) {
	set, ok := b.subs[gearID]
	if !ok {
		return
	}
	ch, ok := set[id]
	if !ok {
		return
	}
	delete(set, id)
	close(ch)
	metrics.StatusSubscribers.Dec()
	if len(set) == 0 {
		delete(b.subs, gearID)
	}
}
