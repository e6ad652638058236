package store

import (
	"sync"

	"github.com/okutins/plansync/internal/models"
)

// Change describes one committed entity write. Consumers re-read the
// store for current state; the notification itself carries no payload.
type Change struct {
	EntityType models.EntityType
	LocalID    string
}

// Notifier fans committed-write notifications out to UI-layer observers.
// Delivery is fire-and-forget: a subscriber that falls behind loses
// intermediate notifications, never blocks a writer. The store stays
// eventually consistent with the latest committed state because observers
// re-read on every notification.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]subscription
	next int
}

type subscription struct {
	typ models.EntityType // "" means all types
	ch  chan Change
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]subscription)}
}

// Subscribe registers an observer for one entity type ("" for all).
// The returned cancel func must be called to release the subscription.
func (n *Notifier) Subscribe(typ models.EntityType) (<-chan Change, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan Change, 16)
	n.subs[id] = subscription{typ: typ, ch: ch}

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub.ch)
		}
	}
	return ch, cancel
}

// Publish delivers a change to matching subscribers without blocking.
func (n *Notifier) Publish(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subs {
		if sub.typ != "" && sub.typ != c.EntityType {
			continue
		}
		select {
		case sub.ch <- c:
		default:
			// Subscriber is behind; it will re-read on the next delivery.
		}
	}
}
