package memory

import (
	"context"
	"sync"

	"github.com/agentshield/agentshield/internal/domain/approval"
)

// Notifier fans approval resolution events out to in-process waiters.
// Each subscription has a one-slot buffer, so repeated publishes coalesce and
// Publish never blocks.
type Notifier struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]chan struct{}
}

// NewNotifier creates a Notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[uint64]chan struct{})}
}

// Subscribe registers interest in id until the returned cancel func is called.
func (n *Notifier) Subscribe(ctx context.Context, id string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	n.next++
	token := n.next
	if n.subs[id] == nil {
		n.subs[id] = make(map[uint64]chan struct{})
	}
	n.subs[id][token] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[id], token)
			if len(n.subs[id]) == 0 {
				delete(n.subs, id)
			}
		})
	}
	return ch, cancel, nil
}

// Publish wakes every current subscriber of id.
func (n *Notifier) Publish(ctx context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions for id.
func (n *Notifier) Subscribers(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[id])
}

var _ approval.Notifier = (*Notifier)(nil)
