package watcher

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/conflictmonitor/viewbench/pkg/types"
)

// Change is published for every generation bump.
type Change struct {
	Generation uint64
	Sources    []Source
	MaxDate    types.PartitionDate
	Timestamp  int64
}

// Notifier is an in-process pub/sub bus that fans generation changes out to
// external consumers such as the HTTP long-poll.
type Notifier struct {
	// mu guards subscribers; Unsubscribe closes a channel only under the
	// write lock, so Publish never sends on a closed channel.
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	bufferSize  int
	latest      func() uint64
}

// NewNotifier creates a notifier. latest reports the current generation so
// waiters never miss a change that happened before they subscribed.
func NewNotifier(bufferSize int, latest func() uint64) *Notifier {
	return &Notifier{
		subscribers: make(map[string]*Subscriber),
		bufferSize:  bufferSize,
		latest:      latest,
	}
}

// Subscriber receives changes on Ch.
type Subscriber struct {
	ID string
	Ch chan Change
}

// Publish sends a change to all subscribers.
// Non-blocking: if a subscriber's channel is full, the change is dropped.
func (n *Notifier) Publish(c Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, sub := range n.subscribers {
		select {
		case sub.Ch <- c:
		default:
		}
	}
}

// Subscribe registers a new subscriber.
func (n *Notifier) Subscribe() *Subscriber {
	sub := &Subscriber{ID: uuid.NewString(), Ch: make(chan Change, n.bufferSize)}
	n.mu.Lock()
	n.subscribers[sub.ID] = sub
	n.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if sub, ok := n.subscribers[id]; ok {
		delete(n.subscribers, id)
		close(sub.Ch)
	}
}

// WaitForGeneration blocks until the generation exceeds after or ctx ends,
// and returns the generation last seen.
func (n *Notifier) WaitForGeneration(ctx context.Context, after uint64) (uint64, error) {
	sub := n.Subscribe()
	defer n.Unsubscribe(sub.ID)

	if g := n.latest(); g > after {
		return g, nil
	}
	for {
		select {
		case <-ctx.Done():
			return n.latest(), ctx.Err()
		case c := <-sub.Ch:
			if c.Generation > after {
				return c.Generation, nil
			}
		}
	}
}
