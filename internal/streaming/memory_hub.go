package streaming

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// subscriberBuffer is how many undelivered events a subscriber may hold
// before further events for it are dropped.
const subscriberBuffer = 64

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("event hub closed")

type subscriber struct {
	ch     chan StreamEvent
	filter EventFilter
	once   sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.ch) }) }

// MemoryHub fans run events out to in-process subscribers. Publish never
// blocks on a slow subscriber: the event is dropped for it and counted.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	closed  bool
	seq     atomic.Uint64
	dropped atomic.Uint64
	now     func() time.Time
}

// NewMemoryHub creates an open hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[uint64]*subscriber),
		now:  time.Now,
	}
}

// Publish delivers event to every subscriber whose filter matches. A zero
// Timestamp is set to the current time. Publishing on a closed hub is a
// no-op.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The returned cancel func
// removes it and closes the channel; it is safe to call more than once.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sub := &subscriber{ch: make(chan StreamEvent, subscriberBuffer), filter: filter}
	id := h.seq.Add(1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, ErrHubClosed
	}
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel, nil
}

// Close ends every subscription. Open event streams see their channel
// closed and return.
func (h *MemoryHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.close()
	}
}

// Subscribers returns the number of open subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (h *MemoryHub) Dropped() uint64 { return h.dropped.Load() }

var _ EventHub = (*MemoryHub)(nil)
