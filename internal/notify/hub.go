package notify

import (
	"sync"
)

const subscriberBuffer = 100

// Hub is an in-memory implementation of [Broker].
//
// Subscribers receive updates via buffered channels (buffer size 100).
// Updates are sent non-blocking; if a subscriber's buffer is full, the
// update is dropped for that subscriber so a slow consumer never stalls
// the poll cycle that published it.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Update]struct{}
	closed      bool
}

// NewHub creates a new in-memory [Broker].
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan Update]struct{}),
	}
}

// Publish sends u to all subscribers.
//
// This is non-blocking: if a subscriber's channel buffer is full, the
// update is dropped for that subscriber rather than blocking the caller.
func (h *Hub) Publish(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- u:
		default:
			// subscriber is slow, drop the update
		}
	}
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// Caller must call [Hub.Unsubscribe] when done to prevent resource leaks.
// Subscribing to a closed hub returns an already closed channel.
func (h *Hub) Subscribe() <-chan Update {
	ch := make(chan Update, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// After calling Unsubscribe, the channel will be closed and no further
// updates will be sent. Safe to call multiple times or with an unknown channel.
func (h *Hub) Unsubscribe(ch <-chan Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for subCh := range h.subscribers {
		if subCh == ch {
			delete(h.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// Close closes every subscriber channel. Later publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
}
