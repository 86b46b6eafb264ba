// ABOUTME: In-memory fan-out of transcript-change signals to presentation subscribers
// ABOUTME: Non-blocking sends; a slow subscriber coalesces signals instead of stalling the run

package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber. Signals
// are edge-triggered (subscribers re-read the snapshot), so one slot is
// enough to coalesce bursts.
const subscriberBufferSize = 1

// Notifier fans out change signals to everyone rendering the live
// transcript. Subscribers receive at least one signal after any change; a
// full channel means a signal is already pending and the new one is dropped.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[string]chan struct{}
	logger *slog.Logger
}

// NewNotifier creates a Notifier. Pass nil logger for default.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		subs:   make(map[string]chan struct{}),
		logger: logger.With("component", "notifier"),
	}
}

// Subscribe registers a change listener. The subscription is cleaned up when
// ctx is cancelled.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan struct{}, string) {
	subID := uuid.New().String()
	ch := make(chan struct{}, subscriberBufferSize)

	n.mu.Lock()
	n.subs[subID] = ch
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel
func (n *Notifier) Unsubscribe(subID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.subs[subID]
	if !ok {
		return
	}
	delete(n.subs, subID)
	close(ch)
}

// Notify signals every subscriber that the transcript or run status changed
func (n *Notifier) Notify() {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Signal already pending for this subscriber
		}
	}
}

// Close shuts down the notifier and closes all subscriber channels
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		close(ch)
		delete(n.subs, id)
	}
}
