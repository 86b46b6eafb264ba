// ABOUTME: Tests for the change-signal notifier
// ABOUTME: Covers fan-out, coalescing under a slow subscriber, and context cleanup

package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_SubscriberReceivesSignal(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	ch, _ := n.Subscribe(t.Context())
	n.Notify()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func TestNotifier_AllSubscribersSignalled(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	ch1, _ := n.Subscribe(t.Context())
	ch2, _ := n.Subscribe(t.Context())

	n.Notify()

	for _, ch := range []<-chan struct{}{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for signal")
		}
	}
}

func TestNotifier_BurstCoalescesForSlowSubscriber(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	ch, _ := n.Subscribe(t.Context())

	// Nobody reading: signals beyond the buffered one are dropped, not blocked
	for range 10 {
		n.Notify()
	}

	<-ch
	select {
	case <-ch:
		t.Fatal("burst should coalesce into a single pending signal")
	default:
	}
}

func TestNotifier_UnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	ch, id := n.Subscribe(t.Context())
	n.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)
}

func TestNotifier_ContextCancelCleansUp(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch, _ := n.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestNotifier_CloseClosesAllSubscribers(t *testing.T) {
	n := NewNotifier(nil)

	ch1, _ := n.Subscribe(t.Context())
	ch2, _ := n.Subscribe(t.Context())
	n.Close()

	_, open1 := <-ch1
	_, open2 := <-ch2
	assert.False(t, open1)
	assert.False(t, open2)
}
