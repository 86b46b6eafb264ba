// ABOUTME: Tests for the stream consumer run state machine
// ABOUTME: Covers cumulative replacement, stop freezing, failure apology, and run conflicts

package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorali/loopchat/internal/store"
)

// chanStore hands out a fresh open event channel per run so tests control
// exactly when events arrive and when the stream ends
type chanStore struct {
	*store.MockStore
	mu    sync.Mutex
	chans []chan store.RunEvent
}

func newChanStore() *chanStore {
	return &chanStore{MockStore: store.NewMockStore()}
}

func (c *chanStore) StreamRun(ctx context.Context, threadID, assistantID, message string) (<-chan store.RunEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan store.RunEvent)
	c.chans = append(c.chans, ch)
	return ch, nil
}

func (c *chanStore) current() chan store.RunEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chans[len(c.chans)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func lastContent(c *Consumer) string {
	tr := c.Transcript()
	if len(tr) == 0 {
		return ""
	}
	return tr[len(tr)-1].Content
}

func TestConsumer_StartAppendsUserMessageAndPlaceholder(t *testing.T) {
	cs := newChanStore()
	c := NewConsumer(cs, "agent", nil)
	defer c.Close()

	require.NoError(t, c.Start(t.Context(), "t1", "hello"))

	tr := c.Transcript()
	require.Len(t, tr, 2)
	assert.Equal(t, store.RoleUser, tr[0].Role)
	assert.Equal(t, "hello", tr[0].Content)
	assert.Equal(t, store.RoleAssistant, tr[1].Role)
	assert.Equal(t, "", tr[1].Content)
	assert.Equal(t, StatusStreaming, c.Status())

	close(cs.current())
}

func TestConsumer_PartialsReplaceWholesale(t *testing.T) {
	cs := newChanStore()
	c := NewConsumer(cs, "agent", nil)
	defer c.Close()

	require.NoError(t, c.Start(t.Context(), "t1", "hello"))
	ch := cs.current()

	ch <- store.RunEvent{Kind: store.EventPartial, Content: "Once"}
	ch <- store.RunEvent{Kind: store.EventPartial, Content: "Once upon"}
	ch <- store.RunEvent{Kind: store.EventPartial, Content: "Once upon a time"}
	close(ch)

	waitFor(t, func() bool { return c.Status() == StatusCompleted })
	assert.Equal(t, "Once upon a time", lastContent(c))
}

func TestConsumer_DuplicatePartialIsIdempotent(t *testing.T) {
	cs := newChanStore()
	c := NewConsumer(cs, "agent", nil)
	defer c.Close()

	require.NoError(t, c.Start(t.Context(), "t1", "hello"))
	ch := cs.current()

	ch <- store.RunEvent{Kind: store.EventPartial, Content: "Once upon"}
	ch <- store.RunEvent{Kind: store.EventPartial, Content: "Once upon"}
	ch <- store.RunEvent{Kind: store.EventDone}
	close(ch)

	waitFor(t, func() bool { return c.Status() == StatusCompleted })
	assert.Equal(t, "Once upon", lastContent(c))
	assert.Len(t, c.Transcript(), 2, "duplicate events must not add turns")
}

func TestConsumer_ToolEventsNeverRendered(t *testing.T) {
	cs := newChanStore()
	c := NewConsumer(cs, "agent", nil)
	defer c.Close()

	require.NoError(t, c.Start(t.Context(), "t1", "hello"))
	ch := cs.current()

	ch <- store.RunEvent{Kind: store.EventPartial, Content: "checking"}
	ch <- store.RunEvent{Kind: store.EventTool}
	ch <- store.RunEvent{Kind: store.EventPartial, Content: "checking the docs"}
	ch <- store.RunEvent{Kind: store.EventDone}
	close(ch)

	waitFor(t, func() bool { return c.Status() == StatusCompleted })
	assert.Len(t, c.Transcript(), 2)
	assert.Equal(t, "checking the docs", lastContent(c))
}

func TestConsumer_ErrorSwapsPendingTurnForApology(t *testing.T) {
	cs := newChanStore()
	c := NewConsumer(cs, "agent", nil)
	defer c.Close()

	require.NoError(t, c.Start(t.Context(), "t1", "hello"))
	ch := cs.current()

	ch <- store.RunEvent{Kind: store.EventPartial, Content: "I was about to"}
	ch <- store.RunEvent{Kind: store.EventError, Err: "agent exploded"}
	close(ch)

	waitFor(t, func() bool { return c.Status() == StatusErrored })

	tr := c.Transcript()
	require.Len(t, tr, 2)
	assert.Equal(t, "hello", tr[0].Content, "user message survives a failed run")
	assert.Equal(t, FailureNotice, tr[1].Content)
}

func TestConsumer_StreamOpenFailure(t *testing.T) {
	m := store.NewMockStore()
	m.StreamErr = errors.New("connection refused")
	c := NewConsumer(m, "agent", nil)
	defer c.Close()

	err := c.Start(t.Context(), "t1", "hello")
	require.Error(t, err)

	assert.Equal(t, StatusErrored, c.Status())
	assert.Equal(t, FailureNotice, lastContent(c))
}

func TestConsumer_InterruptPausesRun(t *testing.T) {
	cs := newChanStore()
	c := NewConsumer(cs, "agent", nil)
	defer c.Close()

	require.NoError(t, c.Start(t.Context(), "t1", "get me a human"))
	ch := cs.current()

	ch <- store.RunEvent{Kind: store.EventPartial, Content: "One moment"}
	ch <- store.RunEvent{Kind: store.EventInterrupt, Interrupt: &store.Interrupt{
		ThreadID: "t1",
		Reason:   "User asked to speak with a human",
	}}
	close(ch)

	waitFor(t, func() bool { return c.Status() == StatusInterrupted })
	require.NotNil(t, c.Interrupt())
	assert.Equal(t, "User asked to speak with a human", c.Interrupt().Reason)
	assert.Equal(t, "One moment", lastContent(c))
}

func TestConsumer_StopFreezesContent(t *testing.T) {
	cs := newChanStore()
	c := NewConsumer(cs, "agent", nil)
	defer c.Close()

	require.NoError(t, c.Start(t.Context(), "t1", "hello"))
	ch := cs.current()

	ch <- store.RunEvent{Kind: store.EventPartial, Content: "partial answer"}
	waitFor(t, func() bool { return lastContent(c) == "partial answer" })

	c.Stop()
	assert.Equal(t, StatusCancelled, c.Status())

	// Late events after cancellation are ignored
	ch <- store.RunEvent{Kind: store.EventPartial, Content: "partial answer plus more"}
	close(ch)

	assert.Equal(t, "partial answer", lastContent(c))
	assert.Equal(t, StatusCancelled, c.Status())
}

func TestConsumer_StopThenStartAccepted(t *testing.T) {
	cs := newChanStore()
	c := NewConsumer(cs, "agent", nil)
	defer c.Close()

	require.NoError(t, c.Start(t.Context(), "t1", "first"))
	first := cs.current()
	c.Stop()
	close(first)

	require.NoError(t, c.Start(t.Context(), "t1", "second"))
	assert.Equal(t, StatusStreaming, c.Status())
	close(cs.current())
}

func TestConsumer_StartWhileStreamingReturnsConflict(t *testing.T) {
	cs := newChanStore()
	c := NewConsumer(cs, "agent", nil)
	defer c.Close()

	require.NoError(t, c.Start(t.Context(), "t1", "first"))

	err := c.Start(t.Context(), "t1", "second")
	assert.ErrorIs(t, err, ErrRunConflict)
	assert.Len(t, c.Transcript(), 2)

	close(cs.current())
}

func TestConsumer_CancelledContextEndsAsCancelled(t *testing.T) {
	cs := newChanStore()
	c := NewConsumer(cs, "agent", nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, c.Start(ctx, "t1", "hello"))
	ch := cs.current()

	cancel()
	close(ch)

	waitFor(t, func() bool { return c.Status() == StatusCancelled })
}

func TestConsumer_LoadReplacesTranscript(t *testing.T) {
	cs := newChanStore()
	c := NewConsumer(cs, "agent", nil)
	defer c.Close()

	c.Load("t1", []store.Message{
		{ID: "m1", Role: store.RoleUser, Content: "hi"},
		{ID: "m2", Role: store.RoleAssistant, Content: "hello"},
	}, nil)

	assert.Equal(t, "t1", c.ThreadID())
	assert.Equal(t, StatusIdle, c.Status())
	assert.Len(t, c.Transcript(), 2)

	c.Load("t2", nil, &store.Interrupt{ThreadID: "t2", Reason: "paused"})
	assert.Equal(t, StatusInterrupted, c.Status())
	assert.Empty(t, c.Transcript())
}

func TestConsumer_SubscribeSignalsOnChange(t *testing.T) {
	cs := newChanStore()
	c := NewConsumer(cs, "agent", nil)
	defer c.Close()

	ch, _ := c.Subscribe(t.Context())

	c.Load("t1", nil, nil)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change signal")
	}
}
