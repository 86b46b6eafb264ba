// ABOUTME: Tests for the SQLite-backed session store and its scripted agent
// ABOUTME: Covers thread CRUD, cumulative run streaming, handoff interrupts, and resume

package store

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func drainEvents(t *testing.T, ch <-chan RunEvent) []RunEvent {
	t.Helper()
	var events []RunEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestSQLiteStore_ThreadLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := t.Context()

	thread, err := s.CreateThread(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", thread.OwnerID)
	assert.Equal(t, ThreadStatusActive, thread.Status)
	assert.Empty(t, thread.Title)

	state, err := s.GetThreadState(ctx, thread.ID)
	require.NoError(t, err)
	assert.Empty(t, state.Messages)
	assert.Nil(t, state.Interrupt)

	require.NoError(t, s.UpdateThreadMetadata(ctx, thread.ID, Metadata{Title: StringPtr("printer trouble")}))
	state, err = s.GetThreadState(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "printer trouble", state.Thread.Title)
	assert.Equal(t, "user-1", state.Thread.OwnerID, "partial patch keeps the owner")

	require.NoError(t, s.DeleteThread(ctx, thread.ID))
	_, err = s.GetThreadState(ctx, thread.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteThread(ctx, thread.ID), ErrNotFound)
}

func TestSQLiteStore_ListThreadsByOwnerAndStatus(t *testing.T) {
	s := newTestSQLite(t)
	ctx := t.Context()

	mine, err := s.CreateThread(ctx, "user-1")
	require.NoError(t, err)
	_, err = s.CreateThread(ctx, "user-2")
	require.NoError(t, err)

	threads, err := s.ListThreads(ctx, ThreadFilter{OwnerID: "user-1"})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, mine.ID, threads[0].ID)

	threads, err = s.ListThreads(ctx, ThreadFilter{Status: ThreadStatusInterrupted})
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestSQLiteStore_ScriptedRunStreamsCumulative(t *testing.T) {
	s := newTestSQLite(t)
	ctx := t.Context()

	thread, err := s.CreateThread(ctx, "user-1")
	require.NoError(t, err)

	ch, err := s.StreamRun(ctx, thread.ID, "agent", "hello there")
	require.NoError(t, err)
	events := drainEvents(t, ch)

	require.NotEmpty(t, events)
	assert.Equal(t, EventDone, events[len(events)-1].Kind)

	// Every partial carries the cumulative text so far
	var prev string
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, EventPartial, ev.Kind)
		assert.True(t, strings.HasPrefix(ev.Content, prev))
		prev = ev.Content
	}
	assert.Equal(t, "You said: hello there. How else can I help?", prev)

	state, err := s.GetThreadState(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, RoleUser, state.Messages[0].Role)
	assert.Equal(t, "hello there", state.Messages[0].Content)
	assert.Equal(t, RoleAssistant, state.Messages[1].Role)
	assert.Equal(t, prev, state.Messages[1].Content)
}

func TestSQLiteStore_CustomReply(t *testing.T) {
	s := newTestSQLite(t)
	s.SetReply(func(string) string { return "scripted answer" })
	ctx := t.Context()

	thread, err := s.CreateThread(ctx, "user-1")
	require.NoError(t, err)

	ch, err := s.StreamRun(ctx, thread.ID, "agent", "anything")
	require.NoError(t, err)
	events := drainEvents(t, ch)

	require.NotEmpty(t, events)
	assert.Equal(t, "scripted answer", events[len(events)-2].Content)
}

func TestSQLiteStore_HandoffRaisesInterrupt(t *testing.T) {
	s := newTestSQLite(t)
	ctx := t.Context()

	thread, err := s.CreateThread(ctx, "user-1")
	require.NoError(t, err)

	ch, err := s.StreamRun(ctx, thread.ID, "agent", "I want a human please")
	require.NoError(t, err)
	events := drainEvents(t, ch)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventInterrupt, last.Kind)
	require.NotNil(t, last.Interrupt)
	assert.Equal(t, "User asked to speak with a human", last.Interrupt.Reason)

	state, err := s.GetThreadState(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, ThreadStatusInterrupted, state.Thread.Status)
	require.NotNil(t, state.Interrupt)

	// A paused thread rejects further runs until a human decides
	_, err = s.StreamRun(ctx, thread.ID, "agent", "hello?")
	assert.Error(t, err)

	threads, err := s.ListThreads(ctx, ThreadFilter{Status: ThreadStatusInterrupted})
	require.NoError(t, err)
	assert.Len(t, threads, 1)
}

func TestSQLiteStore_ResumeClearsInterrupt(t *testing.T) {
	s := newTestSQLite(t)
	ctx := t.Context()

	thread, err := s.CreateThread(ctx, "user-1")
	require.NoError(t, err)

	ch, err := s.StreamRun(ctx, thread.ID, "agent", "get me a human")
	require.NoError(t, err)
	drainEvents(t, ch)

	err = s.ResumeRun(ctx, thread.ID, "agent", ResumePayload{
		HumanResponse: "An operator will call you shortly.",
		HumanAction:   ActionResolve,
	})
	require.NoError(t, err)

	state, err := s.GetThreadState(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, ThreadStatusActive, state.Thread.Status)
	assert.Nil(t, state.Interrupt)

	last := state.Messages[len(state.Messages)-1]
	assert.Equal(t, RoleAssistant, last.Role)
	assert.Equal(t, "An operator will call you shortly.", last.Content)
}

func TestSQLiteStore_ResumeWithoutInterruptIsStale(t *testing.T) {
	s := newTestSQLite(t)
	ctx := t.Context()

	thread, err := s.CreateThread(ctx, "user-1")
	require.NoError(t, err)

	err = s.ResumeRun(ctx, thread.ID, "agent", ResumePayload{HumanAction: ActionResolve})
	assert.ErrorIs(t, err, ErrInterruptStale)
}
