// ABOUTME: Mock SessionStore implementation for testing
// ABOUTME: In-memory state with per-operation error injection and scriptable run events

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory SessionStore for unit tests. Each operation has
// an injectable error, and StreamRun plays back a scripted event sequence.
type MockStore struct {
	mu         sync.RWMutex
	threads    map[string]*Thread
	messages   map[string][]Message
	interrupts map[string]*Interrupt

	// Error injection per operation
	CreateErr error
	ListErr   error
	StateErr  error
	UpdateErr error
	DeleteErr error
	StreamErr error
	ResumeErr error

	// RunEvents is played back by StreamRun
	RunEvents []RunEvent

	// ResumeCalls records every ResumeRun invocation
	ResumeCalls []ResumePayload
}

// NewMockStore creates an empty MockStore
func NewMockStore() *MockStore {
	return &MockStore{
		threads:    make(map[string]*Thread),
		messages:   make(map[string][]Message),
		interrupts: make(map[string]*Interrupt),
	}
}

// AddThread seeds a thread directly
func (m *MockStore) AddThread(t *Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.threads[t.ID] = &cp
}

// AddMessages seeds transcript messages for a thread
func (m *MockStore) AddMessages(threadID string, msgs ...Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[threadID] = append(m.messages[threadID], msgs...)
}

// AddInterrupt seeds a pending interrupt for a thread
func (m *MockStore) AddInterrupt(intr *Interrupt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *intr
	m.interrupts[intr.ThreadID] = &cp
	if t, ok := m.threads[intr.ThreadID]; ok {
		t.Status = ThreadStatusInterrupted
	}
}

// CreateThread creates a new active thread
func (m *MockStore) CreateThread(ctx context.Context, ownerID string) (*Thread, error) {
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	t := &Thread{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Status:    ThreadStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.threads[t.ID] = t
	cp := *t
	return &cp, nil
}

// ListThreads returns threads matching the filter, unsorted (callers sort)
func (m *MockStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]*Thread, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Thread
	for _, t := range m.threads {
		if filter.OwnerID != "" && t.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// GetThreadState returns the thread snapshot
func (m *MockStore) GetThreadState(ctx context.Context, id string) (*ThreadState, error) {
	if m.StateErr != nil {
		return nil, m.StateErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	state := &ThreadState{Thread: &cp}
	state.Messages = append(state.Messages, m.messages[id]...)
	if intr, ok := m.interrupts[id]; ok {
		icp := *intr
		state.Interrupt = &icp
	}
	return state, nil
}

// UpdateThreadMetadata merges the patch into the stored thread
func (m *MockStore) UpdateThreadMetadata(ctx context.Context, id string, patch Metadata) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.UserID != nil {
		t.OwnerID = *patch.UserID
	}
	t.UpdatedAt = time.Now()
	return nil
}

// DeleteThread removes a thread
func (m *MockStore) DeleteThread(ctx context.Context, id string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[id]; !ok {
		return ErrNotFound
	}
	delete(m.threads, id)
	delete(m.messages, id)
	delete(m.interrupts, id)
	return nil
}

// StreamRun records the user message and plays back the scripted events
func (m *MockStore) StreamRun(ctx context.Context, threadID, assistantID, message string) (<-chan RunEvent, error) {
	if m.StreamErr != nil {
		return nil, m.StreamErr
	}
	m.mu.Lock()
	if t, ok := m.threads[threadID]; ok {
		m.messages[threadID] = append(m.messages[threadID], Message{
			ID:      uuid.New().String(),
			Role:    RoleUser,
			Content: message,
		})
		t.UpdatedAt = time.Now()
	}
	events := make([]RunEvent, len(m.RunEvents))
	copy(events, m.RunEvents)
	m.mu.Unlock()

	ch := make(chan RunEvent, len(events)+1)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ResumeRun clears the interrupt, emulating the server-side resume contract
func (m *MockStore) ResumeRun(ctx context.Context, threadID, assistantID string, payload ResumePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResumeCalls = append(m.ResumeCalls, payload)
	if m.ResumeErr != nil {
		return m.ResumeErr
	}
	if _, ok := m.interrupts[threadID]; !ok {
		return ErrInterruptStale
	}
	delete(m.interrupts, threadID)
	if t, ok := m.threads[threadID]; ok {
		t.Status = ThreadStatusActive
		t.UpdatedAt = time.Now()
	}
	return nil
}
