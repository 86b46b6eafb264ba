// ABOUTME: SessionStore interface and data types for the remote session runtime
// ABOUTME: Defines Thread, Message, RunEvent and the contract every adapter implements

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrStoreUnavailable is returned when the session store cannot be reached
// or fails to service a request
var ErrStoreUnavailable = errors.New("session store unavailable")

// ErrInterruptStale is returned by ResumeRun when the thread is no longer
// interrupted. Callers treat this as success: another actor already resumed it.
var ErrInterruptStale = errors.New("thread is not interrupted")

// ThreadStatus describes whether a thread is running normally or paused
// waiting for a human decision
type ThreadStatus string

const (
	ThreadStatusActive      ThreadStatus = "active"
	ThreadStatusInterrupted ThreadStatus = "interrupted"
)

// Message role constants
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Thread is one persisted conversation between a principal and the agent
type Thread struct {
	ID        string
	OwnerID   string
	Title     string // empty until derived from the first user message
	Status    ThreadStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn in a transcript. Client-originated messages get their
// ID assigned before any network exchange so it stays stable across the
// optimistic-to-confirmed transition.
type Message struct {
	ID      string
	Role    string // "user" | "assistant"
	Content string
}

// Metadata is the narrow, versioned metadata schema the client is willing to
// read from or write to a thread. Nil fields are left untouched on update;
// anything else a provider attaches to a thread never crosses this boundary.
type Metadata struct {
	Title  *string
	UserID *string
}

// Interrupt describes a run paused for human input
type Interrupt struct {
	ThreadID     string
	Reason       string // opaque descriptive text from the agent
	Instruction  string
	PendingSince time.Time
}

// EventKind tags a RunEvent
type EventKind string

const (
	// EventPartial carries the cumulative text of the current assistant turn
	EventPartial EventKind = "partial-output"
	// EventTool marks an internal tool-invocation record; never rendered
	EventTool EventKind = "tool"
	// EventInterrupt signals that the run paused for a human decision
	EventInterrupt EventKind = "interrupt"
	// EventError signals a failure inside the run
	EventError EventKind = "error"
	// EventDone marks normal completion of the run
	EventDone EventKind = "done"
)

// RunEvent is one unit of a run's event stream
type RunEvent struct {
	Kind      EventKind
	Content   string // cumulative assistant text when Kind == EventPartial
	Interrupt *Interrupt
	Err       string
}

// HumanAction is the operator's decision on an interrupted run
type HumanAction string

const (
	// ActionResolve ends the human-assist interaction
	ActionResolve HumanAction = "resolve"
	// ActionContinue lets the agent resume autonomous operation
	ActionContinue HumanAction = "continue"
)

// ResumePayload is delivered to the runtime to unblock an interrupted run
type ResumePayload struct {
	HumanResponse string      `json:"human_response"`
	HumanAction   HumanAction `json:"human_action"`
}

// ThreadFilter scopes ListThreads. Exactly one of OwnerID or Status is set:
// owner-scoped listing for the end user, status-scoped listing for the
// operator's cross-owner interrupt sweep.
type ThreadFilter struct {
	OwnerID string
	Status  ThreadStatus
}

// ThreadState is a point-in-time snapshot of a thread: its metadata, the
// persisted transcript, and the pending interrupt if the run is paused.
type ThreadState struct {
	Thread    *Thread
	Messages  []Message
	Interrupt *Interrupt // non-nil iff the thread is interrupted
}

// SessionStore is the contract the core consumes from the remote session
// runtime. Implementations: HTTPStore (hosted runtime), SQLiteStore (local
// development and tests), MockStore (unit tests).
type SessionStore interface {
	CreateThread(ctx context.Context, ownerID string) (*Thread, error)
	ListThreads(ctx context.Context, filter ThreadFilter) ([]*Thread, error)
	GetThreadState(ctx context.Context, id string) (*ThreadState, error)
	// UpdateThreadMetadata merges the patch into the latest metadata snapshot
	// without clobbering unrelated fields.
	UpdateThreadMetadata(ctx context.Context, id string, patch Metadata) error
	// DeleteThread is idempotent; deleting an absent thread returns ErrNotFound,
	// which callers may ignore.
	DeleteThread(ctx context.Context, id string) error
	// StreamRun opens one streaming execution against the thread. The returned
	// channel is closed when the run reaches a terminal state or ctx is
	// cancelled.
	StreamRun(ctx context.Context, threadID, assistantID, message string) (<-chan RunEvent, error)
	// ResumeRun unblocks an interrupted run with the operator's decision.
	// Returns ErrInterruptStale if the thread is no longer interrupted.
	ResumeRun(ctx context.Context, threadID, assistantID string, payload ResumePayload) error
}

// StringPtr returns a pointer to s, for building Metadata patches.
func StringPtr(s string) *string {
	return &s
}
