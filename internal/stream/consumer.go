// ABOUTME: Stream Consumer - owns one thread's live transcript and run state machine
// ABOUTME: Applies cumulative partial events by wholesale replacement, never concatenation

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/quorali/loopchat/internal/store"
)

// Status is the run state. A run only leaves a terminal state by a brand-new
// Start call.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusStreaming   Status = "streaming"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusErrored     Status = "errored"
	StatusCancelled   Status = "cancelled"
)

// ErrRunConflict is returned when Start is called while a run is streaming
var ErrRunConflict = errors.New("a run is already streaming on this thread")

// FailureNotice replaces the pending assistant turn when a run fails. The
// user's own message stays in the transcript.
const FailureNotice = "Sorry, there was an error processing your request. Please try again."

// Consumer drives one streaming run at a time against the active thread. It
// owns the live transcript: the optimistic user message, the placeholder
// assistant turn, and the cumulative content applied to it. The transcript is
// strictly append-only during a session; only the pending turn's content
// changes, and each partial event replaces it wholesale so duplicate or
// repeated-prefix events are safe no-ops.
type Consumer struct {
	mu          sync.RWMutex
	store       store.SessionStore
	assistantID string
	logger      *slog.Logger
	notifier    *Notifier

	threadID   string
	status     Status
	transcript []store.Message
	interrupt  *store.Interrupt
	pendingID  string // ID of the placeholder assistant message for the live run
	cancelRun  context.CancelFunc
}

// NewConsumer creates a Consumer bound to the given assistant.
// Pass nil logger for default.
func NewConsumer(s store.SessionStore, assistantID string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		store:       s,
		assistantID: assistantID,
		logger:      logger.With("component", "stream"),
		notifier:    NewNotifier(logger),
		status:      StatusIdle,
	}
}

// Subscribe registers a listener for transcript and status changes
func (c *Consumer) Subscribe(ctx context.Context) (<-chan struct{}, string) {
	return c.notifier.Subscribe(ctx)
}

// ThreadID returns the thread this consumer currently fronts
func (c *Consumer) ThreadID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threadID
}

// Status returns the current run status
func (c *Consumer) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Interrupt returns the pending interrupt, nil when the run is not paused
func (c *Consumer) Interrupt() *store.Interrupt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.interrupt == nil {
		return nil
	}
	cp := *c.interrupt
	return &cp
}

// Transcript returns a copy of the live transcript
func (c *Consumer) Transcript() []store.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]store.Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Load replaces the live transcript with a thread's persisted state. Any
// in-flight run is cancelled first: switching threads discards the previous
// live-stream subscription.
func (c *Consumer) Load(threadID string, msgs []store.Message, intr *store.Interrupt) {
	c.mu.Lock()
	if c.cancelRun != nil {
		c.cancelRun()
		c.cancelRun = nil
	}
	c.threadID = threadID
	c.transcript = make([]store.Message, len(msgs))
	copy(c.transcript, msgs)
	c.interrupt = intr
	if intr != nil {
		c.status = StatusInterrupted
	} else {
		c.status = StatusIdle
	}
	c.mu.Unlock()
	c.notifier.Notify()
}

// Start opens a run for the user message: the message is appended
// immediately (optimistic), followed by an empty assistant placeholder, and
// the remote event sequence starts flowing. Returns ErrRunConflict while a
// run is already streaming.
func (c *Consumer) Start(ctx context.Context, threadID, userMessage string) error {
	c.mu.Lock()
	if c.status == StatusStreaming {
		c.mu.Unlock()
		return ErrRunConflict
	}

	pendingID := uuid.New().String()
	c.threadID = threadID
	c.transcript = append(c.transcript,
		store.Message{ID: uuid.New().String(), Role: store.RoleUser, Content: userMessage},
		store.Message{ID: pendingID, Role: store.RoleAssistant, Content: ""},
	)
	c.pendingID = pendingID
	c.interrupt = nil
	c.status = StatusStreaming

	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel
	c.mu.Unlock()
	c.notifier.Notify()

	events, err := c.store.StreamRun(runCtx, threadID, c.assistantID, userMessage)
	if err != nil {
		cancel()
		c.fail(err.Error())
		return fmt.Errorf("opening run on thread %s: %w", threadID, err)
	}

	go c.consume(runCtx, events)
	return nil
}

// Stop cancels the in-flight network exchange and freezes the pending turn
// at its last applied content. A no-op unless a run is streaming.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if c.status != StatusStreaming {
		c.mu.Unlock()
		return
	}
	if c.cancelRun != nil {
		c.cancelRun()
		c.cancelRun = nil
	}
	c.status = StatusCancelled
	c.mu.Unlock()

	c.logger.Debug("run cancelled", "thread_id", c.ThreadID())
	c.notifier.Notify()
}

// consume applies the run's event sequence to the live transcript
func (c *Consumer) consume(ctx context.Context, events <-chan store.RunEvent) {
	for ev := range events {
		switch ev.Kind {
		case store.EventPartial:
			c.applyPartial(ev.Content)

		case store.EventTool:
			// Internal tool record; rendering it would leave the UI stuck
			// on a phantom turn
			c.logger.Debug("tool event discarded", "thread_id", c.ThreadID())

		case store.EventInterrupt:
			c.pause(ev.Interrupt)

		case store.EventError:
			c.logger.Warn("run failed",
				"thread_id", c.ThreadID(),
				"error", ev.Err)
			c.fail(ev.Err)

		case store.EventDone:
			c.finish(StatusCompleted)
		}
	}

	// Stream closed without a terminal event: completed on clean EOF,
	// cancelled when our context was torn down by Stop or a thread switch.
	c.mu.Lock()
	if c.status == StatusStreaming {
		if ctx.Err() != nil {
			c.status = StatusCancelled
		} else {
			c.status = StatusCompleted
		}
		c.cancelRun = nil
	}
	c.mu.Unlock()
	c.notifier.Notify()
}

// applyPartial replaces the pending turn's content with the event's
// cumulative payload. Late events after a terminal transition are ignored so
// a stopped run stays frozen.
func (c *Consumer) applyPartial(content string) {
	c.mu.Lock()
	if c.status != StatusStreaming {
		c.mu.Unlock()
		return
	}
	c.setPendingContent(content)
	c.mu.Unlock()
	c.notifier.Notify()
}

// pause records the interrupt and blocks the thread until a human decides
func (c *Consumer) pause(intr *store.Interrupt) {
	c.mu.Lock()
	if c.status != StatusStreaming {
		c.mu.Unlock()
		return
	}
	c.status = StatusInterrupted
	c.interrupt = intr
	c.cancelRun = nil
	c.mu.Unlock()
	c.notifier.Notify()
}

// fail marks the run errored and swaps the pending turn for the apology
// notice. The user's own message is never dropped.
func (c *Consumer) fail(reason string) {
	c.mu.Lock()
	if c.status != StatusStreaming {
		c.mu.Unlock()
		return
	}
	c.status = StatusErrored
	c.setPendingContent(FailureNotice)
	c.cancelRun = nil
	c.mu.Unlock()

	c.logger.Warn("run errored", "thread_id", c.ThreadID(), "reason", reason)
	c.notifier.Notify()
}

// finish moves the run to a terminal state
func (c *Consumer) finish(status Status) {
	c.mu.Lock()
	if c.status != StatusStreaming {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.cancelRun = nil
	c.mu.Unlock()
	c.notifier.Notify()
}

// setPendingContent replaces the placeholder turn's content. Caller holds mu.
func (c *Consumer) setPendingContent(content string) {
	for i := len(c.transcript) - 1; i >= 0; i-- {
		if c.transcript[i].ID == c.pendingID {
			c.transcript[i].Content = content
			return
		}
	}
}

// Close tears down the consumer and its subscribers
func (c *Consumer) Close() {
	c.Stop()
	c.notifier.Close()
}
