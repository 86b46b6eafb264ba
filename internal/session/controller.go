// ABOUTME: Session Controller - orchestrates registry, stream consumer, and interrupts for one principal
// ABOUTME: Owns the active thread, idempotent initialization, and the delete fallback chain

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/quorali/loopchat/internal/auth"
	"github.com/quorali/loopchat/internal/interrupt"
	"github.com/quorali/loopchat/internal/registry"
	"github.com/quorali/loopchat/internal/store"
	"github.com/quorali/loopchat/internal/stream"
)

// Controller orchestrates one active thread at a time for the presentation
// layer. It is constructed with an explicit principal rather than reading
// ambient global state, so tests can run independent sessions side by side.
type Controller struct {
	mu        sync.Mutex
	store     store.SessionStore
	registry  *registry.Registry
	consumer  *stream.Consumer
	principal auth.Principal
	logger    *slog.Logger

	initialized bool
	active      *store.Thread
	titled      map[string]bool // threads whose title derivation already fired
}

// NewController wires a session for the principal. Pass nil logger for default.
func NewController(s store.SessionStore, reg *registry.Registry, consumer *stream.Consumer, principal auth.Principal, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:     s,
		registry:  reg,
		consumer:  consumer,
		principal: principal,
		logger:    logger.With("component", "session", "principal_id", principal.ID),
		titled:    make(map[string]bool),
	}
}

// Init selects the principal's most recently updated thread, creating one
// only when none exist. It runs at most once per controller; re-entering the
// conversation view never races a duplicate thread into existence.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	c.initialized = true

	threads, err := c.registry.List(ctx, c.principal.ID)
	if err != nil {
		// Degraded listing: fall through and create a fresh thread so the
		// session still has somewhere to go.
		c.logger.Warn("listing threads during init failed", "error", err)
	}
	if len(threads) > 0 {
		return c.selectLocked(ctx, threads[0].ID)
	}
	return c.newChatLocked(ctx)
}

// SubmitMessage sends a user message on the active thread. A no-op when the
// text is blank, a run is already streaming, or the thread is interrupted.
// The first message of a fresh thread derives and persists the title,
// exactly once per thread.
func (c *Controller) SubmitMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return errors.New("no active thread")
	}
	switch c.consumer.Status() {
	case stream.StatusStreaming, stream.StatusInterrupted:
		return nil
	}

	// The server owns interrupt state. Another participant may have paused
	// this thread since we last looked, so re-read before accepting input.
	state, err := c.store.GetThreadState(ctx, c.active.ID)
	if err != nil {
		c.logger.Warn("status re-read failed, rejecting input", "thread_id", c.active.ID, "error", err)
		return fmt.Errorf("checking thread status: %w", err)
	}
	if state.Interrupt != nil {
		c.consumer.Load(c.active.ID, state.Messages, state.Interrupt)
		c.active = state.Thread
		return nil
	}

	c.deriveTitleOnce(ctx, text)

	if err := c.consumer.Start(ctx, c.active.ID, text); err != nil {
		if errors.Is(err, stream.ErrRunConflict) {
			return nil
		}
		// The failure is already visible in-transcript as the apology turn.
		c.logger.Warn("run failed to open", "thread_id", c.active.ID, "error", err)
	}
	return nil
}

// deriveTitleOnce persists a derived title on the first message of a fresh
// thread. Fires at most once per thread regardless of outcome. Caller holds mu.
func (c *Controller) deriveTitleOnce(ctx context.Context, text string) {
	if c.titled[c.active.ID] || c.active.Title != "" {
		return
	}
	c.titled[c.active.ID] = true

	title := DeriveTitle(text)
	if err := c.registry.Rename(ctx, c.active.ID, title); err != nil {
		c.logger.Warn("title rename failed", "thread_id", c.active.ID, "error", err)
		return
	}
	c.active.Title = title
}

// StopGeneration cancels the in-flight run, freezing the assistant turn at
// its last applied content
func (c *Controller) StopGeneration() {
	c.consumer.Stop()
}

// NewChat creates a fresh thread, makes it active, and clears the visible
// transcript
func (c *Controller) NewChat(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newChatLocked(ctx)
}

func (c *Controller) newChatLocked(ctx context.Context) error {
	thread, err := c.registry.Create(ctx, c.principal.ID)
	if err != nil {
		return err
	}
	c.active = thread
	c.consumer.Load(thread.ID, nil, nil)
	return nil
}

// SelectThread makes the given thread active, replacing the visible
// transcript with its persisted state. A no-op when already active.
func (c *Controller) SelectThread(ctx context.Context, threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.ID == threadID {
		return nil
	}
	return c.selectLocked(ctx, threadID)
}

func (c *Controller) selectLocked(ctx context.Context, threadID string) error {
	c.consumer.Stop()

	state, err := c.store.GetThreadState(ctx, threadID)
	if err != nil {
		return fmt.Errorf("loading thread %s: %w", threadID, err)
	}

	c.active = state.Thread
	if state.Thread.Title != "" {
		c.titled[threadID] = true
	}
	c.consumer.Load(threadID, state.Messages, state.Interrupt)
	return nil
}

// DeleteThread removes a thread. When the active thread is deleted, the next
// most recently updated thread takes over; when none remain, a fresh thread
// is created. The session is never left without an active thread.
func (c *Controller) DeleteThread(ctx context.Context, threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.registry.Delete(ctx, threadID); err != nil {
		return err
	}

	if c.active == nil || c.active.ID != threadID {
		return nil
	}
	c.consumer.Stop()
	c.active = nil

	threads, err := c.registry.List(ctx, c.principal.ID)
	if err != nil {
		c.logger.Warn("listing threads after delete failed", "error", err)
	}
	for _, t := range threads {
		if t.ID == threadID {
			continue // store may not have observed the delete yet
		}
		return c.selectLocked(ctx, t.ID)
	}
	return c.newChatLocked(ctx)
}

// Threads lists the principal's threads, most recently updated first
func (c *Controller) Threads(ctx context.Context) ([]*store.Thread, error) {
	return c.registry.List(ctx, c.principal.ID)
}

// ActiveThread returns a copy of the active thread, nil before Init
func (c *Controller) ActiveThread() *store.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	cp := *c.active
	return &cp
}

// Transcript returns the visible transcript for the active thread
func (c *Controller) Transcript() []store.Message {
	return c.consumer.Transcript()
}

// Status returns the active run status
func (c *Controller) Status() stream.Status {
	return c.consumer.Status()
}

// InterruptNotice returns the waiting-for-intervention text when the active
// thread is paused, empty otherwise
func (c *Controller) InterruptNotice() string {
	return interrupt.Notice(c.consumer.Interrupt())
}

// Subscribe registers a listener for transcript and status changes
func (c *Controller) Subscribe(ctx context.Context) (<-chan struct{}, string) {
	return c.consumer.Subscribe(ctx)
}
