// ABOUTME: Interrupt Coordinator - operator-side discovery and resolution of paused runs
// ABOUTME: Polls interrupted threads across all owners and delivers resolve/continue decisions

package interrupt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quorali/loopchat/internal/registry"
	"github.com/quorali/loopchat/internal/store"
)

// DefaultPollInterval is the cadence for interrupt discovery
const DefaultPollInterval = 10 * time.Second

// DefaultOperatorResponse is sent when the operator leaves the free-text
// response empty
const DefaultOperatorResponse = "Response from administrator."

// fallbackNotice is shown to the end user when an interrupt carries no
// descriptive text
const fallbackNotice = "The agent is waiting for approval to proceed."

// ErrDecisionInFlight is returned when a resume for the thread has been
// submitted and not yet acknowledged. Blocks double-submit of a decision.
var ErrDecisionInFlight = errors.New("a decision for this thread is already in flight")

// Notice renders the consumer-side "waiting for intervention" text for an
// interrupt, falling back to a generic string when the agent supplied none.
func Notice(intr *store.Interrupt) string {
	if intr == nil {
		return ""
	}
	if intr.Reason != "" {
		return intr.Reason
	}
	if intr.Instruction != "" {
		return intr.Instruction
	}
	return fallbackNotice
}

// Coordinator maintains the operator's view of interrupted threads. Listing
// interrupted threads across all owners is the single allowed cross-owner
// read; everything else in the client stays scoped to one principal.
type Coordinator struct {
	store       store.SessionStore
	assistantID string
	interval    time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	pending  []*store.Thread
	inflight map[string]bool
}

// NewCoordinator creates a Coordinator polling at the given interval
// (DefaultPollInterval when zero). Pass nil logger for default.
func NewCoordinator(s store.SessionStore, assistantID string, interval time.Duration, logger *slog.Logger) *Coordinator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:       s,
		assistantID: assistantID,
		interval:    interval,
		logger:      logger.With("component", "interrupt"),
		inflight:    make(map[string]bool),
	}
}

// Run polls for interrupted threads until ctx is cancelled. An immediate
// refresh fires before the first tick.
func (c *Coordinator) Run(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial interrupt sweep failed", "error", err)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("interrupt sweep failed", "error", err)
			}
		}
	}
}

// Refresh re-reads the interrupted set from the store. The server is the
// sole source of truth: threads resumed elsewhere disappear, threads paused
// again reappear.
func (c *Coordinator) Refresh(ctx context.Context) error {
	threads, err := c.store.ListThreads(ctx, store.ThreadFilter{Status: store.ThreadStatusInterrupted})
	if err != nil {
		return fmt.Errorf("listing interrupted threads: %w", err)
	}
	registry.SortThreads(threads)

	c.mu.Lock()
	c.pending = threads
	c.mu.Unlock()

	c.logger.Debug("interrupt sweep complete", "pending", len(threads))
	return nil
}

// Pending returns the operator's current pending-interrupts list
func (c *Coordinator) Pending() []*store.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*store.Thread, len(c.pending))
	copy(out, c.pending)
	return out
}

// Resolve ends the human-assist interaction for the thread
func (c *Coordinator) Resolve(ctx context.Context, threadID, response string) error {
	return c.resume(ctx, threadID, response, store.ActionResolve)
}

// Continue lets the agent resume autonomous operation, keeping the option
// for a future interrupt
func (c *Coordinator) Continue(ctx context.Context, threadID, response string) error {
	return c.resume(ctx, threadID, response, store.ActionContinue)
}

// resume delivers one decision per thread at a time. On success the thread
// is optimistically removed from the pending list; on failure it stays
// listed and the error goes back to the operator, since a swallowed failure
// leaves a user stuck.
func (c *Coordinator) resume(ctx context.Context, threadID, response string, action store.HumanAction) error {
	c.mu.Lock()
	if c.inflight[threadID] {
		c.mu.Unlock()
		return ErrDecisionInFlight
	}
	c.inflight[threadID] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, threadID)
		c.mu.Unlock()
	}()

	if response == "" {
		response = DefaultOperatorResponse
	}

	err := c.store.ResumeRun(ctx, threadID, c.assistantID, store.ResumePayload{
		HumanResponse: response,
		HumanAction:   action,
	})
	if errors.Is(err, store.ErrInterruptStale) {
		// Someone else already resumed it; the outcome the operator wanted
		// has happened.
		c.logger.Info("resume against non-interrupted thread ignored",
			"thread_id", threadID,
			"action", action)
		err = nil
	}
	if err != nil {
		return fmt.Errorf("resuming thread %s: %w", threadID, err)
	}

	c.removePending(threadID)
	c.logger.Info("interrupt resolved",
		"thread_id", threadID,
		"action", action)
	return nil
}

func (c *Coordinator) removePending(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pending[:0]
	for _, t := range c.pending {
		if t.ID != threadID {
			kept = append(kept, t)
		}
	}
	c.pending = kept
}
