// ABOUTME: Thread Registry - lists, creates, renames, and deletes threads for a principal
// ABOUTME: Normalizes and sorts thread summaries; list failures degrade to empty, never fatal

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/quorali/loopchat/internal/store"
)

// Registry manages thread summaries for a principal on top of the session store
type Registry struct {
	store  store.SessionStore
	logger *slog.Logger
}

// New creates a Registry. Pass nil logger for default.
func New(s store.SessionStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  s,
		logger: logger.With("component", "registry"),
	}
}

// sortKey orders threads most recently updated first, falling back to
// creation time when a thread has never been updated.
func sortKey(t *store.Thread) time.Time {
	if t.UpdatedAt.IsZero() {
		return t.CreatedAt
	}
	return t.UpdatedAt
}

// SortThreads orders threads by update recency, newest first. Ties keep the
// store-assigned order (stable sort).
func SortThreads(threads []*store.Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		return sortKey(threads[i]).After(sortKey(threads[j]))
	})
}

// List returns the owner's threads sorted by update recency. A transient
// fetch failure is logged and degrades to an empty list with the error
// returned alongside; the UI keeps functioning either way.
func (r *Registry) List(ctx context.Context, ownerID string) ([]*store.Thread, error) {
	threads, err := r.store.ListThreads(ctx, store.ThreadFilter{OwnerID: ownerID})
	if err != nil {
		r.logger.Warn("thread list fetch failed",
			"owner_id", ownerID,
			"error", err)
		return nil, err
	}
	SortThreads(threads)
	return threads, nil
}

// Create makes a new untitled active thread for the owner
func (r *Registry) Create(ctx context.Context, ownerID string) (*store.Thread, error) {
	thread, err := r.store.CreateThread(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: creating thread: %v", store.ErrStoreUnavailable, err)
	}
	r.logger.Debug("thread created", "thread_id", thread.ID, "owner_id", ownerID)
	return thread, nil
}

// Rename sets the thread title. The store merges against the latest metadata
// snapshot, so unrelated fields survive.
func (r *Registry) Rename(ctx context.Context, threadID, title string) error {
	if err := r.store.UpdateThreadMetadata(ctx, threadID, store.Metadata{Title: store.StringPtr(title)}); err != nil {
		return fmt.Errorf("renaming thread %s: %w", threadID, err)
	}
	return nil
}

// Delete removes a thread. Deleting an already-deleted thread is not an error.
func (r *Registry) Delete(ctx context.Context, threadID string) error {
	err := r.store.DeleteThread(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Debug("delete of absent thread ignored", "thread_id", threadID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting thread %s: %w", threadID, err)
	}
	return nil
}
