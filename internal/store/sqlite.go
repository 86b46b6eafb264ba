// ABOUTME: SQLite-backed SessionStore with a scripted agent, using modernc.org/sqlite
// ABOUTME: Powers local development (loopchat-dev) and the test suite without the hosted runtime

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// handoffMarker in a user message makes the scripted agent pause the run and
// raise an interrupt, mimicking the hosted agent's human-assist escalation.
const handoffMarker = "human"

// defaultHandoffReason is attached to scripted interrupts
const defaultHandoffReason = "User asked to speak with a human"

// ReplyFunc produces the scripted agent's reply for a user message
type ReplyFunc func(userMessage string) string

// SQLiteStore implements SessionStore on a local database with a scripted
// agent. Runs stream their reply as cumulative partial events the same way
// the hosted runtime does.
type SQLiteStore struct {
	db        *sql.DB
	logger    *slog.Logger
	reply     ReplyFunc
	stepDelay time.Duration // pause between partial events; zero in tests
}

// NewSQLiteStore creates a store at the given path. The schema is created if
// it doesn't exist and parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for concurrent readers during streaming
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		reply:  echoReply,
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// SetReply overrides the scripted agent's reply function
func (s *SQLiteStore) SetReply(fn ReplyFunc) {
	s.reply = fn
}

// SetStepDelay sets the pause between streamed partial events
func (s *SQLiteStore) SetStepDelay(d time.Duration) {
	s.stepDelay = d
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_threads_owner ON threads(owner_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_threads_status ON threads(status);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq);

	CREATE TABLE IF NOT EXISTS interrupts (
		thread_id TEXT PRIMARY KEY REFERENCES threads(id) ON DELETE CASCADE,
		reason TEXT NOT NULL,
		instruction TEXT NOT NULL,
		pending_since TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateThread creates an untitled active thread for the owner
func (s *SQLiteStore) CreateThread(ctx context.Context, ownerID string) (*Thread, error) {
	now := time.Now().UTC()
	thread := &Thread{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Status:    ThreadStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, owner_id, title, status, created_at, updated_at) VALUES (?, ?, '', ?, ?, ?)`,
		thread.ID, thread.OwnerID, thread.Status, thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: creating thread: %v", ErrStoreUnavailable, err)
	}
	s.logger.Debug("thread created", "thread_id", thread.ID, "owner_id", ownerID)
	return thread, nil
}

// ListThreads returns threads matching the filter, most recently updated first
func (s *SQLiteStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]*Thread, error) {
	query := `SELECT id, owner_id, title, status, created_at, updated_at FROM threads`
	var args []any
	switch {
	case filter.Status != "":
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	case filter.OwnerID != "":
		query += ` WHERE owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	query += ` ORDER BY updated_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing threads: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		t := &Thread{}
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

func (s *SQLiteStore) getThread(ctx context.Context, id string) (*Thread, error) {
	t := &Thread{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, status, created_at, updated_at FROM threads WHERE id = ?`, id).
		Scan(&t.ID, &t.OwnerID, &t.Title, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading thread: %v", ErrStoreUnavailable, err)
	}
	return t, nil
}

// GetThreadState returns the thread, its transcript, and any pending interrupt
func (s *SQLiteStore) GetThreadState(ctx context.Context, id string) (*ThreadState, error) {
	thread, err := s.getThread(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content FROM messages WHERE thread_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: reading messages: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	state := &ThreadState{Thread: thread}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		state.Messages = append(state.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	intr, err := s.getInterrupt(ctx, id)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	state.Interrupt = intr
	return state, nil
}

func (s *SQLiteStore) getInterrupt(ctx context.Context, threadID string) (*Interrupt, error) {
	intr := &Interrupt{ThreadID: threadID}
	err := s.db.QueryRowContext(ctx,
		`SELECT reason, instruction, pending_since FROM interrupts WHERE thread_id = ?`, threadID).
		Scan(&intr.Reason, &intr.Instruction, &intr.PendingSince)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading interrupt: %v", ErrStoreUnavailable, err)
	}
	return intr, nil
}

// UpdateThreadMetadata merges the patch into the thread record
func (s *SQLiteStore) UpdateThreadMetadata(ctx context.Context, id string, patch Metadata) error {
	thread, err := s.getThread(ctx, id)
	if err != nil {
		return err
	}
	title := thread.Title
	if patch.Title != nil {
		title = *patch.Title
	}
	owner := thread.OwnerID
	if patch.UserID != nil {
		owner = *patch.UserID
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE threads SET title = ?, owner_id = ?, updated_at = ? WHERE id = ?`,
		title, owner, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: updating thread: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteThread removes a thread and its messages
func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: deleting thread: %v", ErrStoreUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// StreamRun records the user message, then streams the scripted agent's reply
// as cumulative partial events. A message containing the handoff marker pauses
// the run with an interrupt instead of completing.
func (s *SQLiteStore) StreamRun(ctx context.Context, threadID, assistantID, message string) (<-chan RunEvent, error) {
	if _, err := s.getThread(ctx, threadID); err != nil {
		return nil, err
	}
	if _, err := s.getInterrupt(ctx, threadID); err == nil {
		return nil, fmt.Errorf("thread %s is awaiting a human decision", threadID)
	} else if err != ErrNotFound {
		return nil, err
	}

	if err := s.appendMessage(ctx, threadID, RoleUser, message); err != nil {
		return nil, err
	}

	ch := make(chan RunEvent, 16)
	go s.runAgent(ctx, threadID, message, ch)
	return ch, nil
}

// runAgent streams the scripted reply word by word, each event carrying the
// cumulative text so far.
func (s *SQLiteStore) runAgent(ctx context.Context, threadID, message string, ch chan<- RunEvent) {
	defer close(ch)

	handoff := strings.Contains(strings.ToLower(message), handoffMarker)
	reply := s.reply(message)
	if handoff {
		reply = "Let me bring in a human to help with that."
	}

	var cumulative strings.Builder
	for i, word := range strings.Fields(reply) {
		if i > 0 {
			cumulative.WriteString(" ")
		}
		cumulative.WriteString(word)
		send(ctx, ch, RunEvent{Kind: EventPartial, Content: cumulative.String()})
		if s.stepDelay > 0 {
			select {
			case <-time.After(s.stepDelay):
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}

	// Persist with a detached context so a client disconnect doesn't lose
	// the turn that was already streamed.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.appendMessage(saveCtx, threadID, RoleAssistant, cumulative.String()); err != nil {
		s.logger.Error("failed to persist assistant turn", "thread_id", threadID, "error", err)
		send(ctx, ch, RunEvent{Kind: EventError, Err: err.Error()})
		return
	}

	if handoff {
		intr, err := s.raiseInterrupt(saveCtx, threadID, message)
		if err != nil {
			s.logger.Error("failed to raise interrupt", "thread_id", threadID, "error", err)
			send(ctx, ch, RunEvent{Kind: EventError, Err: err.Error()})
			return
		}
		send(ctx, ch, RunEvent{Kind: EventInterrupt, Interrupt: intr})
		return
	}

	send(ctx, ch, RunEvent{Kind: EventDone})
}

func (s *SQLiteStore) raiseInterrupt(ctx context.Context, threadID, query string) (*Interrupt, error) {
	intr := &Interrupt{
		ThreadID:     threadID,
		Reason:       defaultHandoffReason,
		Instruction:  "Review the conversation and respond to: " + query,
		PendingSince: time.Now().UTC(),
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO interrupts (thread_id, reason, instruction, pending_since) VALUES (?, ?, ?, ?)`,
		intr.ThreadID, intr.Reason, intr.Instruction, intr.PendingSince); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET status = ?, updated_at = ? WHERE id = ?`,
		ThreadStatusInterrupted, time.Now().UTC(), threadID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return intr, tx.Commit()
}

// ResumeRun clears the interrupt and appends the human response to the
// transcript. Resuming a thread that is not interrupted returns
// ErrInterruptStale; callers log it and move on.
func (s *SQLiteStore) ResumeRun(ctx context.Context, threadID, assistantID string, payload ResumePayload) error {
	if _, err := s.getInterrupt(ctx, threadID); err == ErrNotFound {
		return ErrInterruptStale
	} else if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM interrupts WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET status = ?, updated_at = ? WHERE id = ?`,
		ThreadStatusActive, time.Now().UTC(), threadID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = ?`, threadID).Scan(&seq); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), threadID, seq, RoleAssistant, payload.HumanResponse, time.Now().UTC()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.logger.Debug("run resumed",
		"thread_id", threadID,
		"action", payload.HumanAction)
	return nil
}

func (s *SQLiteStore) appendMessage(ctx context.Context, threadID, role, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = ?`, threadID).Scan(&seq); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), threadID, seq, role, content, time.Now().UTC()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`, time.Now().UTC(), threadID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tx.Commit()
}

// echoReply is the default scripted response
func echoReply(message string) string {
	return "You said: " + message + ". How else can I help?"
}
