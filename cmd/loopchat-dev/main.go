// ABOUTME: Local development session runtime: serves the store's HTTP contract over SQLite
// ABOUTME: Scripted echo agent with human-handoff interrupts; also mints principal tokens

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quorali/loopchat/internal/auth"
	"github.com/quorali/loopchat/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: loopchat-dev <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Run the local session runtime")
		fmt.Println("  token   Mint a principal token for local use")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "principal ID (required)")
	role := fs.String("role", auth.RoleUser, "principal role (user or admin)")
	secret := fs.String("secret", "", "JWT secret (required)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	fs.Parse(args)

	if *user == "" || *secret == "" {
		return fmt.Errorf("-user and -secret are required")
	}

	verifier := auth.NewJWTVerifier([]byte(*secret))
	token, err := verifier.Generate(auth.Principal{ID: *user, Role: *role}, *ttl)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "localhost:8000", "listen address")
	dbPath := fs.String("db", "loopchat-dev.db", "SQLite database path")
	stepDelay := fs.Duration("step-delay", 40*time.Millisecond, "pause between streamed partials")
	fs.Parse(args)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	s, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()
	s.SetStepDelay(*stepDelay)

	srv := &devServer{store: s, logger: logger.With("component", "devserver")}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads", srv.createThread)
	mux.HandleFunc("POST /threads/search", srv.searchThreads)
	mux.HandleFunc("GET /threads/{id}", srv.getThread)
	mux.HandleFunc("GET /threads/{id}/state", srv.getState)
	mux.HandleFunc("PATCH /threads/{id}", srv.patchThread)
	mux.HandleFunc("DELETE /threads/{id}", srv.deleteThread)
	mux.HandleFunc("POST /threads/{id}/runs/stream", srv.streamRun)
	mux.HandleFunc("POST /threads/{id}/runs", srv.resumeRun)

	httpServer := &http.Server{Addr: *addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("dev session runtime listening", "addr", *addr, "db", *dbPath)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type devServer struct {
	store  *store.SQLiteStore
	logger *slog.Logger
}

// threadJSON is the wire shape of a thread record
type threadJSON struct {
	ThreadID  string         `json:"thread_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata"`
}

func toThreadJSON(t *store.Thread) threadJSON {
	return threadJSON{
		ThreadID:  t.ID,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
		Status:    string(t.Status),
		Metadata: map[string]any{
			"userId": t.OwnerID,
			"title":  t.Title,
		},
	}
}

func (s *devServer) createThread(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Metadata map[string]any `json:"metadata"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	owner, _ := body.Metadata["userId"].(string)
	thread, err := s.store.CreateThread(r.Context(), owner)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, toThreadJSON(thread))
}

func (s *devServer) searchThreads(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Metadata map[string]any `json:"metadata"`
		Status   string         `json:"status"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	filter := store.ThreadFilter{Status: store.ThreadStatus(body.Status)}
	if owner, ok := body.Metadata["userId"].(string); ok {
		filter.OwnerID = owner
	}

	threads, err := s.store.ListThreads(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]threadJSON, 0, len(threads))
	for _, t := range threads {
		out = append(out, toThreadJSON(t))
	}
	writeJSON(w, out)
}

func (s *devServer) getThread(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.GetThreadState(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, toThreadJSON(state.Thread))
}

func (s *devServer) getState(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.GetThreadState(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}

	messages := make([]map[string]any, 0, len(state.Messages))
	for _, m := range state.Messages {
		role := "ai"
		if m.Role == store.RoleUser {
			role = "human"
		}
		messages = append(messages, map[string]any{
			"id":      m.ID,
			"type":    role,
			"content": m.Content,
		})
	}

	out := map[string]any{
		"values":   map[string]any{"messages": messages},
		"metadata": toThreadJSON(state.Thread).Metadata,
		"tasks":    []any{},
	}
	if state.Interrupt != nil {
		out["tasks"] = []map[string]any{{
			"interrupts": []map[string]any{{
				"value": map[string]any{
					"reason":      state.Interrupt.Reason,
					"instruction": state.Interrupt.Instruction,
				},
			}},
		}}
	}
	writeJSON(w, out)
}

func (s *devServer) patchThread(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var patch store.Metadata
	if title, ok := body.Metadata["title"].(string); ok {
		patch.Title = store.StringPtr(title)
	}
	if owner, ok := body.Metadata["userId"].(string); ok {
		patch.UserID = store.StringPtr(owner)
	}

	if err := s.store.UpdateThreadMetadata(r.Context(), r.PathValue("id"), patch); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{})
}

func (s *devServer) deleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteThread(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{})
}

func (s *devServer) streamRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AssistantID string `json:"assistant_id"`
		Input       struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Input.Messages) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	events, err := s.store.StreamRun(r.Context(), r.PathValue("id"), body.AssistantID, body.Input.Messages[0].Content)
	if err != nil {
		s.fail(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	for ev := range events {
		switch ev.Kind {
		case store.EventPartial:
			writeSSE(w, "messages/partial", []map[string]any{{"type": "ai", "content": ev.Content}})
		case store.EventInterrupt:
			writeSSE(w, "updates", map[string]any{
				"__interrupt__": []map[string]any{{
					"value": map[string]any{
						"reason":      ev.Interrupt.Reason,
						"instruction": ev.Interrupt.Instruction,
					},
				}},
			})
		case store.EventError:
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", ev.Err)
		case store.EventDone:
			fmt.Fprint(w, "event: end\ndata: {}\n\n")
		}
		flusher.Flush()
	}
}

func (s *devServer) resumeRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AssistantID string `json:"assistant_id"`
		Command     struct {
			Resume store.ResumePayload `json:"resume"`
		} `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	err := s.store.ResumeRun(r.Context(), r.PathValue("id"), body.AssistantID, body.Command.Resume)
	if errors.Is(err, store.ErrInterruptStale) {
		http.Error(w, "thread is not interrupted", http.StatusConflict)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{})
}

func (s *devServer) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.logger.Error("request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	buf, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, buf)
}
