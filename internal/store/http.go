// ABOUTME: HTTPStore adapter for the hosted session runtime's REST+SSE API
// ABOUTME: Maps thread CRUD, run streaming, and interrupt resume onto the SessionStore contract

package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// listLimit bounds a single thread search
	listLimit = 100
	// streamScanBufferSize bounds a single SSE line; cumulative turns can get large
	streamScanBufferSize = 1 << 20
)

// HTTPStore implements SessionStore against the hosted runtime's HTTP API.
// Timeouts are delegated to the caller's context; the embedded client carries
// none so that long-lived run streams are not cut off mid-turn.
type HTTPStore struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPStore creates an adapter for the runtime at baseURL.
// Pass nil logger for default.
func NewHTTPStore(baseURL string, logger *slog.Logger) *HTTPStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  logger.With("component", "httpstore"),
	}
}

// CreateThread creates a thread owned by ownerID
func (s *HTTPStore) CreateThread(ctx context.Context, ownerID string) (*Thread, error) {
	body := map[string]any{
		"metadata": map[string]any{"userId": ownerID},
	}
	var pt providerThread
	if err := s.doJSON(ctx, http.MethodPost, "/threads", body, &pt); err != nil {
		return nil, err
	}
	return threadFromProvider(pt), nil
}

// ListThreads searches threads by owner or by interrupted status
func (s *HTTPStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]*Thread, error) {
	body := map[string]any{"limit": listLimit}
	if filter.OwnerID != "" {
		body["metadata"] = map[string]any{"userId": filter.OwnerID}
	}
	if filter.Status != "" {
		body["status"] = string(filter.Status)
		body["sort_by"] = "updated_at"
		body["sort_order"] = "desc"
	}

	var pts []providerThread
	if err := s.doJSON(ctx, http.MethodPost, "/threads/search", body, &pts); err != nil {
		return nil, err
	}

	threads := make([]*Thread, 0, len(pts))
	for _, pt := range pts {
		threads = append(threads, threadFromProvider(pt))
	}
	return threads, nil
}

// providerStateTask carries pending interrupts in a state snapshot
type providerStateTask struct {
	Interrupts []struct {
		Value struct {
			Reason      string `json:"reason"`
			Instruction string `json:"instruction"`
		} `json:"value"`
	} `json:"interrupts"`
}

// providerState mirrors the runtime's thread state snapshot
type providerState struct {
	Values struct {
		Messages []providerMessage `json:"messages"`
	} `json:"values"`
	Metadata map[string]any      `json:"metadata"`
	Tasks    []providerStateTask `json:"tasks"`
}

// GetThreadState fetches the thread record and its state snapshot
func (s *HTTPStore) GetThreadState(ctx context.Context, id string) (*ThreadState, error) {
	var pt providerThread
	if err := s.doJSON(ctx, http.MethodGet, "/threads/"+id, nil, &pt); err != nil {
		return nil, err
	}

	var ps providerState
	if err := s.doJSON(ctx, http.MethodGet, "/threads/"+id+"/state", nil, &ps); err != nil {
		return nil, err
	}

	thread := threadFromProvider(pt)
	state := &ThreadState{
		Thread:   thread,
		Messages: normalizeMessages(ps.Values.Messages),
	}
	for _, task := range ps.Tasks {
		for _, intr := range task.Interrupts {
			state.Interrupt = &Interrupt{
				ThreadID:     id,
				Reason:       intr.Value.Reason,
				Instruction:  intr.Value.Instruction,
				PendingSince: thread.UpdatedAt,
			}
			thread.Status = ThreadStatusInterrupted
			break
		}
	}
	return state, nil
}

// UpdateThreadMetadata merges the patch into the latest metadata snapshot.
// Read-modify-write: the runtime replaces metadata wholesale on PATCH, so the
// adapter fetches the current blob first to avoid clobbering unrelated fields.
func (s *HTTPStore) UpdateThreadMetadata(ctx context.Context, id string, patch Metadata) error {
	var pt providerThread
	if err := s.doJSON(ctx, http.MethodGet, "/threads/"+id, nil, &pt); err != nil {
		return err
	}

	body := map[string]any{"metadata": applyPatch(pt.Metadata, patch)}
	return s.doJSON(ctx, http.MethodPatch, "/threads/"+id, body, nil)
}

// DeleteThread removes a thread
func (s *HTTPStore) DeleteThread(ctx context.Context, id string) error {
	return s.doJSON(ctx, http.MethodDelete, "/threads/"+id, nil, nil)
}

// StreamRun opens a run against the thread and consumes its SSE event
// sequence. The returned channel closes when the run ends or ctx is
// cancelled; cancelling ctx tears down the underlying connection.
func (s *HTTPStore) StreamRun(ctx context.Context, threadID, assistantID, message string) (<-chan RunEvent, error) {
	body := map[string]any{
		"assistant_id": assistantID,
		"input": map[string]any{
			"messages": []map[string]any{
				{"type": "human", "content": message},
			},
		},
		"stream_mode": []string{"messages"},
	}

	resp, err := s.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs/stream", body)
	if err != nil {
		return nil, err
	}

	ch := make(chan RunEvent, 16)
	go s.consumeSSE(ctx, threadID, resp.Body, ch)
	return ch, nil
}

// consumeSSE parses the event stream and forwards normalized RunEvents
func (s *HTTPStore) consumeSSE(ctx context.Context, threadID string, body io.ReadCloser, ch chan<- RunEvent) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), streamScanBufferSize)

	var eventName, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if eventName != "" {
				s.dispatchSSE(ctx, threadID, eventName, data, ch)
			}
			eventName, data = "", ""
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Warn("run stream broke",
			"thread_id", threadID,
			"error", err)
		send(ctx, ch, RunEvent{Kind: EventError, Err: err.Error()})
	}
}

// interruptUpdate is the shape of an "updates" frame announcing an interrupt
type interruptUpdate struct {
	Interrupt []struct {
		Value struct {
			Reason      string `json:"reason"`
			Instruction string `json:"instruction"`
		} `json:"value"`
	} `json:"__interrupt__"`
}

// dispatchSSE converts one SSE frame into zero or one RunEvent
func (s *HTTPStore) dispatchSSE(ctx context.Context, threadID, eventName, data string, ch chan<- RunEvent) {
	switch eventName {
	case "messages/partial":
		// Frame carries the chunk list for the current turn; the last entry
		// holds the cumulative content so far.
		var chunks []providerMessage
		if err := json.Unmarshal([]byte(data), &chunks); err != nil || len(chunks) == 0 {
			return
		}
		last := chunks[len(chunks)-1]
		role, ok := normalizeRole(last.Type)
		if !ok {
			// Tool-invocation record: recognized and discarded, never rendered
			send(ctx, ch, RunEvent{Kind: EventTool})
			return
		}
		if role != RoleAssistant {
			return
		}
		send(ctx, ch, RunEvent{Kind: EventPartial, Content: flattenContent(last.Content)})

	case "updates":
		var upd interruptUpdate
		if err := json.Unmarshal([]byte(data), &upd); err != nil || len(upd.Interrupt) == 0 {
			return
		}
		v := upd.Interrupt[0].Value
		send(ctx, ch, RunEvent{Kind: EventInterrupt, Interrupt: &Interrupt{
			ThreadID:     threadID,
			Reason:       v.Reason,
			Instruction:  v.Instruction,
			PendingSince: time.Now(),
		}})

	case "error":
		send(ctx, ch, RunEvent{Kind: EventError, Err: data})

	case "end":
		send(ctx, ch, RunEvent{Kind: EventDone})
	}
}

// ResumeRun delivers the operator's decision to an interrupted run
func (s *HTTPStore) ResumeRun(ctx context.Context, threadID, assistantID string, payload ResumePayload) error {
	body := map[string]any{
		"assistant_id": assistantID,
		"command":      map[string]any{"resume": payload},
	}
	return s.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body, nil)
}

// doJSON performs a request and decodes the response body into out (if non-nil)
func (s *HTTPStore) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := s.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s %s: %v", ErrStoreUnavailable, method, path, err)
	}
	return nil
}

// do performs a request and maps transport and status failures onto the
// store error taxonomy. The caller owns the response body on success.
func (s *HTTPStore) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrStoreUnavailable, method, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		resp.Body.Close()
		return nil, ErrInterruptStale
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", ErrStoreUnavailable, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// send forwards an event unless the consumer has gone away
func send(ctx context.Context, ch chan<- RunEvent, ev RunEvent) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
