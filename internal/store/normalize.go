// ABOUTME: Boundary normalization for provider wire shapes
// ABOUTME: Flattens polymorphic message chunks and narrows metadata blobs into canonical records

package store

import (
	"encoding/json"
	"time"
)

// providerMessage mirrors the runtime's role-tagged message record. Content
// is polymorphic across runtime versions: either a plain string or an array
// of content parts carrying text fragments.
type providerMessage struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"` // "human" | "ai" | "tool" | ...
	Content json.RawMessage `json:"content"`
}

// providerThread mirrors the runtime's thread record
type providerThread struct {
	ThreadID  string         `json:"thread_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata"`
}

// contentPart is one fragment of a parts-array content form
type contentPart struct {
	Text string `json:"text"`
}

// flattenContent reduces either content form to a single string. Unparseable
// content flattens to empty rather than leaking provider shapes upward.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var out string
	for _, p := range parts {
		out += p.Text
	}
	return out
}

// normalizeRole maps provider role tags to canonical roles. The second return
// is false for records that should not enter a transcript (tool calls, tool
// results, system records).
func normalizeRole(providerType string) (string, bool) {
	switch providerType {
	case "human", "user":
		return RoleUser, true
	case "ai", "assistant":
		return RoleAssistant, true
	default:
		return "", false
	}
}

// normalizeMessage converts one provider record into a canonical Message.
// Returns false for records that are filtered at the boundary.
func normalizeMessage(pm providerMessage) (Message, bool) {
	role, ok := normalizeRole(pm.Type)
	if !ok {
		return Message{}, false
	}
	return Message{
		ID:      pm.ID,
		Role:    role,
		Content: flattenContent(pm.Content),
	}, true
}

// normalizeMessages converts a provider transcript, dropping tool records
func normalizeMessages(pms []providerMessage) []Message {
	msgs := make([]Message, 0, len(pms))
	for _, pm := range pms {
		if m, ok := normalizeMessage(pm); ok {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// metadataString extracts a string field from a loosely-typed metadata blob
func metadataString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	if v, ok := md[key].(string); ok {
		return v
	}
	return ""
}

// threadFromProvider narrows a provider thread record into the canonical
// Thread. Only the versioned metadata fields (title, userId) are read;
// arbitrary remote fields never reach core invariants.
func threadFromProvider(pt providerThread) *Thread {
	status := ThreadStatusActive
	if pt.Status == string(ThreadStatusInterrupted) {
		status = ThreadStatusInterrupted
	}
	return &Thread{
		ID:        pt.ThreadID,
		OwnerID:   metadataString(pt.Metadata, "userId"),
		Title:     metadataString(pt.Metadata, "title"),
		Status:    status,
		CreatedAt: pt.CreatedAt,
		UpdatedAt: pt.UpdatedAt,
	}
}

// applyPatch merges a Metadata patch into a provider metadata blob,
// preserving unrelated fields.
func applyPatch(md map[string]any, patch Metadata) map[string]any {
	merged := make(map[string]any, len(md)+2)
	for k, v := range md {
		merged[k] = v
	}
	if patch.Title != nil {
		merged["title"] = *patch.Title
	}
	if patch.UserID != nil {
		merged["userId"] = *patch.UserID
	}
	return merged
}
