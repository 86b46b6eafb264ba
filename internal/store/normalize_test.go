// ABOUTME: Tests for provider wire-shape normalization
// ABOUTME: Covers polymorphic content flattening, role mapping, and metadata narrowing

package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenContent_StringForm(t *testing.T) {
	assert.Equal(t, "hello", flattenContent(json.RawMessage(`"hello"`)))
}

func TestFlattenContent_PartsForm(t *testing.T) {
	raw := json.RawMessage(`[{"text": "One "}, {"text": "moment "}, {"text": "please"}]`)
	assert.Equal(t, "One moment please", flattenContent(raw))
}

func TestFlattenContent_UnparseableFlattensToEmpty(t *testing.T) {
	assert.Equal(t, "", flattenContent(json.RawMessage(`{"weird": true}`)))
	assert.Equal(t, "", flattenContent(nil))
}

func TestNormalizeRole(t *testing.T) {
	for provider, want := range map[string]string{
		"human":     RoleUser,
		"user":      RoleUser,
		"ai":        RoleAssistant,
		"assistant": RoleAssistant,
	} {
		role, ok := normalizeRole(provider)
		require.True(t, ok, provider)
		assert.Equal(t, want, role)
	}

	for _, provider := range []string{"tool", "system", "", "function"} {
		_, ok := normalizeRole(provider)
		assert.False(t, ok, provider)
	}
}

func TestNormalizeMessages_DropsToolRecords(t *testing.T) {
	msgs := normalizeMessages([]providerMessage{
		{ID: "m1", Type: "human", Content: json.RawMessage(`"help"`)},
		{ID: "m2", Type: "tool", Content: json.RawMessage(`"lookup()"`)},
		{ID: "m3", Type: "ai", Content: json.RawMessage(`"sure"`)},
	})

	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
}

func TestThreadFromProvider(t *testing.T) {
	created := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	pt := providerThread{
		ThreadID:  "t1",
		CreatedAt: created,
		UpdatedAt: created.Add(time.Hour),
		Status:    "interrupted",
		Metadata: map[string]any{
			"userId": "user-1",
			"title":  "printers",
			"extra":  map[string]any{"ignored": true},
		},
	}

	thread := threadFromProvider(pt)
	assert.Equal(t, "t1", thread.ID)
	assert.Equal(t, "user-1", thread.OwnerID)
	assert.Equal(t, "printers", thread.Title)
	assert.Equal(t, ThreadStatusInterrupted, thread.Status)
	assert.Equal(t, created.Add(time.Hour), thread.UpdatedAt)
}

func TestThreadFromProvider_UnknownStatusIsActive(t *testing.T) {
	thread := threadFromProvider(providerThread{ThreadID: "t1", Status: "busy"})
	assert.Equal(t, ThreadStatusActive, thread.Status)
}

func TestApplyPatch_PreservesUnrelatedFields(t *testing.T) {
	merged := applyPatch(map[string]any{
		"userId": "user-1",
		"custom": "kept",
	}, Metadata{Title: StringPtr("new title")})

	assert.Equal(t, "new title", merged["title"])
	assert.Equal(t, "user-1", merged["userId"])
	assert.Equal(t, "kept", merged["custom"])
}

func TestApplyPatch_NilBase(t *testing.T) {
	merged := applyPatch(nil, Metadata{UserID: StringPtr("user-2")})
	assert.Equal(t, "user-2", merged["userId"])
}
