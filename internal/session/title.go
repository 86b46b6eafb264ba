// ABOUTME: Thread title derivation from the first user message
// ABOUTME: Collapses whitespace and caps at 50 characters with an ellipsis

package session

import "strings"

// maxTitleLength caps derived thread titles
const maxTitleLength = 50

// DeriveTitle builds a thread title from the first user message: internal
// whitespace collapsed, trimmed, and truncated to 50 characters with "..."
// when longer.
func DeriveTitle(firstMessage string) string {
	cleaned := strings.Join(strings.Fields(firstMessage), " ")
	if len(cleaned) <= maxTitleLength {
		return cleaned
	}
	return cleaned[:maxTitleLength-3] + "..."
}
