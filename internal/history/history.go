// Package history stores bounded per-conversation message logs used to give
// the diagnosis engine context across turns.
//
// Each conversation keeps at most [MaxEntries] entries; older entries are
// evicted on append. Implementations must be safe for concurrent use.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// MaxEntries bounds how many entries a conversation retains.
	MaxEntries = 10

	// ContextWindow is how many trailing entries are folded into the prompt
	// context for a new diagnosis.
	ContextWindow = 5
)

// Entry is a single message in a conversation.
type Entry struct {
	// Role is "user" or "assistant".
	Role string

	// Message is the entry text. For assistant entries this is the reply
	// summary, not the full structured diagnosis.
	Message string

	// At is when the entry was recorded.
	At time.Time
}

// Store persists conversation histories keyed by an opaque conversation ID
// (a phone number for the SMS daemon, a session ID elsewhere).
type Store interface {
	// Append records entry under id, evicting the oldest entries beyond
	// MaxEntries.
	Append(ctx context.Context, id string, entry Entry) error

	// History returns the retained entries for id, oldest first. An unknown
	// id yields an empty slice, not an error.
	History(ctx context.Context, id string) ([]Entry, error)

	// Reset removes all entries for id.
	Reset(ctx context.Context, id string) error
}

// Context renders the last ContextWindow entries as "role: message" lines for
// inclusion in a diagnosis prompt. An empty history yields "".
func Context(entries []Entry) string {
	if len(entries) > ContextWindow {
		entries = entries[len(entries)-ContextWindow:]
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s: %s", e.Role, e.Message))
	}
	return strings.Join(lines, "\n")
}
