// Package session defines the boundary to the live bidirectional model
// connection.
//
// A session carries outbound [media.Frame] values (audio, images, text turns)
// and yields a single ordered stream of inbound events: text fragments, audio
// fragments, and turn-boundary markers. The turn-boundary marker is emitted on
// the same channel strictly before the first audio fragment of the turn it
// opens, which is what makes barge-in flushing race-free for consumers.
//
// All implementations must be safe for concurrent use.
package session

import (
	"context"
	"errors"

	"github.com/fixer-ai/fixer/pkg/media"
)

// ErrClosed is returned by Send when the session is no longer open.
var ErrClosed = errors.New("session: closed")

// ToolCallHandler is a callback invoked by the session whenever the model
// requests a tool call. The handler receives the tool name and a JSON-encoded
// arguments string and must return either a result string (injected back into
// the session as tool output) or an error.
//
// The handler may be called from the session's internal receive goroutine —
// implementors must not call blocking session methods from within the handler
// to avoid deadlocks.
type ToolCallHandler func(name string, args string) (string, error)

// ToolDefinition describes a tool offered to the model at session setup.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does.
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// Config is the initial configuration for a new live session.
type Config struct {
	// Instructions is the system-level context sent before any other input.
	// It establishes the assistant's role before the first user turn.
	Instructions string

	// Voice selects the prebuilt voice for synthesised speech output.
	// Empty means provider default.
	Voice string

	// Tools is the set of tool definitions offered to the model. Tool calls
	// are surfaced via the handler set with OnToolCall.
	Tools []ToolDefinition
}

// EventKind discriminates the inbound event variants.
type EventKind int

const (
	// EventText carries a text fragment to render immediately.
	EventText EventKind = iota

	// EventAudio carries a synthesised audio fragment for playback.
	EventAudio

	// EventTurn marks the start of a new response turn. It always precedes the
	// first EventAudio of that turn.
	EventTurn
)

// String returns the kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventAudio:
		return "audio"
	case EventTurn:
		return "turn"
	}
	return "unknown"
}

// Event is a single inbound item from the live session.
type Event struct {
	// Kind selects which of the remaining fields is meaningful.
	Kind EventKind

	// Text is the fragment content for EventText.
	Text string

	// Audio is the raw PCM payload (24 kHz, s16le, mono) for EventAudio.
	Audio []byte

	// Turn is the response turn this event belongs to. For EventTurn it is the
	// number of the turn being opened.
	Turn int
}

// Handle represents an open live session. It is an interface so that test
// code can supply mock implementations without a live connection.
//
// Callers must call Close when the session is no longer needed.
type Handle interface {
	// Send transmits a frame as part of the current turn. Text frames complete
	// a user turn; audio and image frames stream as realtime input. Send fails
	// with an error wrapping [ErrClosed] if the session is not open.
	Send(ctx context.Context, frame media.Frame) error

	// Events returns the ordered inbound event stream. The channel is closed
	// when the session ends; call [Handle.Err] afterwards to learn whether it
	// ended cleanly. Consumers must drain this channel promptly.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it closed
	// cleanly. Valid after the Events channel is closed.
	Err() error

	// OnToolCall registers a handler invoked when the model requests a tool
	// call. Only one handler can be active; passing nil clears it.
	OnToolCall(handler ToolCallHandler)

	// Close terminates the session and releases all resources. Idempotent.
	Close() error
}

// Dialer opens live sessions. Exactly one session exists per run of the live
// loop; sessions are never reused across runs.
type Dialer interface {
	// Connect establishes a new session with the given configuration. The
	// returned Handle is ready to accept frames once Connect returns.
	Connect(ctx context.Context, cfg Config) (Handle, error)
}
