// Package mock provides test doubles for the session package interfaces.
//
// Use Dialer to verify Connect calls and feed controlled session handles.
// Use Handle to drive the inbound event stream and inspect which frames the
// live loop sent.
//
// Example:
//
//	h := &mock.Handle{EventsCh: make(chan session.Event, 8)}
//	d := &mock.Dialer{Handle: h}
//	sess, _ := d.Connect(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/fixer-ai/fixer/pkg/media"
	"github.com/fixer-ai/fixer/pkg/session"
)

// ConnectCall records a single invocation of Dialer.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg session.Config
}

// Dialer is a mock implementation of session.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Handle is returned by Connect. If nil, Connect returns a new default
	// Handle with a buffered event channel.
	Handle session.Handle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Handle, ConnectErr.
func (d *Dialer) Connect(ctx context.Context, cfg session.Config) (session.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ConnectCalls = append(d.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}
	if d.Handle != nil {
		return d.Handle, nil
	}
	return &Handle{EventsCh: make(chan session.Event, 64)}, nil
}

// Ensure Dialer implements session.Dialer at compile time.
var _ session.Dialer = (*Dialer)(nil)

// SendCall records a single invocation of Handle.Send.
type SendCall struct {
	// Frame is a copy of the frame that was passed to Send.
	Frame media.Frame
}

// Handle is a mock implementation of session.Handle.
// Callers should pre-populate EventsCh, then close it to signal end of
// session.
type Handle struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Callers own this channel.
	EventsCh chan session.Event

	// toolCallHandler is the currently registered ToolCallHandler.
	toolCallHandler session.ToolCallHandler

	// --- Configurable results ---

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// ErrVal is returned by Err.
	ErrVal error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendCalls records every call to Send in order.
	SendCalls []SendCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// OnToolCallSetCount is the number of times OnToolCall was called.
	OnToolCallSetCount int
}

// Send records the call and returns SendErr.
func (h *Handle) Send(_ context.Context, frame media.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := frame
	cp.Payload = make([]byte, len(frame.Payload))
	copy(cp.Payload, frame.Payload)
	h.SendCalls = append(h.SendCalls, SendCall{Frame: cp})
	return h.SendErr
}

// Events returns EventsCh.
func (h *Handle) Events() <-chan session.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.EventsCh
}

// Err returns ErrVal.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ErrVal
}

// OnToolCall stores the handler and increments OnToolCallSetCount.
func (h *Handle) OnToolCall(handler session.ToolCallHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.toolCallHandler = handler
	h.OnToolCallSetCount++
}

// Handler returns the currently registered ToolCallHandler. Thread-safe.
func (h *Handle) Handler() session.ToolCallHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.toolCallHandler
}

// Close records the call and returns CloseErr.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CloseCallCount++
	return h.CloseErr
}

// SentFrames returns a snapshot of all frames passed to Send so far.
func (h *Handle) SentFrames() []media.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	frames := make([]media.Frame, len(h.SendCalls))
	for i, call := range h.SendCalls {
		frames[i] = call.Frame
	}
	return frames
}

// ResetCalls clears all recorded calls. Thread-safe.
func (h *Handle) ResetCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.SendCalls = nil
	h.CloseCallCount = 0
	h.OnToolCallSetCount = 0
}

// Ensure Handle implements session.Handle at compile time.
var _ session.Handle = (*Handle)(nil)
