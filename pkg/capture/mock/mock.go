// Package mock provides test doubles for the capture package interfaces.
//
// Use Input to feed scripted PCM chunks to a consumer, Output to record what
// was played, and Grabber to serve canned frames.
package mock

import (
	"context"
	"sync"

	"github.com/fixer-ai/fixer/pkg/capture"
	"github.com/fixer-ai/fixer/pkg/media"
)

// Input is a mock implementation of capture.AudioInput. Pre-populate Chunks
// (or push to it from the test) and close it to signal end of stream.
type Input struct {
	mu sync.Mutex

	// Chunks is the source of data returned by ReadChunk. Callers own this
	// channel.
	Chunks chan []byte

	// ReadErr, if non-nil, is returned by every ReadChunk call.
	ReadErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// ReadChunk returns the next scripted chunk, ReadErr if set, or blocks until
// the context is cancelled or Chunks is closed.
func (in *Input) ReadChunk(ctx context.Context) ([]byte, error) {
	in.mu.Lock()
	readErr := in.ReadErr
	in.mu.Unlock()
	if readErr != nil {
		return nil, readErr
	}

	select {
	case chunk, ok := <-in.Chunks:
		if !ok {
			return nil, context.Canceled
		}
		return chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close records the call and returns CloseErr.
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.CloseCallCount++
	return in.CloseErr
}

// Ensure Input implements capture.AudioInput at compile time.
var _ capture.AudioInput = (*Input)(nil)

// Output is a mock implementation of capture.AudioOutput recording every
// chunk passed to Play.
type Output struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Played records a copy of every chunk passed to Play, in order.
	Played [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Play records a copy of pcm and returns PlayErr.
func (out *Output) Play(pcm []byte) error {
	out.mu.Lock()
	defer out.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	out.Played = append(out.Played, cp)
	return out.PlayErr
}

// Close records the call and returns CloseErr.
func (out *Output) Close() error {
	out.mu.Lock()
	defer out.mu.Unlock()
	out.CloseCallCount++
	return out.CloseErr
}

// PlayedChunks returns a snapshot of everything played so far.
func (out *Output) PlayedChunks() [][]byte {
	out.mu.Lock()
	defer out.mu.Unlock()
	chunks := make([][]byte, len(out.Played))
	copy(chunks, out.Played)
	return chunks
}

// Ensure Output implements capture.AudioOutput at compile time.
var _ capture.AudioOutput = (*Output)(nil)

// Grabber is a mock implementation of capture.FrameGrabber returning a canned
// frame or error.
type Grabber struct {
	mu sync.Mutex

	// Frame is returned by Grab when GrabErr is nil.
	Frame media.Frame

	// GrabErr, if non-nil, is returned by every Grab call.
	GrabErr error

	// GrabCallCount is the number of times Grab was called.
	GrabCallCount int
}

// Grab records the call and returns Frame, GrabErr.
func (g *Grabber) Grab(_ context.Context) (media.Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.GrabCallCount++
	if g.GrabErr != nil {
		return media.Frame{}, g.GrabErr
	}
	return g.Frame, nil
}

// Calls returns the number of Grab invocations so far. Thread-safe.
func (g *Grabber) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.GrabCallCount
}

// SetErr updates GrabErr. Thread-safe.
func (g *Grabber) SetErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.GrabErr = err
}

// Ensure Grabber implements capture.FrameGrabber at compile time.
var _ capture.FrameGrabber = (*Grabber)(nil)
