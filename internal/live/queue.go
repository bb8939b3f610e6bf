package live

import (
	"context"
	"sync"

	"github.com/fixer-ai/fixer/pkg/media"
)

// outboundCap bounds the transmission queue. When the network cannot keep up,
// producers block here instead of buffering unbounded stale media.
const outboundCap = 5

// OutboundQueue is the bounded frame queue between capture producers and the
// session sender. Put blocks when the queue is full, which is the backpressure
// that keeps outbound media fresh.
type OutboundQueue struct {
	ch chan media.Frame
}

// NewOutboundQueue creates an empty outbound queue.
func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{ch: make(chan media.Frame, outboundCap)}
}

// Put enqueues frame, blocking while the queue is full. Returns the context
// error if ctx is cancelled while waiting.
func (q *OutboundQueue) Put(ctx context.Context, frame media.Frame) error {
	select {
	case q.ch <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the oldest frame, blocking while the queue is empty. Returns
// the context error if ctx is cancelled while waiting.
func (q *OutboundQueue) Get(ctx context.Context) (media.Frame, error) {
	select {
	case frame := <-q.ch:
		return frame, nil
	case <-ctx.Done():
		return media.Frame{}, ctx.Err()
	}
}

// Len reports the number of queued frames.
func (q *OutboundQueue) Len() int { return len(q.ch) }

// PlaybackQueue is the unbounded FIFO between the session receiver and the
// speaker. It must never block the receiver: inbound audio arrives faster than
// real time and is paced on the way out by the audio device, not on the way
// in. Flush discards everything queued, which is how a turn boundary cuts off
// a superseded response.
type PlaybackQueue struct {
	mu     sync.Mutex
	chunks []media.Chunk

	notify chan struct{} // signalled when a chunk is enqueued
}

// NewPlaybackQueue creates an empty playback queue.
func NewPlaybackQueue() *PlaybackQueue {
	return &PlaybackQueue{notify: make(chan struct{}, 1)}
}

// Put enqueues chunk. It never blocks.
func (q *PlaybackQueue) Put(chunk media.Chunk) {
	q.mu.Lock()
	q.chunks = append(q.chunks, chunk)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Get dequeues the oldest chunk, blocking while the queue is empty. A
// cancelled context wins over queued chunks: once the session is shutting
// down, nothing more may reach the device.
func (q *PlaybackQueue) Get(ctx context.Context) (media.Chunk, error) {
	for {
		select {
		case <-ctx.Done():
			return media.Chunk{}, ctx.Err()
		default:
		}

		q.mu.Lock()
		if len(q.chunks) > 0 {
			chunk := q.chunks[0]
			q.chunks = q.chunks[1:]
			q.mu.Unlock()
			return chunk, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return media.Chunk{}, ctx.Err()
		}
	}
}

// Flush discards all queued chunks and returns how many were dropped. Chunks
// enqueued after Flush returns are unaffected.
func (q *PlaybackQueue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.chunks)
	q.chunks = q.chunks[:0]
	return n
}

// Len reports the number of queued chunks.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}
