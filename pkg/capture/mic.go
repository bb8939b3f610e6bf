package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/fixer-ai/fixer/pkg/media"
)

// Compile-time assertion that Mic satisfies AudioInput.
var _ AudioInput = (*Mic)(nil)

// Mic is a PortAudio-backed microphone stream delivering fixed-size PCM
// chunks at 16 kHz mono.
type Mic struct {
	stream *portaudio.Stream
	buf    []int16

	mu     sync.Mutex
	closed bool
}

// OpenMic opens the default input device. The caller must have called [Init]
// first.
func OpenMic() (*Mic, error) {
	m := &Mic{buf: make([]int16, media.ChunkSamples)}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(media.SendSampleRate), media.ChunkSamples, m.buf)
	if err != nil {
		return nil, fmt.Errorf("capture: open mic: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("capture: start mic: %w", err)
	}

	m.stream = stream
	return m, nil
}

// ReadChunk blocks until one full chunk of audio has been captured and
// returns it as little-endian PCM16 bytes.
func (m *Mic) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("capture: mic closed")
	}
	stream := m.stream
	m.mu.Unlock()

	// Read blocks for the duration of one buffer (64 ms at 16 kHz), so a
	// cancelled context is observed on the next iteration at the latest.
	if err := stream.Read(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("capture: read mic: %w", err)
	}

	return samplesToBytes(m.buf), nil
}

// Close stops the stream and releases the device. Idempotent.
func (m *Mic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	m.stream.Stop()
	if err := m.stream.Close(); err != nil {
		return fmt.Errorf("capture: close mic: %w", err)
	}
	return nil
}
