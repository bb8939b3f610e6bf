package capture

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/fixer-ai/fixer/pkg/media"
)

// Compile-time assertion that Speaker satisfies AudioOutput.
var _ AudioOutput = (*Speaker)(nil)

// speakerFrames is the device buffer size in samples (~40 ms at 24 kHz).
const speakerFrames = 960

// Speaker is a PortAudio-backed output stream playing 24 kHz mono PCM.
// Play blocks for the duration of the audio, so the caller's loop is paced by
// the device itself.
type Speaker struct {
	stream *portaudio.Stream
	out    []int16

	mu      sync.Mutex
	pending []int16
	closed  bool
}

// OpenSpeaker opens the default output device. The caller must have called
// [Init] first.
func OpenSpeaker() (*Speaker, error) {
	s := &Speaker{out: make([]int16, speakerFrames)}

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(media.RecvSampleRate), speakerFrames, s.out)
	if err != nil {
		return nil, fmt.Errorf("capture: open speaker: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("capture: start speaker: %w", err)
	}

	s.stream = stream
	return s, nil
}

// Play writes pcm to the device, blocking until every full device buffer has
// been consumed. A tail shorter than one device buffer is held back and
// prepended to the next call, so chunk boundaries do not cause gaps.
func (s *Speaker) Play(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("capture: speaker closed")
	}

	s.pending = append(s.pending, bytesToSamples(pcm)...)

	for len(s.pending) >= speakerFrames {
		copy(s.out, s.pending[:speakerFrames])
		s.pending = s.pending[speakerFrames:]
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("capture: write speaker: %w", err)
		}
	}
	return nil
}

// Close stops the stream and releases the device. Any buffered tail shorter
// than one device buffer is discarded. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("capture: close speaker: %w", err)
	}
	return nil
}
