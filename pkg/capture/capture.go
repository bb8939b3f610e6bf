// Package capture provides the local media sources and sinks used by the live
// loop: microphone input, speaker output, and one-shot frame grabbers for
// screen and webcam.
//
// Audio devices are backed by PortAudio and must be bracketed by [Init] and
// [Terminate]. Frame grabbers shell out to ffmpeg for a single still image per
// call, so they hold no device handle between grabs.
package capture

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/fixer-ai/fixer/pkg/media"
)

// AudioInput is a continuous microphone source. ReadChunk blocks until a full
// chunk of PCM is available.
type AudioInput interface {
	// ReadChunk returns the next chunk of raw PCM (16 kHz, s16le, mono).
	// The returned slice is owned by the caller.
	ReadChunk(ctx context.Context) ([]byte, error)

	// Close stops the stream and releases the device.
	Close() error
}

// AudioOutput is a synchronous speaker sink. Play blocks until the given PCM
// has been handed to the device, which is what paces the playback loop.
type AudioOutput interface {
	// Play writes raw PCM (24 kHz, s16le, mono) to the device, blocking until
	// it has been consumed.
	Play(pcm []byte) error

	// Close stops the stream and releases the device.
	Close() error
}

// FrameGrabber produces a single image frame per call.
type FrameGrabber interface {
	// Grab captures one frame, downscaled to fit the transmission bounds.
	Grab(ctx context.Context) (media.Frame, error)
}

// Init initializes the PortAudio runtime. It must be called once before any
// audio device is opened.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("capture: initialize portaudio: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio runtime. Call after all devices are closed.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("capture: terminate portaudio: %w", err)
	}
	return nil
}
