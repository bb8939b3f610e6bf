// Package media defines the shared media types used across the Fixer pipeline.
//
// These types form the lingua franca between capture sources, the live session
// transport, and playback. They are intentionally minimal — each package
// defines its own domain types, but the units of media transport live here to
// avoid circular imports.
package media

import "time"

// Audio format constants for the live session link. Input audio is captured
// and transmitted as raw little-endian 16-bit PCM; output audio arrives in the
// same encoding at a higher sample rate.
const (
	// SendSampleRate is the microphone capture rate in Hz.
	SendSampleRate = 16000

	// RecvSampleRate is the synthesised playback rate in Hz.
	RecvSampleRate = 24000

	// ChunkSamples is the number of samples per captured microphone buffer.
	ChunkSamples = 1024

	// MaxImageDim is the pixel bound applied to outbound images: neither
	// dimension may exceed this after downscaling.
	MaxImageDim = 1024
)

// MIME types carried by outbound frames.
const (
	MIMEText  = "text/plain"
	MIMEJPEG  = "image/jpeg"
	MIMEPCM16 = "audio/pcm;rate=16000"
)

// Frame is a single unit of outbound media sent to the live session.
// A Frame is immutable once produced; ownership transfers to whichever queue
// currently holds it and moves on with each dequeue.
type Frame struct {
	// MIME identifies the payload encoding (see the MIME* constants).
	MIME string

	// Payload is the raw media bytes. For MIMEText this is UTF-8 text.
	Payload []byte

	// CapturedAt marks when the frame was produced.
	CapturedAt time.Time
}

// TextFrame wraps text as an outbound Frame.
func TextFrame(text string) Frame {
	return Frame{MIME: MIMEText, Payload: []byte(text), CapturedAt: time.Now()}
}

// AudioFrame wraps a raw PCM chunk (16 kHz, s16le, mono) as an outbound Frame.
func AudioFrame(pcm []byte) Frame {
	return Frame{MIME: MIMEPCM16, Payload: pcm, CapturedAt: time.Now()}
}

// JPEGFrame wraps an encoded JPEG image as an outbound Frame.
func JPEGFrame(data []byte) Frame {
	return Frame{MIME: MIMEJPEG, Payload: data, CapturedAt: time.Now()}
}

// IsText reports whether the frame carries a text payload.
func (f Frame) IsText() bool { return f.MIME == MIMEText }

// Chunk is a single unit of inbound synthesised audio queued for playback.
type Chunk struct {
	// Payload is raw PCM audio (24 kHz, s16le, mono).
	Payload []byte

	// Turn identifies which response turn produced this chunk. The turn number
	// increments each time the remote side starts a new response; stale chunks
	// from a superseded turn are discarded by the barge-in flush.
	Turn int
}
