package voice

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/fixer-ai/fixer/pkg/capture"
)

const (
	// defaultListenTimeout bounds one listening attempt. Expiry without
	// speech is not an error: the loop just listens again.
	defaultListenTimeout = 15 * time.Second

	// rmsThreshold is the 16-bit PCM energy level separating speech from
	// room noise.
	rmsThreshold = 300.0

	// silenceAfterSpeech ends the utterance once the speaker pauses this long.
	silenceAfterSpeech = 800 * time.Millisecond

	// maxUtterance forces a flush of very long utterances so the transcriber
	// never receives unbounded audio.
	maxUtterance = 30 * time.Second
)

// listen records one utterance from mic: audio from the first chunk that
// crosses the speech threshold until silenceAfterSpeech of quiet. A timeout
// with no speech at all returns (nil, nil).
func listen(ctx context.Context, mic capture.AudioInput, timeout time.Duration) ([]byte, error) {
	listenCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		utterance []byte
		speech    bool
		silence   time.Duration
		total     time.Duration
	)

	for {
		chunk, err := mic.ReadChunk(listenCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && listenCtx.Err() != nil && ctx.Err() == nil {
				// Listening window expired. Speech collected so far still counts.
				if speech {
					return utterance, nil
				}
				return nil, nil
			}
			return nil, err
		}

		chunkDur := pcmDuration(len(chunk))
		total += chunkDur

		if rms(chunk) >= rmsThreshold {
			speech = true
			silence = 0
			utterance = append(utterance, chunk...)
		} else if speech {
			silence += chunkDur
			utterance = append(utterance, chunk...)
			if silence >= silenceAfterSpeech {
				return utterance, nil
			}
		}

		if speech && total >= maxUtterance {
			return utterance, nil
		}
	}
}

// rms computes the root-mean-square energy of 16-bit little-endian PCM.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// pcmDuration converts a mono 16 kHz s16le byte count to wall time.
func pcmDuration(bytes int) time.Duration {
	const bytesPerSecond = 16000 * 2
	return time.Duration(bytes) * time.Second / bytesPerSecond
}
