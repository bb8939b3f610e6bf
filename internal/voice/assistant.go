// Package voice is the hands-free front-end: listen on the microphone,
// transcribe, diagnose, and speak the answer back.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fixer-ai/fixer/internal/diagnose"
	"github.com/fixer-ai/fixer/internal/observe"
	"github.com/fixer-ai/fixer/pkg/capture"
)

// Transcriber converts one recorded utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Speaker renders text as audible speech, blocking until playback ends.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

const greeting = "Fixer here. Describe your problem, or say screenshot, webcam, or quit."

// Assistant drives the listen-transcribe-diagnose-speak loop.
type Assistant struct {
	mic    capture.AudioInput
	stt    Transcriber
	tts    Speaker
	diag   diagnose.Diagnoser
	screen capture.FrameGrabber
	webcam capture.FrameGrabber

	listenTimeout time.Duration
	log           *slog.Logger
	metrics       *observe.Metrics
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithScreen sets the screenshot grabber used by the "screenshot" command.
func WithScreen(g capture.FrameGrabber) Option {
	return func(a *Assistant) { a.screen = g }
}

// WithWebcam sets the webcam grabber used by the "webcam" command.
func WithWebcam(g capture.FrameGrabber) Option {
	return func(a *Assistant) { a.webcam = g }
}

// WithListenTimeout overrides the per-attempt listening window.
func WithListenTimeout(d time.Duration) Option {
	return func(a *Assistant) { a.listenTimeout = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// New creates a voice assistant over the given devices and engines.
func New(mic capture.AudioInput, stt Transcriber, tts Speaker, diag diagnose.Diagnoser, opts ...Option) *Assistant {
	a := &Assistant{
		mic:           mic,
		stt:           stt,
		tts:           tts,
		diag:          diag,
		listenTimeout: defaultListenTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Run loops until the user says quit or ctx is cancelled. A listening window
// that expires without speech simply starts the next window.
func (a *Assistant) Run(ctx context.Context) error {
	a.speak(ctx, greeting)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		utterance, err := listen(ctx, a.mic, a.listenTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("voice: listen: %w", err)
		}
		if len(utterance) == 0 {
			a.log.Debug("listening window expired without speech")
			continue
		}

		start := time.Now()
		text, err := a.stt.Transcribe(ctx, utterance)
		a.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			a.log.Error("transcription failed", slog.String("error", err.Error()))
			a.speak(ctx, "Sorry, I didn't catch that.")
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		a.log.Info("heard", slog.String("text", text))

		switch MatchCommand(text) {
		case CommandQuit:
			a.speak(ctx, "Goodbye!")
			return nil

		case CommandScreenshot:
			a.captureAndDiagnose(ctx, a.screen, "screenshot")

		case CommandWebcam:
			a.captureAndDiagnose(ctx, a.webcam, "webcam")

		default:
			res, err := a.diag.ProcessText(ctx, text)
			a.respond(ctx, res, err)
		}
	}
}

// captureAndDiagnose grabs a frame and diagnoses it with a generic prompt,
// since there is no second utterance describing what to look for.
func (a *Assistant) captureAndDiagnose(ctx context.Context, grabber capture.FrameGrabber, source string) {
	if grabber == nil {
		a.speak(ctx, fmt.Sprintf("Sorry, %s capture is not available.", source))
		return
	}

	a.speak(ctx, "Capturing now.")
	frame, err := grabber.Grab(ctx)
	if err != nil {
		a.log.Error("capture failed", slog.String("source", source), slog.String("error", err.Error()))
		a.metrics.RecordCaptureError(ctx, source)
		a.speak(ctx, fmt.Sprintf("Sorry, the %s capture failed.", source))
		return
	}

	res, err := a.diag.ProcessMultimodal(ctx, "Describe any problem visible in this image and how to fix it.", frame)
	a.respond(ctx, res, err)
}

// respond speaks a diagnosis result.
func (a *Assistant) respond(ctx context.Context, res diagnose.Result, err error) {
	if err != nil {
		a.log.Error("diagnosis failed", slog.String("error", err.Error()))
		a.speak(ctx, "Sorry, something went wrong processing that.")
		return
	}

	switch r := res.(type) {
	case diagnose.Diagnosis:
		a.speak(ctx, SpokenSummary(r))
	case diagnose.ParseFailure:
		a.speak(ctx, strings.TrimSpace(r.Raw))
	}
}

// speak logs rather than fails when synthesis breaks: losing one spoken reply
// must not end the session.
func (a *Assistant) speak(ctx context.Context, text string) {
	if err := a.tts.Speak(ctx, text); err != nil && ctx.Err() == nil {
		a.log.Error("speech synthesis failed", slog.String("error", err.Error()))
	}
}

// SpokenSummary renders a diagnosis as a short utterance: the cause plus the
// steps, scripts omitted entirely.
func SpokenSummary(d diagnose.Diagnosis) string {
	var sb strings.Builder
	if d.Cause != "" {
		sb.WriteString(d.Cause)
	}
	if len(d.Steps) > 0 {
		sb.WriteString(" Here's what to do. ")
		for i, step := range d.Steps {
			fmt.Fprintf(&sb, "Step %d: %s. ", i+1, strings.TrimRight(step, "."))
		}
	}
	if strings.TrimSpace(d.Script) != "" {
		sb.WriteString("A repair script is available in the terminal interface.")
	}
	return strings.TrimSpace(sb.String())
}
