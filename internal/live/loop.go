// Package live implements the realtime assistant session: capture sources
// feeding a bounded outbound queue, a bidirectional model session, and
// synchronous audio playback with barge-in flushing on turn boundaries.
//
// All tasks of one run are supervised together: the first failure or a user
// quit cancels every sibling, and the session handle is always closed before
// Run returns. Audio device handles are owned by the caller and stay open
// across the run.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fixer-ai/fixer/internal/observe"
	"github.com/fixer-ai/fixer/pkg/capture"
	"github.com/fixer-ai/fixer/pkg/media"
	"github.com/fixer-ai/fixer/pkg/session"
)

// VideoMode selects the continuous video source streamed alongside audio.
type VideoMode string

const (
	// VideoNone streams no continuous video.
	VideoNone VideoMode = "none"

	// VideoCamera streams webcam frames.
	VideoCamera VideoMode = "camera"

	// VideoScreen streams screen captures.
	VideoScreen VideoMode = "screen"
)

// IsValid reports whether m is a known video mode.
func (m VideoMode) IsValid() bool {
	switch m {
	case VideoNone, VideoCamera, VideoScreen:
		return true
	}
	return false
}

// defaultVideoInterval is the cadence of continuous video capture.
const defaultVideoInterval = time.Second

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Loop.
type Option func(*Loop)

// WithMic attaches a microphone source. Without one, no audio is streamed out.
func WithMic(mic capture.AudioInput) Option {
	return func(l *Loop) { l.mic = mic }
}

// WithSpeaker attaches a playback sink. Without one, inbound audio is
// discarded on arrival.
func WithSpeaker(speaker capture.AudioOutput) Option {
	return func(l *Loop) { l.speaker = speaker }
}

// WithScreen attaches the screen grabber, used for the screenshot command and
// as the continuous source when the video mode is [VideoScreen].
func WithScreen(g capture.FrameGrabber) Option {
	return func(l *Loop) { l.screen = g }
}

// WithCamera attaches the webcam grabber, used for the webcam command and as
// the continuous source when the video mode is [VideoCamera].
func WithCamera(g capture.FrameGrabber) Option {
	return func(l *Loop) { l.camera = g }
}

// WithVideoMode selects the continuous video source. Default is [VideoNone].
func WithVideoMode(mode VideoMode) Option {
	return func(l *Loop) { l.videoMode = mode }
}

// WithVideoInterval overrides the continuous capture cadence. Primarily used
// in tests.
func WithVideoInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.videoInterval = d
		}
	}
}

// WithInput attaches the console command stream. Each value is one line of
// user input. Closing the channel ends the session like a quit command.
func WithInput(input <-chan string) Option {
	return func(l *Loop) { l.input = input }
}

// WithTranscript sets the writer receiving inbound text fragments. Default is
// io.Discard.
func WithTranscript(w io.Writer) Option {
	return func(l *Loop) { l.transcript = w }
}

// WithPrompt sets an initial text turn sent as soon as the session is open.
func WithPrompt(prompt string) Option {
	return func(l *Loop) { l.prompt = prompt }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMetrics sets the metrics instance. Default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithToolHandler registers the handler invoked when the model requests a
// tool call during the session. Default is none.
func WithToolHandler(h session.ToolCallHandler) Option {
	return func(l *Loop) { l.toolHandler = h }
}

// ── Loop ───────────────────────────────────────────────────────────────────────

// Loop runs one live assistant session end to end.
type Loop struct {
	dialer  session.Dialer
	sessCfg session.Config

	mic     capture.AudioInput
	speaker capture.AudioOutput
	screen  capture.FrameGrabber
	camera  capture.FrameGrabber

	videoMode     VideoMode
	videoInterval time.Duration

	input       <-chan string
	transcript  io.Writer
	prompt      string
	toolHandler session.ToolCallHandler

	log     *slog.Logger
	metrics *observe.Metrics
}

// New creates a Loop around the given session dialer and configuration.
func New(dialer session.Dialer, sessCfg session.Config, opts ...Option) *Loop {
	l := &Loop{
		dialer:        dialer,
		sessCfg:       sessCfg,
		videoMode:     VideoNone,
		videoInterval: defaultVideoInterval,
		transcript:    io.Discard,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// Run connects the session, starts all pipeline tasks, and blocks until the
// session ends. The returned error classifies why:
//
//   - nil or an error wrapping [ErrUserQuit]: clean end.
//   - an error wrapping [ErrTransport]: the connection failed.
//   - an error wrapping [ErrDeviceAcquisition]: an audio device failed.
//   - ctx.Err() when the parent context was cancelled.
//
// All sibling tasks are cancelled together on the first failure, and the
// session handle is closed before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("connecting live session")

	sess, err := l.dialer.Connect(ctx, l.sessCfg)
	if err != nil {
		return fmt.Errorf("%w: connect: %w", ErrTransport, err)
	}
	if l.toolHandler != nil {
		sess.OnToolCall(l.toolHandler)
	}

	l.metrics.ActiveSessions.Add(ctx, 1)
	defer l.metrics.ActiveSessions.Add(context.Background(), -1)

	out := NewOutboundQueue()
	playback := NewPlaybackQueue()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return l.sendLoop(gctx, sess, out) })
	g.Go(func() error { return l.receiveLoop(gctx, sess, playback) })

	if l.speaker != nil {
		g.Go(func() error { return l.playLoop(gctx, playback) })
	}
	if l.mic != nil {
		g.Go(func() error { return l.micLoop(gctx, out) })
	}
	if grabber := l.videoSource(); grabber != nil {
		g.Go(func() error { return l.videoLoop(gctx, grabber, out) })
	}
	if l.input != nil {
		g.Go(func() error { return l.commandLoop(gctx, out) })
	}

	if l.prompt != "" {
		// The prompt is the first user turn; enqueue it before any capture
		// source has produced a frame.
		if err := l.put(gctx, out, media.TextFrame(l.prompt)); err != nil {
			l.log.Warn("initial prompt not enqueued", slog.String("error", err.Error()))
		} else {
			l.metrics.RecordFrameCaptured(gctx, "text")
		}
	}

	l.log.Info("live session running",
		slog.String("video_mode", string(l.videoMode)),
		slog.Bool("mic", l.mic != nil),
		slog.Bool("speaker", l.speaker != nil),
	)

	runErr := g.Wait()

	// Draining: no further device writes; discard whatever playback is left
	// and tear the session down.
	discarded := playback.Flush()
	if discarded > 0 {
		l.log.Debug("discarded queued playback on shutdown", slog.Int("chunks", discarded))
	}
	if err := sess.Close(); err != nil {
		l.log.Warn("closing session", slog.String("error", err.Error()))
	}

	switch {
	case runErr == nil:
		l.log.Info("live session ended")
	case errors.Is(runErr, ErrUserQuit):
		l.log.Info("live session ended by user")
	default:
		l.log.Error("live session failed", slog.String("error", runErr.Error()))
	}
	return runErr
}

// videoSource resolves the continuous grabber for the configured video mode.
func (l *Loop) videoSource() capture.FrameGrabber {
	switch l.videoMode {
	case VideoCamera:
		return l.camera
	case VideoScreen:
		return l.screen
	}
	return nil
}

// sendLoop is the outbound dispatcher: it drains the outbound queue in
// arrival order and transmits each frame. A send failure is fatal to the run;
// there is no automatic retry.
func (l *Loop) sendLoop(ctx context.Context, sess session.Handle, out *OutboundQueue) error {
	for {
		frame, err := out.Get(ctx)
		if err != nil {
			return err
		}
		l.metrics.OutboundQueueDepth.Add(ctx, -1)

		if err := sess.Send(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: send: %w", ErrTransport, err)
		}
		l.metrics.RecordFrameSent(ctx, frameKind(frame))
	}
}

// receiveLoop consumes the inbound event stream. Turn boundaries flush the
// playback queue before the new turn's audio is enqueued; text fragments go
// straight to the transcript writer.
func (l *Loop) receiveLoop(ctx context.Context, sess session.Handle, playback *PlaybackQueue) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sess.Events():
			if !ok {
				if err := sess.Err(); err != nil {
					return fmt.Errorf("%w: receive: %w", ErrTransport, err)
				}
				return fmt.Errorf("%w: session closed by remote", ErrTransport)
			}

			switch ev.Kind {
			case session.EventTurn:
				discarded := playback.Flush()
				l.metrics.Turns.Add(ctx, 1)
				if discarded > 0 {
					l.metrics.RecordFlush(ctx, discarded)
					l.log.Debug("flushed stale playback",
						slog.Int("turn", ev.Turn),
						slog.Int("chunks", discarded),
					)
				}
			case session.EventAudio:
				// Without a sink the audio is discarded on arrival rather
				// than queued for a flush that never comes.
				if l.speaker != nil {
					playback.Put(media.Chunk{Payload: ev.Audio, Turn: ev.Turn})
					l.metrics.PlaybackChunks.Add(ctx, 1)
				}
			case session.EventText:
				fmt.Fprint(l.transcript, ev.Text)
			}
		}
	}
}

// playLoop is the playback sink: it dequeues audio in arrival order and
// writes it to the speaker, which blocks for the duration of each chunk.
func (l *Loop) playLoop(ctx context.Context, playback *PlaybackQueue) error {
	for {
		chunk, err := playback.Get(ctx)
		if err != nil {
			return err
		}
		if err := l.speaker.Play(chunk.Payload); err != nil {
			return fmt.Errorf("%w: speaker: %w", ErrDeviceAcquisition, err)
		}
	}
}

// micLoop streams microphone chunks into the outbound queue. A read failure
// is fatal: losing the microphone mid-session leaves nothing to converse with.
func (l *Loop) micLoop(ctx context.Context, out *OutboundQueue) error {
	for {
		chunk, err := l.mic.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: microphone: %w", ErrDeviceAcquisition, err)
		}
		l.metrics.RecordFrameCaptured(ctx, "mic")
		if err := l.put(ctx, out, media.AudioFrame(chunk)); err != nil {
			return err
		}
	}
}

// videoLoop streams frames from the continuous video source at the configured
// cadence. A grab failure ends this source only: the session continues
// without the video modality.
func (l *Loop) videoLoop(ctx context.Context, grabber capture.FrameGrabber, out *OutboundQueue) error {
	source := string(l.videoMode)

	ticker := time.NewTicker(l.videoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, err := grabber.Grab(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.metrics.RecordCaptureError(ctx, source)
			l.log.Warn("video capture lost, continuing without video",
				slog.String("source", source),
				slog.String("error", err.Error()),
			)
			return nil
		}
		l.metrics.RecordFrameCaptured(ctx, source)
		if err := l.put(ctx, out, frame); err != nil {
			return err
		}
	}
}

// commandLoop interprets console input. Quit (or input EOF) ends the run via
// [ErrUserQuit]; screenshot and webcam commands inject one frame each; other
// text becomes a text turn.
func (l *Loop) commandLoop(ctx context.Context, out *OutboundQueue) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case input, ok := <-l.input:
			if !ok {
				return ErrUserQuit
			}
			line = input
		}

		action, text := Interpret(line)
		switch action {
		case ActionQuit:
			return ErrUserQuit
		case ActionScreenshot:
			if err := l.grabOnce(ctx, l.screen, "screen", out); err != nil {
				return err
			}
		case ActionWebcam:
			if err := l.grabOnce(ctx, l.camera, "camera", out); err != nil {
				return err
			}
		case ActionText:
			l.metrics.RecordFrameCaptured(ctx, "text")
			if err := l.put(ctx, out, media.TextFrame(text)); err != nil {
				return err
			}
		}
	}
}

// grabOnce captures a single frame on demand. Failures are reported and
// swallowed: an on-demand capture never takes the session down.
func (l *Loop) grabOnce(ctx context.Context, grabber capture.FrameGrabber, source string, out *OutboundQueue) error {
	if grabber == nil {
		l.log.Warn("capture source not available", slog.String("source", source))
		return nil
	}

	frame, err := grabber.Grab(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.metrics.RecordCaptureError(ctx, source)
		l.log.Warn("on-demand capture failed",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		return nil
	}
	l.metrics.RecordFrameCaptured(ctx, source)
	return l.put(ctx, out, frame)
}

// put enqueues a frame and keeps the queue-depth gauge current.
func (l *Loop) put(ctx context.Context, out *OutboundQueue, frame media.Frame) error {
	if err := out.Put(ctx, frame); err != nil {
		return err
	}
	l.metrics.OutboundQueueDepth.Add(ctx, 1)
	return nil
}

// frameKind maps a frame's MIME type to the metrics kind attribute.
func frameKind(frame media.Frame) string {
	switch {
	case frame.IsText():
		return "text"
	case frame.MIME == media.MIMEJPEG:
		return "image"
	default:
		return "audio"
	}
}
