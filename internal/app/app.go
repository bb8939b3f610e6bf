// Package app wires the Fixer subsystems into a running application.
//
// The App struct owns the full lifecycle for one mode: New creates and
// connects the subsystems that mode needs, Run blocks until the mode
// finishes or the context is cancelled, and Shutdown tears everything down
// in order.
//
// For testing, inject mock implementations via functional options
// (WithDialer, WithCompleter, WithHistoryStore, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fixer-ai/fixer/internal/cli"
	"github.com/fixer-ai/fixer/internal/config"
	"github.com/fixer-ai/fixer/internal/diagnose"
	"github.com/fixer-ai/fixer/internal/health"
	"github.com/fixer-ai/fixer/internal/history"
	"github.com/fixer-ai/fixer/internal/live"
	"github.com/fixer-ai/fixer/internal/observe"
	"github.com/fixer-ai/fixer/internal/resilience"
	"github.com/fixer-ai/fixer/internal/script"
	"github.com/fixer-ai/fixer/internal/sms"
	"github.com/fixer-ai/fixer/internal/toolhost"
	"github.com/fixer-ai/fixer/internal/voice"
	"github.com/fixer-ai/fixer/pkg/capture"
	"github.com/fixer-ai/fixer/pkg/llm"
	"github.com/fixer-ai/fixer/pkg/llm/anyllm"
	"github.com/fixer-ai/fixer/pkg/session"
	"github.com/fixer-ai/fixer/pkg/session/gemini"
	"github.com/fixer-ai/fixer/pkg/stt/whisper"
	"github.com/fixer-ai/fixer/pkg/tts"
)

// Mode selects which front-end the application runs.
type Mode string

const (
	// ModeCLI is the interactive terminal front-end.
	ModeCLI Mode = "cli"

	// ModeVoice is the offline listen-transcribe-speak loop.
	ModeVoice Mode = "voice"

	// ModeLive is the realtime multimodal session.
	ModeLive Mode = "live"

	// ModeSMS is the Twilio webhook daemon.
	ModeSMS Mode = "sms"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeCLI, ModeVoice, ModeLive, ModeSMS:
		return true
	}
	return false
}

// defaultInstructions is the system context sent at live-session setup when
// the config does not override it.
const defaultInstructions = "You are Fixer, a hands-on repair assistant. " +
	"The user shares their voice, and sometimes camera or screen images, while " +
	"trying to fix a broken device or program. Identify the most likely cause, " +
	"then walk them through the repair one step at a time. Ask to see anything " +
	"you need, and use your tools to inspect the system or run repair scripts " +
	"when the user agrees."

// App owns the subsystems of one Fixer mode.
type App struct {
	cfg  *config.Config
	mode Mode

	// Live-mode settings from flags.
	videoMode live.VideoMode
	prompt    string

	// Subsystems — nil entries are built in New; tests inject doubles.
	completer llm.Completer
	dialer    session.Dialer
	store     history.Store
	mic       capture.AudioInput
	speaker   capture.AudioOutput
	screen    capture.FrameGrabber
	webcam    capture.FrameGrabber
	stt       voice.Transcriber
	tts       voice.Speaker
	input     <-chan string

	diag   diagnose.Diagnoser
	runner *script.Runner
	host   *toolhost.Host

	loop      *live.Loop
	console   *cli.CLI
	assistant *voice.Assistant
	smsServer *sms.Server

	log     *slog.Logger
	metrics *observe.Metrics

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithVideoMode selects the continuous video source for live mode.
func WithVideoMode(m live.VideoMode) Option {
	return func(a *App) { a.videoMode = m }
}

// WithPrompt sets an initial text turn for live mode.
func WithPrompt(p string) Option {
	return func(a *App) { a.prompt = p }
}

// WithCompleter injects the diagnosis LLM instead of building one from config.
func WithCompleter(c llm.Completer) Option {
	return func(a *App) { a.completer = c }
}

// WithDialer injects the live session dialer instead of the Gemini one.
func WithDialer(d session.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithHistoryStore injects a history store instead of creating one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMic injects the audio input device.
func WithMic(m capture.AudioInput) Option {
	return func(a *App) { a.mic = m }
}

// WithSpeaker injects the audio output device.
func WithSpeaker(s capture.AudioOutput) Option {
	return func(a *App) { a.speaker = s }
}

// WithScreen injects the screenshot grabber.
func WithScreen(g capture.FrameGrabber) Option {
	return func(a *App) { a.screen = g }
}

// WithWebcam injects the camera grabber.
func WithWebcam(g capture.FrameGrabber) Option {
	return func(a *App) { a.webcam = g }
}

// WithTranscriber injects the speech-to-text engine for voice mode.
func WithTranscriber(t voice.Transcriber) Option {
	return func(a *App) { a.stt = t }
}

// WithTTS injects the text-to-speech engine for voice mode.
func WithTTS(s voice.Speaker) Option {
	return func(a *App) { a.tts = s }
}

// WithInput injects the command input channel for live mode instead of stdin.
func WithInput(in <-chan string) Option {
	return func(a *App) { a.input = in }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics sets the metrics instance. Default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) {
		if m != nil {
			a.metrics = m
		}
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App for the given mode, wiring the subsystems that mode
// needs. Configuration problems (missing API key, missing model path) are
// reported here; device failures surface with [live.ErrDeviceAcquisition] so
// callers can pick the right exit code.
func New(ctx context.Context, cfg *config.Config, mode Mode, opts ...Option) (*App, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("app: unknown mode %q; valid modes: cli, voice, live, sms", mode)
	}

	a := &App{
		cfg:       cfg,
		mode:      mode,
		videoMode: live.VideoNone,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.runner = script.New(
		script.WithTimeout(time.Duration(cfg.Script.TimeoutSeconds)*time.Second),
		script.WithLogger(a.log.With("component", "script")),
		script.WithMetrics(a.metrics),
	)

	var err error
	switch mode {
	case ModeLive:
		err = a.initLive(ctx)
	case ModeCLI:
		err = a.initCLI(ctx)
	case ModeVoice:
		err = a.initVoice(ctx)
	case ModeSMS:
		err = a.initSMS(ctx)
	}
	if err != nil {
		// Release whatever was already acquired.
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(sctx)
		return nil, err
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCompleter builds the anyllm-backed completer unless one was injected.
func (a *App) initCompleter() error {
	if a.completer != nil {
		return nil
	}
	if a.cfg.LLM.Provider == "" {
		return fmt.Errorf("app: llm.provider is required for %s mode", a.mode)
	}
	var llmOpts []anyllmlib.Option
	if a.cfg.LLM.APIKey != "" {
		llmOpts = append(llmOpts, anyllmlib.WithAPIKey(a.cfg.LLM.APIKey))
	}
	if a.cfg.LLM.BaseURL != "" {
		llmOpts = append(llmOpts, anyllmlib.WithBaseURL(a.cfg.LLM.BaseURL))
	}
	c, err := anyllm.New(a.cfg.LLM.Provider, a.cfg.LLM.Model, llmOpts...)
	if err != nil {
		return fmt.Errorf("app: create llm provider %q: %w", a.cfg.LLM.Provider, err)
	}
	a.completer = c
	return nil
}

// initDiagnoser builds the diagnosis engine for the text-based modes.
func (a *App) initDiagnoser() error {
	if err := a.initCompleter(); err != nil {
		return err
	}

	a.diag = diagnose.New(a.completer,
		diagnose.WithLogger(a.log.With("component", "diagnose")),
		diagnose.WithMetrics(a.metrics),
	)
	return nil
}

// initGrabbers fills the screen and webcam grabbers with the ffmpeg-backed
// defaults. Grabbers hold no device until a frame is requested.
func (a *App) initGrabbers() {
	if a.screen == nil {
		a.screen = &capture.ScreenGrabber{}
	}
	if a.webcam == nil {
		a.webcam = &capture.WebcamGrabber{}
	}
}

// initToolHost builds the tool host with builtin tools and the configured
// MCP servers.
func (a *App) initToolHost(ctx context.Context) error {
	a.host = toolhost.New(toolhost.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.host.Close)

	if err := a.host.RegisterDefaults(a.runner, a.screen); err != nil {
		return fmt.Errorf("app: register builtin tools: %w", err)
	}

	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := toolhost.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := a.host.RegisterServer(ctx, serverCfg); err != nil {
			return fmt.Errorf("app: register mcp server %q: %w", srv.Name, err)
		}
		a.log.Info("registered MCP server", slog.String("name", srv.Name))
	}
	return nil
}

// initAudio opens the microphone, and optionally the speaker, via portaudio.
// Both are mandatory for their mode, so failures are device-acquisition
// errors.
func (a *App) initAudio(needSpeaker bool) error {
	if a.mic != nil && (!needSpeaker || a.speaker != nil) {
		return nil // injected
	}

	if err := capture.Init(); err != nil {
		return fmt.Errorf("%w: %w", live.ErrDeviceAcquisition, err)
	}
	a.closers = append(a.closers, capture.Terminate)

	if a.mic == nil {
		mic, err := capture.OpenMic()
		if err != nil {
			return fmt.Errorf("%w: %w", live.ErrDeviceAcquisition, err)
		}
		a.mic = mic
		a.closers = append(a.closers, mic.Close)
	}

	if needSpeaker && a.speaker == nil {
		speaker, err := capture.OpenSpeaker()
		if err != nil {
			return fmt.Errorf("%w: %w", live.ErrDeviceAcquisition, err)
		}
		a.speaker = speaker
		a.closers = append(a.closers, speaker.Close)
	}
	return nil
}

func (a *App) initLive(ctx context.Context) error {
	a.initGrabbers()
	if err := a.initToolHost(ctx); err != nil {
		return err
	}

	if a.dialer == nil {
		if a.cfg.Gemini.APIKey == "" {
			return fmt.Errorf("app: gemini.api_key is required for live mode")
		}
		var dialOpts []gemini.Option
		if a.cfg.Gemini.Model != "" {
			dialOpts = append(dialOpts, gemini.WithModel(a.cfg.Gemini.Model))
		}
		a.dialer = gemini.New(a.cfg.Gemini.APIKey, dialOpts...)
	}

	if err := a.initAudio(true); err != nil {
		return err
	}

	if a.input == nil {
		a.input = stdinLines()
	}

	instructions := a.cfg.Gemini.Instructions
	if instructions == "" {
		instructions = defaultInstructions
	}

	sessCfg := session.Config{
		Instructions: instructions,
		Voice:        a.cfg.Gemini.Voice,
		Tools:        a.host.Definitions(),
	}

	a.loop = live.New(a.dialer, sessCfg,
		live.WithMic(a.mic),
		live.WithSpeaker(a.speaker),
		live.WithScreen(a.screen),
		live.WithCamera(a.webcam),
		live.WithVideoMode(a.videoMode),
		live.WithInput(a.input),
		live.WithPrompt(a.prompt),
		live.WithTranscript(os.Stdout),
		live.WithToolHandler(a.host.Handler()),
		live.WithLogger(a.log.With("component", "live")),
		live.WithMetrics(a.metrics),
	)
	return nil
}

func (a *App) initCLI(context.Context) error {
	a.initGrabbers()
	if err := a.initDiagnoser(); err != nil {
		return err
	}

	a.console = cli.New(a.diag, a.runner,
		cli.WithScreen(a.screen),
		cli.WithWebcam(a.webcam),
		cli.WithLogger(a.log.With("component", "cli")),
	)
	return nil
}

func (a *App) initVoice(context.Context) error {
	a.initGrabbers()
	if err := a.initDiagnoser(); err != nil {
		return err
	}

	if a.stt == nil {
		if a.cfg.Voice.ModelPath == "" {
			return fmt.Errorf("app: voice.model_path is required for voice mode")
		}
		var sttOpts []whisper.Option
		if a.cfg.Voice.Language != "" {
			sttOpts = append(sttOpts, whisper.WithLanguage(a.cfg.Voice.Language))
		}
		t, err := whisper.New(a.cfg.Voice.ModelPath, sttOpts...)
		if err != nil {
			return fmt.Errorf("app: load whisper model: %w", err)
		}
		a.stt = t
		a.closers = append(a.closers, t.Close)
	}

	if a.tts == nil {
		a.tts = tts.New(tts.WithCommand(a.cfg.Voice.TTSCommand, a.cfg.Voice.TTSArgs...))
	}

	if err := a.initAudio(false); err != nil {
		return err
	}

	a.assistant = voice.New(a.mic, a.stt, a.tts, a.diag,
		voice.WithScreen(a.screen),
		voice.WithWebcam(a.webcam),
		voice.WithListenTimeout(time.Duration(a.cfg.Voice.ListenTimeoutSeconds)*time.Second),
		voice.WithLogger(a.log.With("component", "voice")),
		voice.WithMetrics(a.metrics),
	)
	return nil
}

func (a *App) initSMS(ctx context.Context) error {
	if err := a.initCompleter(); err != nil {
		return err
	}
	// The daemon answers webhooks fast when the backend is down instead of
	// stacking up timed-out completions.
	a.completer = resilience.NewCompleter(a.completer, resilience.CircuitBreakerConfig{
		Name:   "llm",
		Logger: a.log.With("component", "resilience"),
	})
	if err := a.initDiagnoser(); err != nil {
		return err
	}

	if a.store == nil {
		if dsn := a.cfg.History.PostgresDSN; dsn != "" {
			pg, err := history.NewPGStore(ctx, dsn)
			if err != nil {
				return fmt.Errorf("app: connect history store: %w", err)
			}
			a.store = pg
			a.closers = append(a.closers, pg.Close)
			a.log.Info("using postgres history store")
		} else {
			a.store = history.NewMemStore()
			a.log.Info("using in-memory history store; conversations reset on restart")
		}
	}

	a.smsServer = sms.New(a.diag, a.store,
		sms.WithAuthToken(a.cfg.SMS.AuthToken),
		sms.WithLogger(a.log.With("component", "sms")),
		sms.WithMetrics(a.metrics),
	)
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run executes the selected mode and blocks until it finishes. A clean user
// quit returns nil. Live transport and device failures are returned wrapped
// in their sentinel errors for the caller to classify.
func (a *App) Run(ctx context.Context) error {
	a.startMetricsListener()

	switch a.mode {
	case ModeLive:
		err := a.loop.Run(ctx)
		if errors.Is(err, live.ErrUserQuit) {
			return nil
		}
		return err

	case ModeCLI:
		return a.console.Run(ctx)

	case ModeVoice:
		return a.assistant.Run(ctx)

	case ModeSMS:
		return a.runSMS(ctx)
	}
	return fmt.Errorf("app: unknown mode %q", a.mode)
}

// runSMS serves the webhook until ctx is cancelled, then drains in-flight
// requests.
func (a *App) runSMS(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.SMS.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.smsServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: sms server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.smsServer.Shutdown(drainCtx); err != nil {
		a.log.Warn("sms server shutdown error", slog.String("err", err.Error()))
	}
	<-errCh
	return ctx.Err()
}

// startMetricsListener serves Prometheus metrics when configured.
func (a *App) startMetricsListener() {
	addr := a.cfg.Server.MetricsAddr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	var probes []health.Probe
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		probes = append(probes, health.Probe{Name: "history", Fn: p.Ping})
	}
	if p, ok := a.completer.(interface{ Ready(context.Context) error }); ok {
		probes = append(probes, health.Probe{Name: "llm", Fn: p.Ready})
	}
	health.New(probes...).Register(mux)

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics listener error", slog.String("err", err.Error()))
		}
	}()
	a.closers = append(a.closers, srv.Close)

	a.log.Info("metrics listening", slog.String("addr", addr))
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-acquisition order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", slog.Int("closers", len(a.closers)))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", slog.Int("remaining", i+1))
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", slog.Int("index", i), slog.String("err", err.Error()))
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// stdinLines exposes standard input as a line channel. The channel closes at
// EOF, which the live loop treats as a quit.
func stdinLines() <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}
