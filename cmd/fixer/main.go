// Command fixer is the main entry point for the Fixer repair assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fixer-ai/fixer/internal/app"
	"github.com/fixer-ai/fixer/internal/config"
	"github.com/fixer-ai/fixer/internal/live"
	"github.com/fixer-ai/fixer/internal/observe"
)

// Exit codes: 0 for a normal quit, 1 for configuration or setup problems,
// 2 when the session transport or an audio device fails.
const (
	exitOK     = 0
	exitConfig = 1
	exitDevice = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	modeFlag := flag.String("mode", "cli", "front-end to run: cli, voice, live, or sms")
	videoFlag := flag.String("video", "none", "live-mode video source: none, camera, or screen")
	promptFlag := flag.String("prompt", "", "text sent to the live session immediately after connecting")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fixer: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fixer: %v\n", err)
		}
		return exitConfig
	}

	mode := app.Mode(*modeFlag)
	if !mode.IsValid() {
		fmt.Fprintf(os.Stderr, "fixer: unknown mode %q (want cli, voice, live, or sms)\n", *modeFlag)
		return exitConfig
	}

	videoMode := live.VideoMode(*videoFlag)
	if !videoMode.IsValid() {
		fmt.Fprintf(os.Stderr, "fixer: unknown video source %q (want none, camera, or screen)\n", *videoFlag)
		return exitConfig
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it on a
	// running daemon without a restart.
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("fixer starting",
		"config", *configPath,
		"mode", mode,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "fixer",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitConfig
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return exitConfig
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Config watcher (SMS daemon only) ──────────────────────────────────────
	// The one long-running mode picks up log-level edits in place and tells
	// the operator which sections need a restart.
	if mode == app.ModeSMS {
		watcher, werr := config.NewWatcher(*configPath, func(old, new *config.Config) {
			cs := config.Diff(old, new)
			if cs.LogLevelChanged {
				level.Set(cs.NewLogLevel.Level())
				slog.Info("log level changed", "level", cs.NewLogLevel)
			}
			if len(cs.RestartNeeded) > 0 {
				slog.Warn("config sections changed that need a restart to apply",
					"sections", strings.Join(cs.RestartNeeded, ", "))
			}
		})
		if werr != nil {
			slog.Warn("config watcher unavailable", "err", werr)
		} else {
			defer watcher.Stop()
		}
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, mode, videoMode)

	application, err := app.New(ctx, cfg, mode,
		app.WithVideoMode(videoMode),
		app.WithPrompt(*promptFlag),
		app.WithLogger(logger),
		app.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		if code := exitCodeFor(err); code != exitOK {
			return code
		}
		return exitConfig
	}

	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}

	code := exitCodeFor(runErr)
	if code == exitOK {
		slog.Info("goodbye")
	} else {
		slog.Error("run error", "err", runErr)
	}
	return code
}

// exitCodeFor maps an application error to the process exit code. Device and
// transport sentinels exit 2 whether they surface during initialisation or
// mid-run; cancellation is a normal stop.
func exitCodeFor(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitOK
	case errors.Is(err, live.ErrTransport), errors.Is(err, live.ErrDeviceAcquisition):
		return exitDevice
	default:
		return exitConfig
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, mode app.Mode, video live.VideoMode) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Fixer — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Mode", string(mode))
	printRow("LLM", providerLabel(cfg.LLM.Provider, cfg.LLM.Model))
	printRow("Live model", providerLabel(cfg.Gemini.Model, ""))
	printRow("Video", string(video))
	printRow("MCP servers", fmt.Sprintf("%d", len(cfg.MCP.Servers)))
	if mode == app.ModeSMS {
		printRow("SMS port", fmt.Sprintf("%d", cfg.SMS.Port))
	}
	if cfg.Server.MetricsAddr != "" {
		printRow("Metrics addr", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

func providerLabel(name, model string) string {
	if name == "" {
		return ""
	}
	if model == "" {
		return name
	}
	return name + " / " + model
}
