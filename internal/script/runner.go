// Package script executes model-suggested repair scripts in a subprocess
// with a hard timeout.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fixer-ai/fixer/internal/observe"
)

// DefaultTimeout bounds script execution when no explicit timeout is set.
const DefaultTimeout = 30 * time.Second

// Kind identifies the interpreter a script targets.
type Kind string

const (
	KindBash       Kind = "bash"
	KindPowershell Kind = "powershell"
)

// Result describes a completed (or killed) script run.
type Result struct {
	// ExitCode is the process exit code. -1 when the process was killed
	// before exiting on its own.
	ExitCode int

	// Output is the combined stdout and stderr.
	Output string

	// TimedOut reports whether the run was killed by the timeout.
	TimedOut bool
}

// Runner writes scripts to a temp file and executes them under the matching
// interpreter.
type Runner struct {
	timeout time.Duration
	log     *slog.Logger
	metrics *observe.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Run executes the script under the interpreter implied by its content.
func (r *Runner) Run(ctx context.Context, script string) (*Result, error) {
	return r.RunKind(ctx, script, DetectKind(script))
}

// RunKind executes the script under the given interpreter.
func (r *Runner) RunKind(ctx context.Context, script string, kind Kind) (*Result, error) {
	if strings.TrimSpace(script) == "" {
		return nil, errors.New("script: refusing to run an empty script")
	}

	path, err := writeTemp(script, kind)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var cmd *exec.Cmd
	switch kind {
	case KindPowershell:
		cmd = exec.CommandContext(runCtx, "pwsh", "-NoProfile", "-File", path)
	default:
		cmd = exec.CommandContext(runCtx, "bash", path)
	}

	start := time.Now()
	out, runErr := cmd.CombinedOutput()
	r.metrics.ScriptDuration.Record(ctx, time.Since(start).Seconds())

	res := &Result{
		Output:   string(out),
		ExitCode: cmd.ProcessState.ExitCode(),
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}

	r.log.Info("script finished",
		slog.String("kind", string(kind)),
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("timed_out", res.TimedOut),
		slog.Duration("elapsed", time.Since(start)))

	if runErr != nil {
		var exitErr *exec.ExitError
		if res.TimedOut || errors.As(runErr, &exitErr) {
			// Non-zero exit and timeout are reported through Result, not as
			// an error: the script ran, it just did not succeed.
			return res, nil
		}
		return nil, fmt.Errorf("script: start %s interpreter: %w", kind, runErr)
	}
	return res, nil
}

// DetectKind guesses the interpreter from the script content. PowerShell
// constructs are distinctive enough to scan for; everything else runs as bash.
func DetectKind(script string) Kind {
	for _, marker := range []string{"Write-Host", "Write-Output", "Get-Process", "Get-Service", "Restart-Service", "param(", "$PSVersionTable"} {
		if strings.Contains(script, marker) {
			return KindPowershell
		}
	}
	return KindBash
}

func writeTemp(script string, kind Kind) (string, error) {
	ext := ".sh"
	if kind == KindPowershell {
		ext = ".ps1"
	}
	f, err := os.CreateTemp("", "fixer-script-*"+ext)
	if err != nil {
		return "", fmt.Errorf("script: create temp file: %w", err)
	}
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("script: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("script: close temp file: %w", err)
	}
	if err := os.Chmod(f.Name(), 0o700); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("script: chmod temp file: %w", err)
	}
	return f.Name(), nil
}
