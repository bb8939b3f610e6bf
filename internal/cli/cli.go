// Package cli is the interactive terminal front-end to the diagnosis engine.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fixer-ai/fixer/internal/diagnose"
	"github.com/fixer-ai/fixer/internal/script"
	"github.com/fixer-ai/fixer/pkg/capture"
)

// CLI runs a read-diagnose-print loop on a terminal.
type CLI struct {
	diag   diagnose.Diagnoser
	runner *script.Runner
	screen capture.FrameGrabber
	webcam capture.FrameGrabber

	in  io.Reader
	out io.Writer
	log *slog.Logger

	// lastScript is the most recent model-suggested script, runnable via !run.
	lastScript string
}

// Option configures a CLI.
type Option func(*CLI)

// WithScreen sets the screenshot grabber used by !screenshot.
func WithScreen(g capture.FrameGrabber) Option {
	return func(c *CLI) { c.screen = g }
}

// WithWebcam sets the webcam grabber used by !webcam.
func WithWebcam(g capture.FrameGrabber) Option {
	return func(c *CLI) { c.webcam = g }
}

// WithIO overrides stdin/stdout, used by tests.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(c *CLI) {
		c.in = in
		c.out = out
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *CLI) { c.log = l }
}

// New creates a CLI over the given diagnoser and script runner.
func New(diag diagnose.Diagnoser, runner *script.Runner, opts ...Option) *CLI {
	c := &CLI{diag: diag, runner: runner}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Run drives the interactive loop until the user exits or input ends.
func (c *CLI) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, renderWelcome())

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, "\nHow can I help you? > ")
		line, ok := c.readLine(ctx, scanner)
		if !ok {
			fmt.Fprintln(c.out, "\nGoodbye!")
			return scanner.Err()
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "!exit", "exit", "quit", "q":
			fmt.Fprintln(c.out, "Thank you for using Fixer AI. Goodbye!")
			return nil

		case "!screenshot":
			c.captureAndDiagnose(ctx, scanner, c.screen, "screenshot")

		case "!webcam":
			c.captureAndDiagnose(ctx, scanner, c.webcam, "webcam")

		case "!run":
			c.runLastScript(ctx, scanner)

		default:
			res, err := c.diag.ProcessText(ctx, input)
			c.show(res, err)
		}
	}
}

// readLine scans one line, bailing out early when ctx is cancelled.
func (c *CLI) readLine(ctx context.Context, scanner *bufio.Scanner) (string, bool) {
	if ctx.Err() != nil {
		return "", false
	}
	if !scanner.Scan() {
		return "", false
	}
	return scanner.Text(), true
}

func (c *CLI) captureAndDiagnose(ctx context.Context, scanner *bufio.Scanner, grabber capture.FrameGrabber, source string) {
	if grabber == nil {
		fmt.Fprintln(c.out, renderError(fmt.Errorf("%s capture is not available", source)))
		return
	}

	fmt.Fprintf(c.out, "What should I look for in the %s? > ", source)
	description, ok := c.readLine(ctx, scanner)
	if !ok {
		return
	}

	frame, err := grabber.Grab(ctx)
	if err != nil {
		fmt.Fprintln(c.out, renderError(fmt.Errorf("%s capture failed: %w", source, err)))
		return
	}

	res, err := c.diag.ProcessMultimodal(ctx, strings.TrimSpace(description), frame)
	c.show(res, err)
}

func (c *CLI) runLastScript(ctx context.Context, scanner *bufio.Scanner) {
	if strings.TrimSpace(c.lastScript) == "" {
		fmt.Fprintln(c.out, renderError(fmt.Errorf("no script available to run")))
		return
	}

	kind := script.DetectKind(c.lastScript)
	fmt.Fprintln(c.out, renderScript(c.lastScript, "Script to execute ("+string(kind)+")"))
	fmt.Fprint(c.out, "Run this script? [y/N] > ")

	answer, ok := c.readLine(ctx, scanner)
	if !ok || !isYes(answer) {
		fmt.Fprintln(c.out, "Skipped.")
		return
	}

	res, err := c.runner.RunKind(ctx, c.lastScript, kind)
	if err != nil {
		fmt.Fprintln(c.out, renderError(err))
		return
	}
	fmt.Fprintln(c.out, renderRunResult(res))
}

// show prints a diagnosis result and remembers any suggested script.
func (c *CLI) show(res diagnose.Result, err error) {
	if err != nil {
		fmt.Fprintln(c.out, renderError(err))
		return
	}
	fmt.Fprintln(c.out, renderResult(res))

	if d, ok := res.(diagnose.Diagnosis); ok && strings.TrimSpace(d.Script) != "" {
		c.lastScript = d.Script
	}
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}
