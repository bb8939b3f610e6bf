// Package tts speaks text aloud through an external synthesizer command
// such as espeak-ng or macOS say.
package tts

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultCommand = "espeak-ng"
	defaultTimeout = 60 * time.Second
)

// Engine shells out to a TTS command per utterance. The text is appended as
// the final argument, the way espeak-ng and say both expect it.
type Engine struct {
	command string
	args    []string
	timeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithCommand overrides the synthesizer command and its fixed arguments,
// e.g. WithCommand("say", "-v", "Samantha").
func WithCommand(command string, args ...string) Option {
	return func(e *Engine) {
		e.command = command
		e.args = args
	}
}

// WithTimeout bounds a single utterance. Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// New creates an Engine. Without options it runs espeak-ng.
func New(opts ...Option) *Engine {
	e := &Engine{command: defaultCommand, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Speak synthesizes text and blocks until playback completes.
func (e *Engine) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := append(append([]string(nil), e.args...), text)
	cmd := exec.CommandContext(runCtx, e.command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("tts: %s timed out after %s", e.command, e.timeout)
		}
		return fmt.Errorf("tts: %s: %w: %s", e.command, err, strings.TrimSpace(string(out)))
	}
	return nil
}
