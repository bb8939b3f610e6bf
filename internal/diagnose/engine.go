// Package diagnose turns user problem descriptions, optionally paired with a
// still image, into structured repair diagnoses via a chat LLM.
package diagnose

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fixer-ai/fixer/internal/observe"
	"github.com/fixer-ai/fixer/pkg/llm"
	"github.com/fixer-ai/fixer/pkg/media"
)

const (
	// diagnoseTemperature keeps diagnoses deterministic rather than creative.
	diagnoseTemperature = 0.2

	generalPrompt = `You are Fixer, an AI repair agent that troubleshoots technical problems.
Analyze the user's problem and respond with a single JSON object, no markdown,
with exactly these fields:
  "cause": one or two sentences naming the most likely root cause,
  "steps": an array of short imperative repair steps in order,
  "script": a shell script that automates the fix, or "" if none applies.
Never invent hardware details the user did not mention.`

	technicalPrompt = `You are Fixer, an AI repair agent that troubleshoots technical problems.
The user's message includes an image of the device or error, embedded as a
data URL. Read any visible error text, model numbers, or indicator states
before diagnosing. Respond with a single JSON object, no markdown, with
exactly these fields:
  "cause": one or two sentences naming the most likely root cause,
  "steps": an array of short imperative repair steps in order,
  "script": a shell script that automates the fix, or "" if none applies.`
)

// Diagnoser is the consumer-facing surface of the engine. The SMS, CLI, and
// voice front-ends depend on this rather than the concrete Engine.
type Diagnoser interface {
	ProcessText(ctx context.Context, problem string) (Result, error)
	ProcessMultimodal(ctx context.Context, problem string, image media.Frame) (Result, error)
	GenerateScript(ctx context.Context, issue, osType string) (string, error)
}

var _ Diagnoser = (*Engine)(nil)

// Engine produces diagnoses by prompting a text-completion model.
type Engine struct {
	completer llm.Completer
	log       *slog.Logger
	metrics   *observe.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates a diagnosis engine backed by the given completer.
func New(c llm.Completer, opts ...Option) *Engine {
	e := &Engine{completer: c}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// ProcessText diagnoses a problem described in text only.
func (e *Engine) ProcessText(ctx context.Context, problem string) (Result, error) {
	return e.process(ctx, generalPrompt, problem)
}

// ProcessMultimodal diagnoses a problem described in text plus a still image.
// The image is embedded in the user message as a base64 data URL.
func (e *Engine) ProcessMultimodal(ctx context.Context, problem string, image media.Frame) (Result, error) {
	content := fmt.Sprintf("%s\n\nAttached image: data:%s;base64,%s",
		problem, image.MIME, base64.StdEncoding.EncodeToString(image.Payload))
	return e.process(ctx, technicalPrompt, content)
}

func (e *Engine) process(ctx context.Context, system, content string) (Result, error) {
	start := time.Now()

	resp, err := e.completer.Complete(ctx, llm.Request{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: "user", Content: content}},
		Temperature:  diagnoseTemperature,
	})
	e.metrics.DiagnosisDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		e.metrics.RecordDiagnosis(ctx, "error")
		return nil, fmt.Errorf("diagnose: %w", err)
	}

	result := Parse(resp.Content)
	switch result.(type) {
	case Diagnosis:
		e.metrics.RecordDiagnosis(ctx, "ok")
	case ParseFailure:
		e.metrics.RecordDiagnosis(ctx, "unparsed")
		e.log.Warn("model reply did not parse as a diagnosis",
			slog.Int("reply_bytes", len(resp.Content)))
	}
	return result, nil
}

// GenerateScript asks the model for a bare repair script targeting the given
// platform. osType must be "bash" or "powershell"; anything else defaults to
// bash. The reply is returned fence-stripped, with no surrounding prose.
func (e *Engine) GenerateScript(ctx context.Context, issue, osType string) (string, error) {
	interpreter := "bash"
	if strings.EqualFold(osType, "powershell") {
		interpreter = "powershell"
	}

	system := fmt.Sprintf(`You are Fixer, an AI repair agent. Write a %s script that
addresses the reported issue. Reply with the script only: no explanation, no
markdown fences. The script must be safe to re-run and must print what it is
doing at each step.`, interpreter)

	start := time.Now()
	resp, err := e.completer.Complete(ctx, llm.Request{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: "user", Content: "Issue: " + issue}},
		Temperature:  diagnoseTemperature,
	})
	e.metrics.ScriptDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("diagnose: generate script: %w", err)
	}

	script := strings.TrimSpace(stripFence(strings.TrimSpace(resp.Content)))
	if script == "" {
		return "", fmt.Errorf("diagnose: model returned an empty script")
	}
	return script, nil
}
