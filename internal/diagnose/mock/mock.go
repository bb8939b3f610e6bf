// Package mock provides a test double for the diagnose.Diagnoser interface.
//
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
package mock

import (
	"context"
	"sync"

	"github.com/fixer-ai/fixer/internal/diagnose"
	"github.com/fixer-ai/fixer/pkg/media"
)

// TextCall records a single invocation of ProcessText.
type TextCall struct {
	Problem string
}

// MultimodalCall records a single invocation of ProcessMultimodal.
type MultimodalCall struct {
	Problem string
	Image   media.Frame
}

// ScriptCall records a single invocation of GenerateScript.
type ScriptCall struct {
	Issue  string
	OSType string
}

// Diagnoser is a mock implementation of diagnose.Diagnoser.
type Diagnoser struct {
	mu sync.Mutex

	// TextResult is returned by ProcessText.
	TextResult diagnose.Result
	// TextErr, if non-nil, is returned as the error from ProcessText.
	TextErr error

	// MultimodalResult is returned by ProcessMultimodal.
	MultimodalResult diagnose.Result
	// MultimodalErr, if non-nil, is returned as the error from ProcessMultimodal.
	MultimodalErr error

	// Script is returned by GenerateScript.
	Script string
	// ScriptErr, if non-nil, is returned as the error from GenerateScript.
	ScriptErr error

	// TextCalls records every ProcessText invocation in order.
	TextCalls []TextCall
	// MultimodalCalls records every ProcessMultimodal invocation in order.
	MultimodalCalls []MultimodalCall
	// ScriptCalls records every GenerateScript invocation in order.
	ScriptCalls []ScriptCall
}

var _ diagnose.Diagnoser = (*Diagnoser)(nil)

// ProcessText implements diagnose.Diagnoser.
func (d *Diagnoser) ProcessText(_ context.Context, problem string) (diagnose.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.TextCalls = append(d.TextCalls, TextCall{Problem: problem})
	if d.TextErr != nil {
		return nil, d.TextErr
	}
	return d.TextResult, nil
}

// ProcessMultimodal implements diagnose.Diagnoser.
func (d *Diagnoser) ProcessMultimodal(_ context.Context, problem string, image media.Frame) (diagnose.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.MultimodalCalls = append(d.MultimodalCalls, MultimodalCall{Problem: problem, Image: image})
	if d.MultimodalErr != nil {
		return nil, d.MultimodalErr
	}
	return d.MultimodalResult, nil
}

// GenerateScript implements diagnose.Diagnoser.
func (d *Diagnoser) GenerateScript(_ context.Context, issue, osType string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ScriptCalls = append(d.ScriptCalls, ScriptCall{Issue: issue, OSType: osType})
	if d.ScriptErr != nil {
		return "", d.ScriptErr
	}
	return d.Script, nil
}

// ResetCalls clears all recorded invocations.
func (d *Diagnoser) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.TextCalls, d.MultimodalCalls, d.ScriptCalls = nil, nil, nil
}
