package toolhost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/fixer-ai/fixer/internal/script"
	"github.com/fixer-ai/fixer/pkg/capture"
	"github.com/fixer-ai/fixer/pkg/session"
)

// BuiltinTool represents a tool implemented as a Go function that runs
// in-process. ExecuteTool calls the Handler directly without any network or
// subprocess round-trip.
type BuiltinTool struct {
	// Definition is the tool's public descriptor presented to the model.
	Definition session.ToolDefinition

	// Handler is the function invoked when ExecuteTool is called for this
	// tool. args is a JSON object string (e.g. "{}" or `{"key":"value"}`).
	// Returning a non-nil error marks the result as an error.
	Handler func(ctx context.Context, args string) (string, error)
}

// builtinServerName is the pseudo server name used for in-process tools.
const builtinServerName = "__builtin__"

// RegisterBuiltin registers a built-in tool that is called in-process.
// If a tool with the same name is already registered it is replaced.
// RegisterBuiltin is safe for concurrent use.
func (h *Host) RegisterBuiltin(tool BuiltinTool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("toolhost: builtin tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("toolhost: builtin tool %q must have a non-nil handler", tool.Definition.Name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[tool.Definition.Name] = toolEntry{
		def:        tool.Definition,
		serverName: builtinServerName,
		builtinFn:  tool.Handler,
	}
	return nil
}

// RegisterDefaults registers the standard builtin tools: run_script,
// system_info, and capture_screenshot. screen may be nil, in which case
// capture_screenshot is not registered.
func (h *Host) RegisterDefaults(runner *script.Runner, screen capture.FrameGrabber) error {
	if err := h.RegisterBuiltin(runScriptTool(runner)); err != nil {
		return err
	}
	if err := h.RegisterBuiltin(systemInfoTool()); err != nil {
		return err
	}
	if screen != nil {
		if err := h.RegisterBuiltin(screenshotTool(screen)); err != nil {
			return err
		}
	}
	return nil
}

func runScriptTool(runner *script.Runner) BuiltinTool {
	return BuiltinTool{
		Definition: session.ToolDefinition{
			Name:        "run_script",
			Description: "Execute a repair script on the user's machine and return its exit code and output.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"script": map[string]any{
						"type":        "string",
						"description": "The script body to execute.",
					},
					"kind": map[string]any{
						"type":        "string",
						"enum":        []string{"bash", "powershell"},
						"description": "Interpreter to use. Detected from content when omitted.",
					},
				},
				"required": []string{"script"},
			},
		},
		Handler: func(ctx context.Context, args string) (string, error) {
			var req struct {
				Script string `json:"script"`
				Kind   string `json:"kind"`
			}
			if err := json.Unmarshal([]byte(args), &req); err != nil {
				return "", fmt.Errorf("invalid run_script args: %w", err)
			}

			kind := script.Kind(req.Kind)
			if kind == "" {
				kind = script.DetectKind(req.Script)
			}
			res, err := runner.RunKind(ctx, req.Script, kind)
			if err != nil {
				return "", err
			}

			out, err := json.Marshal(map[string]any{
				"exit_code": res.ExitCode,
				"output":    res.Output,
				"timed_out": res.TimedOut,
			})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

func systemInfoTool() BuiltinTool {
	return BuiltinTool{
		Definition: session.ToolDefinition{
			Name:        "system_info",
			Description: "Report the user's operating system, architecture, hostname, and CPU count.",
			Parameters:  map[string]any{"type": "object"},
		},
		Handler: func(_ context.Context, _ string) (string, error) {
			hostname, _ := os.Hostname()
			out, err := json.Marshal(map[string]any{
				"os":       runtime.GOOS,
				"arch":     runtime.GOARCH,
				"hostname": hostname,
				"cpus":     runtime.NumCPU(),
			})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

func screenshotTool(screen capture.FrameGrabber) BuiltinTool {
	return BuiltinTool{
		Definition: session.ToolDefinition{
			Name:        "capture_screenshot",
			Description: "Capture the user's current screen and return it as a base64-encoded JPEG.",
			Parameters:  map[string]any{"type": "object"},
		},
		Handler: func(ctx context.Context, _ string) (string, error) {
			frame, err := screen.Grab(ctx)
			if err != nil {
				return "", fmt.Errorf("screenshot failed: %w", err)
			}
			out, err := json.Marshal(map[string]any{
				"mime": frame.MIME,
				"data": base64.StdEncoding.EncodeToString(frame.Payload),
			})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}
