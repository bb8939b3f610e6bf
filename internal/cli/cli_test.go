package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/fixer-ai/fixer/internal/diagnose"
	diagmock "github.com/fixer-ai/fixer/internal/diagnose/mock"
	"github.com/fixer-ai/fixer/internal/script"
	capmock "github.com/fixer-ai/fixer/pkg/capture/mock"
	"github.com/fixer-ai/fixer/pkg/media"
)

// runCLI drives a CLI over scripted input lines and returns the output.
func runCLI(t *testing.T, diag diagnose.Diagnoser, input string, opts ...Option) string {
	t.Helper()

	var out strings.Builder
	runner := script.New(script.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	opts = append([]Option{
		WithIO(strings.NewReader(input), &out),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	c := New(diag, runner, opts...)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return out.String()
}

func TestRun_TextDiagnosis(t *testing.T) {
	t.Parallel()

	diag := &diagmock.Diagnoser{
		TextResult: diagnose.Diagnosis{
			Cause: "Dead CMOS battery.",
			Steps: []string{"Open the case", "Replace the coin cell"},
		},
	}

	out := runCLI(t, diag, "my pc forgets the time\nquit\n")
	if !strings.Contains(out, "Dead CMOS battery.") {
		t.Errorf("output missing cause:\n%s", out)
	}
	if !strings.Contains(out, "1. Open the case") {
		t.Errorf("output missing numbered steps:\n%s", out)
	}
	if len(diag.TextCalls) != 1 || diag.TextCalls[0].Problem != "my pc forgets the time" {
		t.Errorf("TextCalls = %+v", diag.TextCalls)
	}
}

func TestRun_ExitCommands(t *testing.T) {
	t.Parallel()

	for _, cmd := range []string{"!exit", "exit", "quit", "q", "Q"} {
		diag := &diagmock.Diagnoser{}
		out := runCLI(t, diag, cmd+"\n")
		if !strings.Contains(out, "Goodbye") {
			t.Errorf("%q: output missing goodbye:\n%s", cmd, out)
		}
		if len(diag.TextCalls) != 0 {
			t.Errorf("%q reached the diagnoser", cmd)
		}
	}
}

func TestRun_EOFEndsLoop(t *testing.T) {
	t.Parallel()

	out := runCLI(t, &diagmock.Diagnoser{}, "")
	if !strings.Contains(out, "Goodbye") {
		t.Errorf("EOF should end with goodbye:\n%s", out)
	}
}

func TestRun_ScreenshotCommand(t *testing.T) {
	t.Parallel()

	diag := &diagmock.Diagnoser{
		MultimodalResult: diagnose.Diagnosis{Cause: "Dialog box reports a full disk."},
	}
	grabber := &capmock.Grabber{Frame: media.JPEGFrame([]byte{0xff, 0xd8})}

	out := runCLI(t, diag, "!screenshot\nthe error dialog\nq\n", WithScreen(grabber))
	if grabber.GrabCallCount != 1 {
		t.Errorf("GrabCallCount = %d, want 1", grabber.GrabCallCount)
	}
	if len(diag.MultimodalCalls) != 1 {
		t.Fatalf("MultimodalCalls = %d, want 1", len(diag.MultimodalCalls))
	}
	if diag.MultimodalCalls[0].Problem != "the error dialog" {
		t.Errorf("Problem = %q", diag.MultimodalCalls[0].Problem)
	}
	if !strings.Contains(out, "full disk") {
		t.Errorf("output missing diagnosis:\n%s", out)
	}
}

func TestRun_ScreenshotWithoutGrabber(t *testing.T) {
	t.Parallel()

	out := runCLI(t, &diagmock.Diagnoser{}, "!screenshot\nq\n")
	if !strings.Contains(out, "not available") {
		t.Errorf("output missing unavailability notice:\n%s", out)
	}
}

func TestRun_WebcamGrabFailureContinues(t *testing.T) {
	t.Parallel()

	grabber := &capmock.Grabber{GrabErr: errors.New("device busy")}
	diag := &diagmock.Diagnoser{TextResult: diagnose.Diagnosis{Cause: "Still works."}}

	out := runCLI(t, diag, "!webcam\nanything\nnormal question\nq\n", WithWebcam(grabber))
	if !strings.Contains(out, "capture failed") {
		t.Errorf("output missing capture error:\n%s", out)
	}
	if !strings.Contains(out, "Still works.") {
		t.Errorf("loop did not continue after capture failure:\n%s", out)
	}
}

func TestRun_RunCommandWithoutScript(t *testing.T) {
	t.Parallel()

	out := runCLI(t, &diagmock.Diagnoser{}, "!run\nq\n")
	if !strings.Contains(out, "no script available") {
		t.Errorf("output missing no-script notice:\n%s", out)
	}
}

func TestRun_RunCommandExecutesLastScript(t *testing.T) {
	t.Parallel()

	diag := &diagmock.Diagnoser{
		TextResult: diagnose.Diagnosis{
			Cause:  "Stuck service.",
			Steps:  []string{"Restart it"},
			Script: "echo script-ran",
		},
	}

	out := runCLI(t, diag, "fix my service\n!run\ny\nq\n")
	if !strings.Contains(out, "Run this script?") {
		t.Errorf("output missing confirmation prompt:\n%s", out)
	}
	if !strings.Contains(out, "script-ran") {
		t.Errorf("output missing script stdout:\n%s", out)
	}
	if !strings.Contains(out, "exit code 0") {
		t.Errorf("output missing exit status:\n%s", out)
	}
}

func TestRun_RunCommandDeclined(t *testing.T) {
	t.Parallel()

	diag := &diagmock.Diagnoser{
		TextResult: diagnose.Diagnosis{Cause: "X.", Script: "echo should-not-run"},
	}

	out := runCLI(t, diag, "problem\n!run\nn\nq\n")
	if !strings.Contains(out, "Skipped.") {
		t.Errorf("output missing skip notice:\n%s", out)
	}
	if strings.Contains(out, "should-not-run\n") && strings.Contains(out, "exit code") {
		t.Errorf("declined script appears to have run:\n%s", out)
	}
}

func TestRun_DiagnoserErrorIsShownAndLoopContinues(t *testing.T) {
	t.Parallel()

	diag := &diagmock.Diagnoser{TextErr: errors.New("backend down")}
	out := runCLI(t, diag, "broken\nq\n")
	if !strings.Contains(out, "backend down") {
		t.Errorf("output missing error:\n%s", out)
	}
	if !strings.Contains(out, "Goodbye") {
		t.Errorf("loop did not reach exit:\n%s", out)
	}
}

func TestRun_ParseFailureShownVerbatim(t *testing.T) {
	t.Parallel()

	diag := &diagmock.Diagnoser{
		TextResult: diagnose.ParseFailure{Raw: "have you tried plugging it in"},
	}
	out := runCLI(t, diag, "help me\nq\n")
	if !strings.Contains(out, "have you tried plugging it in") {
		t.Errorf("output missing raw reply:\n%s", out)
	}
}
