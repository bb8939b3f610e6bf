package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/fixer-ai/fixer/pkg/media"
)

// Compile-time assertions that the grabbers satisfy FrameGrabber.
var _ FrameGrabber = (*ScreenGrabber)(nil)
var _ FrameGrabber = (*WebcamGrabber)(nil)

// grabTimeout bounds a single ffmpeg invocation.
const grabTimeout = 10 * time.Second

// runGrab executes ffmpeg with the given input arguments, asking for exactly
// one frame as JPEG on stdout, and downscales the result.
func runGrab(ctx context.Context, inputArgs []string) (media.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, grabTimeout)
	defer cancel()

	args := append([]string{"-loglevel", "error"}, inputArgs...)
	args = append(args, "-frames:v", "1", "-f", "image2", "-codec:v", "mjpeg", "pipe:1")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return media.Frame{}, fmt.Errorf("capture: ffmpeg: %w: %s", err, msg)
		}
		return media.Frame{}, fmt.Errorf("capture: ffmpeg: %w", err)
	}

	scaled, err := media.DownscaleJPEG(stdout.Bytes(), media.MaxImageDim)
	if err != nil {
		return media.Frame{}, fmt.Errorf("capture: downscale frame: %w", err)
	}
	return media.JPEGFrame(scaled), nil
}

// ScreenGrabber captures the primary display via ffmpeg's x11grab input.
type ScreenGrabber struct {
	// Display is the X display to capture, e.g. ":0.0". Empty means ":0.0".
	Display string
}

// Grab captures one screenshot of the display.
func (g *ScreenGrabber) Grab(ctx context.Context) (media.Frame, error) {
	display := g.Display
	if display == "" {
		display = ":0.0"
	}
	return runGrab(ctx, []string{"-f", "x11grab", "-i", display})
}

// WebcamGrabber captures a single frame from a V4L2 camera device via ffmpeg.
type WebcamGrabber struct {
	// Device is the camera device path, e.g. "/dev/video0". Empty means
	// "/dev/video0".
	Device string
}

// Grab captures one frame from the camera.
func (g *WebcamGrabber) Grab(ctx context.Context) (media.Frame, error) {
	device := g.Device
	if device == "" {
		device = "/dev/video0"
	}
	return runGrab(ctx, []string{"-f", "v4l2", "-i", device})
}
