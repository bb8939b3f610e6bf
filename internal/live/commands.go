package live

import "strings"

// Action is what a line of console input asks the loop to do.
type Action int

const (
	// ActionText sends the input as a text turn.
	ActionText Action = iota

	// ActionQuit ends the session cleanly.
	ActionQuit

	// ActionScreenshot captures one screenshot and queues it for transmission.
	ActionScreenshot

	// ActionWebcam captures one camera frame and queues it for transmission.
	ActionWebcam
)

// String returns the action name for logging.
func (a Action) String() string {
	switch a {
	case ActionText:
		return "text"
	case ActionQuit:
		return "quit"
	case ActionScreenshot:
		return "screenshot"
	case ActionWebcam:
		return "webcam"
	}
	return "unknown"
}

// Interpret classifies one line of console input. Commands are matched
// case-insensitively after trimming whitespace. An empty line becomes a "."
// placeholder turn so that the model is prompted to continue.
func Interpret(line string) (Action, string) {
	trimmed := strings.TrimSpace(line)
	switch strings.ToLower(trimmed) {
	case "q", "quit":
		return ActionQuit, ""
	case "screenshot":
		return ActionScreenshot, ""
	case "webcam":
		return ActionWebcam, ""
	case "":
		return ActionText, "."
	}
	return ActionText, trimmed
}
