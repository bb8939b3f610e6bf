package live

import "errors"

// Sentinel errors distinguishing why a live run ended. Callers classify the
// error returned by [Loop.Run] with errors.Is to pick an exit code.
var (
	// ErrTransport indicates the bidirectional session failed: the dial, a
	// send, or the inbound stream ended with a connection-level error.
	ErrTransport = errors.New("live: transport failure")

	// ErrDeviceAcquisition indicates an audio device could not be opened or
	// stopped delivering. Audio devices are mandatory for their roles, so this
	// is always fatal to the run.
	ErrDeviceAcquisition = errors.New("live: device acquisition failure")

	// ErrUserQuit indicates the user asked to end the session. It is the clean
	// exit path, not a failure.
	ErrUserQuit = errors.New("live: user quit")
)
