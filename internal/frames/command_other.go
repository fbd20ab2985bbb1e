//go:build !linux && !darwin

package frames

// No built-in grabber; FRAME_COMMAND must name one.
func defaultCaptureCommand() []string { return nil }
