//go:build linux

package frames

import "os/exec"

// Prefer the first camera; fall back to grabbing the screen.
func defaultCaptureCommand() []string {
	if _, err := exec.LookPath("ffmpeg"); err == nil {
		return []string{"ffmpeg", "-loglevel", "error", "-f", "v4l2", "-i", "/dev/video0", "-frames:v", "1", "-y", OutPlaceholder}
	}
	if _, err := exec.LookPath("gnome-screenshot"); err == nil {
		return []string{"gnome-screenshot", "-f", OutPlaceholder}
	}
	if _, err := exec.LookPath("scrot"); err == nil {
		return []string{"scrot", "-o", OutPlaceholder}
	}
	return nil
}
