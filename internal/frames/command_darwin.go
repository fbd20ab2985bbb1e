//go:build darwin

package frames

import "os/exec"

func defaultCaptureCommand() []string {
	if _, err := exec.LookPath("imagesnap"); err == nil {
		return []string{"imagesnap", "-q", OutPlaceholder}
	}
	// -x: no sound, -t jpg: JPEG format, -m: main display only
	return []string{"screencapture", "-x", "-t", "jpg", "-m", OutPlaceholder}
}
