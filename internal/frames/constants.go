package frames

import "time"

// Frame handling constants
const (
	// Bytes hashed for change detection
	ChangeDetectPrefix = 4096

	// Default Hamming distance at or below which frames count as the same scene
	DefaultMaxHashDistance = 5

	// External grabbers
	CaptureTimeout    = 10 * time.Second
	DefaultCaptureExt = ".jpg"
)

// Extensions DirSource replays.
var frameExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}
