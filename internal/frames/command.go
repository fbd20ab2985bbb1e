package frames

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
)

// OutPlaceholder in a capture command is replaced by the file the tool must write.
const OutPlaceholder = "{out}"

// CommandSource grabs each frame by running an external capture tool that
// writes a single image file.
type CommandSource struct {
	mu      sync.Mutex
	argv    []string
	tempDir string
	det     changeDetector
}

// NewCommandSource validates argv, falling back to the platform default
// grabber when argv is empty.
func NewCommandSource(argv []string) (*CommandSource, error) {
	if len(argv) == 0 {
		argv = defaultCaptureCommand()
	}
	if len(argv) == 0 {
		return nil, apperrors.New(apperrors.CodeResourceUnavailable, "no frame capture tool found")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeResourceUnavailable, "capture tool %s", argv[0])
	}
	tmpDir, err := os.MkdirTemp("", "reverser-frames-*")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeResourceUnavailable, "create capture dir")
	}
	return &CommandSource{argv: argv, tempDir: tmpDir}, nil
}

// Capture runs the tool once.
func (s *CommandSource) Capture() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := filepath.Join(s.tempDir, "frame"+DefaultCaptureExt)
	args := make([]string, len(s.argv))
	for i, a := range s.argv {
		args[i] = strings.ReplaceAll(a, OutPlaceholder, out)
	}

	ctx, cancel := context.WithTimeout(context.Background(), CaptureTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		slog.Error("frame capture failed", "tool", args[0], "error", err, "stderr", stderr.String())
		return nil, false
	}

	data, err := os.ReadFile(out)
	if err != nil {
		slog.Error("failed to read captured frame", "error", err)
		return nil, false
	}
	os.Remove(out)
	return data, s.det.changed(data)
}

// Close removes the capture directory.
func (s *CommandSource) Close() {
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
}
