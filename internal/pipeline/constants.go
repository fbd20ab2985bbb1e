package pipeline

// Pipeline configuration constants
const (
	// Completions waiting for the run loop. Only one task is ever outstanding,
	// the slack absorbs a completion racing shutdown.
	CompletionBuffer = 4

	// Default per-subscriber event buffer
	DefaultEventBuffer = 32
)
