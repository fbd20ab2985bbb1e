package publish

import "time"

// Batcher defaults
const (
	DefaultBatcherMaxSize    = 10
	DefaultBatcherFlushDelay = 500 * time.Millisecond
)

// Redis sink
const (
	DefaultChannel = "reverser:results"
	listSuffix     = ":log"
	pingTimeout    = 3 * time.Second
)
