package resilience

import "time"

// A faulting engine cools down briefly, then one clean recognition closes
// the breaker again.
const (
	EngineThreshold         = 3
	EngineResetTimeout      = 2 * time.Second
	EngineHalfOpenSuccesses = 1
)

// Config holds breaker settings. Zero fields take the engine values.
type Config struct {
	Name              string        // used in log lines
	Threshold         int           // consecutive engine faults before opening
	ResetTimeout      time.Duration // cooldown before a half-open probe
	HalfOpenSuccesses int           // clean probes needed to close
}

// EngineConfig returns settings guarding the recognition engine.
func EngineConfig() Config {
	return Config{
		Name:              "engine",
		Threshold:         EngineThreshold,
		ResetTimeout:      EngineResetTimeout,
		HalfOpenSuccesses: EngineHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "engine"
	}
	if c.Threshold <= 0 {
		c.Threshold = EngineThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = EngineResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = EngineHalfOpenSuccesses
	}
	return c
}
