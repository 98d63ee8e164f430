package resilience

import "time"

// Breaker defaults. A recognition service that fails five polls in a row is
// skipped for ResetTimeout before being probed again.
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 10 * time.Second
	DefaultHalfOpenSuccesses = 2
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string        // used in log lines
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// DefaultConfig returns the settings used for the detection source.
func DefaultConfig() Config {
	return Config{
		Name:              "detection",
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
