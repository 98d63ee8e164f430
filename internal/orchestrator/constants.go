package orchestrator

import "time"

// Controller defaults
const (
	DefaultFastInterval = 500 * time.Millisecond
	DefaultSlowInterval = time.Second
)
