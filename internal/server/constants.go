package server

import "time"

// Server configuration constants
const (
	// Inbound websocket messages allowed per connection per window
	RateLimitMessages = 20
	RateLimitWindow   = time.Second

	// Deadline for a single websocket write
	WriteTimeout = 5 * time.Second
)
