// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection command rate limiting
	RateLimitMessages = 20
	RateLimitWindow   = time.Second

	// Outbound event queue per websocket client; slow clients drop events
	ClientSendBuffer = 32
	WriteTimeout     = 5 * time.Second

	// Upper bound on POST /api/frame bodies
	MaxFrameBytes = 16 << 20

	DefaultHistoryLimit = 20
)
