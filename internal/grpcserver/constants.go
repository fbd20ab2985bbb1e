package grpcserver

import "time"

// Server configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second
	MinClientPingInterval   = 5 * time.Second

	// ServiceName is the health-checked service.
	ServiceName = "reverser.Pipeline"
)
