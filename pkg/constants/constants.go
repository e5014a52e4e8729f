// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single WebSocket write
	WebSocketWriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Matchmaking constants
const (
	// RecentActivityWindow is how far back tier-2 matching looks for
	// recently active users
	RecentActivityWindow = 5 * time.Minute

	// MaxMatchAttempts bounds tier re-evaluation when a candidate is
	// claimed concurrently; after exhaustion the result is no-match
	MaxMatchAttempts = 3

	// PresenceTTL is how long a Redis presence entry lives without a
	// heartbeat refresh
	PresenceTTL = 5 * time.Minute
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// RefreshTokenExpiry is the default refresh token lifetime
	RefreshTokenExpiry = 30 * 24 * time.Hour
)

// Relay room constants
const (
	// MatchingRoom is the global room used for match-availability
	// broadcasts; every other room id is a call id
	MatchingRoom = "matching"

	// MaxChatMessageLength caps the content of a relayed chat message
	MaxChatMessageLength = 2000
)
