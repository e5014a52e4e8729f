// Package context provides timeout helpers for operations that run
// detached from a request, such as background sweeps and work done
// after a websocket upgrade hijacks the connection.
package context

import (
	"context"
	"time"
)

const (
	// ShortTimeout bounds quick operations like cache writes.
	ShortTimeout = 5 * time.Second

	// MediumTimeout bounds database queries and batch sweeps.
	MediumTimeout = 10 * time.Second
)

// WithShortTimeout creates a context with a short timeout.
func WithShortTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ShortTimeout)
}

// WithMediumTimeout creates a context with a medium timeout.
func WithMediumTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, MediumTimeout)
}
