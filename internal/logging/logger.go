// Package logging defines the structured-logging interface used across the
// server. Components receive a Logger and derive children with With, e.g.
//
//	log := logger.With("module", "acceptor")
//	log.Info(ctx, "connection accepted", "peer", conn.RemoteAddr())
package logging

import "context"

// Logger is a context-aware, structured logger. The variadic args are
// key-value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	// With returns a child logger that always includes the given key-value pairs.
	With(args ...any) Logger
}
