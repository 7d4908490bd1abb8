// Package logging defines the minimal structured-logging interface used
// across the core. Implementations can wrap slog, zap, zerolog, etc.
//
// Nothing in this codebase may log key material or decrypted payloads; log
// values are limited to identifiers, actions, sequences, counts and error
// strings.
package logging

import "context"

// Logger is a context-aware, structured logger. The variadic args are
// interpreted as key-value pairs:
//
//	log.Info(ctx, "outgoing batch", "records", n)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value
	// pairs.
	With(args ...any) Logger
}
