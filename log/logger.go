package log

import "context"

// Logger is the structured logging interface handed to components that should
// not depend on a concrete logging library.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields ...map[string]interface{})

	// With returns a new logger carrying the given fields on every event.
	With(fields map[string]interface{}) Logger
}
