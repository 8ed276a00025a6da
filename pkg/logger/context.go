package logger

import "context"

type contextKey struct{}

// ContextWithLogger returns a context carrying the provided logger.
func ContextWithLogger(ctx context.Context, log Logger) context.Context {
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, log)
}

// FromContext extracts the logger from the context, falling back to a
// default stdout logger when none was attached.
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if log, ok := ctx.Value(contextKey{}).(Logger); ok && log != nil {
			return log
		}
	}
	return NewLogger(DefaultConfig())
}
