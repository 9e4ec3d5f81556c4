package logx

import (
	"context"

	"pkt.systems/syncrelay/schema"
	"pkt.systems/pslog"
)

type contextKey int

const sessionKey contextKey = iota

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with the session id if present.
func WithSession(ctx context.Context, session schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if session != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == session {
			return log
		}
		log = log.With("session", session)
	}
	return log
}

// ContextWithSession stores the session marker on the context for log
// de-duplication.
func ContextWithSession(ctx context.Context, session schema.SessionID) context.Context {
	if ctx == nil || session == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, session)
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, session schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, session)
}
