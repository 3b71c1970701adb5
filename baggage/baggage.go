package baggage

import (
	"context"
	"net/http"
)

// Session is the per-connection caller information threaded into tool
// calls through the transport's context hooks.
type Session struct {
	Role string
}

// baggage is a custom context key for storing the session.
type baggage struct{}

func withBaggage(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, baggage{}, s)
}

// WithSession attaches a fixed session, for stdio transports where the
// caller identity comes from process configuration.
func WithSession(s *Session) func(context.Context) context.Context {
	return func(ctx context.Context) context.Context {
		return withBaggage(ctx, s)
	}
}

// WithSessionFromRequest attaches a session derived from the incoming
// request: the X-Caller-Role header overrides the configured role so an
// SSE deployment can serve callers with different privileges.
func WithSessionFromRequest(base *Session) func(context.Context, *http.Request) context.Context {
	return func(ctx context.Context, r *http.Request) context.Context {
		s := *base
		if role := r.Header.Get("X-Caller-Role"); role != "" {
			s.Role = role
		}
		return withBaggage(ctx, &s)
	}
}

// SessionFromContext extracts the session from the context. Returns nil
// if no session was attached.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(baggage{}).(*Session)
	return s
}
