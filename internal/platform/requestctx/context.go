// Package requestctx carries per-request values (logger, trace, visitor session, admin subject,
// form token) between middleware and handlers.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey  struct{}
	traceKey   struct{}
	sessionKey struct{}
	subjectKey struct{}
	csrfKey    struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo is the Cloud Trace context of the request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func with(ctx context.Context, key, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func lookup[T any](ctx context.Context, key any) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}

// WithLogger attaches logger; nil attaches the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, loggerKey{}, logger)
}

// Logger never returns nil.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := lookup[*zap.Logger](ctx, loggerKey{}); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger is what Logger returns for a bare context.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return lookup[TraceInfo](ctx, traceKey{})
}

// TraceID is "" when the request was not traced.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithSessionID records the visitor session cookie value.
func WithSessionID(ctx context.Context, id string) context.Context {
	return with(ctx, sessionKey{}, id)
}

func SessionID(ctx context.Context) string {
	id, _ := lookup[string](ctx, sessionKey{})
	return id
}

// WithSubject records the admin token subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return with(ctx, subjectKey{}, subject)
}

// Subject reports false for anonymous requests.
func Subject(ctx context.Context) (string, bool) {
	subject, _ := lookup[string](ctx, subjectKey{})
	return subject, subject != ""
}

func WithCSRFToken(ctx context.Context, token string) context.Context {
	return with(ctx, csrfKey{}, token)
}

// CSRFToken is the token forms on this page must echo back.
func CSRFToken(ctx context.Context) string {
	token, _ := lookup[string](ctx, csrfKey{})
	return token
}
