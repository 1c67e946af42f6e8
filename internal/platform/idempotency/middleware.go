package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mysterybooks/storefront/internal/platform/httpx"
	"github.com/mysterybooks/storefront/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger receives persistence failures.
type Logger interface {
	Printf(format string, args ...any)
}

type guard struct {
	store       Store
	headerName  string
	ttl         time.Duration
	methods     map[string]bool
	clock       func() time.Time
	logger      Logger
	requireKeys bool
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*guard)

// WithHeader sets the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.headerName = name
		}
	}
}

// WithTTL sets how long keys are remembered.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods replaces the guarded methods (POST, PUT, PATCH, DELETE by default).
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		set := make(map[string]bool, len(methods))
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				set[m] = true
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) { g.logger = logger }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithRequiredKey rejects guarded requests without a key. Keys are optional otherwise.
func WithRequiredKey() MiddlewareOption {
	return func(g *guard) { g.requireKeys = true }
}

// Middleware replays the first response for a repeated key and answers 409 while the first
// request is still running. 5xx responses are not remembered.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:      store,
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]bool{
			http.MethodPost: true, http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	key := strings.TrimSpace(r.Header.Get(g.headerName))
	switch {
	case !g.methods[r.Method]:
		next.ServeHTTP(w, r)
		return
	case key == "" && g.requireKeys:
		fail(w, r, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	case key == "":
		next.ServeHTTP(w, r)
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		fail(w, r, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	ctx := r.Context()
	who := owner(ctx)
	scoped := key + "|" + who
	fp := fingerprint(r, body, who)

	res, err := g.store.Reserve(ctx, scoped, fp, g.clock().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		fail(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	case err != nil:
		g.logf("idempotency: reserve %s: %v", key, err)
		fail(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
		return
	case res.State == ReservationStateCompleted && res.Record.Response != nil:
		replay(w, *res.Record.Response)
		return
	case res.State == ReservationStatePending:
		fail(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	}

	buf := &bufferedWriter{header: make(http.Header)}
	next.ServeHTTP(buf, r)
	resp := buf.response()

	if resp.Status >= http.StatusInternalServerError {
		g.release(ctx, scoped, fp, key)
		buf.flushTo(w)
		return
	}
	if err := g.store.SaveResponse(ctx, scoped, fp, resp, g.clock().UTC(), g.ttl); err != nil {
		g.logf("idempotency: save %s (owner %s): %v", key, who, err)
		g.release(ctx, scoped, fp, key)
		fail(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	buf.flushTo(w)
}

func (g *guard) release(ctx context.Context, scoped, fingerprint, key string) {
	if err := g.store.Release(ctx, scoped, fingerprint); err != nil {
		g.logf("idempotency: release %s: %v", key, err)
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func fingerprint(r *http.Request, body []byte, owner string) string {
	return sha256Hex([]byte(strings.Join([]string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		owner,
		sha256Hex(body),
	}, "\n")))
}

// owner scopes keys to the admin subject, else the visitor session.
func owner(ctx context.Context) string {
	if subject, ok := requestctx.Subject(ctx); ok {
		return "sub:" + subject
	}
	if id := requestctx.SessionID(ctx); id != "" {
		return "session:" + id
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, resp Response) {
	for name, values := range resp.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

// bufferedWriter holds the handler's reply until the outcome has been stored.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

func (b *bufferedWriter) response() Response {
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	return Response{Status: status, Headers: b.header.Clone(), Body: b.body.Bytes()}
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	resp := b.response()
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
