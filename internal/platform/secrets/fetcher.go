// Package secrets resolves secret:// references from Google Secret Manager with a local file
// fallback for development.
package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const meterName = "github.com/mysterybooks/storefront/internal/platform/secrets"

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var dialSecretManager = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher caches every resolved value for the life of the process.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger
	latency    metric.Float64Histogram

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string
}

type settings struct {
	logger       *zap.Logger
	projectID    string
	fallbackPath string
	client       secretManagerClient
	clientOpts   []option.ClientOption
	offline      bool
}

// Option customises NewFetcher.
type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithProject sets the project for references without ?project=.
func WithProject(projectID string) Option {
	return func(s *settings) { s.projectID = strings.TrimSpace(projectID) }
}

// WithFallbackFile replaces .secrets.local. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

// WithSecretManagerClient injects a client; the fetcher will not close it.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(s *settings) { s.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// WithOffline never dials Secret Manager.
func WithOffline() Option {
	return func(s *settings) { s.offline = true }
}

// NewFetcher never fails because Secret Manager is unreachable; it logs and serves the fallback
// file instead.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{logger: zap.NewNop(), fallbackPath: DefaultFallbackFile}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	f := &Fetcher{
		client:       s.client,
		projectID:    s.projectID,
		logger:       s.logger,
		fallbackPath: s.fallbackPath,
		cache:        make(map[string]string),
	}
	latency, err := otel.GetMeterProvider().Meter(meterName).Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Time to resolve one secret reference"),
	)
	if err != nil {
		s.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
	} else {
		f.latency = latency
	}

	if f.client == nil && !s.offline && s.projectID != "" {
		client, err := dialSecretManager(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client, f.ownsClient = client, true
		}
	}
	return f, nil
}

// Close closes a client the fetcher dialled itself.
func (f *Fetcher) Close() error {
	if !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// Resolve looks in the cache, then Secret Manager, then the fallback file. Secret Manager errors
// other than access, availability and not-found are returned rather than masked by the fallback.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	if value, ok := f.cached(ref); ok {
		f.observe(ctx, start, "cache")
		return value, nil
	}

	if project := f.projectFor(ref); f.client != nil && project != "" {
		value, err := f.access(ctx, ref.resourceName(project))
		switch {
		case err == nil:
			f.remember(ref, value)
			f.observe(ctx, start, "remote")
			return value, nil
		case !fallbackEligible(err):
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.Canonical, err)
		}
		f.logger.Debug("secrets: using fallback file", zap.String("ref", ref.Canonical), zap.Error(err))
	}

	value, ok := f.fromFallback(ref)
	if !ok {
		f.observe(ctx, start, "error")
		return "", fmt.Errorf("secrets: fallback value not found for %s", ref.Canonical)
	}
	f.remember(ref, value)
	f.observe(ctx, start, "fallback")
	return value, nil
}

func (f *Fetcher) projectFor(ref reference) string {
	if ref.Project != "" {
		return ref.Project
	}
	return f.projectID
}

func (f *Fetcher) cached(ref reference) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.cache[ref.cacheKey()]
	return value, ok
}

func (f *Fetcher) remember(ref reference, value string) {
	f.mu.Lock()
	f.cache[ref.cacheKey()] = value
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	payload := resp.GetPayload()
	if payload == nil {
		return "", fmt.Errorf("secret manager returned no payload for %s", name)
	}
	return string(payload.GetData()), nil
}

func (f *Fetcher) fromFallback(ref reference) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback, f.fallbackErr = readFallbackFile(f.fallbackPath)
	})
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallback[ref.cacheKey()]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.Canonical]
	return value, ok
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	ms := float64(time.Since(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	}
	return false
}
