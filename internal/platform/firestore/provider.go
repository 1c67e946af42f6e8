// Package firestore hands the catalog a lazily dialled Firestore client.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mysterybooks/storefront/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
)

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

type dialFunc func(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error)

// Provider dials Firestore on first use. A failed dial is retried on the next call.
type Provider struct {
	projectID    string
	emulator     string
	dialTimeout  time.Duration
	extraOptions []option.ClientOption
	newClient    dialFunc

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises a Provider.
type ProviderOption func(*Provider)

// WithDialTimeout bounds client creation.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions adds client options such as credentials files.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) { p.extraOptions = append(p.extraOptions, opts...) }
}

// NewProvider prepares a provider for the configured project. Nothing is dialled yet.
func NewProvider(cfg config.GCPConfig, opts ...ProviderOption) *Provider {
	p := &Provider{
		projectID:   strings.TrimSpace(cfg.ProjectID),
		emulator:    strings.TrimSpace(cfg.FirestoreEmulatorHost),
		dialTimeout: defaultDialTimeout,
		newClient:   firestore.NewClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client, dialling it if needed.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	case p.projectID == "":
		return nil, errors.New("firestore: project id is required")
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	client, err := p.newClient(dialCtx, p.projectID, p.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	p.client = client
	return client, nil
}

// Ping reads at most one document of collection to prove the client can reach the database.
func (p *Provider) Ping(ctx context.Context, collection string) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore: ping %s: %w", collection, err)
	}
	return nil
}

// Close releases the client. Later Client calls fail with ErrProviderClosed.
func (p *Provider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	client := p.client
	p.client = nil
	if client == nil {
		return nil
	}
	return client.Close()
}

func (p *Provider) clientOptions() []option.ClientOption {
	opts := append([]option.ClientOption(nil), p.extraOptions...)
	if host := p.emulatorHost(); host != "" {
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	return opts
}

func (p *Provider) emulatorHost() string {
	if p.emulator != "" {
		return p.emulator
	}
	return strings.TrimSpace(os.Getenv(envEmulatorHost))
}
