package firestore

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"github.com/mysterybooks/storefront/internal/platform/config"
)

func TestClientRequiresProjectID(t *testing.T) {
	p := NewProvider(config.GCPConfig{})
	if _, err := p.Client(context.Background()); err == nil {
		t.Fatalf("expected error without project id")
	}
}

func TestClientWrapsDialErrors(t *testing.T) {
	dialErr := errors.New("dial failed")
	p := NewProvider(config.GCPConfig{ProjectID: "shop"})
	p.newClient = func(context.Context, string, ...option.ClientOption) (*firestore.Client, error) {
		return nil, dialErr
	}

	_, err := p.Client(context.Background())
	if !errors.Is(err, dialErr) {
		t.Fatalf("expected wrapped dial error, got %v", err)
	}
}

func TestClosedProviderRefusesClients(t *testing.T) {
	p := NewProvider(config.GCPConfig{ProjectID: "shop"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func TestEmulatorHostPrefersConfig(t *testing.T) {
	t.Setenv(envEmulatorHost, "env-host:8080")
	p := NewProvider(config.GCPConfig{ProjectID: "shop", FirestoreEmulatorHost: "cfg-host:9090"})
	if got := p.emulatorHost(); got != "cfg-host:9090" {
		t.Fatalf("expected config host, got %s", got)
	}
}
