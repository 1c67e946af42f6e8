package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultEnvironment        = "local"
	defaultLogLevel           = "info"
	defaultCatalogSource      = SourceEmbedded
	defaultCatalogTimeout     = 5 * time.Second
	defaultCatalogCollection  = "books"
	defaultCatalogTable       = "books"
	defaultCheckoutMode       = CheckoutHosted
	defaultPaymentsMode       = PaymentsAuto
	defaultPrice              = "5.00"
	defaultCurrency           = "GBP"
	defaultRevealDelay        = 400 * time.Millisecond
	defaultSessionCookie      = "mb_session"
	defaultSessionTTL         = 2 * time.Hour
	defaultSessionCleanup     = 5 * time.Minute
	defaultMailFromName       = "Mystery Books"
	defaultAdminIssuer        = "mysterybooks-storefront"
	defaultAdminTokenTTL      = 12 * time.Hour
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultIdempotencyCleanup = time.Hour
	defaultIdempotencyBatch   = 200
)

// Catalog source names accepted by STOREFRONT_CATALOG_SOURCE.
const (
	SourceEmbedded  = "embedded"
	SourceCSV       = "csv"
	SourceYAML      = "yaml"
	SourceRemote    = "remote"
	SourceFirestore = "firestore"
	SourceGCS       = "gcs"
	SourcePostgres  = "postgres"
)

// Checkout variants accepted by STOREFRONT_CHECKOUT_MODE.
const (
	CheckoutHosted = "hosted"
	CheckoutLocal  = "local"
)

// Payment bindings accepted by STOREFRONT_PAYMENTS_MODE.
const (
	PaymentsAuto   = "auto"
	PaymentsStripe = "stripe"
	PaymentsMock   = "mock"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment   string
	Logging       LoggingConfig
	Server        ServerConfig
	GCP           GCPConfig
	Catalog       CatalogConfig
	Checkout      CheckoutConfig
	Payments      PaymentsConfig
	Sessions      SessionConfig
	Notifications NotificationConfig
	Admin         AdminConfig
	Idempotency   IdempotencyConfig
	CORS          CORSConfig
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// GCPConfig holds Google Cloud project settings shared by Firestore, Storage, Pub/Sub and tracing.
type GCPConfig struct {
	ProjectID             string
	FirestoreEmulatorHost string
}

// CatalogConfig selects and parameterises the primary catalog source.
type CatalogConfig struct {
	Source      string
	Path        string
	URL         string
	Timeout     time.Duration
	Collection  string
	Bucket      string
	Object      string
	DatabaseURL string
	Table       string
	// WritablePath backs the admin maintenance endpoints; empty disables them.
	WritablePath string
}

// CheckoutConfig defines the purchase flow variant and fixed pricing.
type CheckoutConfig struct {
	Mode        string
	Price       decimal.Decimal
	Currency    string
	RevealDelay time.Duration
}

// PaymentsConfig selects the gateway binding.
type PaymentsConfig struct {
	Mode            string
	StripeSecretKey string
}

// SessionConfig controls visitor session cookies and expiry.
type SessionConfig struct {
	CookieName      string
	TTL             time.Duration
	CleanupInterval time.Duration
	SecureCookies   bool
}

// NotificationConfig configures order confirmation side effects.
type NotificationConfig struct {
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	PubSubTopic    string
}

// AdminConfig configures the catalog maintenance endpoints.
type AdminConfig struct {
	TokenSecret string
	Issuer      string
	TokenTTL    time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// CORSConfig lists origins allowed to call the JSON API.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed secret identifiers safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the OS environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Payments.StripeSecretKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the effective environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

// Load assembles the storefront configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	options.secret = SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		return "", errSecretResolverNotConfigured
	})
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	var invalid []string

	price, ok := decimalWithDefault(lookup, "STOREFRONT_PRICE", defaultPrice)
	if !ok {
		invalid = append(invalid, "Checkout.Price")
	}

	port := stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", "")
	if port == "" {
		port = stringWithDefault(lookup, "PORT", defaultPort)
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_ENVIRONMENT", defaultEnvironment)),
		Logging: LoggingConfig{
			Level: stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel),
		},
		Server: ServerConfig{
			Port:            port,
			BaseURL:         strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_BASE_URL", ""), "/"),
			ReadTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		GCP: GCPConfig{
			ProjectID:             stringWithDefault(lookup, "STOREFRONT_GCP_PROJECT_ID", stringWithDefault(lookup, "GOOGLE_CLOUD_PROJECT", "")),
			FirestoreEmulatorHost: stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
		},
		Catalog: CatalogConfig{
			Source:       strings.ToLower(stringWithDefault(lookup, "STOREFRONT_CATALOG_SOURCE", defaultCatalogSource)),
			Path:         stringWithDefault(lookup, "STOREFRONT_CATALOG_PATH", ""),
			URL:          stringWithDefault(lookup, "STOREFRONT_CATALOG_URL", ""),
			Timeout:      durationWithDefault(lookup, "STOREFRONT_CATALOG_TIMEOUT", defaultCatalogTimeout),
			Collection:   stringWithDefault(lookup, "STOREFRONT_CATALOG_COLLECTION", defaultCatalogCollection),
			Bucket:       stringWithDefault(lookup, "STOREFRONT_CATALOG_BUCKET", ""),
			Object:       stringWithDefault(lookup, "STOREFRONT_CATALOG_OBJECT", ""),
			DatabaseURL:  stringWithDefault(lookup, "STOREFRONT_CATALOG_DATABASE_URL", ""),
			Table:        stringWithDefault(lookup, "STOREFRONT_CATALOG_TABLE", defaultCatalogTable),
			WritablePath: stringWithDefault(lookup, "STOREFRONT_CATALOG_WRITABLE_PATH", ""),
		},
		Checkout: CheckoutConfig{
			Mode:        strings.ToLower(stringWithDefault(lookup, "STOREFRONT_CHECKOUT_MODE", defaultCheckoutMode)),
			Price:       price,
			Currency:    strings.ToUpper(stringWithDefault(lookup, "STOREFRONT_CURRENCY", defaultCurrency)),
			RevealDelay: durationWithDefault(lookup, "STOREFRONT_REVEAL_DELAY", defaultRevealDelay),
		},
		Payments: PaymentsConfig{
			Mode:            strings.ToLower(stringWithDefault(lookup, "STOREFRONT_PAYMENTS_MODE", defaultPaymentsMode)),
			StripeSecretKey: stringWithDefault(lookup, "STOREFRONT_STRIPE_SECRET_KEY", stringWithDefault(lookup, "STRIPE_SECRET_KEY", "")),
		},
		Sessions: SessionConfig{
			CookieName:      stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE", defaultSessionCookie),
			TTL:             durationWithDefault(lookup, "STOREFRONT_SESSION_TTL", defaultSessionTTL),
			CleanupInterval: durationWithDefault(lookup, "STOREFRONT_SESSION_CLEANUP_INTERVAL", defaultSessionCleanup),
		},
		Notifications: NotificationConfig{
			SendGridAPIKey: stringWithDefault(lookup, "STOREFRONT_SENDGRID_API_KEY", ""),
			FromEmail:      stringWithDefault(lookup, "STOREFRONT_MAIL_FROM", ""),
			FromName:       stringWithDefault(lookup, "STOREFRONT_MAIL_FROM_NAME", defaultMailFromName),
			PubSubTopic:    stringWithDefault(lookup, "STOREFRONT_PUBSUB_TOPIC", ""),
		},
		Admin: AdminConfig{
			TokenSecret: stringWithDefault(lookup, "STOREFRONT_ADMIN_TOKEN_SECRET", ""),
			Issuer:      stringWithDefault(lookup, "STOREFRONT_ADMIN_TOKEN_ISSUER", defaultAdminIssuer),
			TokenTTL:    durationWithDefault(lookup, "STOREFRONT_ADMIN_TOKEN_TTL", defaultAdminTokenTTL),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyCleanup),
			CleanupBatchSize: intWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		CORS: CORSConfig{
			AllowedOrigins: csvWithDefault(lookup, "STOREFRONT_CORS_ALLOWED_ORIGINS"),
		},
	}
	cfg.Sessions.SecureCookies = boolWithDefault(lookup, "STOREFRONT_SESSION_SECURE", cfg.Environment == "prod")

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Payments.StripeSecretKey", &cfg.Payments.StripeSecretKey},
		{"Notifications.SendGridAPIKey", &cfg.Notifications.SendGridAPIKey},
		{"Admin.TokenSecret", &cfg.Admin.TokenSecret},
		{"Catalog.DatabaseURL", &cfg.Catalog.DatabaseURL},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")

	switch cfg.Catalog.Source {
	case SourceEmbedded:
	case SourceCSV, SourceYAML:
		require(strings.TrimSpace(cfg.Catalog.Path) != "", "Catalog.Path")
	case SourceRemote:
		require(strings.TrimSpace(cfg.Catalog.URL) != "", "Catalog.URL")
	case SourceFirestore:
		require(cfg.GCP.ProjectID != "", "GCP.ProjectID")
		require(cfg.Catalog.Collection != "", "Catalog.Collection")
	case SourceGCS:
		require(cfg.Catalog.Bucket != "", "Catalog.Bucket")
		require(cfg.Catalog.Object != "", "Catalog.Object")
	case SourcePostgres:
		require(cfg.Catalog.DatabaseURL != "", "Catalog.DatabaseURL")
		require(cfg.Catalog.Table != "", "Catalog.Table")
	default:
		missing = append(missing, "Catalog.Source")
	}
	require(cfg.Catalog.Timeout > 0, "Catalog.Timeout")

	require(cfg.Checkout.Mode == CheckoutHosted || cfg.Checkout.Mode == CheckoutLocal, "Checkout.Mode")
	require(cfg.Checkout.Price.IsPositive(), "Checkout.Price")
	require(len(cfg.Checkout.Currency) == 3, "Checkout.Currency")
	require(cfg.Checkout.RevealDelay >= 0, "Checkout.RevealDelay")

	switch cfg.Payments.Mode {
	case PaymentsAuto, PaymentsMock:
	case PaymentsStripe:
		require(cfg.Payments.StripeSecretKey != "", "Payments.StripeSecretKey")
	default:
		missing = append(missing, "Payments.Mode")
	}

	require(cfg.Sessions.CookieName != "", "Sessions.CookieName")
	require(cfg.Sessions.TTL > 0, "Sessions.TTL")
	require(cfg.Sessions.CleanupInterval > 0, "Sessions.CleanupInterval")

	if cfg.Notifications.SendGridAPIKey != "" {
		require(cfg.Notifications.FromEmail != "", "Notifications.FromEmail")
	}
	if cfg.Notifications.PubSubTopic != "" {
		require(cfg.GCP.ProjectID != "", "GCP.ProjectID")
	}
	if cfg.Admin.TokenSecret != "" {
		require(len(cfg.Admin.TokenSecret) >= 32, "Admin.TokenSecret")
		require(cfg.Catalog.WritablePath != "", "Catalog.WritablePath")
	}

	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(missing) > 0 {
		return &ValidationError{fields: dedupe(missing)}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

// decimalWithDefault reports false when a value is present but unparsable.
func decimalWithDefault(lookup func(string) (string, bool), key, fallback string) (decimal.Decimal, bool) {
	raw := fallback
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		raw = strings.TrimSpace(value)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
