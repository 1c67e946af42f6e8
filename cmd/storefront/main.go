package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mysterybooks/storefront/internal/catalog"
	"github.com/mysterybooks/storefront/internal/handlers"
	"github.com/mysterybooks/storefront/internal/notifications"
	"github.com/mysterybooks/storefront/internal/payments"
	"github.com/mysterybooks/storefront/internal/platform/auth"
	"github.com/mysterybooks/storefront/internal/platform/config"
	pfirestore "github.com/mysterybooks/storefront/internal/platform/firestore"
	"github.com/mysterybooks/storefront/internal/platform/idempotency"
	"github.com/mysterybooks/storefront/internal/platform/jobs"
	"github.com/mysterybooks/storefront/internal/platform/observability"
	"github.com/mysterybooks/storefront/internal/platform/secrets"
	"github.com/mysterybooks/storefront/internal/sequencer"
	"github.com/mysterybooks/storefront/internal/services"
	"github.com/mysterybooks/storefront/internal/sessions"
	"github.com/mysterybooks/storefront/internal/storefront"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger = logger.With(zap.String("environment", cfg.Environment))

	firestoreProvider := pfirestore.NewProvider(cfg.GCP)
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	source, closeSource, err := catalog.NewSourceFromConfig(ctx, cfg, firestoreProvider)
	if err != nil {
		logger.Error("catalog source unavailable, serving embedded catalog",
			zap.String("source", cfg.Catalog.Source), zap.Error(err))
		source, closeSource = catalog.EmbeddedSource{}, func() error { return nil }
	}
	defer func() {
		if err := closeSource(); err != nil {
			logger.Warn("catalog source close error", zap.Error(err))
		}
	}()

	var store *catalog.FileStore
	if path := strings.TrimSpace(cfg.Catalog.WritablePath); path != "" {
		store, err = catalog.NewFileStore(path, cfg.Checkout.Price)
		if err != nil {
			logger.Fatal("failed to open writable catalog", zap.String("path", path), zap.Error(err))
		}
		source = store
	}

	catalogProvider := catalog.NewProvider(source,
		catalog.WithTimeout(cfg.Catalog.Timeout),
		catalog.WithLogger(logger.Named("catalog")),
	)

	gatewayLogger := observability.EventLogger(logger.Named("payments"))
	gateway, provider, err := payments.NewGatewayFromConfig(cfg.Payments, cfg.Server.BaseURL, payments.Logger(gatewayLogger))
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}
	keyType := payments.KeyType(cfg.Payments.StripeSecretKey)
	logger.Info("payment gateway selected", zap.String("provider", provider), zap.String("key_type", keyType))

	publisher, closePublisher := newOrderPublisher(ctx, logger, cfg)
	defer closePublisher()

	deps := services.CheckoutServiceDeps{
		Gateway:  gateway,
		Provider: provider,
		Price:    cfg.Checkout.Price,
		Currency: cfg.Checkout.Currency,
		Logger:   observability.EventLogger(logger.Named("checkout")),
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	if mailer := newMailer(logger, cfg); mailer != nil {
		deps.Mailer = mailer
	}
	checkoutService, err := services.NewCheckoutService(deps)
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	variant := sequencer.VariantHosted
	if cfg.Checkout.Mode == config.CheckoutLocal {
		variant = sequencer.VariantLocal
	}
	sequencerLogger := logger.Named("sequencer")
	sessionStore := sessions.NewStore(func() *sequencer.Sequencer {
		return sequencer.New(catalogProvider.Load(ctx),
			sequencer.WithVariant(variant),
			sequencer.WithRevealDelay(cfg.Checkout.RevealDelay),
			sequencer.WithPrice(cfg.Checkout.Price, cfg.Checkout.Currency),
			sequencer.WithLogger(sequencerLogger),
		)
	},
		sessions.WithTTL(cfg.Sessions.TTL),
		sessions.WithLogger(logger.Named("sessions")),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	backgroundWG.Add(1)
	go func() {
		defer backgroundWG.Done()
		sessionStore.Run(backgroundCtx, cfg.Sessions.CleanupInterval)
	}()

	idempotencyStore := idempotency.NewMemoryStore()
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)
	if cfg.Idempotency.CleanupInterval > 0 {
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			ticker := time.NewTicker(cfg.Idempotency.CleanupInterval)
			defer ticker.Stop()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-ticker.C:
					removed, err := idempotencyStore.CleanupExpired(backgroundCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-backgroundCtx.Done():
					return
				}
			}
		}()
	}

	booksHandlers := handlers.NewBooksHandlers(catalogProvider,
		handlers.WithPaymentStatus(provider, keyType),
	)
	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService,
		handlers.WithCheckoutMiddlewares(idempotencyMiddleware),
	)
	storefrontHandlers := storefront.NewHandlers(sessionStore, checkoutService)

	projectID := strings.TrimSpace(cfg.GCP.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthStartedAt(startedAt),
		handlers.WithHealthVersion(buildVersion(envValues)),
		handlers.WithReadinessCheck("catalog", func(ctx context.Context) error {
			loaded, err := source.Load(ctx)
			if err != nil {
				return err
			}
			if loaded.Count() == 0 {
				return catalog.ErrEmptyCatalog
			}
			return nil
		}),
	}
	if cfg.Catalog.Source == config.SourceFirestore {
		healthOpts = append(healthOpts, handlers.WithReadinessCheck("firestore", func(ctx context.Context) error {
			return firestoreProvider.Ping(ctx, cfg.Catalog.Collection)
		}))
	}

	apiRoutes := func(r chi.Router) {
		booksHandlers.Routes(r)
		checkoutHandlers.Routes(r)
	}

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)))
	opts = append(opts, handlers.WithCORSOrigins(cfg.CORS.AllowedOrigins...))
	opts = append(opts, handlers.WithAPIRoutes(apiRoutes))
	if adminRoutes := newAdminRoutes(logger, cfg, store); adminRoutes != nil {
		opts = append(opts, handlers.WithAdminRoutes(adminRoutes))
	}
	opts = append(opts, handlers.WithStorefrontRoutes(storefrontHandlers.Routes,
		sessions.Middleware(sessions.CookieConfig{
			Name:   cfg.Sessions.CookieName,
			MaxAge: cfg.Sessions.TTL,
			Secure: cfg.Sessions.SecureCookies,
		}),
		sessions.CSRF(sessions.CSRFConfig{Secure: cfg.Sessions.SecureCookies}),
	))

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("mystery books storefront listening",
			zap.String("catalog_source", catalogProvider.SourceName()),
			zap.String("checkout_mode", string(variant)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("STOREFRONT_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("STOREFRONT_GCP_PROJECT_ID")
	}
	if project == "" {
		project = lookup("GOOGLE_CLOUD_PROJECT")
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
	}
	if path := lookup("STOREFRONT_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve for the selected bindings. Optional
// integrations are only required once their non-secret settings are present.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.EqualFold(strings.TrimSpace(env["STOREFRONT_PAYMENTS_MODE"]), config.PaymentsStripe) {
		required = append(required, "Payments.StripeSecretKey")
	}
	if strings.TrimSpace(env["STOREFRONT_CATALOG_WRITABLE_PATH"]) != "" {
		required = append(required, "Admin.TokenSecret")
	}
	if strings.EqualFold(strings.TrimSpace(env["STOREFRONT_CATALOG_SOURCE"]), config.SourcePostgres) {
		required = append(required, "Catalog.DatabaseURL")
	}
	return required
}

func buildVersion(env map[string]string) string {
	if v := strings.TrimSpace(env["STOREFRONT_BUILD_VERSION"]); v != "" {
		return v
	}
	return "dev"
}

func newOrderPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config) (*jobs.PubSubOrderPublisher, func()) {
	noop := func() {}
	topicName := strings.TrimSpace(cfg.Notifications.PubSubTopic)
	if topicName == "" {
		return nil, noop
	}
	projectID := strings.TrimSpace(cfg.GCP.ProjectID)
	if projectID == "" {
		logger.Warn("pubsub topic configured without a project id; order events disabled")
		return nil, noop
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		logger.Error("failed to initialise pubsub client; order events disabled", zap.Error(err))
		return nil, noop
	}
	publisher, err := jobs.NewPubSubOrderPublisher(client.Topic(topicName))
	if err != nil {
		_ = client.Close()
		logger.Error("failed to initialise order publisher", zap.Error(err))
		return nil, noop
	}
	logger.Info("order events enabled", zap.String("topic", topicName))
	return publisher, func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
}

func newMailer(logger *zap.Logger, cfg config.Config) *notifications.SendGridMailer {
	if strings.TrimSpace(cfg.Notifications.SendGridAPIKey) == "" {
		return nil
	}
	mailer, err := notifications.NewSendGridMailer(
		cfg.Notifications.SendGridAPIKey,
		cfg.Notifications.FromEmail,
		cfg.Notifications.FromName,
		notifications.WithLogger(observability.EventLogger(logger.Named("mail"))),
	)
	if err != nil {
		logger.Warn("confirmation emails disabled", zap.Error(err))
		return nil
	}
	return mailer
}

func newAdminRoutes(logger *zap.Logger, cfg config.Config, store *catalog.FileStore) handlers.RouteRegistrar {
	if store == nil || strings.TrimSpace(cfg.Admin.TokenSecret) == "" {
		logger.Info("catalog maintenance endpoints disabled")
		return nil
	}
	tokens, err := auth.NewAdminTokens(cfg.Admin.TokenSecret, cfg.Admin.Issuer, cfg.Admin.TokenTTL,
		auth.WithLogger(observability.NewPrintfAdapter(logger.Named("auth"))),
	)
	if err != nil {
		logger.Fatal("failed to initialise admin tokens", zap.Error(err))
	}
	adminLogger := logger.Named("admin")
	h := handlers.NewAdminBooksHandlers(store,
		handlers.WithAdminGuard(tokens.RequireAdmin()),
		handlers.WithCatalogWriteHook(func(context.Context) {
			adminLogger.Info("catalog updated; new sessions will see the change")
		}),
	)
	return h.Routes
}
