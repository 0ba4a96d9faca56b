package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/apostella/api/internal/handlers"
	"github.com/apostella/api/internal/platform/auth"
	"github.com/apostella/api/internal/platform/config"
	pfirestore "github.com/apostella/api/internal/platform/firestore"
	"github.com/apostella/api/internal/platform/idempotency"
	"github.com/apostella/api/internal/platform/jobs"
	"github.com/apostella/api/internal/platform/observability"
	"github.com/apostella/api/internal/platform/secrets"
	"github.com/apostella/api/internal/repositories"
	firestoreRepo "github.com/apostella/api/internal/repositories/firestore"
	"github.com/apostella/api/internal/services"
	"github.com/apostella/api/internal/shipping"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

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

	buildInfo := buildInfoFromEnv(envValues, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	healthRepo, err := newHealthRepository(firestoreClient, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: registry.Health(),
		Clock:            time.Now,
		Build:            buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	pickupProvider, err := shipping.ForConfig(cfg.Shipping.Provider, cfg.Shipping.DHLAPIKey)
	if err != nil {
		logger.Fatal("failed to initialise shipping provider", zap.Error(err))
	}
	logger.Info("shipping provider selected", zap.String("provider", pickupProvider.Name()))

	dispatcher, pubsubCleanup, err := newNotificationDispatcher(ctx, cfg, registry.EmailOutbox())
	if err != nil {
		logger.Fatal("failed to initialise notification dispatcher", zap.Error(err))
	}
	defer pubsubCleanup()

	catalog, err := services.NewPricingCatalog(services.PricingCatalogDeps{
		Rules:  registry.PricingRules(),
		Pickup: pickupProvider,
		Clock:  time.Now,
		Logger: zapEventLogger(logger.Named("pricing")),
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing catalog", zap.Error(err))
	}

	engine, err := services.NewPricingEngine(services.PricingEngineDeps{
		Catalog: catalog,
		Logger:  zapEventLogger(logger.Named("pricing")),
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}

	confirmationService, err := services.NewConfirmationService(services.ConfirmationServiceDeps{
		Confirmations: registry.Confirmations(),
		Orders:        registry.Orders(),
		Dispatcher:    dispatcher,
		Composer:      services.NewQuoteComposer(),
		Policy: services.ConfirmationPolicy{
			PublicBaseURL: cfg.Confirmations.PublicBaseURL,
			AddressTTL:    cfg.Confirmations.AddressTTL,
			EmbassyTTL:    cfg.Confirmations.EmbassyTTL,
			QuoteTTL:      cfg.Confirmations.QuoteTTL,
			ContactEmail:  cfg.Notifications.ContactEmail,
		},
		Clock:  time.Now,
		Logger: zapEventLogger(logger.Named("confirmations")),
	})
	if err != nil {
		logger.Fatal("failed to initialise confirmation service", zap.Error(err))
	}

	confirmationHandlers := handlers.NewConfirmationHandlers(confirmationService,
		handlers.WithSendRateLimiter(handlers.NewSendRateLimiter(cfg.RateLimits.SendPerWindow, cfg.RateLimits.SendWindow)),
	)
	pricingHandlers := handlers.NewPricingHandlers(engine)
	adminHandlers := handlers.NewAdminPricingHandlers(catalog)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		idempotency.Middleware(idempotencyStore,
			idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
		),
	}

	routerOptions := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithQuoteRoutes(confirmationHandlers.QuoteRoutes),
		handlers.WithAddressConfirmationRoutes(confirmationHandlers.AddressRoutes),
		handlers.WithEmbassyPriceConfirmationRoutes(confirmationHandlers.EmbassyPriceRoutes),
		handlers.WithPricingRoutes(pricingHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	}
	if adminSecret := strings.TrimSpace(cfg.Admin.HMACSecret); adminSecret != "" {
		validator := auth.NewHMACValidator(
			auth.SecretProviderFunc(func(context.Context, string) (string, error) {
				return adminSecret, nil
			}),
			auth.NewInMemoryNonceStore(),
			auth.WithHMACLogger(observability.NewPrintfAdapter(logger.Named("auth"))),
		)
		routerOptions = append(routerOptions, handlers.WithAdminMiddlewares(validator.RequireHMAC("admin")))
	} else {
		logger.Warn("admin request signing disabled, set API_ADMIN_HMAC_SECRET outside local development")
	}

	router := handlers.NewRouter(routerOptions...)

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
		serverLogger.Info("apostella api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}
	version := lookup("API_BUILD_VERSION")
	if version == "" {
		version = "dev"
	}
	commit := lookup("API_BUILD_COMMIT_SHA")
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.ToLower(lookup("API_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newHealthRepository(client *firestore.Client, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

// newNotificationDispatcher selects the dispatch strategy once at startup.
// The returned cleanup stops the Pub/Sub topic and client when that
// strategy is active and is a no-op otherwise.
func newNotificationDispatcher(ctx context.Context, cfg config.Config, outbox repositories.EmailOutboxRepository) (services.NotificationDispatcher, func(), error) {
	noop := func() {}

	switch cfg.Notifications.Strategy {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, noop, err
		}
		topic := client.Topic(cfg.PubSub.EmailTopic)
		publisher, err := jobs.NewPubSubEmailPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		dispatcher, err := services.NewPublisherDispatcher(publisher, time.Now)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		cleanup := func() {
			topic.Stop()
			_ = client.Close()
		}
		return services.WithDefaultSender(dispatcher, cfg.Notifications.FromAddress), cleanup, nil
	default:
		dispatcher, err := services.NewOutboxDispatcher(outbox, time.Now)
		if err != nil {
			return nil, noop, err
		}
		return services.WithDefaultSender(dispatcher, cfg.Notifications.FromAddress), noop, nil
	}
}

func zapEventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service log", zFields...)
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secret-backed config fields that must
// resolve for the selected providers. The DHL key is only mandatory when
// the real shipping provider is active.
func requiredSecretNames(env map[string]string) []string {
	provider := ""
	if env != nil {
		provider = strings.ToLower(strings.TrimSpace(env["API_SHIPPING_PROVIDER"]))
	}
	if provider == "dhl" {
		return []string{"Shipping.DHLAPIKey"}
	}
	return nil
}
