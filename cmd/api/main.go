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
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jfbeehive/swift-checkout/internal/catalog"
	"github.com/jfbeehive/swift-checkout/internal/handlers"
	"github.com/jfbeehive/swift-checkout/internal/payments"
	"github.com/jfbeehive/swift-checkout/internal/platform/addresslookup"
	"github.com/jfbeehive/swift-checkout/internal/platform/config"
	"github.com/jfbeehive/swift-checkout/internal/platform/idempotency"
	"github.com/jfbeehive/swift-checkout/internal/platform/jobs"
	"github.com/jfbeehive/swift-checkout/internal/platform/observability"
	"github.com/jfbeehive/swift-checkout/internal/platform/secrets"
	"github.com/jfbeehive/swift-checkout/internal/services"
	"github.com/jfbeehive/swift-checkout/internal/session"
)

const meterName = "github.com/jfbeehive/swift-checkout"

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

	logger := baseLogger.Named("checkout")
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
		config.WithRequiredSecrets(config.PaymentPublicKeySecret),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	meter := otel.Meter(meterName)

	cat, err := loadCatalog(cfg.Catalog)
	if err != nil {
		logger.Fatal("failed to load catalog", zap.Error(err))
	}

	store := session.NewStore(cat, session.WithTTL(cfg.Sessions.TTL))
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweepLogger := logger.Named("sessions")
	var backgroundWG sync.WaitGroup
	backgroundWG.Add(1)
	go func() {
		defer backgroundWG.Done()
		store.Run(sweepCtx, cfg.Sessions.SweepInterval, func(removed []string) {
			sweepLogger.Info("expired checkout sessions removed", zap.Int("count", len(removed)))
		})
	}()

	paymentLogger := observability.EventLogger(logger.Named("payments"))
	sdk, err := newCardSDK(cfg.Payment, paymentLogger)
	if err != nil {
		logger.Fatal("failed to initialise card sdk", zap.Error(err))
	}
	tokenizer := payments.NewTokenizer(payments.TokenizerConfig{
		SDK:       sdk,
		PublicKey: tokenizerKey(cfg.Payment),
		TestMode:  cfg.Payment.TestMode,
		Logger:    paymentLogger,
	})

	gateway, err := payments.NewGateway(payments.GatewayConfig{
		CheckoutURL: cfg.Gateway.CheckoutURL,
		StatusURL:   cfg.Gateway.StatusURL,
		Timeout:     cfg.Gateway.Timeout,
		Logger:      paymentLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	poller, err := services.NewPaymentStatusPoller(services.PaymentStatusPollerDeps{
		Checker:  gateway,
		Interval: cfg.Gateway.PollInterval,
		Logger:   observability.EventLogger(logger.Named("poller")),
		Meter:    meter,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment status poller", zap.Error(err))
	}

	var (
		addressLookup services.AddressLookup
		addressRoutes handlers.RouteRegistrar
	)
	if cfg.AddressLookup.Enabled {
		viaCEP := addresslookup.NewViaCEP(addresslookup.Config{
			BaseURL: cfg.AddressLookup.BaseURL,
			Timeout: cfg.AddressLookup.Timeout,
			Logger:  observability.EventLogger(logger.Named("address_lookup")),
		})
		addressLookup = viaCEP
		addressRoutes = handlers.NewAddressHandlers(viaCEP).Routes
	}

	var events services.CheckoutEventPublisher
	var eventTopic *pubsub.Topic
	var pubsubClient *pubsub.Client
	if projectID := strings.TrimSpace(cfg.Events.ProjectID); projectID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		eventTopic = pubsubClient.Topic(cfg.Events.Topic)
		eventTopic.EnableMessageOrdering = true
		publisher, err := jobs.NewPubSubCheckoutPublisher(eventTopic)
		if err != nil {
			logger.Fatal("failed to initialise checkout event publisher", zap.Error(err))
		}
		events = publisher
	}

	pollCtx, pollCancel := context.WithCancel(context.Background())
	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Sessions:    store,
		Catalog:     cat,
		Tokenizer:   tokenizer,
		Gateway:     gateway,
		Poller:      poller,
		Addresses:   addressLookup,
		Events:      events,
		PollContext: pollCtx,
		Logger:      observability.EventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	idempotencyStore, redisClient, err := newIdempotencyStore(cfg.Idempotency)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(sweepCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-sweepCtx.Done():
					return
				}
			}
		}()
	}

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithReadinessCheck("payment_key", func(context.Context) error {
			if tokenizerKey(cfg.Payment) == "" {
				return errors.New("payment public key not configured")
			}
			return nil
		}),
	}
	if redisClient != nil {
		healthOpts = append(healthOpts, handlers.WithReadinessCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService,
		handlers.WithIdempotencyHeader(cfg.Idempotency.Header),
		handlers.WithSubmitMiddlewares(idempotencyMiddleware),
	)

	projectID := strings.TrimSpace(cfg.Events.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithSessionRoutes(checkoutHandlers.Routes),
		handlers.WithCatalogRoutes(handlers.NewCatalogHandlers(cat).Routes),
	}
	if addressRoutes != nil {
		opts = append(opts, handlers.WithAddressRoutes(addressRoutes))
	}

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
		serverLogger.Info("checkout api listening",
			zap.String("version", buildInfo.Version),
			zap.String("paymentProvider", cfg.Payment.Provider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	pollCancel()
	store.Close()

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	sweepCancel()
	backgroundWG.Wait()

	if eventTopic != nil {
		eventTopic.Stop()
	}
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["CHECKOUT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["CHECKOUT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func loadCatalog(cfg config.CatalogConfig) (catalog.Catalog, error) {
	if path := strings.TrimSpace(cfg.File); path != "" {
		return catalog.Load(path)
	}
	return catalog.Default()
}

func newCardSDK(cfg config.PaymentConfig, logger payments.Logger) (payments.CardSDK, error) {
	providers := make(map[string]payments.CardSDK)
	if strings.TrimSpace(cfg.TokenizationURL) != "" {
		beehive, err := payments.NewBeehiveSDK(payments.BeehiveSDKConfig{
			BaseURL: cfg.TokenizationURL,
			Timeout: cfg.TokenizationTimeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		providers["beehive"] = beehive
	}
	stripeSDK, err := payments.NewStripeSDK(payments.StripeSDKConfig{
		AccountID: cfg.StripeAccountID,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	providers["stripe"] = stripeSDK

	manager, err := payments.NewManager(providers, payments.WithDefaultProvider(cfg.Provider))
	if err != nil {
		return nil, err
	}
	_, sdk, err := manager.SDK(cfg.Provider)
	return sdk, err
}

// tokenizerKey picks the key the selected SDK expects.
func tokenizerKey(cfg config.PaymentConfig) string {
	if cfg.Provider == "stripe" {
		if key := strings.TrimSpace(cfg.StripeAPIKey); key != "" {
			return key
		}
	}
	return strings.TrimSpace(cfg.PublicKey)
}

func newIdempotencyStore(cfg config.IdempotencyConfig) (idempotency.Store, *redis.Client, error) {
	if cfg.Backend != "redis" {
		return idempotency.NewMemoryStore(), nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store, err := idempotency.NewRedisStore(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, client, nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("CHECKOUT_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	fallbackPath := lookup("CHECKOUT_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter(meterName)),
	}
	if projectMap := parseKeyValueList(lookup("CHECKOUT_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		lowered := make(map[string]string, len(projectMap))
		for label, project := range projectMap {
			lowered[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if project := lookup("CHECKOUT_SECRET_DEFAULT_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if pins := secretVersionPins(lookup("CHECKOUT_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if raw := lookup("CHECKOUT_SECRET_CACHE_TTL"); raw != "" {
		if ttl, err := time.ParseDuration(raw); err == nil {
			opts = append(opts, secrets.WithCacheTTL(ttl))
		}
	}
	if credentials := lookup("CHECKOUT_SECRET_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// secretVersionPins parses "[env:]ref=version" entries, normalising refs to secret://.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
