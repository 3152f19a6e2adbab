// Package config loads checkout service settings from the environment, an optional .env file and
// Secret Manager references.
package config

import (
	"context"
	"fmt"
	"os"
	"time"
)

const (
	defaultEnvFile           = ".env"
	defaultPollInterval      = 5 * time.Second
	defaultAddressLookupURL  = "https://viacep.com.br/ws"
	defaultIdempotencyHeader = "Idempotency-Key"
	defaultEventsTopic       = "checkout-events"
)

type Config struct {
	Server        ServerConfig
	Gateway       GatewayConfig
	Payment       PaymentConfig
	AddressLookup AddressLookupConfig
	Catalog       CatalogConfig
	Sessions      SessionConfig
	Idempotency   IdempotencyConfig
	Events        EventsConfig
	Security      SecurityConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// GatewayConfig points at the checkout submission and payment status endpoints.
type GatewayConfig struct {
	CheckoutURL  string
	StatusURL    string
	Timeout      time.Duration
	PollInterval time.Duration
}

// PaymentConfig selects the card SDK ("beehive" or "stripe") and carries its credentials.
type PaymentConfig struct {
	Provider            string
	PublicKey           string
	TestMode            bool
	TokenizationURL     string
	TokenizationTimeout time.Duration
	StripeAPIKey        string
	StripeAccountID     string
}

// AddressLookupConfig configures the CEP lookup used to prefill addresses.
type AddressLookupConfig struct {
	Enabled bool
	BaseURL string
	Timeout time.Duration
}

// CatalogConfig locates the YAML catalog. Empty means the built-in catalog.
type CatalogConfig struct {
	File string
}

type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// IdempotencyConfig controls submit deduplication. Backend is "memory" or "redis".
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	Backend          string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
}

// EventsConfig configures Pub/Sub publishing of checkout events; off when ProjectID is empty.
type EventsConfig struct {
	ProjectID string
	Topic     string
}

type SecurityConfig struct {
	Environment string
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile        string
	envMap         map[string]string
	useSystemEnv   bool
	resolver       SecretResolver
	required       []string
	panicOnMissing bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true, resolver: unconfiguredResolver()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile overrides the .env path. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.resolver = resolver }
}

// WithRequiredSecrets names secret fields (for example PaymentPublicKeySecret) that must resolve
// to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.required = append(o.required, names...) }
}

// WithPanicOnMissingSecrets makes Load panic with *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissing = true }
}

// Load reads the configuration, resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	env, err := newSource(o)
	if err != nil {
		return Config{}, err
	}

	cfg := fromSource(env)
	resolved, err := resolveSecrets(ctx, &cfg, o.resolver)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(o.required, resolved); missing != nil {
		if o.panicOnMissing {
			fmt.Fprintf(os.Stderr, "config: %v\n", missing)
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func fromSource(env source) Config {
	return Config{
		Server: ServerConfig{
			Port:            env.str("CHECKOUT_SERVER_PORT", "8080"),
			ReadTimeout:     env.duration("CHECKOUT_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    env.duration("CHECKOUT_SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     env.duration("CHECKOUT_SERVER_IDLE_TIMEOUT", 2*time.Minute),
			ShutdownTimeout: env.duration("CHECKOUT_SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Gateway: GatewayConfig{
			CheckoutURL:  env.str("CHECKOUT_GATEWAY_CHECKOUT_URL", ""),
			StatusURL:    env.str("CHECKOUT_GATEWAY_STATUS_URL", ""),
			Timeout:      env.duration("CHECKOUT_GATEWAY_TIMEOUT", 30*time.Second),
			PollInterval: env.duration("CHECKOUT_GATEWAY_POLL_INTERVAL", defaultPollInterval),
		},
		Payment: PaymentConfig{
			Provider:            env.lower("CHECKOUT_PAYMENT_PROVIDER", "beehive"),
			PublicKey:           env.str("CHECKOUT_PAYMENT_PUBLIC_KEY", ""),
			TestMode:            env.boolean("CHECKOUT_PAYMENT_TEST_MODE", false),
			TokenizationURL:     env.str("CHECKOUT_PAYMENT_TOKENIZATION_URL", ""),
			TokenizationTimeout: env.duration("CHECKOUT_PAYMENT_TOKENIZATION_TIMEOUT", 15*time.Second),
			StripeAPIKey:        env.str("CHECKOUT_PAYMENT_STRIPE_API_KEY", ""),
			StripeAccountID:     env.str("CHECKOUT_PAYMENT_STRIPE_ACCOUNT_ID", ""),
		},
		AddressLookup: AddressLookupConfig{
			Enabled: env.boolean("CHECKOUT_ADDRESS_LOOKUP_ENABLED", true),
			BaseURL: env.str("CHECKOUT_ADDRESS_LOOKUP_URL", defaultAddressLookupURL),
			Timeout: env.duration("CHECKOUT_ADDRESS_LOOKUP_TIMEOUT", 5*time.Second),
		},
		Catalog: CatalogConfig{
			File: env.str("CHECKOUT_CATALOG_FILE", ""),
		},
		Sessions: SessionConfig{
			TTL:           env.duration("CHECKOUT_SESSION_TTL", 2*time.Hour),
			SweepInterval: env.duration("CHECKOUT_SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("CHECKOUT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("CHECKOUT_IDEMPOTENCY_TTL", 24*time.Hour),
			CleanupInterval:  env.duration("CHECKOUT_IDEMPOTENCY_CLEANUP_INTERVAL", time.Hour),
			CleanupBatchSize: env.integer("CHECKOUT_IDEMPOTENCY_CLEANUP_BATCH", 200),
			Backend:          env.lower("CHECKOUT_IDEMPOTENCY_BACKEND", "memory"),
			RedisAddr:        env.str("CHECKOUT_IDEMPOTENCY_REDIS_ADDR", ""),
			RedisPassword:    env.str("CHECKOUT_IDEMPOTENCY_REDIS_PASSWORD", ""),
			RedisDB:          env.integer("CHECKOUT_IDEMPOTENCY_REDIS_DB", 0),
		},
		Events: EventsConfig{
			ProjectID: env.str("CHECKOUT_EVENTS_PROJECT_ID", ""),
			Topic:     env.str("CHECKOUT_EVENTS_TOPIC", defaultEventsTopic),
		},
		Security: SecurityConfig{
			Environment: env.lower("CHECKOUT_SECURITY_ENVIRONMENT", "local"),
		},
	}
}
