// Package secrets resolves secret:// references for the checkout configuration. Values come from
// Google Secret Manager and, when it cannot be reached, from a local fallback file.
package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
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
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	environmentVar      = "CHECKOUT_SECURITY_ENVIRONMENT"
	meterScope          = "github.com/jfbeehive/swift-checkout/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references. Resolved values are cached; with a TTL set a rotated
// payment key is picked up without a restart.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	clientOpts []option.ClientOption

	logger   *zap.Logger
	clock    func() time.Time
	meter    metric.Meter
	env      string
	project  string
	projects map[string]string
	pins     map[string]string
	ttl      time.Duration
	fallback *fallbackFile

	mu      sync.RWMutex
	entries map[string]cached
	flight  singleflight.Group

	latency metric.Float64Histogram
	hits    metric.Int64Counter
}

type cached struct {
	value     string
	canonical string
	storedAt  time.Time
}

// Option customises a Fetcher.
type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment selects which entry of the project map applies.
func WithEnvironment(env string) Option {
	return func(f *Fetcher) {
		if env = strings.ToLower(strings.TrimSpace(env)); env != "" {
			f.env = env
		}
	}
}

// WithDefaultProject is used when neither the reference nor the project map names a project.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) {
		f.project = strings.TrimSpace(projectID)
	}
}

// WithProjectMap maps environment names to Secret Manager project ids.
func WithProjectMap(projects map[string]string) Option {
	return func(f *Fetcher) {
		f.projects = trimmedCopy(projects)
	}
}

func WithFallbackFile(path string) Option {
	return func(f *Fetcher) {
		f.fallback = &fallbackFile{path: strings.TrimSpace(path)}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(f *Fetcher) {
		f.meter = m
	}
}

// WithSecretManagerClient injects a client; the Fetcher does not close it.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) {
		f.clientOpts = append(f.clientOpts, opts...)
	}
}

// WithVersionPins pins versions by canonical reference, optionally prefixed with "env:".
func WithVersionPins(pins map[string]string) Option {
	return func(f *Fetcher) {
		f.pins = trimmedCopy(pins)
	}
}

// WithCacheTTL bounds how long a value is served from cache. Zero caches forever.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl >= 0 {
			f.ttl = ttl
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(f *Fetcher) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is not an error:
// the Fetcher then serves the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:   zap.NewNop(),
		clock:    time.Now,
		env:      strings.ToLower(strings.TrimSpace(os.Getenv(environmentVar))),
		projects: map[string]string{},
		pins:     map[string]string{},
		fallback: &fallbackFile{path: defaultFallbackPath},
		entries:  make(map[string]cached),
	}
	if f.env == "" {
		f.env = defaultEnvironment
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.registerMetrics()

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, f.clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable, serving fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

func (f *Fetcher) registerMetrics() {
	meter := f.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterScope)
	}
	var err error
	if f.latency, err = meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	); err != nil {
		f.logger.Warn("register secrets latency metric", zap.Error(err))
		f.latency = nil
	}
	if f.hits, err = meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from cache"),
	); err != nil {
		f.logger.Warn("register secrets cache metric", zap.Error(err))
		f.hits = nil
	}
}

// Close releases the Secret Manager client when the Fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind ref. Concurrent misses for the same secret share one fetch.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	started := f.clock()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	version := f.version(parsed)
	key := parsed.versioned(version)

	if value, ok := f.cachedValue(key); ok {
		if f.hits != nil {
			f.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", maskReference(parsed.canonical))))
		}
		f.observe(ctx, started, "cache", false)
		return value, nil
	}

	result, err, _ := f.flight.Do(key, func() (any, error) {
		value, source, err := f.load(ctx, parsed, version)
		if err != nil {
			f.observe(ctx, started, "error", true)
			return "", err
		}
		f.remember(key, parsed.canonical, value)
		f.observe(ctx, started, source, false)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops every cached version of ref.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, entry := range f.entries {
		if entry.canonical == parsed.canonical {
			delete(f.entries, key)
		}
	}
}

func (f *Fetcher) load(ctx context.Context, ref reference, version string) (string, string, error) {
	if project := f.projectFor(ref); project != "" && f.client != nil {
		value, err := f.access(ctx, ref.resource(project, version))
		if err == nil {
			return value, "remote", nil
		}
		if !degraded(err) {
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secret manager degraded, using fallback file",
			zap.String("secret", maskReference(ref.canonical)), zap.Error(err))
	}

	value, ok, err := f.fallback.lookup(ref, version)
	if err != nil {
		f.logger.Debug("fallback file unreadable", zap.Error(err))
	}
	if !ok {
		return "", "", fmt.Errorf("secrets: no fallback value for %s", ref.canonical)
	}
	return value, "fallback", nil
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", resource)
	}
	// Keys pasted into Secret Manager often carry a trailing newline.
	return strings.TrimSpace(string(resp.GetPayload().GetData())), nil
}

func (f *Fetcher) cachedValue(key string) (string, bool) {
	f.mu.RLock()
	entry, ok := f.entries[key]
	f.mu.RUnlock()
	if !ok || (f.ttl > 0 && f.clock().Sub(entry.storedAt) >= f.ttl) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) remember(key, canonical, value string) {
	f.mu.Lock()
	f.entries[key] = cached{value: value, canonical: canonical, storedAt: f.clock()}
	f.mu.Unlock()
}

func (f *Fetcher) observe(ctx context.Context, started time.Time, source string, failed bool) {
	if f.latency == nil {
		return
	}
	elapsed := float64(f.clock().Sub(started)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("error", failed),
	))
}

func (f *Fetcher) projectFor(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if project := f.projects[f.env]; project != "" {
		return project
	}
	return f.project
}

// version picks the explicit version, then an environment pin, then a global pin.
func (f *Fetcher) version(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	for _, key := range []string{f.env + ":" + ref.canonical, ref.canonical} {
		if pin := f.pins[key]; pin != "" {
			return pin
		}
	}
	return latestVersion
}

// degraded reports Secret Manager failures that justify serving the fallback file. NotFound is
// not one of them.
func degraded(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func maskReference(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

func trimmedCopy(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		if v = strings.TrimSpace(v); v != "" {
			dst[strings.TrimSpace(k)] = v
		}
	}
	return dst
}
