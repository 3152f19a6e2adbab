package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	healthStatusOK       = "ok"
	healthStatusDegraded = "degraded"
	defaultCheckTimeout  = 2 * time.Second
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	build   BuildInfo
	clock   func() time.Time
	timeout time.Duration
	checks  map[string]ReadinessCheck
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata echoed by both endpoints.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the time source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithReadinessCheck registers a named dependency check for /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandlers) {
		if name != "" && check != nil {
			h.checks[name] = check
		}
	}
}

// WithReadinessTimeout bounds each readiness check.
func WithReadinessTimeout(timeout time.Duration) HealthOption {
	return func(h *HealthHandlers) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// NewHealthHandlers constructs the health endpoints.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock:   time.Now,
		timeout: defaultCheckTimeout,
		checks:  make(map[string]ReadinessCheck),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type checkResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Healthz reports liveness only.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.basePayload(healthStatusOK))
}

// Readyz runs every registered check concurrently and answers 503 when any fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]checkResult, len(h.checks))
	)
	for name, check := range h.checks {
		wg.Add(1)
		go func(name string, check ReadinessCheck) {
			defer wg.Done()
			start := time.Now()
			err := check(ctx)
			result := checkResult{Status: healthStatusOK, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				result.Status = healthStatusDegraded
				result.Error = err.Error()
			}
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := healthStatusOK
	details := make([]string, 0)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if results[name].Status != healthStatusOK {
			status = healthStatusDegraded
			details = append(details, name+": "+results[name].Error)
		}
	}

	payload := h.basePayload(status)
	payload["checks"] = results
	payload["details"] = details

	code := http.StatusOK
	if status != healthStatusOK {
		code = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, code, payload)
}

func (h *HealthHandlers) basePayload(status string) map[string]any {
	now := h.clock().UTC()
	payload := map[string]any{
		"status":    status,
		"uptime":    now.Sub(h.build.StartedAt).String(),
		"timestamp": now.Format(time.RFC3339),
	}
	if h.build.Version != "" {
		payload["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		payload["commitSha"] = h.build.CommitSHA
	}
	if h.build.Environment != "" {
		payload["environment"] = h.build.Environment
	}
	return payload
}
