package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type healthBody struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Version     string `json:"version"`
	CommitSHA   string `json:"commitSha"`
	Environment string `json:"environment"`
	Checks      map[string]struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"checks"`
	Details []string `json:"details"`
}

func callHealth(t *testing.T, handler http.HandlerFunc, path string) (int, healthBody) {
	t.Helper()
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body healthBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func passing(context.Context) error { return nil }

func TestHealthzReportsBuildAndUptime(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "2.3.1", CommitSHA: "f00dcafe", Environment: "staging", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(90 * time.Second) }),
	)

	code, body := callHealth(t, h.Healthz, "/healthz")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, healthStatusOK, body.Status)
	assert.Equal(t, "1m30s", body.Uptime)
	assert.Equal(t, "2.3.1", body.Version)
	assert.Equal(t, "f00dcafe", body.CommitSHA)
	assert.Equal(t, "staging", body.Environment)
}

func TestReadyz(t *testing.T) {
	cases := []struct {
		name    string
		opts    []HealthOption
		code    int
		status  string
		details []string
	}{
		{
			name:   "all checks pass",
			opts:   []HealthOption{WithReadinessCheck("sessions", passing), WithReadinessCheck("payment_key", passing)},
			code:   http.StatusOK,
			status: healthStatusOK,
		},
		{
			name: "one dependency down",
			opts: []HealthOption{
				WithReadinessCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
				WithReadinessCheck("sessions", passing),
			},
			code:    http.StatusServiceUnavailable,
			status:  healthStatusDegraded,
			details: []string{"redis: connection refused"},
		},
		{
			name: "hung check times out",
			opts: []HealthOption{
				WithReadinessTimeout(10 * time.Millisecond),
				WithReadinessCheck("gateway", func(ctx context.Context) error {
					<-ctx.Done()
					return ctx.Err()
				}),
			},
			code:   http.StatusServiceUnavailable,
			status: healthStatusDegraded,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := callHealth(t, NewHealthHandlers(tc.opts...).Readyz, "/readyz")

			assert.Equal(t, tc.code, code)
			assert.Equal(t, tc.status, body.Status)
			if tc.details != nil {
				assert.Equal(t, tc.details, body.Details)
			}
			if tc.code == http.StatusOK {
				assert.Empty(t, body.Details)
				for name, check := range body.Checks {
					assert.Equal(t, healthStatusOK, check.Status, name)
				}
			}
		})
	}
}
