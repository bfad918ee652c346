package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != domain.HealthStatusOK || body["version"] != "1.0.0" || body["commitSha"] != "abc123" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	cases := []struct {
		name    string
		checks  map[string]domain.DependencyHealth
		status  int
		details []string
	}{
		{
			name:   "all ok",
			checks: map[string]domain.DependencyHealth{"redis": {Status: domain.HealthStatusOK}},
			status: http.StatusOK,
		},
		{
			name: "optional notifier down",
			checks: map[string]domain.DependencyHealth{
				"redis":  {Status: domain.HealthStatusOK},
				"pubsub": {Status: domain.HealthStatusDegraded, Detail: "publish failed", Optional: true},
			},
			status:  http.StatusOK,
			details: []string{"pubsub: publish failed"},
		},
		{
			name: "required store down",
			checks: map[string]domain.DependencyHealth{
				"redis": {Status: domain.HealthStatusError, Detail: "timeout"},
			},
			status:  http.StatusServiceUnavailable,
			details: []string{"redis: timeout"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubHealthRepository{report: domain.HealthReport{Status: domain.HealthStatusOK, Checks: tc.checks, GeneratedAt: now}}
			handlers := NewHealthHandlers(WithHealthRepository(repo), WithHealthClock(func() time.Time { return now }))

			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body struct {
				Details []string `json:"details"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if len(body.Details) != len(tc.details) {
				t.Fatalf("expected details %v, got %v", tc.details, body.Details)
			}
			for i := range tc.details {
				if body.Details[i] != tc.details[i] {
					t.Fatalf("expected details %v, got %v", tc.details, body.Details)
				}
			}
		})
	}
}

func TestHealthHandlersReadyzCollectError(t *testing.T) {
	handlers := NewHealthHandlers(WithHealthRepository(&stubHealthRepository{err: errors.New("boom")}))
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
