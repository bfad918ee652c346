package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/platform/httpx"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  BuildInfo
	health repositories.HealthRepository
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthRepository sets the dependency probes run by /readyz.
func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.health = repo
	}
}

// WithHealthClock overrides the clock.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
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

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      domain.HealthStatusOK,
		"version":     h.build.Version,
		"commitSha":   h.build.CommitSHA,
		"environment": h.build.Environment,
		"uptime":      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		"timestamp":   now.Format(time.RFC3339),
	})
}

// Readyz probes dependencies. Only failing required dependencies make the instance unready; an
// unreachable notification channel still lets orders reach the ledger.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.health == nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status":      domain.HealthStatusOK,
			"checks":      map[string]domain.DependencyHealth{},
			"generatedAt": h.clock().UTC().Format(time.RFC3339),
		})
		return
	}

	report, err := h.health.Collect(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_unavailable", "unable to collect health report", http.StatusServiceUnavailable))
		return
	}

	status := http.StatusOK
	details := make([]string, 0)
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		if check.Status == domain.HealthStatusOK {
			continue
		}
		details = append(details, name+": "+check.Detail)
		if !check.Optional {
			status = http.StatusServiceUnavailable
		}
	}

	httpx.WriteJSON(w, status, map[string]any{
		"status":      report.Status,
		"checks":      report.Checks,
		"details":     details,
		"generatedAt": report.GeneratedAt.UTC().Format(time.RFC3339),
	})
}
