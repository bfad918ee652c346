package domain

import "time"

const (
	// HealthStatusOK indicates all dependencies answered.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates a dependency failed but ordering can continue.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a dependency timed out or was cancelled.
	HealthStatusError = "error"
)

// DependencyHealth is the outcome of one readiness probe.
type DependencyHealth struct {
	Status    string        `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Optional  bool          `json:"optional,omitempty"`
	Latency   time.Duration `json:"latencyMs"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// HealthReport aggregates probe results for the readiness endpoint.
type HealthReport struct {
	Status      string                      `json:"status"`
	Checks      map[string]DependencyHealth `json:"checks"`
	GeneratedAt time.Time                   `json:"generatedAt"`
}
