package domain

import "time"

const (
	// HealthStatusOK indicates the dependency responded in time.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates the dependency answered with an error.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the dependency timed out or the check was cancelled.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for readiness endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
	// Backlog is informational and never changes Status.
	Backlog *FulfilmentBacklog
}

// FulfilmentBacklog counts work the background loops have not caught up with. Counts stop at
// the scan limit; Truncated marks a capped count.
type FulfilmentBacklog struct {
	OverdueCommits     int
	OverdueDeliveries  int
	FailedPayouts      int
	StalePayouts       int
	// OutstandingRefunds and UnqueuedPayouts are orders still flagged for a follow-up.
	OutstandingRefunds int
	UnqueuedPayouts    int
	Truncated          bool
}
