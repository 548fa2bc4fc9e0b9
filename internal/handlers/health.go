package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService sets the service consulted by /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock, mainly for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the health handlers. Without a system service /readyz reports ok.
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

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	writeJSONResponse(w, http.StatusOK, healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

type readyzCheck struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	CheckedAt string `json:"checked_at,omitempty"`
}

type readyzResponse struct {
	Status      string                 `json:"status"`
	Checks      map[string]readyzCheck `json:"checks"`
	Details     []string               `json:"details,omitempty"`
	Version     string                 `json:"version,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	GeneratedAt string                 `json:"generated_at"`
	Backlog     *readyzBacklog         `json:"backlog,omitempty"`
}

type readyzBacklog struct {
	OverdueCommits     int  `json:"overdue_commits"`
	OverdueDeliveries  int  `json:"overdue_deliveries"`
	FailedPayouts      int  `json:"failed_payouts"`
	StalePayouts       int  `json:"stale_payouts"`
	OutstandingRefunds int  `json:"outstanding_refunds"`
	UnqueuedPayouts    int  `json:"unqueued_payouts"`
	Truncated          bool `json:"truncated,omitempty"`
}

// Readyz reports dependency readiness; anything other than ok yields 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, readyzResponse{
			Status:      domain.HealthStatusOK,
			Checks:      map[string]readyzCheck{},
			GeneratedAt: formatTime(h.clock()),
		})
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, readyzResponse{
			Status:      domain.HealthStatusError,
			Checks:      map[string]readyzCheck{},
			Details:     []string{err.Error()},
			GeneratedAt: formatTime(h.clock()),
		})
		return
	}

	resp := readyzResponse{
		Status:      report.Status,
		Checks:      make(map[string]readyzCheck, len(report.Checks)),
		Version:     report.Version,
		Environment: report.Environment,
		GeneratedAt: formatTime(report.GeneratedAt),
	}
	if b := report.Backlog; b != nil {
		resp.Backlog = &readyzBacklog{
			OverdueCommits:     b.OverdueCommits,
			OverdueDeliveries:  b.OverdueDeliveries,
			FailedPayouts:      b.FailedPayouts,
			StalePayouts:       b.StalePayouts,
			OutstandingRefunds: b.OutstandingRefunds,
			UnqueuedPayouts:    b.UnqueuedPayouts,
			Truncated:          b.Truncated,
		}
	}
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		resp.Checks[name] = readyzCheck{
			Status:    check.Status,
			Detail:    check.Detail,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		}
		if detail := strings.TrimSpace(check.Detail); detail != "" && check.Status != domain.HealthStatusOK {
			resp.Details = append(resp.Details, name+": "+detail)
		}
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}
