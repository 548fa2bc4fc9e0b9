package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
)

const (
	defaultBacklogGrace = 30 * time.Minute
	backlogScanLimit    = 100
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service. Orders and
// Payouts are optional; without them the report carries no backlog.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Orders           repositories.OrderRepository
	Payouts          repositories.PayoutRepository

	// BacklogGrace is how far past a deadline an order may sit before it counts as overdue.
	BacklogGrace               time.Duration
	DeliveryConfirmationWindow time.Duration
	PayoutStaleAfter           time.Duration

	Clock func() time.Time
	Build BuildInfo
}

type systemService struct {
	healthRepo    repositories.HealthRepository
	orders        repositories.OrderRepository
	payouts       repositories.PayoutRepository
	grace         time.Duration
	confirmWindow time.Duration
	staleAfter    time.Duration
	clock         func() time.Time
	build         BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the health reporting service.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		healthRepo:    deps.HealthRepository,
		orders:        deps.Orders,
		payouts:       deps.Payouts,
		grace:         positiveDuration(deps.BacklogGrace, defaultBacklogGrace),
		confirmWindow: positiveDuration(deps.DeliveryConfirmationWindow, defaultDeliveryConfirmationWindow),
		staleAfter:    positiveDuration(deps.PayoutStaleAfter, defaultPayoutStaleAfter),
		clock:         func() time.Time { return clock().UTC() },
		build:         build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 && !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = deriveStatus(report.Checks)
	}

	// A failing backlog query leaves Backlog nil; readiness is decided by the checks alone.
	if backlog, err := s.backlog(ctx, now); err == nil {
		report.Backlog = backlog
	}
	return report, nil
}

func (s *systemService) backlog(ctx context.Context, now time.Time) (*domain.FulfilmentBacklog, error) {
	if s.orders == nil || s.payouts == nil {
		return nil, errors.New("system service: backlog repositories not configured")
	}

	var backlog domain.FulfilmentBacklog
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		due, err := s.orders.ListDue(gctx, repositories.OrderDueFilter{
			Status: domain.OrderStatusPaid,
			Field:  repositories.DueByCommitDeadline,
			Before: now.Add(-s.grace),
			Limit:  backlogScanLimit,
		})
		backlog.OverdueCommits = len(due)
		return err
	})
	g.Go(func() error {
		due, err := s.orders.ListDue(gctx, repositories.OrderDueFilter{
			Status: domain.OrderStatusDelivered,
			Field:  repositories.DueByDeliveredAt,
			Before: now.Add(-s.confirmWindow - s.grace),
			Limit:  backlogScanLimit,
		})
		backlog.OverdueDeliveries = len(due)
		return err
	})
	g.Go(func() error {
		failed, err := s.payouts.ListByStatus(gctx, domain.PayoutStatusFailed, backlogScanLimit)
		backlog.FailedPayouts = len(failed)
		return err
	})
	g.Go(func() error {
		stale, err := s.payouts.ListStaleProcessing(gctx, now.Add(-s.staleAfter-s.grace), backlogScanLimit)
		backlog.StalePayouts = len(stale)
		return err
	})
	g.Go(func() error {
		due, err := s.orders.ListFollowUps(gctx, repositories.FollowUpRefund, backlogScanLimit)
		backlog.OutstandingRefunds = len(due)
		return err
	})
	g.Go(func() error {
		due, err := s.orders.ListFollowUps(gctx, repositories.FollowUpPayout, backlogScanLimit)
		backlog.UnqueuedPayouts = len(due)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	counts := []int{
		backlog.OverdueCommits, backlog.OverdueDeliveries, backlog.FailedPayouts,
		backlog.StalePayouts, backlog.OutstandingRefunds, backlog.UnqueuedPayouts,
	}
	for _, n := range counts {
		if n >= backlogScanLimit {
			backlog.Truncated = true
		}
	}
	return &backlog, nil
}

func deriveStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
			continue
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
