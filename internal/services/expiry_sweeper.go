package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
)

const (
	defaultSweepBatchSize   = 100
	defaultSweepConcurrency = 8
	defaultSweepMaxPages    = 50
)

// ExpirySweeperDeps wires the collaborators of the time-based sweeps.
type ExpirySweeperDeps struct {
	Orders    repositories.OrderRepository
	Lifecycle OrderLifecycleService

	DeliveryConfirmationWindow time.Duration
	BatchSize                  int
	Concurrency                int
	// MaxPages bounds a single sweep; remaining orders are picked up by the next run.
	MaxPages int

	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type expirySweeper struct {
	orders        repositories.OrderRepository
	lifecycle     OrderLifecycleService
	confirmWindow time.Duration
	batchSize     int
	concurrency   int
	maxPages      int
	now           func() time.Time
	logger        func(context.Context, string, map[string]any)
}

var _ ExpirySweeper = (*expirySweeper)(nil)

// NewExpirySweeper constructs the sweeper validating required dependencies.
func NewExpirySweeper(deps ExpirySweeperDeps) (ExpirySweeper, error) {
	if deps.Orders == nil {
		return nil, errors.New("expiry sweeper: order repository is required")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("expiry sweeper: lifecycle service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &expirySweeper{
		orders:        deps.Orders,
		lifecycle:     deps.Lifecycle,
		confirmWindow: positiveDuration(deps.DeliveryConfirmationWindow, defaultDeliveryConfirmationWindow),
		batchSize:     positiveInt(deps.BatchSize, defaultSweepBatchSize),
		concurrency:   positiveInt(deps.Concurrency, defaultSweepConcurrency),
		maxPages:      positiveInt(deps.MaxPages, defaultSweepMaxPages),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Sweep expires paid orders whose commit deadline passed. Orders that a seller committed (or
// another sweep expired) in the meantime lose the conditional update and are counted as skipped.
func (s *expirySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	filter := repositories.OrderDueFilter{
		Status: domain.OrderStatusPaid,
		Field:  repositories.DueByCommitDeadline,
		Before: s.now(),
		Limit:  s.batchSize,
	}
	return s.sweep(ctx, "expiry", s.listDue(filter), s.batchSize, transitionWith(s.lifecycle.Expire))
}

// SweepDeliveryConfirmations completes delivered orders whose confirmation window lapsed.
func (s *expirySweeper) SweepDeliveryConfirmations(ctx context.Context) (SweepResult, error) {
	filter := repositories.OrderDueFilter{
		Status: domain.OrderStatusDelivered,
		Field:  repositories.DueByDeliveredAt,
		Before: s.now().Add(-s.confirmWindow),
		Limit:  s.batchSize,
	}
	return s.sweep(ctx, "delivery_confirmation", s.listDue(filter), s.batchSize, transitionWith(s.lifecycle.CompleteAfterTimeout))
}

// SweepRefunds retries the refunds of unwound orders whose refund failed or was never attempted.
// Orders still failing are rewritten with a later update time and retried on the next run.
func (s *expirySweeper) SweepRefunds(ctx context.Context) (SweepResult, error) {
	list := func(ctx context.Context) ([]Order, error) {
		return s.orders.ListFollowUps(ctx, repositories.FollowUpRefund, s.batchSize)
	}
	return s.sweep(ctx, "refund", list, s.batchSize, func(ctx context.Context, order Order) (bool, error) {
		updated, err := s.lifecycle.RetryRefund(ctx, order.ID)
		return err == nil && updated.Refund != nil && updated.Refund.Status == domain.RefundStatusInitiated, err
	})
}

func (s *expirySweeper) listDue(filter repositories.OrderDueFilter) func(context.Context) ([]Order, error) {
	return func(ctx context.Context) ([]Order, error) {
		return s.orders.ListDue(ctx, filter)
	}
}

// transitionWith counts an order as transitioned when the lifecycle call changed its status.
func transitionWith(fn func(context.Context, string) (Order, error)) func(context.Context, Order) (bool, error) {
	return func(ctx context.Context, order Order) (bool, error) {
		updated, err := fn(ctx, order.ID)
		return err == nil && updated.Status != order.Status, err
	}
}

func (s *expirySweeper) sweep(ctx context.Context, name string, list func(context.Context) ([]Order, error), limit int, apply func(context.Context, Order) (bool, error)) (SweepResult, error) {
	var result SweepResult
	seen := make(map[string]struct{})

	for page := 0; page < s.maxPages; page++ {
		due, err := list(ctx)
		if err != nil {
			return result, mapRepositoryError(err, ErrOrderNotFound)
		}
		var batch []Order
		for _, order := range due {
			if _, ok := seen[order.ID]; ok {
				continue
			}
			seen[order.ID] = struct{}{}
			batch = append(batch, order)
		}
		if len(batch) == 0 {
			break
		}

		pageResult := s.applyBatch(ctx, name, batch, apply)
		result.Scanned += pageResult.Scanned
		result.Transitioned += pageResult.Transitioned
		result.Skipped += pageResult.Skipped
		result.Errors += pageResult.Errors

		if len(due) < limit || ctx.Err() != nil {
			break
		}
	}

	s.logger(ctx, "sweeper.completed", map[string]any{
		"sweep":        name,
		"scanned":      result.Scanned,
		"transitioned": result.Transitioned,
		"skipped":      result.Skipped,
		"errors":       result.Errors,
	})
	return result, ctx.Err()
}

func (s *expirySweeper) applyBatch(ctx context.Context, name string, orders []Order, apply func(context.Context, Order) (bool, error)) SweepResult {
	result := SweepResult{Scanned: len(orders)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, order := range orders {
		order := order
		g.Go(func() error {
			changed, err := apply(gctx, order)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case changed:
				result.Transitioned++
			case err == nil, errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrDeadlinePassed):
				result.Skipped++
			default:
				result.Errors++
				s.logger(gctx, "sweeper.transition_failed", map[string]any{
					"sweep":   name,
					"orderId": order.ID,
					"error":   err.Error(),
				})
			}
			return nil
		})
	}
	_ = g.Wait()
	return result
}
