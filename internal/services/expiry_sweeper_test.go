package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/payments"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories/memory"
)

type stubLifecycle struct {
	OrderLifecycleService
	expireFunc   func(ctx context.Context, orderID string) (Order, error)
	completeFunc func(ctx context.Context, orderID string) (Order, error)
}

func (s *stubLifecycle) Expire(ctx context.Context, orderID string) (Order, error) {
	return s.expireFunc(ctx, orderID)
}

func (s *stubLifecycle) CompleteAfterTimeout(ctx context.Context, orderID string) (Order, error) {
	return s.completeFunc(ctx, orderID)
}

func TestExpirySweeperExpiresOverdueOrders(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(paidOrder("ord_s1", t0))
	store.PutOrder(paidOrder("ord_s2", t0.Add(-time.Hour)))
	store.PutOrder(paidOrder("ord_s3", t0.Add(time.Hour)))
	committed := paidOrder("ord_s4", t0.Add(-time.Hour))
	committed.Status = domain.OrderStatusCommitted
	store.PutOrder(committed)

	clock := newManualClock(t0.Add(48*time.Hour + time.Minute))
	gateway := &stubPaymentGateway{}
	lifecycle := newLifecycle(t, store, clock, gateway, nil)
	sweeper, err := NewExpirySweeper(ExpirySweeperDeps{
		Orders:    store.Orders(),
		Lifecycle: lifecycle,
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("NewExpirySweeper: %v", err)
	}

	result, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Scanned != 2 || result.Transitioned != 2 || result.Errors != 0 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	for id, want := range map[string]domain.OrderStatus{
		"ord_s1": domain.OrderStatusExpired,
		"ord_s2": domain.OrderStatusExpired,
		"ord_s3": domain.OrderStatusPaid,
		"ord_s4": domain.OrderStatusCommitted,
	} {
		order, _ := store.Orders().FindByID(context.Background(), id)
		if order.Status != want {
			t.Fatalf("%s: expected %s, got %s", id, want, order.Status)
		}
	}
	if len(gateway.refundRequests()) != 2 {
		t.Fatalf("expected a refund per expired order, got %d", len(gateway.refundRequests()))
	}

	again, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if again.Scanned != 0 {
		t.Fatalf("expected nothing left to sweep, got %+v", again)
	}
}

func TestExpirySweeperCountsRacesAsSkipped(t *testing.T) {
	store := memory.NewStore()
	for i := 0; i < 3; i++ {
		store.PutOrder(paidOrder(fmt.Sprintf("ord_k%d", i), t0))
	}
	lifecycle := &stubLifecycle{
		expireFunc: func(_ context.Context, orderID string) (Order, error) {
			switch orderID {
			case "ord_k0":
				return Order{ID: orderID, Status: domain.OrderStatusCommitted}, fmt.Errorf("%w: committed meanwhile", ErrInvalidTransition)
			case "ord_k1":
				return Order{}, errors.New("firestore unavailable")
			default:
				return Order{ID: orderID, Status: domain.OrderStatusExpired}, nil
			}
		},
	}
	sweeper, err := NewExpirySweeper(ExpirySweeperDeps{
		Orders:    store.Orders(),
		Lifecycle: lifecycle,
		Clock:     func() time.Time { return t0.Add(72 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewExpirySweeper: %v", err)
	}
	result, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Transitioned != 1 || result.Skipped != 1 || result.Errors != 1 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
}

func TestExpirySweeperPagesThroughBacklog(t *testing.T) {
	store := memory.NewStore()
	for i := 0; i < 7; i++ {
		store.PutOrder(paidOrder(fmt.Sprintf("ord_b%02d", i), t0.Add(time.Duration(i)*time.Minute)))
	}
	clock := newManualClock(t0.Add(60 * time.Hour))
	lifecycle := newLifecycle(t, store, clock, &stubPaymentGateway{}, nil)
	sweeper, err := NewExpirySweeper(ExpirySweeperDeps{
		Orders:    store.Orders(),
		Lifecycle: lifecycle,
		BatchSize: 3,
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("NewExpirySweeper: %v", err)
	}
	result, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Transitioned != 7 {
		t.Fatalf("expected the whole backlog expired, got %+v", result)
	}
}

func TestExpirySweeperCompletesDeliveredOrders(t *testing.T) {
	store := memory.NewStore()
	overdue := paidOrder("ord_c1", t0)
	overdue.Status = domain.OrderStatusDelivered
	deliveredAt := t0.Add(24 * time.Hour)
	overdue.DeliveredAt = &deliveredAt
	store.PutOrder(overdue)

	recent := paidOrder("ord_c2", t0)
	recent.Status = domain.OrderStatusDelivered
	recentAt := t0.Add(90 * time.Hour)
	recent.DeliveredAt = &recentAt
	store.PutOrder(recent)

	clock := newManualClock(t0.Add(100 * time.Hour))
	enqueuer := &recordingEnqueuer{}
	lifecycle := newLifecycle(t, store, clock, &stubPaymentGateway{}, func(deps *OrderLifecycleServiceDeps) {
		deps.Payouts = enqueuer
	})
	sweeper, err := NewExpirySweeper(ExpirySweeperDeps{
		Orders:    store.Orders(),
		Lifecycle: lifecycle,
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("NewExpirySweeper: %v", err)
	}

	result, err := sweeper.SweepDeliveryConfirmations(context.Background())
	if err != nil {
		t.Fatalf("SweepDeliveryConfirmations: %v", err)
	}
	if result.Transitioned != 1 {
		t.Fatalf("expected one completion, got %+v", result)
	}
	if order, _ := store.Orders().FindByID(context.Background(), "ord_c2"); order.Status != domain.OrderStatusDelivered {
		t.Fatalf("recent delivery must stay delivered, got %s", order.Status)
	}
	if len(enqueuer.orders) != 1 || enqueuer.orders[0].ID != "ord_c1" {
		t.Fatalf("expected payout enqueued for auto-completed order, got %+v", enqueuer.orders)
	}
}

func TestExpirySweeperRetriesFailedRefunds(t *testing.T) {
	store := memory.NewStore()
	failed := paidOrder("ord_r1", t0)
	failed.Status = domain.OrderStatusCancelled
	failed.RefundDue = true
	failed.Refund = &domain.RefundRecord{Reference: "refund_ord_r1", Status: domain.RefundStatusFailed, Amount: failed.Amount, Attempts: 1}
	store.PutOrder(failed)
	unattempted := paidOrder("ord_r2", t0)
	unattempted.Status = domain.OrderStatusExpired
	unattempted.RefundDue = true
	store.PutOrder(unattempted)
	store.PutOrder(paidOrder("ord_r3", t0))

	gatewayDown := true
	gateway := &stubPaymentGateway{
		refundFunc: func(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
			if gatewayDown && req.Reference == "refund_ord_r2" {
				return payments.RefundResult{}, errors.New("stripe unavailable")
			}
			return payments.RefundResult{ID: "re_" + req.Reference, Status: payments.StatusPending}, nil
		},
	}
	clock := newManualClock(t0.Add(50 * time.Hour))
	lifecycle := newLifecycle(t, store, clock, gateway, nil)
	sweeper, err := NewExpirySweeper(ExpirySweeperDeps{Orders: store.Orders(), Lifecycle: lifecycle, Clock: clock.Now})
	if err != nil {
		t.Fatalf("NewExpirySweeper: %v", err)
	}
	ctx := context.Background()

	result, err := sweeper.SweepRefunds(ctx)
	if err != nil {
		t.Fatalf("SweepRefunds: %v", err)
	}
	if result.Scanned != 2 || result.Transitioned != 1 || result.Errors != 1 {
		t.Fatalf("unexpected first refund sweep %+v", result)
	}
	refunded, _ := store.Orders().FindByID(ctx, "ord_r1")
	if refunded.RefundDue || refunded.Refund.Status != domain.RefundStatusInitiated || refunded.Refund.Attempts != 2 {
		t.Fatalf("expected ord_r1 refunded on retry, got due=%v refund=%+v", refunded.RefundDue, refunded.Refund)
	}

	gatewayDown = false
	clock.Advance(15 * time.Minute)
	result, err = sweeper.SweepRefunds(ctx)
	if err != nil {
		t.Fatalf("second SweepRefunds: %v", err)
	}
	if result.Scanned != 1 || result.Transitioned != 1 {
		t.Fatalf("unexpected second refund sweep %+v", result)
	}
	recovered, _ := store.Orders().FindByID(ctx, "ord_r2")
	if recovered.RefundDue || recovered.Refund.Status != domain.RefundStatusInitiated || recovered.Refund.Attempts != 2 {
		t.Fatalf("expected ord_r2 refunded, got due=%v refund=%+v", recovered.RefundDue, recovered.Refund)
	}

	result, err = sweeper.SweepRefunds(ctx)
	if err != nil || result.Scanned != 0 {
		t.Fatalf("expected no refunds left, got %+v %v", result, err)
	}
}
