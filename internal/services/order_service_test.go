package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/payments"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories/memory"
)

// interceptingOrderRepository runs beforeUpdate once ahead of the first conditional write.
type interceptingOrderRepository struct {
	repositories.OrderRepository
	once         sync.Once
	beforeUpdate func()
}

func (r *interceptingOrderRepository) UpdateIfStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error) {
	if r.beforeUpdate != nil {
		r.once.Do(r.beforeUpdate)
	}
	return r.OrderRepository.UpdateIfStatus(ctx, order, expected)
}

var t0 = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func pendingOrder(id string) Order {
	order := paidOrder(id, t0)
	order.Status = domain.OrderStatusPending
	order.CommitDeadline = nil
	order.PaidAt = nil
	return order
}

func TestOrderLifecycleConfirmPaymentThenCommit(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(pendingOrder("ord_a"))
	clock := newManualClock(t0)
	gateway := &stubPaymentGateway{}
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}
	svc := newLifecycle(t, store, clock, gateway, func(deps *OrderLifecycleServiceDeps) {
		deps.Notifier = notifier
		deps.Events = publisher
	})

	orders, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{PaymentReference: "pi_ord_a"})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	paid := orders[0]
	if paid.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", paid.Status)
	}
	if paid.CommitDeadline == nil || !paid.CommitDeadline.Equal(t0.Add(48*time.Hour)) {
		t.Fatalf("expected deadline T0+48h, got %v", paid.CommitDeadline)
	}

	clock.Set(t0.Add(47 * time.Hour))
	committed, err := svc.Commit(context.Background(), OrderActionCommand{
		OrderID: "ord_a",
		Actor:   Actor{ID: "seller-1", Kind: ActorSeller},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if committed.Status != domain.OrderStatusCommitted || !committed.SellerCommitted {
		t.Fatalf("expected committed order, got %+v", committed)
	}
	if available, ok := store.ListingAvailable("listing-ord_a"); !ok || available {
		t.Fatalf("expected listing marked unavailable, got available=%v present=%v", available, ok)
	}
	if len(gateway.refundRequests()) != 0 {
		t.Fatalf("commit must not refund")
	}
	if len(publisher.events) != 2 || publisher.events[1].CurrentStatus != domain.OrderStatusCommitted {
		t.Fatalf("expected two status events, got %+v", publisher.events)
	}
	if got := notifier.templates(); !containsString(got, TemplateOrderPaidSeller) || !containsString(got, TemplateOrderCommittedBuyer) {
		t.Fatalf("expected paid and committed notifications, got %v", got)
	}
}

func TestOrderLifecycleConfirmPaymentIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(pendingOrder("ord_a"))
	clock := newManualClock(t0)
	gateway := &stubPaymentGateway{}
	svc := newLifecycle(t, store, clock, gateway, nil)

	if _, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{PaymentReference: "pi_ord_a"}); err != nil {
		t.Fatalf("first ConfirmPayment: %v", err)
	}
	clock.Advance(time.Hour)
	orders, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{PaymentReference: "pi_ord_a"})
	if err != nil {
		t.Fatalf("second ConfirmPayment: %v", err)
	}
	if gateway.verifies != 1 {
		t.Fatalf("expected single gateway verification, got %d", gateway.verifies)
	}
	if !orders[0].CommitDeadline.Equal(t0.Add(48 * time.Hour)) {
		t.Fatalf("replay must not move the deadline, got %v", orders[0].CommitDeadline)
	}
}

func TestOrderLifecycleConfirmPaymentRejectsUnsettledPayment(t *testing.T) {
	cases := map[string]struct {
		verification payments.PaymentVerification
		err          error
		want         error
	}{
		"pending":  {verification: payments.PaymentVerification{Status: payments.StatusPending, Amount: 21900}, want: ErrValidation},
		"short":    {verification: payments.PaymentVerification{Status: payments.StatusSucceeded, Amount: 100}, want: ErrValidation},
		"unknown":  {err: payments.ErrPaymentNotFound, want: ErrValidation},
		"upstream": {err: errors.New("connection reset"), want: ErrUpstreamUnavailable},
	}
	for name, tc := range cases {
		store := memory.NewStore()
		store.PutOrder(pendingOrder("ord_a"))
		gateway := &stubPaymentGateway{
			verifyFunc: func(context.Context, string) (payments.PaymentVerification, error) {
				return tc.verification, tc.err
			},
		}
		svc := newLifecycle(t, store, newManualClock(t0), gateway, nil)
		if _, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{PaymentReference: "pi_ord_a"}); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
		order, _ := store.Orders().FindByID(context.Background(), "ord_a")
		if order.Status != domain.OrderStatusPending {
			t.Fatalf("%s: order must stay pending, got %s", name, order.Status)
		}
	}
}

func TestOrderLifecycleExpiryRefundsAndRejectsLateCommit(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(paidOrder("ord_b", t0))
	clock := newManualClock(t0.Add(48*time.Hour + time.Minute))
	gateway := &stubPaymentGateway{}
	notifier := &recordingNotifier{}
	svc := newLifecycle(t, store, clock, gateway, func(deps *OrderLifecycleServiceDeps) {
		deps.Notifier = notifier
	})

	expired, err := svc.Expire(context.Background(), "ord_b")
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if expired.Status != domain.OrderStatusExpired {
		t.Fatalf("expected expired, got %s", expired.Status)
	}
	refunds := gateway.refundRequests()
	if len(refunds) != 1 || refunds[0].Amount != 21900 || refunds[0].PaymentReference != "pi_ord_b" {
		t.Fatalf("expected full refund of the order, got %+v", refunds)
	}
	stored, _ := store.Orders().FindByID(context.Background(), "ord_b")
	if stored.Refund == nil || stored.Refund.Status != domain.RefundStatusInitiated {
		t.Fatalf("expected refund recorded on order, got %+v", stored.Refund)
	}
	if available, _ := store.ListingAvailable("listing-ord_b"); !available {
		t.Fatalf("expected listing released")
	}
	if got := notifier.templates(); !containsString(got, TemplateOrderExpiredBuyer) || !containsString(got, TemplateOrderExpiredSeller) {
		t.Fatalf("expected expiry notifications for both parties, got %v", got)
	}

	_, err = svc.Commit(context.Background(), OrderActionCommand{OrderID: "ord_b", Actor: Actor{ID: "seller-1", Kind: ActorSeller}})
	if !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("expected ErrDeadlinePassed, got %v", err)
	}
}

func TestOrderLifecycleExpireBeforeDeadlineIsRejected(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(paidOrder("ord_b", t0))
	svc := newLifecycle(t, store, newManualClock(t0.Add(48*time.Hour-time.Second)), &stubPaymentGateway{}, nil)
	if _, err := svc.Expire(context.Background(), "ord_b"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before the deadline, got %v", err)
	}
}

func TestOrderLifecycleExpireAtDeadline(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(paidOrder("ord_b", t0))
	svc := newLifecycle(t, store, newManualClock(t0.Add(48*time.Hour)), &stubPaymentGateway{}, nil)
	expired, err := svc.Expire(context.Background(), "ord_b")
	if err != nil {
		t.Fatalf("expected expiry at the exact deadline, got %v", err)
	}
	if expired.Status != domain.OrderStatusExpired {
		t.Fatalf("expected expired, got %s", expired.Status)
	}
}

func TestOrderLifecycleCommitAtDeadlineIsRejected(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(paidOrder("ord_b", t0))
	svc := newLifecycle(t, store, newManualClock(t0.Add(48*time.Hour)), &stubPaymentGateway{}, nil)
	_, err := svc.Commit(context.Background(), OrderActionCommand{OrderID: "ord_b", Actor: Actor{ID: "seller-1", Kind: ActorSeller}})
	if !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("expected ErrDeadlinePassed, got %v", err)
	}
}

func TestOrderLifecycleCommitLosesRaceToExpiry(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(paidOrder("ord_c", t0))
	clock := newManualClock(t0.Add(48*time.Hour - time.Second))
	repo := &interceptingOrderRepository{OrderRepository: store.Orders()}
	repo.beforeUpdate = func() {
		raced := paidOrder("ord_c", t0)
		raced.Status = domain.OrderStatusExpired
		store.PutOrder(raced)
	}
	svc := newLifecycle(t, store, clock, &stubPaymentGateway{}, func(deps *OrderLifecycleServiceDeps) {
		deps.Orders = repo
	})

	order, err := svc.Commit(context.Background(), OrderActionCommand{OrderID: "ord_c", Actor: Actor{ID: "seller-1", Kind: ActorSeller}})
	if !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("expected ErrDeadlinePassed after losing the race, got %v", err)
	}
	if order.Status != domain.OrderStatusExpired {
		t.Fatalf("expected actual expired state returned, got %s", order.Status)
	}
}

func TestOrderLifecycleConcurrentCommitAndExpireHaveOneWinner(t *testing.T) {
	for i := 0; i < 20; i++ {
		store := memory.NewStore()
		store.PutOrder(paidOrder("ord_r", t0))
		gateway := &stubPaymentGateway{}
		clock := newManualClock(t0.Add(47 * time.Hour))
		committer := newLifecycle(t, store, clock, gateway, nil)
		expirer := newLifecycle(t, store, newManualClock(t0.Add(49*time.Hour)), gateway, nil)

		var wg sync.WaitGroup
		var commitErr, expireErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, commitErr = committer.Commit(context.Background(), OrderActionCommand{OrderID: "ord_r", Actor: Actor{ID: "seller-1", Kind: ActorSeller}})
		}()
		go func() {
			defer wg.Done()
			_, expireErr = expirer.Expire(context.Background(), "ord_r")
		}()
		wg.Wait()

		final, _ := store.Orders().FindByID(context.Background(), "ord_r")
		switch final.Status {
		case domain.OrderStatusCommitted:
			if commitErr != nil || expireErr == nil {
				t.Fatalf("committed but commit=%v expire=%v", commitErr, expireErr)
			}
			if len(gateway.refundRequests()) != 0 {
				t.Fatalf("committed order must not be refunded")
			}
		case domain.OrderStatusExpired:
			if expireErr != nil || !errors.Is(commitErr, ErrDeadlinePassed) {
				t.Fatalf("expired but commit=%v expire=%v", commitErr, expireErr)
			}
		default:
			t.Fatalf("unexpected final status %s", final.Status)
		}
	}
}

func TestOrderLifecycleTerminalStatesRejectEvents(t *testing.T) {
	terminal := []domain.OrderStatus{
		domain.OrderStatusCompleted,
		domain.OrderStatusCancelled,
		domain.OrderStatusExpired,
		domain.OrderStatusRefunded,
	}
	for _, status := range terminal {
		store := memory.NewStore()
		order := paidOrder("ord_t", t0)
		order.Status = status
		store.PutOrder(order)
		svc := newLifecycle(t, store, newManualClock(t0.Add(time.Hour)), &stubPaymentGateway{}, nil)

		if _, err := svc.RaiseDispute(context.Background(), OrderActionCommand{OrderID: "ord_t", Actor: Actor{ID: "buyer-1", Kind: ActorBuyer}}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: expected dispute rejected, got %v", status, err)
		}
		if _, err := svc.MarkCollected(context.Background(), ShipmentUpdateCommand{OrderID: "ord_t", Actor: Actor{Kind: ActorCourier}}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: expected collection rejected, got %v", status, err)
		}
		_, err := svc.Commit(context.Background(), OrderActionCommand{OrderID: "ord_t", Actor: Actor{ID: "seller-1", Kind: ActorSeller}})
		wantCommit := ErrInvalidTransition
		if status == domain.OrderStatusExpired {
			wantCommit = ErrDeadlinePassed
		}
		if !errors.Is(err, wantCommit) {
			t.Fatalf("%s: expected commit rejected with %v, got %v", status, wantCommit, err)
		}
		if _, err := svc.Expire(context.Background(), "ord_t"); status != domain.OrderStatusExpired && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: expected expiry rejected, got %v", status, err)
		}
		stored, _ := store.Orders().FindByID(context.Background(), "ord_t")
		if stored.Status != status {
			t.Fatalf("%s: status changed to %s", status, stored.Status)
		}
	}
}

func TestOrderLifecycleRejectsForeignSeller(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(paidOrder("ord_u", t0))
	svc := newLifecycle(t, store, newManualClock(t0.Add(time.Hour)), &stubPaymentGateway{}, nil)
	_, err := svc.Commit(context.Background(), OrderActionCommand{OrderID: "ord_u", Actor: Actor{ID: "seller-2", Kind: ActorSeller}})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), "ord_u", Actor{ID: "stranger"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected GetOrder to reject strangers, got %v", err)
	}
}

func TestOrderLifecycleDeliveryReceiptEnqueuesPayout(t *testing.T) {
	store := memory.NewStore()
	order := paidOrder("ord_d", t0)
	order.Status = domain.OrderStatusCommitted
	order.SellerCommitted = true
	store.PutOrder(order)
	clock := newManualClock(t0.Add(time.Hour))
	enqueuer := &recordingEnqueuer{}
	svc := newLifecycle(t, store, clock, &stubPaymentGateway{}, func(deps *OrderLifecycleServiceDeps) {
		deps.Payouts = enqueuer
	})
	ctx := context.Background()

	if _, err := svc.MarkCollected(ctx, ShipmentUpdateCommand{OrderID: "ord_d", Actor: Actor{Kind: ActorCourier}, TrackingNumber: "TCG123"}); err != nil {
		t.Fatalf("MarkCollected: %v", err)
	}
	if _, err := svc.MarkInTransit(ctx, ShipmentUpdateCommand{OrderID: "ord_d", Actor: Actor{Kind: ActorCourier}}); err != nil {
		t.Fatalf("MarkInTransit: %v", err)
	}
	delivered, err := svc.MarkDelivered(ctx, ShipmentUpdateCommand{OrderID: "ord_d", Actor: Actor{ID: "buyer-1", Kind: ActorBuyer}})
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if delivered.TrackingNumber != "TCG123" {
		t.Fatalf("expected tracking number retained, got %q", delivered.TrackingNumber)
	}
	if len(enqueuer.orders) != 0 {
		t.Fatalf("payout must wait for completion")
	}

	completed, err := svc.ConfirmReceipt(ctx, OrderActionCommand{OrderID: "ord_d", Actor: Actor{ID: "buyer-1", Kind: ActorBuyer}})
	if err != nil {
		t.Fatalf("ConfirmReceipt: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("expected completed order, got %+v", completed)
	}
	if len(enqueuer.orders) != 1 || enqueuer.orders[0].ID != "ord_d" {
		t.Fatalf("expected payout enqueued once, got %+v", enqueuer.orders)
	}
}

func TestOrderLifecycleCompleteAfterTimeoutRespectsWindow(t *testing.T) {
	store := memory.NewStore()
	order := paidOrder("ord_e", t0)
	order.Status = domain.OrderStatusDelivered
	delivered := t0.Add(24 * time.Hour)
	order.DeliveredAt = &delivered
	store.PutOrder(order)
	clock := newManualClock(delivered.Add(71 * time.Hour))
	svc := newLifecycle(t, store, clock, &stubPaymentGateway{}, nil)

	if _, err := svc.CompleteAfterTimeout(context.Background(), "ord_e"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected window still open, got %v", err)
	}
	clock.Set(delivered.Add(72 * time.Hour))
	completed, err := svc.CompleteAfterTimeout(context.Background(), "ord_e")
	if err != nil {
		t.Fatalf("CompleteAfterTimeout: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}
}

func TestOrderLifecycleDisputeRefund(t *testing.T) {
	store := memory.NewStore()
	order := paidOrder("ord_f", t0)
	order.Status = domain.OrderStatusDelivered
	order.SellerCommitted = true
	store.PutOrder(order)
	gateway := &stubPaymentGateway{}
	svc := newLifecycle(t, store, newManualClock(t0.Add(50*time.Hour)), gateway, nil)
	ctx := context.Background()

	disputed, err := svc.RaiseDispute(ctx, OrderActionCommand{OrderID: "ord_f", Actor: Actor{ID: "buyer-1", Kind: ActorBuyer}, Reason: "wrong edition"})
	if err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}
	if disputed.DisputedFrom != domain.OrderStatusDelivered || disputed.DisputeReason != "wrong edition" {
		t.Fatalf("expected dispute metadata, got %+v", disputed)
	}
	if _, err := svc.ResolveDispute(ctx, ResolveDisputeCommand{OrderID: "ord_f", Actor: Actor{ID: "buyer-1", Kind: ActorBuyer}, Resolution: DisputeResolutionRefund}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected only staff to resolve, got %v", err)
	}
	if _, err := svc.ResolveDispute(ctx, ResolveDisputeCommand{OrderID: "ord_f", Actor: Actor{ID: "ops-1", Kind: ActorStaff}, Resolution: "split"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown resolution rejected, got %v", err)
	}

	refunded, err := svc.ResolveDispute(ctx, ResolveDisputeCommand{OrderID: "ord_f", Actor: Actor{ID: "ops-1", Kind: ActorStaff}, Resolution: DisputeResolutionRefund})
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if refunded.Status != domain.OrderStatusRefunded || refunded.SellerCommitted {
		t.Fatalf("expected refunded uncommitted order, got %+v", refunded)
	}
	if len(gateway.refundRequests()) != 1 {
		t.Fatalf("expected one refund, got %d", len(gateway.refundRequests()))
	}
}

func TestOrderLifecycleRefundFailureIsRecorded(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(paidOrder("ord_g", t0))
	gateway := &stubPaymentGateway{
		refundFunc: func(context.Context, payments.RefundRequest) (payments.RefundResult, error) {
			return payments.RefundResult{}, errors.New("stripe unavailable")
		},
	}
	svc := newLifecycle(t, store, newManualClock(t0.Add(time.Hour)), gateway, nil)

	cancelled, err := svc.Decline(context.Background(), OrderActionCommand{OrderID: "ord_g", Actor: Actor{ID: "seller-1", Kind: ActorSeller}, Reason: "sold elsewhere"})
	if err != nil {
		t.Fatalf("Decline must succeed even when the refund fails: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancellationReason != "sold elsewhere" {
		t.Fatalf("expected cancelled order, got %+v", cancelled)
	}
	if cancelled.Refund == nil || cancelled.Refund.Status != domain.RefundStatusFailed {
		t.Fatalf("expected failed refund recorded, got %+v", cancelled.Refund)
	}
}

func TestOrderLifecycleGetPendingCommitsOrdersByDeadline(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(paidOrder("ord_late", t0.Add(2*time.Hour)))
	store.PutOrder(paidOrder("ord_soon", t0))
	store.PutOrder(paidOrder("ord_gone", t0.Add(-72*time.Hour)))
	svc := newLifecycle(t, store, newManualClock(t0.Add(3*time.Hour)), &stubPaymentGateway{}, nil)

	orders, err := svc.GetPendingCommits(context.Background(), "seller-1")
	if err != nil {
		t.Fatalf("GetPendingCommits: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "ord_soon" || orders[1].ID != "ord_late" {
		t.Fatalf("unexpected pending commits %+v", orders)
	}
}

func containsString(values []string, want string) bool {
	for _, value := range values {
		if value == want {
			return true
		}
	}
	return false
}

func TestOrderLifecycleRetryRefundAfterFailure(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(paidOrder("ord_g", t0))
	var calls int
	gateway := &stubPaymentGateway{
		refundFunc: func(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
			calls++
			if calls == 1 {
				return payments.RefundResult{}, errors.New("stripe unavailable")
			}
			return payments.RefundResult{ID: "re_" + req.Reference, Status: payments.StatusPending}, nil
		},
	}
	clock := newManualClock(t0.Add(time.Hour))
	svc := newLifecycle(t, store, clock, gateway, nil)
	ctx := context.Background()

	cancelled, err := svc.Decline(ctx, OrderActionCommand{OrderID: "ord_g", Actor: Actor{ID: "seller-1", Kind: ActorSeller}})
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if !cancelled.RefundDue || cancelled.Refund == nil || cancelled.Refund.Attempts != 1 {
		t.Fatalf("expected failed refund flagged for retry, got due=%v refund=%+v", cancelled.RefundDue, cancelled.Refund)
	}

	clock.Advance(15 * time.Minute)
	retried, err := svc.RetryRefund(ctx, "ord_g")
	if err != nil {
		t.Fatalf("RetryRefund: %v", err)
	}
	if retried.RefundDue || retried.Refund == nil || retried.Refund.Status != domain.RefundStatusInitiated || retried.Refund.Attempts != 2 {
		t.Fatalf("expected initiated refund after retry, got due=%v refund=%+v", retried.RefundDue, retried.Refund)
	}
	requests := gateway.refundRequests()
	if len(requests) != 2 || requests[0].Reference != "refund_ord_g" || requests[1].Reference != "refund_ord_g" {
		t.Fatalf("expected both attempts with the same refund reference, got %+v", requests)
	}

	again, err := svc.RetryRefund(ctx, "ord_g")
	if err != nil || again.Refund.Attempts != 2 || len(gateway.refundRequests()) != 2 {
		t.Fatalf("expected refunded order left alone, got %v %+v", err, again.Refund)
	}
}

func TestOrderLifecycleRetryRefundWithoutRecordedAttempt(t *testing.T) {
	store := memory.NewStore()
	order := paidOrder("ord_h", t0)
	order.Status = domain.OrderStatusExpired
	order.RefundDue = true
	store.PutOrder(order)
	gateway := &stubPaymentGateway{}
	svc := newLifecycle(t, store, newManualClock(t0.Add(49*time.Hour)), gateway, nil)

	retried, err := svc.RetryRefund(context.Background(), "ord_h")
	if err != nil {
		t.Fatalf("RetryRefund: %v", err)
	}
	if retried.Refund == nil || retried.Refund.Status != domain.RefundStatusInitiated || retried.Refund.Attempts != 1 || retried.RefundDue {
		t.Fatalf("expected first refund attempt recorded, got %+v", retried)
	}
	if requests := gateway.refundRequests(); len(requests) != 1 || requests[0].Amount != 21900 {
		t.Fatalf("expected one full refund, got %+v", requests)
	}
}

func TestOrderLifecycleRetryRefundFailureKeepsFlag(t *testing.T) {
	store := memory.NewStore()
	order := paidOrder("ord_i", t0)
	order.Status = domain.OrderStatusCancelled
	order.RefundDue = true
	store.PutOrder(order)
	gateway := &stubPaymentGateway{
		refundFunc: func(context.Context, payments.RefundRequest) (payments.RefundResult, error) {
			return payments.RefundResult{}, errors.New("stripe unavailable")
		},
	}
	svc := newLifecycle(t, store, newManualClock(t0.Add(2*time.Hour)), gateway, nil)

	_, err := svc.RetryRefund(context.Background(), "ord_i")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	stored, _ := store.Orders().FindByID(context.Background(), "ord_i")
	if !stored.RefundDue || stored.Refund == nil || stored.Refund.Status != domain.RefundStatusFailed {
		t.Fatalf("expected refund still due, got due=%v refund=%+v", stored.RefundDue, stored.Refund)
	}
}

func TestOrderLifecycleTransitionFlagsPayoutDue(t *testing.T) {
	store := memory.NewStore()
	order := paidOrder("ord_j", t0)
	order.Status = domain.OrderStatusDelivered
	store.PutOrder(order)
	svc := newLifecycle(t, store, newManualClock(t0.Add(60*time.Hour)), &stubPaymentGateway{}, nil)

	completed, err := svc.ConfirmReceipt(context.Background(), OrderActionCommand{OrderID: "ord_j", Actor: Actor{ID: "buyer-1", Kind: ActorBuyer}})
	if err != nil {
		t.Fatalf("ConfirmReceipt: %v", err)
	}
	if !completed.PayoutDue {
		t.Fatalf("expected payout flagged without a payout queue")
	}
	flagged, _ := store.Orders().ListFollowUps(context.Background(), repositories.FollowUpPayout, 10)
	if len(flagged) != 1 || flagged[0].ID != "ord_j" {
		t.Fatalf("expected order listed for payout catch-up, got %+v", flagged)
	}
}

func TestOrderLifecycleHeldOrderPaysOutAtCollection(t *testing.T) {
	store := memory.NewStore()
	store.PutSeller(payableSeller("seller-1"))
	held := paidOrder("ord_k", t0)
	held.Status = domain.OrderStatusCommitted
	held.SellerCommitted = true
	store.PutOrder(held)
	regular := paidOrder("ord_l", t0)
	regular.Status = domain.OrderStatusCommitted
	regular.SellerCommitted = true
	store.PutOrder(regular)

	clock := newManualClock(t0.Add(2 * time.Hour))
	transfers := &stubTransferGateway{}
	payouts, err := NewPayoutService(PayoutServiceDeps{
		Payouts:     store.Payouts(),
		Orders:      store.Orders(),
		Sellers:     store.Sellers(),
		Gateway:     transfers,
		Eligibility: PayoutOnCollectedHeld,
		Clock:       clock.Now,
	})
	if err != nil {
		t.Fatalf("NewPayoutService: %v", err)
	}
	svc := newLifecycle(t, store, clock, &stubPaymentGateway{}, func(deps *OrderLifecycleServiceDeps) {
		deps.Payouts = payouts
		deps.Eligibility = PayoutOnCollectedHeld
	})
	ctx := context.Background()
	staff := Actor{ID: "ops-1", Kind: ActorStaff}

	if _, err := svc.SetPayoutHold(ctx, PayoutHoldCommand{OrderID: "ord_k", Actor: Actor{ID: "seller-1", Kind: ActorSeller}, Held: true}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected only staff to hold payouts, got %v", err)
	}
	marked, err := svc.SetPayoutHold(ctx, PayoutHoldCommand{OrderID: "ord_k", Actor: staff, Held: true})
	if err != nil {
		t.Fatalf("SetPayoutHold: %v", err)
	}
	if !marked.PayoutHeld || marked.PayoutDue {
		t.Fatalf("committed order must be held without a payout due, got %+v", marked)
	}

	for _, id := range []string{"ord_k", "ord_l"} {
		if _, err := svc.MarkCollected(ctx, ShipmentUpdateCommand{OrderID: id, Actor: Actor{Kind: ActorCourier}}); err != nil {
			t.Fatalf("MarkCollected %s: %v", id, err)
		}
	}

	stored, _ := store.Orders().FindByID(ctx, "ord_k")
	if stored.PayoutQueuedAt == nil || stored.PayoutDue {
		t.Fatalf("expected held order queued at collection, got queued=%v due=%v", stored.PayoutQueuedAt, stored.PayoutDue)
	}
	if _, err := store.Payouts().FindByID(ctx, domain.PayoutIDForOrder("ord_l")); !repositories.IsNotFound(err) {
		t.Fatalf("expected no payout for the order without hold, got %v", err)
	}

	result, err := payouts.RunBatch(ctx)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Completed != 1 {
		t.Fatalf("expected the held order paid out, got %+v", result)
	}
	if requests := transfers.initiatedRequests(); len(requests) != 1 || requests[0].Metadata["orderId"] != "ord_k" {
		t.Fatalf("unexpected transfers %+v", requests)
	}

	if _, err := svc.SetPayoutHold(ctx, PayoutHoldCommand{OrderID: "ord_k", Actor: staff, Held: false}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected hold frozen once the payout is queued, got %v", err)
	}
}
