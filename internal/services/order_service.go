package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/payments"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
)

const (
	orderEventStatusChanged = "order.status.changed"

	defaultCommitWindow               = 48 * time.Hour
	defaultDeliveryConfirmationWindow = 72 * time.Hour
	defaultGatewayTimeout             = 10 * time.Second
	defaultOrderListLimit             = 50

	// A conflicting write is re-evaluated once before the race is reported to the caller.
	maxTransitionWrites = 2
)

var allNonTerminalStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusPaid,
	domain.OrderStatusCommitted,
	domain.OrderStatusCollected,
	domain.OrderStatusInTransit,
	domain.OrderStatusDelivered,
}

// OrderLifecycleServiceDeps wires the collaborators of the order state machine.
type OrderLifecycleServiceDeps struct {
	Orders   repositories.OrderRepository
	Listings repositories.ListingRepository
	Payments PaymentGateway
	Payouts  PayoutEnqueuer
	Notifier Notifier
	Events   OrderEventPublisher
	Metrics  Metrics

	Eligibility                PayoutEligibility
	CommitWindow               time.Duration
	DeliveryConfirmationWindow time.Duration
	GatewayTimeout             time.Duration

	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderLifecycleService struct {
	orders   repositories.OrderRepository
	listings repositories.ListingRepository
	payments PaymentGateway
	payouts  PayoutEnqueuer
	notifier Notifier
	events   OrderEventPublisher
	metrics  Metrics

	eligibility    PayoutEligibility
	commitWindow   time.Duration
	confirmWindow  time.Duration
	gatewayTimeout time.Duration

	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

var _ OrderLifecycleService = (*orderLifecycleService)(nil)

// transitionRule describes one event of the state machine.
type transitionRule struct {
	event string
	from  []domain.OrderStatus
	to    domain.OrderStatus
	// deadlineBound events report ErrDeadlinePassed when they lose to expiry.
	deadlineBound bool
	authorize     func(order Order, actor Actor) error
	guard         func(order Order, now time.Time) error
	mutate        func(order *Order, now time.Time)
}

// NewOrderLifecycleService constructs the order state machine validating required dependencies.
func NewOrderLifecycleService(deps OrderLifecycleServiceDeps) (OrderLifecycleService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order lifecycle service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order lifecycle service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	eligibility := deps.Eligibility
	if eligibility == nil {
		eligibility = PayoutOnCompleted
	}

	return &orderLifecycleService{
		orders:         deps.Orders,
		listings:       deps.Listings,
		payments:       deps.Payments,
		payouts:        deps.Payouts,
		notifier:       notifier,
		events:         deps.Events,
		metrics:        metrics,
		eligibility:    eligibility,
		commitWindow:   positiveDuration(deps.CommitWindow, defaultCommitWindow),
		confirmWindow:  positiveDuration(deps.DeliveryConfirmationWindow, defaultDeliveryConfirmationWindow),
		gatewayTimeout: positiveDuration(deps.GatewayTimeout, defaultGatewayTimeout),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ConfirmPayment moves the pending orders of a checkout to paid once the gateway reports a
// definitive capture covering them. Orders already past pending are returned unchanged.
func (s *orderLifecycleService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) ([]Order, error) {
	reference := strings.TrimSpace(cmd.PaymentReference)
	if reference == "" {
		return nil, fmt.Errorf("%w: payment reference is required", ErrValidation)
	}

	orders, err := s.orders.FindByPaymentReference(ctx, reference)
	if err != nil {
		return nil, mapRepositoryError(err, ErrOrderNotFound)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: no orders for payment reference %s", ErrOrderNotFound, reference)
	}

	var pending []int
	var total int64
	for i, order := range orders {
		total += order.Amount
		if order.Status == domain.OrderStatusPending {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return orders, nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	verification, err := s.payments.VerifyPayment(verifyCtx, reference)
	cancel()
	if err != nil {
		if errors.Is(err, payments.ErrPaymentNotFound) {
			return nil, fmt.Errorf("%w: payment %s unknown to gateway", ErrValidation, reference)
		}
		return nil, fmt.Errorf("%w: verify payment: %v", ErrUpstreamUnavailable, err)
	}
	if !verification.Succeeded() {
		return nil, fmt.Errorf("%w: payment %s is %s", ErrValidation, reference, verification.Status)
	}
	if verification.Amount < total {
		return nil, fmt.Errorf("%w: payment amount %d does not cover orders total %d", ErrValidation, verification.Amount, total)
	}

	actor := Actor{ID: strings.TrimSpace(cmd.ActorID), Kind: ActorSystem}
	rule := s.ruleConfirmPayment()
	var errs []error
	for _, idx := range pending {
		updated, err := s.transition(ctx, orders[idx].ID, actor, rule)
		if err != nil {
			errs = append(errs, err)
		}
		if updated.ID != "" {
			orders[idx] = updated
		}
	}
	return orders, errors.Join(errs...)
}

// Commit records the seller's acceptance inside the commit window.
func (s *orderLifecycleService) Commit(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.Actor, transitionRule{
		event:         "commit",
		from:          []domain.OrderStatus{domain.OrderStatusPaid},
		to:            domain.OrderStatusCommitted,
		deadlineBound: true,
		authorize:     requireSeller,
		guard:         beforeCommitDeadline,
		mutate: func(order *Order, now time.Time) {
			order.SellerCommitted = true
			order.CommittedAt = timePtr(now)
		},
	})
}

// Decline cancels the sale at the seller's request; the buyer is refunded.
func (s *orderLifecycleService) Decline(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	return s.transition(ctx, cmd.OrderID, cmd.Actor, transitionRule{
		event:         "decline",
		from:          []domain.OrderStatus{domain.OrderStatusPaid},
		to:            domain.OrderStatusCancelled,
		deadlineBound: true,
		authorize:     requireSeller,
		guard:         beforeCommitDeadline,
		mutate: func(order *Order, now time.Time) {
			order.CancelledAt = timePtr(now)
			order.CancellationReason = reason
		},
	})
}

func (s *orderLifecycleService) MarkCollected(ctx context.Context, cmd ShipmentUpdateCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.Actor, transitionRule{
		event:     "mark_collected",
		from:      []domain.OrderStatus{domain.OrderStatusCommitted},
		to:        domain.OrderStatusCollected,
		authorize: requireCourier,
		mutate: func(order *Order, now time.Time) {
			order.CollectedAt = timePtr(now)
			applyShipmentDetails(order, cmd)
		},
	})
}

func (s *orderLifecycleService) MarkInTransit(ctx context.Context, cmd ShipmentUpdateCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.Actor, transitionRule{
		event:     "mark_in_transit",
		from:      []domain.OrderStatus{domain.OrderStatusCollected},
		to:        domain.OrderStatusInTransit,
		authorize: requireCourier,
		mutate: func(order *Order, now time.Time) {
			order.InTransitAt = timePtr(now)
			applyShipmentDetails(order, cmd)
		},
	})
}

// MarkDelivered accepts delivery reports from the courier integration, the buyer or staff.
func (s *orderLifecycleService) MarkDelivered(ctx context.Context, cmd ShipmentUpdateCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.Actor, transitionRule{
		event: "mark_delivered",
		from:  []domain.OrderStatus{domain.OrderStatusCollected, domain.OrderStatusInTransit},
		to:    domain.OrderStatusDelivered,
		authorize: func(order Order, actor Actor) error {
			if actor.ID != "" && actor.ID == order.BuyerID {
				return nil
			}
			return requireCourier(order, actor)
		},
		mutate: func(order *Order, now time.Time) {
			order.DeliveredAt = timePtr(now)
			applyShipmentDetails(order, cmd)
		},
	})
}

func (s *orderLifecycleService) ConfirmReceipt(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.Actor, transitionRule{
		event:     "confirm_receipt",
		from:      []domain.OrderStatus{domain.OrderStatusDelivered},
		to:        domain.OrderStatusCompleted,
		authorize: requireBuyer,
		mutate: func(order *Order, now time.Time) {
			order.CompletedAt = timePtr(now)
		},
	})
}

// CompleteAfterTimeout completes a delivered order whose confirmation window lapsed.
func (s *orderLifecycleService) CompleteAfterTimeout(ctx context.Context, orderID string) (Order, error) {
	return s.transition(ctx, orderID, Actor{Kind: ActorSystem}, transitionRule{
		event:     "complete_after_timeout",
		from:      []domain.OrderStatus{domain.OrderStatusDelivered},
		to:        domain.OrderStatusCompleted,
		authorize: requireSystem,
		guard: func(order Order, now time.Time) error {
			if order.DeliveredAt == nil || now.Before(order.DeliveredAt.Add(s.confirmWindow)) {
				return fmt.Errorf("%w: delivery confirmation window still open for order %s", ErrInvalidTransition, order.ID)
			}
			return nil
		},
		mutate: func(order *Order, now time.Time) {
			order.CompletedAt = timePtr(now)
		},
	})
}

// Expire is driven by the sweeper once the commit deadline is reached.
func (s *orderLifecycleService) Expire(ctx context.Context, orderID string) (Order, error) {
	return s.transition(ctx, orderID, Actor{Kind: ActorSystem}, transitionRule{
		event:     "expire",
		from:      []domain.OrderStatus{domain.OrderStatusPaid},
		to:        domain.OrderStatusExpired,
		authorize: requireSystem,
		guard: func(order Order, now time.Time) error {
			if order.CommitDeadline == nil || now.Before(*order.CommitDeadline) {
				return fmt.Errorf("%w: commit window still open for order %s", ErrInvalidTransition, order.ID)
			}
			return nil
		},
		mutate: func(order *Order, now time.Time) {
			order.ExpiredAt = timePtr(now)
		},
	})
}

// RaiseDispute freezes a non-terminal order until staff resolve it.
func (s *orderLifecycleService) RaiseDispute(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	return s.transition(ctx, cmd.OrderID, cmd.Actor, transitionRule{
		event: "raise_dispute",
		from:  allNonTerminalStatuses,
		to:    domain.OrderStatusDisputed,
		authorize: func(order Order, actor Actor) error {
			if actor.IsStaff() || (actor.ID != "" && (actor.ID == order.BuyerID || actor.ID == order.SellerID)) {
				return nil
			}
			return fmt.Errorf("%w: only the buyer, seller or staff may dispute order %s", ErrUnauthorized, order.ID)
		},
		mutate: func(order *Order, now time.Time) {
			order.DisputedFrom = order.Status
			order.DisputedAt = timePtr(now)
			order.DisputeReason = reason
		},
	})
}

// ResolveDispute settles a disputed order by refunding the buyer or releasing it to the seller.
func (s *orderLifecycleService) ResolveDispute(ctx context.Context, cmd ResolveDisputeCommand) (Order, error) {
	rule := transitionRule{
		from:      []domain.OrderStatus{domain.OrderStatusDisputed},
		authorize: requireStaff,
	}
	switch cmd.Resolution {
	case DisputeResolutionRefund:
		rule.event = "resolve_dispute_refund"
		rule.to = domain.OrderStatusRefunded
		rule.mutate = func(order *Order, _ time.Time) {
			order.SellerCommitted = false
		}
	case DisputeResolutionRelease:
		rule.event = "resolve_dispute_release"
		rule.to = domain.OrderStatusCompleted
		rule.mutate = func(order *Order, now time.Time) {
			order.CompletedAt = timePtr(now)
		}
	default:
		return Order{}, fmt.Errorf("%w: unknown dispute resolution %q", ErrValidation, cmd.Resolution)
	}
	return s.transition(ctx, cmd.OrderID, cmd.Actor, rule)
}

// GetOrder returns the order to one of its parties or to staff.
func (s *orderLifecycleService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	switch {
	case actor.IsStaff(), actor.Kind == ActorSystem:
	case actor.ID != "" && (actor.ID == order.BuyerID || actor.ID == order.SellerID):
	default:
		return Order{}, fmt.Errorf("%w: order %s", ErrUnauthorized, orderID)
	}
	return order, nil
}

// GetPendingCommits lists the seller's paid orders whose commit window is still open,
// soonest deadline first.
func (s *orderLifecycleService) GetPendingCommits(ctx context.Context, sellerID string) ([]Order, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return nil, fmt.Errorf("%w: seller id is required", ErrValidation)
	}
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		SellerID: sellerID,
		Status:   []domain.OrderStatus{domain.OrderStatusPaid},
	})
	if err != nil {
		return nil, mapRepositoryError(err, ErrOrderNotFound)
	}
	now := s.now()
	open := make([]Order, 0, len(orders))
	for _, order := range orders {
		if order.CommitDeadline != nil && now.Before(*order.CommitDeadline) {
			open = append(open, order)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].CommitDeadline.Before(*open[j].CommitDeadline)
	})
	return open, nil
}

func (s *orderLifecycleService) ListBuyerOrders(ctx context.Context, buyerID string, limit int) ([]Order, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer id is required", ErrValidation)
	}
	if limit <= 0 {
		limit = defaultOrderListLimit
	}
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{BuyerID: buyerID, Limit: limit})
	if err != nil {
		return nil, mapRepositoryError(err, ErrOrderNotFound)
	}
	return orders, nil
}

func (s *orderLifecycleService) ruleConfirmPayment() transitionRule {
	return transitionRule{
		event:     "confirm_payment",
		from:      []domain.OrderStatus{domain.OrderStatusPending},
		to:        domain.OrderStatusPaid,
		authorize: requireSystem,
		mutate: func(order *Order, now time.Time) {
			order.PaidAt = timePtr(now)
			if order.CommitDeadline == nil {
				order.CommitDeadline = timePtr(now.Add(s.commitWindow))
			}
		},
	}
}

// transition applies rule to the order through a conditional update keyed on the status that
// was evaluated. A lost race re-reads and re-evaluates; if the event still cannot be applied the
// order is returned in its actual state with the matching error.
func (s *orderLifecycleService) transition(ctx context.Context, orderID string, actor Actor, rule transitionRule) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	if rule.authorize != nil {
		if err := rule.authorize(order, actor); err != nil {
			return Order{}, err
		}
	}

	for writes := 0; ; writes++ {
		now := s.now()
		next, changed, err := evaluateTransition(order, rule, now)
		if err != nil || !changed {
			return order, err
		}
		if writes >= maxTransitionWrites {
			return order, fmt.Errorf("%w: order %s changed concurrently during %s", ErrInvalidTransition, orderID, rule.event)
		}
		s.markFollowUps(&next)

		saved, err := s.orders.UpdateIfStatus(ctx, next, order.Status)
		if err == nil {
			return s.afterTransition(ctx, order, saved, actor), nil
		}
		mapped := mapRepositoryError(err, ErrOrderNotFound)
		if !errors.Is(mapped, ErrConflictRetry) {
			return order, mapped
		}

		s.logger(ctx, "order.transition.conflict", map[string]any{
			"orderId":  orderID,
			"event":    rule.event,
			"expected": string(order.Status),
		})
		latest, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return order, mapRepositoryError(err, ErrOrderNotFound)
		}
		order = latest
	}
}

func evaluateTransition(order Order, rule transitionRule, now time.Time) (Order, bool, error) {
	if order.Status == rule.to {
		return order, false, nil
	}
	if !slices.Contains(rule.from, order.Status) {
		if rule.deadlineBound && order.Status == domain.OrderStatusExpired {
			return order, false, fmt.Errorf("%w: order %s expired", ErrDeadlinePassed, order.ID)
		}
		return order, false, fmt.Errorf("%w: cannot %s order %s in status %s", ErrInvalidTransition, rule.event, order.ID, order.Status)
	}
	if rule.guard != nil {
		if err := rule.guard(order, now); err != nil {
			return order, false, err
		}
	}

	next := order
	next.Items = append([]ItemRef(nil), order.Items...)
	if rule.mutate != nil {
		rule.mutate(&next, now)
	}
	next.Status = rule.to
	next.UpdatedAt = now
	return next, true, nil
}

// afterTransition runs the best-effort side effects of a committed status write. Failures are
// logged and never change the outcome of the transition.
func (s *orderLifecycleService) afterTransition(ctx context.Context, prev, order Order, actor Actor) Order {
	now := s.now()
	s.metrics.OrderTransition(ctx, prev.Status, order.Status)
	s.logger(ctx, "order.transition.applied", map[string]any{
		"orderId": order.ID,
		"from":    string(prev.Status),
		"to":      string(order.Status),
		"actorId": actor.ID,
	})

	s.flipListings(ctx, order, now)

	switch order.Status {
	case domain.OrderStatusCancelled, domain.OrderStatusExpired, domain.OrderStatusRefunded:
		order = s.refund(ctx, order, now)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		SellerID:       order.SellerID,
		PreviousStatus: prev.Status,
		CurrentStatus:  order.Status,
		ActorID:        actor.ID,
		OccurredAt:     now,
	})

	for _, notification := range transitionNotifications(order) {
		s.notifier.Notify(ctx, notification)
	}

	s.enqueuePayout(ctx, order)
	return order
}

// markFollowUps flags the side effects the sweeps must finish if the process dies after the
// status write.
func (s *orderLifecycleService) markFollowUps(order *Order) {
	order.RefundDue = order.NeedsRefund()
	order.PayoutDue = order.PayoutQueuedAt == nil && order.PayoutAmount() > 0 && s.eligibility.eligible(*order)
}

func (s *orderLifecycleService) enqueuePayout(ctx context.Context, order Order) {
	if s.payouts == nil || !order.PayoutDue {
		return
	}
	if _, err := s.payouts.Enqueue(ctx, order); err != nil {
		s.logger(ctx, "order.payout.enqueue_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

// RetryRefund repeats the refund of an unwound order whose previous attempt failed or never
// reached the gateway. The gateway deduplicates on the refund reference.
func (s *orderLifecycleService) RetryRefund(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	if !order.NeedsRefund() {
		if !order.RefundDue {
			return order, nil
		}
		next := order
		next.RefundDue = false
		next.UpdatedAt = s.now()
		saved, err := s.orders.UpdateIfStatus(ctx, next, order.Status)
		if err != nil {
			return order, mapRepositoryError(err, ErrOrderNotFound)
		}
		return saved, nil
	}

	updated := s.refund(ctx, order, s.now())
	if updated.Refund == nil || updated.Refund.Status != domain.RefundStatusInitiated {
		return updated, fmt.Errorf("%w: refund of order %s failed", ErrUpstreamUnavailable, orderID)
	}
	return updated, nil
}

// SetPayoutHold marks an order whose proceeds are released at collection under the
// collected_held eligibility rule. Orders with a queued payout can no longer change.
func (s *orderLifecycleService) SetPayoutHold(ctx context.Context, cmd PayoutHoldCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	if err := requireStaff(order, cmd.Actor); err != nil {
		return Order{}, err
	}

	for writes := 0; ; writes++ {
		if order.PayoutHeld == cmd.Held {
			return order, nil
		}
		if !slices.Contains(allNonTerminalStatuses, order.Status) {
			return order, fmt.Errorf("%w: cannot change payout hold of order %s in status %s", ErrInvalidTransition, orderID, order.Status)
		}
		if order.PayoutQueuedAt != nil {
			return order, fmt.Errorf("%w: payout of order %s is already queued", ErrInvalidTransition, orderID)
		}
		if writes >= maxTransitionWrites {
			return order, fmt.Errorf("%w: order %s changed concurrently during payout hold", ErrInvalidTransition, orderID)
		}

		next := order
		next.PayoutHeld = cmd.Held
		next.UpdatedAt = s.now()
		s.markFollowUps(&next)
		saved, err := s.orders.UpdateIfStatus(ctx, next, order.Status)
		if err == nil {
			s.logger(ctx, "order.payout.hold_changed", map[string]any{
				"orderId": orderID,
				"held":    cmd.Held,
				"actorId": cmd.Actor.ID,
			})
			s.enqueuePayout(ctx, saved)
			return saved, nil
		}
		mapped := mapRepositoryError(err, ErrOrderNotFound)
		if !errors.Is(mapped, ErrConflictRetry) {
			return order, mapped
		}
		latest, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return order, mapRepositoryError(err, ErrOrderNotFound)
		}
		order = latest
	}
}

func (s *orderLifecycleService) flipListings(ctx context.Context, order Order, now time.Time) {
	if s.listings == nil {
		return
	}
	var available bool
	switch order.Status {
	case domain.OrderStatusCommitted:
		available = false
	case domain.OrderStatusCancelled, domain.OrderStatusExpired, domain.OrderStatusRefunded:
		available = true
	default:
		return
	}
	ids := order.ListingIDs()
	if len(ids) == 0 {
		return
	}
	if err := s.listings.SetAvailability(ctx, ids, available, now); err != nil {
		s.logger(ctx, "order.listing.availability_failed", map[string]any{
			"orderId":   order.ID,
			"available": available,
			"error":     err.Error(),
		})
	}
}

// refund asks the gateway to return the order amount and records the attempt on the order.
func (s *orderLifecycleService) refund(ctx context.Context, order Order, now time.Time) Order {
	if !order.NeedsRefund() {
		return order
	}

	record := domain.RefundRecord{
		Reference:   "refund_" + order.ID,
		Status:      domain.RefundStatusInitiated,
		Amount:      order.Amount,
		RequestedAt: now,
		Attempts:    1,
	}
	if order.Refund != nil {
		record.Attempts = order.Refund.Attempts + 1
	}
	refundCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	_, refundErr := s.payments.Refund(refundCtx, payments.RefundRequest{
		PaymentReference: order.PaymentReference,
		Amount:           order.Amount,
		Reference:        record.Reference,
		Reason:           string(order.Status),
	})
	cancel()
	if refundErr != nil {
		record.Status = domain.RefundStatusFailed
		record.Error = refundErr.Error()
		s.logger(ctx, "order.refund.failed", map[string]any{
			"orderId":  order.ID,
			"attempts": record.Attempts,
			"error":    refundErr.Error(),
		})
	}

	next := order
	next.Refund = &record
	next.RefundDue = refundErr != nil
	next.UpdatedAt = now
	saved, err := s.orders.UpdateIfStatus(ctx, next, order.Status)
	if err != nil {
		s.logger(ctx, "order.refund.record_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return next
	}
	return saved
}

func (s *orderLifecycleService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"orderId": event.OrderID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

func beforeCommitDeadline(order Order, now time.Time) error {
	if order.CommitDeadline == nil {
		return fmt.Errorf("%w: order %s has no commit deadline", ErrInvalidTransition, order.ID)
	}
	if !now.Before(*order.CommitDeadline) {
		return fmt.Errorf("%w: order %s deadline was %s", ErrDeadlinePassed, order.ID, order.CommitDeadline.Format(time.RFC3339))
	}
	return nil
}

func requireSeller(order Order, actor Actor) error {
	if actor.ID == "" || actor.ID != order.SellerID {
		return fmt.Errorf("%w: only the seller may act on order %s", ErrUnauthorized, order.ID)
	}
	return nil
}

func requireBuyer(order Order, actor Actor) error {
	if actor.ID == "" || actor.ID != order.BuyerID {
		return fmt.Errorf("%w: only the buyer may act on order %s", ErrUnauthorized, order.ID)
	}
	return nil
}

func requireCourier(order Order, actor Actor) error {
	switch actor.Kind {
	case ActorCourier, ActorStaff, ActorSystem:
		return nil
	}
	return fmt.Errorf("%w: courier updates for order %s require the courier integration or staff", ErrUnauthorized, order.ID)
}

func requireStaff(order Order, actor Actor) error {
	if !actor.IsStaff() {
		return fmt.Errorf("%w: staff role required for order %s", ErrUnauthorized, order.ID)
	}
	return nil
}

func requireSystem(order Order, actor Actor) error {
	if actor.Kind != ActorSystem {
		return fmt.Errorf("%w: order %s may only be changed by background jobs", ErrUnauthorized, order.ID)
	}
	return nil
}

func applyShipmentDetails(order *Order, cmd ShipmentUpdateCommand) {
	if tracking := strings.TrimSpace(cmd.TrackingNumber); tracking != "" {
		order.TrackingNumber = tracking
	}
	if courier := strings.TrimSpace(cmd.CourierName); courier != "" {
		order.CourierName = courier
	}
}

func positiveDuration(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func timePtr(t time.Time) *time.Time {
	return &t
}
