package services

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/payments"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories/memory"
)

type stubPaymentGateway struct {
	mu         sync.Mutex
	verifyFunc func(ctx context.Context, reference string) (payments.PaymentVerification, error)
	refundFunc func(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error)
	verifies   int
	refunds    []payments.RefundRequest
}

func (s *stubPaymentGateway) VerifyPayment(ctx context.Context, reference string) (payments.PaymentVerification, error) {
	s.mu.Lock()
	s.verifies++
	s.mu.Unlock()
	if s.verifyFunc != nil {
		return s.verifyFunc(ctx, reference)
	}
	return payments.PaymentVerification{Reference: reference, Status: payments.StatusSucceeded, Amount: 1 << 40}, nil
}

func (s *stubPaymentGateway) Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	s.mu.Lock()
	s.refunds = append(s.refunds, req)
	s.mu.Unlock()
	if s.refundFunc != nil {
		return s.refundFunc(ctx, req)
	}
	return payments.RefundResult{ID: "re_" + req.Reference, Status: payments.StatusPending}, nil
}

func (s *stubPaymentGateway) refundRequests() []payments.RefundRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]payments.RefundRequest(nil), s.refunds...)
}

type stubTransferGateway struct {
	mu           sync.Mutex
	initiateFunc func(ctx context.Context, req payments.TransferRequest) (payments.TransferResult, error)
	statusFunc   func(ctx context.Context, lookup payments.TransferLookup) (payments.TransferResult, error)
	initiated    []payments.TransferRequest
	lookups      []payments.TransferLookup
}

func (s *stubTransferGateway) InitiateTransfer(ctx context.Context, req payments.TransferRequest) (payments.TransferResult, error) {
	s.mu.Lock()
	s.initiated = append(s.initiated, req)
	s.mu.Unlock()
	if s.initiateFunc != nil {
		return s.initiateFunc(ctx, req)
	}
	return payments.TransferResult{Code: "tr_" + req.Reference, Reference: req.Reference, Status: payments.StatusSucceeded, Amount: req.Amount}, nil
}

func (s *stubTransferGateway) TransferStatus(ctx context.Context, lookup payments.TransferLookup) (payments.TransferResult, error) {
	s.mu.Lock()
	s.lookups = append(s.lookups, lookup)
	s.mu.Unlock()
	if s.statusFunc != nil {
		return s.statusFunc(ctx, lookup)
	}
	return payments.TransferResult{}, payments.ErrTransferNotFound
}

func (s *stubTransferGateway) initiatedRequests() []payments.TransferRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]payments.TransferRequest(nil), s.initiated...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

func (n *recordingNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, notification := range n.sent {
		out = append(out, notification.Template)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type recordingEnqueuer struct {
	mu     sync.Mutex
	orders []Order
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, order Order) (PayoutTransaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders = append(e.orders, order)
	return PayoutTransaction{ID: domain.PayoutIDForOrder(order.ID), OrderID: order.ID}, nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func completeAddress(city string) Address {
	return Address{
		Street:     "12 Long Street",
		Suburb:     "Gardens",
		City:       city,
		Province:   "Western Cape",
		PostalCode: "8001",
		Country:    "ZA",
	}
}

func payableSeller(id string) Seller {
	return Seller{
		ID:            id,
		DisplayName:   "Seller " + id,
		RecipientCode: "acct_" + id,
		PickupAddress: completeAddress("Cape Town"),
	}
}

func paidOrder(id string, paidAt time.Time) Order {
	deadline := paidAt.Add(defaultCommitWindow)
	return Order{
		ID:                 id,
		BuyerID:            "buyer-1",
		SellerID:           "seller-1",
		Items:              []ItemRef{{ListingID: "listing-" + id, Title: "Calculus", UnitPrice: 12000, Quantity: 1}},
		Currency:           "ZAR",
		Amount:             21900,
		Subtotal:           12000,
		DeliveryFee:        9900,
		SellerAmount:       10800,
		PlatformCommission: 1200,
		Status:             domain.OrderStatusPaid,
		PaymentReference:   "pi_" + id,
		CommitDeadline:     &deadline,
		PaidAt:             &paidAt,
		CreatedAt:          paidAt,
		UpdatedAt:          paidAt,
	}
}

func newLifecycle(t *testing.T, store *memory.Store, clock *manualClock, gateway *stubPaymentGateway, mutate func(*OrderLifecycleServiceDeps)) OrderLifecycleService {
	deps := OrderLifecycleServiceDeps{
		Orders:   store.Orders(),
		Listings: store.Listings(),
		Payments: gateway,
		Clock:    clock.Now,
	}
	if mutate != nil {
		mutate(&deps)
	}
	t.Helper()
	svc, err := NewOrderLifecycleService(deps)
	if err != nil {
		t.Fatalf("NewOrderLifecycleService: %v", err)
	}
	return svc
}
