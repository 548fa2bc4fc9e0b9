package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/auth"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

type stubCheckoutService struct {
	quoteFn  func(context.Context, services.QuoteCartCommand) (services.CartQuotes, error)
	createFn func(context.Context, services.CreateSellerOrdersCommand) (services.CreateSellerOrdersResult, error)
}

func (s *stubCheckoutService) QuoteCart(ctx context.Context, cmd services.QuoteCartCommand) (services.CartQuotes, error) {
	if s.quoteFn != nil {
		return s.quoteFn(ctx, cmd)
	}
	return services.CartQuotes{}, nil
}

func (s *stubCheckoutService) CreateSellerOrders(ctx context.Context, cmd services.CreateSellerOrdersCommand) (services.CreateSellerOrdersResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateSellerOrdersResult{}, nil
}

type stubOrderService struct {
	confirmPaymentFn func(context.Context, services.ConfirmPaymentCommand) ([]services.Order, error)
	actionFn         func(context.Context, string, services.OrderActionCommand) (services.Order, error)
	shipmentFn       func(context.Context, string, services.ShipmentUpdateCommand) (services.Order, error)
	resolveFn        func(context.Context, services.ResolveDisputeCommand) (services.Order, error)
	holdFn           func(context.Context, services.PayoutHoldCommand) (services.Order, error)
	getFn            func(context.Context, string, services.Actor) (services.Order, error)
	pendingFn        func(context.Context, string) ([]services.Order, error)
	listFn           func(context.Context, string, int) ([]services.Order, error)
}

func (s *stubOrderService) ConfirmPayment(ctx context.Context, cmd services.ConfirmPaymentCommand) ([]services.Order, error) {
	if s.confirmPaymentFn != nil {
		return s.confirmPaymentFn(ctx, cmd)
	}
	return nil, nil
}

func (s *stubOrderService) action(ctx context.Context, event string, cmd services.OrderActionCommand) (services.Order, error) {
	if s.actionFn != nil {
		return s.actionFn(ctx, event, cmd)
	}
	return services.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) shipment(ctx context.Context, event string, cmd services.ShipmentUpdateCommand) (services.Order, error) {
	if s.shipmentFn != nil {
		return s.shipmentFn(ctx, event, cmd)
	}
	return services.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) Commit(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return s.action(ctx, "commit", cmd)
}

func (s *stubOrderService) Decline(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return s.action(ctx, "decline", cmd)
}

func (s *stubOrderService) MarkCollected(ctx context.Context, cmd services.ShipmentUpdateCommand) (services.Order, error) {
	return s.shipment(ctx, "collected", cmd)
}

func (s *stubOrderService) MarkInTransit(ctx context.Context, cmd services.ShipmentUpdateCommand) (services.Order, error) {
	return s.shipment(ctx, "in_transit", cmd)
}

func (s *stubOrderService) MarkDelivered(ctx context.Context, cmd services.ShipmentUpdateCommand) (services.Order, error) {
	return s.shipment(ctx, "delivered", cmd)
}

func (s *stubOrderService) ConfirmReceipt(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return s.action(ctx, "confirm_receipt", cmd)
}

func (s *stubOrderService) CompleteAfterTimeout(ctx context.Context, orderID string) (services.Order, error) {
	return services.Order{ID: orderID}, nil
}

func (s *stubOrderService) Expire(ctx context.Context, orderID string) (services.Order, error) {
	return services.Order{ID: orderID}, nil
}

func (s *stubOrderService) RaiseDispute(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return s.action(ctx, "dispute", cmd)
}

func (s *stubOrderService) ResolveDispute(ctx context.Context, cmd services.ResolveDisputeCommand) (services.Order, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, cmd)
	}
	return services.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) RetryRefund(ctx context.Context, orderID string) (services.Order, error) {
	return services.Order{ID: orderID}, nil
}

func (s *stubOrderService) SetPayoutHold(ctx context.Context, cmd services.PayoutHoldCommand) (services.Order, error) {
	if s.holdFn != nil {
		return s.holdFn(ctx, cmd)
	}
	return services.Order{ID: cmd.OrderID, PayoutHeld: cmd.Held}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, actor)
	}
	return services.Order{ID: orderID}, nil
}

func (s *stubOrderService) GetPendingCommits(ctx context.Context, sellerID string) ([]services.Order, error) {
	if s.pendingFn != nil {
		return s.pendingFn(ctx, sellerID)
	}
	return nil, nil
}

func (s *stubOrderService) ListBuyerOrders(ctx context.Context, buyerID string, limit int) ([]services.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, buyerID, limit)
	}
	return nil, nil
}

type stubPayoutService struct {
	runFn       func(context.Context) (services.PayoutBatchResult, error)
	reconcileFn func(context.Context) (services.PayoutBatchResult, error)
	listFn      func(context.Context, int) ([]services.PayoutTransaction, error)
	replayFn    func(context.Context, string, services.Actor) (services.PayoutTransaction, error)
}

func (s *stubPayoutService) Enqueue(ctx context.Context, order services.Order) (services.PayoutTransaction, error) {
	return services.PayoutTransaction{OrderID: order.ID}, nil
}

func (s *stubPayoutService) RunBatch(ctx context.Context) (services.PayoutBatchResult, error) {
	if s.runFn != nil {
		return s.runFn(ctx)
	}
	return services.PayoutBatchResult{}, nil
}

func (s *stubPayoutService) Reconcile(ctx context.Context) (services.PayoutBatchResult, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx)
	}
	return services.PayoutBatchResult{}, nil
}

func (s *stubPayoutService) ListFailed(ctx context.Context, limit int) ([]services.PayoutTransaction, error) {
	if s.listFn != nil {
		return s.listFn(ctx, limit)
	}
	return nil, nil
}

func (s *stubPayoutService) Replay(ctx context.Context, payoutID string, actor services.Actor) (services.PayoutTransaction, error) {
	if s.replayFn != nil {
		return s.replayFn(ctx, payoutID, actor)
	}
	return services.PayoutTransaction{ID: payoutID}, nil
}

type stubSweeper struct {
	sweepFn    func(context.Context) (services.SweepResult, error)
	deliveryFn func(context.Context) (services.SweepResult, error)
	refundFn   func(context.Context) (services.SweepResult, error)
}

func (s *stubSweeper) Sweep(ctx context.Context) (services.SweepResult, error) {
	if s.sweepFn != nil {
		return s.sweepFn(ctx)
	}
	return services.SweepResult{}, nil
}

func (s *stubSweeper) SweepDeliveryConfirmations(ctx context.Context) (services.SweepResult, error) {
	if s.deliveryFn != nil {
		return s.deliveryFn(ctx)
	}
	return services.SweepResult{}, nil
}

func (s *stubSweeper) SweepRefunds(ctx context.Context) (services.SweepResult, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx)
	}
	return services.SweepResult{}, nil
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var (
	_ services.CheckoutService       = (*stubCheckoutService)(nil)
	_ services.OrderLifecycleService = (*stubOrderService)(nil)
	_ services.PayoutService         = (*stubPayoutService)(nil)
	_ services.ExpirySweeper         = (*stubSweeper)(nil)
	_ services.SystemService         = (*stubSystemService)(nil)
)

// serveRoutes mounts registrar under a bare chi router and serves one request as uid.
func serveRoutes(t *testing.T, registrar RouteRegistrar, method, target, body, uid string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	if uid != "" {
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := auth.WithIdentity(r.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleUser}})
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		})
	}
	router.Route("/", func(r chi.Router) { registrar(r) })

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rr, &body)
	return body.Error
}

func sampleOrder(id string, status domain.OrderStatus) services.Order {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	deadline := now.Add(48 * time.Hour)
	return services.Order{
		ID:                 id,
		BuyerID:            "buyer-1",
		SellerID:           "seller-1",
		Items:              []domain.ItemRef{{ListingID: "book-1", Title: "Organic Chemistry", UnitPrice: 20000, Quantity: 1}},
		Currency:           "ZAR",
		Amount:             26500,
		Subtotal:           20000,
		DeliveryFee:        6500,
		PlatformCommission: 2000,
		SellerAmount:       18000,
		Status:             status,
		PaymentReference:   "pi_123",
		CommitDeadline:     &deadline,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
