package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/auth"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/idempotency"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

const checkoutBody = `{
	"payment_reference": "pi_123",
	"currency": "ZAR",
	"items": [
		{"listing_id": "book-1", "seller_id": "seller-1", "title": "Organic Chemistry", "unit_price": 20000, "quantity": 1},
		{"listing_id": "book-2", "seller_id": "seller-2", "title": "Linear Algebra", "unit_price": 15000, "quantity": 1}
	],
	"delivery_address": {"street": "1 Main Rd", "city": "Cape Town", "province": "WC", "postal_code": "8001"},
	"selected_quotes": {"seller-1": {"courier": "courier-guy", "service_name": "economy", "price": 6500}}
}`

func TestCheckoutHandlersQuoteCart(t *testing.T) {
	var captured services.QuoteCartCommand
	svc := &stubCheckoutService{
		quoteFn: func(_ context.Context, cmd services.QuoteCartCommand) (services.CartQuotes, error) {
			captured = cmd
			return services.CartQuotes{Sellers: []services.SellerQuoteOptions{
				{SellerID: "seller-1", Subtotal: 20000, WeightGrams: 1000, Options: []services.CourierQuote{{Courier: "courier-guy", ServiceName: "economy", Price: 6500}}},
				{SellerID: "seller-2", Blocked: true, BlockReason: "seller has no payable recipient"},
			}}, nil
		},
	}
	h := NewCheckoutHandlers(nil, svc)

	rr := serveRoutes(t, h.Routes, http.MethodPost, "/quotes", checkoutBody, "buyer-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "buyer-1" || len(captured.Items) != 2 || captured.DeliveryAddress.City != "Cape Town" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Items[1].SellerID != "seller-2" || captured.Items[1].UnitPrice != 15000 {
		t.Fatalf("unexpected item mapping %+v", captured.Items[1])
	}

	var body quoteCartResponse
	decodeBody(t, rr, &body)
	if len(body.Sellers) != 2 || len(body.Sellers[0].Options) != 1 || body.Sellers[0].Options[0].Price != 6500 {
		t.Fatalf("unexpected body %+v", body)
	}
	if !body.Sellers[1].Blocked {
		t.Fatalf("expected second seller blocked")
	}
}

func TestCheckoutHandlersCreateOrders(t *testing.T) {
	var captured services.CreateSellerOrdersCommand
	svc := &stubCheckoutService{
		createFn: func(_ context.Context, cmd services.CreateSellerOrdersCommand) (services.CreateSellerOrdersResult, error) {
			captured = cmd
			return services.CreateSellerOrdersResult{
				Orders:  []services.Order{sampleOrder("ord_1", "pending")},
				Blocked: []services.BlockedSellerCart{{SellerID: "seller-2", Items: []services.CartItem{{ListingID: "book-2"}}, Reason: services.ErrNoPayableRecipient}},
			}, nil
		},
	}
	h := NewCheckoutHandlers(nil, svc)

	rr := serveRoutes(t, h.Routes, http.MethodPost, "/orders", checkoutBody, "buyer-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PaymentReference != "pi_123" || captured.BuyerID != "buyer-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	quote, ok := captured.SelectedQuotes["seller-1"]
	if !ok || quote.Courier != "courier-guy" || quote.Price != 6500 {
		t.Fatalf("expected selected quote for seller-1, got %+v", captured.SelectedQuotes)
	}

	var body createOrdersResponse
	decodeBody(t, rr, &body)
	if len(body.Orders) != 1 || body.Orders[0].Totals.Total != 26500 || body.Orders[0].Status != "pending" {
		t.Fatalf("unexpected orders %+v", body.Orders)
	}
	if len(body.Blocked) != 1 || body.Blocked[0].SellerID != "seller-2" || body.Blocked[0].Items != 1 {
		t.Fatalf("unexpected blocked %+v", body.Blocked)
	}
}

func TestCheckoutHandlersCreateOrdersReplayReturns200(t *testing.T) {
	svc := &stubCheckoutService{
		createFn: func(context.Context, services.CreateSellerOrdersCommand) (services.CreateSellerOrdersResult, error) {
			return services.CreateSellerOrdersResult{Orders: []services.Order{sampleOrder("ord_1", "pending")}, Replayed: true}, nil
		},
	}
	rr := serveRoutes(t, NewCheckoutHandlers(nil, svc).Routes, http.MethodPost, "/orders", checkoutBody, "buyer-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rr.Code)
	}
}

func TestCheckoutHandlersValidation(t *testing.T) {
	svc := &stubCheckoutService{
		createFn: func(context.Context, services.CreateSellerOrdersCommand) (services.CreateSellerOrdersResult, error) {
			return services.CreateSellerOrdersResult{}, fmt.Errorf("%w: delivery address missing city", services.ErrIncompleteAddress)
		},
	}
	h := NewCheckoutHandlers(nil, svc)

	tests := []struct {
		name   string
		path   string
		body   string
		uid    string
		status int
		code   string
	}{
		{name: "unauthenticated", path: "/orders", body: checkoutBody, status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "empty body", path: "/orders", uid: "buyer-1", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "bad json", path: "/quotes", body: "{", uid: "buyer-1", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "no items", path: "/quotes", body: `{"items": []}`, uid: "buyer-1", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "missing reference", path: "/orders", body: `{"items": [{"listing_id": "b"}]}`, uid: "buyer-1", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "incomplete address", path: "/orders", body: checkoutBody, uid: "buyer-1", status: http.StatusBadRequest, code: "incomplete_address"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serveRoutes(t, h.Routes, http.MethodPost, tc.path, tc.body, tc.uid)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected error %s, got %s", tc.code, code)
			}
		})
	}
}

func TestCheckoutHandlersRateLimit(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	h := NewCheckoutHandlers(nil, &stubCheckoutService{}, WithCheckoutRateLimit(2, time.Minute, func() time.Time { return now }))

	body := `{"items": [{"listing_id": "b", "seller_id": "s"}]}`
	for i := 0; i < 2; i++ {
		if rr := serveRoutes(t, h.Routes, http.MethodPost, "/quotes", body, "buyer-1"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := serveRoutes(t, h.Routes, http.MethodPost, "/quotes", body, "buyer-1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr := serveRoutes(t, h.Routes, http.MethodPost, "/quotes", body, "buyer-2"); rr.Code != http.StatusOK {
		t.Fatalf("expected independent bucket for another buyer, got %d", rr.Code)
	}
}

func TestCheckoutHandlersUpstreamUnavailable(t *testing.T) {
	svc := &stubCheckoutService{
		quoteFn: func(context.Context, services.QuoteCartCommand) (services.CartQuotes, error) {
			return services.CartQuotes{}, errors.Join(services.ErrUpstreamUnavailable, errors.New("store down"))
		},
	}
	rr := serveRoutes(t, NewCheckoutHandlers(nil, svc).Routes, http.MethodPost, "/quotes", `{"items": [{"listing_id": "b"}]}`, "buyer-1")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestCheckoutHandlersIdempotencyKeyReplaysOrderCreation(t *testing.T) {
	var calls int
	svc := &stubCheckoutService{
		createFn: func(context.Context, services.CreateSellerOrdersCommand) (services.CreateSellerOrdersResult, error) {
			calls++
			return services.CreateSellerOrdersResult{Orders: []services.Order{sampleOrder("ord_1", "pending")}}, nil
		},
	}
	guard := idempotency.Middleware(idempotency.NewCacheStore(time.Minute))
	h := NewCheckoutHandlers(nil, svc, WithCheckoutIdempotency(guard))

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{UID: "buyer-1"})))
		})
	})
	router.Route("/", func(r chi.Router) { h.Routes(r) })

	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(checkoutBody))
		req.Header.Set(idempotency.HeaderName, "checkout-1")
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
	}

	if calls != 1 {
		t.Fatalf("expected a single order creation, got %d", calls)
	}
	if last.Code != http.StatusCreated || last.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Fatalf("expected replayed 201, got %d", last.Code)
	}
}

func TestCheckoutHandlersVerifyPayment(t *testing.T) {
	var captured services.ConfirmPaymentCommand
	orders := &stubOrderService{
		confirmPaymentFn: func(_ context.Context, cmd services.ConfirmPaymentCommand) ([]services.Order, error) {
			captured = cmd
			if cmd.PaymentReference == "pi_unknown" {
				return nil, services.ErrOrderNotFound
			}
			return []services.Order{sampleOrder("ord_1", "paid"), sampleOrder("ord_2", "paid")}, nil
		},
	}
	h := NewCheckoutHandlers(nil, &stubCheckoutService{}, WithCheckoutPaymentVerification(orders))

	rr := serveRoutes(t, h.Routes, http.MethodPost, "/payments/pi_123:verify", "", "buyer-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PaymentReference != "pi_123" || captured.ActorID != "buyer-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	var body verifyPaymentResponse
	decodeBody(t, rr, &body)
	if len(body.Orders) != 2 || body.Orders[0].Status != "paid" {
		t.Fatalf("unexpected orders %+v", body.Orders)
	}

	if rr := serveRoutes(t, h.Routes, http.MethodPost, "/payments/pi_123:verify", "", "buyer-2"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another buyer, got %d", rr.Code)
	}
	if rr := serveRoutes(t, h.Routes, http.MethodPost, "/payments/pi_unknown:verify", "", "buyer-1"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown reference, got %d", rr.Code)
	}
}

func TestCheckoutHandlersVerifyPaymentNotRoutedWithoutOrders(t *testing.T) {
	rr := serveRoutes(t, NewCheckoutHandlers(nil, &stubCheckoutService{}).Routes, http.MethodPost, "/payments/pi_123:verify", "", "buyer-1")
	if rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected verify route to be absent, got %d", rr.Code)
	}
}
