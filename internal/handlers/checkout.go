package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/auth"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/httpx"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

const (
	maxCheckoutRequestBody = 64 * 1024
	checkoutRateLimit      = 30
	checkoutRateWindow     = time.Minute
)

// CheckoutHandlers exposes quote and order creation endpoints for authenticated buyers.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	orders   services.OrderLifecycleService
	limiter  rateLimiter
	replay   func(http.Handler) http.Handler
}

// CheckoutOption customises checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimit overrides the per-buyer request budget.
func WithCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newKeyedRateLimiter(limit, window, clock)
	}
}

// WithCheckoutIdempotency guards order creation with an Idempotency-Key middleware.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.replay = mw
	}
}

// WithCheckoutPaymentVerification lets buyers confirm a payment without waiting for the webhook.
func WithCheckoutPaymentVerification(orders services.OrderLifecycleService) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.orders = orders
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
		limiter:  newKeyedRateLimiter(checkoutRateLimit, checkoutRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Use(rateLimitByIdentity(h.limiter))
	r.Post("/quotes", h.quoteCart)
	if h.replay != nil {
		r.With(h.replay).Post("/orders", h.createOrders)
	} else {
		r.Post("/orders", h.createOrders)
	}
	if h.orders != nil {
		r.Post("/payments/{reference}:verify", h.verifyPayment)
	}
}

type quoteCartRequest struct {
	Items           []cartItemPayload `json:"items"`
	DeliveryAddress addressPayload    `json:"delivery_address"`
}

type sellerQuotesPayload struct {
	SellerID    string         `json:"seller_id"`
	Subtotal    int64          `json:"subtotal"`
	WeightGrams int            `json:"weight_grams"`
	Options     []quotePayload `json:"options"`
	Blocked     bool           `json:"blocked,omitempty"`
	BlockReason string         `json:"block_reason,omitempty"`
}

type quoteCartResponse struct {
	Sellers []sellerQuotesPayload `json:"sellers"`
}

func (h *CheckoutHandlers) quoteCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w, "checkout_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req quoteCartRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req, false) {
		return
	}
	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "items must not be empty", http.StatusBadRequest))
		return
	}

	quotes, err := h.checkout.QuoteCart(ctx, services.QuoteCartCommand{
		BuyerID:         identity.UID,
		Items:           cartItemsFromPayload(req.Items),
		DeliveryAddress: req.DeliveryAddress.toDomain(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := quoteCartResponse{Sellers: make([]sellerQuotesPayload, 0, len(quotes.Sellers))}
	for _, seller := range quotes.Sellers {
		options := make([]quotePayload, 0, len(seller.Options))
		for _, option := range seller.Options {
			options = append(options, newQuotePayload(option))
		}
		resp.Sellers = append(resp.Sellers, sellerQuotesPayload{
			SellerID:    seller.SellerID,
			Subtotal:    seller.Subtotal,
			WeightGrams: seller.WeightGrams,
			Options:     options,
			Blocked:     seller.Blocked,
			BlockReason: seller.BlockReason,
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type createOrdersRequest struct {
	PaymentReference string                  `json:"payment_reference"`
	Currency         string                  `json:"currency"`
	Items            []cartItemPayload       `json:"items"`
	DeliveryAddress  addressPayload          `json:"delivery_address"`
	SelectedQuotes   map[string]quotePayload `json:"selected_quotes"`
}

type blockedSellerPayload struct {
	SellerID string `json:"seller_id"`
	Reason   string `json:"reason"`
	Items    int    `json:"items"`
}

type createOrdersResponse struct {
	Orders   []orderPayload         `json:"orders"`
	Blocked  []blockedSellerPayload `json:"blocked,omitempty"`
	Replayed bool                   `json:"replayed,omitempty"`
}

func (h *CheckoutHandlers) createOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w, "checkout_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createOrdersRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req, false) {
		return
	}
	reference := strings.TrimSpace(req.PaymentReference)
	if reference == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_reference is required", http.StatusBadRequest))
		return
	}
	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "items must not be empty", http.StatusBadRequest))
		return
	}

	selected := make(map[string]services.CourierQuote, len(req.SelectedQuotes))
	for sellerID, quote := range req.SelectedQuotes {
		if sellerID = strings.TrimSpace(sellerID); sellerID != "" {
			selected[sellerID] = quote.toDomain()
		}
	}

	result, err := h.checkout.CreateSellerOrders(ctx, services.CreateSellerOrdersCommand{
		BuyerID:          identity.UID,
		PaymentReference: reference,
		Currency:         strings.TrimSpace(req.Currency),
		Items:            cartItemsFromPayload(req.Items),
		DeliveryAddress:  req.DeliveryAddress.toDomain(),
		SelectedQuotes:   selected,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := createOrdersResponse{
		Orders:   make([]orderPayload, 0, len(result.Orders)),
		Replayed: result.Replayed,
	}
	for _, order := range result.Orders {
		resp.Orders = append(resp.Orders, newOrderPayload(order))
	}
	for _, blocked := range result.Blocked {
		reason := ""
		if blocked.Reason != nil {
			reason = blocked.Reason.Error()
		}
		resp.Blocked = append(resp.Blocked, blockedSellerPayload{
			SellerID: blocked.SellerID,
			Reason:   reason,
			Items:    len(blocked.Items),
		})
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, resp)
}

type verifyPaymentResponse struct {
	Orders []orderPayload `json:"orders"`
}

// verifyPayment asks the gateway about the payment and moves the buyer's pending orders to paid.
// Only the caller's own orders are returned.
func (h *CheckoutHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment reference is required", http.StatusBadRequest))
		return
	}
	orders, err := h.orders.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		PaymentReference: reference,
		ActorID:          identity.UID,
	})
	resp := verifyPaymentResponse{Orders: make([]orderPayload, 0, len(orders))}
	for _, order := range orders {
		if order.BuyerID == identity.UID {
			resp.Orders = append(resp.Orders, newOrderPayload(order))
		}
	}
	if len(orders) > 0 && len(resp.Orders) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "no orders for payment reference", http.StatusNotFound))
		return
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
