package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/httpx"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

const (
	maxWebhookBodySize       = 256 * 1024
	stripeSignatureHeader    = "Stripe-Signature"
	stripeSignatureTolerance = 5 * time.Minute
	stripeWebhookActor       = "stripe-webhook"
)

// PaymentWebhookHandlers receives signed payment provider callbacks.
type PaymentWebhookHandlers struct {
	orders        services.OrderLifecycleService
	signingSecret string
	tolerance     time.Duration
}

// NewPaymentWebhookHandlers constructs handlers verifying Stripe signatures with secret.
func NewPaymentWebhookHandlers(orders services.OrderLifecycleService, secret string) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{
		orders:        orders,
		signingSecret: strings.TrimSpace(secret),
		tolerance:     stripeSignatureTolerance,
	}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.handleStripe)
}

type stripeWebhookResponse struct {
	Received bool   `json:"received"`
	Event    string `json:"event"`
	Orders   int    `json:"orders,omitempty"`
}

func (h *PaymentWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.signingSecret == "" {
		writeServiceUnavailable(ctx, w, "payment_webhook")
		return
	}
	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", err.Error(), status))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get(stripeSignatureHeader), h.signingSecret, webhook.ConstructEventOptions{
		Tolerance:                h.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
		return
	}

	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		writeJSONResponse(w, http.StatusOK, stripeWebhookResponse{Received: true, Event: string(event.Type)})
		return
	}

	var intent stripe.PaymentIntent
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &intent) != nil || strings.TrimSpace(intent.ID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "payment intent missing from event", http.StatusBadRequest))
		return
	}

	orders, err := h.orders.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		PaymentReference: intent.ID,
		ActorID:          stripeWebhookActor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stripeWebhookResponse{Received: true, Event: string(event.Type), Orders: len(orders)})
}
