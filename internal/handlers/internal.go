package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/auth"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/httpx"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

const maxCourierEventBodySize = 16 * 1024

// Courier tracking event names accepted on the internal endpoint.
const (
	courierEventCollected = "collected"
	courierEventInTransit = "in_transit"
	courierEventDelivered = "delivered"
)

// InternalHandlers exposes scheduler and courier callbacks. Authentication is applied by the
// router through the internal middleware chain (OIDC).
type InternalHandlers struct {
	sweeper services.ExpirySweeper
	payouts services.PayoutService
	orders  services.OrderLifecycleService
}

// NewInternalHandlers wires the background job triggers.
func NewInternalHandlers(sweeper services.ExpirySweeper, payouts services.PayoutService, orders services.OrderLifecycleService) *InternalHandlers {
	return &InternalHandlers{sweeper: sweeper, payouts: payouts, orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sweeps/expiry", h.sweepExpiry)
	r.Post("/sweeps/delivery-confirmations", h.sweepDeliveryConfirmations)
	r.Post("/sweeps/refunds", h.sweepRefunds)
	r.Post("/payouts:run", h.runPayouts)
	r.Post("/payouts:reconcile", h.reconcilePayouts)
	r.Post("/courier/events", h.courierEvent)
}

type sweepResponse struct {
	Scanned      int `json:"scanned"`
	Transitioned int `json:"transitioned"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
}

type payoutBatchResponse struct {
	Enqueued  int `json:"enqueued"`
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
	Ambiguous int `json:"ambiguous"`
	Skipped   int `json:"skipped"`
}

func (h *InternalHandlers) sweepExpiry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		writeServiceUnavailable(ctx, w, "expiry_sweeper")
		return
	}
	result, err := h.sweeper.Sweep(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newSweepResponse(result))
}

func (h *InternalHandlers) sweepDeliveryConfirmations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		writeServiceUnavailable(ctx, w, "expiry_sweeper")
		return
	}
	result, err := h.sweeper.SweepDeliveryConfirmations(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newSweepResponse(result))
}

func (h *InternalHandlers) sweepRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		writeServiceUnavailable(ctx, w, "expiry_sweeper")
		return
	}
	result, err := h.sweeper.SweepRefunds(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newSweepResponse(result))
}

func (h *InternalHandlers) runPayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payouts == nil {
		writeServiceUnavailable(ctx, w, "payout_service")
		return
	}
	result, err := h.payouts.RunBatch(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newPayoutBatchResponse(result))
}

func (h *InternalHandlers) reconcilePayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payouts == nil {
		writeServiceUnavailable(ctx, w, "payout_service")
		return
	}
	result, err := h.payouts.Reconcile(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newPayoutBatchResponse(result))
}

type courierEventRequest struct {
	OrderID        string `json:"order_id"`
	Event          string `json:"event"`
	TrackingNumber string `json:"tracking_number"`
	CourierName    string `json:"courier_name"`
}

func (h *InternalHandlers) courierEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order_service")
		return
	}
	var req courierEventRequest
	if !decodeJSONBody(w, r, maxCourierEventBodySize, &req, false) {
		return
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}

	actor := services.Actor{Kind: services.ActorCourier}
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok {
		actor.ID = identity.Subject
	}
	cmd := services.ShipmentUpdateCommand{
		OrderID:        orderID,
		Actor:          actor,
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		CourierName:    strings.TrimSpace(req.CourierName),
	}

	var (
		order services.Order
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(req.Event)) {
	case courierEventCollected:
		order, err = h.orders.MarkCollected(ctx, cmd)
	case courierEventInTransit:
		order, err = h.orders.MarkInTransit(ctx, cmd)
	case courierEventDelivered:
		order, err = h.orders.MarkDelivered(ctx, cmd)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "event must be one of collected, in_transit, delivered", http.StatusBadRequest))
		return
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

func newSweepResponse(result services.SweepResult) sweepResponse {
	return sweepResponse{
		Scanned:      result.Scanned,
		Transitioned: result.Transitioned,
		Skipped:      result.Skipped,
		Errors:       result.Errors,
	}
}

func newPayoutBatchResponse(result services.PayoutBatchResult) payoutBatchResponse {
	return payoutBatchResponse{
		Enqueued:  result.Enqueued,
		Scanned:   result.Scanned,
		Completed: result.Completed,
		Retrying:  result.Retrying,
		Failed:    result.Failed,
		Ambiguous: result.Ambiguous,
		Skipped:   result.Skipped,
	}
}
