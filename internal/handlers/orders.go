package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/auth"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/httpx"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

const maxOrderActionBodySize = 4 * 1024

type orderActionRequest struct {
	Reason string `json:"reason"`
}

type markDeliveredRequest struct {
	TrackingNumber string `json:"tracking_number"`
	CourierName    string `json:"courier_name"`
}

// OrderHandlers exposes order reads and buyer/seller lifecycle actions.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderLifecycleService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderLifecycleService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:commit", h.commitOrder)
	r.Post("/{orderID}:decline", h.declineOrder)
	r.Post("/{orderID}:confirm-receipt", h.confirmReceipt)
	r.Post("/{orderID}:mark-delivered", h.markDelivered)
	r.Post("/{orderID}:dispute", h.raiseDispute)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
		return
	}
	orders, err := h.orders.ListBuyerOrders(ctx, identity.UID, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newOrderListResponse(orders))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID, actorFor(identity, services.ActorBuyer))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

func (h *OrderHandlers) commitOrder(w http.ResponseWriter, r *http.Request) {
	h.applyAction(w, r, services.ActorSeller, func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
		return h.orders.Commit(ctx, cmd)
	})
}

func (h *OrderHandlers) declineOrder(w http.ResponseWriter, r *http.Request) {
	h.applyAction(w, r, services.ActorSeller, func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
		return h.orders.Decline(ctx, cmd)
	})
}

func (h *OrderHandlers) confirmReceipt(w http.ResponseWriter, r *http.Request) {
	h.applyAction(w, r, services.ActorBuyer, func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
		return h.orders.ConfirmReceipt(ctx, cmd)
	})
}

func (h *OrderHandlers) raiseDispute(w http.ResponseWriter, r *http.Request) {
	h.applyAction(w, r, services.ActorBuyer, func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
		return h.orders.RaiseDispute(ctx, cmd)
	})
}

type orderAction func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error)

func (h *OrderHandlers) applyAction(w http.ResponseWriter, r *http.Request, kind services.ActorKind, action orderAction) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req orderActionRequest
	if !decodeJSONBody(w, r, maxOrderActionBodySize, &req, true) {
		return
	}
	order, err := action(ctx, services.OrderActionCommand{
		OrderID: orderID,
		Actor:   actorFor(identity, kind),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

// markDelivered is the buyer-reported (or staff) delivery path; courier updates arrive on the
// internal courier events endpoint.
func (h *OrderHandlers) markDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req markDeliveredRequest
	if !decodeJSONBody(w, r, maxOrderActionBodySize, &req, true) {
		return
	}
	order, err := h.orders.MarkDelivered(ctx, services.ShipmentUpdateCommand{
		OrderID:        orderID,
		Actor:          actorFor(identity, services.ActorBuyer),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		CourierName:    strings.TrimSpace(req.CourierName),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_order_id", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}
