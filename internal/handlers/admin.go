package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/auth"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/httpx"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

const maxAdminBodySize = 8 * 1024

// AdminHandlers exposes operator endpoints for payouts and disputes.
type AdminHandlers struct {
	authn   *auth.Authenticator
	payouts services.PayoutService
	orders  services.OrderLifecycleService
}

// NewAdminHandlers constructs admin handlers restricted to staff and admin roles.
func NewAdminHandlers(authn *auth.Authenticator, payouts services.PayoutService, orders services.OrderLifecycleService) *AdminHandlers {
	return &AdminHandlers{authn: authn, payouts: payouts, orders: orders}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/payouts/failed", h.listFailedPayouts)
	r.Post("/payouts/{payoutID}:replay", h.replayPayout)
	r.Post("/orders/{orderID}:resolve-dispute", h.resolveDispute)
	r.Post("/orders/{orderID}:hold-payout", h.holdPayout)
}

type payoutListResponse struct {
	Items []payoutPayload `json:"items"`
}

type payoutResponse struct {
	Payout payoutPayload `json:"payout"`
}

func (h *AdminHandlers) listFailedPayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payouts == nil {
		writeServiceUnavailable(ctx, w, "payout_service")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
		return
	}
	failed, err := h.payouts.ListFailed(ctx, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := payoutListResponse{Items: make([]payoutPayload, 0, len(failed))}
	for _, txn := range failed {
		resp.Items = append(resp.Items, newPayoutPayload(txn))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminHandlers) replayPayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payouts == nil {
		writeServiceUnavailable(ctx, w, "payout_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	payoutID := strings.TrimSpace(chi.URLParam(r, "payoutID"))
	if payoutID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payout_id", "payout id is required", http.StatusBadRequest))
		return
	}
	txn, err := h.payouts.Replay(ctx, payoutID, services.Actor{ID: identity.UID, Kind: services.ActorStaff})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, payoutResponse{Payout: newPayoutPayload(txn)})
}

type resolveDisputeRequest struct {
	Resolution string `json:"resolution"`
	Note       string `json:"note"`
}

func (h *AdminHandlers) resolveDispute(w http.ResponseWriter, r *http.Request) {
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
	var req resolveDisputeRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, &req, false) {
		return
	}
	resolution := services.DisputeResolution(strings.ToLower(strings.TrimSpace(req.Resolution)))
	if resolution != services.DisputeResolutionRefund && resolution != services.DisputeResolutionRelease {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "resolution must be refund or release", http.StatusBadRequest))
		return
	}
	order, err := h.orders.ResolveDispute(ctx, services.ResolveDisputeCommand{
		OrderID:    orderID,
		Actor:      services.Actor{ID: identity.UID, Kind: services.ActorStaff},
		Resolution: resolution,
		Note:       strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

type holdPayoutRequest struct {
	Held *bool `json:"held"`
}

func (h *AdminHandlers) holdPayout(w http.ResponseWriter, r *http.Request) {
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
	var req holdPayoutRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, &req, false) {
		return
	}
	if req.Held == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "held is required", http.StatusBadRequest))
		return
	}
	order, err := h.orders.SetPayoutHold(ctx, services.PayoutHoldCommand{
		OrderID: orderID,
		Actor:   services.Actor{ID: identity.UID, Kind: services.ActorStaff},
		Held:    *req.Held,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}
