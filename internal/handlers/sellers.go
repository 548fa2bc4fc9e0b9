package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/auth"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

// SellerHandlers exposes seller-scoped order queues.
type SellerHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderLifecycleService
}

// NewSellerHandlers constructs seller handlers guarded by Firebase authentication.
func NewSellerHandlers(authn *auth.Authenticator, orders services.OrderLifecycleService) *SellerHandlers {
	return &SellerHandlers{authn: authn, orders: orders}
}

// Routes registers the /sellers endpoints.
func (h *SellerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/me/pending-commits", h.pendingCommits)
}

func (h *SellerHandlers) pendingCommits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.GetPendingCommits(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newOrderListResponse(orders))
}
