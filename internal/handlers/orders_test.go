package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

func TestOrderHandlersGetOrder(t *testing.T) {
	var actor services.Actor
	svc := &stubOrderService{
		getFn: func(_ context.Context, id string, a services.Actor) (services.Order, error) {
			actor = a
			return sampleOrder(id, domain.OrderStatusPaid), nil
		},
	}
	rr := serveRoutes(t, NewOrderHandlers(nil, svc).Routes, http.MethodGet, "/ord_1", "", "buyer-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if actor.ID != "buyer-1" || actor.Kind != services.ActorBuyer {
		t.Fatalf("unexpected actor %+v", actor)
	}
	var body orderResponse
	decodeBody(t, rr, &body)
	if body.Order.ID != "ord_1" || body.Order.Status != "paid" || body.Order.CommitDeadline == "" {
		t.Fatalf("unexpected order %+v", body.Order)
	}
	if body.Order.Totals.SellerAmount != 18000 || body.Order.Totals.PlatformCommission != 2000 {
		t.Fatalf("unexpected totals %+v", body.Order.Totals)
	}
}

func TestOrderHandlersListOrdersClampsLimit(t *testing.T) {
	var gotLimit int
	svc := &stubOrderService{
		listFn: func(_ context.Context, buyerID string, limit int) ([]services.Order, error) {
			gotLimit = limit
			return []services.Order{sampleOrder("ord_1", domain.OrderStatusPaid), sampleOrder("ord_2", domain.OrderStatusCompleted)}, nil
		},
	}
	h := NewOrderHandlers(nil, svc)

	rr := serveRoutes(t, h.Routes, http.MethodGet, "/?limit=500", "", "buyer-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotLimit != maxListLimit {
		t.Fatalf("expected limit clamped to %d, got %d", maxListLimit, gotLimit)
	}
	var body orderListResponse
	decodeBody(t, rr, &body)
	if len(body.Items) != 2 {
		t.Fatalf("expected two orders, got %d", len(body.Items))
	}

	rr = serveRoutes(t, h.Routes, http.MethodGet, "/?limit=abc", "", "buyer-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid limit, got %d", rr.Code)
	}
}

func TestOrderHandlersActionsDispatch(t *testing.T) {
	tests := []struct {
		path  string
		event string
		kind  services.ActorKind
	}{
		{path: "/ord_1:commit", event: "commit", kind: services.ActorSeller},
		{path: "/ord_1:decline", event: "decline", kind: services.ActorSeller},
		{path: "/ord_1:confirm-receipt", event: "confirm_receipt", kind: services.ActorBuyer},
		{path: "/ord_1:dispute", event: "dispute", kind: services.ActorBuyer},
	}
	for _, tc := range tests {
		t.Run(tc.event, func(t *testing.T) {
			var gotEvent string
			var gotCmd services.OrderActionCommand
			svc := &stubOrderService{
				actionFn: func(_ context.Context, event string, cmd services.OrderActionCommand) (services.Order, error) {
					gotEvent = event
					gotCmd = cmd
					return sampleOrder(cmd.OrderID, domain.OrderStatusCommitted), nil
				},
			}
			rr := serveRoutes(t, NewOrderHandlers(nil, svc).Routes, http.MethodPost, tc.path, `{"reason": " out of stock "}`, "user-1")
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if gotEvent != tc.event {
				t.Fatalf("expected %s, got %s", tc.event, gotEvent)
			}
			if gotCmd.OrderID != "ord_1" || gotCmd.Actor.ID != "user-1" || gotCmd.Actor.Kind != tc.kind || gotCmd.Reason != "out of stock" {
				t.Fatalf("unexpected command %+v", gotCmd)
			}
		})
	}
}

func TestOrderHandlersActionWithoutBody(t *testing.T) {
	svc := &stubOrderService{}
	rr := serveRoutes(t, NewOrderHandlers(nil, svc).Routes, http.MethodPost, "/ord_1:commit", "", "seller-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected empty body to be accepted, got %d", rr.Code)
	}
}

func TestOrderHandlersMarkDelivered(t *testing.T) {
	var gotCmd services.ShipmentUpdateCommand
	svc := &stubOrderService{
		shipmentFn: func(_ context.Context, event string, cmd services.ShipmentUpdateCommand) (services.Order, error) {
			if event != "delivered" {
				t.Fatalf("unexpected event %s", event)
			}
			gotCmd = cmd
			return sampleOrder(cmd.OrderID, domain.OrderStatusDelivered), nil
		},
	}
	rr := serveRoutes(t, NewOrderHandlers(nil, svc).Routes, http.MethodPost, "/ord_1:mark-delivered", `{"tracking_number": "TRK1"}`, "buyer-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotCmd.TrackingNumber != "TRK1" || gotCmd.Actor.Kind != services.ActorBuyer {
		t.Fatalf("unexpected command %+v", gotCmd)
	}
}

func TestOrderHandlersErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "not found", err: fmt.Errorf("%w: ord_1", services.ErrOrderNotFound), status: http.StatusNotFound, code: "order_not_found"},
		{name: "forbidden", err: services.ErrUnauthorized, status: http.StatusForbidden, code: "forbidden"},
		{name: "invalid transition", err: fmt.Errorf("%w: commit from expired", services.ErrInvalidTransition), status: http.StatusConflict, code: "invalid_transition"},
		{name: "deadline", err: services.ErrDeadlinePassed, status: http.StatusConflict, code: "deadline_passed"},
		{name: "conflict", err: services.ErrConflictRetry, status: http.StatusConflict, code: "conflict"},
		{name: "upstream", err: services.ErrUpstreamUnavailable, status: http.StatusServiceUnavailable, code: "upstream_unavailable"},
		{name: "unknown", err: fmt.Errorf("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				actionFn: func(context.Context, string, services.OrderActionCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			rr := serveRoutes(t, NewOrderHandlers(nil, svc).Routes, http.MethodPost, "/ord_1:commit", "", "seller-1")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, code)
			}
		})
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	rr := serveRoutes(t, NewOrderHandlers(nil, &stubOrderService{}).Routes, http.MethodGet, "/ord_1", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestSellerHandlersPendingCommits(t *testing.T) {
	var gotSeller string
	svc := &stubOrderService{
		pendingFn: func(_ context.Context, sellerID string) ([]services.Order, error) {
			gotSeller = sellerID
			return []services.Order{sampleOrder("ord_1", domain.OrderStatusPaid)}, nil
		},
	}
	rr := serveRoutes(t, NewSellerHandlers(nil, svc).Routes, http.MethodGet, "/me/pending-commits", "", "seller-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotSeller != "seller-1" {
		t.Fatalf("expected seller-1, got %s", gotSeller)
	}
	var body orderListResponse
	decodeBody(t, rr, &body)
	if len(body.Items) != 1 || body.Items[0].ID != "ord_1" {
		t.Fatalf("unexpected items %+v", body.Items)
	}
}
