package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/auth"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/httpx"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

const (
	defaultBodyLimit = 64 * 1024
	defaultListLimit = 20
	maxListLimit     = 100
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and decodes a JSON request body, writing the error response itself.
// When optional is set an empty body leaves dst untouched.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any, optional bool) bool {
	ctx := r.Context()
	data, err := readLimitedBody(r, limit)
	switch {
	case errors.Is(err, errEmptyBody):
		if optional {
			return true
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return false
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeServiceError maps service sentinels onto API error envelopes.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrIncompleteAddress):
		httpx.WriteError(ctx, w, httpx.NewError("incomplete_address", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrNoPayableRecipient):
		httpx.WriteError(ctx, w, httpx.NewError("seller_not_payable", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "actor may not perform this action", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPayoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payout_not_found", "payout not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDeadlinePassed):
		httpx.WriteError(ctx, w, httpx.NewError("deadline_passed", "commit deadline has passed", http.StatusConflict))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPayoutNotReplayable):
		httpx.WriteError(ctx, w, httpx.NewError("payout_not_replayable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrConflictRetry):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "resource was modified concurrently, retry", http.StatusConflict))
	case errors.Is(err, services.ErrUpstreamUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_unavailable", "dependency unavailable, retry later", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", strings.ReplaceAll(name, "_", " ")+" unavailable", http.StatusServiceUnavailable))
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// actorFor derives the lifecycle actor from the caller identity. Staff act with operator
// privileges; everyone else is resolved against the order by the lifecycle engine.
func actorFor(identity *auth.Identity, kind services.ActorKind) services.Actor {
	if identity.IsStaff() {
		return services.Actor{ID: identity.UID, Kind: services.ActorStaff}
	}
	return services.Actor{ID: identity.UID, Kind: kind}
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	switch {
	case limit <= 0:
		return defaultListLimit, nil
	case limit > maxListLimit:
		return maxListLimit, nil
	}
	return limit, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
