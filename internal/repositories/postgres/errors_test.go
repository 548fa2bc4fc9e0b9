package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
)

func TestWrapErrorClassifies(t *testing.T) {
	if err := wrapError("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := wrapError("orders.get", fmt.Errorf("scan: %w", pgx.ErrNoRows)); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := wrapError("payouts.create", &pgconn.PgError{Code: sqlStateUniqueViolation}); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := wrapError("orders.update", &pgconn.PgError{Code: sqlStateSerializationFailure}); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict for serialization failure, got %v", err)
	}
	if err := wrapError("orders.list", &pgconn.PgError{Code: sqlStateAdminShutdown}); !repositories.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	err := wrapError("orders.list", &pgconn.PgError{Code: "42601"})
	if repositories.IsConflict(err) || repositories.IsNotFound(err) || repositories.IsUnavailable(err) {
		t.Fatalf("expected unclassified error, got %v", err)
	}
}

func TestWrapErrorPassesThrough(t *testing.T) {
	if err := wrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation preserved, got %v", err)
	}
	conflict := repositories.NewConflictError("orders.update", errors.New("stale"))
	if err := wrapError("orders.insert", conflict); err != error(conflict) {
		t.Fatalf("expected repository error unchanged, got %v", err)
	}
}

func TestSQLLimit(t *testing.T) {
	if sqlLimit(0) != nil {
		t.Fatalf("expected nil for unbounded limit")
	}
	if got := sqlLimit(5); got == nil || *got != 5 {
		t.Fatalf("expected 5, got %v", got)
	}
}
