package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
)

// SQLSTATE codes mapped to repository semantics.
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateTooManyConnections   = "53300"
	sqlStateAdminShutdown        = "57P01"
	sqlStateCannotConnectNow     = "57P03"
)

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.NewNotFoundError(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateUniqueViolation, sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return repositories.NewConflictError(op, err)
		case sqlStateTooManyConnections, sqlStateAdminShutdown, sqlStateCannotConnectNow:
			return repositories.NewUnavailableError(op, err)
		}
		return &repositories.StoreError{Op: op, Kind: repositories.ErrorKindUnknown, Err: err}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return repositories.NewUnavailableError(op, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return repositories.NewUnavailableError(op, err)
	}
	return &repositories.StoreError{Op: op, Kind: repositories.ErrorKindUnknown, Err: err}
}
