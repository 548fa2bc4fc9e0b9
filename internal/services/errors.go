package services

import (
	"errors"
	"fmt"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
)

var (
	// ErrValidation signals the caller provided invalid data.
	ErrValidation = errors.New("fulfilment: validation failed")
	// ErrIncompleteAddress indicates a buyer or seller address lacks required parts.
	ErrIncompleteAddress = fmt.Errorf("%w: incomplete address", ErrValidation)
	// ErrNoPayableRecipient indicates the seller has no payout recipient registered.
	ErrNoPayableRecipient = fmt.Errorf("%w: seller has no payable recipient", ErrValidation)
	// ErrInvalidTransition indicates the event is not permitted from the order's current status.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrUnauthorized indicates the actor may not perform the event on the order.
	ErrUnauthorized = errors.New("order: actor not permitted")
	// ErrDeadlinePassed indicates the seller commit window already closed.
	ErrDeadlinePassed = errors.New("order: commit deadline passed")
	// ErrUpstreamUnavailable indicates a store or gateway could not be reached.
	ErrUpstreamUnavailable = errors.New("fulfilment: upstream unavailable")
	// ErrConflictRetry indicates a conditional update lost against a concurrent writer.
	ErrConflictRetry = errors.New("fulfilment: concurrent modification")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrPayoutNotFound indicates the payout transaction could not be located.
	ErrPayoutNotFound = errors.New("payout: not found")
)

func mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflictRetry, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
	}
	return err
}
