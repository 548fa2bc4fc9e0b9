package services

import (
	"fmt"
	"strings"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
)

// PayoutEligibility decides whether an order's proceeds may be transferred to the seller.
type PayoutEligibility func(order Order) bool

const (
	// EligibilityCompleted pays out once the buyer confirmed receipt or the window lapsed.
	EligibilityCompleted = "completed"
	// EligibilityDelivered pays out as soon as the parcel is delivered.
	EligibilityDelivered = "delivered"
	// EligibilityCollectedHeld pays held orders at collection and all others on completion.
	EligibilityCollectedHeld = "collected_held"
)

// PayoutOnCompleted is the default eligibility rule.
func PayoutOnCompleted(order Order) bool {
	return order.Status == domain.OrderStatusCompleted
}

// PayoutOnDelivered treats delivery as sufficient confirmation.
func PayoutOnDelivered(order Order) bool {
	switch order.Status {
	case domain.OrderStatusDelivered, domain.OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// PayoutOnCollectedHeld releases held orders once the courier collected the parcel.
func PayoutOnCollectedHeld(order Order) bool {
	switch order.Status {
	case domain.OrderStatusCompleted:
		return true
	case domain.OrderStatusCollected, domain.OrderStatusInTransit, domain.OrderStatusDelivered:
		return order.PayoutHeld
	default:
		return false
	}
}

// ParsePayoutEligibility resolves a configured rule name.
func ParsePayoutEligibility(name string) (PayoutEligibility, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EligibilityCompleted:
		return PayoutOnCompleted, nil
	case EligibilityDelivered:
		return PayoutOnDelivered, nil
	case EligibilityCollectedHeld:
		return PayoutOnCollectedHeld, nil
	default:
		return nil, fmt.Errorf("%w: unknown payout eligibility %q", ErrValidation, name)
	}
}

// eligible applies the rule; disputed or unwound orders are never payable.
func (rule PayoutEligibility) eligible(order Order) bool {
	switch order.Status {
	case domain.OrderStatusDisputed, domain.OrderStatusRefunded, domain.OrderStatusCancelled, domain.OrderStatusExpired:
		return false
	}
	if rule == nil {
		return PayoutOnCompleted(order)
	}
	return rule(order)
}
