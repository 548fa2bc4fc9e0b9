package repositories

import (
	"context"
	"time"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
)

// Registry exposes the store backends selected at startup.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Payouts() PayoutRepository
	Sellers() SellerRepository
	Listings() ListingRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderDueField selects the timestamp compared by ListDue.
type OrderDueField string

const (
	// DueByCommitDeadline compares the seller commit deadline.
	DueByCommitDeadline OrderDueField = "commit_deadline"
	// DueByDeliveredAt compares the delivery timestamp.
	DueByDeliveredAt OrderDueField = "delivered_at"
)

// OrderDueFilter selects orders in Status whose Field is strictly before Before.
type OrderDueFilter struct {
	Status domain.OrderStatus
	Field  OrderDueField
	Before time.Time
	Limit  int
}

// FollowUp names an order flag that a sweep retries until it is cleared.
type FollowUp string

const (
	// FollowUpRefund selects unwound orders whose refund has not reached the gateway.
	FollowUpRefund FollowUp = "refund"
	// FollowUpPayout selects payout-eligible orders without a payout transaction.
	FollowUpPayout FollowUp = "payout"
)

// OrderListFilter narrows order listings for a buyer or seller.
type OrderListFilter struct {
	BuyerID  string
	SellerID string
	Status   []domain.OrderStatus
	Limit    int
}

// OrderRepository persists seller orders. Status changes are only written through UpdateIfStatus.
type OrderRepository interface {
	// InsertBatch stores the orders of one checkout. When orders already exist for the payment
	// reference the stored set is returned and nothing is written.
	InsertBatch(ctx context.Context, orders []domain.Order) ([]domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) ([]domain.Order, error)
	// UpdateIfStatus replaces the order only if its stored status equals expected. A mismatch
	// yields a RepositoryError with IsConflict.
	UpdateIfStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error)
	// MarkPayoutCompleted records the payout timestamp without touching the status.
	MarkPayoutCompleted(ctx context.Context, orderID string, at time.Time) error
	// MarkPayoutQueued records that the payout transaction exists and clears PayoutDue.
	MarkPayoutQueued(ctx context.Context, orderID string, at time.Time) error
	// ListFollowUps returns orders flagged for the follow-up, least recently updated first.
	ListFollowUps(ctx context.Context, followUp FollowUp, limit int) ([]domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	ListDue(ctx context.Context, filter OrderDueFilter) ([]domain.Order, error)
}

// PayoutRepository persists payout transactions. At most one transaction exists per order.
type PayoutRepository interface {
	// Create stores the transaction, or returns the existing one for the same order.
	Create(ctx context.Context, txn domain.PayoutTransaction) (domain.PayoutTransaction, bool, error)
	FindByID(ctx context.Context, payoutID string) (domain.PayoutTransaction, error)
	UpdateIfStatus(ctx context.Context, txn domain.PayoutTransaction, expected domain.PayoutStatus) (domain.PayoutTransaction, error)
	ListByStatus(ctx context.Context, status domain.PayoutStatus, limit int) ([]domain.PayoutTransaction, error)
	// ListStaleProcessing returns processing transactions claimed strictly before the cutoff.
	ListStaleProcessing(ctx context.Context, claimedBefore time.Time, limit int) ([]domain.PayoutTransaction, error)
}

// SellerRepository reads seller profiles maintained by onboarding.
type SellerRepository interface {
	FindByID(ctx context.Context, sellerID string) (domain.Seller, error)
}

// ListingRepository flips listing availability when orders commit or unwind.
type ListingRepository interface {
	SetAvailability(ctx context.Context, listingIDs []string, available bool, at time.Time) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
