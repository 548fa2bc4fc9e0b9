package domain

import (
	"strings"
	"time"
)

// OrderStatus enumerates valid lifecycle states for seller orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was created at checkout and awaits payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment was captured and the seller commit window is open.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusCommitted indicates the seller accepted the sale inside the commit window.
	OrderStatusCommitted OrderStatus = "committed"
	// OrderStatusCollected indicates the courier picked the parcel up from the seller.
	OrderStatusCollected OrderStatus = "collected"
	// OrderStatusInTransit indicates the parcel is en route to the buyer.
	OrderStatusInTransit OrderStatus = "in_transit"
	// OrderStatusDelivered indicates the parcel reached the buyer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted indicates the buyer confirmed receipt (or the confirmation window lapsed).
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the seller declined the sale.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusExpired indicates the commit window lapsed without seller action.
	OrderStatusExpired OrderStatus = "expired"
	// OrderStatusRefunded indicates the buyer was refunded after a dispute.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusDisputed indicates a dispute froze the order pending manual resolution.
	OrderStatusDisputed OrderStatus = "disputed"
)

var terminalOrderStatuses = map[OrderStatus]struct{}{
	OrderStatusCompleted: {},
	OrderStatusCancelled: {},
	OrderStatusExpired:   {},
	OrderStatusRefunded:  {},
}

var knownOrderStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:   {},
	OrderStatusPaid:      {},
	OrderStatusCommitted: {},
	OrderStatusCollected: {},
	OrderStatusInTransit: {},
	OrderStatusDelivered: {},
	OrderStatusCompleted: {},
	OrderStatusCancelled: {},
	OrderStatusExpired:   {},
	OrderStatusRefunded:  {},
	OrderStatusDisputed:  {},
}

// IsTerminal reports whether no further transition may be applied.
func (s OrderStatus) IsTerminal() bool {
	_, ok := terminalOrderStatuses[s]
	return ok
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	_, ok := knownOrderStatuses[s]
	return ok
}

// ParseOrderStatus normalises raw input into an OrderStatus.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", false
	}
	return status, true
}

// Order is the per-seller sub-order produced by checkout.
type Order struct {
	ID                 string
	BuyerID            string
	SellerID           string
	Items              []ItemRef
	Currency           string
	Amount             int64
	Subtotal           int64
	DeliveryFee        int64
	PlatformCommission int64
	SellerAmount       int64
	Status             OrderStatus
	PaymentReference   string
	CommitDeadline     *time.Time
	SellerCommitted    bool
	CommittedAt        *time.Time
	PayoutHeld         bool
	PayoutQueuedAt     *time.Time
	PayoutCompletedAt  *time.Time
	// RefundDue and PayoutDue are written together with the status and cleared once the
	// follow-up reached the gateway or the payout queue. Sweeps retry flagged orders.
	RefundDue          bool
	PayoutDue          bool
	DeliveryAddress    Address
	PickupAddress      Address
	Courier            *CourierQuote
	TrackingNumber     string
	CourierName        string
	CancellationReason string
	DisputeReason      string
	DisputedFrom       OrderStatus
	Refund             *RefundRecord
	PaidAt             *time.Time
	CollectedAt        *time.Time
	InTransitAt        *time.Time
	DeliveredAt        *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	ExpiredAt          *time.Time
	DisputedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NeedsRefund reports whether an unwound order still has to return the buyer's money.
func (o Order) NeedsRefund() bool {
	switch o.Status {
	case OrderStatusCancelled, OrderStatusExpired, OrderStatusRefunded:
	default:
		return false
	}
	if strings.TrimSpace(o.PaymentReference) == "" || o.Amount <= 0 {
		return false
	}
	return o.Refund == nil || o.Refund.Status != RefundStatusInitiated
}

// PayoutAmount is the sum remitted to the seller: item proceeds plus the delivery fee pass-through.
func (o Order) PayoutAmount() int64 {
	return o.SellerAmount + o.DeliveryFee
}

// ListingIDs returns the listing identifiers referenced by the order items.
func (o Order) ListingIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if id := strings.TrimSpace(item.ListingID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// ItemRef snapshots a purchased listing at the time of sale.
type ItemRef struct {
	ListingID   string
	Title       string
	UnitPrice   int64
	Quantity    int
	WeightGrams int
	ImageRef    string
}

// LineTotal returns the snapshotted price multiplied by the quantity.
func (i ItemRef) LineTotal() int64 {
	qty := i.Quantity
	if qty <= 0 {
		qty = 1
	}
	return i.UnitPrice * int64(qty)
}

// RefundStatus tracks the outcome of a refund initiation.
type RefundStatus string

const (
	// RefundStatusInitiated indicates the gateway accepted the refund request.
	RefundStatusInitiated RefundStatus = "initiated"
	// RefundStatusFailed indicates the last refund request failed; the refund sweep retries it.
	RefundStatusFailed RefundStatus = "failed"
)

// RefundRecord stores the refund attempt attached to a cancelled, expired or refunded order.
type RefundRecord struct {
	Reference   string
	Status      RefundStatus
	Amount      int64
	Error       string
	Attempts    int
	RequestedAt time.Time
}

// PayoutStatus enumerates payout transaction states.
type PayoutStatus string

const (
	// PayoutStatusPending indicates the transaction waits for the next settlement batch.
	PayoutStatusPending PayoutStatus = "pending"
	// PayoutStatusProcessing indicates a worker claimed the transaction.
	PayoutStatusProcessing PayoutStatus = "processing"
	// PayoutStatusCompleted indicates the gateway accepted the transfer.
	PayoutStatusCompleted PayoutStatus = "completed"
	// PayoutStatusFailed indicates retries were exhausted; manual replay is required.
	PayoutStatusFailed PayoutStatus = "failed"
)

// PayoutTransaction tracks the transfer of seller proceeds for a single order.
type PayoutTransaction struct {
	ID             string
	OrderID        string
	SellerID       string
	Amount         int64
	Currency       string
	Status         PayoutStatus
	RetryCount     int
	Attempt        int
	Reference      string
	RecipientCode  string
	TransferCode   string
	ErrorMessage   string
	ReviewRequired bool
	ClaimedAt      *time.Time
	CompletedAt    *time.Time
	FailedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PayoutIDForOrder derives the payout identifier so that an order never owns two transactions.
func PayoutIDForOrder(orderID string) string {
	orderID = strings.TrimSpace(orderID)
	return "pay_" + strings.TrimPrefix(orderID, "ord_")
}

// Address is the postal contract the core requires from address entry.
type Address struct {
	Street     string
	Street2    string
	Suburb     string
	City       string
	Province   string
	PostalCode string
	Country    string
	Phone      string
}

// MissingFields lists the required address parts that are empty.
func (a Address) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(a.Street) == "" {
		missing = append(missing, "street")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.Province) == "" {
		missing = append(missing, "province")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		missing = append(missing, "postal_code")
	}
	return missing
}

// Complete reports whether street, city, province and postal code are present.
func (a Address) Complete() bool {
	return len(a.MissingFields()) == 0
}

// Seller is the read-only seller profile the core needs for checkout and payouts.
type Seller struct {
	ID            string
	DisplayName   string
	Email         string
	Phone         string
	RecipientCode string
	PickupAddress Address
}

// HasPayableRecipient reports whether a gateway recipient is registered for the seller.
func (s Seller) HasPayableRecipient() bool {
	return strings.TrimSpace(s.RecipientCode) != ""
}

// CartItem is a raw cart line before splitting; the unit price is the one captured when added.
type CartItem struct {
	ListingID   string
	SellerID    string
	Title       string
	UnitPrice   int64
	Quantity    int
	WeightGrams int
	ImageRef    string
}

// SellerCart groups the cart lines of one seller with the computed commission split.
type SellerCart struct {
	SellerID           string
	Items              []CartItem
	Subtotal           int64
	PlatformCommission int64
	SellerReceives     int64
	DeliveryFee        int64
	Total              int64
	WeightGrams        int
	CourierQuote       CourierQuote
	PickupAddress      Address
	RecipientCode      string
}
