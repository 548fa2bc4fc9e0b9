package services

import (
	"context"
	"time"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	ItemRef            = domain.ItemRef
	PayoutTransaction  = domain.PayoutTransaction
	SellerCart         = domain.SellerCart
	CartItem           = domain.CartItem
	CourierQuote       = domain.CourierQuote
	Address            = domain.Address
	Seller             = domain.Seller
	SystemHealthReport = domain.SystemHealthReport
)

// CheckoutService converts a buyer's multi-seller cart into per-seller orders.
type CheckoutService interface {
	QuoteCart(ctx context.Context, cmd QuoteCartCommand) (CartQuotes, error)
	CreateSellerOrders(ctx context.Context, cmd CreateSellerOrdersCommand) (CreateSellerOrdersResult, error)
}

// OrderLifecycleService owns every order status transition.
type OrderLifecycleService interface {
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) ([]Order, error)
	Commit(ctx context.Context, cmd OrderActionCommand) (Order, error)
	Decline(ctx context.Context, cmd OrderActionCommand) (Order, error)
	MarkCollected(ctx context.Context, cmd ShipmentUpdateCommand) (Order, error)
	MarkInTransit(ctx context.Context, cmd ShipmentUpdateCommand) (Order, error)
	MarkDelivered(ctx context.Context, cmd ShipmentUpdateCommand) (Order, error)
	ConfirmReceipt(ctx context.Context, cmd OrderActionCommand) (Order, error)
	CompleteAfterTimeout(ctx context.Context, orderID string) (Order, error)
	Expire(ctx context.Context, orderID string) (Order, error)
	RaiseDispute(ctx context.Context, cmd OrderActionCommand) (Order, error)
	ResolveDispute(ctx context.Context, cmd ResolveDisputeCommand) (Order, error)
	RetryRefund(ctx context.Context, orderID string) (Order, error)
	SetPayoutHold(ctx context.Context, cmd PayoutHoldCommand) (Order, error)

	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	GetPendingCommits(ctx context.Context, sellerID string) ([]Order, error)
	ListBuyerOrders(ctx context.Context, buyerID string, limit int) ([]Order, error)
}

// PayoutService settles seller proceeds through the transfer gateway.
type PayoutService interface {
	Enqueue(ctx context.Context, order Order) (PayoutTransaction, error)
	RunBatch(ctx context.Context) (PayoutBatchResult, error)
	Reconcile(ctx context.Context) (PayoutBatchResult, error)
	ListFailed(ctx context.Context, limit int) ([]PayoutTransaction, error)
	Replay(ctx context.Context, payoutID string, actor Actor) (PayoutTransaction, error)
}

// ExpirySweeper drives the time-based transitions.
type ExpirySweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
	SweepDeliveryConfirmations(ctx context.Context) (SweepResult, error)
	SweepRefunds(ctx context.Context) (SweepResult, error)
}

// SystemService aggregates utility endpoints (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// PayoutEnqueuer is the narrow view of the payout engine used by the lifecycle engine.
type PayoutEnqueuer interface {
	Enqueue(ctx context.Context, order Order) (PayoutTransaction, error)
}

// PaymentGateway verifies captured payments and issues refunds.
type PaymentGateway interface {
	VerifyPayment(ctx context.Context, reference string) (payments.PaymentVerification, error)
	Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error)
}

// TransferGateway moves seller proceeds and reports transfer outcomes.
type TransferGateway interface {
	InitiateTransfer(ctx context.Context, req payments.TransferRequest) (payments.TransferResult, error)
	TransferStatus(ctx context.Context, lookup payments.TransferLookup) (payments.TransferResult, error)
}

// CourierQuoter returns courier options for a parcel. Implementations fall back to static quotes
// rather than fail when providers are unavailable.
type CourierQuoter interface {
	GetQuotes(ctx context.Context, req domain.QuoteRequest) ([]CourierQuote, error)
}

// NotificationChannel selects the delivery medium for a notification.
type NotificationChannel string

const (
	NotificationChannelEmail NotificationChannel = "email"
	NotificationChannelSMS   NotificationChannel = "sms"
	NotificationChannelPush  NotificationChannel = "push"
	NotificationChannelInApp NotificationChannel = "in_app"
)

// Notification is a named template addressed to a user.
type Notification struct {
	Template  string
	Channel   NotificationChannel
	Recipient string
	OrderID   string
	Variables map[string]any
}

// Notifier dispatches notifications without blocking or failing the caller.
type Notifier interface {
	Notify(ctx context.Context, notification Notification)
}

// OrderEventPublisher emits domain events when order state changes.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent describes an order status transition.
type OrderEvent struct {
	Type           string             `json:"type"`
	OrderID        string             `json:"orderId"`
	BuyerID        string             `json:"buyerId"`
	SellerID       string             `json:"sellerId"`
	PreviousStatus domain.OrderStatus `json:"previousStatus,omitempty"`
	CurrentStatus  domain.OrderStatus `json:"currentStatus"`
	ActorID        string             `json:"actorId,omitempty"`
	OccurredAt     time.Time          `json:"occurredAt"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
}

// Metrics records fulfilment counters.
type Metrics interface {
	OrderTransition(ctx context.Context, from, to OrderStatus)
	PayoutOutcome(ctx context.Context, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) OrderTransition(context.Context, OrderStatus, OrderStatus) {}
func (noopMetrics) PayoutOutcome(context.Context, string)                     {}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

// ActorKind classifies who is driving an order event.
type ActorKind string

const (
	ActorBuyer   ActorKind = "buyer"
	ActorSeller  ActorKind = "seller"
	ActorStaff   ActorKind = "staff"
	ActorCourier ActorKind = "courier"
	ActorSystem  ActorKind = "system"
)

// Actor is the authenticated principal applying an event.
type Actor struct {
	ID   string
	Kind ActorKind
}

// IsStaff reports whether the actor carries operator privileges.
func (a Actor) IsStaff() bool {
	return a.Kind == ActorStaff
}

// QuoteCartCommand requests courier options for every seller in the cart.
type QuoteCartCommand struct {
	BuyerID         string
	Items           []CartItem
	DeliveryAddress Address
}

// SellerQuoteOptions lists the courier options for a single seller's parcel.
type SellerQuoteOptions struct {
	SellerID    string
	Subtotal    int64
	WeightGrams int
	Options     []CourierQuote
	Blocked     bool
	BlockReason string
}

// CartQuotes groups courier options per seller in first-appearance order.
type CartQuotes struct {
	Sellers []SellerQuoteOptions
}

// CreateSellerOrdersCommand converts a paid-for cart into pending per-seller orders.
type CreateSellerOrdersCommand struct {
	BuyerID          string
	PaymentReference string
	Currency         string
	Items            []CartItem
	DeliveryAddress  Address
	// SelectedQuotes carries the buyer's courier choice keyed by seller id.
	SelectedQuotes map[string]CourierQuote
}

// CreateSellerOrdersResult reports created orders and the seller carts excluded from checkout.
type CreateSellerOrdersResult struct {
	Orders   []Order
	Blocked  []BlockedSellerCart
	Replayed bool
}

// ConfirmPaymentCommand marks the orders of a checkout as paid.
type ConfirmPaymentCommand struct {
	PaymentReference string
	ActorID          string
}

// OrderActionCommand applies a simple actor-driven event to an order.
type OrderActionCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// ShipmentUpdateCommand records courier progress on an order.
type ShipmentUpdateCommand struct {
	OrderID        string
	Actor          Actor
	TrackingNumber string
	CourierName    string
}

// DisputeResolution selects how staff settle a dispute.
type DisputeResolution string

const (
	// DisputeResolutionRefund refunds the buyer and ends the order as refunded.
	DisputeResolutionRefund DisputeResolution = "refund"
	// DisputeResolutionRelease completes the order in the seller's favour.
	DisputeResolutionRelease DisputeResolution = "release"
)

// ResolveDisputeCommand settles a disputed order.
type ResolveDisputeCommand struct {
	OrderID    string
	Actor      Actor
	Resolution DisputeResolution
	Note       string
}

// PayoutHoldCommand toggles the payout hold of an order.
type PayoutHoldCommand struct {
	OrderID string
	Actor   Actor
	Held    bool
}

// PayoutBatchResult summarises a payout run or reconciliation pass.
type PayoutBatchResult struct {
	// Enqueued counts payouts created for orders whose enqueue after the transition was lost.
	Enqueued  int
	Scanned   int
	Completed int
	Retrying  int
	Failed    int
	Ambiguous int
	Skipped   int
}

// SweepResult summarises a sweeper pass.
type SweepResult struct {
	Scanned      int
	Transitioned int
	Skipped      int
	Errors       int
}
