package firestore

import (
	"time"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
)

const (
	ordersCollection   = "orders"
	payoutsCollection  = "payouts"
	sellersCollection  = "sellers"
	listingsCollection = "listings"
)

type orderDocument struct {
	ID                 string          `firestore:"id"`
	BuyerID            string          `firestore:"buyerId"`
	SellerID           string          `firestore:"sellerId"`
	Items              []itemDocument  `firestore:"items"`
	Currency           string          `firestore:"currency"`
	Amount             int64           `firestore:"amount"`
	Subtotal           int64           `firestore:"subtotal"`
	DeliveryFee        int64           `firestore:"deliveryFee"`
	PlatformCommission int64           `firestore:"platformCommission"`
	SellerAmount       int64           `firestore:"sellerAmount"`
	Status             string          `firestore:"status"`
	PaymentReference   string          `firestore:"paymentReference"`
	CommitDeadline     *time.Time      `firestore:"commitDeadline"`
	SellerCommitted    bool            `firestore:"sellerCommitted"`
	CommittedAt        *time.Time      `firestore:"committedAt"`
	PayoutHeld         bool            `firestore:"payoutHeld"`
	PayoutQueuedAt     *time.Time      `firestore:"payoutQueuedAt"`
	PayoutCompletedAt  *time.Time      `firestore:"payoutCompletedAt"`
	RefundDue          bool            `firestore:"refundDue"`
	PayoutDue          bool            `firestore:"payoutDue"`
	DeliveryAddress    addressDocument `firestore:"deliveryAddress"`
	PickupAddress      addressDocument `firestore:"pickupAddress"`
	Courier            *quoteDocument  `firestore:"courier"`
	TrackingNumber     string          `firestore:"trackingNumber,omitempty"`
	CourierName        string          `firestore:"courierName,omitempty"`
	CancellationReason string          `firestore:"cancellationReason,omitempty"`
	DisputeReason      string          `firestore:"disputeReason,omitempty"`
	DisputedFrom       string          `firestore:"disputedFrom,omitempty"`
	Refund             *refundDocument `firestore:"refund"`
	PaidAt             *time.Time      `firestore:"paidAt"`
	CollectedAt        *time.Time      `firestore:"collectedAt"`
	InTransitAt        *time.Time      `firestore:"inTransitAt"`
	DeliveredAt        *time.Time      `firestore:"deliveredAt"`
	CompletedAt        *time.Time      `firestore:"completedAt"`
	CancelledAt        *time.Time      `firestore:"cancelledAt"`
	ExpiredAt          *time.Time      `firestore:"expiredAt"`
	DisputedAt         *time.Time      `firestore:"disputedAt"`
	CreatedAt          time.Time       `firestore:"createdAt"`
	UpdatedAt          time.Time       `firestore:"updatedAt"`
}

type itemDocument struct {
	ListingID   string `firestore:"listingId"`
	Title       string `firestore:"title"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Quantity    int    `firestore:"quantity"`
	WeightGrams int    `firestore:"weightGrams"`
	ImageRef    string `firestore:"imageRef,omitempty"`
}

type addressDocument struct {
	Street     string `firestore:"street"`
	Street2    string `firestore:"street2,omitempty"`
	Suburb     string `firestore:"suburb,omitempty"`
	City       string `firestore:"city"`
	Province   string `firestore:"province"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
}

type quoteDocument struct {
	Courier       string `firestore:"courier"`
	ServiceName   string `firestore:"serviceName"`
	Price         int64  `firestore:"price"`
	EstimatedDays int    `firestore:"estimatedDays"`
	Description   string `firestore:"description,omitempty"`
	Fallback      bool   `firestore:"fallback"`
}

type refundDocument struct {
	Reference   string    `firestore:"reference"`
	Status      string    `firestore:"status"`
	Amount      int64     `firestore:"amount"`
	Error       string    `firestore:"error,omitempty"`
	Attempts    int       `firestore:"attempts"`
	RequestedAt time.Time `firestore:"requestedAt"`
}

type payoutDocument struct {
	ID             string     `firestore:"id"`
	OrderID        string     `firestore:"orderId"`
	SellerID       string     `firestore:"sellerId"`
	Amount         int64      `firestore:"amount"`
	Currency       string     `firestore:"currency"`
	Status         string     `firestore:"status"`
	RetryCount     int        `firestore:"retryCount"`
	Attempt        int        `firestore:"attempt"`
	Reference      string     `firestore:"reference"`
	RecipientCode  string     `firestore:"recipientCode"`
	TransferCode   string     `firestore:"transferCode,omitempty"`
	ErrorMessage   string     `firestore:"errorMessage,omitempty"`
	ReviewRequired bool       `firestore:"reviewRequired"`
	ClaimedAt      *time.Time `firestore:"claimedAt"`
	CompletedAt    *time.Time `firestore:"completedAt"`
	FailedAt       *time.Time `firestore:"failedAt"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

type sellerDocument struct {
	DisplayName   string          `firestore:"displayName"`
	Email         string          `firestore:"email"`
	Phone         string          `firestore:"phone"`
	RecipientCode string          `firestore:"recipientCode"`
	PickupAddress addressDocument `firestore:"pickupAddress"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		ID:                 order.ID,
		BuyerID:            order.BuyerID,
		SellerID:           order.SellerID,
		Currency:           order.Currency,
		Amount:             order.Amount,
		Subtotal:           order.Subtotal,
		DeliveryFee:        order.DeliveryFee,
		PlatformCommission: order.PlatformCommission,
		SellerAmount:       order.SellerAmount,
		Status:             string(order.Status),
		PaymentReference:   order.PaymentReference,
		CommitDeadline:     utc(order.CommitDeadline),
		SellerCommitted:    order.SellerCommitted,
		CommittedAt:        utc(order.CommittedAt),
		PayoutHeld:         order.PayoutHeld,
		PayoutQueuedAt:     utc(order.PayoutQueuedAt),
		PayoutCompletedAt:  utc(order.PayoutCompletedAt),
		RefundDue:          order.RefundDue,
		PayoutDue:          order.PayoutDue,
		DeliveryAddress:    addressDocument(order.DeliveryAddress),
		PickupAddress:      addressDocument(order.PickupAddress),
		TrackingNumber:     order.TrackingNumber,
		CourierName:        order.CourierName,
		CancellationReason: order.CancellationReason,
		DisputeReason:      order.DisputeReason,
		DisputedFrom:       string(order.DisputedFrom),
		PaidAt:             utc(order.PaidAt),
		CollectedAt:        utc(order.CollectedAt),
		InTransitAt:        utc(order.InTransitAt),
		DeliveredAt:        utc(order.DeliveredAt),
		CompletedAt:        utc(order.CompletedAt),
		CancelledAt:        utc(order.CancelledAt),
		ExpiredAt:          utc(order.ExpiredAt),
		DisputedAt:         utc(order.DisputedAt),
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
	}
	doc.Items = make([]itemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, itemDocument(item))
	}
	if order.Courier != nil {
		quote := quoteDocument(*order.Courier)
		doc.Courier = &quote
	}
	if order.Refund != nil {
		doc.Refund = &refundDocument{
			Reference:   order.Refund.Reference,
			Status:      string(order.Refund.Status),
			Amount:      order.Refund.Amount,
			Error:       order.Refund.Error,
			Attempts:    order.Refund.Attempts,
			RequestedAt: order.Refund.RequestedAt.UTC(),
		}
	}
	return doc
}

func (d orderDocument) toDomain() domain.Order {
	order := domain.Order{
		ID:                 d.ID,
		BuyerID:            d.BuyerID,
		SellerID:           d.SellerID,
		Currency:           d.Currency,
		Amount:             d.Amount,
		Subtotal:           d.Subtotal,
		DeliveryFee:        d.DeliveryFee,
		PlatformCommission: d.PlatformCommission,
		SellerAmount:       d.SellerAmount,
		Status:             domain.OrderStatus(d.Status),
		PaymentReference:   d.PaymentReference,
		CommitDeadline:     d.CommitDeadline,
		SellerCommitted:    d.SellerCommitted,
		CommittedAt:        d.CommittedAt,
		PayoutHeld:         d.PayoutHeld,
		PayoutQueuedAt:     d.PayoutQueuedAt,
		PayoutCompletedAt:  d.PayoutCompletedAt,
		RefundDue:          d.RefundDue,
		PayoutDue:          d.PayoutDue,
		DeliveryAddress:    domain.Address(d.DeliveryAddress),
		PickupAddress:      domain.Address(d.PickupAddress),
		TrackingNumber:     d.TrackingNumber,
		CourierName:        d.CourierName,
		CancellationReason: d.CancellationReason,
		DisputeReason:      d.DisputeReason,
		DisputedFrom:       domain.OrderStatus(d.DisputedFrom),
		PaidAt:             d.PaidAt,
		CollectedAt:        d.CollectedAt,
		InTransitAt:        d.InTransitAt,
		DeliveredAt:        d.DeliveredAt,
		CompletedAt:        d.CompletedAt,
		CancelledAt:        d.CancelledAt,
		ExpiredAt:          d.ExpiredAt,
		DisputedAt:         d.DisputedAt,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.ItemRef(item))
	}
	if d.Courier != nil {
		quote := domain.CourierQuote(*d.Courier)
		order.Courier = &quote
	}
	if d.Refund != nil {
		order.Refund = &domain.RefundRecord{
			Reference:   d.Refund.Reference,
			Status:      domain.RefundStatus(d.Refund.Status),
			Amount:      d.Refund.Amount,
			Error:       d.Refund.Error,
			Attempts:    d.Refund.Attempts,
			RequestedAt: d.Refund.RequestedAt,
		}
	}
	return order
}

func newPayoutDocument(txn domain.PayoutTransaction) payoutDocument {
	return payoutDocument{
		ID:             txn.ID,
		OrderID:        txn.OrderID,
		SellerID:       txn.SellerID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		Status:         string(txn.Status),
		RetryCount:     txn.RetryCount,
		Attempt:        txn.Attempt,
		Reference:      txn.Reference,
		RecipientCode:  txn.RecipientCode,
		TransferCode:   txn.TransferCode,
		ErrorMessage:   txn.ErrorMessage,
		ReviewRequired: txn.ReviewRequired,
		ClaimedAt:      utc(txn.ClaimedAt),
		CompletedAt:    utc(txn.CompletedAt),
		FailedAt:       utc(txn.FailedAt),
		CreatedAt:      txn.CreatedAt.UTC(),
		UpdatedAt:      txn.UpdatedAt.UTC(),
	}
}

func (d payoutDocument) toDomain() domain.PayoutTransaction {
	return domain.PayoutTransaction{
		ID:             d.ID,
		OrderID:        d.OrderID,
		SellerID:       d.SellerID,
		Amount:         d.Amount,
		Currency:       d.Currency,
		Status:         domain.PayoutStatus(d.Status),
		RetryCount:     d.RetryCount,
		Attempt:        d.Attempt,
		Reference:      d.Reference,
		RecipientCode:  d.RecipientCode,
		TransferCode:   d.TransferCode,
		ErrorMessage:   d.ErrorMessage,
		ReviewRequired: d.ReviewRequired,
		ClaimedAt:      d.ClaimedAt,
		CompletedAt:    d.CompletedAt,
		FailedAt:       d.FailedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
