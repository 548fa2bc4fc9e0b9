package handlers

import (
	"strings"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

type addressPayload struct {
	Street     string `json:"street"`
	Street2    string `json:"street2,omitempty"`
	Suburb     string `json:"suburb,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Street:     strings.TrimSpace(p.Street),
		Street2:    strings.TrimSpace(p.Street2),
		Suburb:     strings.TrimSpace(p.Suburb),
		City:       strings.TrimSpace(p.City),
		Province:   strings.TrimSpace(p.Province),
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.TrimSpace(p.Country),
		Phone:      strings.TrimSpace(p.Phone),
	}
}

func newAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Street:     addr.Street,
		Street2:    addr.Street2,
		Suburb:     addr.Suburb,
		City:       addr.City,
		Province:   addr.Province,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

type cartItemPayload struct {
	ListingID   string `json:"listing_id"`
	SellerID    string `json:"seller_id"`
	Title       string `json:"title"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	WeightGrams int    `json:"weight_grams,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
}

func (p cartItemPayload) toDomain() domain.CartItem {
	return domain.CartItem{
		ListingID:   strings.TrimSpace(p.ListingID),
		SellerID:    strings.TrimSpace(p.SellerID),
		Title:       strings.TrimSpace(p.Title),
		UnitPrice:   p.UnitPrice,
		Quantity:    p.Quantity,
		WeightGrams: p.WeightGrams,
		ImageRef:    strings.TrimSpace(p.ImageRef),
	}
}

func cartItemsFromPayload(items []cartItemPayload) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		out = append(out, item.toDomain())
	}
	return out
}

type quotePayload struct {
	Courier       string `json:"courier"`
	ServiceName   string `json:"service_name"`
	Price         int64  `json:"price"`
	EstimatedDays int    `json:"estimated_days,omitempty"`
	Description   string `json:"description,omitempty"`
	Fallback      bool   `json:"fallback,omitempty"`
}

func (p quotePayload) toDomain() domain.CourierQuote {
	return domain.CourierQuote{
		Courier:       strings.TrimSpace(p.Courier),
		ServiceName:   strings.TrimSpace(p.ServiceName),
		Price:         p.Price,
		EstimatedDays: p.EstimatedDays,
		Description:   strings.TrimSpace(p.Description),
		Fallback:      p.Fallback,
	}
}

func newQuotePayload(q domain.CourierQuote) quotePayload {
	return quotePayload{
		Courier:       q.Courier,
		ServiceName:   q.ServiceName,
		Price:         q.Price,
		EstimatedDays: q.EstimatedDays,
		Description:   q.Description,
		Fallback:      q.Fallback,
	}
}

type orderItemPayload struct {
	ListingID   string `json:"listing_id"`
	Title       string `json:"title"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	WeightGrams int    `json:"weight_grams,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
}

type refundPayload struct {
	Reference   string `json:"reference,omitempty"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Error       string `json:"error,omitempty"`
	RequestedAt string `json:"requested_at"`
}

type orderTotalsPayload struct {
	Subtotal           int64 `json:"subtotal"`
	DeliveryFee        int64 `json:"delivery_fee"`
	PlatformCommission int64 `json:"platform_commission"`
	SellerAmount       int64 `json:"seller_amount"`
	Total              int64 `json:"total"`
}

type orderTimelinePayload struct {
	PaidAt      string `json:"paid_at,omitempty"`
	CommittedAt string `json:"committed_at,omitempty"`
	CollectedAt string `json:"collected_at,omitempty"`
	InTransitAt string `json:"in_transit_at,omitempty"`
	DeliveredAt string `json:"delivered_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	CancelledAt string `json:"cancelled_at,omitempty"`
	ExpiredAt   string `json:"expired_at,omitempty"`
	DisputedAt  string `json:"disputed_at,omitempty"`
}

type orderPayload struct {
	ID                 string               `json:"id"`
	BuyerID            string               `json:"buyer_id"`
	SellerID           string               `json:"seller_id"`
	Status             string               `json:"status"`
	Currency           string               `json:"currency"`
	Totals             orderTotalsPayload   `json:"totals"`
	Items              []orderItemPayload   `json:"items"`
	PaymentReference   string               `json:"payment_reference,omitempty"`
	CommitDeadline     string               `json:"commit_deadline,omitempty"`
	SellerCommitted    bool                 `json:"seller_committed"`
	PayoutHeld         bool                 `json:"payout_held,omitempty"`
	PayoutCompletedAt  string               `json:"payout_completed_at,omitempty"`
	DeliveryAddress    addressPayload       `json:"delivery_address"`
	Courier            *quotePayload        `json:"courier,omitempty"`
	TrackingNumber     string               `json:"tracking_number,omitempty"`
	CourierName        string               `json:"courier_name,omitempty"`
	CancellationReason string               `json:"cancellation_reason,omitempty"`
	DisputeReason      string               `json:"dispute_reason,omitempty"`
	Refund             *refundPayload       `json:"refund,omitempty"`
	Timeline           orderTimelinePayload `json:"timeline"`
	CreatedAt          string               `json:"created_at"`
	UpdatedAt          string               `json:"updated_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

func newOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ListingID:   item.ListingID,
			Title:       item.Title,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			WeightGrams: item.WeightGrams,
			ImageRef:    item.ImageRef,
		})
	}
	payload := orderPayload{
		ID:       order.ID,
		BuyerID:  order.BuyerID,
		SellerID: order.SellerID,
		Status:   string(order.Status),
		Currency: order.Currency,
		Totals: orderTotalsPayload{
			Subtotal:           order.Subtotal,
			DeliveryFee:        order.DeliveryFee,
			PlatformCommission: order.PlatformCommission,
			SellerAmount:       order.SellerAmount,
			Total:              order.Amount,
		},
		Items:              items,
		PaymentReference:   order.PaymentReference,
		CommitDeadline:     formatTimePtr(order.CommitDeadline),
		SellerCommitted:    order.SellerCommitted,
		PayoutHeld:         order.PayoutHeld,
		PayoutCompletedAt:  formatTimePtr(order.PayoutCompletedAt),
		DeliveryAddress:    newAddressPayload(order.DeliveryAddress),
		TrackingNumber:     order.TrackingNumber,
		CourierName:        order.CourierName,
		CancellationReason: order.CancellationReason,
		DisputeReason:      order.DisputeReason,
		Timeline: orderTimelinePayload{
			PaidAt:      formatTimePtr(order.PaidAt),
			CommittedAt: formatTimePtr(order.CommittedAt),
			CollectedAt: formatTimePtr(order.CollectedAt),
			InTransitAt: formatTimePtr(order.InTransitAt),
			DeliveredAt: formatTimePtr(order.DeliveredAt),
			CompletedAt: formatTimePtr(order.CompletedAt),
			CancelledAt: formatTimePtr(order.CancelledAt),
			ExpiredAt:   formatTimePtr(order.ExpiredAt),
			DisputedAt:  formatTimePtr(order.DisputedAt),
		},
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
	if order.Courier != nil {
		quote := newQuotePayload(*order.Courier)
		payload.Courier = &quote
	}
	if order.Refund != nil {
		payload.Refund = &refundPayload{
			Reference:   order.Refund.Reference,
			Status:      string(order.Refund.Status),
			Amount:      order.Refund.Amount,
			Error:       order.Refund.Error,
			RequestedAt: formatTime(order.Refund.RequestedAt),
		}
	}
	return payload
}

func newOrderListResponse(orders []services.Order) orderListResponse {
	resp := orderListResponse{Items: make([]orderPayload, 0, len(orders))}
	for _, order := range orders {
		resp.Items = append(resp.Items, newOrderPayload(order))
	}
	return resp
}

type payoutPayload struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	SellerID       string `json:"seller_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	RetryCount     int    `json:"retry_count"`
	Attempt        int    `json:"attempt"`
	Reference      string `json:"reference,omitempty"`
	TransferCode   string `json:"transfer_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	ReviewRequired bool   `json:"review_required,omitempty"`
	CompletedAt    string `json:"completed_at,omitempty"`
	FailedAt       string `json:"failed_at,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func newPayoutPayload(txn services.PayoutTransaction) payoutPayload {
	return payoutPayload{
		ID:             txn.ID,
		OrderID:        txn.OrderID,
		SellerID:       txn.SellerID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		Status:         string(txn.Status),
		RetryCount:     txn.RetryCount,
		Attempt:        txn.Attempt,
		Reference:      txn.Reference,
		TransferCode:   txn.TransferCode,
		ErrorMessage:   txn.ErrorMessage,
		ReviewRequired: txn.ReviewRequired,
		CompletedAt:    formatTimePtr(txn.CompletedAt),
		FailedAt:       formatTimePtr(txn.FailedAt),
		CreatedAt:      formatTime(txn.CreatedAt),
		UpdatedAt:      formatTime(txn.UpdatedAt),
	}
}
