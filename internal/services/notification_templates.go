package services

import (
	"time"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
)

// Notification template names rendered by the dispatcher.
const (
	TemplateOrderPaidSeller       = "order.paid.seller"
	TemplateOrderPaidBuyer        = "order.paid.buyer"
	TemplateOrderCommittedBuyer   = "order.committed.buyer"
	TemplateOrderDeclinedBuyer    = "order.declined.buyer"
	TemplateOrderExpiredBuyer     = "order.expired.buyer"
	TemplateOrderExpiredSeller    = "order.expired.seller"
	TemplateOrderCollectedBuyer   = "order.collected.buyer"
	TemplateOrderInTransitBuyer   = "order.in_transit.buyer"
	TemplateOrderDeliveredBuyer   = "order.delivered.buyer"
	TemplateOrderCompletedSeller  = "order.completed.seller"
	TemplateOrderDisputed         = "order.disputed"
	TemplateOrderRefundedBuyer    = "order.refunded.buyer"
	TemplatePayoutCompletedSeller = "payout.completed.seller"
	TemplatePayoutFailedSeller    = "payout.failed.seller"
)

func orderNotification(template, recipient string, order Order, extra map[string]any) Notification {
	vars := map[string]any{
		"orderId":  order.ID,
		"amount":   order.Amount,
		"currency": order.Currency,
		"items":    len(order.Items),
	}
	if len(order.Items) > 0 {
		vars["title"] = order.Items[0].Title
	}
	if order.CommitDeadline != nil {
		vars["deadline"] = order.CommitDeadline.UTC().Format(time.RFC1123)
	}
	if order.TrackingNumber != "" {
		vars["trackingNumber"] = order.TrackingNumber
	}
	if order.CourierName != "" {
		vars["courierName"] = order.CourierName
	}
	for k, v := range extra {
		vars[k] = v
	}
	return Notification{
		Template:  template,
		Channel:   NotificationChannelEmail,
		Recipient: recipient,
		OrderID:   order.ID,
		Variables: vars,
	}
}

// transitionNotifications lists the messages sent after an order reaches its new status.
func transitionNotifications(order Order) []Notification {
	switch order.Status {
	case domain.OrderStatusPaid:
		return []Notification{
			orderNotification(TemplateOrderPaidSeller, order.SellerID, order, map[string]any{"sellerAmount": order.SellerAmount}),
			orderNotification(TemplateOrderPaidBuyer, order.BuyerID, order, nil),
		}
	case domain.OrderStatusCommitted:
		return []Notification{orderNotification(TemplateOrderCommittedBuyer, order.BuyerID, order, nil)}
	case domain.OrderStatusCancelled:
		return []Notification{orderNotification(TemplateOrderDeclinedBuyer, order.BuyerID, order, map[string]any{"reason": order.CancellationReason})}
	case domain.OrderStatusExpired:
		return []Notification{
			orderNotification(TemplateOrderExpiredBuyer, order.BuyerID, order, nil),
			orderNotification(TemplateOrderExpiredSeller, order.SellerID, order, nil),
		}
	case domain.OrderStatusCollected:
		return []Notification{orderNotification(TemplateOrderCollectedBuyer, order.BuyerID, order, nil)}
	case domain.OrderStatusInTransit:
		return []Notification{orderNotification(TemplateOrderInTransitBuyer, order.BuyerID, order, nil)}
	case domain.OrderStatusDelivered:
		return []Notification{orderNotification(TemplateOrderDeliveredBuyer, order.BuyerID, order, nil)}
	case domain.OrderStatusCompleted:
		return []Notification{orderNotification(TemplateOrderCompletedSeller, order.SellerID, order, nil)}
	case domain.OrderStatusDisputed:
		extra := map[string]any{"reason": order.DisputeReason}
		return []Notification{
			orderNotification(TemplateOrderDisputed, order.BuyerID, order, extra),
			orderNotification(TemplateOrderDisputed, order.SellerID, order, extra),
		}
	case domain.OrderStatusRefunded:
		return []Notification{orderNotification(TemplateOrderRefundedBuyer, order.BuyerID, order, nil)}
	default:
		return nil
	}
}
