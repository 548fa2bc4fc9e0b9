package domain

import (
	"sort"
	"strings"
)

// CommissionRateBasisPoints is the platform commission on the item subtotal (10%).
const CommissionRateBasisPoints int64 = 1000

const basisPointsDenominator int64 = 10000

// Commission returns the platform share of subtotal, rounded down to the minor unit.
// Negative subtotals yield zero commission.
func Commission(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	return subtotal * CommissionRateBasisPoints / basisPointsDenominator
}

// PricingBreakdown is the commission split for a seller subtotal.
type PricingBreakdown struct {
	Subtotal           int64
	PlatformCommission int64
	SellerReceives     int64
	DeliveryFee        int64
	Total              int64
}

// SplitSubtotal computes the commission split. The delivery fee is excluded from commission
// and passes through to the seller.
func SplitSubtotal(subtotal, deliveryFee int64) PricingBreakdown {
	commission := Commission(subtotal)
	return PricingBreakdown{
		Subtotal:           subtotal,
		PlatformCommission: commission,
		SellerReceives:     subtotal - commission,
		DeliveryFee:        deliveryFee,
		Total:              subtotal + deliveryFee,
	}
}

// QuoteRequest describes a single parcel to be priced by the courier providers.
type QuoteRequest struct {
	Origin      Address
	Destination Address
	WeightGrams int
}

// CourierQuote is a price/ETA offer from a courier for a single parcel.
type CourierQuote struct {
	Courier       string
	ServiceName   string
	Price         int64
	EstimatedDays int
	Description   string
	Fallback      bool
}

// Key identifies the quote by courier and service.
func (q CourierQuote) Key() string {
	return strings.ToLower(strings.TrimSpace(q.Courier)) + "/" + strings.ToLower(strings.TrimSpace(q.ServiceName))
}

// SortQuotes orders quotes by price, then estimated days, then courier key.
func SortQuotes(quotes []CourierQuote) {
	sort.SliceStable(quotes, func(i, j int) bool {
		if quotes[i].Price != quotes[j].Price {
			return quotes[i].Price < quotes[j].Price
		}
		if quotes[i].EstimatedDays != quotes[j].EstimatedDays {
			return quotes[i].EstimatedDays < quotes[j].EstimatedDays
		}
		return quotes[i].Key() < quotes[j].Key()
	})
}

// SelectQuote returns the preferred quote when set, otherwise the cheapest option.
func SelectQuote(options []CourierQuote, preferred *CourierQuote) (CourierQuote, bool) {
	if preferred != nil && strings.TrimSpace(preferred.Courier) != "" {
		return *preferred, true
	}
	if len(options) == 0 {
		return CourierQuote{}, false
	}
	sorted := append([]CourierQuote(nil), options...)
	SortQuotes(sorted)
	return sorted[0], true
}

// HeavyParcelGrams is the weight above which fallback quotes are surcharged by 50%.
const HeavyParcelGrams = 5000

var fallbackQuotes = []CourierQuote{
	{Courier: "courier-guy", ServiceName: "Economy", Price: 9900, EstimatedDays: 4, Description: "Door to door economy"},
	{Courier: "pargo", ServiceName: "Pickup Point", Price: 6500, EstimatedDays: 5, Description: "Collect from a Pargo pickup point"},
	{Courier: "postnet", ServiceName: "Counter to Counter", Price: 10900, EstimatedDays: 3, Description: "PostNet counter to counter"},
}

// FallbackQuotes returns the documented static quote set used when no courier provider answers,
// sorted cheapest first.
func FallbackQuotes(weightGrams int) []CourierQuote {
	out := make([]CourierQuote, len(fallbackQuotes))
	for i, quote := range fallbackQuotes {
		if weightGrams > HeavyParcelGrams {
			quote.Price = quote.Price * 3 / 2
		}
		quote.Fallback = true
		out[i] = quote
	}
	SortQuotes(out)
	return out
}
