package services

import (
	"fmt"
	"strings"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
)

// CartSplitInput carries an already-fetched view of the cart, its sellers and their courier options.
type CartSplitInput struct {
	Items           []CartItem
	DeliveryAddress Address
	Sellers         map[string]Seller
	// QuoteOptions lists the courier options per seller; used when no quote was selected.
	QuoteOptions map[string][]CourierQuote
	// SelectedQuotes carries the caller's choice per seller and wins over QuoteOptions.
	SelectedQuotes map[string]CourierQuote
}

// BlockedSellerCart is a seller sub-cart excluded from checkout.
type BlockedSellerCart struct {
	SellerID string
	Items    []CartItem
	Reason   error
}

// CartSplitResult holds the payable seller carts and those excluded from checkout.
type CartSplitResult struct {
	Carts   []SellerCart
	Blocked []BlockedSellerCart
}

// CartSplitter groups cart items per seller and computes the commission split. It performs no I/O.
type CartSplitter struct{}

// NewCartSplitter returns a CartSplitter.
func NewCartSplitter() CartSplitter {
	return CartSplitter{}
}

// Split produces one SellerCart per distinct seller, in first-appearance order. Any incomplete
// address fails the whole call before carts are built; sellers without a payable recipient are
// reported in Blocked.
func (CartSplitter) Split(in CartSplitInput) (CartSplitResult, error) {
	if len(in.Items) == 0 {
		return CartSplitResult{}, fmt.Errorf("%w: cart is empty", ErrValidation)
	}
	if missing := in.DeliveryAddress.MissingFields(); len(missing) > 0 {
		return CartSplitResult{}, fmt.Errorf("%w: delivery address missing %s", ErrIncompleteAddress, strings.Join(missing, ", "))
	}

	order, groups, err := groupCartItems(in.Items)
	if err != nil {
		return CartSplitResult{}, err
	}

	for _, sellerID := range order {
		seller, ok := in.Sellers[sellerID]
		if !ok {
			return CartSplitResult{}, fmt.Errorf("%w: unknown seller %q", ErrValidation, sellerID)
		}
		if missing := seller.PickupAddress.MissingFields(); len(missing) > 0 {
			return CartSplitResult{}, fmt.Errorf("%w: seller %s pickup address missing %s", ErrIncompleteAddress, sellerID, strings.Join(missing, ", "))
		}
	}

	var result CartSplitResult
	for _, sellerID := range order {
		seller := in.Sellers[sellerID]
		items := groups[sellerID]
		if !seller.HasPayableRecipient() {
			result.Blocked = append(result.Blocked, BlockedSellerCart{
				SellerID: sellerID,
				Items:    items,
				Reason:   fmt.Errorf("%w: seller %s", ErrNoPayableRecipient, sellerID),
			})
			continue
		}

		var preferred *CourierQuote
		if selected, ok := in.SelectedQuotes[sellerID]; ok {
			preferred = &selected
		}
		quote, ok := domain.SelectQuote(in.QuoteOptions[sellerID], preferred)
		if !ok {
			return CartSplitResult{}, fmt.Errorf("%w: no courier quote for seller %s", ErrValidation, sellerID)
		}
		if quote.Price < 0 {
			return CartSplitResult{}, fmt.Errorf("%w: negative courier price for seller %s", ErrValidation, sellerID)
		}

		subtotal, weight := cartTotals(items)
		breakdown := domain.SplitSubtotal(subtotal, quote.Price)
		result.Carts = append(result.Carts, SellerCart{
			SellerID:           sellerID,
			Items:              items,
			Subtotal:           breakdown.Subtotal,
			PlatformCommission: breakdown.PlatformCommission,
			SellerReceives:     breakdown.SellerReceives,
			DeliveryFee:        breakdown.DeliveryFee,
			Total:              breakdown.Total,
			WeightGrams:        weight,
			CourierQuote:       quote,
			PickupAddress:      seller.PickupAddress,
			RecipientCode:      strings.TrimSpace(seller.RecipientCode),
		})
	}
	return result, nil
}

func groupCartItems(items []CartItem) ([]string, map[string][]CartItem, error) {
	var order []string
	groups := make(map[string][]CartItem)
	for i, item := range items {
		sellerID := strings.TrimSpace(item.SellerID)
		if sellerID == "" {
			return nil, nil, fmt.Errorf("%w: item %d has no seller", ErrValidation, i)
		}
		if strings.TrimSpace(item.ListingID) == "" {
			return nil, nil, fmt.Errorf("%w: item %d has no listing", ErrValidation, i)
		}
		if item.UnitPrice < 0 {
			return nil, nil, fmt.Errorf("%w: item %s has a negative price", ErrValidation, item.ListingID)
		}
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		item.SellerID = sellerID
		if _, seen := groups[sellerID]; !seen {
			order = append(order, sellerID)
		}
		groups[sellerID] = append(groups[sellerID], item)
	}
	return order, groups, nil
}

func cartTotals(items []CartItem) (int64, int) {
	var subtotal int64
	var weight int
	for _, item := range items {
		subtotal += item.UnitPrice * int64(item.Quantity)
		weight += item.WeightGrams * item.Quantity
	}
	return subtotal, weight
}
