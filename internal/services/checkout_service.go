package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
)

const (
	orderIDPrefix              = "ord_"
	defaultCheckoutCurrency    = "ZAR"
	defaultCourierConcurrency  = 4
	defaultCheckoutQuoteBudget = 15 * time.Second
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders  repositories.OrderRepository
	Sellers repositories.SellerRepository
	Courier CourierQuoter

	Currency           string
	CourierConcurrency int
	// QuoteBudget bounds the total time spent collecting courier quotes for a cart.
	QuoteBudget time.Duration

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders      repositories.OrderRepository
	sellers     repositories.SellerRepository
	courier     CourierQuoter
	splitter    CartSplitter
	currency    string
	concurrency int
	quoteBudget time.Duration
	now         func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Sellers == nil {
		return nil, errors.New("checkout service: seller repository is required")
	}
	if deps.Courier == nil {
		return nil, errors.New("checkout service: courier quoter is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}

	return &checkoutService{
		orders:      deps.Orders,
		sellers:     deps.Sellers,
		courier:     deps.Courier,
		splitter:    NewCartSplitter(),
		currency:    currency,
		concurrency: positiveInt(deps.CourierConcurrency, defaultCourierConcurrency),
		quoteBudget: positiveDuration(deps.QuoteBudget, defaultCheckoutQuoteBudget),
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// QuoteCart returns courier options for every seller in the cart. Courier failures degrade to
// the static fallback set and never fail the call.
func (s *checkoutService) QuoteCart(ctx context.Context, cmd QuoteCartCommand) (CartQuotes, error) {
	if len(cmd.Items) == 0 {
		return CartQuotes{}, fmt.Errorf("%w: cart is empty", ErrValidation)
	}
	if missing := cmd.DeliveryAddress.MissingFields(); len(missing) > 0 {
		return CartQuotes{}, fmt.Errorf("%w: delivery address missing %s", ErrIncompleteAddress, strings.Join(missing, ", "))
	}
	order, groups, err := groupCartItems(cmd.Items)
	if err != nil {
		return CartQuotes{}, err
	}
	sellers, err := s.loadSellers(ctx, order)
	if err != nil {
		return CartQuotes{}, err
	}

	out := CartQuotes{Sellers: make([]SellerQuoteOptions, len(order))}
	var toQuote []string
	for i, sellerID := range order {
		seller := sellers[sellerID]
		if missing := seller.PickupAddress.MissingFields(); len(missing) > 0 {
			return CartQuotes{}, fmt.Errorf("%w: seller %s pickup address missing %s", ErrIncompleteAddress, sellerID, strings.Join(missing, ", "))
		}
		subtotal, weight := cartTotals(groups[sellerID])
		out.Sellers[i] = SellerQuoteOptions{SellerID: sellerID, Subtotal: subtotal, WeightGrams: weight}
		if !seller.HasPayableRecipient() {
			out.Sellers[i].Blocked = true
			out.Sellers[i].BlockReason = ErrNoPayableRecipient.Error()
			continue
		}
		toQuote = append(toQuote, sellerID)
	}

	options := s.fetchQuotes(ctx, toQuote, sellers, groups, cmd.DeliveryAddress)
	for i := range out.Sellers {
		out.Sellers[i].Options = options[out.Sellers[i].SellerID]
	}
	return out, nil
}

// CreateSellerOrders builds one pending order per payable seller cart. Orders already stored for
// the payment reference are returned unchanged.
func (s *checkoutService) CreateSellerOrders(ctx context.Context, cmd CreateSellerOrdersCommand) (CreateSellerOrdersResult, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	reference := strings.TrimSpace(cmd.PaymentReference)
	if buyerID == "" || reference == "" {
		return CreateSellerOrdersResult{}, fmt.Errorf("%w: buyer id and payment reference are required", ErrValidation)
	}

	existing, err := s.orders.FindByPaymentReference(ctx, reference)
	if err != nil {
		return CreateSellerOrdersResult{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	if len(existing) > 0 {
		return CreateSellerOrdersResult{Orders: existing, Replayed: true}, nil
	}

	if len(cmd.Items) == 0 {
		return CreateSellerOrdersResult{}, fmt.Errorf("%w: cart is empty", ErrValidation)
	}
	if missing := cmd.DeliveryAddress.MissingFields(); len(missing) > 0 {
		return CreateSellerOrdersResult{}, fmt.Errorf("%w: delivery address missing %s", ErrIncompleteAddress, strings.Join(missing, ", "))
	}
	order, groups, err := groupCartItems(cmd.Items)
	if err != nil {
		return CreateSellerOrdersResult{}, err
	}
	sellers, err := s.loadSellers(ctx, order)
	if err != nil {
		return CreateSellerOrdersResult{}, err
	}

	var unselected []string
	for _, sellerID := range order {
		if _, ok := cmd.SelectedQuotes[sellerID]; ok {
			continue
		}
		seller := sellers[sellerID]
		if seller.HasPayableRecipient() && seller.PickupAddress.Complete() {
			unselected = append(unselected, sellerID)
		}
	}

	split, err := s.splitter.Split(CartSplitInput{
		Items:           cmd.Items,
		DeliveryAddress: cmd.DeliveryAddress,
		Sellers:         sellers,
		QuoteOptions:    s.fetchQuotes(ctx, unselected, sellers, groups, cmd.DeliveryAddress),
		SelectedQuotes:  cmd.SelectedQuotes,
	})
	if err != nil {
		return CreateSellerOrdersResult{}, err
	}
	if len(split.Carts) == 0 {
		return CreateSellerOrdersResult{Blocked: split.Blocked}, fmt.Errorf("%w: no seller in the cart can be paid", ErrNoPayableRecipient)
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	now := s.now()
	orders := make([]Order, 0, len(split.Carts))
	for _, cart := range split.Carts {
		orders = append(orders, s.buildOrder(cart, buyerID, reference, currency, cmd.DeliveryAddress, now))
	}

	saved, err := s.orders.InsertBatch(ctx, orders)
	if err != nil {
		return CreateSellerOrdersResult{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	replayed := !containsOrderID(saved, orders[0].ID)

	s.logger(ctx, "checkout.orders.created", map[string]any{
		"paymentReference": reference,
		"buyerId":          buyerID,
		"orders":           len(saved),
		"blocked":          len(split.Blocked),
		"replayed":         replayed,
	})
	return CreateSellerOrdersResult{Orders: saved, Blocked: split.Blocked, Replayed: replayed}, nil
}

func (s *checkoutService) buildOrder(cart SellerCart, buyerID, reference, currency string, delivery Address, now time.Time) Order {
	items := make([]ItemRef, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, ItemRef{
			ListingID:   strings.TrimSpace(item.ListingID),
			Title:       strings.TrimSpace(item.Title),
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			WeightGrams: item.WeightGrams,
			ImageRef:    strings.TrimSpace(item.ImageRef),
		})
	}
	quote := cart.CourierQuote
	return Order{
		ID:                 orderIDPrefix + s.newID(),
		BuyerID:            buyerID,
		SellerID:           cart.SellerID,
		Items:              items,
		Currency:           currency,
		Amount:             cart.Total,
		Subtotal:           cart.Subtotal,
		DeliveryFee:        cart.DeliveryFee,
		PlatformCommission: cart.PlatformCommission,
		SellerAmount:       cart.SellerReceives,
		Status:             domain.OrderStatusPending,
		PaymentReference:   reference,
		DeliveryAddress:    delivery,
		PickupAddress:      cart.PickupAddress,
		Courier:            &quote,
		CourierName:        quote.Courier,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (s *checkoutService) loadSellers(ctx context.Context, ids []string) (map[string]Seller, error) {
	sellers := make(map[string]Seller, len(ids))
	for _, id := range ids {
		seller, err := s.sellers.FindByID(ctx, id)
		if err != nil {
			if repositories.IsNotFound(err) {
				return nil, fmt.Errorf("%w: unknown seller %q", ErrValidation, id)
			}
			return nil, mapRepositoryError(err, ErrValidation)
		}
		sellers[id] = seller
	}
	return sellers, nil
}

// fetchQuotes asks the courier client for every seller concurrently. A seller whose lookup still
// errors gets the static fallback set.
func (s *checkoutService) fetchQuotes(ctx context.Context, sellerIDs []string, sellers map[string]Seller, groups map[string][]CartItem, delivery Address) map[string][]CourierQuote {
	out := make(map[string][]CourierQuote, len(sellerIDs))
	if len(sellerIDs) == 0 {
		return out
	}
	var mu sync.Mutex

	quoteCtx, cancel := context.WithTimeout(ctx, s.quoteBudget)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, sellerID := range sellerIDs {
		sellerID := sellerID
		g.Go(func() error {
			_, weight := cartTotals(groups[sellerID])
			quotes, err := s.courier.GetQuotes(quoteCtx, domain.QuoteRequest{
				Origin:      sellers[sellerID].PickupAddress,
				Destination: delivery,
				WeightGrams: weight,
			})
			if err != nil || len(quotes) == 0 {
				fields := map[string]any{"sellerId": sellerID}
				if err != nil {
					fields["error"] = err.Error()
				}
				s.logger(ctx, "checkout.quotes.fallback", fields)
				quotes = domain.FallbackQuotes(weight)
			}
			mu.Lock()
			out[sellerID] = quotes
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func containsOrderID(orders []Order, id string) bool {
	for _, order := range orders {
		if order.ID == id {
			return true
		}
	}
	return false
}
