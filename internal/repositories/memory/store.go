// Package memory provides an in-process store with the same conditional-update semantics as the
// Firestore and Postgres backends. It backs tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
)

// Store keeps orders, payouts, sellers and listings in maps guarded by one mutex.
type Store struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	payouts   map[string]domain.PayoutTransaction
	sellers   map[string]domain.Seller
	listings  map[string]bool
	listingAt map[string]time.Time
}

// NewStore constructs an empty memory store.
func NewStore() *Store {
	return &Store{
		orders:    make(map[string]domain.Order),
		payouts:   make(map[string]domain.PayoutTransaction),
		sellers:   make(map[string]domain.Seller),
		listings:  make(map[string]bool),
		listingAt: make(map[string]time.Time),
	}
}

var (
	_ repositories.Registry          = (*Store)(nil)
	_ repositories.OrderRepository   = (*orderRepository)(nil)
	_ repositories.PayoutRepository  = (*payoutRepository)(nil)
	_ repositories.SellerRepository  = (*sellerRepository)(nil)
	_ repositories.ListingRepository = (*listingRepository)(nil)
)

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

// Orders returns the order repository view.
func (s *Store) Orders() repositories.OrderRepository { return &orderRepository{s} }

// Payouts returns the payout repository view.
func (s *Store) Payouts() repositories.PayoutRepository { return &payoutRepository{s} }

// Sellers returns the seller repository view.
func (s *Store) Sellers() repositories.SellerRepository { return &sellerRepository{s} }

// Listings returns the listing repository view.
func (s *Store) Listings() repositories.ListingRepository { return &listingRepository{s} }

// Health reports the memory store as always ready.
func (s *Store) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}}, nil)
	return repo
}

// PutSeller seeds a seller profile.
func (s *Store) PutSeller(seller domain.Seller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellers[seller.ID] = seller
}

// PutOrder seeds an order without any status check.
func (s *Store) PutOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cloneOrder(order)
}

// PutPayout seeds a payout transaction without any status check.
func (s *Store) PutPayout(txn domain.PayoutTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts[txn.ID] = clonePayout(txn)
}

// ListingAvailable reports the stored availability flag of a listing.
func (s *Store) ListingAvailable(listingID string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	available, ok := s.listings[listingID]
	return available, ok
}

type orderRepository struct{ s *Store }

func (r *orderRepository) InsertBatch(_ context.Context, orders []domain.Order) ([]domain.Order, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	reference := strings.TrimSpace(orders[0].PaymentReference)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if reference != "" {
		if existing := r.s.ordersByReferenceLocked(reference); len(existing) > 0 {
			return existing, nil
		}
	}
	for _, order := range orders {
		if _, ok := r.s.orders[order.ID]; ok {
			return nil, repositories.NewConflictError("orders.insert", fmt.Errorf("order %s already exists", order.ID))
		}
	}
	saved := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		r.s.orders[order.ID] = cloneOrder(order)
		saved = append(saved, cloneOrder(order))
	}
	return saved, nil
}

func (r *orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", fmt.Errorf("order %s not found", orderID))
	}
	return cloneOrder(order), nil
}

func (r *orderRepository) FindByPaymentReference(_ context.Context, reference string) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.ordersByReferenceLocked(strings.TrimSpace(reference)), nil
}

func (r *orderRepository) UpdateIfStatus(_ context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.orders[order.ID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.update", fmt.Errorf("order %s not found", order.ID))
	}
	if current.Status != expected {
		return domain.Order{}, repositories.NewConflictError("orders.update", fmt.Errorf("order %s status is %s, expected %s", order.ID, current.Status, expected))
	}
	// Payout fields belong to the payout engine and survive lifecycle writes.
	order.PayoutCompletedAt = cloneTime(current.PayoutCompletedAt)
	if current.PayoutQueuedAt != nil {
		order.PayoutQueuedAt = cloneTime(current.PayoutQueuedAt)
		order.PayoutDue = false
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (r *orderRepository) MarkPayoutCompleted(_ context.Context, orderID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return repositories.NewNotFoundError("orders.mark_payout", fmt.Errorf("order %s not found", orderID))
	}
	at = at.UTC()
	order.PayoutCompletedAt = &at
	order.UpdatedAt = at
	r.s.orders[orderID] = order
	return nil
}

func (r *orderRepository) MarkPayoutQueued(_ context.Context, orderID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return repositories.NewNotFoundError("orders.mark_payout_queued", fmt.Errorf("order %s not found", orderID))
	}
	if order.PayoutQueuedAt == nil {
		at = at.UTC()
		order.PayoutQueuedAt = &at
	}
	order.PayoutDue = false
	r.s.orders[orderID] = order
	return nil
}

func (r *orderRepository) ListFollowUps(_ context.Context, followUp repositories.FollowUp, limit int) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Order
	for _, order := range r.s.orders {
		flagged := order.PayoutDue
		if followUp == repositories.FollowUpRefund {
			flagged = order.RefundDue
		}
		if flagged {
			out = append(out, cloneOrder(order))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limitOrders(out, limit), nil
}

func (r *orderRepository) List(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	statuses := make(map[domain.OrderStatus]struct{}, len(filter.Status))
	for _, status := range filter.Status {
		statuses[status] = struct{}{}
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Order
	for _, order := range r.s.orders {
		if filter.BuyerID != "" && order.BuyerID != filter.BuyerID {
			continue
		}
		if filter.SellerID != "" && order.SellerID != filter.SellerID {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[order.Status]; !ok {
				continue
			}
		}
		out = append(out, cloneOrder(order))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limitOrders(out, filter.Limit), nil
}

func (r *orderRepository) ListDue(_ context.Context, filter repositories.OrderDueFilter) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Order
	for _, order := range r.s.orders {
		if order.Status != filter.Status {
			continue
		}
		due := dueTime(order, filter.Field)
		if due == nil || !due.Before(filter.Before) {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := dueTime(out[i], filter.Field), dueTime(out[j], filter.Field)
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return limitOrders(out, filter.Limit), nil
}

func (s *Store) ordersByReferenceLocked(reference string) []domain.Order {
	if reference == "" {
		return nil
	}
	var out []domain.Order
	for _, order := range s.orders {
		if order.PaymentReference == reference {
			out = append(out, cloneOrder(order))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type payoutRepository struct{ s *Store }

func (r *payoutRepository) Create(_ context.Context, txn domain.PayoutTransaction) (domain.PayoutTransaction, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.payouts[txn.ID]; ok {
		return clonePayout(existing), false, nil
	}
	r.s.payouts[txn.ID] = clonePayout(txn)
	return clonePayout(txn), true, nil
}

func (r *payoutRepository) FindByID(_ context.Context, payoutID string) (domain.PayoutTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	txn, ok := r.s.payouts[payoutID]
	if !ok {
		return domain.PayoutTransaction{}, repositories.NewNotFoundError("payouts.get", fmt.Errorf("payout %s not found", payoutID))
	}
	return clonePayout(txn), nil
}

func (r *payoutRepository) UpdateIfStatus(_ context.Context, txn domain.PayoutTransaction, expected domain.PayoutStatus) (domain.PayoutTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.payouts[txn.ID]
	if !ok {
		return domain.PayoutTransaction{}, repositories.NewNotFoundError("payouts.update", fmt.Errorf("payout %s not found", txn.ID))
	}
	if current.Status != expected {
		return domain.PayoutTransaction{}, repositories.NewConflictError("payouts.update", fmt.Errorf("payout %s status is %s, expected %s", txn.ID, current.Status, expected))
	}
	r.s.payouts[txn.ID] = clonePayout(txn)
	return clonePayout(txn), nil
}

func (r *payoutRepository) ListByStatus(_ context.Context, status domain.PayoutStatus, limit int) ([]domain.PayoutTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.PayoutTransaction
	for _, txn := range r.s.payouts {
		if txn.Status == status {
			out = append(out, clonePayout(txn))
		}
	}
	sortPayouts(out)
	return limitPayouts(out, limit), nil
}

func (r *payoutRepository) ListStaleProcessing(_ context.Context, claimedBefore time.Time, limit int) ([]domain.PayoutTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.PayoutTransaction
	for _, txn := range r.s.payouts {
		if txn.Status != domain.PayoutStatusProcessing || txn.ClaimedAt == nil {
			continue
		}
		if txn.ClaimedAt.Before(claimedBefore) {
			out = append(out, clonePayout(txn))
		}
	}
	sortPayouts(out)
	return limitPayouts(out, limit), nil
}

type sellerRepository struct{ s *Store }

func (r *sellerRepository) FindByID(_ context.Context, sellerID string) (domain.Seller, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seller, ok := r.s.sellers[sellerID]
	if !ok {
		return domain.Seller{}, repositories.NewNotFoundError("sellers.get", fmt.Errorf("seller %s not found", sellerID))
	}
	return seller, nil
}

type listingRepository struct{ s *Store }

func (r *listingRepository) SetAvailability(_ context.Context, listingIDs []string, available bool, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range listingIDs {
		r.s.listings[id] = available
		r.s.listingAt[id] = at.UTC()
	}
	return nil
}

func dueTime(order domain.Order, field repositories.OrderDueField) *time.Time {
	switch field {
	case repositories.DueByDeliveredAt:
		return order.DeliveredAt
	default:
		return order.CommitDeadline
	}
}

func limitOrders(orders []domain.Order, limit int) []domain.Order {
	if limit > 0 && len(orders) > limit {
		return orders[:limit]
	}
	return orders
}

func limitPayouts(payouts []domain.PayoutTransaction, limit int) []domain.PayoutTransaction {
	if limit > 0 && len(payouts) > limit {
		return payouts[:limit]
	}
	return payouts
}

func sortPayouts(payouts []domain.PayoutTransaction) {
	sort.Slice(payouts, func(i, j int) bool {
		if !payouts[i].CreatedAt.Equal(payouts[j].CreatedAt) {
			return payouts[i].CreatedAt.Before(payouts[j].CreatedAt)
		}
		return payouts[i].ID < payouts[j].ID
	})
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Items = append([]domain.ItemRef(nil), order.Items...)
	if order.Courier != nil {
		quote := *order.Courier
		out.Courier = &quote
	}
	if order.Refund != nil {
		refund := *order.Refund
		out.Refund = &refund
	}
	out.CommitDeadline = cloneTime(order.CommitDeadline)
	out.CommittedAt = cloneTime(order.CommittedAt)
	out.PayoutQueuedAt = cloneTime(order.PayoutQueuedAt)
	out.PayoutCompletedAt = cloneTime(order.PayoutCompletedAt)
	out.PaidAt = cloneTime(order.PaidAt)
	out.CollectedAt = cloneTime(order.CollectedAt)
	out.InTransitAt = cloneTime(order.InTransitAt)
	out.DeliveredAt = cloneTime(order.DeliveredAt)
	out.CompletedAt = cloneTime(order.CompletedAt)
	out.CancelledAt = cloneTime(order.CancelledAt)
	out.ExpiredAt = cloneTime(order.ExpiredAt)
	out.DisputedAt = cloneTime(order.DisputedAt)
	return out
}

func clonePayout(txn domain.PayoutTransaction) domain.PayoutTransaction {
	out := txn
	out.ClaimedAt = cloneTime(txn.ClaimedAt)
	out.CompletedAt = cloneTime(txn.CompletedAt)
	out.FailedAt = cloneTime(txn.FailedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
