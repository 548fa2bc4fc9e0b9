// Package firestore implements the order store on Cloud Firestore. Conditional status writes
// run inside transactions so a concurrent writer forces a retry and the status comparison is
// made against the committed document.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	pfirestore "github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/firestore"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
)

// Store is the Firestore-backed repositories.Registry.
type Store struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	payouts  *pfirestore.Collection[payoutDocument]
	sellers  *pfirestore.Collection[sellerDocument]
	listings *pfirestore.Collection[map[string]any]
}

var (
	_ repositories.Registry          = (*Store)(nil)
	_ repositories.OrderRepository   = (*orderRepository)(nil)
	_ repositories.PayoutRepository  = (*payoutRepository)(nil)
	_ repositories.SellerRepository  = (*sellerRepository)(nil)
	_ repositories.ListingRepository = (*listingRepository)(nil)
)

// NewStore binds the collections to provider.
func NewStore(provider *pfirestore.Provider) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires provider")
	}
	return &Store{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		payouts:  pfirestore.NewCollection[payoutDocument](provider, payoutsCollection),
		sellers:  pfirestore.NewCollection[sellerDocument](provider, sellersCollection),
		listings: pfirestore.NewCollection[map[string]any](provider, listingsCollection),
	}, nil
}

// Close releases the Firestore client.
func (s *Store) Close(ctx context.Context) error { return s.provider.Close(ctx) }

// Orders returns the order repository.
func (s *Store) Orders() repositories.OrderRepository { return &orderRepository{s} }

// Payouts returns the payout repository.
func (s *Store) Payouts() repositories.PayoutRepository { return &payoutRepository{s} }

// Sellers returns the seller repository.
func (s *Store) Sellers() repositories.SellerRepository { return &sellerRepository{s} }

// Listings returns the listing repository.
func (s *Store) Listings() repositories.ListingRepository { return &listingRepository{s} }

// Health checks Firestore with a single-document read.
func (s *Store) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 2 * time.Second,
		Check: func(ctx context.Context) error {
			return s.provider.Ping(ctx, ordersCollection)
		},
	}}, nil)
	return repo
}

type orderRepository struct{ s *Store }

func (r *orderRepository) InsertBatch(ctx context.Context, orders []domain.Order) ([]domain.Order, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	reference := strings.TrimSpace(orders[0].PaymentReference)

	var saved []domain.Order
	err := r.s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		saved = saved[:0]
		if reference != "" {
			existing, err := r.s.orders.QueryTx(ctx, tx, byPaymentReference(reference))
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				for _, doc := range existing {
					saved = append(saved, doc.toDomain())
				}
				return nil
			}
		}
		for _, order := range orders {
			ref, err := r.s.orders.Ref(ctx, order.ID)
			if err != nil {
				return err
			}
			if err := tx.Create(ref, newOrderDocument(order)); err != nil {
				return err
			}
			saved = append(saved, order)
		}
		return nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("orders.insert", err)
	}
	return saved, nil
}

func (r *orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(), nil
}

func (r *orderRepository) FindByPaymentReference(ctx context.Context, reference string) ([]domain.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}
	docs, err := r.s.orders.Query(ctx, byPaymentReference(reference))
	if err != nil {
		return nil, err
	}
	return ordersFromDocs(docs), nil
}

func (r *orderRepository) UpdateIfStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error) {
	var saved domain.Order
	err := r.s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.s.orders.Ref(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		if domain.OrderStatus(current.Status) != expected {
			return repositories.NewConflictError("orders.update",
				fmt.Errorf("order %s status is %s, expected %s", order.ID, current.Status, expected))
		}
		doc := newOrderDocument(order)
		doc.PayoutCompletedAt = current.PayoutCompletedAt
		if current.PayoutQueuedAt != nil {
			doc.PayoutQueuedAt = current.PayoutQueuedAt
			doc.PayoutDue = false
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain()
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return saved, nil
}

func (r *orderRepository) MarkPayoutCompleted(ctx context.Context, orderID string, at time.Time) error {
	at = at.UTC()
	return r.s.orders.Update(ctx, orderID, []firestore.Update{
		{Path: "payoutCompletedAt", Value: at},
		{Path: "updatedAt", Value: at},
	})
}

func (r *orderRepository) MarkPayoutQueued(ctx context.Context, orderID string, at time.Time) error {
	return r.s.orders.Update(ctx, orderID, []firestore.Update{
		{Path: "payoutQueuedAt", Value: at.UTC()},
		{Path: "payoutDue", Value: false},
	})
}

func (r *orderRepository) ListFollowUps(ctx context.Context, followUp repositories.FollowUp, limit int) ([]domain.Order, error) {
	field := "payoutDue"
	if followUp == repositories.FollowUpRefund {
		field = "refundDue"
	}
	docs, err := r.s.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where(field, "==", true).OrderBy("updatedAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return ordersFromDocs(docs), nil
}

func (r *orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	docs, err := r.s.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.BuyerID != "" {
			q = q.Where("buyerId", "==", filter.BuyerID)
		}
		if filter.SellerID != "" {
			q = q.Where("sellerId", "==", filter.SellerID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, st := range filter.Status {
				statuses = append(statuses, string(st))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return ordersFromDocs(docs), nil
}

func (r *orderRepository) ListDue(ctx context.Context, filter repositories.OrderDueFilter) ([]domain.Order, error) {
	field := "commitDeadline"
	if filter.Field == repositories.DueByDeliveredAt {
		field = "deliveredAt"
	}
	docs, err := r.s.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(filter.Status)).
			Where(field, "<", filter.Before.UTC()).
			OrderBy(field, firestore.Asc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return ordersFromDocs(docs), nil
}

func byPaymentReference(reference string) pfirestore.QueryBuilder {
	return func(q firestore.Query) firestore.Query {
		return q.Where("paymentReference", "==", reference).OrderBy("id", firestore.Asc)
	}
}

func ordersFromDocs(docs []orderDocument) []domain.Order {
	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out
}

type payoutRepository struct{ s *Store }

func (r *payoutRepository) Create(ctx context.Context, txn domain.PayoutTransaction) (domain.PayoutTransaction, bool, error) {
	err := r.s.payouts.Create(ctx, txn.ID, newPayoutDocument(txn))
	if err == nil {
		return txn, true, nil
	}
	if !repositories.IsConflict(err) {
		return domain.PayoutTransaction{}, false, err
	}
	existing, err := r.FindByID(ctx, txn.ID)
	if err != nil {
		return domain.PayoutTransaction{}, false, err
	}
	return existing, false, nil
}

func (r *payoutRepository) FindByID(ctx context.Context, payoutID string) (domain.PayoutTransaction, error) {
	doc, err := r.s.payouts.Get(ctx, payoutID)
	if err != nil {
		return domain.PayoutTransaction{}, err
	}
	return doc.toDomain(), nil
}

func (r *payoutRepository) UpdateIfStatus(ctx context.Context, txn domain.PayoutTransaction, expected domain.PayoutStatus) (domain.PayoutTransaction, error) {
	err := r.s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.s.payouts.Ref(ctx, txn.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := pfirestore.Decode[payoutDocument](snap)
		if err != nil {
			return err
		}
		if domain.PayoutStatus(current.Status) != expected {
			return repositories.NewConflictError("payouts.update",
				fmt.Errorf("payout %s status is %s, expected %s", txn.ID, current.Status, expected))
		}
		return tx.Set(ref, newPayoutDocument(txn))
	})
	if err != nil {
		return domain.PayoutTransaction{}, pfirestore.WrapError("payouts.update", err)
	}
	return txn, nil
}

func (r *payoutRepository) ListByStatus(ctx context.Context, st domain.PayoutStatus, limit int) ([]domain.PayoutTransaction, error) {
	docs, err := r.s.payouts.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(st)).OrderBy("createdAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return payoutsFromDocs(docs), nil
}

func (r *payoutRepository) ListStaleProcessing(ctx context.Context, claimedBefore time.Time, limit int) ([]domain.PayoutTransaction, error) {
	docs, err := r.s.payouts.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.PayoutStatusProcessing)).
			Where("claimedAt", "<", claimedBefore.UTC()).
			OrderBy("claimedAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return payoutsFromDocs(docs), nil
}

func payoutsFromDocs(docs []payoutDocument) []domain.PayoutTransaction {
	out := make([]domain.PayoutTransaction, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out
}

type sellerRepository struct{ s *Store }

func (r *sellerRepository) FindByID(ctx context.Context, sellerID string) (domain.Seller, error) {
	doc, err := r.s.sellers.Get(ctx, sellerID)
	if err != nil {
		return domain.Seller{}, err
	}
	return domain.Seller{
		ID:            sellerID,
		DisplayName:   doc.DisplayName,
		Email:         doc.Email,
		Phone:         doc.Phone,
		RecipientCode: doc.RecipientCode,
		PickupAddress: domain.Address(doc.PickupAddress),
	}, nil
}

type listingRepository struct{ s *Store }

// SetAvailability merges the flag into each listing document; listings owned by catalogue
// keep their other fields.
func (r *listingRepository) SetAvailability(ctx context.Context, listingIDs []string, available bool, at time.Time) error {
	if len(listingIDs) == 0 {
		return nil
	}
	at = at.UTC()
	err := r.s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, id := range listingIDs {
			ref, err := r.s.listings.Ref(ctx, id)
			if err != nil {
				return err
			}
			if err := tx.Set(ref, map[string]any{
				"available":             available,
				"availabilityUpdatedAt": at,
			}, firestore.MergeAll); err != nil {
				return err
			}
		}
		return nil
	})
	return pfirestore.WrapError("listings.set_availability", err)
}
