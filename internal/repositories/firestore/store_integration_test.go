//go:build integration

package firestore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	pconfig "github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/config"
	pfirestore "github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/firestore"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
)

func newEmulatorStore(t *testing.T) *Store {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "rebooked-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	store, err := NewStore(provider)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func paidOrder(id, reference string, now time.Time) domain.Order {
	deadline := now.Add(48 * time.Hour)
	return domain.Order{
		ID:               id,
		BuyerID:          "buyer-1",
		SellerID:         "seller-1",
		Items:            []domain.ItemRef{{ListingID: "book-" + id, Title: "Calculus", UnitPrice: 25000, Quantity: 1}},
		Currency:         "ZAR",
		Amount:           30000,
		Status:           domain.OrderStatusPaid,
		PaymentReference: reference,
		CommitDeadline:   &deadline,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestOrderStoreIntegration(t *testing.T) {
	store := newEmulatorStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	reference := "pay_" + ulid.Make().String()
	orderID := "ord_" + ulid.Make().String()
	orders := store.Orders()

	saved, err := orders.InsertBatch(ctx, []domain.Order{paidOrder(orderID, reference, now)})
	if err != nil || len(saved) != 1 {
		t.Fatalf("insert batch: %v (%d)", err, len(saved))
	}
	replayed, err := orders.InsertBatch(ctx, []domain.Order{paidOrder("ord_"+ulid.Make().String(), reference, now)})
	if err != nil {
		t.Fatalf("replay insert: %v", err)
	}
	if len(replayed) != 1 || replayed[0].ID != orderID {
		t.Fatalf("expected stored set returned on replay, got %+v", replayed)
	}

	// Concurrent commits: exactly one wins the status comparison.
	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order := saved[0]
			order.Status = domain.OrderStatusCommitted
			order.SellerCommitted = true
			_, err := orders.UpdateIfStatus(ctx, order, domain.OrderStatusPaid)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case repositories.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected update error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflicts != workers-1 {
		t.Fatalf("expected one winner, got wins=%d conflicts=%d", wins, conflicts)
	}

	if err := orders.MarkPayoutCompleted(ctx, orderID, now); err != nil {
		t.Fatalf("mark payout: %v", err)
	}
	got, err := orders.FindByID(ctx, orderID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.OrderStatusCommitted || got.PayoutCompletedAt == nil || len(got.Items) != 1 {
		t.Fatalf("unexpected stored order %+v", got)
	}

	if _, err := orders.FindByID(ctx, "ord_missing"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	payouts := store.Payouts()
	txn := domain.PayoutTransaction{
		ID:        domain.PayoutIDForOrder(orderID),
		OrderID:   orderID,
		SellerID:  "seller-1",
		Amount:    27500,
		Currency:  "ZAR",
		Status:    domain.PayoutStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, created, err := payouts.Create(ctx, txn); err != nil || !created {
		t.Fatalf("create payout: created=%v err=%v", created, err)
	}
	if _, created, err := payouts.Create(ctx, txn); err != nil || created {
		t.Fatalf("expected existing payout returned, created=%v err=%v", created, err)
	}
}
