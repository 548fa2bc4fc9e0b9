// Package postgres implements the order store on PostgreSQL. Each order and payout is kept
// as a JSONB document beside the columns the store filters on; conditional writes use
// UPDATE ... WHERE status = $expected.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	ppostgres "github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/postgres"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
)

// Schema is the DDL applied by NewStore when migrate is set.
//
//go:embed schema.sql
var Schema string

// Store is the Postgres-backed repositories.Registry.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ repositories.Registry          = (*Store)(nil)
	_ repositories.OrderRepository   = (*orderRepository)(nil)
	_ repositories.PayoutRepository  = (*payoutRepository)(nil)
	_ repositories.SellerRepository  = (*sellerRepository)(nil)
	_ repositories.ListingRepository = (*listingRepository)(nil)
)

// NewStore wraps pool. When migrate is set the embedded schema is applied first.
func NewStore(ctx context.Context, pool *pgxpool.Pool, migrate bool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("postgres store requires pool")
	}
	if migrate {
		if err := ppostgres.Migrate(ctx, pool, Schema); err != nil {
			return nil, err
		}
	}
	return &Store{pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// Orders returns the order repository.
func (s *Store) Orders() repositories.OrderRepository { return &orderRepository{s.pool} }

// Payouts returns the payout repository.
func (s *Store) Payouts() repositories.PayoutRepository { return &payoutRepository{s.pool} }

// Sellers returns the seller repository.
func (s *Store) Sellers() repositories.SellerRepository { return &sellerRepository{s.pool} }

// Listings returns the listing repository.
func (s *Store) Listings() repositories.ListingRepository { return &listingRepository{s.pool} }

// Health pings the pool.
func (s *Store) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:    "postgres",
		Timeout: 2 * time.Second,
		Check:   s.pool.Ping,
	}}, nil)
	return repo
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type orderRepository struct{ pool *pgxpool.Pool }

const orderColumns = `data, payout_completed_at, payout_queued_at, payout_due`

func (r *orderRepository) InsertBatch(ctx context.Context, orders []domain.Order) ([]domain.Order, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	reference := strings.TrimSpace(orders[0].PaymentReference)

	var saved []domain.Order
	err := ppostgres.InTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if reference != "" {
			// Serialise concurrent checkouts for the same payment reference.
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, reference); err != nil {
				return err
			}
			existing, err := queryOrders(ctx, tx,
				`SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1 ORDER BY id`, reference)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				saved = existing
				return nil
			}
		}
		for _, order := range orders {
			data, err := json.Marshal(order)
			if err != nil {
				return fmt.Errorf("encode order %s: %w", order.ID, err)
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO orders (id, buyer_id, seller_id, status, payment_reference, commit_deadline,
                    delivered_at, payout_completed_at, data, created_at, updated_at, refund_due, payout_due)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				order.ID, order.BuyerID, order.SellerID, string(order.Status), order.PaymentReference,
				order.CommitDeadline, order.DeliveredAt, order.PayoutCompletedAt, data,
				order.CreatedAt.UTC(), order.UpdatedAt.UTC(), order.RefundDue, order.PayoutDue); err != nil {
				return err
			}
			saved = append(saved, order)
		}
		return nil
	})
	if err != nil {
		return nil, wrapError("orders.insert", err)
	}
	return saved, nil
}

func (r *orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orders, err := queryOrders(ctx, r.pool, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return domain.Order{}, wrapError("orders.get", err)
	}
	if len(orders) == 0 {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", fmt.Errorf("order %s not found", orderID))
	}
	return orders[0], nil
}

func (r *orderRepository) FindByPaymentReference(ctx context.Context, reference string) ([]domain.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}
	orders, err := queryOrders(ctx, r.pool,
		`SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1 ORDER BY id`, reference)
	if err != nil {
		return nil, wrapError("orders.find_by_reference", err)
	}
	return orders, nil
}

func (r *orderRepository) UpdateIfStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error) {
	data, err := json.Marshal(order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	var (
		payoutCompletedAt *time.Time
		payoutQueuedAt    *time.Time
		payoutDue         bool
	)
	// SET expressions read the pre-update row, so a queued payout keeps payout_due cleared.
	err = r.pool.QueryRow(ctx, `
UPDATE orders
   SET status = $3, commit_deadline = $4, delivered_at = $5, data = $6, updated_at = $7,
       refund_due = $8, payout_due = ($9 AND payout_queued_at IS NULL)
 WHERE id = $1 AND status = $2
RETURNING payout_completed_at, payout_queued_at, payout_due`,
		order.ID, string(expected), string(order.Status), order.CommitDeadline, order.DeliveredAt,
		data, order.UpdatedAt.UTC(), order.RefundDue, order.PayoutDue).Scan(&payoutCompletedAt, &payoutQueuedAt, &payoutDue)
	if errors.Is(err, pgx.ErrNoRows) {
		current, findErr := r.FindByID(ctx, order.ID)
		if findErr != nil {
			return domain.Order{}, findErr
		}
		return domain.Order{}, repositories.NewConflictError("orders.update",
			fmt.Errorf("order %s status is %s, expected %s", order.ID, current.Status, expected))
	}
	if err != nil {
		return domain.Order{}, wrapError("orders.update", err)
	}
	order.PayoutCompletedAt = payoutCompletedAt
	order.PayoutQueuedAt = payoutQueuedAt
	order.PayoutDue = payoutDue
	return order, nil
}

func (r *orderRepository) MarkPayoutCompleted(ctx context.Context, orderID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET payout_completed_at = $2, updated_at = $2 WHERE id = $1`, orderID, at.UTC())
	if err != nil {
		return wrapError("orders.mark_payout", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewNotFoundError("orders.mark_payout", fmt.Errorf("order %s not found", orderID))
	}
	return nil
}

func (r *orderRepository) MarkPayoutQueued(ctx context.Context, orderID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE orders
   SET payout_queued_at = COALESCE(payout_queued_at, $2), payout_due = FALSE
 WHERE id = $1`, orderID, at.UTC())
	if err != nil {
		return wrapError("orders.mark_payout_queued", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewNotFoundError("orders.mark_payout_queued", fmt.Errorf("order %s not found", orderID))
	}
	return nil
}

func (r *orderRepository) ListFollowUps(ctx context.Context, followUp repositories.FollowUp, limit int) ([]domain.Order, error) {
	column := "payout_due"
	if followUp == repositories.FollowUpRefund {
		column = "refund_due"
	}
	orders, err := queryOrders(ctx, r.pool,
		fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY updated_at, id LIMIT $1`, orderColumns, column),
		sqlLimit(limit))
	if err != nil {
		return nil, wrapError("orders.list_follow_ups", err)
	}
	return orders, nil
}

func (r *orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.BuyerID != "" {
		add("buyer_id = $%d", filter.BuyerID)
	}
	if filter.SellerID != "" {
		add("seller_id = $%d", filter.SellerID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, st := range filter.Status {
			statuses = append(statuses, string(st))
		}
		add("status = ANY($%d)", statuses)
	}

	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	orders, err := queryOrders(ctx, r.pool, sql, args...)
	if err != nil {
		return nil, wrapError("orders.list", err)
	}
	return orders, nil
}

func (r *orderRepository) ListDue(ctx context.Context, filter repositories.OrderDueFilter) ([]domain.Order, error) {
	column := "commit_deadline"
	if filter.Field == repositories.DueByDeliveredAt {
		column = "delivered_at"
	}
	sql := fmt.Sprintf(`SELECT %s FROM orders WHERE status = $1 AND %s < $2 ORDER BY %s, id`,
		orderColumns, column, column)
	args := []any{string(filter.Status), filter.Before.UTC()}
	if filter.Limit > 0 {
		sql += ` LIMIT $3`
		args = append(args, filter.Limit)
	}
	orders, err := queryOrders(ctx, r.pool, sql, args...)
	if err != nil {
		return nil, wrapError("orders.list_due", err)
	}
	return orders, nil
}

func queryOrders(ctx context.Context, q querier, sql string, args ...any) ([]domain.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		var (
			data              []byte
			payoutCompletedAt *time.Time
			payoutQueuedAt    *time.Time
			payoutDue         bool
			order             domain.Order
		)
		if err := row.Scan(&data, &payoutCompletedAt, &payoutQueuedAt, &payoutDue); err != nil {
			return order, err
		}
		if err := json.Unmarshal(data, &order); err != nil {
			return order, fmt.Errorf("decode order: %w", err)
		}
		order.PayoutCompletedAt = payoutCompletedAt
		order.PayoutQueuedAt = payoutQueuedAt
		order.PayoutDue = payoutDue
		return order, nil
	})
}

type payoutRepository struct{ pool *pgxpool.Pool }

func (r *payoutRepository) Create(ctx context.Context, txn domain.PayoutTransaction) (domain.PayoutTransaction, bool, error) {
	data, err := json.Marshal(txn)
	if err != nil {
		return domain.PayoutTransaction{}, false, fmt.Errorf("encode payout %s: %w", txn.ID, err)
	}
	tag, err := r.pool.Exec(ctx, `
INSERT INTO payouts (id, order_id, seller_id, status, claimed_at, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT DO NOTHING`,
		txn.ID, txn.OrderID, txn.SellerID, string(txn.Status), txn.ClaimedAt, data,
		txn.CreatedAt.UTC(), txn.UpdatedAt.UTC())
	if err != nil {
		return domain.PayoutTransaction{}, false, wrapError("payouts.create", err)
	}
	if tag.RowsAffected() == 1 {
		return txn, true, nil
	}
	existing, err := r.findOne(ctx, `SELECT data FROM payouts WHERE id = $1 OR order_id = $2`, txn.ID, txn.OrderID)
	if err != nil {
		return domain.PayoutTransaction{}, false, err
	}
	return existing, false, nil
}

func (r *payoutRepository) FindByID(ctx context.Context, payoutID string) (domain.PayoutTransaction, error) {
	return r.findOne(ctx, `SELECT data FROM payouts WHERE id = $1`, payoutID)
}

func (r *payoutRepository) findOne(ctx context.Context, sql string, args ...any) (domain.PayoutTransaction, error) {
	txns, err := queryPayouts(ctx, r.pool, sql+` LIMIT 1`, args...)
	if err != nil {
		return domain.PayoutTransaction{}, wrapError("payouts.get", err)
	}
	if len(txns) == 0 {
		return domain.PayoutTransaction{}, repositories.NewNotFoundError("payouts.get", fmt.Errorf("payout %v not found", args[0]))
	}
	return txns[0], nil
}

func (r *payoutRepository) UpdateIfStatus(ctx context.Context, txn domain.PayoutTransaction, expected domain.PayoutStatus) (domain.PayoutTransaction, error) {
	data, err := json.Marshal(txn)
	if err != nil {
		return domain.PayoutTransaction{}, fmt.Errorf("encode payout %s: %w", txn.ID, err)
	}
	tag, err := r.pool.Exec(ctx, `
UPDATE payouts SET status = $3, claimed_at = $4, data = $5, updated_at = $6
 WHERE id = $1 AND status = $2`,
		txn.ID, string(expected), string(txn.Status), txn.ClaimedAt, data, txn.UpdatedAt.UTC())
	if err != nil {
		return domain.PayoutTransaction{}, wrapError("payouts.update", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := r.FindByID(ctx, txn.ID)
		if err != nil {
			return domain.PayoutTransaction{}, err
		}
		return domain.PayoutTransaction{}, repositories.NewConflictError("payouts.update",
			fmt.Errorf("payout %s status is %s, expected %s", txn.ID, current.Status, expected))
	}
	return txn, nil
}

func (r *payoutRepository) ListByStatus(ctx context.Context, st domain.PayoutStatus, limit int) ([]domain.PayoutTransaction, error) {
	txns, err := queryPayouts(ctx, r.pool,
		`SELECT data FROM payouts WHERE status = $1 ORDER BY created_at, id LIMIT $2`, string(st), sqlLimit(limit))
	if err != nil {
		return nil, wrapError("payouts.list", err)
	}
	return txns, nil
}

func (r *payoutRepository) ListStaleProcessing(ctx context.Context, claimedBefore time.Time, limit int) ([]domain.PayoutTransaction, error) {
	txns, err := queryPayouts(ctx, r.pool, `
SELECT data FROM payouts
 WHERE status = $1 AND claimed_at < $2
 ORDER BY created_at, id LIMIT $3`,
		string(domain.PayoutStatusProcessing), claimedBefore.UTC(), sqlLimit(limit))
	if err != nil {
		return nil, wrapError("payouts.list_stale", err)
	}
	return txns, nil
}

func queryPayouts(ctx context.Context, q querier, sql string, args ...any) ([]domain.PayoutTransaction, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PayoutTransaction, error) {
		var (
			data []byte
			txn  domain.PayoutTransaction
		)
		if err := row.Scan(&data); err != nil {
			return txn, err
		}
		if err := json.Unmarshal(data, &txn); err != nil {
			return txn, fmt.Errorf("decode payout: %w", err)
		}
		return txn, nil
	})
}

// sqlLimit maps "no limit" to NULL, which Postgres treats as LIMIT ALL.
func sqlLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

type sellerRepository struct{ pool *pgxpool.Pool }

func (r *sellerRepository) FindByID(ctx context.Context, sellerID string) (domain.Seller, error) {
	seller := domain.Seller{ID: sellerID}
	var pickup []byte
	err := r.pool.QueryRow(ctx, `
SELECT display_name, email, phone, recipient_code, pickup_address FROM sellers WHERE id = $1`, sellerID).
		Scan(&seller.DisplayName, &seller.Email, &seller.Phone, &seller.RecipientCode, &pickup)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Seller{}, repositories.NewNotFoundError("sellers.get", fmt.Errorf("seller %s not found", sellerID))
	}
	if err != nil {
		return domain.Seller{}, wrapError("sellers.get", err)
	}
	if err := json.Unmarshal(pickup, &seller.PickupAddress); err != nil {
		return domain.Seller{}, fmt.Errorf("decode seller %s pickup address: %w", sellerID, err)
	}
	return seller, nil
}

type listingRepository struct{ pool *pgxpool.Pool }

func (r *listingRepository) SetAvailability(ctx context.Context, listingIDs []string, available bool, at time.Time) error {
	if len(listingIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO listings (id, available, availability_updated_at)
SELECT unnest($1::text[]), $2, $3
ON CONFLICT (id) DO UPDATE SET available = EXCLUDED.available,
                               availability_updated_at = EXCLUDED.availability_updated_at`,
		listingIDs, available, at.UTC())
	return wrapError("listings.set_availability", err)
}
