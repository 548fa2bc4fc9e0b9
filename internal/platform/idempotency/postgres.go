package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ppostgres "github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/postgres"
)

// PostgresSchema creates the idempotency_keys table.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	status      TEXT NOT NULL,
	response    JSONB,
	expires_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idempotency_keys_expires_at ON idempotency_keys (expires_at);
`

// PostgresStore keeps records in the idempotency_keys table, locking rows with SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs the store, applying PostgresSchema when migrate is set.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, migrate bool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("idempotency: postgres pool is required")
	}
	if migrate {
		if err := ppostgres.Migrate(ctx, pool, PostgresSchema); err != nil {
			return nil, err
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := documentID(key)
	var result Reservation
	err := ppostgres.InTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		existing, found, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if found {
			reservation, expired, err := resolve(existing, fingerprint, now)
			if err != nil {
				return err
			}
			if !expired {
				result = reservation
				return nil
			}
		}
		record := pendingRecord(fingerprint, now, ttl)
		if found {
			_, err = tx.Exec(ctx, `
				UPDATE idempotency_keys SET fingerprint = $2, status = $3, response = NULL, expires_at = $4
				WHERE id = $1`,
				id, fingerprint, string(StatusPending), record.ExpiresAt)
			if err != nil {
				return err
			}
			result = Reservation{State: ReservationNew, Record: record}
			return nil
		}
		// A concurrent insert wins the key; this request then sees it as in flight.
		tag, err := tx.Exec(ctx, `
			INSERT INTO idempotency_keys (id, fingerprint, status, response, expires_at)
			VALUES ($1, $2, $3, NULL, $4)
			ON CONFLICT (id) DO NOTHING`,
			id, fingerprint, string(StatusPending), record.ExpiresAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			result = Reservation{State: ReservationPending, Record: record}
			return nil
		}
		result = Reservation{State: ReservationNew, Record: record}
		return nil
	})
	return result, err
}

func (s *PostgresStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE idempotency_keys SET status = $3, response = $4, expires_at = $5
		WHERE id = $1 AND fingerprint = $2`,
		documentID(key), fingerprint, string(StatusCompleted), payload, now.Add(ttl))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE id = $1 AND fingerprint = $2`, documentID(key), fingerprint)
	return err
}

func (s *PostgresStore) load(ctx context.Context, tx pgx.Tx, id string) (Record, bool, error) {
	var (
		record   Record
		status   string
		response []byte
	)
	err := tx.QueryRow(ctx, `
		SELECT fingerprint, status, response, expires_at FROM idempotency_keys WHERE id = $1 FOR UPDATE`, id).
		Scan(&record.Fingerprint, &status, &response, &record.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	record.Status = Status(status)
	if len(response) > 0 {
		if err := json.Unmarshal(response, &record.Response); err != nil {
			return Record{}, false, err
		}
	}
	return record, true, nil
}
