package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/firestore"
)

const firestoreCollection = "idempotency_keys"

// FirestoreStore keeps records in the idempotency_keys collection. A Firestore TTL policy on
// expires_at removes stale documents.
type FirestoreStore struct {
	provider *pfirestore.Provider
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{provider: provider}
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(firestoreCollection).Doc(documentID(key)), nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.doc(ctx, key)
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var doc firestoreRecord
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			reservation, expired, err := resolve(doc.toRecord(), fingerprint, now)
			if err != nil {
				return err
			}
			if !expired {
				result = reservation
				return nil
			}
		}
		record := pendingRecord(fingerprint, now, ttl)
		result = Reservation{State: ReservationNew, Record: record}
		return tx.Set(ref, newFirestoreRecord(key, record))
	}, pfirestore.WithTxAttempts(5))
	return result, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc firestoreRecord
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		}
		return tx.Set(ref, newFirestoreRecord(key, Record{
			Fingerprint: fingerprint,
			Status:      StatusCompleted,
			Response:    resp,
			ExpiresAt:   now.Add(ttl),
		}))
	}, pfirestore.WithTxAttempts(5))
}

func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var doc firestoreRecord
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.Fingerprint != fingerprint {
			return nil
		}
		return tx.Delete(ref)
	})
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func newFirestoreRecord(key string, r Record) firestoreRecord {
	return firestoreRecord{
		Key:             key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.Response.Status,
		ResponseHeaders: r.Response.Headers,
		ResponseBody:    r.Response.Body,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Fingerprint: r.Fingerprint,
		Status:      Status(r.Status),
		Response: Response{
			Status:  r.ResponseStatus,
			Headers: r.ResponseHeaders,
			Body:    r.ResponseBody,
		},
		ExpiresAt: r.ExpiresAt,
	}
}
