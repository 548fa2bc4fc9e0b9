package idempotency

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CacheStore keeps records in process memory. Keys are not shared between instances.
type CacheStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

var _ Store = (*CacheStore)(nil)

// NewCacheStore builds a store whose entries are evicted every cleanup interval.
func NewCacheStore(cleanup time.Duration) *CacheStore {
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &CacheStore{cache: gocache.New(DefaultTTL, cleanup)}
}

func (s *CacheStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if value, ok := s.cache.Get(id); ok {
		reservation, expired, err := resolve(value.(Record), fingerprint, now)
		if err != nil || !expired {
			return reservation, err
		}
	}
	record := pendingRecord(fingerprint, now, ttl)
	s.cache.Set(id, record, ttl)
	return Reservation{State: ReservationNew, Record: record}, nil
}

func (s *CacheStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if value, ok := s.cache.Get(id); ok && value.(Record).Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.cache.Set(id, Record{
		Fingerprint: fingerprint,
		Status:      StatusCompleted,
		Response:    resp,
		ExpiresAt:   now.Add(ttl),
	}, ttl)
	return nil
}

func (s *CacheStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if value, ok := s.cache.Get(id); ok && value.(Record).Fingerprint == fingerprint {
		s.cache.Delete(id)
	}
	return nil
}
