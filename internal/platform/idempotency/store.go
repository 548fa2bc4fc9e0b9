// Package idempotency replays stored responses for requests that repeat an Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a completed response can be replayed.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a stored key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Reserve.
type ReservationState int

const (
	// ReservationNew means the caller owns the key and must Complete or Release it.
	ReservationNew ReservationState = iota
	// ReservationCompleted means Record holds a response to replay.
	ReservationCompleted
	// ReservationPending means another request holds the key.
	ReservationPending
)

// Reservation is returned by Store.Reserve.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the persisted state of a key.
type Record struct {
	Fingerprint string
	Status      Status
	Response    Response
	ExpiresAt   time.Time
}

// Response is the captured HTTP response.
type Response struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// Store persists reservations. Implementations must make Reserve atomic per key.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

// documentID hashes a scoped key into a value safe for document ids and primary keys.
func documentID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func pendingRecord(fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{Fingerprint: fingerprint, Status: StatusPending, ExpiresAt: now.Add(ttl)}
}

// resolve maps an existing record onto a reservation outcome. expired reports whether the
// caller may overwrite it with a fresh pending record.
func resolve(existing Record, fingerprint string, now time.Time) (Reservation, bool, error) {
	if !existing.ExpiresAt.IsZero() && !now.Before(existing.ExpiresAt) {
		return Reservation{}, true, nil
	}
	if existing.Fingerprint != fingerprint {
		return Reservation{}, false, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationCompleted, Record: existing}, false, nil
	}
	return Reservation{State: ReservationPending, Record: existing}, false, nil
}

// replayableHeaders drops hop-by-hop and length headers from a captured response.
func replayableHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string][]string, len(header))
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "trailer", "upgrade":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
