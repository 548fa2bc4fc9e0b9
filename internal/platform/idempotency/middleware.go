package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/auth"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/httpx"
)

const (
	// HeaderName carries the client supplied key.
	HeaderName = "Idempotency-Key"
	// ReplayHeader marks a response served from the store.
	ReplayHeader = "Idempotent-Replayed"

	maxKeyLength = 255
)

type middlewareConfig struct {
	ttl        time.Duration
	requireKey bool
	clock      func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// Option customises Middleware.
type Option func(*middlewareConfig)

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// RequireKey rejects mutating requests that carry no key.
func RequireKey() Option {
	return func(cfg *middlewareConfig) { cfg.requireKey = true }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithLogger reports store failures.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) Option {
	return func(cfg *middlewareConfig) { cfg.logger = logger }
}

// Middleware guards POST requests. Keys are scoped to the caller identity, and a key reused
// with a different body is rejected with 422.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{
		ttl:    DefaultTTL,
		clock:  time.Now,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(HeaderName))
			if key == "" {
				if cfg.requireKey {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "Idempotency-Key header is required", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "Idempotency-Key is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			caller := requester(ctx)
			scoped := caller + "|" + key
			fingerprint := requestFingerprint(r, body, caller)

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "Idempotency-Key was used for a different request", http.StatusUnprocessableEntity))
					return
				}
				cfg.logger(ctx, "idempotency.reserve_failed", map[string]any{"error": err.Error()})
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process Idempotency-Key", http.StatusServiceUnavailable))
				return
			}

			switch reservation.State {
			case ReservationCompleted:
				replay(w, reservation.Record.Response)
				return
			case ReservationPending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this Idempotency-Key is in progress", http.StatusConflict))
				return
			}

			rec := &recorder{header: make(http.Header)}
			next.ServeHTTP(rec, r)

			// Server errors are not cached so the client can retry with the same key.
			if rec.status >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					cfg.logger(ctx, "idempotency.release_failed", map[string]any{"error": err.Error()})
				}
			} else {
				resp := Response{Status: rec.statusCode(), Headers: replayableHeaders(rec.header), Body: rec.body.Bytes()}
				if err := store.Complete(ctx, scoped, fingerprint, resp, cfg.clock().UTC(), cfg.ttl); err != nil {
					cfg.logger(ctx, "idempotency.complete_failed", map[string]any{"error": err.Error()})
				}
			}
			rec.flush(w)
		})
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return "user:" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil && svc.Subject != "" {
		return "service:" + svc.Subject
	}
	return "anonymous"
}

func requestFingerprint(r *http.Request, body []byte, caller string) string {
	sum := sha256.New()
	for _, part := range []string{r.Method, r.URL.Path, r.URL.RawQuery, caller} {
		sum.Write([]byte(part))
		sum.Write([]byte{'|'})
	}
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

func replay(w http.ResponseWriter, resp Response) {
	for name, values := range resp.Headers {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(ReplayHeader, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *recorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.statusCode())
	_, _ = w.Write(r.body.Bytes())
}
