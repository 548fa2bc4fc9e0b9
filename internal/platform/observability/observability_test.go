package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/requestctx"
)

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(baseCore))

	log(context.Background(), "payout.completed", map[string]any{"order_id": "o1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	log(ctx, "payout.transfer_failed", map[string]any{"error": errors.New("boom")})

	if baseLogs.Len() != 1 || reqLogs.Len() != 1 {
		t.Fatalf("expected one entry per logger, got base=%d request=%d", baseLogs.Len(), reqLogs.Len())
	}
	entry := reqLogs.All()[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for failed event, got %s", entry.Level)
	}
	if entry.ContextMap()["error"] != "boom" {
		t.Fatalf("expected error field, got %v", entry.ContextMap())
	}
	if baseLogs.All()[0].ContextMap()["order_id"] != "o1" {
		t.Fatalf("expected order_id field, got %v", baseLogs.All()[0].ContextMap())
	}
}

func TestRequestLoggerLogsRouteAndStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := chi.NewRouter()
	r.Use(middleware.RequestID, InjectLogger(zap.New(core)), TraceMiddleware("proj"), RequestLogger())
	r.Get("/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/o-1", nil))

	if logs.Len() != 1 {
		t.Fatalf("expected one log entry, got %d", logs.Len())
	}
	entry := logs.All()[0]
	fields := entry.ContextMap()
	if entry.Level != zapcore.WarnLevel || fields["status"] != int64(http.StatusConflict) {
		t.Fatalf("unexpected entry %s %v", entry.Level, fields)
	}
	if fields["route"] != "/orders/{orderID}" {
		t.Fatalf("expected route pattern, got %v", fields["route"])
	}
	if fields["request_id"] == "" {
		t.Fatalf("expected request id")
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" || !sc.IsSampled() {
		t.Fatalf("unexpected span context %+v", sc)
	}
	if got := formatCloudTraceHeader(sc); got != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("expected round trip, got %s", got)
	}

	for _, header := range []string{"", "abc", "105445aa7843bc8bf206b12000100000/0", "105445aa7843bc8bf206b12000100000/xyz"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestCleanStripsControlCharacters(t *testing.T) {
	if got := clean("/orders\n/x\x00y", 100); strings.ContainsAny(got, "\n\x00") {
		t.Fatalf("expected control characters removed, got %q", got)
	}
	if got := clean("abcdef", 3); got != "abc" {
		t.Fatalf("expected truncation, got %q", got)
	}
}

func TestFulfilmentMetricsNoop(t *testing.T) {
	m, err := NewFulfilmentMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.OrderTransition(context.Background(), domain.OrderStatusPaid, domain.OrderStatusExpired)
	m.PayoutOutcome(context.Background(), "completed")

	var nilMetrics *FulfilmentMetrics
	nilMetrics.PayoutOutcome(context.Background(), "failed")
}
