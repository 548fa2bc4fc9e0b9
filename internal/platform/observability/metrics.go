package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
)

const meterName = "github.com/SimelweN/ReBookedSolutions-sub005"

// FulfilmentMetrics records order transitions and payout outcomes as OpenTelemetry counters.
type FulfilmentMetrics struct {
	transitions metric.Int64Counter
	expired     metric.Int64Counter
	payouts     metric.Int64Counter
}

// NewFulfilmentMetrics registers the counters on provider, or on the global provider when nil.
func NewFulfilmentMetrics(provider metric.MeterProvider) (*FulfilmentMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	transitions, err := meter.Int64Counter("orders.transitions",
		metric.WithDescription("Order status transitions"))
	if err != nil {
		return nil, err
	}
	expired, err := meter.Int64Counter("orders.expired",
		metric.WithDescription("Orders expired after the seller commit window"))
	if err != nil {
		return nil, err
	}
	payouts, err := meter.Int64Counter("payouts.outcomes",
		metric.WithDescription("Seller payout attempts by outcome"))
	if err != nil {
		return nil, err
	}
	return &FulfilmentMetrics{transitions: transitions, expired: expired, payouts: payouts}, nil
}

// OrderTransition counts a status change.
func (m *FulfilmentMetrics) OrderTransition(ctx context.Context, from, to domain.OrderStatus) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	if to == domain.OrderStatusExpired {
		m.expired.Add(ctx, 1)
	}
}

// PayoutOutcome counts a payout attempt result (completed, retrying, failed, ambiguous).
func (m *FulfilmentMetrics) PayoutOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.payouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
