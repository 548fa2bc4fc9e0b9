package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/transfer"
)

const defaultStripeTimeout = 10 * time.Second

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeTransferAPI interface {
	New(params *stripe.TransferParams) (*stripe.Transfer, error)
	Get(id string, params *stripe.TransferParams) (*stripe.Transfer, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// stripeTransferLister drains a transfer listing; the SDK iterator is not mockable.
type stripeTransferLister func(params *stripe.TransferListParams) ([]*stripe.Transfer, error)

type stripeClients struct {
	intents       stripePaymentIntentAPI
	transfers     stripeTransferAPI
	listTransfers stripeTransferLister
	refunds       stripeRefundAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey   string
	Currency string
	Timeout  time.Duration
	Backends *stripe.Backends
	Logger   StripeLogger
	Clients  *stripeClients
}

// StripeGateway implements Gateway on Stripe Connect: payment intents are the checkout payment
// references and transfers pay seller connected accounts.
type StripeGateway struct {
	api      stripeClients
	currency string
	logger   StripeLogger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		backends := cfg.Backends
		if backends == nil {
			backends = newStripeBackends(cfg.Timeout)
		}
		sc := client.New(apiKey, backends)
		clients = stripeClients{
			intents:       sc.PaymentIntents,
			transfers:     sc.Transfers,
			listTransfers: drainTransfers(sc.Transfers),
			refunds:       sc.Refunds,
		}
	}

	if clients.intents == nil || clients.transfers == nil || clients.listTransfers == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "zar"
	}

	return &StripeGateway{
		api:      clients,
		currency: currency,
		logger:   logger,
	}, nil
}

func newStripeBackends(timeout time.Duration) *stripe.Backends {
	if timeout <= 0 {
		timeout = defaultStripeTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	return &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{HTTPClient: httpClient}),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, &stripe.BackendConfig{HTTPClient: httpClient}),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, &stripe.BackendConfig{HTTPClient: httpClient}),
	}
}

func drainTransfers(api *transfer.Client) stripeTransferLister {
	return func(params *stripe.TransferListParams) ([]*stripe.Transfer, error) {
		iter := api.List(params)
		var out []*stripe.Transfer
		for iter.Next() {
			out = append(out, iter.Transfer())
		}
		return out, iter.Err()
	}
}

// VerifyPayment retrieves the payment intent identified by reference.
func (g *StripeGateway) VerifyPayment(ctx context.Context, reference string) (PaymentVerification, error) {
	if g == nil {
		return PaymentVerification{}, errors.New("stripe: gateway is nil")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return PaymentVerification{}, fmt.Errorf("%w: payment reference is required", ErrInvalidRequest)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.api.intents.Get(reference, params)
	if err != nil {
		if stripeStatusCode(err) == http.StatusNotFound {
			return PaymentVerification{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, reference)
		}
		return PaymentVerification{}, fmt.Errorf("stripe: retrieve payment intent: %w", err)
	}
	return stripePaymentVerification(intent), nil
}

// InitiateTransfer pays the seller's connected account. The reference is used both as the
// idempotency key and as the transfer group so the transfer can be found again.
func (g *StripeGateway) InitiateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if g == nil {
		return TransferResult{}, errors.New("stripe: gateway is nil")
	}
	recipient := strings.TrimSpace(req.RecipientCode)
	reference := strings.TrimSpace(req.Reference)
	if recipient == "" || reference == "" || req.Amount <= 0 {
		return TransferResult{}, fmt.Errorf("%w: recipient, reference and a positive amount are required", ErrTransferRejected)
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(g.currencyFor(req.Currency)),
		Destination:   stripe.String(recipient),
		TransferGroup: stripe.String(reference),
	}
	params.Context = ctx
	params.SetIdempotencyKey(reference)
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		params.Description = stripe.String(reason)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	tr, err := g.api.transfers.New(params)
	if err != nil {
		if isDefinitiveStripeRejection(err) {
			return TransferResult{}, fmt.Errorf("%w: %v", ErrTransferRejected, err)
		}
		return TransferResult{}, fmt.Errorf("stripe: create transfer: %w", err)
	}

	g.logger(ctx, "payments.stripe.transfer.created", map[string]any{
		"transfer":  tr.ID,
		"reference": reference,
		"amount":    tr.Amount,
	})
	return stripeTransferResult(tr, reference), nil
}

// TransferStatus looks a transfer up by id, or by transfer group when only the reference is known.
func (g *StripeGateway) TransferStatus(ctx context.Context, lookup TransferLookup) (TransferResult, error) {
	if g == nil {
		return TransferResult{}, errors.New("stripe: gateway is nil")
	}
	code := strings.TrimSpace(lookup.Code)
	reference := strings.TrimSpace(lookup.Reference)

	if code != "" {
		params := &stripe.TransferParams{}
		params.Context = ctx
		tr, err := g.api.transfers.Get(code, params)
		if err != nil {
			if stripeStatusCode(err) == http.StatusNotFound {
				return TransferResult{}, fmt.Errorf("%w: %s", ErrTransferNotFound, code)
			}
			return TransferResult{}, fmt.Errorf("stripe: retrieve transfer: %w", err)
		}
		return stripeTransferResult(tr, reference), nil
	}

	if reference == "" {
		return TransferResult{}, fmt.Errorf("%w: transfer code or reference is required", ErrInvalidRequest)
	}
	params := &stripe.TransferListParams{TransferGroup: stripe.String(reference)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	transfers, err := g.api.listTransfers(params)
	if err != nil {
		return TransferResult{}, fmt.Errorf("stripe: list transfers: %w", err)
	}
	if len(transfers) == 0 {
		return TransferResult{}, fmt.Errorf("%w: %s", ErrTransferNotFound, reference)
	}
	return stripeTransferResult(transfers[0], reference), nil
}

// Refund refunds the payment intent, keyed by the refund reference for idempotency.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if g == nil {
		return RefundResult{}, errors.New("stripe: gateway is nil")
	}
	intentID := strings.TrimSpace(req.PaymentReference)
	if intentID == "" {
		return RefundResult{}, fmt.Errorf("%w: payment reference is required", ErrInvalidRequest)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	if key := strings.TrimSpace(req.Reference); key != "" {
		params.SetIdempotencyKey(key)
		params.AddMetadata("reference", key)
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		params.AddMetadata("reason", reason)
	}

	refund, err := g.api.refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: create refund: %w", err)
	}
	g.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": intentID,
		"refund":        refund.ID,
		"status":        refund.Status,
	})
	return RefundResult{ID: refund.ID, Status: stripeRefundStatus(refund.Status)}, nil
}

func (g *StripeGateway) currencyFor(currency string) string {
	if c := strings.ToLower(strings.TrimSpace(currency)); c != "" {
		return c
	}
	return g.currency
}

func stripePaymentVerification(intent *stripe.PaymentIntent) PaymentVerification {
	if intent == nil {
		return PaymentVerification{Status: StatusPending}
	}
	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	amount := intent.AmountReceived
	if amount == 0 && status == StatusSucceeded {
		amount = intent.Amount
	}

	metadata := make(map[string]string, len(intent.Metadata))
	for k, v := range intent.Metadata {
		metadata[k] = v
	}

	return PaymentVerification{
		Reference: intent.ID,
		Status:    status,
		Amount:    amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
		Metadata:  metadata,
	}
}

// A Stripe transfer exists only once funds moved; a fully reversed transfer is a failure.
func stripeTransferResult(tr *stripe.Transfer, reference string) TransferResult {
	if tr == nil {
		return TransferResult{Reference: reference, Status: StatusPending}
	}
	status := StatusSucceeded
	if tr.Reversed {
		status = StatusFailed
	}
	if reference == "" {
		reference = tr.TransferGroup
	}
	return TransferResult{
		Code:      tr.ID,
		Reference: reference,
		Status:    status,
		Amount:    tr.Amount,
	}
}

func stripeRefundStatus(status stripe.RefundStatus) Status {
	switch status {
	case stripe.RefundStatusSucceeded:
		return StatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func stripeStatusCode(err error) int {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode
	}
	return 0
}

// isDefinitiveStripeRejection reports 4xx responses that guarantee no transfer was created.
// Rate limiting and idempotency conflicts stay ambiguous.
func isDefinitiveStripeRejection(err error) bool {
	code := stripeStatusCode(err)
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusConflict:
		return false
	case code >= 400 && code < 500:
		return true
	default:
		return false
	}
}
