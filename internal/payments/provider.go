package payments

import (
	"context"
	"errors"
)

// Status enumerates the normalised gateway states shared by payments, transfers and refunds.
type Status string

const (
	// StatusPending indicates the gateway has not reached a definitive outcome.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the operation as settled.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a definitive failure.
	StatusFailed Status = "failed"
)

var (
	// ErrTransferRejected is a definitive initiation failure: no money moved and a retry is safe.
	ErrTransferRejected = errors.New("payments: transfer rejected")
	// ErrTransferNotFound indicates the gateway has no transfer for the lookup.
	ErrTransferNotFound = errors.New("payments: transfer not found")
	// ErrPaymentNotFound indicates the payment reference is unknown to the gateway.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrInvalidRequest indicates the request was rejected before reaching the gateway.
	ErrInvalidRequest = errors.New("payments: invalid request")
)

// PaymentVerification reports the gateway view of a captured payment.
type PaymentVerification struct {
	Reference string
	Status    Status
	Amount    int64
	Currency  string
	Metadata  map[string]string
}

// Succeeded reports whether the payment is definitively captured.
func (v PaymentVerification) Succeeded() bool {
	return v.Status == StatusSucceeded
}

// TransferRequest moves funds to a seller recipient. Reference doubles as the idempotency key.
type TransferRequest struct {
	RecipientCode string
	Amount        int64
	Currency      string
	Reference     string
	Reason        string
	Metadata      map[string]string
}

// TransferLookup identifies a transfer by gateway code or by the reference used to create it.
type TransferLookup struct {
	Code      string
	Reference string
}

// TransferResult reports a transfer outcome.
type TransferResult struct {
	Code      string
	Reference string
	Status    Status
	Amount    int64
}

// RefundRequest returns funds for a captured payment to the buyer.
type RefundRequest struct {
	PaymentReference string
	Amount           int64
	Reference        string
	Reason           string
}

// RefundResult reports the refund accepted by the gateway.
type RefundResult struct {
	ID     string
	Status Status
}

// Gateway is the money transfer contract consumed by the fulfilment core. Any response that is
// not definitive must be reported as StatusPending or an error, never as success.
type Gateway interface {
	VerifyPayment(ctx context.Context, reference string) (PaymentVerification, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	TransferStatus(ctx context.Context, lookup TransferLookup) (TransferResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}
