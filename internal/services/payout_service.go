package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/payments"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
)

const (
	defaultPayoutBatchSize   = 10
	defaultPayoutMaxAttempts = 3
	defaultPayoutStaleAfter  = 15 * time.Minute

	payoutOutcomeCompleted = "completed"
	payoutOutcomeRetrying  = "retrying"
	payoutOutcomeFailed    = "failed"
	payoutOutcomeAmbiguous = "ambiguous"
	payoutOutcomeSkipped   = "skipped"
)

// payoutReferenceNamespace scopes the deterministic per-attempt transfer references.
var payoutReferenceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://rebooked.co.za/payouts"))

// ErrPayoutNotReplayable indicates only failed payouts may be replayed.
var ErrPayoutNotReplayable = errors.New("payout: only failed payouts can be replayed")

// PayoutServiceDeps wires the collaborators of the payout settlement engine.
type PayoutServiceDeps struct {
	Payouts  repositories.PayoutRepository
	Orders   repositories.OrderRepository
	Sellers  repositories.SellerRepository
	Gateway  TransferGateway
	Notifier Notifier
	Metrics  Metrics

	Eligibility     PayoutEligibility
	BatchSize       int
	Concurrency     int
	MaxAttempts     int
	StaleAfter      time.Duration
	TransferTimeout time.Duration

	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type payoutService struct {
	payouts  repositories.PayoutRepository
	orders   repositories.OrderRepository
	sellers  repositories.SellerRepository
	gateway  TransferGateway
	notifier Notifier
	metrics  Metrics

	eligibility     PayoutEligibility
	batchSize       int
	concurrency     int
	maxAttempts     int
	staleAfter      time.Duration
	transferTimeout time.Duration

	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

var _ PayoutService = (*payoutService)(nil)

// NewPayoutService constructs the payout settlement engine validating required dependencies.
func NewPayoutService(deps PayoutServiceDeps) (PayoutService, error) {
	if deps.Payouts == nil {
		return nil, errors.New("payout service: payout repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payout service: order repository is required")
	}
	if deps.Sellers == nil {
		return nil, errors.New("payout service: seller repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payout service: transfer gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	eligibility := deps.Eligibility
	if eligibility == nil {
		eligibility = PayoutOnCompleted
	}
	batch := positiveInt(deps.BatchSize, defaultPayoutBatchSize)

	return &payoutService{
		payouts:         deps.Payouts,
		orders:          deps.Orders,
		sellers:         deps.Sellers,
		gateway:         deps.Gateway,
		notifier:        notifier,
		metrics:         metrics,
		eligibility:     eligibility,
		batchSize:       batch,
		concurrency:     positiveInt(deps.Concurrency, batch),
		maxAttempts:     positiveInt(deps.MaxAttempts, defaultPayoutMaxAttempts),
		staleAfter:      positiveDuration(deps.StaleAfter, defaultPayoutStaleAfter),
		transferTimeout: positiveDuration(deps.TransferTimeout, defaultGatewayTimeout),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Enqueue creates the pending payout of an eligible order; the existing transaction is returned
// when one was already created.
func (s *payoutService) Enqueue(ctx context.Context, order Order) (PayoutTransaction, error) {
	if strings.TrimSpace(order.ID) == "" {
		return PayoutTransaction{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if !s.eligibility.eligible(order) {
		return PayoutTransaction{}, fmt.Errorf("%w: order %s in status %s is not payout-eligible", ErrValidation, order.ID, order.Status)
	}
	amount := order.PayoutAmount()
	if amount <= 0 {
		return PayoutTransaction{}, fmt.Errorf("%w: order %s has no payable amount", ErrValidation, order.ID)
	}

	now := s.now()
	txn := domain.PayoutTransaction{
		ID:        domain.PayoutIDForOrder(order.ID),
		OrderID:   order.ID,
		SellerID:  order.SellerID,
		Amount:    amount,
		Currency:  order.Currency,
		Status:    domain.PayoutStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	saved, created, err := s.payouts.Create(ctx, txn)
	if err != nil {
		return PayoutTransaction{}, mapRepositoryError(err, ErrPayoutNotFound)
	}
	if created {
		s.logger(ctx, "payout.enqueued", map[string]any{
			"payoutId": saved.ID,
			"orderId":  order.ID,
			"amount":   amount,
		})
	}
	if order.PayoutQueuedAt == nil {
		// A lost marker leaves PayoutDue set; the next catch-up finds the existing payout.
		if err := s.orders.MarkPayoutQueued(ctx, order.ID, now); err != nil {
			s.logger(ctx, "payout.order_queue_mark_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
	}
	return saved, nil
}

// RunBatch first enqueues eligible orders whose payout was never created, then claims and
// processes up to BatchSize pending payouts concurrently.
func (s *payoutService) RunBatch(ctx context.Context) (PayoutBatchResult, error) {
	enqueued, err := s.catchUp(ctx)
	if err != nil {
		return PayoutBatchResult{}, err
	}
	pending, err := s.payouts.ListByStatus(ctx, domain.PayoutStatusPending, s.batchSize)
	if err != nil {
		return PayoutBatchResult{Enqueued: enqueued}, mapRepositoryError(err, ErrPayoutNotFound)
	}
	result := s.fanOut(ctx, pending, s.process)
	result.Enqueued = enqueued
	return result, nil
}

// catchUp enqueues orders still flagged PayoutDue. Orders that stopped being eligible keep the
// flag until their next status change recomputes it.
func (s *payoutService) catchUp(ctx context.Context) (int, error) {
	due, err := s.orders.ListFollowUps(ctx, repositories.FollowUpPayout, s.batchSize)
	if err != nil {
		return 0, mapRepositoryError(err, ErrOrderNotFound)
	}
	var enqueued int
	for _, order := range due {
		if _, err := s.Enqueue(ctx, order); err != nil {
			s.logger(ctx, "payout.catch_up_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger(ctx, "payout.catch_up", map[string]any{"enqueued": enqueued, "scanned": len(due)})
	}
	return enqueued, nil
}

// Reconcile resolves payouts stuck in processing by asking the gateway what happened.
func (s *payoutService) Reconcile(ctx context.Context) (PayoutBatchResult, error) {
	stale, err := s.payouts.ListStaleProcessing(ctx, s.now().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return PayoutBatchResult{}, mapRepositoryError(err, ErrPayoutNotFound)
	}
	return s.fanOut(ctx, stale, s.reconcile), nil
}

func (s *payoutService) ListFailed(ctx context.Context, limit int) ([]PayoutTransaction, error) {
	if limit <= 0 {
		limit = defaultOrderListLimit
	}
	failed, err := s.payouts.ListByStatus(ctx, domain.PayoutStatusFailed, limit)
	if err != nil {
		return nil, mapRepositoryError(err, ErrPayoutNotFound)
	}
	return failed, nil
}

// Replay returns a failed payout to the queue with a fresh retry budget.
func (s *payoutService) Replay(ctx context.Context, payoutID string, actor Actor) (PayoutTransaction, error) {
	if !actor.IsStaff() {
		return PayoutTransaction{}, fmt.Errorf("%w: staff role required to replay payouts", ErrUnauthorized)
	}
	payoutID = strings.TrimSpace(payoutID)
	if payoutID == "" {
		return PayoutTransaction{}, fmt.Errorf("%w: payout id is required", ErrValidation)
	}
	txn, err := s.payouts.FindByID(ctx, payoutID)
	if err != nil {
		return PayoutTransaction{}, mapRepositoryError(err, ErrPayoutNotFound)
	}
	if txn.Status != domain.PayoutStatusFailed {
		return txn, fmt.Errorf("%w: payout %s is %s", ErrPayoutNotReplayable, payoutID, txn.Status)
	}

	next := txn
	next.Status = domain.PayoutStatusPending
	next.RetryCount = 0
	next.ErrorMessage = ""
	next.FailedAt = nil
	next.ClaimedAt = nil
	next.UpdatedAt = s.now()
	saved, err := s.payouts.UpdateIfStatus(ctx, next, domain.PayoutStatusFailed)
	if err != nil {
		return txn, mapRepositoryError(err, ErrPayoutNotFound)
	}
	s.logger(ctx, "payout.replayed", map[string]any{
		"payoutId": payoutID,
		"actorId":  actor.ID,
	})
	return saved, nil
}

func (s *payoutService) fanOut(ctx context.Context, txns []PayoutTransaction, handle func(context.Context, PayoutTransaction) string) PayoutBatchResult {
	result := PayoutBatchResult{Scanned: len(txns)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, txn := range txns {
		txn := txn
		g.Go(func() error {
			outcome := handle(gctx, txn)
			s.metrics.PayoutOutcome(gctx, outcome)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case payoutOutcomeCompleted:
				result.Completed++
			case payoutOutcomeRetrying:
				result.Retrying++
			case payoutOutcomeFailed:
				result.Failed++
			case payoutOutcomeAmbiguous:
				result.Ambiguous++
			default:
				result.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// process runs one payout attempt: claim, resolve the recipient, transfer, record the outcome.
func (s *payoutService) process(ctx context.Context, txn PayoutTransaction) string {
	order, err := s.orders.FindByID(ctx, txn.OrderID)
	if err != nil {
		s.logger(ctx, "payout.order_lookup_failed", map[string]any{"payoutId": txn.ID, "error": err.Error()})
		return payoutOutcomeSkipped
	}
	switch order.Status {
	case domain.OrderStatusDisputed:
		return payoutOutcomeSkipped
	case domain.OrderStatusRefunded, domain.OrderStatusCancelled, domain.OrderStatusExpired:
		return s.abandon(ctx, txn, fmt.Sprintf("order %s is %s", order.ID, order.Status))
	}

	claimed, ok := s.claim(ctx, txn)
	if !ok {
		return payoutOutcomeSkipped
	}

	seller, err := s.sellers.FindByID(ctx, order.SellerID)
	if err != nil && !repositories.IsNotFound(err) {
		return s.ambiguous(ctx, claimed, fmt.Errorf("resolve seller: %w", err))
	}
	if err != nil || !seller.HasPayableRecipient() {
		return s.fail(ctx, claimed, fmt.Errorf("%w: seller %s", ErrNoPayableRecipient, order.SellerID))
	}
	claimed.RecipientCode = strings.TrimSpace(seller.RecipientCode)

	transferCtx, cancel := context.WithTimeout(ctx, s.transferTimeout)
	res, err := s.gateway.InitiateTransfer(transferCtx, payments.TransferRequest{
		RecipientCode: claimed.RecipientCode,
		Amount:        claimed.Amount,
		Currency:      claimed.Currency,
		Reference:     claimed.Reference,
		Reason:        "ReBooked payout for order " + order.ID,
		Metadata: map[string]string{
			"orderId":  order.ID,
			"payoutId": claimed.ID,
			"attempt":  strconv.Itoa(claimed.Attempt),
		},
	})
	cancel()
	return s.settle(ctx, claimed, res, err)
}

func (s *payoutService) reconcile(ctx context.Context, txn PayoutTransaction) string {
	lookupCtx, cancel := context.WithTimeout(ctx, s.transferTimeout)
	res, err := s.gateway.TransferStatus(lookupCtx, payments.TransferLookup{Code: txn.TransferCode, Reference: txn.Reference})
	cancel()
	switch {
	case errors.Is(err, payments.ErrTransferNotFound):
		return s.fail(ctx, txn, fmt.Errorf("transfer %s not found at gateway", txn.Reference))
	case err != nil:
		s.logger(ctx, "payout.reconcile.lookup_failed", map[string]any{"payoutId": txn.ID, "error": err.Error()})
		return payoutOutcomeAmbiguous
	case res.Status == payments.StatusSucceeded:
		return s.complete(ctx, txn, res.Code)
	case res.Status == payments.StatusFailed:
		return s.fail(ctx, txn, fmt.Errorf("transfer %s failed at gateway", res.Code))
	default:
		return payoutOutcomeAmbiguous
	}
}

func (s *payoutService) settle(ctx context.Context, txn PayoutTransaction, res payments.TransferResult, err error) string {
	switch {
	case err == nil && res.Status == payments.StatusSucceeded:
		return s.complete(ctx, txn, res.Code)
	case err == nil && res.Status == payments.StatusFailed:
		return s.fail(ctx, txn, fmt.Errorf("%w: gateway reported failure", payments.ErrTransferRejected))
	case err == nil:
		txn.TransferCode = res.Code
		return s.ambiguous(ctx, txn, fmt.Errorf("transfer %s pending at gateway", res.Code))
	case errors.Is(err, payments.ErrTransferRejected):
		return s.fail(ctx, txn, err)
	default:
		return s.ambiguous(ctx, txn, err)
	}
}

// claim moves the payout to processing; only one worker can win the conditional update.
func (s *payoutService) claim(ctx context.Context, txn PayoutTransaction) (PayoutTransaction, bool) {
	now := s.now()
	claimed := txn
	claimed.Status = domain.PayoutStatusProcessing
	claimed.Attempt = txn.Attempt + 1
	claimed.Reference = transferReference(txn.OrderID, claimed.Attempt)
	claimed.TransferCode = ""
	claimed.ClaimedAt = timePtr(now)
	claimed.UpdatedAt = now

	saved, err := s.payouts.UpdateIfStatus(ctx, claimed, domain.PayoutStatusPending)
	if err != nil {
		if !repositories.IsConflict(err) {
			s.logger(ctx, "payout.claim_failed", map[string]any{"payoutId": txn.ID, "error": err.Error()})
		}
		return PayoutTransaction{}, false
	}
	return saved, true
}

func (s *payoutService) complete(ctx context.Context, txn PayoutTransaction, transferCode string) string {
	now := s.now()
	next := txn
	next.Status = domain.PayoutStatusCompleted
	next.TransferCode = transferCode
	next.ErrorMessage = ""
	next.CompletedAt = timePtr(now)
	next.UpdatedAt = now

	order, err := s.orders.FindByID(ctx, txn.OrderID)
	if err == nil && order.Status == domain.OrderStatusDisputed {
		next.ReviewRequired = true
		s.logger(ctx, "payout.review_required", map[string]any{
			"payoutId": txn.ID,
			"orderId":  txn.OrderID,
			"reason":   "order disputed while transfer was in flight",
		})
	}

	if _, err := s.payouts.UpdateIfStatus(ctx, next, domain.PayoutStatusProcessing); err != nil {
		s.logger(ctx, "payout.complete_write_failed", map[string]any{"payoutId": txn.ID, "error": err.Error()})
		return payoutOutcomeSkipped
	}
	if err := s.orders.MarkPayoutCompleted(ctx, txn.OrderID, now); err != nil {
		s.logger(ctx, "payout.order_mark_failed", map[string]any{"orderId": txn.OrderID, "error": err.Error()})
	}

	s.logger(ctx, "payout.completed", map[string]any{
		"payoutId":     txn.ID,
		"orderId":      txn.OrderID,
		"transferCode": transferCode,
	})
	s.notifier.Notify(ctx, Notification{
		Template:  TemplatePayoutCompletedSeller,
		Channel:   NotificationChannelEmail,
		Recipient: txn.SellerID,
		OrderID:   txn.OrderID,
		Variables: map[string]any{
			"orderId":      txn.OrderID,
			"amount":       txn.Amount,
			"currency":     txn.Currency,
			"transferCode": transferCode,
		},
	})
	return payoutOutcomeCompleted
}

// fail records a definitive initiation failure and either re-queues or parks the payout.
func (s *payoutService) fail(ctx context.Context, txn PayoutTransaction, cause error) string {
	now := s.now()
	next := txn
	next.RetryCount = txn.RetryCount + 1
	next.ErrorMessage = cause.Error()
	next.ClaimedAt = nil
	next.UpdatedAt = now
	outcome := payoutOutcomeRetrying
	if next.RetryCount >= s.maxAttempts {
		next.Status = domain.PayoutStatusFailed
		next.FailedAt = timePtr(now)
		outcome = payoutOutcomeFailed
	} else {
		next.Status = domain.PayoutStatusPending
	}

	if _, err := s.payouts.UpdateIfStatus(ctx, next, domain.PayoutStatusProcessing); err != nil {
		s.logger(ctx, "payout.failure_write_failed", map[string]any{"payoutId": txn.ID, "error": err.Error()})
		return payoutOutcomeSkipped
	}
	s.logger(ctx, "payout.attempt_failed", map[string]any{
		"payoutId":   txn.ID,
		"retryCount": next.RetryCount,
		"status":     string(next.Status),
		"error":      next.ErrorMessage,
	})
	if outcome == payoutOutcomeFailed {
		s.notifier.Notify(ctx, Notification{
			Template:  TemplatePayoutFailedSeller,
			Channel:   NotificationChannelEmail,
			Recipient: txn.SellerID,
			OrderID:   txn.OrderID,
			Variables: map[string]any{
				"orderId":  txn.OrderID,
				"amount":   txn.Amount,
				"currency": txn.Currency,
			},
		})
	}
	return outcome
}

// ambiguous keeps the payout in processing; only reconciliation may move it.
func (s *payoutService) ambiguous(ctx context.Context, txn PayoutTransaction, cause error) string {
	next := txn
	next.ErrorMessage = cause.Error()
	next.UpdatedAt = s.now()
	if _, err := s.payouts.UpdateIfStatus(ctx, next, domain.PayoutStatusProcessing); err != nil {
		s.logger(ctx, "payout.ambiguous_write_failed", map[string]any{"payoutId": txn.ID, "error": err.Error()})
	}
	s.logger(ctx, "payout.outcome_ambiguous", map[string]any{
		"payoutId":  txn.ID,
		"reference": txn.Reference,
		"error":     cause.Error(),
	})
	return payoutOutcomeAmbiguous
}

// abandon parks a pending payout whose order was unwound before any transfer was attempted.
func (s *payoutService) abandon(ctx context.Context, txn PayoutTransaction, reason string) string {
	now := s.now()
	next := txn
	next.Status = domain.PayoutStatusFailed
	next.ErrorMessage = reason
	next.FailedAt = timePtr(now)
	next.UpdatedAt = now
	if _, err := s.payouts.UpdateIfStatus(ctx, next, domain.PayoutStatusPending); err != nil {
		return payoutOutcomeSkipped
	}
	s.logger(ctx, "payout.abandoned", map[string]any{"payoutId": txn.ID, "reason": reason})
	return payoutOutcomeFailed
}

// transferReference is stable for an attempt and unique per physical transfer call.
func transferReference(orderID string, attempt int) string {
	return uuid.NewSHA1(payoutReferenceNamespace, []byte(orderID+":"+strconv.Itoa(attempt))).String()
}

func positiveInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
