package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fieldserve/internal/metrics"
	"fieldserve/internal/models"
	"fieldserve/internal/service"
)

// Reconciler is the background loop that keeps the ledger and the gateway in
// agreement: it polls stuck transactions, dispatches refunds that never left,
// expires dead jobs and bids, and periodically re-derives cached balances
// from the ledger.
type Reconciler struct {
	ledger        *service.LedgerService
	bookings      *service.BookingService
	jobs          *service.JobService
	retryPolicy   RetryPolicy
	redis         *redis.Client
	deadLetterKey string
	pollInterval  time.Duration
	balanceEvery  int
	batchSize     int
	logger        *zerolog.Logger
}

func NewReconciler(ledger *service.LedgerService, bookings *service.BookingService, jobs *service.JobService, retry RetryPolicy, redisClient *redis.Client, pollInterval time.Duration, batchSize int, logger *zerolog.Logger) *Reconciler {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 30 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 30 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if retry.Jitter == 0 {
		retry.Jitter = 0.2
	}
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 20
	}

	return &Reconciler{
		ledger:        ledger,
		bookings:      bookings,
		jobs:          jobs,
		retryPolicy:   retry,
		redis:         redisClient,
		deadLetterKey: "ledger:deadletter",
		pollInterval:  pollInterval,
		balanceEvery:  20,
		batchSize:     batchSize,
		logger:        logger,
	}
}

// Start launches the loop; stops when ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info().Msg("Reconciler started")
	defer r.logger.Info().Msg("Reconciler stopped")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r.RunOnce(ctx)

		cycle++
		if cycle%r.balanceEvery == 0 {
			if n, err := r.ledger.ReconcileBalances(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Balance reconciliation failed")
			} else if n > 0 {
				r.logger.Debug().Int("refreshed", n).Msg("Balances reconciled")
			}
		}
	}
}

// RunOnce performs a single reconciliation pass.
func (r *Reconciler) RunOnce(ctx context.Context) {
	now := time.Now()

	if _, err := r.jobs.ExpireStaleJobs(ctx, now); err != nil {
		r.logger.Error().Err(err).Msg("Stale job sweep failed")
	}

	txns, err := r.ledger.PendingTransactions(ctx, now, r.batchSize)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to fetch pending transactions")
		return
	}

	for _, txn := range txns {
		r.reconcileTransaction(ctx, txn)
	}
}

func (r *Reconciler) reconcileTransaction(ctx context.Context, txn *models.Transaction) {
	// A refund that never reached the gateway has no reference to poll;
	// dispatch it instead.
	if txn.PaymentStatus == models.PaymentRefundPending && txn.GatewayRef == "" {
		if err := r.ledger.DispatchRefund(ctx, txn.OrderID); err != nil {
			r.logger.Error().Err(err).Str("order_id", txn.OrderID).Msg("Refund dispatch failed")
		}
		r.scheduleRetry(ctx, txn)
		return
	}

	status, err := r.bookings.VerifyAndApply(ctx, txn.OrderID)
	if err != nil {
		metrics.IncGatewayCall("verify", "error")
		r.logger.Warn().Err(err).Str("order_id", txn.OrderID).Msg("Gateway verify failed")
		r.scheduleRetry(ctx, txn)
		return
	}
	metrics.IncGatewayCall("verify", "ok")

	if !models.PaymentStatusAdvances(txn.PaymentStatus, status) {
		r.scheduleRetry(ctx, txn)
		return
	}

	r.logger.Info().
		Str("order_id", txn.OrderID).
		Str("from", txn.PaymentStatus).
		Str("to", status).
		Msg("Transaction reconciled")
}

func (r *Reconciler) scheduleRetry(ctx context.Context, txn *models.Transaction) {
	attempt := int(txn.RetryCount) + 1
	if r.retryPolicy.Exhausted(attempt) {
		r.giveUp(ctx, txn)
		return
	}

	next := r.retryPolicy.NextRetryAt(time.Now(), attempt)
	if err := r.ledger.MarkRetry(ctx, txn.ID, next); err != nil {
		r.logger.Error().Err(err).Str("order_id", txn.OrderID).Msg("Failed to schedule retry")
	}
}

// giveUp handles a transaction past its retry budget. Stuck refunds fall back
// to an internal wallet credit; everything else goes to a terminal failure
// state and a copy is parked on the dead letter list for operators.
func (r *Reconciler) giveUp(ctx context.Context, txn *models.Transaction) {
	if txn.PaymentStatus == models.PaymentRefundPending {
		r.refundToWallet(ctx, txn)
		return
	}

	if err := r.bookings.HandleGatewayResult(ctx, txn.OrderID, models.PaymentFailed, ""); err != nil {
		r.logger.Error().Err(err).Str("order_id", txn.OrderID).Msg("Failed to mark transaction failed")
	}
	r.pushDeadLetter(ctx, txn, models.PaymentFailed)

	r.logger.Warn().
		Str("order_id", txn.OrderID).
		Str("status", models.PaymentFailed).
		Int64("retries", txn.RetryCount).
		Msg("Transaction gave up after retry budget")
}

// refundToWallet routes an abandoned gateway refund to the customer's wallet.
// The wallet row gets a deterministic derived order id, so a crash between
// the credit and the status flip replays without paying twice.
func (r *Reconciler) refundToWallet(ctx context.Context, txn *models.Transaction) {
	wallet := &models.Transaction{
		OrderID:    txn.OrderID + "-wallet",
		ActorType:  txn.ActorType,
		ActorID:    txn.ActorID,
		PaymentFor: txn.PaymentFor,
		Amount:     txn.Amount,
		JobID:      txn.JobID,
		BookingID:  txn.BookingID,
	}
	if err := r.ledger.RefundToWallet(ctx, wallet); err != nil {
		r.logger.Error().Err(err).Str("order_id", txn.OrderID).Msg("Wallet refund fallback failed")
		if err := r.bookings.HandleGatewayResult(ctx, txn.OrderID, models.PaymentRefundFailed, ""); err != nil {
			r.logger.Error().Err(err).Str("order_id", txn.OrderID).Msg("Failed to mark refund failed")
		}
		r.pushDeadLetter(ctx, txn, models.PaymentRefundFailed)
		return
	}

	if err := r.bookings.HandleGatewayResult(ctx, txn.OrderID, models.PaymentRefundToWallet, ""); err != nil {
		r.logger.Error().Err(err).Str("order_id", txn.OrderID).Msg("Failed to close refund as wallet-routed")
	}
	r.logger.Warn().
		Str("order_id", txn.OrderID).
		Int64("amount", txn.Amount).
		Msg("Gateway refund abandoned, wallet credited instead")
}

func (r *Reconciler) pushDeadLetter(ctx context.Context, txn *models.Transaction, failure string) {
	if r.redis == nil {
		return
	}
	copy := *txn
	copy.PaymentStatus = failure
	data, err := json.Marshal(&copy)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", txn.OrderID).Msg("Failed to encode dead letter")
		return
	}
	if err := r.redis.LPush(ctx, r.deadLetterKey, data).Err(); err != nil {
		r.logger.Warn().Err(err).Str("order_id", txn.OrderID).Msg("Dead letter push failed")
	}
}
