package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fieldserve/internal/domain"
	"fieldserve/internal/events"
	"fieldserve/internal/metrics"
	"fieldserve/internal/models"
)

// LedgerService owns the transaction log and wallet movements. Every money
// mutation in the system goes through here or through a repository method it
// delegates to.
type LedgerService struct {
	repo     domain.LedgerRepository
	cache    domain.BalanceCache
	gateway  domain.PaymentGateway
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewLedgerService(repo domain.LedgerRepository, cache domain.BalanceCache, gateway domain.PaymentGateway, eventBus domain.EventPublisher, logger *zerolog.Logger) *LedgerService {
	return &LedgerService{
		repo:     repo,
		cache:    cache,
		gateway:  gateway,
		eventBus: eventBus,
		logger:   logger,
	}
}

func (s *LedgerService) publishEvent(eventType string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

// RecordTransaction writes a ledger row. Calls with an already-known order id
// return the stored row and created=false, so retried requests and replayed
// callbacks leave a single row behind.
func (s *LedgerService) RecordTransaction(ctx context.Context, txn *models.Transaction) (bool, error) {
	if txn.OrderID == "" {
		return false, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if txn.Amount <= 0 {
		return false, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if txn.Direction != models.DirectionDebited && txn.Direction != models.DirectionCredited {
		return false, fmt.Errorf("%w: unknown direction %q", ErrValidation, txn.Direction)
	}
	if txn.InvoiceNo == "" {
		txn.InvoiceNo = newInvoiceNo()
	}
	if txn.PaymentStatus == "" {
		txn.PaymentStatus = models.PaymentPending
	}

	created, err := s.repo.UpsertTransaction(ctx, txn)
	if err != nil {
		return false, err
	}
	if created {
		metrics.IncLedgerEntry(txn.Direction)
		s.publishEvent(events.EventPaymentRecorded, events.PaymentEventPayload{
			OrderID:   txn.OrderID,
			Direction: txn.Direction,
			Amount:    txn.Amount,
			Status:    txn.PaymentStatus,
			For:       txn.PaymentFor,
		})
	}
	return created, nil
}

// CreditWallet appends a completed credit to the user's wallet.
func (s *LedgerService) CreditWallet(ctx context.Context, userType string, userID, amount int64, refs models.WalletRefs) (*models.WalletEntry, error) {
	return s.walletEntry(ctx, userType, userID, amount, models.WalletAdded, refs)
}

// DebitWallet appends a completed debit. The repository rejects it with
// ErrInsufficientFunds when the available balance does not cover the amount.
func (s *LedgerService) DebitWallet(ctx context.Context, userType string, userID, amount int64, refs models.WalletRefs) (*models.WalletEntry, error) {
	return s.walletEntry(ctx, userType, userID, amount, models.WalletDeducted, refs)
}

func (s *LedgerService) walletEntry(ctx context.Context, userType string, userID, amount int64, walletType string, refs models.WalletRefs) (*models.WalletEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	entry := &models.WalletEntry{
		UserType:      userType,
		UserID:        userID,
		WalletType:    walletType,
		Amount:        amount,
		OrderID:       refs.OrderID,
		PaymentStatus: models.PaymentCompleted,
		JobID:         refs.JobID,
		BookingID:     refs.BookingID,
		ExtraWorkID:   refs.ExtraWorkID,
		BidID:         refs.BidID,
		Note:          refs.Note,
	}
	if err := s.repo.CreateWalletEntry(ctx, entry); err != nil {
		return nil, err
	}
	s.invalidateBalance(ctx, userType, userID)
	metrics.IncLedgerEntry(directionFor(walletType))
	return entry, nil
}

// Balance returns the wallet position, served from cache when fresh.
func (s *LedgerService) Balance(ctx context.Context, userType string, userID int64) (*models.Balance, error) {
	if s.cache != nil {
		cached, err := s.cache.GetBalance(ctx, userType, userID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Balance cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}
	return s.ComputeBalance(ctx, userType, userID)
}

// ComputeBalance re-derives the balance from the ledger and refreshes the
// cache. The derived value is authoritative.
func (s *LedgerService) ComputeBalance(ctx context.Context, userType string, userID int64) (*models.Balance, error) {
	balance, err := s.repo.ComputeBalance(ctx, userType, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetBalance(ctx, balance); err != nil {
			s.logger.Warn().Err(err).Msg("Balance cache write failed")
		}
	}
	return balance, nil
}

func (s *LedgerService) invalidateBalance(ctx context.Context, userType string, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userType, userID); err != nil {
		s.logger.Warn().Err(err).Str("user_type", userType).Int64("user_id", userID).
			Msg("Balance cache invalidation failed")
	}
}

// SettleBooking records the customer settlement and the partner's net payout
// atomically via the repository, then retires the affected cache entries.
func (s *LedgerService) SettleBooking(ctx context.Context, booking *models.Booking, repo domain.BookingRepository) error {
	booking.RecomputeTotals()
	due := booking.TotalAmount - booking.TotalPaid
	if due < 0 {
		due = 0
	}

	customerTxn := &models.Transaction{
		OrderID:       fmt.Sprintf("settle-%d", booking.ID),
		InvoiceNo:     newInvoiceNo(),
		ActorType:     models.ActorCustomer,
		ActorID:       booking.CustomerID,
		Direction:     models.DirectionDebited,
		PaymentBy:     models.PaymentByGateway,
		PaymentFor:    models.PayForBooking,
		Amount:        booking.TotalAmount,
		PaymentStatus: models.PaymentCompleted,
		JobID:         booking.JobID,
		BookingID:     booking.ID,
	}
	partnerCredit := &models.WalletEntry{
		UserType:      models.ActorPartner,
		UserID:        booking.PartnerID,
		WalletType:    models.WalletAdded,
		Amount:        booking.PartnerNet(),
		OrderID:       customerTxn.OrderID,
		PaymentStatus: models.PaymentCompleted,
		JobID:         booking.JobID,
		BookingID:     booking.ID,
		Note:          "booking settlement",
	}

	if err := repo.SettleBooking(ctx, booking, customerTxn, partnerCredit); err != nil {
		return err
	}

	s.invalidateBalance(ctx, models.ActorPartner, booking.PartnerID)
	metrics.IncLedgerEntry(models.DirectionCredited)
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("total", booking.TotalAmount).
		Int64("partner_net", partnerCredit.Amount).
		Int64("outstanding", due).
		Msg("Booking settled")

	s.publishEvent(events.EventPaymentRecorded, events.PaymentEventPayload{
		OrderID:   customerTxn.OrderID,
		Direction: customerTxn.Direction,
		Amount:    customerTxn.Amount,
		Status:    customerTxn.PaymentStatus,
		For:       customerTxn.PaymentFor,
	})
	return nil
}

// InitiateTopup opens a gateway payment that credits the user's wallet. The
// credit entry is written up front in PENDING and only counts toward the
// balance once the gateway confirms, which flips it to COMPLETED together
// with the transaction row.
func (s *LedgerService) InitiateTopup(ctx context.Context, userType string, userID, amount int64) (*domain.GatewayPayment, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	orderID := newOrderID("topup")
	txn := &models.Transaction{
		OrderID:       orderID,
		ActorType:     userType,
		ActorID:       userID,
		Direction:     models.DirectionCredited,
		PaymentBy:     models.PaymentByGateway,
		PaymentFor:    models.PayForWalletTopup,
		Amount:        amount,
		PaymentStatus: models.PaymentPending,
	}
	if _, err := s.RecordTransaction(ctx, txn); err != nil {
		return nil, err
	}

	entry := &models.WalletEntry{
		UserType:      userType,
		UserID:        userID,
		WalletType:    models.WalletAdded,
		Amount:        amount,
		OrderID:       orderID,
		PaymentStatus: models.PaymentPending,
		Note:          "wallet topup",
	}
	if err := s.repo.CreateWalletEntry(ctx, entry); err != nil {
		return nil, err
	}

	payment, err := s.gateway.InitiatePayment(ctx, orderID, amount, "wallet topup")
	if err != nil {
		metrics.IncGatewayCall("initiate", "error")
		return nil, fmt.Errorf("failed to initiate topup: %w", err)
	}
	metrics.IncGatewayCall("initiate", "ok")

	if payment.GatewayRef != "" {
		if _, err := s.repo.UpdateTransactionStatus(ctx, orderID, models.PaymentPending, payment.GatewayRef); err != nil {
			s.logger.Warn().Err(err).Str("order_id", orderID).Msg("Failed to store gateway ref")
		}
	}
	return payment, nil
}

// RefundToWallet credits the customer's wallet immediately and records the
// refund transaction as routed to the wallet, skipping the gateway entirely.
func (s *LedgerService) RefundToWallet(ctx context.Context, txn *models.Transaction) error {
	txn.Direction = models.DirectionCredited
	txn.PaymentBy = models.PaymentByWallet
	txn.PaymentStatus = models.PaymentRefundToWallet
	created, err := s.RecordTransaction(ctx, txn)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	_, err = s.CreditWallet(ctx, txn.ActorType, txn.ActorID, txn.Amount, models.WalletRefs{
		OrderID:   txn.OrderID,
		JobID:     txn.JobID,
		BookingID: txn.BookingID,
		Note:      "refund to wallet",
	})
	return err
}

// DispatchRefund pushes an already recorded refund_pending transaction to the
// gateway. A gateway failure is not an error: the row stays refund_pending
// and the reconciler retries it.
func (s *LedgerService) DispatchRefund(ctx context.Context, orderID string) error {
	txn, err := s.repo.GetTransactionByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if txn.PaymentStatus != models.PaymentRefundPending {
		return nil
	}

	ref, err := s.gateway.Refund(ctx, txn.OrderID, txn.Amount)
	if err != nil {
		metrics.IncGatewayCall("refund", "error")
		s.logger.Warn().Err(err).Str("order_id", txn.OrderID).
			Msg("Refund dispatch failed, left pending for reconciler")
		return nil
	}
	metrics.IncGatewayCall("refund", "ok")

	if _, err := s.repo.UpdateTransactionStatus(ctx, txn.OrderID, models.PaymentRefundPending, ref); err != nil {
		return err
	}
	s.publishEvent(events.EventRefundInitiated, events.PaymentEventPayload{
		OrderID:   txn.OrderID,
		Direction: txn.Direction,
		Amount:    txn.Amount,
		Status:    models.PaymentRefundPending,
		For:       txn.PaymentFor,
	})
	return nil
}

// ApplyGatewayResult moves a ledger row to the status the gateway reported.
// Stale and replayed callbacks are absorbed by the monotonic status rule; the
// returned flag tells the caller whether this result was new information, so
// downstream side effects run at most once.
func (s *LedgerService) ApplyGatewayResult(ctx context.Context, orderID, status, gatewayRef string) (*models.Transaction, bool, error) {
	prev, err := s.repo.GetTransactionByOrderID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	advanced := models.PaymentStatusAdvances(prev.PaymentStatus, status)

	txn, err := s.repo.UpdateTransactionStatus(ctx, orderID, status, gatewayRef)
	if err != nil {
		return nil, false, err
	}
	if advanced {
		s.invalidateBalance(ctx, txn.ActorType, txn.ActorID)
	}
	return txn, advanced, nil
}

// ReconcileBalances re-derives every cached balance from the ledger. Returns
// how many users were refreshed.
func (s *LedgerService) ReconcileBalances(ctx context.Context) (int, error) {
	users, err := s.repo.ListWalletUsers(ctx)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, u := range users {
		if _, err := s.ComputeBalance(ctx, u.UserType, u.UserID); err != nil {
			s.logger.Warn().Err(err).Str("user_type", u.UserType).Int64("user_id", u.UserID).
				Msg("Balance reconciliation failed for user")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// PendingTransactions returns rows the reconciler should poll the gateway for.
func (s *LedgerService) PendingTransactions(ctx context.Context, now time.Time, limit int) ([]*models.Transaction, error) {
	return s.repo.GetPendingTransactions(ctx, now, limit)
}

// MarkRetry bumps the retry counter and schedules the next poll.
func (s *LedgerService) MarkRetry(ctx context.Context, id int64, nextRetryAt time.Time) error {
	return s.repo.MarkTransactionRetry(ctx, id, nextRetryAt)
}

func directionFor(walletType string) string {
	if walletType == models.WalletDeducted {
		return models.DirectionDebited
	}
	return models.DirectionCredited
}

func newInvoiceNo() string {
	return "INV-" + uuid.NewString()
}

func newOrderID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
