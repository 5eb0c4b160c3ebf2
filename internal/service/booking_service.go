package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"fieldserve/internal/database"
	"fieldserve/internal/domain"
	"fieldserve/internal/events"
	"fieldserve/internal/metrics"
	"fieldserve/internal/models"
)

// Actor identifies who is driving a state change.
type Actor struct {
	Role string
	ID   int64
}

// BookingService drives the post-confirmation lifecycle: status transitions,
// extra work, settlement on completion and refunds on cancellation.
type BookingService struct {
	repo     domain.Repository
	ledger   *LedgerService
	gateway  domain.PaymentGateway
	refunds  RefundPolicy
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewBookingService(repo domain.Repository, ledger *LedgerService, gateway domain.PaymentGateway, refunds RefundPolicy, eventBus domain.EventPublisher, logger *zerolog.Logger) *BookingService {
	if refunds == nil {
		refunds = ProportionalRefundPolicy{}
	}
	return &BookingService{
		repo:     repo,
		ledger:   ledger,
		gateway:  gateway,
		refunds:  refunds,
		eventBus: eventBus,
		logger:   logger,
	}
}

func (s *BookingService) publishEvent(eventType string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *BookingService) GetBookingByJob(ctx context.Context, jobID int64) (*models.Booking, error) {
	return s.repo.GetBookingByJob(ctx, jobID)
}

func (s *BookingService) authorize(booking *models.Booking, actor Actor, target string) error {
	switch actor.Role {
	case models.ActorAdmin:
		return nil
	case models.ActorPartner:
		if booking.PartnerID != actor.ID {
			return fmt.Errorf("%w: booking belongs to another partner", ErrForbidden)
		}
		return nil
	case models.ActorCustomer:
		if booking.CustomerID != actor.ID {
			return fmt.Errorf("%w: booking belongs to another customer", ErrForbidden)
		}
		if target != models.BookingCancelled {
			return fmt.Errorf("%w: customers may only cancel", ErrForbidden)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown actor role %q", ErrForbidden, actor.Role)
	}
}

// AdvanceStatus moves the booking along its lifecycle. The transition table
// decides legality, the version check serializes concurrent writers, and the
// start code gates the first move into in_progress.
func (s *BookingService) AdvanceStatus(ctx context.Context, bookingID int64, target string, actor Actor, otp string) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(booking, actor, target); err != nil {
		return nil, err
	}
	if err := models.ValidateBookingTransition(booking.Status, target); err != nil {
		return nil, err
	}

	if target == models.BookingInProgress && booking.StartedAt == nil && actor.Role == models.ActorPartner {
		job, err := s.repo.GetJob(ctx, booking.JobID)
		if err != nil {
			return nil, err
		}
		if otp == "" || job.OTP != otp {
			return nil, fmt.Errorf("%w: wrong start code", ErrValidation)
		}
	}

	from := booking.Status
	switch target {
	case models.BookingCompleted:
		err = s.complete(ctx, booking)
	case models.BookingCancelled:
		err = s.cancel(ctx, booking, actor)
	default:
		err = s.repo.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, target, target)
		if err == nil {
			booking.Status = target
			booking.Version++
		}
	}
	if err != nil {
		return nil, err
	}

	metrics.IncBookingTransition(from, target)
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Str("from", from).
		Str("to", target).
		Str("by", actor.Role).
		Msg("Booking status changed")

	s.publishEvent(events.EventBookingStatusChanged, events.BookingEventPayload{
		BookingID:  booking.ID,
		JobID:      booking.JobID,
		CustomerID: booking.CustomerID,
		PartnerID:  booking.PartnerID,
		From:       from,
		Status:     target,
		ChangedBy:  actor.Role,
	})
	return booking, nil
}

func (s *BookingService) complete(ctx context.Context, booking *models.Booking) error {
	if err := s.ledger.SettleBooking(ctx, booking, s.repo); err != nil {
		return err
	}
	s.publishEvent(events.EventBookingCompleted, events.BookingEventPayload{
		BookingID:  booking.ID,
		JobID:      booking.JobID,
		CustomerID: booking.CustomerID,
		PartnerID:  booking.PartnerID,
		Status:     booking.Status,
		Amount:     booking.TotalAmount,
	})
	return nil
}

func (s *BookingService) cancel(ctx context.Context, booking *models.Booking, actor Actor) error {
	refundAmount := s.refunds.RefundAmount(booking)

	var refundTxn *models.Transaction
	if refundAmount > 0 {
		// Deterministic order id: a second cancellation attempt reuses the
		// same refund row instead of minting another.
		refundTxn = &models.Transaction{
			OrderID:       fmt.Sprintf("refund-booking-%d", booking.ID),
			InvoiceNo:     newInvoiceNo(),
			ActorType:     models.ActorCustomer,
			ActorID:       booking.CustomerID,
			Direction:     models.DirectionCredited,
			PaymentBy:     models.PaymentByGateway,
			PaymentFor:    models.PayForRefund,
			Amount:        refundAmount,
			PaymentStatus: models.PaymentRefundPending,
			JobID:         booking.JobID,
			BookingID:     booking.ID,
		}
	}

	if err := s.repo.CancelBookingWithRefund(ctx, booking, refundAmount, refundTxn); err != nil {
		return err
	}

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("refund", refundAmount).
		Str("by", actor.Role).
		Msg("Booking cancelled")

	if refundTxn != nil {
		if err := s.ledger.DispatchRefund(ctx, refundTxn.OrderID); err != nil {
			s.logger.Warn().Err(err).Str("order_id", refundTxn.OrderID).
				Msg("Refund dispatch failed after cancellation")
		}
	}

	s.publishEvent(events.EventBookingCancelled, events.BookingEventPayload{
		BookingID:  booking.ID,
		JobID:      booking.JobID,
		CustomerID: booking.CustomerID,
		PartnerID:  booking.PartnerID,
		Status:     models.BookingCancelled,
		Amount:     refundAmount,
		ChangedBy:  actor.Role,
	})
	return nil
}

// AddExtraWork registers extra work discovered on site and opens a gateway
// payment for it. The booking parks in awaiting_payment until the customer
// pays or the item is cancelled.
func (s *BookingService) AddExtraWork(ctx context.Context, bookingID int64, actor Actor, title string, amount int64) (*models.ExtraWork, *domain.GatewayPayment, error) {
	if title == "" {
		return nil, nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if amount <= 0 {
		return nil, nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if actor.Role == models.ActorCustomer {
		return nil, nil, fmt.Errorf("%w: only the partner adds extra work", ErrForbidden)
	}
	if actor.Role == models.ActorPartner && booking.PartnerID != actor.ID {
		return nil, nil, fmt.Errorf("%w: booking belongs to another partner", ErrForbidden)
	}

	work := &models.ExtraWork{
		BookingID: booking.ID,
		Title:     title,
		Amount:    amount,
		OrderID:   newOrderID("extra"),
	}
	// Extra work can surface while actively working, during a pause or while
	// waiting on materials; the item remembers which so payment resolution
	// restores it.
	gate := []string{models.BookingInProgress, models.BookingPaused, models.BookingAwaitingMaterial}
	if err := s.repo.CreateExtraWork(ctx, work, gate); err != nil {
		return nil, nil, err
	}

	txn := &models.Transaction{
		OrderID:       work.OrderID,
		ActorType:     models.ActorCustomer,
		ActorID:       booking.CustomerID,
		Direction:     models.DirectionDebited,
		PaymentBy:     models.PaymentByGateway,
		PaymentFor:    models.PayForExtraWork,
		Amount:        amount,
		PaymentStatus: models.PaymentPending,
		JobID:         booking.JobID,
		BookingID:     booking.ID,
		ExtraWorkID:   work.ID,
	}
	if _, err := s.ledger.RecordTransaction(ctx, txn); err != nil {
		return nil, nil, err
	}

	s.publishEvent(events.EventExtraWorkAdded, events.BookingEventPayload{
		BookingID:  booking.ID,
		JobID:      booking.JobID,
		CustomerID: booking.CustomerID,
		PartnerID:  booking.PartnerID,
		Status:     models.BookingAwaitingPayment,
		Amount:     amount,
		ChangedBy:  actor.Role,
	})

	payment, err := s.gateway.InitiatePayment(ctx, work.OrderID, amount, "extra work: "+title)
	if err != nil {
		metrics.IncGatewayCall("initiate", "error")
		s.logger.Warn().Err(err).Str("order_id", work.OrderID).
			Msg("Extra work payment initiation failed, transaction left pending")
		return work, nil, nil
	}
	metrics.IncGatewayCall("initiate", "ok")

	if payment.GatewayRef != "" {
		if _, _, err := s.ledger.ApplyGatewayResult(ctx, work.OrderID, models.PaymentPending, payment.GatewayRef); err != nil {
			s.logger.Warn().Err(err).Str("order_id", work.OrderID).Msg("Failed to store gateway ref")
		}
	}
	return work, payment, nil
}

// CancelExtraWork withdraws a still-pending item. The booking gate releases
// back to the interrupted status and the pending charge is voided.
func (s *BookingService) CancelExtraWork(ctx context.Context, workID int64, actor Actor, reason string) error {
	work, err := s.repo.GetExtraWork(ctx, workID)
	if err != nil {
		return err
	}
	booking, err := s.repo.GetBooking(ctx, work.BookingID)
	if err != nil {
		return err
	}
	switch actor.Role {
	case models.ActorAdmin:
	case models.ActorPartner:
		if booking.PartnerID != actor.ID {
			return fmt.Errorf("%w: booking belongs to another partner", ErrForbidden)
		}
	case models.ActorCustomer:
		if booking.CustomerID != actor.ID {
			return fmt.Errorf("%w: booking belongs to another customer", ErrForbidden)
		}
	default:
		return fmt.Errorf("%w: unknown actor role %q", ErrForbidden, actor.Role)
	}

	if err := s.repo.CancelExtraWork(ctx, workID, reason); err != nil {
		return err
	}

	if work.OrderID != "" {
		if _, _, err := s.ledger.ApplyGatewayResult(ctx, work.OrderID, models.PaymentCancelled, ""); err != nil && !errors.Is(err, database.ErrNotFound) {
			s.logger.Warn().Err(err).Str("order_id", work.OrderID).Msg("Failed to void extra work charge")
		}
	}

	s.logger.Info().Int64("extra_work_id", workID).Str("reason", reason).Msg("Extra work cancelled")
	return nil
}

// HandleGatewayResult routes a verified gateway status for an order to the
// ledger and then to whatever domain record the payment was for. Safe to call
// repeatedly with the same result.
func (s *BookingService) HandleGatewayResult(ctx context.Context, orderID, status, gatewayRef string) error {
	txn, advanced, err := s.ledger.ApplyGatewayResult(ctx, orderID, status, gatewayRef)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}

	switch {
	case txn.PaymentFor == models.PayForExtraWork && txn.PaymentStatus == models.PaymentCompleted:
		work, booking, err := s.repo.ConfirmExtraWork(ctx, txn.ExtraWorkID)
		if errors.Is(err, database.ErrConflict) {
			return nil
		}
		if err != nil {
			return err
		}
		s.publishEvent(events.EventExtraWorkConfirmed, events.BookingEventPayload{
			BookingID:  booking.ID,
			JobID:      booking.JobID,
			CustomerID: booking.CustomerID,
			PartnerID:  booking.PartnerID,
			Status:     booking.Status,
			Amount:     work.Amount,
		})

	case txn.PaymentFor == models.PayForBooking && txn.PaymentStatus == models.PaymentCompleted && txn.BookingID > 0:
		if err := s.repo.RecordBookingPayment(ctx, txn.BookingID, txn.Amount); err != nil {
			return err
		}

	case txn.PaymentFor == models.PayForRefund && txn.BookingID > 0 &&
		(txn.PaymentStatus == models.PaymentRefunded ||
			txn.PaymentStatus == models.PaymentRefundFailed ||
			txn.PaymentStatus == models.PaymentRefundToWallet):
		if err := s.repo.UpdateBookingPaymentStatus(ctx, txn.BookingID, txn.PaymentStatus); err != nil {
			return err
		}
	}
	return nil
}

// VerifyAndApply asks the gateway for the current status of an order and
// applies it. Used by the reconciler for rows whose callback never arrived.
func (s *BookingService) VerifyAndApply(ctx context.Context, orderID string) (string, error) {
	status, err := s.gateway.VerifyStatus(ctx, orderID)
	if err != nil {
		return "", err
	}
	if err := s.HandleGatewayResult(ctx, orderID, status, ""); err != nil {
		return "", err
	}
	return status, nil
}

// ExtraWorkByBooking lists the extra work history for a booking.
func (s *BookingService) ExtraWorkByBooking(ctx context.Context, bookingID int64) ([]*models.ExtraWork, error) {
	return s.repo.GetExtraWorkByBooking(ctx, bookingID)
}
