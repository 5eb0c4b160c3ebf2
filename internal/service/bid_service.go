package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fieldserve/internal/config"
	"fieldserve/internal/domain"
	"fieldserve/internal/events"
	"fieldserve/internal/metrics"
	"fieldserve/internal/models"
)

// BidService handles partner bids and the wallet fee charged for placing one.
type BidService struct {
	repo     domain.Repository
	fee      config.BidFee
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewBidService(repo domain.Repository, fee config.BidFee, eventBus domain.EventPublisher, logger *zerolog.Logger) *BidService {
	return &BidService{
		repo:     repo,
		fee:      fee,
		eventBus: eventBus,
		logger:   logger,
	}
}

func (s *BidService) publishEvent(eventType string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

// FeeAmount resolves the configured bid fee for a given bid price.
func (s *BidService) FeeAmount(price int64) int64 {
	switch s.fee.Mode {
	case config.FeeModePercent:
		return price * s.fee.Value / 100
	default:
		return s.fee.Value
	}
}

type PlaceBidInput struct {
	JobID         int64
	PartnerID     int64
	Price         int64
	Message       string
	AvailableTime string
}

// PlaceBid charges the bid fee from the partner wallet and records the bid in
// one transaction. The job must still be open; one pending bid per partner
// per job.
func (s *BidService) PlaceBid(ctx context.Context, input PlaceBidInput) (*models.Bid, error) {
	if input.JobID <= 0 || input.PartnerID <= 0 {
		return nil, fmt.Errorf("%w: job and partner are required", ErrValidation)
	}
	if input.Price <= 0 {
		return nil, fmt.Errorf("%w: bid price must be positive", ErrValidation)
	}

	job, err := s.repo.GetJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}

	bid := &models.Bid{
		JobID:         job.ID,
		CustomerID:    job.CustomerID,
		PartnerID:     input.PartnerID,
		Price:         input.Price,
		FeeAmount:     s.FeeAmount(input.Price),
		Status:        models.BidPending,
		Message:       input.Message,
		AvailableTime: input.AvailableTime,
	}

	var fee *models.WalletEntry
	if bid.FeeAmount > 0 {
		fee = &models.WalletEntry{
			UserType:      models.ActorPartner,
			UserID:        input.PartnerID,
			WalletType:    models.WalletDeducted,
			Amount:        bid.FeeAmount,
			OrderID:       newOrderID("bidfee"),
			PaymentStatus: models.PaymentCompleted,
			JobID:         job.ID,
			Note:          "bid fee",
		}
	}

	if err := s.repo.CreateBidWithFee(ctx, bid, fee); err != nil {
		return nil, err
	}

	metrics.IncBidPlaced()
	s.logger.Info().
		Int64("bid_id", bid.ID).
		Int64("job_id", job.ID).
		Int64("partner_id", input.PartnerID).
		Int64("price", input.Price).
		Int64("fee", bid.FeeAmount).
		Msg("Bid placed")

	s.publishEvent(events.EventBidPlaced, events.BidEventPayload{
		BidID:     bid.ID,
		JobID:     job.ID,
		PartnerID: input.PartnerID,
		Price:     input.Price,
		Status:    bid.Status,
	})
	return bid, nil
}

// DeclineBid rejects a pending bid. The fee is kept.
func (s *BidService) DeclineBid(ctx context.Context, bidID int64, reason string) error {
	bid, err := s.repo.GetBid(ctx, bidID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateBidStatus(ctx, bidID, models.BidDeclined, reason); err != nil {
		return err
	}
	s.publishEvent(events.EventBidDeclined, events.BidEventPayload{
		BidID:     bid.ID,
		JobID:     bid.JobID,
		PartnerID: bid.PartnerID,
		Price:     bid.Price,
		Status:    models.BidDeclined,
	})
	return nil
}

// CancelBid is the partner withdrawing their own pending bid. The fee comes
// back to their wallet; declined and expired bids keep the fee.
func (s *BidService) CancelBid(ctx context.Context, bidID, partnerID int64, reason string) error {
	bid, err := s.repo.GetBid(ctx, bidID)
	if err != nil {
		return err
	}
	if bid.PartnerID != partnerID {
		return fmt.Errorf("%w: bid belongs to another partner", ErrForbidden)
	}

	var refund *models.WalletEntry
	if bid.FeeAmount > 0 {
		refund = &models.WalletEntry{
			UserType:      models.ActorPartner,
			UserID:        bid.PartnerID,
			WalletType:    models.WalletAdded,
			Amount:        bid.FeeAmount,
			OrderID:       newOrderID("bidfee-refund"),
			PaymentStatus: models.PaymentCompleted,
			JobID:         bid.JobID,
			BidID:         bid.ID,
			Note:          "bid fee refund",
		}
	}

	if err := s.repo.CancelBidWithRefund(ctx, bidID, reason, refund); err != nil {
		return err
	}

	s.logger.Info().Int64("bid_id", bidID).Int64("refund", bid.FeeAmount).Msg("Bid cancelled")
	s.publishEvent(events.EventBidCancelled, events.BidEventPayload{
		BidID:     bid.ID,
		JobID:     bid.JobID,
		PartnerID: bid.PartnerID,
		Price:     bid.Price,
		Status:    models.BidCancelled,
	})
	return nil
}

// BidsByJob lists all bids on a job, newest first.
func (s *BidService) BidsByJob(ctx context.Context, jobID int64) ([]*models.Bid, error) {
	return s.repo.GetBidsByJob(ctx, jobID)
}

// ExpireBids marks pending bids on dead jobs as expired. Fees are kept.
func (s *BidService) ExpireBids(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.ExpireStaleBids(ctx, cutoff)
}
