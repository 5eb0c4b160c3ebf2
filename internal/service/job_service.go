package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"fieldserve/internal/domain"
	"fieldserve/internal/events"
	"fieldserve/internal/metrics"
	"fieldserve/internal/models"
)

// JobService handles the job lifecycle up to confirmation: posting, bid
// acceptance and expiry.
type JobService struct {
	repo             domain.Repository
	pricing          *Pricing
	portalFeePercent int64
	eventBus         domain.EventPublisher
	logger           *zerolog.Logger
}

func NewJobService(repo domain.Repository, pricing *Pricing, portalFeePercent int64, eventBus domain.EventPublisher, logger *zerolog.Logger) *JobService {
	if portalFeePercent <= 0 {
		portalFeePercent = models.DefaultPortalFeePercent
	}
	return &JobService{
		repo:             repo,
		pricing:          pricing,
		portalFeePercent: portalFeePercent,
		eventBus:         eventBus,
		logger:           logger,
	}
}

func (s *JobService) publishEvent(eventType string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

type CreateJobInput struct {
	CustomerID       int64
	ServiceID        int64
	ServiceName      string
	Price            int64
	ScheduledAt      time.Time
	EstimatedMinutes int64
	Latitude         float64
	Longitude        float64
	Address          string
	CouponCode       string
	Surge            bool
	Emergency        bool
	FromBanner       bool
}

// CreateJob validates the request, applies any coupon discount, generates the
// start code and opens the job for bidding.
func (s *JobService) CreateJob(ctx context.Context, input CreateJobInput) (*models.Job, error) {
	if input.CustomerID <= 0 {
		return nil, fmt.Errorf("%w: customer is required", ErrValidation)
	}
	if input.ServiceID <= 0 {
		return nil, fmt.Errorf("%w: service is required", ErrValidation)
	}
	if input.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if input.Latitude == 0 && input.Longitude == 0 {
		return nil, fmt.Errorf("%w: location is required", ErrValidation)
	}
	if input.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrValidation)
	}
	if input.ScheduledAt.Before(time.Now()) {
		return nil, fmt.Errorf("%w: scheduled time is in the past", ErrValidation)
	}

	discount := int64(0)
	if s.pricing != nil {
		discount = s.pricing.ResolveDiscount(input.CouponCode, input.Price)
	}

	otp, err := generateOTP()
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp: %w", err)
	}

	job := &models.Job{
		CustomerID:       input.CustomerID,
		ServiceID:        input.ServiceID,
		ServiceName:      input.ServiceName,
		Price:            input.Price - discount,
		ScheduledAt:      input.ScheduledAt,
		EstimatedMinutes: input.EstimatedMinutes,
		Latitude:         input.Latitude,
		Longitude:        input.Longitude,
		Address:          input.Address,
		Status:           models.JobOpen,
		OTP:              otp,
		CouponCode:       input.CouponCode,
		DiscountAmount:   discount,
		Surge:            input.Surge,
		Emergency:        input.Emergency,
		FromBanner:       input.FromBanner,
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	metrics.IncJobCreated()
	s.logger.Info().
		Int64("job_id", job.ID).
		Int64("customer_id", job.CustomerID).
		Int64("price", job.Price).
		Int64("discount", discount).
		Msg("Job created")

	s.publishEvent(events.EventJobCreated, events.JobEventPayload{
		JobID:      job.ID,
		CustomerID: job.CustomerID,
		ServiceID:  job.ServiceID,
		Price:      job.Price,
		Status:     job.Status,
	})
	return job, nil
}

func (s *JobService) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *JobService) ListOpenJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	return s.repo.ListJobsByStatus(ctx, models.JobOpen, limit)
}

// AcceptBid confirms one bid on the job. Concurrent acceptances resolve to a
// single winner; the losers get ErrConflict.
func (s *JobService) AcceptBid(ctx context.Context, jobID, bidID int64, partnerLat, partnerLng float64) (*models.Booking, error) {
	booking, err := s.repo.AcceptBid(ctx, jobID, bidID, partnerLat, partnerLng, s.portalFeePercent)
	if err != nil {
		return nil, err
	}

	metrics.IncBookingTransition(models.JobOpen, booking.Status)
	s.logger.Info().
		Int64("job_id", jobID).
		Int64("bid_id", bidID).
		Int64("booking_id", booking.ID).
		Int64("base_price", booking.BasePrice).
		Msg("Bid accepted")

	s.publishEvent(events.EventBidAccepted, events.BidEventPayload{
		BidID:     bidID,
		JobID:     jobID,
		PartnerID: booking.PartnerID,
		Price:     booking.BasePrice,
		Status:    models.BidAccepted,
	})
	return booking, nil
}

// VerifyOTP checks the job start code presented by the partner on site.
func (s *JobService) VerifyOTP(ctx context.Context, jobID int64, otp string) error {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if otp == "" || job.OTP != otp {
		return fmt.Errorf("%w: wrong start code", ErrValidation)
	}
	return nil
}

// ExpireStaleJobs sweeps jobs past their scheduled time that never got a
// confirmed partner. Bids go first so their fees are settled before the job
// leaves the bidding pool.
func (s *JobService) ExpireStaleJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := s.repo.ExpireStaleBids(ctx, cutoff); err != nil {
		return 0, err
	}
	expired, err := s.repo.ExpireStaleJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.logger.Info().Int64("count", expired).Msg("Expired stale jobs")
		s.publishEvent(events.EventJobExpired, map[string]int64{"count": expired})
	}
	return expired, nil
}

func generateOTP() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < models.OTPLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", models.OTPLength, n), nil
}
