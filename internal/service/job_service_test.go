package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldserve/internal/database"
	"fieldserve/internal/models"
)

func TestCreateJobValidation(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	valid := CreateJobInput{
		CustomerID:  1,
		ServiceID:   7,
		ServiceName: "AC repair",
		Price:       1000,
		ScheduledAt: time.Now().Add(time.Hour),
		Latitude:    -6.2,
		Longitude:   106.8,
		Address:     "Jl. Sudirman 1",
	}

	tests := []struct {
		name   string
		mutate func(*CreateJobInput)
	}{
		{"missing customer", func(in *CreateJobInput) { in.CustomerID = 0 }},
		{"missing service", func(in *CreateJobInput) { in.ServiceID = 0 }},
		{"non-positive price", func(in *CreateJobInput) { in.Price = 0 }},
		{"missing location", func(in *CreateJobInput) { in.Latitude = 0; in.Longitude = 0 }},
		{"missing address", func(in *CreateJobInput) { in.Address = "" }},
		{"scheduled in the past", func(in *CreateJobInput) { in.ScheduledAt = time.Now().Add(-time.Hour) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := valid
			tt.mutate(&input)
			_, err := ts.jobs.CreateJob(ctx, input)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateJobAppliesCoupon(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	input := CreateJobInput{
		CustomerID:  1,
		ServiceID:   7,
		ServiceName: "AC repair",
		Price:       1000,
		ScheduledAt: time.Now().Add(time.Hour),
		Latitude:    -6.2,
		Longitude:   106.8,
		Address:     "Jl. Sudirman 1",
		CouponCode:  "WELCOME10",
	}
	job, err := ts.jobs.CreateJob(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, int64(900), job.Price)
	assert.Equal(t, int64(100), job.DiscountAmount)
	assert.Equal(t, "WELCOME10", job.CouponCode)
	assert.Equal(t, models.JobOpen, job.Status)
	assert.Len(t, job.OTP, models.OTPLength)

	// Disabled coupon changes nothing.
	input.CouponCode = "EXPIRED"
	job, err = ts.jobs.CreateJob(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), job.Price)
	assert.Zero(t, job.DiscountAmount)
}

func TestAcceptBidConfirmsJob(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	job := ts.createJob(t, 1)
	winner := ts.placeBid(t, job, 10, 900)
	loser := ts.placeBid(t, job, 11, 950)

	booking, err := ts.jobs.AcceptBid(ctx, job.ID, winner.ID, -6.21, 106.81)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, booking.Status)
	assert.Equal(t, int64(900), booking.BasePrice)

	updated, err := ts.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobConfirmed, updated.Status)

	bids, err := ts.bids.BidsByJob(ctx, job.ID)
	require.NoError(t, err)
	for _, b := range bids {
		switch b.ID {
		case winner.ID:
			assert.Equal(t, models.BidAccepted, b.Status)
		case loser.ID:
			assert.Equal(t, models.BidDeclined, b.Status)
		}
	}

	// The job left the bidding pool.
	_, err = ts.jobs.AcceptBid(ctx, job.ID, loser.ID, -6.21, 106.81)
	assert.ErrorIs(t, err, database.ErrConflict)
}

func TestVerifyOTP(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	job := ts.createJob(t, 1)

	stored, err := ts.db.GetJob(ctx, job.ID)
	require.NoError(t, err)

	assert.NoError(t, ts.jobs.VerifyOTP(ctx, job.ID, stored.OTP))
	assert.ErrorIs(t, ts.jobs.VerifyOTP(ctx, job.ID, "000000"), ErrValidation)
	assert.ErrorIs(t, ts.jobs.VerifyOTP(ctx, job.ID, ""), ErrValidation)
}

func TestExpireStaleJobsSweep(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	job := ts.createJob(t, 1)
	bid := ts.placeBid(t, job, 10, 900)

	// Backdate the job past its scheduled slot.
	_, err := ts.db.ExecContext(ctx, `UPDATE jobs SET scheduled_at = ? WHERE id = ?`,
		time.Now().Add(-time.Hour), job.ID)
	require.NoError(t, err)

	expired, err := ts.jobs.ExpireStaleJobs(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	updated, err := ts.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobExpired, updated.Status)

	staleBid, err := ts.db.GetBid(ctx, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidExpired, staleBid.Status)
}
