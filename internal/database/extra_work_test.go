package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldserve/internal/models"
)

func seedInProgressBooking(t *testing.T, db *DB) *models.Booking {
	t.Helper()
	booking := seedBooking(t, db)
	version := booking.Version
	for _, status := range []string{models.BookingOnTheWay, models.BookingArrived, models.BookingInProgress} {
		require.NoError(t, db.UpdateBookingStatusWithVersion(context.Background(), booking.ID, version, status, status))
		version++
	}
	updated, err := db.GetBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	return updated
}

func TestCreateExtraWorkGatesBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	booking := seedInProgressBooking(t, db)

	work := &models.ExtraWork{BookingID: booking.ID, Title: "replace capacitor", Amount: 250, OrderID: "extra-1"}
	require.NoError(t, db.CreateExtraWork(ctx, work, []string{models.BookingInProgress}))
	require.NotZero(t, work.ID)
	assert.Equal(t, models.ExtraWorkPending, work.Status)

	gated, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingAwaitingPayment, gated.Status)

	// A second pending item cannot pass the gate while awaiting payment.
	second := &models.ExtraWork{BookingID: booking.ID, Title: "another", Amount: 100, OrderID: "extra-2"}
	err = db.CreateExtraWork(ctx, second, []string{models.BookingInProgress})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestConfirmExtraWork(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	booking := seedInProgressBooking(t, db)

	work := &models.ExtraWork{BookingID: booking.ID, Title: "extra pipe", Amount: 250, OrderID: "extra-3"}
	require.NoError(t, db.CreateExtraWork(ctx, work, []string{models.BookingInProgress}))

	confirmed, updated, err := db.ConfirmExtraWork(ctx, work.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExtraWorkConfirmed, confirmed.Status)
	assert.Equal(t, models.PaymentCompleted, confirmed.PaymentStatus)

	assert.Equal(t, int64(250), updated.ExtraWorkAmount)
	assert.Equal(t, int64(250), updated.TotalPaid)
	assert.Equal(t, booking.BasePrice+250, updated.TotalAmount)
	assert.Equal(t, models.BookingInProgress, updated.Status)

	// The invariant holds after absorption.
	assert.Equal(t, updated.BasePrice+updated.ExtraWorkAmount-updated.TotalRefund, updated.TotalAmount)

	// Confirming twice conflicts.
	_, _, err = db.ConfirmExtraWork(ctx, work.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCancelExtraWorkReleasesGate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	booking := seedInProgressBooking(t, db)

	work := &models.ExtraWork{BookingID: booking.ID, Title: "not needed", Amount: 100, OrderID: "extra-4"}
	require.NoError(t, db.CreateExtraWork(ctx, work, []string{models.BookingInProgress}))

	require.NoError(t, db.CancelExtraWork(ctx, work.ID, "customer declined"))

	cancelled, err := db.GetExtraWork(ctx, work.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtraWorkCancelled, cancelled.Status)
	assert.Equal(t, "customer declined", cancelled.CancelReason)

	released, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingInProgress, released.Status)

	// Totals untouched.
	assert.Equal(t, int64(0), released.ExtraWorkAmount)

	// Cancelling a non-pending item conflicts.
	err = db.CancelExtraWork(ctx, work.ID, "again")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateExtraWorkFromPausedResumesPaused(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	booking := seedInProgressBooking(t, db)
	require.NoError(t, db.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, models.BookingPaused, models.JobPaused))

	gate := []string{models.BookingInProgress, models.BookingPaused, models.BookingAwaitingMaterial}
	work := &models.ExtraWork{BookingID: booking.ID, Title: "found while paused", Amount: 150, OrderID: "extra-7"}
	require.NoError(t, db.CreateExtraWork(ctx, work, gate))
	assert.Equal(t, models.BookingPaused, work.ResumeStatus)

	gated, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingAwaitingPayment, gated.Status)

	// Cancelling releases the gate back to where the booking was.
	require.NoError(t, db.CancelExtraWork(ctx, work.ID, "not needed"))
	released, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPaused, released.Status)
}

func TestConfirmExtraWorkFromAwaitingMaterialResumesPrior(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	booking := seedInProgressBooking(t, db)
	require.NoError(t, db.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, models.BookingAwaitingMaterial, models.JobAwaitingMaterial))

	gate := []string{models.BookingInProgress, models.BookingPaused, models.BookingAwaitingMaterial}
	work := &models.ExtraWork{BookingID: booking.ID, Title: "extra fittings", Amount: 300, OrderID: "extra-8"}
	require.NoError(t, db.CreateExtraWork(ctx, work, gate))
	assert.Equal(t, models.BookingAwaitingMaterial, work.ResumeStatus)

	_, updated, err := db.ConfirmExtraWork(ctx, work.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingAwaitingMaterial, updated.Status)
	assert.Equal(t, int64(300), updated.ExtraWorkAmount)
	assert.Equal(t, updated.BasePrice+updated.ExtraWorkAmount-updated.TotalRefund, updated.TotalAmount)
}

func TestGetExtraWorkByBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	booking := seedInProgressBooking(t, db)

	first := &models.ExtraWork{BookingID: booking.ID, Title: "first", Amount: 100, OrderID: "extra-5"}
	require.NoError(t, db.CreateExtraWork(ctx, first, []string{models.BookingInProgress}))
	_, _, err := db.ConfirmExtraWork(ctx, first.ID)
	require.NoError(t, err)

	second := &models.ExtraWork{BookingID: booking.ID, Title: "second", Amount: 200, OrderID: "extra-6"}
	require.NoError(t, db.CreateExtraWork(ctx, second, []string{models.BookingInProgress}))

	works, err := db.GetExtraWorkByBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Len(t, works, 2)
}
