package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldserve/internal/models"
)

const bookingColumns = `id, job_id, customer_id, partner_id, service_id, scheduled_at,
       started_at, ended_at, partner_latitude, partner_longitude, base_price,
       extra_work_amount, total_paid, total_due_amount, total_amount, total_refund,
       portal_fee_percent, status, payment_status, created_at, updated_at, version`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	b := &models.Booking{}
	var started, ended sql.NullTime
	err := row.Scan(
		&b.ID, &b.JobID, &b.CustomerID, &b.PartnerID, &b.ServiceID, &b.ScheduledAt,
		&started, &ended, &b.PartnerLatitude, &b.PartnerLongitude, &b.BasePrice,
		&b.ExtraWorkAmount, &b.TotalPaid, &b.TotalDueAmount, &b.TotalAmount, &b.TotalRefund,
		&b.PortalFeePercent, &b.Status, &b.PaymentStatus, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		b.StartedAt = &started.Time
	}
	if ended.Valid {
		b.EndedAt = &ended.Time
	}
	return b, nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (db *DB) GetBookingByJob(ctx context.Context, jobID int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE job_id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by job: %w", err)
	}
	return booking, nil
}

// UpdateBookingStatusWithVersion moves the booking status guarded by an
// optimistic version check, and stamps started_at/ended_at on the way
// through the lifecycle. The paired job status update rides in the same
// transaction so the two records cannot diverge.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status, jobStatus string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ?`
	args := []any{status, now}

	switch status {
	case models.BookingInProgress:
		query += `, started_at = COALESCE(started_at, ?)`
		args = append(args, now)
	case models.BookingCompleted, models.BookingCancelled:
		query += `, ended_at = COALESCE(ended_at, ?)`
		args = append(args, now)
	}

	query += ` WHERE id = ? AND version = ?`
	args = append(args, id, fromVersion)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	if jobStatus != "" {
		var jobID int64
		if err := tx.QueryRowContext(ctx, `SELECT job_id FROM bookings WHERE id = ?`, id).Scan(&jobID); err != nil {
			return fmt.Errorf("failed to resolve job id in tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, version = version + 1, updated_at = ? WHERE id = ?`,
			jobStatus, now, jobID); err != nil {
			return fmt.Errorf("failed to update job status in tx: %w", err)
		}
	}

	return tx.Commit()
}

func (db *DB) UpdateBookingPaymentStatus(ctx context.Context, id int64, paymentStatus string) error {
	query := `UPDATE bookings SET payment_status = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, paymentStatus, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update booking payment status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SettleBooking finalizes a completed booking: booking and job flip to
// completed, the customer charge lands in the transaction ledger and the
// partner payout lands in the wallet, all or nothing.
func (db *DB) SettleBooking(ctx context.Context, booking *models.Booking, customerTxn *models.Transaction, partnerCredit *models.WalletEntry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, payment_status = ?, total_paid = ?,
		        total_due_amount = 0, ended_at = COALESCE(ended_at, ?),
		        version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		models.BookingCompleted, models.PaymentCompleted, booking.TotalAmount,
		now, now, booking.ID, booking.Version)
	if err != nil {
		return fmt.Errorf("failed to settle booking in tx: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		models.JobCompleted, now, booking.JobID); err != nil {
		return fmt.Errorf("failed to complete job in tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (
				order_id, invoice_no, actor_type, actor_id, direction,
				payment_by, payment_for, amount, gateway, gateway_ref, payment_status,
				job_id, booking_id, extra_work_id, bid_id, retry_count, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		customerTxn.OrderID, customerTxn.InvoiceNo, customerTxn.ActorType, customerTxn.ActorID,
		customerTxn.Direction, customerTxn.PaymentBy, customerTxn.PaymentFor, customerTxn.Amount,
		customerTxn.Gateway, customerTxn.GatewayRef, customerTxn.PaymentStatus,
		customerTxn.JobID, customerTxn.BookingID, customerTxn.ExtraWorkID, customerTxn.BidID,
		now, now); err != nil {
		return fmt.Errorf("failed to insert settlement transaction in tx: %w", err)
	}

	if err := insertWalletEntryTx(ctx, tx, partnerCredit, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}

	booking.Status = models.BookingCompleted
	booking.PaymentStatus = models.PaymentCompleted
	booking.TotalPaid = booking.TotalAmount
	booking.TotalDueAmount = 0
	booking.Version++
	return nil
}

// CancelBookingWithRefund cancels a booking and records the refund
// obligation. A nil refund transaction means nothing was collected.
func (db *DB) CancelBookingWithRefund(ctx context.Context, booking *models.Booking, refundAmount int64, refundTxn *models.Transaction) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	paymentStatus := models.PaymentCancelled
	if refundTxn != nil {
		paymentStatus = models.PaymentRefundPending
	}

	totalRefund := booking.TotalRefund + refundAmount
	totalAmount := booking.BasePrice + booking.ExtraWorkAmount - totalRefund

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, payment_status = ?, total_refund = ?,
		        total_amount = ?, total_due_amount = 0, ended_at = COALESCE(ended_at, ?),
		        version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		models.BookingCancelled, paymentStatus, totalRefund, totalAmount,
		now, now, booking.ID, booking.Version)
	if err != nil {
		return fmt.Errorf("failed to cancel booking in tx: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		models.JobCancelled, now, booking.JobID); err != nil {
		return fmt.Errorf("failed to cancel job in tx: %w", err)
	}

	if refundTxn != nil {
		if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (
					order_id, invoice_no, actor_type, actor_id, direction,
					payment_by, payment_for, amount, gateway, gateway_ref, payment_status,
					job_id, booking_id, extra_work_id, bid_id, retry_count, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			refundTxn.OrderID, refundTxn.InvoiceNo, refundTxn.ActorType, refundTxn.ActorID,
			refundTxn.Direction, refundTxn.PaymentBy, refundTxn.PaymentFor, refundTxn.Amount,
			refundTxn.Gateway, refundTxn.GatewayRef, refundTxn.PaymentStatus,
			refundTxn.JobID, refundTxn.BookingID, refundTxn.ExtraWorkID, refundTxn.BidID,
			now, now); err != nil {
			return fmt.Errorf("failed to insert refund transaction in tx: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}

	booking.Status = models.BookingCancelled
	booking.PaymentStatus = paymentStatus
	booking.TotalRefund = totalRefund
	booking.TotalAmount = totalAmount
	booking.TotalDueAmount = 0
	booking.Version++
	return nil
}

// RecordBookingPayment applies a confirmed customer payment to the booking
// totals.
func (db *DB) RecordBookingPayment(ctx context.Context, id, amount int64) error {
	query := `UPDATE bookings SET total_paid = total_paid + ?,
              total_due_amount = MAX(total_amount - total_paid - ?, 0),
              payment_status = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, amount, amount, models.PaymentCompleted, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to record booking payment: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
