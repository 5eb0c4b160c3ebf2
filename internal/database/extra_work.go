package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldserve/internal/models"
)

const extraWorkColumns = `id, booking_id, title, amount, status, payment_status,
       order_id, resume_status, cancel_reason, created_at, updated_at`

func scanExtraWork(row interface{ Scan(...any) error }) (*models.ExtraWork, error) {
	w := &models.ExtraWork{}
	err := row.Scan(
		&w.ID, &w.BookingID, &w.Title, &w.Amount, &w.Status, &w.PaymentStatus,
		&w.OrderID, &w.ResumeStatus, &w.CancelReason, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (db *DB) GetExtraWork(ctx context.Context, id int64) (*models.ExtraWork, error) {
	query := `SELECT ` + extraWorkColumns + ` FROM extra_work WHERE id = ?`
	work, err := scanExtraWork(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extra work: %w", err)
	}
	return work, nil
}

func (db *DB) GetExtraWorkByBooking(ctx context.Context, bookingID int64) ([]*models.ExtraWork, error) {
	query := `SELECT ` + extraWorkColumns + ` FROM extra_work WHERE booking_id = ? ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get extra work history: %w", err)
	}
	defer rows.Close()

	var works []*models.ExtraWork
	for rows.Next() {
		w, err := scanExtraWork(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan extra work: %w", err)
		}
		works = append(works, w)
	}
	return works, rows.Err()
}

// CreateExtraWork inserts a pending extra-work item and parks the booking in
// awaiting_payment, remembering the interrupted status on the item. The gate
// runs inside the transaction so a concurrent transition cannot slip past it.
func (db *DB) CreateExtraWork(ctx context.Context, work *models.ExtraWork, fromStatuses []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, work.BookingID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get booking status in tx: %w", err)
	}
	allowed := false
	for _, s := range fromStatuses {
		if s == current {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrConflict
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.BookingAwaitingPayment, now, work.BookingID, current)
	if err != nil {
		return fmt.Errorf("failed to gate booking in tx: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}

	insert, err := tx.ExecContext(ctx, `INSERT INTO extra_work (
				booking_id, title, amount, status, payment_status, order_id,
				resume_status, cancel_reason, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		work.BookingID, work.Title, work.Amount, models.ExtraWorkPending,
		models.PaymentPending, work.OrderID, current, "", now, now)
	if err != nil {
		return fmt.Errorf("failed to insert extra work in tx: %w", err)
	}

	id, err := insert.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	work.ID = id
	work.Status = models.ExtraWorkPending
	work.PaymentStatus = models.PaymentPending
	work.ResumeStatus = current
	work.CreatedAt = now
	work.UpdatedAt = now

	return tx.Commit()
}

// ConfirmExtraWork applies a paid extra-work item to its booking: the item
// flips to confirmed, booking totals absorb the amount and the booking
// resumes the status the item interrupted.
func (db *DB) ConfirmExtraWork(ctx context.Context, workID int64) (*models.ExtraWork, *models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	work, err := scanExtraWork(tx.QueryRowContext(ctx,
		`SELECT `+extraWorkColumns+` FROM extra_work WHERE id = ?`, workID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get extra work in tx: %w", err)
	}
	if work.Status != models.ExtraWorkPending {
		return nil, nil, ErrConflict
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE extra_work SET status = ?, payment_status = ?, updated_at = ? WHERE id = ?`,
		models.ExtraWorkConfirmed, models.PaymentCompleted, now, workID); err != nil {
		return nil, nil, fmt.Errorf("failed to confirm extra work in tx: %w", err)
	}

	booking, err := scanBooking(tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, work.BookingID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get booking in tx: %w", err)
	}

	booking.ExtraWorkAmount += work.Amount
	booking.TotalPaid += work.Amount
	booking.RecomputeTotals()
	if booking.Status == models.BookingAwaitingPayment {
		booking.Status = resumeStatus(work.ResumeStatus)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET extra_work_amount = ?, total_paid = ?, total_amount = ?,
		        total_due_amount = ?, status = ?, version = version + 1, updated_at = ?
		 WHERE id = ?`,
		booking.ExtraWorkAmount, booking.TotalPaid, booking.TotalAmount,
		booking.TotalDueAmount, booking.Status, now, booking.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to apply extra work to booking in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit extra work confirmation: %w", err)
	}

	work.Status = models.ExtraWorkConfirmed
	work.PaymentStatus = models.PaymentCompleted
	work.UpdatedAt = now
	booking.Version++
	return work, booking, nil
}

// CancelExtraWork cancels a still-pending item and releases the booking gate
// back to the status the item interrupted.
func (db *DB) CancelExtraWork(ctx context.Context, workID int64, reason string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var bookingID int64
	var resume string
	err = tx.QueryRowContext(ctx,
		`SELECT booking_id, resume_status FROM extra_work WHERE id = ? AND status = ?`,
		workID, models.ExtraWorkPending).Scan(&bookingID, &resume)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to get extra work in tx: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE extra_work SET status = ?, payment_status = ?, cancel_reason = ?, updated_at = ?
		 WHERE id = ?`,
		models.ExtraWorkCancelled, models.PaymentCancelled, reason, now, workID); err != nil {
		return fmt.Errorf("failed to cancel extra work in tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		resumeStatus(resume), now, bookingID, models.BookingAwaitingPayment); err != nil {
		return fmt.Errorf("failed to release booking gate in tx: %w", err)
	}

	return tx.Commit()
}

// resumeStatus guards rows created before resume tracking existed.
func resumeStatus(stored string) string {
	if stored == "" {
		return models.BookingInProgress
	}
	return stored
}
