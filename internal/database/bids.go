package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldserve/internal/models"
)

const bidColumns = `id, job_id, customer_id, partner_id, price, fee_amount, status,
       message, available_time, cancel_reason, created_at, updated_at`

func scanBid(row interface{ Scan(...any) error }) (*models.Bid, error) {
	b := &models.Bid{}
	err := row.Scan(
		&b.ID, &b.JobID, &b.CustomerID, &b.PartnerID, &b.Price, &b.FeeAmount, &b.Status,
		&b.Message, &b.AvailableTime, &b.CancelReason, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (db *DB) GetBid(ctx context.Context, id int64) (*models.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = ?`
	bid, err := scanBid(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	return bid, nil
}

func (db *DB) GetBidsByJob(ctx context.Context, jobID int64) ([]*models.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE job_id = ? ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bids: %w", err)
	}
	defer rows.Close()

	var bids []*models.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// CreateBidWithFee inserts a bid and its fee debit in one transaction.
// The job must still be open, the partner must not already hold a pending
// bid, and the fee must fit the partner's available wallet balance.
func (db *DB) CreateBidWithFee(ctx context.Context, bid *models.Bid, fee *models.WalletEntry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var jobStatus string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, bid.JobID).Scan(&jobStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read job status in tx: %w", err)
	}
	if jobStatus != models.JobOpen {
		return ErrJobNotOpen
	}

	var pending int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bids WHERE job_id = ? AND partner_id = ? AND status = ?`,
		bid.JobID, bid.PartnerID, models.BidPending).Scan(&pending)
	if err != nil {
		return fmt.Errorf("failed to check duplicate bid in tx: %w", err)
	}
	if pending > 0 {
		return ErrDuplicateBid
	}

	now := time.Now()

	if fee != nil && fee.Amount > 0 {
		available, err := availableBalanceTx(ctx, tx, fee.UserType, fee.UserID)
		if err != nil {
			return err
		}
		if fee.Amount > available {
			return ErrInsufficientFunds
		}
		if err := insertWalletEntryTx(ctx, tx, fee, now); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx, `INSERT INTO bids (
				job_id, customer_id, partner_id, price, fee_amount, status,
				message, available_time, cancel_reason, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bid.JobID, bid.CustomerID, bid.PartnerID, bid.Price, bid.FeeAmount, bid.Status,
		bid.Message, bid.AvailableTime, "", now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bid in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	bid.ID = id
	bid.CreatedAt = now
	bid.UpdatedAt = now

	if fee != nil {
		fee.BidID = id
		if _, err := tx.ExecContext(ctx,
			`UPDATE wallet_entries SET bid_id = ? WHERE id = ?`, id, fee.ID); err != nil {
			return fmt.Errorf("failed to link fee entry in tx: %w", err)
		}
	}

	return tx.Commit()
}

// UpdateBidStatus moves a bid out of pending. Returns ErrConflict when the
// bid is already terminal.
func (db *DB) UpdateBidStatus(ctx context.Context, id int64, status, reason string) error {
	query := `UPDATE bids SET status = ?, cancel_reason = ?, updated_at = ?
              WHERE id = ? AND status = ?`
	result, err := db.ExecContext(ctx, query, status, reason, time.Now(), id, models.BidPending)
	if err != nil {
		return fmt.Errorf("failed to update bid status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

// CancelBidWithRefund cancels a pending bid and credits the fee back in one
// transaction.
func (db *DB) CancelBidWithRefund(ctx context.Context, bidID int64, reason string, refund *models.WalletEntry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE bids SET status = ?, cancel_reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.BidCancelled, reason, now, bidID, models.BidPending)
	if err != nil {
		return fmt.Errorf("failed to cancel bid in tx: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}

	if refund != nil && refund.Amount > 0 {
		refund.BidID = bidID
		if err := insertWalletEntryTx(ctx, tx, refund, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// AcceptBid resolves the bid race: exactly one concurrent caller flips the
// job out of open, accepts its bid, declines the siblings and materializes
// the booking, all inside one transaction.
func (db *DB) AcceptBid(ctx context.Context, jobID, bidID int64, partnerLat, partnerLng float64, portalFeePercent int64) (*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	bid, err := scanBid(tx.QueryRowContext(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE id = ?`, bidID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bid in tx: %w", err)
	}
	if bid.JobID != jobID {
		return nil, ErrNotFound
	}
	if bid.Status != models.BidPending {
		return nil, ErrConflict
	}

	now := time.Now()

	// The conditional update is the compare-and-swap: it succeeds for at
	// most one caller per job.
	result, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobConfirmationPending, now, jobID, models.JobOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to lock job in tx: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrConflict
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE bids SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.BidAccepted, now, bidID, models.BidPending)
	if err != nil {
		return nil, fmt.Errorf("failed to accept bid in tx: %w", err)
	}
	rows, _ = result.RowsAffected()
	if rows == 0 {
		return nil, ErrConflict
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bids SET status = ?, updated_at = ? WHERE job_id = ? AND id != ? AND status = ?`,
		models.BidDeclined, now, jobID, bidID, models.BidPending); err != nil {
		return nil, fmt.Errorf("failed to decline sibling bids in tx: %w", err)
	}

	job, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to get job in tx: %w", err)
	}

	booking := &models.Booking{
		JobID:            jobID,
		CustomerID:       job.CustomerID,
		PartnerID:        bid.PartnerID,
		ServiceID:        job.ServiceID,
		ScheduledAt:      job.ScheduledAt,
		PartnerLatitude:  partnerLat,
		PartnerLongitude: partnerLng,
		BasePrice:        bid.Price,
		PortalFeePercent: portalFeePercent,
		Status:           models.BookingConfirmed,
		PaymentStatus:    models.PaymentPending,
	}
	booking.RecomputeTotals()

	result, err = tx.ExecContext(ctx, `INSERT INTO bookings (
				job_id, customer_id, partner_id, service_id, scheduled_at,
				partner_latitude, partner_longitude, base_price, extra_work_amount,
				total_paid, total_due_amount, total_amount, total_refund,
				portal_fee_percent, status, payment_status, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.JobID, booking.CustomerID, booking.PartnerID, booking.ServiceID, booking.ScheduledAt,
		booking.PartnerLatitude, booking.PartnerLongitude, booking.BasePrice, booking.ExtraWorkAmount,
		booking.TotalPaid, booking.TotalDueAmount, booking.TotalAmount, booking.TotalRefund,
		booking.PortalFeePercent, booking.Status, booking.PaymentStatus, now, now, 1,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		models.JobConfirmed, now, jobID); err != nil {
		return nil, fmt.Errorf("failed to confirm job in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit accept bid: %w", err)
	}
	return booking, nil
}

// ExpireStaleBids expires pending bids whose job passed its scheduled time
// without an acceptance.
func (db *DB) ExpireStaleBids(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE bids SET status = ?, updated_at = ?
              WHERE status = ? AND job_id IN (
                  SELECT id FROM jobs WHERE scheduled_at < ? AND status IN (?, ?, ?)
              )`
	result, err := db.ExecContext(ctx, query,
		models.BidExpired, time.Now(), models.BidPending, cutoff,
		models.JobPending, models.JobOpen, models.JobExpired)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale bids: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
