package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldserve/internal/models"
)

const transactionColumns = `id, order_id, invoice_no, actor_type, actor_id, direction,
       payment_by, payment_for, amount, gateway, gateway_ref, payment_status,
       job_id, booking_id, extra_work_id, bid_id, retry_count, next_retry_at,
       created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	t := &models.Transaction{}
	var nextRetry sql.NullTime
	err := row.Scan(
		&t.ID, &t.OrderID, &t.InvoiceNo, &t.ActorType, &t.ActorID, &t.Direction,
		&t.PaymentBy, &t.PaymentFor, &t.Amount, &t.Gateway, &t.GatewayRef, &t.PaymentStatus,
		&t.JobID, &t.BookingID, &t.ExtraWorkID, &t.BidID, &t.RetryCount, &nextRetry,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if nextRetry.Valid {
		t.NextRetryAt = nextRetry.Time
	}
	return t, nil
}

// UpsertTransaction inserts a ledger row keyed on the external order id.
// A second call with the same order id is a no-op that returns the existing
// row, which is what makes gateway callback replays safe.
func (db *DB) UpsertTransaction(ctx context.Context, txn *models.Transaction) (bool, error) {
	now := time.Now()
	result, err := db.ExecContext(ctx, `INSERT INTO transactions (
				order_id, invoice_no, actor_type, actor_id, direction,
				payment_by, payment_for, amount, gateway, gateway_ref, payment_status,
				job_id, booking_id, extra_work_id, bid_id, retry_count, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(order_id) DO NOTHING`,
		txn.OrderID, txn.InvoiceNo, txn.ActorType, txn.ActorID, txn.Direction,
		txn.PaymentBy, txn.PaymentFor, txn.Amount, txn.Gateway, txn.GatewayRef, txn.PaymentStatus,
		txn.JobID, txn.BookingID, txn.ExtraWorkID, txn.BidID, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert transaction: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		existing, err := db.GetTransactionByOrderID(ctx, txn.OrderID)
		if err != nil {
			return false, err
		}
		*txn = *existing
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	txn.ID = id
	txn.CreatedAt = now
	txn.UpdatedAt = now
	return true, nil
}

func (db *DB) GetTransactionByOrderID(ctx context.Context, orderID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE order_id = ?`
	txn, err := scanTransaction(db.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// UpdateTransactionStatus applies a gateway result to the ledger row and its
// wallet entries. Backwards moves are dropped so a replayed or late callback
// can never demote a settled row.
func (db *DB) UpdateTransactionStatus(ctx context.Context, orderID, status, gatewayRef string) (*models.Transaction, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	txn, err := scanTransaction(tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE order_id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction in tx: %w", err)
	}

	if !models.PaymentStatusAdvances(txn.PaymentStatus, status) {
		// A same-status update may still carry a gateway reference worth keeping.
		if status == txn.PaymentStatus && gatewayRef != "" && gatewayRef != txn.GatewayRef {
			now := time.Now()
			if _, err := tx.ExecContext(ctx,
				`UPDATE transactions SET gateway_ref = ?, updated_at = ? WHERE id = ?`,
				gatewayRef, now, txn.ID); err != nil {
				return nil, fmt.Errorf("failed to update gateway ref in tx: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("failed to commit gateway ref update: %w", err)
			}
			txn.GatewayRef = gatewayRef
			txn.UpdatedAt = now
		}
		return txn, nil
	}

	now := time.Now()
	ref := txn.GatewayRef
	if gatewayRef != "" {
		ref = gatewayRef
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET payment_status = ?, gateway_ref = ?, updated_at = ? WHERE id = ?`,
		status, ref, now, txn.ID); err != nil {
		return nil, fmt.Errorf("failed to update transaction status in tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE wallet_entries SET payment_status = ? WHERE order_id = ?`,
		status, orderID); err != nil {
		return nil, fmt.Errorf("failed to update wallet entries in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}

	txn.PaymentStatus = status
	txn.GatewayRef = ref
	txn.UpdatedAt = now
	return txn, nil
}

func (db *DB) MarkTransactionRetry(ctx context.Context, id int64, nextRetryAt time.Time) error {
	query := `UPDATE transactions SET retry_count = retry_count + 1, next_retry_at = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, nextRetryAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark transaction retry: %w", err)
	}
	return nil
}

// GetPendingTransactions returns gateway-backed rows stuck in a pending state
// whose retry window has come around.
func (db *DB) GetPendingTransactions(ctx context.Context, now time.Time, limit int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions
              WHERE payment_status IN (?, ?, ?)
                AND payment_by = ?
                AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query,
		models.PaymentPending, models.PaymentInProcess, models.PaymentRefundPending,
		models.PaymentByGateway, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (db *DB) GetTransactionsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
              WHERE created_at >= ? AND created_at <= ? ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions by date range: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func insertWalletEntryTx(ctx context.Context, tx *sql.Tx, entry *models.WalletEntry, now time.Time) error {
	result, err := tx.ExecContext(ctx, `INSERT INTO wallet_entries (
				user_type, user_id, wallet_type, amount, order_id, gateway,
				payment_status, job_id, booking_id, extra_work_id, bid_id, note, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.UserType, entry.UserID, entry.WalletType, entry.Amount, entry.OrderID, entry.Gateway,
		entry.PaymentStatus, entry.JobID, entry.BookingID, entry.ExtraWorkID, entry.BidID, entry.Note, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert wallet entry in tx: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	entry.ID = id
	entry.CreatedAt = now
	return nil
}

func availableBalanceTx(ctx context.Context, tx *sql.Tx, userType string, userID int64) (int64, error) {
	var balance, hold int64
	err := tx.QueryRowContext(ctx, `SELECT
				COALESCE(SUM(CASE
					WHEN payment_status = ? AND wallet_type = ? THEN amount
					WHEN payment_status = ? AND wallet_type = ? THEN -amount
					ELSE 0 END), 0),
				COALESCE(SUM(CASE
					WHEN payment_status = ? AND wallet_type = ? THEN amount
					ELSE 0 END), 0)
			FROM wallet_entries WHERE user_type = ? AND user_id = ?`,
		models.PaymentCompleted, models.WalletAdded,
		models.PaymentCompleted, models.WalletDeducted,
		models.PaymentHold, models.WalletDeducted,
		userType, userID,
	).Scan(&balance, &hold)
	if err != nil {
		return 0, fmt.Errorf("failed to compute balance in tx: %w", err)
	}
	return balance - hold, nil
}

// CreateWalletEntry appends a wallet movement. Debits are checked against the
// available balance inside the same transaction so concurrent debits cannot
// overdraw.
func (db *DB) CreateWalletEntry(ctx context.Context, entry *models.WalletEntry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if entry.WalletType == models.WalletDeducted {
		available, err := availableBalanceTx(ctx, tx, entry.UserType, entry.UserID)
		if err != nil {
			return err
		}
		if entry.Amount > available {
			return ErrInsufficientFunds
		}
	}

	if err := insertWalletEntryTx(ctx, tx, entry, time.Now()); err != nil {
		return err
	}

	return tx.Commit()
}

// ComputeBalance derives the wallet position from the ledger. This is the
// source of truth; the redis cache is only a read optimization.
func (db *DB) ComputeBalance(ctx context.Context, userType string, userID int64) (*models.Balance, error) {
	var balance, hold int64
	err := db.QueryRowContext(ctx, `SELECT
				COALESCE(SUM(CASE
					WHEN payment_status = ? AND wallet_type = ? THEN amount
					WHEN payment_status = ? AND wallet_type = ? THEN -amount
					ELSE 0 END), 0),
				COALESCE(SUM(CASE
					WHEN payment_status = ? AND wallet_type = ? THEN amount
					ELSE 0 END), 0)
			FROM wallet_entries WHERE user_type = ? AND user_id = ?`,
		models.PaymentCompleted, models.WalletAdded,
		models.PaymentCompleted, models.WalletDeducted,
		models.PaymentHold, models.WalletDeducted,
		userType, userID,
	).Scan(&balance, &hold)
	if err != nil {
		return nil, fmt.Errorf("failed to compute balance: %w", err)
	}

	return &models.Balance{
		UserType:   userType,
		UserID:     userID,
		Amount:     balance,
		HoldAmount: hold,
		ComputedAt: time.Now(),
	}, nil
}

// ListWalletUsers returns every (user_type, user_id) pair present in the
// ledger, for the reconciliation pass.
func (db *DB) ListWalletUsers(ctx context.Context) ([]*models.Balance, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT user_type, user_id FROM wallet_entries ORDER BY user_type, user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet users: %w", err)
	}
	defer rows.Close()

	var users []*models.Balance
	for rows.Next() {
		u := &models.Balance{}
		if err := rows.Scan(&u.UserType, &u.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan wallet user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetWalletEntriesByBooking returns the ledger movements tied to one booking.
func (db *DB) GetWalletEntriesByBooking(ctx context.Context, bookingID int64) ([]*models.WalletEntry, error) {
	query := `SELECT id, user_type, user_id, wallet_type, amount, order_id, gateway,
                     payment_status, job_id, booking_id, extra_work_id, bid_id, note, created_at
              FROM wallet_entries WHERE booking_id = ? ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.WalletEntry
	for rows.Next() {
		e := &models.WalletEntry{}
		err := rows.Scan(
			&e.ID, &e.UserType, &e.UserID, &e.WalletType, &e.Amount, &e.OrderID, &e.Gateway,
			&e.PaymentStatus, &e.JobID, &e.BookingID, &e.ExtraWorkID, &e.BidID, &e.Note, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
