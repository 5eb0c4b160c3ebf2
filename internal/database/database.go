package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrConflict               = errors.New("state conflict")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicateBid           = errors.New("partner already has a pending bid on this job")
	ErrInsufficientFunds      = errors.New("insufficient wallet funds")
	ErrJobNotOpen             = errors.New("job is not open for bids")
)

type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout keeps concurrent writers queued instead of failing fast.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: read-then-write transactions cannot deadlock on a
	// lock upgrade when writers never share the file.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            customer_id INTEGER NOT NULL,
            service_id INTEGER NOT NULL,
            service_name TEXT NOT NULL,
            price INTEGER NOT NULL,
            scheduled_at DATETIME NOT NULL,
            estimated_minutes INTEGER NOT NULL DEFAULT 0,
            latitude REAL NOT NULL,
            longitude REAL NOT NULL,
            address TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            otp TEXT NOT NULL DEFAULT '',
            coupon_code TEXT NOT NULL DEFAULT '',
            discount_amount INTEGER NOT NULL DEFAULT 0,
            surge BOOLEAN NOT NULL DEFAULT 0,
            emergency BOOLEAN NOT NULL DEFAULT 0,
            from_banner BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS bids (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id INTEGER NOT NULL,
            customer_id INTEGER NOT NULL,
            partner_id INTEGER NOT NULL,
            price INTEGER NOT NULL,
            fee_amount INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'pending',
            message TEXT NOT NULL DEFAULT '',
            available_time TEXT NOT NULL DEFAULT '',
            cancel_reason TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id INTEGER NOT NULL UNIQUE,
            customer_id INTEGER NOT NULL,
            partner_id INTEGER NOT NULL,
            service_id INTEGER NOT NULL,
            scheduled_at DATETIME NOT NULL,
            started_at DATETIME,
            ended_at DATETIME,
            partner_latitude REAL NOT NULL DEFAULT 0,
            partner_longitude REAL NOT NULL DEFAULT 0,
            base_price INTEGER NOT NULL,
            extra_work_amount INTEGER NOT NULL DEFAULT 0,
            total_paid INTEGER NOT NULL DEFAULT 0,
            total_due_amount INTEGER NOT NULL DEFAULT 0,
            total_amount INTEGER NOT NULL DEFAULT 0,
            total_refund INTEGER NOT NULL DEFAULT 0,
            portal_fee_percent INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'confirmed',
            payment_status TEXT NOT NULL DEFAULT 'PENDING',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS extra_work (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL,
            title TEXT NOT NULL,
            amount INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            payment_status TEXT NOT NULL DEFAULT 'PENDING',
            order_id TEXT NOT NULL DEFAULT '',
            resume_status TEXT NOT NULL DEFAULT '',
            cancel_reason TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS transactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            order_id TEXT NOT NULL UNIQUE,
            invoice_no TEXT NOT NULL,
            actor_type TEXT NOT NULL,
            actor_id INTEGER NOT NULL,
            direction TEXT NOT NULL,
            payment_by TEXT NOT NULL,
            payment_for TEXT NOT NULL,
            amount INTEGER NOT NULL,
            gateway TEXT NOT NULL DEFAULT '',
            gateway_ref TEXT NOT NULL DEFAULT '',
            payment_status TEXT NOT NULL DEFAULT 'PENDING',
            job_id INTEGER NOT NULL DEFAULT 0,
            booking_id INTEGER NOT NULL DEFAULT 0,
            extra_work_id INTEGER NOT NULL DEFAULT 0,
            bid_id INTEGER NOT NULL DEFAULT 0,
            retry_count INTEGER NOT NULL DEFAULT 0,
            next_retry_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS wallet_entries (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_type TEXT NOT NULL,
            user_id INTEGER NOT NULL,
            wallet_type TEXT NOT NULL,
            amount INTEGER NOT NULL,
            order_id TEXT NOT NULL DEFAULT '',
            gateway TEXT NOT NULL DEFAULT '',
            payment_status TEXT NOT NULL DEFAULT 'PENDING',
            job_id INTEGER NOT NULL DEFAULT 0,
            booking_id INTEGER NOT NULL DEFAULT 0,
            extra_work_id INTEGER NOT NULL DEFAULT 0,
            bid_id INTEGER NOT NULL DEFAULT 0,
            note TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_customer ON jobs(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_scheduled ON jobs(scheduled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bids_job ON bids(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bids_partner ON bids(partner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bids_status ON bids(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_partner ON bookings(partner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_extra_work_booking ON extra_work(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(payment_status)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_booking ON transactions(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_user ON wallet_entries(user_type, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_order ON wallet_entries(order_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
