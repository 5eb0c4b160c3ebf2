package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldserve/internal/models"
)

const jobColumns = `id, customer_id, service_id, service_name, price, scheduled_at,
       estimated_minutes, latitude, longitude, address, status, otp,
       coupon_code, discount_amount, surge, emergency, from_banner,
       created_at, updated_at, version`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	j := &models.Job{}
	err := row.Scan(
		&j.ID, &j.CustomerID, &j.ServiceID, &j.ServiceName, &j.Price, &j.ScheduledAt,
		&j.EstimatedMinutes, &j.Latitude, &j.Longitude, &j.Address, &j.Status, &j.OTP,
		&j.CouponCode, &j.DiscountAmount, &j.Surge, &j.Emergency, &j.FromBanner,
		&j.CreatedAt, &j.UpdatedAt, &j.Version,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	query := `INSERT INTO jobs (
				customer_id, service_id, service_name, price, scheduled_at,
				estimated_minutes, latitude, longitude, address, status, otp,
				coupon_code, discount_amount, surge, emergency, from_banner,
				created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		job.CustomerID, job.ServiceID, job.ServiceName, job.Price, job.ScheduledAt,
		job.EstimatedMinutes, job.Latitude, job.Longitude, job.Address, job.Status, job.OTP,
		job.CouponCode, job.DiscountAmount, job.Surge, job.Emergency, job.FromBanner,
		now, now, 1,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Version = 1
	return nil
}

func (db *DB) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (db *DB) UpdateJobStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE jobs SET status = ?, version = version + 1, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateJobStatusFrom changes the status only when the job is currently in
// one of the expected states. Returns ErrConflict otherwise.
func (db *DB) UpdateJobStatusFrom(ctx context.Context, id int64, from []string, to string) error {
	if len(from) == 0 {
		return db.UpdateJobStatus(ctx, id, to)
	}

	placeholders := ""
	args := []any{to, time.Now(), id}
	for i, s := range from {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, s)
	}

	query := `UPDATE jobs SET status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND status IN (` + placeholders + `)`
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

func (db *DB) ListJobsByStatus(ctx context.Context, status string, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY scheduled_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ExpireStaleJobs marks jobs still waiting for a partner past their scheduled
// time as expired and returns how many were affected.
func (db *DB) ExpireStaleJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE jobs SET status = ?, version = version + 1, updated_at = ?
              WHERE status IN (?, ?) AND scheduled_at < ?`
	result, err := db.ExecContext(ctx, query,
		models.JobExpired, time.Now(), models.JobPending, models.JobOpen, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale jobs: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
