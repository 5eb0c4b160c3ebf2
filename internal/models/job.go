package models

import "time"

// Job is a service request posted by a customer. It owns zero-or-many bids
// and at most one booking once a partner is confirmed.
type Job struct {
	ID               int64     `json:"id"`
	CustomerID       int64     `json:"customer_id"`
	ServiceID        int64     `json:"service_id"`
	ServiceName      string    `json:"service_name"`
	Price            int64     `json:"price"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	EstimatedMinutes int64     `json:"estimated_minutes"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Address          string    `json:"address"`
	Status           string    `json:"status"`
	OTP              string    `json:"-"`
	CouponCode       string    `json:"coupon_code,omitempty"`
	DiscountAmount   int64     `json:"discount_amount"`
	Surge            bool      `json:"surge"`
	Emergency        bool      `json:"emergency"`
	FromBanner       bool      `json:"from_banner"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Version          int64     `json:"version"`
}

// Bid is a partner's priced offer on an open job.
type Bid struct {
	ID            int64     `json:"id"`
	JobID         int64     `json:"job_id"`
	CustomerID    int64     `json:"customer_id"`
	PartnerID     int64     `json:"partner_id"`
	Price         int64     `json:"price"`
	FeeAmount     int64     `json:"fee_amount"`
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
	AvailableTime string    `json:"available_time,omitempty"`
	CancelReason  string    `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
