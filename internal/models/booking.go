package models

import "time"

// Booking is the committed engagement created when a bid is accepted.
// TotalAmount must always equal BasePrice + ExtraWorkAmount - TotalRefund;
// RecomputeTotals is the only place that arithmetic lives.
type Booking struct {
	ID               int64      `json:"id"`
	JobID            int64      `json:"job_id"`
	CustomerID       int64      `json:"customer_id"`
	PartnerID        int64      `json:"partner_id"`
	ServiceID        int64      `json:"service_id"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	PartnerLatitude  float64    `json:"partner_latitude"`
	PartnerLongitude float64    `json:"partner_longitude"`
	BasePrice        int64      `json:"base_price"`
	ExtraWorkAmount  int64      `json:"extra_work_amount"`
	TotalPaid        int64      `json:"total_paid"`
	TotalDueAmount   int64      `json:"total_due_amount"`
	TotalAmount      int64      `json:"total_amount"`
	TotalRefund      int64      `json:"total_refund"`
	PortalFeePercent int64      `json:"portal_fee_percent"`
	Status           string     `json:"status"`
	PaymentStatus    string     `json:"payment_status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Version          int64      `json:"version"`
}

// RecomputeTotals re-derives the dependent financial fields.
func (b *Booking) RecomputeTotals() {
	b.TotalAmount = b.BasePrice + b.ExtraWorkAmount - b.TotalRefund
	b.TotalDueAmount = b.TotalAmount - b.TotalPaid
	if b.TotalDueAmount < 0 {
		b.TotalDueAmount = 0
	}
}

// PartnerNet is the payout after the portal fee.
func (b *Booking) PartnerNet() int64 {
	fee := b.TotalAmount * b.PortalFeePercent / 100
	return b.TotalAmount - fee
}

// PortalFee is the platform's cut of the booking total.
func (b *Booking) PortalFee() int64 {
	return b.TotalAmount * b.PortalFeePercent / 100
}

// ExtraWork is additional billable work added to an active booking.
// ResumeStatus remembers the booking status the item interrupted, so
// confirmation or cancellation releases the payment gate back to it.
type ExtraWork struct {
	ID            int64     `json:"id"`
	BookingID     int64     `json:"booking_id"`
	Title         string    `json:"title"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	OrderID       string    `json:"order_id,omitempty"`
	ResumeStatus  string    `json:"resume_status,omitempty"`
	CancelReason  string    `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
