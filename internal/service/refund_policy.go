package service

import "fieldserve/internal/models"

// RefundPolicy decides how much of the collected money goes back to the
// customer when a booking is cancelled.
type RefundPolicy interface {
	RefundAmount(booking *models.Booking) int64
}

// ProportionalRefundPolicy refunds everything collected while the work has
// not started. Once the partner is on site and working, half of the base
// price portion is retained as compensation; confirmed extra work is billed
// for work already done and is never refunded.
type ProportionalRefundPolicy struct{}

func (ProportionalRefundPolicy) RefundAmount(b *models.Booking) int64 {
	if b.TotalPaid <= 0 {
		return 0
	}
	if b.StartedAt == nil {
		return b.TotalPaid
	}
	base := b.TotalPaid - b.ExtraWorkAmount
	if base < 0 {
		base = 0
	}
	return base / 2
}
