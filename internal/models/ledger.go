package models

import "time"

// Transaction is an immutable ledger row. Only PaymentStatus moves after
// insert, and only forwards (see PaymentStatusAdvances); everything else is
// written once. OrderID is the external idempotency key.
type Transaction struct {
	ID            int64     `json:"id"`
	OrderID       string    `json:"order_id"`
	InvoiceNo     string    `json:"invoice_no"`
	ActorType     string    `json:"actor_type"`
	ActorID       int64     `json:"actor_id"`
	Direction     string    `json:"direction"`
	PaymentBy     string    `json:"payment_by"`
	PaymentFor    string    `json:"payment_for"`
	Amount        int64     `json:"amount"`
	Gateway       string    `json:"gateway,omitempty"`
	GatewayRef    string    `json:"gateway_ref,omitempty"`
	PaymentStatus string    `json:"payment_status"`
	JobID         int64     `json:"job_id,omitempty"`
	BookingID     int64     `json:"booking_id,omitempty"`
	ExtraWorkID   int64     `json:"extra_work_id,omitempty"`
	BidID         int64     `json:"bid_id,omitempty"`
	RetryCount    int64     `json:"retry_count"`
	NextRetryAt   time.Time `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WalletEntry is one signed movement on a user's internal balance. The
// balance itself is never stored; it is the aggregate of COMPLETED entries.
type WalletEntry struct {
	ID            int64     `json:"id"`
	UserType      string    `json:"user_type"`
	UserID        int64     `json:"user_id"`
	WalletType    string    `json:"wallet_type"`
	Amount        int64     `json:"amount"`
	OrderID       string    `json:"order_id,omitempty"`
	Gateway       string    `json:"gateway,omitempty"`
	PaymentStatus string    `json:"payment_status"`
	JobID         int64     `json:"job_id,omitempty"`
	BookingID     int64     `json:"booking_id,omitempty"`
	ExtraWorkID   int64     `json:"extra_work_id,omitempty"`
	BidID         int64     `json:"bid_id,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Signed returns the entry amount with direction applied.
func (w *WalletEntry) Signed() int64 {
	if w.WalletType == WalletDeducted {
		return -w.Amount
	}
	return w.Amount
}

// WalletRefs ties a wallet entry back to the records that caused it.
type WalletRefs struct {
	OrderID     string
	JobID       int64
	BookingID   int64
	ExtraWorkID int64
	BidID       int64
	Note        string
}

// Balance is the derived wallet position for one user.
type Balance struct {
	UserType   string    `json:"user_type"`
	UserID     int64     `json:"user_id"`
	Amount     int64     `json:"amount"`
	HoldAmount int64     `json:"hold_amount"`
	ComputedAt time.Time `json:"computed_at"`
}

// Available is what a debit may draw on: completed balance minus held funds.
func (b *Balance) Available() int64 {
	return b.Amount - b.HoldAmount
}
