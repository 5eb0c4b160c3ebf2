package domain

import (
	"context"
	"time"

	"fieldserve/internal/models"
)

type JobRepository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id int64, status string) error
	UpdateJobStatusFrom(ctx context.Context, id int64, from []string, to string) error
	ListJobsByStatus(ctx context.Context, status string, limit int) ([]*models.Job, error)
	ExpireStaleJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

type BidRepository interface {
	GetBid(ctx context.Context, id int64) (*models.Bid, error)
	GetBidsByJob(ctx context.Context, jobID int64) ([]*models.Bid, error)
	CreateBidWithFee(ctx context.Context, bid *models.Bid, fee *models.WalletEntry) error
	UpdateBidStatus(ctx context.Context, id int64, status, reason string) error
	CancelBidWithRefund(ctx context.Context, bidID int64, reason string, refund *models.WalletEntry) error
	AcceptBid(ctx context.Context, jobID, bidID int64, partnerLat, partnerLng float64, portalFeePercent int64) (*models.Booking, error)
	ExpireStaleBids(ctx context.Context, cutoff time.Time) (int64, error)
}

type BookingRepository interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByJob(ctx context.Context, jobID int64) (*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status, jobStatus string) error
	UpdateBookingPaymentStatus(ctx context.Context, id int64, paymentStatus string) error
	SettleBooking(ctx context.Context, booking *models.Booking, customerTxn *models.Transaction, partnerCredit *models.WalletEntry) error
	CancelBookingWithRefund(ctx context.Context, booking *models.Booking, refundAmount int64, refundTxn *models.Transaction) error
	RecordBookingPayment(ctx context.Context, id, amount int64) error
	GetExtraWork(ctx context.Context, id int64) (*models.ExtraWork, error)
	GetExtraWorkByBooking(ctx context.Context, bookingID int64) ([]*models.ExtraWork, error)
	CreateExtraWork(ctx context.Context, work *models.ExtraWork, fromStatuses []string) error
	ConfirmExtraWork(ctx context.Context, workID int64) (*models.ExtraWork, *models.Booking, error)
	CancelExtraWork(ctx context.Context, workID int64, reason string) error
}

type LedgerRepository interface {
	UpsertTransaction(ctx context.Context, txn *models.Transaction) (bool, error)
	GetTransactionByOrderID(ctx context.Context, orderID string) (*models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, orderID, status, gatewayRef string) (*models.Transaction, error)
	MarkTransactionRetry(ctx context.Context, id int64, nextRetryAt time.Time) error
	GetPendingTransactions(ctx context.Context, now time.Time, limit int) ([]*models.Transaction, error)
	GetTransactionsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Transaction, error)
	CreateWalletEntry(ctx context.Context, entry *models.WalletEntry) error
	ComputeBalance(ctx context.Context, userType string, userID int64) (*models.Balance, error)
	ListWalletUsers(ctx context.Context) ([]*models.Balance, error)
	GetWalletEntriesByBooking(ctx context.Context, bookingID int64) ([]*models.WalletEntry, error)
}

// Repository is the full persistence surface; *database.DB implements it.
type Repository interface {
	JobRepository
	BidRepository
	BookingRepository
	LedgerRepository
}

// BalanceCache is the wallet_amount read optimization. It may be stale; the
// ledger aggregate is authoritative and the reconciler rewrites entries.
type BalanceCache interface {
	GetBalance(ctx context.Context, userType string, userID int64) (*models.Balance, error)
	SetBalance(ctx context.Context, balance *models.Balance) error
	Invalidate(ctx context.Context, userType string, userID int64) error
}

// GatewayPayment is the result of a payment initiation.
type GatewayPayment struct {
	OrderID     string
	GatewayRef  string
	RedirectURL string
	Amount      int64
}

// PaymentGateway abstracts the external payment provider. VerifyStatus
// returns one of the models payment statuses.
type PaymentGateway interface {
	InitiatePayment(ctx context.Context, orderID string, amount int64, description string) (*GatewayPayment, error)
	VerifyStatus(ctx context.Context, orderID string) (string, error)
	Refund(ctx context.Context, orderID string, amount int64) (string, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
