package models

// Job statuses.
const (
	JobPending             = "pending"
	JobOpen                = "open"
	JobConfirmationPending = "confirmation_pending"
	JobConfirmed           = "confirmed"
	JobOnTheWay            = "on_the_way"
	JobArrived             = "arrived"
	JobPaused              = "paused"
	JobAwaitingMaterial    = "awaiting_material"
	JobAwaitingPayment     = "awaiting_payment"
	JobInProgress          = "in_progress"
	JobCompleted           = "completed"
	JobCancelled           = "cancelled"
	JobExpired             = "expired"
)

// Bid statuses.
const (
	BidPending   = "pending"
	BidAccepted  = "accepted"
	BidDeclined  = "declined"
	BidCancelled = "cancelled"
	BidExpired   = "expired"
)

// Booking statuses mirror the post-confirmation subset of job statuses.
const (
	BookingConfirmed        = JobConfirmed
	BookingOnTheWay         = JobOnTheWay
	BookingArrived          = JobArrived
	BookingInProgress       = JobInProgress
	BookingPaused           = JobPaused
	BookingAwaitingMaterial = JobAwaitingMaterial
	BookingAwaitingPayment  = JobAwaitingPayment
	BookingCompleted        = JobCompleted
	BookingCancelled        = JobCancelled
)

// Extra work statuses.
const (
	ExtraWorkPending   = "pending"
	ExtraWorkConfirmed = "confirmed"
	ExtraWorkCancelled = "cancelled"
)

// Payment statuses. The mixed casing follows the gateway vocabulary the
// callbacks deliver, refund states are lowercase on the wire.
const (
	PaymentPending        = "PENDING"
	PaymentInProcess      = "PAYMENT_IN_PROCESS"
	PaymentCompleted      = "COMPLETED"
	PaymentFailed         = "FAILED"
	PaymentHold           = "HOLD"
	PaymentRefundPending  = "refund_pending"
	PaymentRefunded       = "refunded"
	PaymentRefundFailed   = "refund_failed"
	PaymentRefundToWallet = "REFUND_TO_WALLET"
	PaymentCancelled      = "cancelled"
)

// Transaction direction.
const (
	DirectionDebited  = "debited"
	DirectionCredited = "credited"
)

// Wallet entry types.
const (
	WalletAdded    = "added"
	WalletDeducted = "deducted"
)

// Actor / user types.
const (
	ActorAdmin    = "admin"
	ActorCustomer = "customer"
	ActorPartner  = "partner"
)

// Transaction purposes (payment_for).
const (
	PayForBooking      = "booking"
	PayForExtraWork    = "extra_work"
	PayForBidFee       = "bid_fee"
	PayForBidFeeRefund = "bid_fee_refund"
	PayForRefund       = "refund"
	PayForWalletTopup  = "wallet"
)

// Payment channels (payment_by).
const (
	PaymentByGateway = "gateway"
	PaymentByWallet  = "wallet"
)

const (
	// OTPLength is the number of digits in the job start code.
	OTPLength = 6

	// DefaultPortalFeePercent is applied when config leaves it unset.
	DefaultPortalFeePercent = 10
)
