package models

import "fmt"

// InvalidTransitionError reports a status change that the transition table
// does not allow.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
}

// jobTransitions is the single source of truth for legal job status changes.
// Every mutator goes through ValidateJobTransition; there is no per-handler
// status checking anywhere else.
var jobTransitions = map[string][]string{
	JobPending:             {JobOpen, JobCancelled, JobExpired},
	JobOpen:                {JobConfirmationPending, JobCancelled, JobExpired},
	JobConfirmationPending: {JobConfirmed, JobCancelled},
	JobConfirmed:           {JobOnTheWay, JobCancelled},
	JobOnTheWay:            {JobArrived, JobCancelled},
	JobArrived:             {JobInProgress, JobCancelled},
	JobInProgress:          {JobPaused, JobAwaitingMaterial, JobAwaitingPayment, JobCompleted, JobCancelled},
	JobPaused:              {JobInProgress, JobAwaitingPayment, JobCancelled},
	JobAwaitingMaterial:    {JobInProgress, JobAwaitingPayment, JobCancelled},
	JobAwaitingPayment:     {JobInProgress, JobPaused, JobAwaitingMaterial, JobCompleted, JobCancelled},
}

// bookingTransitions covers the post-confirmation lifecycle.
var bookingTransitions = map[string][]string{
	BookingConfirmed:        {BookingOnTheWay, BookingCancelled},
	BookingOnTheWay:         {BookingArrived, BookingCancelled},
	BookingArrived:          {BookingInProgress, BookingCancelled},
	BookingInProgress:       {BookingPaused, BookingAwaitingMaterial, BookingAwaitingPayment, BookingCompleted, BookingCancelled},
	BookingPaused:           {BookingInProgress, BookingAwaitingPayment, BookingCancelled},
	BookingAwaitingMaterial: {BookingInProgress, BookingAwaitingPayment, BookingCancelled},
	BookingAwaitingPayment:  {BookingInProgress, BookingPaused, BookingAwaitingMaterial, BookingCompleted, BookingCancelled},
}

// bidTransitions: pending is the only live state, everything else is terminal.
var bidTransitions = map[string][]string{
	BidPending: {BidAccepted, BidDeclined, BidCancelled, BidExpired},
}

func canTransition(table map[string][]string, from, to string) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ValidateJobTransition(from, to string) error {
	if !canTransition(jobTransitions, from, to) {
		return &InvalidTransitionError{Entity: "job", From: from, To: to}
	}
	return nil
}

func ValidateBookingTransition(from, to string) error {
	if !canTransition(bookingTransitions, from, to) {
		return &InvalidTransitionError{Entity: "booking", From: from, To: to}
	}
	return nil
}

func ValidateBidTransition(from, to string) error {
	if !canTransition(bidTransitions, from, to) {
		return &InvalidTransitionError{Entity: "bid", From: from, To: to}
	}
	return nil
}

// IsTerminalJobStatus reports whether a job can never change again.
func IsTerminalJobStatus(status string) bool {
	return status == JobCompleted || status == JobCancelled || status == JobExpired
}

// IsTerminalBidStatus reports whether a bid is out of play.
func IsTerminalBidStatus(status string) bool {
	return status != BidPending
}

// paymentStatusRank orders payment statuses so that callback replays can
// never move a transaction backwards. Equal or lower rank updates are no-ops.
var paymentStatusRank = map[string]int{
	PaymentPending:        0,
	PaymentInProcess:      1,
	PaymentHold:           2,
	PaymentFailed:         3,
	PaymentCancelled:      3,
	PaymentCompleted:      4,
	PaymentRefundPending:  5,
	PaymentRefundFailed:   6,
	PaymentRefundToWallet: 7,
	PaymentRefunded:       7,
}

// PaymentStatusAdvances reports whether moving from the current status to the
// proposed one is forward progress.
func PaymentStatusAdvances(current, proposed string) bool {
	cr, ok := paymentStatusRank[current]
	if !ok {
		return true
	}
	pr, ok := paymentStatusRank[proposed]
	if !ok {
		return false
	}
	return pr > cr
}
