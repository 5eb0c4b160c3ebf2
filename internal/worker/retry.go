package worker

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy shapes the backoff between gateway reconciliation attempts for
// a stuck transaction. Jitter is the fraction of the computed delay added at
// random so a batch of rows that failed together does not retry in lockstep.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
}

// Exhausted reports whether the attempt is past the retry budget.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= r.MaxRetries
}

// NextDelay returns the backoff before the given attempt (1-based),
// exponential in BackoffFactor and clamped to MaxDelay after jitter.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if d <= 0 {
		d = initial
	}
	if r.Jitter > 0 {
		d += time.Duration(rand.Float64() * r.Jitter * float64(d))
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	return d
}

// NextRetryAt is the wall-clock moment the attempt should run.
func (r RetryPolicy) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.Add(r.NextDelay(attempt))
}
