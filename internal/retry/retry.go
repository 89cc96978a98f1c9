// Package retry classifies delivery outcomes and schedules backoff. The
// policy is a pure function of (outcome, attempt number); no per-delivery
// state is kept outside the task and the audit log.
package retry

import "time"

// MaxRetries is the number of retries after the first attempt, so a
// delivery gets at most MaxRetries+1 attempts in total.
const MaxRetries = 5

// backoffTable holds the wait before each retry, indexed by the zero-based
// retry count and capped at the last entry.
var backoffTable = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
}

// OutcomeKind tags how a delivery attempt ended.
type OutcomeKind int

const (
	// OutcomeSuccess is a 2xx response.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeHTTPError is a non-2xx response.
	OutcomeHTTPError
	// OutcomeNetworkError is a connection error or timeout; no response.
	OutcomeNetworkError
)

// Outcome is the tagged result of one HTTP delivery attempt.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int    // set for Success and HTTPError
	Err        error  // set for NetworkError
	Detail     string // human-readable failure detail for the audit log
}

// Retryable reports whether this outcome may be retried. Both network
// failures and non-2xx responses are retryable.
func (o Outcome) Retryable() bool {
	return o.Kind != OutcomeSuccess
}

// Decision tells the worker what to do after an attempt.
type Decision struct {
	// Retry is true when another attempt should be scheduled.
	Retry bool
	// Delay is how long to wait before the next attempt; zero when done.
	Delay time.Duration
	// Exhausted is true when the failure is terminal because all retries
	// were used up.
	Exhausted bool
}

// Decide maps an attempt outcome to the next step. attempt is the 1-based
// number of the attempt that just completed: attempts 1..MaxRetries schedule
// a retry on failure, attempt MaxRetries+1 exhausts.
func Decide(outcome Outcome, attempt int) Decision {
	if !outcome.Retryable() {
		return Decision{}
	}
	if attempt > MaxRetries {
		return Decision{Exhausted: true}
	}
	return Decision{Retry: true, Delay: Backoff(attempt - 1)}
}

// Backoff returns the delay for the given zero-based retry count, capped at
// the last table entry.
func Backoff(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	if retries >= len(backoffTable) {
		retries = len(backoffTable) - 1
	}
	return backoffTable[retries]
}
