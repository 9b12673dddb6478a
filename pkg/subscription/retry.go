package subscription

import "time"

// RetryPolicy bounds payment retries of a past-due subscription.
type RetryPolicy struct {
	MaxRetries int
	// ScheduleDays maps the failed payment count to the days to wait after the
	// last failure; counts past the end use the last entry.
	ScheduleDays []int
}

// DefaultRetryPolicy retries five times over about three weeks.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, ScheduleDays: []int{0, 1, 3, 7, 14}}
}

// Delay returns the wait after the failure that brought the count to failed.
func (p RetryPolicy) Delay(failed int) time.Duration {
	if len(p.ScheduleDays) == 0 {
		return 0
	}
	idx := min(max(failed, 0), len(p.ScheduleDays)-1)
	return time.Duration(p.ScheduleDays[idx]) * 24 * time.Hour
}

// NextRetry returns when the next attempt is due.
func (p RetryPolicy) NextRetry(lastFailure time.Time, failed int) time.Time {
	return lastFailure.Add(p.Delay(failed))
}

// Exhausted reports whether failed has reached the retry bound.
func (p RetryPolicy) Exhausted(failed int) bool {
	return failed >= p.MaxRetries
}
