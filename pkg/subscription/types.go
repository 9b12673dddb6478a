package subscription

// Resource is a countable business resource a plan may limit.
type Resource string

const (
	ResourceStaff        Resource = "staff"
	ResourceLocations    Resource = "locations"
	ResourceServices     Resource = "services"
	ResourceAppointments Resource = "appointments" // per billing period
	ResourceSMS          Resource = "sms"          // per billing period
)

// Unlimited marks a resource without a limit (-1 chosen for SQL compatibility).
const Unlimited int64 = -1

// Feature is a plan-specific capability.
type Feature string

const (
	FeatureOnlineBooking Feature = "online_booking"
	FeatureReminders     Feature = "reminders"
	FeatureAnalytics     Feature = "analytics"
	FeatureCustomDomain  Feature = "custom_domain"
	FeatureAPI           Feature = "api"
)

// Money is an amount in the smallest currency unit, e.g. 94900 USD is $949.00.
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"` // ISO 4217
}

// Interval is the billing frequency of a plan.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

func (i Interval) Valid() bool {
	return i == IntervalMonthly || i == IntervalYearly
}

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusTrial             Status = "trial"
	StatusUnpaid            Status = "unpaid"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusCanceled          Status = "canceled"
)

// Blocking reports whether a subscription in this status prevents the
// business from subscribing again.
func (s Status) Blocking() bool {
	switch s {
	case StatusTrial, StatusActive, StatusPastDue, StatusIncomplete:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusIncompleteExpired
}

// Event drives a status transition.
type Event string

const (
	EventChargeSucceeded  Event = "charge_succeeded"
	EventChargeFailed     Event = "charge_failed"
	EventActionRequired   Event = "action_required"
	EventCancel           Event = "cancel"
	EventExpire           Event = "expire"
	EventRetriesExhausted Event = "retries_exhausted"
)

// Cancellation reasons recorded on the subscription.
const (
	ReasonSuperseded   = "superseded"
	ReasonNonPayment   = "non_payment"
	ReasonTrialExpired = "trial_expired"
	ReasonIncomplete   = "incomplete_expired"
	ReasonPeriodEnd    = "period_end"
	ReasonRequested    = "requested"
)
