package gosubs

import (
	"time"
)

// PlanKind identifies a billing plan
type PlanKind string

const (
	// PlanTrial is the 30-day trial plan (literal day count, not calendar-relative)
	PlanTrial PlanKind = "trial"
	// PlanMonthly renews every calendar month
	PlanMonthly PlanKind = "monthly"
	// PlanSemiannual renews every six calendar months
	PlanSemiannual PlanKind = "semiannual"
	// PlanAnnual renews every calendar year
	PlanAnnual PlanKind = "annual"
)

// Status is the lifecycle state of a subscription
type Status string

const (
	// StatusActive means the subscription is paid up and current
	StatusActive Status = "active"
	// StatusExpired means the paid period has lapsed without renewal
	StatusExpired Status = "expired"
	// StatusCancelled means the subscription was cancelled by the user or processor
	StatusCancelled Status = "cancelled"
	// StatusPastDue means the latest renewal payment failed
	StatusPastDue Status = "past_due"
)

// ParseStatus maps a raw status string to a Status. It accepts both the
// "canceled" and "cancelled" spellings, which differ between processors.
func ParseStatus(raw string) (Status, error) {
	switch raw {
	case "active":
		return StatusActive, nil
	case "expired":
		return StatusExpired, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	case "past_due":
		return StatusPastDue, nil
	default:
		return "", ErrUnknownStatus
	}
}

// EventKind identifies the type of an inbound billing event
type EventKind string

const (
	// EventCheckoutCompleted is emitted when a checkout flow finishes successfully
	EventCheckoutCompleted EventKind = "checkout_completed"
	// EventPaymentSucceeded is emitted when a renewal payment clears
	EventPaymentSucceeded EventKind = "payment_succeeded"
	// EventPaymentFailed is emitted when a renewal payment is declined
	EventPaymentFailed EventKind = "payment_failed"
	// EventSubscriptionCreated is emitted when the processor opens a subscription
	EventSubscriptionCreated EventKind = "subscription_created"
	// EventSubscriptionUpdated is emitted when the processor mutates a subscription
	EventSubscriptionUpdated EventKind = "subscription_updated"
	// EventSubscriptionDeleted is emitted when the processor closes a subscription
	EventSubscriptionDeleted EventKind = "subscription_deleted"
)

// Subscription is the authoritative billing record for a user.
// Exactly one row is authoritative per user; rows are never deleted,
// cancellation and expiry are status transitions.
type Subscription struct {
	// ID is the store-assigned identifier
	ID string

	// UserID is the owning user
	UserID string

	// Plan is the plan the current period was billed under
	Plan PlanKind

	// Status is the lifecycle state
	Status Status

	// ExternalSubscriptionID is the payment-processor subscription reference.
	// Empty for one-time, non-recurring payments.
	ExternalSubscriptionID string

	// ExternalCustomerID is the payment-processor customer reference
	ExternalCustomerID string

	// PeriodStart is the inclusive start of the currently paid interval
	PeriodStart time.Time

	// PeriodEnd is the exclusive end of the currently paid interval.
	// Always derived from PeriodStart and Plan, or taken verbatim from
	// processor-supplied bounds. Never supplied directly by an untrusted event.
	PeriodEnd time.Time

	// CreatedAt and UpdatedAt are set by the store
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BillingEvent is an inbound notification from the payment processor or a
// direct user action. Events may arrive out of order, duplicated, and with
// partially-missing metadata.
type BillingEvent struct {
	// Kind is the event type
	Kind EventKind

	// Plan is the plan identifier attached to the event. Required for kinds
	// that logically imply a plan (checkout, subscription created/updated);
	// otherwise it may be empty and the stored plan is used.
	Plan PlanKind

	// Status overrides the status implied by Kind when non-empty.
	// Only honored for subscription_created/updated events.
	Status Status

	// ExternalSubscriptionID is the processor's subscription reference
	ExternalSubscriptionID string

	// ExternalCustomerID is the processor's customer reference, used as a
	// fallback lookup key when the user id is missing
	ExternalCustomerID string

	// PeriodStart and PeriodEnd are processor-supplied period bounds.
	// When both are present they are authoritative and bypass the period
	// calculator. When absent, PeriodStart defaults to OccurredAt (or to
	// now when OccurredAt is zero) and PeriodEnd is computed from the plan.
	PeriodStart *time.Time
	PeriodEnd   *time.Time

	// OccurredAt is when the event happened at the processor
	OccurredAt time.Time
}

// FeatureSet is the entitlement bundle attached to a plan
type FeatureSet struct {
	// MaxCustomers and MaxBranches are -1 when unlimited
	MaxCustomers int
	MaxBranches  int

	AdvancedAnalytics bool
	PrioritySupport   bool
	CustomBranding    bool
	APIAccess         bool
}

// AccessDecision is the result of evaluating a user's entitlement
type AccessDecision struct {
	HasAccess     bool
	Features      FeatureSet
	DaysRemaining int
}

// CalendarInterval is a billing-period length. Monthly, semiannual and annual
// plans use calendar units so that month-length irregularities and leap years
// are handled by calendar arithmetic; only the trial plan uses a literal day
// count.
type CalendarInterval struct {
	Days   int
	Months int
	Years  int
}

// Config holds reconciler configuration
type Config struct {
	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking reconciliation operations (default: NoopMetrics)
	Metrics Metrics

	// Now returns the current time (default: time.Now).
	// Injectable for deterministic tests.
	Now func() time.Time

	// FailClosed flips the access-evaluation policy on store failure.
	// The default (false) fails open: an unreachable store is treated as
	// "no subscription" and the new-user grace decision is returned, so a
	// store outage never locks out paying users. This is a deliberate,
	// documented product policy; set FailClosed to deny access instead.
	FailClosed bool
}
