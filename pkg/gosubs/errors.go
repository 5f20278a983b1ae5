package gosubs

import "errors"

var (
	// ErrInvalidPlanKind is returned for an unmapped plan identifier.
	// Unknown plans are rejected, never silently defaulted.
	ErrInvalidPlanKind = errors.New("invalid plan kind")

	// ErrUnknownEventKind is returned when an event carries an unrecognized kind
	ErrUnknownEventKind = errors.New("unknown billing event kind")

	// ErrUnknownStatus is returned when a raw status string maps to no Status
	ErrUnknownStatus = errors.New("unknown subscription status")

	// ErrMissingUserReference is returned when an event carries no resolvable user
	// and the fallback lookup by external customer id fails too
	ErrMissingUserReference = errors.New("missing user reference")

	// ErrSubscriptionNotFound is returned when a user has no subscription on record
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrStaleWrite is returned by stores when a conditional upsert is rejected
	// because it would move the billing period backward
	ErrStaleWrite = errors.New("stale subscription write rejected")

	// ErrStoreUnavailable is returned when the subscription store is unavailable
	ErrStoreUnavailable = errors.New("subscription store unavailable")
)
