package gosubs

import "context"

// Store defines the interface for subscription persistence.
// All methods use concrete types from this package to avoid import cycles.
type Store interface {
	// GetActiveSubscription retrieves the authoritative subscription row for
	// a user. Returns ErrSubscriptionNotFound when the user has none.
	GetActiveSubscription(ctx context.Context, userID string) (*Subscription, error)

	// UpsertSubscription atomically writes a subscription, keyed by
	// ExternalSubscriptionID when present, else by UserID. Implementations
	// must enforce the monotonic-advance guard inside the write (conditional
	// update or transaction, not read-then-write): a write whose PeriodEnd
	// precedes the stored PeriodEnd is rejected with ErrStaleWrite, unless
	// the incoming Status is cancelled or expired, which always takes
	// precedence regardless of period ordering.
	//
	// CreatedAt is preserved for existing rows; UpdatedAt is set by the store.
	// Returns the stored row.
	UpsertSubscription(ctx context.Context, sub *Subscription) (*Subscription, error)

	// FindByExternalCustomerID is the fallback lookup used when event
	// metadata lacks a user id. Returns ErrSubscriptionNotFound when no row
	// references the customer.
	FindByExternalCustomerID(ctx context.Context, customerID string) (*Subscription, error)
}
