package billing

import (
	"context"
	"net/http"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// Provider is the generic interface that any billing backend must implement.
// This allows the application to swap payment processors with zero logic changes.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles validation, parsing, and reconciliation
	// internally.
	WebhookHandler() http.Handler

	// SyncUser forces a synchronization of the user's state from the provider
	// into the subscription store. This is used for "Restore Purchases" or
	// nightly reconciliation jobs. Returns the detected plan and any error.
	SyncUser(ctx context.Context, userID string) (gosubs.PlanKind, error)
}
