package billing

import (
	"time"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// WebhookEvent contains information about a successful webhook processing
// event. This event is passed to the WebhookCallback after the subscription
// row has been reconciled.
type WebhookEvent struct {
	// UserID is the internal user identifier
	UserID string

	// PreviousPlan is the plan before the event landed (empty for new users)
	PreviousPlan gosubs.PlanKind

	// NewPlan is the plan after reconciliation
	NewPlan gosubs.PlanKind

	// Status is the subscription status after reconciliation
	Status gosubs.Status

	// Provider is the billing provider name ("stripe")
	Provider string

	// EventType is the provider-specific event type, e.g.
	// "customer.subscription.created" or "invoice.payment_succeeded"
	EventType string

	// EventTimestamp is when the event occurred (from provider)
	EventTimestamp time.Time

	// PeriodEnd is when the reconciled billing period ends
	PeriodEnd time.Time
}
