package billing

import (
	"context"
	"net/http"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Reconciler is the gosubs Reconciler every processed webhook event is
	// funneled through
	Reconciler *gosubs.Reconciler

	// PlanMapping maps provider price/product IDs to gosubs plans.
	// For example: map[string]gosubs.PlanKind{"price_monthly_123": gosubs.PlanMonthly}
	PlanMapping map[string]gosubs.PlanKind

	// WebhookSecret is used to verify incoming webhook requests
	// (e.g. the Stripe-Signature header).
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider (e.g. SyncUser).
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	// Allows custom timeouts, proxies, or instrumentation.
	HTTPClient *http.Client

	// WebhookCallback, when set, is invoked after an event has been
	// reconciled successfully. A callback error fails the webhook so the
	// provider redelivers.
	WebhookCallback func(ctx context.Context, event WebhookEvent) error

	// Metrics is an optional metrics collector for tracking billing provider
	// operations. If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics
}
