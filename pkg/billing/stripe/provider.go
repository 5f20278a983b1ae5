package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/loyaltyforge/gosubs/pkg/billing"
	"github.com/loyaltyforge/gosubs/pkg/billing/internal"
	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Reconciler, PlanMapping, etc.)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// Performance Hook (Optional)
	// If provided, checkout and sync use this for O(1) customer lookup.
	// If nil, falls back to the slow Stripe Search API.
	CustomerIDResolver func(context.Context, string) (string, error)
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	reconciler         *gosubs.Reconciler
	config             Config
	httpClient         *http.Client
	rateLimiter        *internal.RateLimiter
	planMapping        map[string]gosubs.PlanKind // Price/Product ID -> Plan
	webhookSecret      []byte
	apiKey             string
	stripeClient       *stripe.Client
	customerIDResolver func(context.Context, string) (string, error)
	metrics            billing.Metrics
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Reconciler == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}
	stripeClient := stripe.NewClient(apiKey)

	webhookSecret := []byte(strings.TrimSpace(config.StripeWebhookSecret))

	// Price IDs are matched case-insensitively
	planMapping := make(map[string]gosubs.PlanKind, len(config.PlanMapping))
	for priceID, plan := range config.PlanMapping {
		planMapping[strings.ToLower(strings.TrimSpace(priceID))] = plan
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		reconciler:         config.Reconciler,
		config:             config,
		httpClient:         httpClient,
		rateLimiter:        internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		planMapping:        planMapping,
		webhookSecret:      webhookSecret,
		apiKey:             apiKey,
		stripeClient:       stripeClient,
		customerIDResolver: config.CustomerIDResolver,
		metrics:            metrics,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	return p.rateLimiter.Middleware(handler)
}

// SyncUser synchronizes a user's subscription state from the Stripe API
func (p *Provider) SyncUser(ctx context.Context, userID string) (gosubs.PlanKind, error) {
	return p.syncUserFromAPI(ctx, userID)
}

// MapPriceToPlan maps a Stripe Price ID or Product ID to a gosubs plan
func (p *Provider) MapPriceToPlan(priceID string) (gosubs.PlanKind, bool) {
	plan, ok := p.planMapping[strings.ToLower(strings.TrimSpace(priceID))]
	return plan, ok
}

// getPriceIDForPlan returns the Stripe Price ID for a given plan.
// This is the reverse of MapPriceToPlan.
//
// Note: If multiple Price IDs map to the same plan, this returns the first
// match found; keep the mapping one-to-one in configuration.
func (p *Provider) getPriceIDForPlan(plan gosubs.PlanKind) string {
	for priceID, mapped := range p.planMapping {
		if mapped == plan {
			return priceID
		}
	}
	return ""
}
