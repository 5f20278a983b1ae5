package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/loyaltyforge/gosubs/pkg/billing"
	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// syncUserFromAPI reconciles a user's subscription row against the live
// Stripe state. Used for "Restore Purchases" flows and nightly repair jobs.
func (p *Provider) syncUserFromAPI(ctx context.Context, userID string) (gosubs.PlanKind, error) {
	startTime := time.Now()

	customerID, err := p.resolveCustomerID(ctx, userID)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return "", err
	}

	sub, err := p.bestActiveSubscription(ctx, customerID)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return "", err
	}

	if sub == nil {
		return p.syncCancellation(ctx, userID, startTime)
	}

	event, err := p.eventFromSubscription(sub, gosubs.EventSubscriptionUpdated, time.Now().UTC())
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return "", err
	}

	stored, err := p.reconciler.Reconcile(ctx, userID, event)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return "", fmt.Errorf("failed to reconcile synced subscription: %w", err)
	}

	p.metrics.RecordUserSync(providerName, "success")
	p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
	return stored.Plan, nil
}

// syncCancellation handles the case where Stripe reports no active
// subscription. An active stored row is cancelled; no row at all is left
// alone, since absence already means no entitlement.
func (p *Provider) syncCancellation(ctx context.Context, userID string, startTime time.Time) (gosubs.PlanKind, error) {
	existing, err := p.reconciler.Subscription(ctx, userID)
	if err != nil {
		if errors.Is(err, gosubs.ErrSubscriptionNotFound) {
			p.metrics.RecordUserSync(providerName, "success")
			p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
			return "", nil
		}
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return "", err
	}

	if existing.Status == gosubs.StatusCancelled || existing.Status == gosubs.StatusExpired {
		p.metrics.RecordUserSync(providerName, "success")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return existing.Plan, nil
	}

	event := gosubs.BillingEvent{
		Kind:                   gosubs.EventSubscriptionDeleted,
		ExternalSubscriptionID: existing.ExternalSubscriptionID,
		ExternalCustomerID:     existing.ExternalCustomerID,
		OccurredAt:             time.Now().UTC(),
	}
	stored, err := p.reconciler.Reconcile(ctx, userID, event)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return "", fmt.Errorf("failed to cancel stale subscription: %w", err)
	}

	p.metrics.RecordUserSync(providerName, "success")
	p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
	return stored.Plan, nil
}

// bestActiveSubscription lists the customer's active subscriptions and picks
// the one whose current period ends last
func (p *Provider) bestActiveSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	startTime := time.Now()

	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String(string(stripe.SubscriptionStatusActive))

	var best *stripe.Subscription
	var bestEnd int64

	for sub, err := range p.stripeClient.V1Subscriptions.List(ctx, params) {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/subscriptions/list", "error")
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		if sub.Status != stripe.SubscriptionStatusActive {
			continue
		}
		end := latestPeriodEnd(sub)
		if best == nil || end > bestEnd {
			best = sub
			bestEnd = end
		}
	}

	p.metrics.RecordAPICall(providerName, "/subscriptions/list", "200")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/list", time.Since(startTime))
	return best, nil
}

func latestPeriodEnd(sub *stripe.Subscription) int64 {
	var end int64
	if sub.Items == nil {
		return 0
	}
	for _, item := range sub.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	return end
}

// searchCustomerByMetadata searches for a customer by metadata using Stripe Search API
func (p *Provider) searchCustomerByMetadata(ctx context.Context, userID string) (string, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['user_id']:'%s'", userID)

	for cust, err := range p.stripeClient.V1Customers.Search(ctx, params) {
		if err != nil {
			return "", fmt.Errorf("stripe search error: %w", err)
		}
		// Verify exact match (Search API can return partial matches)
		if cust.Metadata != nil && cust.Metadata["user_id"] == userID {
			return cust.ID, nil
		}
	}

	return "", billing.ErrUserNotFound
}
