package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/loyaltyforge/gosubs/pkg/billing"
	"github.com/loyaltyforge/gosubs/pkg/billing/internal"
	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

const maxWebhookBodyBytes = 256 * 1024

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if err := p.processWebhookEvent(r.Context(), &event); err != nil {
		// A 500 makes Stripe redeliver, which is how out-of-order events
		// (e.g. a deletion arriving before the create) eventually settle.
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// processWebhookEvent maps a Stripe event to a billing event and reconciles it
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) error {
	occurredAt := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case "checkout.session.completed":
		return p.handleCheckoutSessionCompleted(ctx, event, occurredAt)
	case "customer.subscription.created":
		return p.handleSubscriptionEvent(ctx, event, gosubs.EventSubscriptionCreated, occurredAt)
	case "customer.subscription.updated":
		return p.handleSubscriptionEvent(ctx, event, gosubs.EventSubscriptionUpdated, occurredAt)
	case "customer.subscription.deleted":
		return p.handleSubscriptionEvent(ctx, event, gosubs.EventSubscriptionDeleted, occurredAt)
	case "invoice.payment_succeeded":
		return p.handleInvoiceEvent(ctx, event, gosubs.EventPaymentSucceeded, occurredAt)
	case "invoice.payment_failed":
		return p.handleInvoiceEvent(ctx, event, gosubs.EventPaymentFailed, occurredAt)
	default:
		// Unknown event type - ignore silently
		return nil
	}
}

// handleCheckoutSessionCompleted processes checkout.session.completed events.
// The session metadata carries the internal user id; the subscription metadata
// is patched with it so later webhook events can be attributed without a
// customer lookup.
func (p *Provider) handleCheckoutSessionCompleted(
	ctx context.Context, event *stripe.Event, occurredAt time.Time,
) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	userID := ""
	if session.Metadata != nil {
		userID = session.Metadata["user_id"]
	}
	if userID == "" {
		userID = session.ClientReferenceID
	}
	if userID == "" {
		return fmt.Errorf("metadata.user_id missing on checkout session %s", session.ID)
	}

	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}
	if subscriptionID == "" {
		// Not a subscription checkout - ignore
		return nil
	}

	sub, err := p.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	if sub.Metadata == nil || sub.Metadata["user_id"] == "" {
		params := &stripe.SubscriptionUpdateParams{}
		params.AddMetadata("user_id", userID)
		sub, err = p.stripeClient.V1Subscriptions.Update(ctx, subscriptionID, params)
		if err != nil {
			return fmt.Errorf("failed to patch subscription metadata: %w", err)
		}
	}

	billingEvent, err := p.eventFromSubscription(sub, gosubs.EventCheckoutCompleted, occurredAt)
	if err != nil {
		return err
	}

	return p.reconcile(ctx, userID, string(event.Type), billingEvent)
}

// handleSubscriptionEvent processes customer.subscription.* events
func (p *Provider) handleSubscriptionEvent(
	ctx context.Context, event *stripe.Event, kind gosubs.EventKind, occurredAt time.Time,
) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	// The user id may be absent: the reconciler falls back to the customer id
	userID := p.extractUserIDFromSubscription(ctx, &sub)

	billingEvent, err := p.eventFromSubscription(&sub, kind, occurredAt)
	if err != nil {
		return err
	}

	return p.reconcile(ctx, userID, string(event.Type), billingEvent)
}

// handleInvoiceEvent processes invoice.payment_succeeded and
// invoice.payment_failed events
func (p *Provider) handleInvoiceEvent(
	ctx context.Context, event *stripe.Event, kind gosubs.EventKind, occurredAt time.Time,
) error {
	subscriptionID, customerID := invoiceReferences(event.Data.Raw)
	if subscriptionID == "" {
		// Not a subscription invoice - ignore
		return nil
	}

	if kind == gosubs.EventPaymentFailed {
		// Failed payments carry no fresh period bounds; this is a pure status
		// transition and needs no Stripe API round trip.
		billingEvent := gosubs.BillingEvent{
			Kind:                   kind,
			ExternalSubscriptionID: subscriptionID,
			ExternalCustomerID:     customerID,
			OccurredAt:             occurredAt,
		}
		return p.reconcile(ctx, "", string(event.Type), billingEvent)
	}

	sub, err := p.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	userID := p.extractUserIDFromSubscription(ctx, sub)

	billingEvent, err := p.eventFromSubscription(sub, kind, occurredAt)
	if err != nil {
		return err
	}

	return p.reconcile(ctx, userID, string(event.Type), billingEvent)
}

// reconcile funnels the mapped event through the reconciler and invokes the
// configured callback on success
func (p *Provider) reconcile(
	ctx context.Context, userID, eventType string, event gosubs.BillingEvent,
) error {
	previousPlan := gosubs.PlanKind("")
	if p.config.WebhookCallback != nil && userID != "" {
		if previous, err := p.reconciler.Subscription(ctx, userID); err == nil {
			previousPlan = previous.Plan
		}
	}

	stored, err := p.reconciler.Reconcile(ctx, userID, event)
	if err != nil {
		return err
	}

	if p.config.WebhookCallback != nil {
		return p.config.WebhookCallback(ctx, billing.WebhookEvent{
			UserID:         stored.UserID,
			PreviousPlan:   previousPlan,
			NewPlan:        stored.Plan,
			Status:         stored.Status,
			Provider:       providerName,
			EventType:      eventType,
			EventTimestamp: event.OccurredAt,
			PeriodEnd:      stored.PeriodEnd,
		})
	}
	return nil
}

// eventFromSubscription builds a billing event from a Stripe subscription.
// The plan comes from the first subscription item with a mapped price; the
// period bounds come from that item, where current_period_start/end live in
// recent API versions.
func (p *Provider) eventFromSubscription(
	sub *stripe.Subscription, kind gosubs.EventKind, occurredAt time.Time,
) (gosubs.BillingEvent, error) {
	event := gosubs.BillingEvent{
		Kind:                   kind,
		Status:                 mapSubscriptionStatus(sub.Status),
		ExternalSubscriptionID: sub.ID,
		OccurredAt:             occurredAt,
	}
	if sub.Customer != nil {
		event.ExternalCustomerID = sub.Customer.ID
	}

	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			plan, ok := p.MapPriceToPlan(item.Price.ID)
			if !ok {
				continue
			}
			event.Plan = plan
			if item.CurrentPeriodStart > 0 {
				start := time.Unix(item.CurrentPeriodStart, 0).UTC()
				event.PeriodStart = &start
			}
			if item.CurrentPeriodEnd > 0 {
				end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
				event.PeriodEnd = &end
			}
			break
		}
	}

	if event.Plan == "" && eventRequiresPlan(kind) {
		return gosubs.BillingEvent{}, fmt.Errorf("%w: subscription %s has no mapped price",
			billing.ErrPlanNotConfigured, sub.ID)
	}

	return event, nil
}

func eventRequiresPlan(kind gosubs.EventKind) bool {
	switch kind {
	case gosubs.EventCheckoutCompleted, gosubs.EventSubscriptionCreated, gosubs.EventSubscriptionUpdated:
		return true
	default:
		return false
	}
}

// mapSubscriptionStatus translates Stripe subscription statuses into the
// internal lifecycle states. Unmapped statuses return empty so the event kind
// decides.
func mapSubscriptionStatus(status stripe.SubscriptionStatus) gosubs.Status {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return gosubs.StatusActive
	case stripe.SubscriptionStatusPastDue:
		return gosubs.StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusIncompleteExpired:
		return gosubs.StatusCancelled
	default:
		return ""
	}
}

// extractUserIDFromSubscription extracts user_id from subscription metadata,
// falling back to customer metadata. Returns empty when neither carries it.
func (p *Provider) extractUserIDFromSubscription(ctx context.Context, sub *stripe.Subscription) string {
	if sub.Metadata != nil {
		if userID := sub.Metadata["user_id"]; userID != "" {
			return userID
		}
	}

	if sub.Customer != nil {
		cust, err := p.stripeClient.V1Customers.Retrieve(ctx, sub.Customer.ID, nil)
		if err == nil && cust.Metadata != nil {
			if userID := cust.Metadata["user_id"]; userID != "" {
				return userID
			}
		}
	}

	return ""
}

// invoiceReferences pulls the subscription and customer ids out of raw invoice
// JSON. The subscription field is sometimes an id string and sometimes an
// expanded object, depending on API version.
func invoiceReferences(raw json.RawMessage) (subscriptionID, customerID string) {
	var rawData map[string]interface{}
	if err := json.Unmarshal(raw, &rawData); err != nil {
		return "", ""
	}

	switch v := rawData["subscription"].(type) {
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			subscriptionID = id
		}
	case string:
		subscriptionID = v
	}

	switch v := rawData["customer"].(type) {
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			customerID = id
		}
	case string:
		customerID = v
	}

	return subscriptionID, customerID
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
