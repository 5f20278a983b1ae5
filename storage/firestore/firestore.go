// Package firestore provides a Firestore implementation of the gosubs.Store
// interface. Writes run inside Firestore transactions so the monotonic-advance
// guard and the document write commit together.
package firestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// Store implements gosubs.Store using Google Cloud Firestore
type Store struct {
	client                  *firestore.Client
	subscriptionsCollection string
}

// Config holds Firestore store configuration
type Config struct {
	// SubscriptionsCollection is the Firestore collection for subscription rows
	// Default: "billing_subscriptions"
	SubscriptionsCollection string
}

// New creates a new Firestore store adapter
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "billing_subscriptions"
	}

	return &Store{
		client:                  client,
		subscriptionsCollection: config.SubscriptionsCollection,
	}, nil
}

// GetActiveSubscription implements gosubs.Store
func (s *Store) GetActiveSubscription(ctx context.Context, userID string) (*gosubs.Subscription, error) {
	doc := s.client.Collection(s.subscriptionsCollection).Doc(userID)
	snap, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, gosubs.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	if !snap.Exists() {
		return nil, gosubs.ErrSubscriptionNotFound
	}

	return subscriptionFromDoc(snap.Data()), nil
}

// UpsertSubscription implements gosubs.Store. The existing document is read
// inside the transaction, so the guard check and the write are serialized by
// Firestore's optimistic concurrency control.
func (s *Store) UpsertSubscription(ctx context.Context, sub *gosubs.Subscription) (*gosubs.Subscription, error) {
	if sub == nil || sub.UserID == "" {
		return nil, fmt.Errorf("invalid subscription")
	}

	var stored *gosubs.Subscription

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		// Resolve the existing document: keyed by external subscription id
		// when present, else by user id
		var existing *gosubs.Subscription
		docID := sub.UserID

		if sub.ExternalSubscriptionID != "" {
			query := s.client.Collection(s.subscriptionsCollection).
				Where("externalSubscriptionID", "==", sub.ExternalSubscriptionID).
				Limit(1)
			iter := tx.Documents(query)
			snap, err := iter.Next()
			if err != nil && err != iterator.Done {
				return fmt.Errorf("failed to resolve external subscription id: %w", err)
			}
			if err == nil && snap.Exists() {
				existing = subscriptionFromDoc(snap.Data())
				docID = snap.Ref.ID
			}
		}

		if existing == nil {
			snap, err := tx.Get(s.client.Collection(s.subscriptionsCollection).Doc(sub.UserID))
			if err != nil && status.Code(err) != codes.NotFound {
				return fmt.Errorf("failed to get subscription: %w", err)
			}
			if err == nil && snap.Exists() {
				existing = subscriptionFromDoc(snap.Data())
			}
		}

		if existing != nil && rejectsStale(existing, sub) {
			return gosubs.ErrStaleWrite
		}

		now := time.Now().UTC()
		row := *sub
		if existing != nil {
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
		} else {
			row.ID = newRowID()
			if row.CreatedAt.IsZero() {
				row.CreatedAt = now
			}
		}
		row.UpdatedAt = now

		doc := s.client.Collection(s.subscriptionsCollection).Doc(docID)
		if err := tx.Set(doc, subscriptionToDoc(&row)); err != nil {
			return fmt.Errorf("failed to set subscription: %w", err)
		}

		stored = &row
		return nil
	})
	if err != nil {
		if err == gosubs.ErrStaleWrite {
			return nil, err
		}
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return stored, nil
}

// FindByExternalCustomerID implements gosubs.Store
func (s *Store) FindByExternalCustomerID(ctx context.Context, customerID string) (*gosubs.Subscription, error) {
	if customerID == "" {
		return nil, gosubs.ErrSubscriptionNotFound
	}

	iter := s.client.Collection(s.subscriptionsCollection).
		Where("externalCustomerID", "==", customerID).
		OrderBy("updatedAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, gosubs.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription by customer: %w", err)
	}

	return subscriptionFromDoc(snap.Data()), nil
}

// rejectsStale applies the monotonic-advance guard: a write that moves the
// period backward for the same external subscription id is rejected, unless
// the incoming status is a cancellation or expiry, which always wins.
func rejectsStale(existing, incoming *gosubs.Subscription) bool {
	if incoming.Status == gosubs.StatusCancelled || incoming.Status == gosubs.StatusExpired {
		return false
	}
	if existing.ExternalSubscriptionID == "" ||
		existing.ExternalSubscriptionID != incoming.ExternalSubscriptionID {
		return false
	}
	return incoming.PeriodEnd.Before(existing.PeriodEnd)
}

func subscriptionToDoc(sub *gosubs.Subscription) map[string]interface{} {
	return map[string]interface{}{
		"id":                     sub.ID,
		"userID":                 sub.UserID,
		"plan":                   string(sub.Plan),
		"status":                 string(sub.Status),
		"externalSubscriptionID": sub.ExternalSubscriptionID,
		"externalCustomerID":     sub.ExternalCustomerID,
		"periodStart":            sub.PeriodStart,
		"periodEnd":              sub.PeriodEnd,
		"createdAt":              sub.CreatedAt,
		"updatedAt":              sub.UpdatedAt,
	}
}

func subscriptionFromDoc(data map[string]interface{}) *gosubs.Subscription {
	return &gosubs.Subscription{
		ID:                     getString(data, "id"),
		UserID:                 getString(data, "userID"),
		Plan:                   gosubs.PlanKind(getString(data, "plan")),
		Status:                 gosubs.Status(getString(data, "status")),
		ExternalSubscriptionID: getString(data, "externalSubscriptionID"),
		ExternalCustomerID:     getString(data, "externalCustomerID"),
		PeriodStart:            getTime(data, "periodStart"),
		PeriodEnd:              getTime(data, "periodEnd"),
		CreatedAt:              getTime(data, "createdAt"),
		UpdatedAt:              getTime(data, "updatedAt"),
	}
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}

func newRowID() string {
	buf := make([]byte, 8)
	//nolint:errcheck // crypto/rand.Read never fails on supported platforms
	_, _ = rand.Read(buf)
	return "sub_" + hex.EncodeToString(buf)
}
