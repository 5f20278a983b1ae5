// Package memory provides an in-memory implementation of the gosubs.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// Store implements gosubs.Store using in-memory maps
type Store struct {
	mu            sync.Mutex
	rows          map[string]*gosubs.Subscription // user id -> row
	byExternalSub map[string]string               // external subscription id -> user id
	byCustomer    map[string]string               // external customer id -> user id
	nextID        int
}

// New creates a new in-memory store adapter
func New() *Store {
	return &Store{
		rows:          make(map[string]*gosubs.Subscription),
		byExternalSub: make(map[string]string),
		byCustomer:    make(map[string]string),
	}
}

// GetActiveSubscription implements gosubs.Store
func (s *Store) GetActiveSubscription(ctx context.Context, userID string) (*gosubs.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[userID]
	if !ok {
		return nil, gosubs.ErrSubscriptionNotFound
	}

	// Return a copy to prevent external mutations
	rowCopy := *row
	return &rowCopy, nil
}

// UpsertSubscription implements gosubs.Store. The monotonic guard runs under
// the same lock as the write, so concurrent deliveries for one external
// subscription id cannot interleave between check and write.
func (s *Store) UpsertSubscription(ctx context.Context, sub *gosubs.Subscription) (*gosubs.Subscription, error) {
	if sub == nil || sub.UserID == "" {
		return nil, fmt.Errorf("invalid subscription")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Resolve the existing row: keyed by external subscription id when
	// present, else by user id
	var existing *gosubs.Subscription
	if sub.ExternalSubscriptionID != "" {
		if uid, ok := s.byExternalSub[sub.ExternalSubscriptionID]; ok {
			existing = s.rows[uid]
		}
	}
	if existing == nil {
		existing = s.rows[sub.UserID]
	}

	if existing != nil && rejectsStale(existing, sub) {
		return nil, gosubs.ErrStaleWrite
	}

	now := time.Now().UTC()
	row := *sub
	if existing != nil {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	} else {
		s.nextID++
		row.ID = fmt.Sprintf("sub_%06d", s.nextID)
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
	}
	row.UpdatedAt = now

	s.rows[row.UserID] = &row
	if row.ExternalSubscriptionID != "" {
		s.byExternalSub[row.ExternalSubscriptionID] = row.UserID
	}
	if row.ExternalCustomerID != "" {
		s.byCustomer[row.ExternalCustomerID] = row.UserID
	}

	rowCopy := row
	return &rowCopy, nil
}

// FindByExternalCustomerID implements gosubs.Store
func (s *Store) FindByExternalCustomerID(ctx context.Context, customerID string) (*gosubs.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uid, ok := s.byCustomer[customerID]
	if !ok {
		return nil, gosubs.ErrSubscriptionNotFound
	}
	row, ok := s.rows[uid]
	if !ok {
		return nil, gosubs.ErrSubscriptionNotFound
	}

	rowCopy := *row
	return &rowCopy, nil
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

// Count returns the number of stored subscription rows (useful for testing)
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Clear removes all data (useful for testing)
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = make(map[string]*gosubs.Subscription)
	s.byExternalSub = make(map[string]string)
	s.byCustomer = make(map[string]string)
	s.nextID = 0
}
