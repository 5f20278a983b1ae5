// Package tiered provides a Hot/Cold tiered store adapter that layers a fast
// ephemeral store (Hot) over a durable persistent store (Cold). Reads go
// through the cache; writes land on the durable store first.
package tiered

import (
	"context"
	"errors"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// Config configures the tiered store behavior
type Config struct {
	// Hot is the L1 cache store (e.g., Redis, Memory) for read traffic
	Hot gosubs.Store

	// Cold is the L2 persistence store (e.g., Postgres, Firestore) as the
	// source of truth
	Cold gosubs.Store

	// CacheErrorHandler is called when a best-effort cache write fails.
	// Useful for monitoring consistency drift.
	CacheErrorHandler func(error)
}

// Store implements a Hot/Cold tiered store:
//   - Read-Through: subscription reads try Hot, fall back to Cold, then
//     repopulate Hot
//   - Write-Through: upserts hit Cold first, then best-effort Hot
//
// The monotonic-advance guard is enforced by Cold, the source of truth. Hot
// rejections during cache fills are ignored.
type Store struct {
	hot  gosubs.Store
	cold gosubs.Store
	conf Config
}

// New creates a new tiered store adapter.
func New(config Config) (*Store, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered store: both hot and cold stores are required")
	}

	return &Store{
		hot:  config.Hot,
		cold: config.Cold,
		conf: config,
	}, nil
}

// GetActiveSubscription implements gosubs.Store with read-through strategy.
func (s *Store) GetActiveSubscription(ctx context.Context, userID string) (*gosubs.Subscription, error) {
	sub, err := s.hot.GetActiveSubscription(ctx, userID)
	if err == nil {
		return sub, nil
	}

	sub, err = s.cold.GetActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.fillCache(ctx, sub)
	return sub, nil
}

// UpsertSubscription implements gosubs.Store with write-through strategy.
// Cold enforces the monotonic guard; its verdict is authoritative.
func (s *Store) UpsertSubscription(ctx context.Context, sub *gosubs.Subscription) (*gosubs.Subscription, error) {
	stored, err := s.cold.UpsertSubscription(ctx, sub)
	if err != nil {
		return nil, err
	}

	s.fillCache(ctx, stored)
	return stored, nil
}

// FindByExternalCustomerID implements gosubs.Store with read-through strategy.
func (s *Store) FindByExternalCustomerID(ctx context.Context, customerID string) (*gosubs.Subscription, error) {
	sub, err := s.hot.FindByExternalCustomerID(ctx, customerID)
	if err == nil {
		return sub, nil
	}

	sub, err = s.cold.FindByExternalCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	s.fillCache(ctx, sub)
	return sub, nil
}

// fillCache writes a row to the hot store, best effort. A stale rejection
// means the cache already holds a newer row, which is fine.
func (s *Store) fillCache(ctx context.Context, sub *gosubs.Subscription) {
	_, err := s.hot.UpsertSubscription(ctx, sub)
	if err != nil && err != gosubs.ErrStaleWrite && s.conf.CacheErrorHandler != nil {
		s.conf.CacheErrorHandler(err)
	}
}
