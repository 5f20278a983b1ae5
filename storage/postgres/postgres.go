// Package postgres provides a PostgreSQL implementation of the gosubs.Store
// interface. Writes run inside SQL transactions with SELECT FOR UPDATE so the
// monotonic-advance guard and the row update are a single atomic step.
package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// Schema is the DDL required by this adapter. Apply it with Migrate or with
// your own migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	id                       TEXT PRIMARY KEY,
	user_id                  TEXT NOT NULL UNIQUE,
	plan                     TEXT NOT NULL,
	status                   TEXT NOT NULL,
	external_subscription_id TEXT NOT NULL DEFAULT '',
	external_customer_id     TEXT NOT NULL DEFAULT '',
	period_start             TIMESTAMPTZ NOT NULL,
	period_end               TIMESTAMPTZ NOT NULL,
	created_at               TIMESTAMPTZ NOT NULL,
	updated_at               TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS subscriptions_external_sub_idx
	ON subscriptions (external_subscription_id)
	WHERE external_subscription_id <> '';

CREATE INDEX IF NOT EXISTS subscriptions_external_customer_idx
	ON subscriptions (external_customer_id)
	WHERE external_customer_id <> '';
`

const subscriptionColumns = `id, user_id, plan, status, external_subscription_id,
	external_customer_id, period_start, period_end, created_at, updated_at`

// Store implements gosubs.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store adapter
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Migrate applies the adapter schema
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetActiveSubscription implements gosubs.Store
func (s *Store) GetActiveSubscription(ctx context.Context, userID string) (*gosubs.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`,
		userID)

	sub, err := scanSubscription(row)
	if err == pgx.ErrNoRows {
		return nil, gosubs.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// UpsertSubscription implements gosubs.Store. The existing row is locked with
// SELECT FOR UPDATE before the guard runs, so concurrent deliveries for one
// external subscription id serialize on the row lock.
func (s *Store) UpsertSubscription(ctx context.Context, sub *gosubs.Subscription) (*gosubs.Subscription, error) {
	if sub == nil || sub.UserID == "" {
		return nil, fmt.Errorf("invalid subscription")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	// Ensure a row exists for the user so SELECT FOR UPDATE below always has
	// something to lock. An insert against an empty slot can never be stale.
	_, err = tx.Exec(ctx,
		`INSERT INTO subscriptions
			(`+subscriptionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (user_id) DO NOTHING`,
		newRowID(), sub.UserID, string(sub.Plan), string(sub.Status),
		sub.ExternalSubscriptionID, sub.ExternalCustomerID,
		sub.PeriodStart, sub.PeriodEnd, createdAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure subscription row: %w", err)
	}

	// Resolve the existing row: keyed by external subscription id when
	// present, else by user id
	var existing *gosubs.Subscription
	if sub.ExternalSubscriptionID != "" {
		existing, err = scanSubscription(tx.QueryRow(ctx,
			`SELECT `+subscriptionColumns+` FROM subscriptions
				WHERE external_subscription_id = $1 FOR UPDATE`,
			sub.ExternalSubscriptionID))
		if err != nil && err != pgx.ErrNoRows {
			return nil, fmt.Errorf("failed to lock subscription: %w", err)
		}
	}
	if existing == nil {
		existing, err = scanSubscription(tx.QueryRow(ctx,
			`SELECT `+subscriptionColumns+` FROM subscriptions
				WHERE user_id = $1 FOR UPDATE`,
			sub.UserID))
		if err != nil && err != pgx.ErrNoRows {
			return nil, fmt.Errorf("failed to lock subscription: %w", err)
		}
	}
	if existing == nil {
		return nil, fmt.Errorf("subscription row missing after insert")
	}

	if rejectsStale(existing, sub) {
		return nil, gosubs.ErrStaleWrite
	}

	stored, err := scanSubscription(tx.QueryRow(ctx,
		`UPDATE subscriptions SET
				user_id = $2,
				plan = $3,
				status = $4,
				external_subscription_id = $5,
				external_customer_id = $6,
				period_start = $7,
				period_end = $8,
				updated_at = $9
			WHERE id = $1
			RETURNING `+subscriptionColumns,
		existing.ID, sub.UserID, string(sub.Plan), string(sub.Status),
		sub.ExternalSubscriptionID, sub.ExternalCustomerID,
		sub.PeriodStart, sub.PeriodEnd, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return stored, nil
}

// FindByExternalCustomerID implements gosubs.Store
func (s *Store) FindByExternalCustomerID(ctx context.Context, customerID string) (*gosubs.Subscription, error) {
	if customerID == "" {
		return nil, gosubs.ErrSubscriptionNotFound
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE external_customer_id = $1
			ORDER BY updated_at DESC
			LIMIT 1`,
		customerID)

	sub, err := scanSubscription(row)
	if err == pgx.ErrNoRows {
		return nil, gosubs.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription by customer: %w", err)
	}
	return sub, nil
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

func scanSubscription(row pgx.Row) (*gosubs.Subscription, error) {
	var sub gosubs.Subscription
	var plan, status string

	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&plan,
		&status,
		&sub.ExternalSubscriptionID,
		&sub.ExternalCustomerID,
		&sub.PeriodStart,
		&sub.PeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Plan = gosubs.PlanKind(plan)
	sub.Status = gosubs.Status(status)
	return &sub, nil
}

func newRowID() string {
	buf := make([]byte, 8)
	//nolint:errcheck // crypto/rand.Read never fails on supported platforms
	_, _ = rand.Read(buf)
	return "sub_" + hex.EncodeToString(buf)
}
