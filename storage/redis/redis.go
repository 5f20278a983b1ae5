// Package redis provides a Redis implementation of the gosubs.Store interface.
// This implementation uses atomic operations via Lua scripts for transaction safety.
package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// Store implements gosubs.Store using Redis
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis store configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "gosubs:")
	KeyPrefix string

	// SubscriptionTTL is the TTL for subscription keys (0 = no expiration)
	SubscriptionTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:       "gosubs:",
		SubscriptionTTL: 0, // Subscription rows don't expire
	}
}

// New creates a new Redis store adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "gosubs:"
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}

	s.loadScripts()

	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Store) loadScripts() {
	// upsert writes the subscription hash after applying the monotonic guard
	// against the fields already stored under the same key. The guard and the
	// write execute as one script, so concurrent deliveries cannot interleave.
	//
	// KEYS[1] = subscription hash key
	// KEYS[2] = external subscription id mapping key ('' = none)
	// KEYS[3] = external customer id mapping key ('' = none)
	// ARGV: period_end, status, ext_sub, id, created_at, user_id, plan,
	//       customer, period_start, updated_at, ttl
	//
	// Returns {written, id, created_at}; written is 0 for a rejected stale write.
	s.scripts["upsert"] = redis.NewScript(`
		local subKey = KEYS[1]
		local extSubKey = KEYS[2]
		local customerKey = KEYS[3]

		local periodEnd = tonumber(ARGV[1])
		local status = ARGV[2]
		local extSub = ARGV[3]
		local id = ARGV[4]
		local createdAt = ARGV[5]
		local userID = ARGV[6]
		local ttl = tonumber(ARGV[11])

		local existingID = redis.call('HGET', subKey, 'id')
		if existingID then
			local existingExtSub = redis.call('HGET', subKey, 'ext_sub')
			local existingEnd = tonumber(redis.call('HGET', subKey, 'period_end'))
			if status ~= 'cancelled' and status ~= 'expired'
				and existingExtSub ~= '' and existingExtSub == extSub
				and periodEnd < existingEnd then
				return {0, '', ''}
			end
			id = existingID
			createdAt = redis.call('HGET', subKey, 'created_at')
		end

		redis.call('HSET', subKey,
			'id', id,
			'user_id', userID,
			'plan', ARGV[7],
			'status', status,
			'ext_sub', extSub,
			'customer', ARGV[8],
			'period_start', ARGV[9],
			'period_end', ARGV[1],
			'created_at', createdAt,
			'updated_at', ARGV[10])

		if extSubKey ~= '' then
			redis.call('SET', extSubKey, userID)
		end
		if customerKey ~= '' then
			redis.call('SET', customerKey, userID)
		end

		if ttl > 0 then
			redis.call('EXPIRE', subKey, ttl)
			if extSubKey ~= '' then
				redis.call('EXPIRE', extSubKey, ttl)
			end
			if customerKey ~= '' then
				redis.call('EXPIRE', customerKey, ttl)
			end
		end

		return {1, id, createdAt}
	`)
}

// GetActiveSubscription implements gosubs.Store
func (s *Store) GetActiveSubscription(ctx context.Context, userID string) (*gosubs.Subscription, error) {
	fields, err := s.client.HGetAll(ctx, s.subscriptionKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if len(fields) == 0 {
		return nil, gosubs.ErrSubscriptionNotFound
	}

	return subscriptionFromFields(fields)
}

// UpsertSubscription implements gosubs.Store. The external subscription id
// mapping is resolved before the script runs; a mapping never changes value
// once set, so the resolution cannot race with the guarded write.
func (s *Store) UpsertSubscription(ctx context.Context, sub *gosubs.Subscription) (*gosubs.Subscription, error) {
	if sub == nil || sub.UserID == "" {
		return nil, fmt.Errorf("invalid subscription")
	}

	// Resolve the owning user: keyed by external subscription id when
	// present, else by user id
	userID := sub.UserID
	extSubKey := ""
	if sub.ExternalSubscriptionID != "" {
		extSubKey = s.externalSubKey(sub.ExternalSubscriptionID)
		mapped, err := s.client.Get(ctx, extSubKey).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to resolve external subscription id: %w", err)
		}
		if mapped != "" {
			userID = mapped
		}
	}

	customerKey := ""
	if sub.ExternalCustomerID != "" {
		customerKey = s.customerKey(sub.ExternalCustomerID)
	}

	now := time.Now().UTC()
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	result, err := s.scripts["upsert"].Run(
		ctx,
		s.client,
		[]string{s.subscriptionKey(userID), extSubKey, customerKey},
		sub.PeriodEnd.UnixNano(),
		string(sub.Status),
		sub.ExternalSubscriptionID,
		newRowID(),
		strconv.FormatInt(createdAt.UnixNano(), 10),
		sub.UserID,
		string(sub.Plan),
		sub.ExternalCustomerID,
		strconv.FormatInt(sub.PeriodStart.UnixNano(), 10),
		strconv.FormatInt(now.UnixNano(), 10),
		int64(s.config.SubscriptionTTL.Seconds()),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	written, id, storedCreatedAt, err := parseUpsertResult(result)
	if err != nil {
		return nil, err
	}
	if !written {
		return nil, gosubs.ErrStaleWrite
	}

	row := *sub
	row.ID = id
	row.CreatedAt = storedCreatedAt
	row.UpdatedAt = now
	return &row, nil
}

// FindByExternalCustomerID implements gosubs.Store
func (s *Store) FindByExternalCustomerID(ctx context.Context, customerID string) (*gosubs.Subscription, error) {
	if customerID == "" {
		return nil, gosubs.ErrSubscriptionNotFound
	}

	userID, err := s.client.Get(ctx, s.customerKey(customerID)).Result()
	if err == redis.Nil {
		return nil, gosubs.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer id: %w", err)
	}

	return s.GetActiveSubscription(ctx, userID)
}

// parseUpsertResult parses the {written, id, created_at} reply from the
// upsert script
func parseUpsertResult(result interface{}) (written bool, id string, createdAt time.Time, err error) {
	arr, ok := result.([]interface{})
	if !ok || len(arr) != 3 {
		return false, "", time.Time{}, fmt.Errorf("unexpected script result: %v", result)
	}

	flag, ok := arr[0].(int64)
	if !ok {
		return false, "", time.Time{}, fmt.Errorf("unexpected script flag: %v", arr[0])
	}
	if flag == 0 {
		return false, "", time.Time{}, nil
	}

	id, ok = arr[1].(string)
	if !ok {
		return false, "", time.Time{}, fmt.Errorf("unexpected script id: %v", arr[1])
	}

	createdRaw, ok := arr[2].(string)
	if !ok {
		return false, "", time.Time{}, fmt.Errorf("unexpected script created_at: %v", arr[2])
	}
	nanos, parseErr := strconv.ParseInt(createdRaw, 10, 64)
	if parseErr != nil {
		return false, "", time.Time{}, fmt.Errorf("failed to parse created_at: %w", parseErr)
	}

	return true, id, time.Unix(0, nanos).UTC(), nil
}

// subscriptionFromFields rebuilds a subscription row from its hash fields
func subscriptionFromFields(fields map[string]string) (*gosubs.Subscription, error) {
	periodStart, err := parseNanoField(fields, "period_start")
	if err != nil {
		return nil, err
	}
	periodEnd, err := parseNanoField(fields, "period_end")
	if err != nil {
		return nil, err
	}
	createdAt, err := parseNanoField(fields, "created_at")
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseNanoField(fields, "updated_at")
	if err != nil {
		return nil, err
	}

	return &gosubs.Subscription{
		ID:                     fields["id"],
		UserID:                 fields["user_id"],
		Plan:                   gosubs.PlanKind(fields["plan"]),
		Status:                 gosubs.Status(fields["status"]),
		ExternalSubscriptionID: fields["ext_sub"],
		ExternalCustomerID:     fields["customer"],
		PeriodStart:            periodStart,
		PeriodEnd:              periodEnd,
		CreatedAt:              createdAt,
		UpdatedAt:              updatedAt,
	}, nil
}

func parseNanoField(fields map[string]string, name string) (time.Time, error) {
	nanos, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// subscriptionKey generates the Redis key for a user's subscription row
func (s *Store) subscriptionKey(userID string) string {
	return fmt.Sprintf("%ssub:%s", s.config.KeyPrefix, userID)
}

// externalSubKey generates the Redis key mapping an external subscription id
// to its owning user
func (s *Store) externalSubKey(externalSubscriptionID string) string {
	return fmt.Sprintf("%sextsub:%s", s.config.KeyPrefix, externalSubscriptionID)
}

// customerKey generates the Redis key mapping an external customer id to its
// owning user
func (s *Store) customerKey(customerID string) string {
	return fmt.Sprintf("%scustomer:%s", s.config.KeyPrefix, customerID)
}

func newRowID() string {
	buf := make([]byte, 8)
	//nolint:errcheck // crypto/rand.Read never fails on supported platforms
	_, _ = rand.Read(buf)
	return "sub_" + hex.EncodeToString(buf)
}
