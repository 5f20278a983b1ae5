package firestore

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

const (
	testProjectID = "test-project"
	emulatorHost  = "localhost:8080"
)

func setupFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()

	conn, err := net.DialTimeout("tcp", emulatorHost, time.Second)
	if err != nil {
		t.Skipf("Firestore emulator not available: %v", err)
	}
	_ = conn.Close()

	os.Setenv("FIRESTORE_EMULATOR_HOST", emulatorHost)

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}

	return client
}

// setupTestStore creates a store backed by a unique collection per test run
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	client := setupFirestoreClient(t)
	store, err := New(client, Config{
		SubscriptionsCollection: fmt.Sprintf("test_subs_%s_%d", t.Name(), time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store
}

func testSubscription(userID string, periodEnd time.Time) *gosubs.Subscription {
	return &gosubs.Subscription{
		UserID:                 userID,
		Plan:                   gosubs.PlanMonthly,
		Status:                 gosubs.StatusActive,
		ExternalSubscriptionID: "sub_ext_" + userID,
		ExternalCustomerID:     "cus_" + userID,
		PeriodStart:            periodEnd.AddDate(0, -1, 0),
		PeriodEnd:              periodEnd,
	}
}

func TestStore_UpsertAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetActiveSubscription(ctx, "user1"); err != gosubs.ErrSubscriptionNotFound {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}

	end := time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)
	stored, err := store.UpsertSubscription(ctx, testSubscription("user1", end))
	if err != nil {
		t.Fatalf("UpsertSubscription failed: %v", err)
	}
	if stored.ID == "" {
		t.Error("expected stored row to have an id")
	}

	got, err := store.GetActiveSubscription(ctx, "user1")
	if err != nil {
		t.Fatalf("GetActiveSubscription failed: %v", err)
	}
	if got.Plan != gosubs.PlanMonthly || got.Status != gosubs.StatusActive {
		t.Errorf("unexpected row: %+v", got)
	}
	if !got.PeriodEnd.Equal(end) {
		t.Errorf("got period end %v, want %v", got.PeriodEnd, end)
	}
}

func TestStore_MonotonicGuard(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	end := time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)
	if _, err := store.UpsertSubscription(ctx, testSubscription("user1", end)); err != nil {
		t.Fatalf("UpsertSubscription failed: %v", err)
	}

	stale := testSubscription("user1", end.AddDate(0, -1, 0))
	if _, err := store.UpsertSubscription(ctx, stale); err != gosubs.ErrStaleWrite {
		t.Errorf("expected ErrStaleWrite, got %v", err)
	}

	got, err := store.GetActiveSubscription(ctx, "user1")
	if err != nil {
		t.Fatalf("GetActiveSubscription failed: %v", err)
	}
	if !got.PeriodEnd.Equal(end) {
		t.Errorf("stale write mutated the row: got %v, want %v", got.PeriodEnd, end)
	}

	// Cancellation wins regardless of period ordering
	cancel := testSubscription("user1", end.AddDate(0, -1, 0))
	cancel.Status = gosubs.StatusCancelled
	stored, err := store.UpsertSubscription(ctx, cancel)
	if err != nil {
		t.Fatalf("UpsertSubscription failed: %v", err)
	}
	if stored.Status != gosubs.StatusCancelled {
		t.Errorf("got status %q, want cancelled", stored.Status)
	}
}

func TestStore_PreservesIdentity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	end := time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)
	first, err := store.UpsertSubscription(ctx, testSubscription("user1", end))
	if err != nil {
		t.Fatalf("UpsertSubscription failed: %v", err)
	}

	second, err := store.UpsertSubscription(ctx, testSubscription("user1", end.AddDate(0, 1, 0)))
	if err != nil {
		t.Fatalf("UpsertSubscription failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the same row id, got %q and %q", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed: %v vs %v", first.CreatedAt, second.CreatedAt)
	}
}

func TestStore_FindByExternalCustomerID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	end := time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)
	if _, err := store.UpsertSubscription(ctx, testSubscription("user1", end)); err != nil {
		t.Fatalf("UpsertSubscription failed: %v", err)
	}

	got, err := store.FindByExternalCustomerID(ctx, "cus_user1")
	if err != nil {
		t.Fatalf("FindByExternalCustomerID failed: %v", err)
	}
	if got.UserID != "user1" {
		t.Errorf("got user %q, want user1", got.UserID)
	}

	if _, err := store.FindByExternalCustomerID(ctx, "cus_unknown"); err != gosubs.ErrSubscriptionNotFound {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
}
