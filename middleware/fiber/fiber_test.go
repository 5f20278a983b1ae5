package fiber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
	"github.com/loyaltyforge/gosubs/storage/memory"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestReconciler(t *testing.T) *gosubs.Reconciler {
	t.Helper()

	reconciler, err := gosubs.NewReconciler(memory.New(), gosubs.Config{
		Now: func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewReconciler failed: %v", err)
	}
	return reconciler
}

func seedSubscription(t *testing.T, reconciler *gosubs.Reconciler, userID string, plan gosubs.PlanKind) {
	t.Helper()

	_, err := reconciler.Reconcile(context.Background(), userID, gosubs.BillingEvent{
		Kind:                   gosubs.EventSubscriptionCreated,
		Plan:                   plan,
		ExternalSubscriptionID: "sub_ext_" + userID,
		OccurredAt:             testNow,
	})
	if err != nil {
		t.Fatalf("seed reconcile failed: %v", err)
	}
}

func newTestApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Get("/protected", Middleware(cfg), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestMiddleware_EntitledUserPasses(t *testing.T) {
	reconciler := newTestReconciler(t)
	seedSubscription(t, reconciler, "user_1", gosubs.PlanMonthly)

	app := newTestApp(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-User-ID", "user_1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("got %d, want 200", resp.StatusCode)
	}
}

func TestMiddleware_CancelledUserDenied(t *testing.T) {
	reconciler := newTestReconciler(t)
	seedSubscription(t, reconciler, "user_2", gosubs.PlanMonthly)
	_, err := reconciler.Reconcile(context.Background(), "user_2", gosubs.BillingEvent{
		Kind:                   gosubs.EventSubscriptionDeleted,
		ExternalSubscriptionID: "sub_ext_user_2",
		OccurredAt:             testNow.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("cancel reconcile failed: %v", err)
	}

	app := newTestApp(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-User-ID", "user_2")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("got %d, want 402", resp.StatusCode)
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	app := newTestApp(Config{
		Reconciler: newTestReconciler(t),
		GetUserID:  FromHeader("X-User-ID"),
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("got %d, want 401", resp.StatusCode)
	}
}

func TestMiddleware_RequireFeature(t *testing.T) {
	reconciler := newTestReconciler(t)
	seedSubscription(t, reconciler, "monthly_user", gosubs.PlanMonthly)

	app := newTestApp(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
		RequireFeature: func(f gosubs.FeatureSet) bool {
			return f.APIAccess
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-User-ID", "monthly_user")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("got %d, want 402 for missing feature", resp.StatusCode)
	}
}

func TestDecisionFromContext(t *testing.T) {
	reconciler := newTestReconciler(t)
	seedSubscription(t, reconciler, "user_3", gosubs.PlanAnnual)

	var decision gosubs.AccessDecision
	var found bool
	app := fiber.New()
	app.Get("/protected", Middleware(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
	}), func(c *fiber.Ctx) error {
		decision, found = DecisionFromContext(c)
		return c.SendString("ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-User-ID", "user_3")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()

	if !found {
		t.Fatal("decision missing from locals")
	}
	if !decision.HasAccess || !decision.Features.PrioritySupport {
		t.Errorf("got decision %+v", decision)
	}
}
