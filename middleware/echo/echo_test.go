package echo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

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

func newTestApp(cfg Config) *echo.Echo {
	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, Middleware(cfg))
	return e
}

func TestMiddleware_EntitledUserPasses(t *testing.T) {
	reconciler := newTestReconciler(t)
	seedSubscription(t, reconciler, "user_1", gosubs.PlanMonthly)

	e := newTestApp(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-User-ID", "user_1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("got %d, want 200", rec.Code)
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

	e := newTestApp(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-User-ID", "user_2")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("got %d, want 402", rec.Code)
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	e := newTestApp(Config{
		Reconciler: newTestReconciler(t),
		GetUserID:  FromHeader("X-User-ID"),
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got %d, want 401", rec.Code)
	}
}

func TestMiddleware_RequireFeature(t *testing.T) {
	reconciler := newTestReconciler(t)
	seedSubscription(t, reconciler, "monthly_user", gosubs.PlanMonthly)

	e := newTestApp(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
		RequireFeature: func(f gosubs.FeatureSet) bool {
			return f.AdvancedAnalytics
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-User-ID", "monthly_user")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("got %d, want 402 for missing feature", rec.Code)
	}
}

func TestDecisionFromContext(t *testing.T) {
	reconciler := newTestReconciler(t)
	seedSubscription(t, reconciler, "user_3", gosubs.PlanAnnual)

	var decision gosubs.AccessDecision
	var found bool
	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		decision, found = DecisionFromContext(c)
		return c.String(http.StatusOK, "ok")
	}, Middleware(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-User-ID", "user_3")
	e.ServeHTTP(httptest.NewRecorder(), req)

	if !found {
		t.Fatal("decision missing from context")
	}
	if !decision.HasAccess || decision.Features.MaxCustomers != -1 {
		t.Errorf("got decision %+v", decision)
	}
}

func TestMiddleware_PanicsOnMissingConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic without reconciler")
		}
	}()
	Middleware(Config{GetUserID: FromHeader("X-User-ID")})
}
