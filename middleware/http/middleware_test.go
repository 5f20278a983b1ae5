package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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

func okHandler() (http.Handler, *bool) {
	reached := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}), &reached
}

func TestMiddleware_EntitledUserPasses(t *testing.T) {
	reconciler := newTestReconciler(t)
	seedSubscription(t, reconciler, "user_1", gosubs.PlanMonthly)

	next, reached := okHandler()
	handler := Middleware(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
	})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "user_1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !*reached {
		t.Errorf("got %d reached=%v, want entitled user to pass", rec.Code, *reached)
	}
}

func TestMiddleware_NewUserGracePasses(t *testing.T) {
	next, reached := okHandler()
	handler := Middleware(Config{
		Reconciler: newTestReconciler(t),
		GetUserID:  FromHeader("X-User-ID"),
	})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "brand_new_user")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !*reached {
		t.Errorf("got %d, want grace allowance to pass", rec.Code)
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

	next, reached := okHandler()
	handler := Middleware(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
	})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "user_2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("got %d, want 402", rec.Code)
	}
	if *reached {
		t.Error("handler ran for a cancelled user")
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	next, reached := okHandler()
	handler := Middleware(Config{
		Reconciler: newTestReconciler(t),
		GetUserID:  FromHeader("X-User-ID"),
	})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got %d, want 401", rec.Code)
	}
	if *reached {
		t.Error("handler ran without a user id")
	}
}

func TestMiddleware_RequireFeature(t *testing.T) {
	reconciler := newTestReconciler(t)
	seedSubscription(t, reconciler, "monthly_user", gosubs.PlanMonthly)
	seedSubscription(t, reconciler, "annual_user", gosubs.PlanAnnual)

	next, _ := okHandler()
	handler := Middleware(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
		RequireFeature: func(f gosubs.FeatureSet) bool {
			return f.APIAccess
		},
	})(next)

	// Monthly plan has no API access
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "monthly_user")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("monthly user got %d, want 402", rec.Code)
	}

	// Annual plan does
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "annual_user")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("annual user got %d, want 200", rec.Code)
	}
}

func TestMiddleware_OnDeniedOverride(t *testing.T) {
	reconciler := newTestReconciler(t)
	seedSubscription(t, reconciler, "user_3", gosubs.PlanMonthly)
	_, err := reconciler.Reconcile(context.Background(), "user_3", gosubs.BillingEvent{
		Kind:                   gosubs.EventSubscriptionDeleted,
		ExternalSubscriptionID: "sub_ext_user_3",
		OccurredAt:             testNow.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("cancel reconcile failed: %v", err)
	}

	var gotDecision gosubs.AccessDecision
	next, _ := okHandler()
	handler := Middleware(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
		OnDenied: func(w http.ResponseWriter, r *http.Request, decision gosubs.AccessDecision) {
			gotDecision = decision
			w.WriteHeader(http.StatusForbidden)
		},
	})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "user_3")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("got %d, want 403 from override", rec.Code)
	}
	if gotDecision.HasAccess {
		t.Error("override received an entitled decision")
	}
}

func TestDecisionFromContext(t *testing.T) {
	reconciler := newTestReconciler(t)
	seedSubscription(t, reconciler, "user_4", gosubs.PlanAnnual)

	var decision gosubs.AccessDecision
	var found bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, found = DecisionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := Middleware(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
	})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "user_4")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !found {
		t.Fatal("decision missing from context")
	}
	if !decision.HasAccess || !decision.Features.APIAccess {
		t.Errorf("got decision %+v", decision)
	}
}

func TestFromContextExtractor(t *testing.T) {
	getUserID := FromContext(UserIDKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := getUserID(req); got != "" {
		t.Errorf("got %q, want empty", got)
	}

	req = req.WithContext(WithUserID(req.Context(), "user_ctx"))
	if got := getUserID(req); got != "user_ctx" {
		t.Errorf("got %q, want user_ctx", got)
	}
}
