package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
	"github.com/loyaltyforge/gosubs/storage/memory"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*Handler, *gosubs.Reconciler) {
	t.Helper()

	reconciler, err := gosubs.NewReconciler(memory.New(), gosubs.Config{
		Now: func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewReconciler failed: %v", err)
	}

	handler, err := NewHandler(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return handler, reconciler
}

func seedSubscription(t *testing.T, reconciler *gosubs.Reconciler, userID string, plan gosubs.PlanKind) *gosubs.Subscription {
	t.Helper()

	sub, err := reconciler.Reconcile(context.Background(), userID, gosubs.BillingEvent{
		Kind:                   gosubs.EventSubscriptionCreated,
		Plan:                   plan,
		ExternalSubscriptionID: "sub_ext_" + userID,
		OccurredAt:             testNow,
	})
	if err != nil {
		t.Fatalf("seed reconcile failed: %v", err)
	}
	return sub
}

func TestNewHandler_Validation(t *testing.T) {
	if _, err := NewHandler(Config{}); err == nil {
		t.Error("expected error without reconciler")
	}

	reconciler, err := gosubs.NewReconciler(memory.New(), gosubs.Config{})
	if err != nil {
		t.Fatalf("NewReconciler failed: %v", err)
	}
	if _, err := NewHandler(Config{Reconciler: reconciler}); err == nil {
		t.Error("expected error without GetUserID")
	}
}

func TestGetAccess_ActiveSubscriber(t *testing.T) {
	handler, reconciler := newTestHandler(t)
	seedSubscription(t, reconciler, "user_1", gosubs.PlanAnnual)

	req := httptest.NewRequest(http.MethodGet, "/access", nil)
	req.Header.Set("X-User-ID", "user_1")
	rec := httptest.NewRecorder()
	handler.GetAccess(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	var resp AccessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !resp.HasAccess {
		t.Error("active annual subscriber should have access")
	}
	if resp.Features.MaxCustomers != -1 || !resp.Features.APIAccess {
		t.Errorf("got features %+v, want unlimited annual set", resp.Features)
	}
	if resp.DaysRemaining < 364 {
		t.Errorf("got %d days remaining", resp.DaysRemaining)
	}
}

func TestGetAccess_NewUserGrace(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/access", nil)
	req.Header.Set("X-User-ID", "user_without_row")
	rec := httptest.NewRecorder()
	handler.GetAccess(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	var resp AccessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !resp.HasAccess {
		t.Error("new users get the grace allowance")
	}
	if resp.DaysRemaining != gosubs.GraceDays {
		t.Errorf("got %d days remaining, want %d", resp.DaysRemaining, gosubs.GraceDays)
	}
}

func TestGetAccess_Unauthorized(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/access", nil)
	rec := httptest.NewRecorder()
	handler.GetAccess(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got %d, want 401", rec.Code)
	}
}

func TestGetAccess_OversizedUserID(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/access", nil)
	req.Header.Set("X-User-ID", strings.Repeat("a", maxUserIDLen+1))
	rec := httptest.NewRecorder()
	handler.GetAccess(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rec.Code)
	}
}

func TestGetSubscription_StoredRow(t *testing.T) {
	handler, reconciler := newTestHandler(t)
	seeded := seedSubscription(t, reconciler, "user_2", gosubs.PlanMonthly)

	req := httptest.NewRequest(http.MethodGet, "/subscription", nil)
	req.Header.Set("X-User-ID", "user_2")
	rec := httptest.NewRecorder()
	handler.GetSubscription(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	var resp SubscriptionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Plan != "monthly" || resp.Status != "active" {
		t.Errorf("got plan %q status %q", resp.Plan, resp.Status)
	}
	if resp.PeriodEnd == nil || !resp.PeriodEnd.Equal(seeded.PeriodEnd) {
		t.Errorf("got period end %v, want %v", resp.PeriodEnd, seeded.PeriodEnd)
	}
}

func TestGetSubscription_NoRowIsNone(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/subscription", nil)
	req.Header.Set("X-User-ID", "user_without_row")
	rec := httptest.NewRecorder()
	handler.GetSubscription(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	var resp SubscriptionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Status != "none" {
		t.Errorf("got status %q, want none", resp.Status)
	}
	if resp.PeriodEnd != nil {
		t.Error("missing row should carry no period bounds")
	}
}

func TestOnErrorOverride(t *testing.T) {
	reconciler, err := gosubs.NewReconciler(memory.New(), gosubs.Config{})
	if err != nil {
		t.Fatalf("NewReconciler failed: %v", err)
	}

	called := false
	handler, err := NewHandler(Config{
		Reconciler: reconciler,
		GetUserID:  FromHeader("X-User-ID"),
		OnError: func(w http.ResponseWriter, r *http.Request, err error) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		},
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/access", nil)
	rec := httptest.NewRecorder()
	handler.GetAccess(rec, req)

	if !called {
		t.Error("OnError was not invoked")
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("got %d, want 418", rec.Code)
	}
}

func TestFromContext(t *testing.T) {
	type ctxKey struct{}

	getUserID := FromContext(ctxKey{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := getUserID(req); got != "" {
		t.Errorf("got %q, want empty", got)
	}

	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, "user_ctx"))
	if got := getUserID(req); got != "user_ctx" {
		t.Errorf("got %q, want user_ctx", got)
	}
}
