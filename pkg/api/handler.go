// Package api provides ready-made HTTP endpoints for subscription and access
// inspection. Handlers are plain http.HandlerFunc methods so they mount on any
// router.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

const (
	statusNone   = "none"
	maxUserIDLen = 255
)

// Handler provides HTTP endpoints for subscription inspection
type Handler struct {
	config Config
}

// GetAccess evaluates the caller's entitlement and returns the decision.
// The evaluation never fails: a store outage degrades per the reconciler's
// fail-open or fail-closed policy, so this endpoint always answers 200 for an
// authenticated user.
func (h *Handler) GetAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	decision := h.config.Reconciler.EvaluateAccess(r.Context(), userID)

	h.writeJSON(w, http.StatusOK, AccessResponse{
		UserID:        userID,
		HasAccess:     decision.HasAccess,
		DaysRemaining: decision.DaysRemaining,
		Features:      featuresResponse(decision.Features),
	})
}

// GetSubscription returns the caller's stored subscription row. A user with no
// row yet gets status "none" rather than a 404: absence is a normal state for
// new users inside the grace allowance.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	sub, err := h.config.Reconciler.Subscription(r.Context(), userID)
	if err != nil {
		if errors.Is(err, gosubs.ErrSubscriptionNotFound) {
			h.writeJSON(w, http.StatusOK, SubscriptionResponse{
				UserID: userID,
				Status: statusNone,
			})
			return
		}
		h.handleError(w, r, fmt.Errorf("failed to load subscription: %w", err), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, SubscriptionResponse{
		UserID:      sub.UserID,
		Plan:        string(sub.Plan),
		Status:      string(sub.Status),
		PeriodStart: &sub.PeriodStart,
		PeriodEnd:   &sub.PeriodEnd,
	})
}

// requireUserID extracts and validates the caller's user id, writing the
// error response itself when extraction fails
func (h *Handler) requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return "", false
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return "", false
	}
	return userID, true
}

func featuresResponse(f gosubs.FeatureSet) FeaturesResponse {
	return FeaturesResponse{
		MaxCustomers:      f.MaxCustomers,
		MaxBranches:       f.MaxBranches,
		AdvancedAnalytics: f.AdvancedAnalytics,
		PrioritySupport:   f.PrioritySupport,
		CustomBranding:    f.CustomBranding,
		APIAccess:         f.APIAccess,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Response already committed; nothing useful left to do
		return
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	h.writeJSON(w, statusCode, map[string]string{
		"error": err.Error(),
	})
}
