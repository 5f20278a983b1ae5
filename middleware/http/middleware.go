// Package http provides HTTP middleware for subscription access gating
package http

import (
	"context"
	"net/http"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// FeatureCheck inspects the evaluated feature set and reports whether the
// request may proceed. Used to gate individual routes on plan features,
// for example requiring APIAccess on programmatic endpoints.
type FeatureCheck func(gosubs.FeatureSet) bool

// Config holds middleware configuration
type Config struct {
	// Reconciler is the subscription reconciler instance
	Reconciler *gosubs.Reconciler

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// RequireFeature optionally gates the route on a plan feature, evaluated
	// after the access check passes. If nil, any entitled user passes.
	RequireFeature FeatureCheck

	// OnDenied is called when the user is not entitled
	// If nil, returns 402 Payment Required
	OnDenied func(w http.ResponseWriter, r *http.Request, decision gosubs.AccessDecision)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)
}

// Middleware creates an HTTP middleware that gates requests on subscription
// access. The access decision is attached to the request context so handlers
// can read the feature set without a second evaluation.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Reconciler == nil {
		panic("gosubs/http: Config.Reconciler is required")
	}
	if config.GetUserID == nil {
		panic("gosubs/http: Config.GetUserID is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			decision := config.Reconciler.EvaluateAccess(r.Context(), userID)

			denied := !decision.HasAccess
			if !denied && config.RequireFeature != nil {
				denied = !config.RequireFeature(decision.Features)
			}
			if denied {
				if config.OnDenied != nil {
					config.OnDenied(w, r, decision)
				} else {
					http.Error(w, "Payment Required", http.StatusPaymentRequired)
				}
				return
			}

			ctx := WithDecision(r.Context(), decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandlerFunc creates an HTTP middleware that gates requests (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "gosubs:userID"

	// decisionKey is the context key for the access decision
	decisionKey ContextKey = "gosubs:decision"
)

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithDecision attaches an access decision to a context
func WithDecision(ctx context.Context, decision gosubs.AccessDecision) context.Context {
	return context.WithValue(ctx, decisionKey, decision)
}

// DecisionFromContext retrieves the access decision set by Middleware.
// The second return is false when no middleware ran upstream.
func DecisionFromContext(ctx context.Context) (gosubs.AccessDecision, bool) {
	decision, ok := ctx.Value(decisionKey).(gosubs.AccessDecision)
	return decision, ok
}

// Common extractors for convenience

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}
