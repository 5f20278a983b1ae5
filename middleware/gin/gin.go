// Package gin provides Gin middleware for subscription access gating
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// DecisionContextKey is the Gin context key under which the middleware stores
// the evaluated access decision
const DecisionContextKey = "gosubs:decision"

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// FeatureCheck inspects the evaluated feature set and reports whether the
// request may proceed
type FeatureCheck func(gosubs.FeatureSet) bool

// Config holds middleware configuration
type Config struct {
	// Reconciler is the subscription reconciler instance
	Reconciler *gosubs.Reconciler

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// RequireFeature optionally gates the route on a plan feature, evaluated
	// after the access check passes. If nil, any entitled user passes.
	RequireFeature FeatureCheck

	// DeniedStatusCode is the HTTP status code to return when access is denied
	// Default: 402 (Payment Required)
	DeniedStatusCode int

	// OnDenied is called when the user is not entitled
	// If nil, uses default response: DeniedStatusCode JSON with days remaining
	OnDenied func(c *gongin.Context, decision gosubs.AccessDecision)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)
}

// Middleware creates a Gin middleware that gates requests on subscription
// access. On success the decision is stored in the Gin context under
// DecisionContextKey.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Reconciler == nil {
		panic("gosubs/gin: Config.Reconciler is required")
	}
	if cfg.GetUserID == nil {
		panic("gosubs/gin: Config.GetUserID is required")
	}

	// Set defaults
	if cfg.DeniedStatusCode == 0 {
		cfg.DeniedStatusCode = http.StatusPaymentRequired
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				defaultUnauthorized(c)
			}
			c.Abort()
			return
		}

		decision := cfg.Reconciler.EvaluateAccess(c.Request.Context(), userID)

		denied := !decision.HasAccess
		if !denied && cfg.RequireFeature != nil {
			denied = !cfg.RequireFeature(decision.Features)
		}
		if denied {
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, decision)
			} else {
				defaultDenied(c, decision, cfg.DeniedStatusCode)
			}
			c.Abort()
			return
		}

		c.Set(DecisionContextKey, decision)
		c.Next()
	}
}

// DecisionFromContext retrieves the access decision stored by Middleware.
// The second return is false when no middleware ran upstream.
func DecisionFromContext(c *gongin.Context) (gosubs.AccessDecision, bool) {
	if val, exists := c.Get(DecisionContextKey); exists {
		if decision, ok := val.(gosubs.AccessDecision); ok {
			return decision, true
		}
	}
	return gosubs.AccessDecision{}, false
}

// Default error handlers

func defaultUnauthorized(c *gongin.Context) {
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
}

func defaultDenied(c *gongin.Context, decision gosubs.AccessDecision, statusCode int) {
	c.JSON(statusCode, gongin.H{
		"error":          "Subscription required",
		"days_remaining": decision.DaysRemaining,
	})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Set("UserID", "...") or similar.
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter
func FromQuery(queryName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Query(queryName)
	}
}
