// Package echo provides Echo middleware for subscription access gating
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// DecisionContextKey is the Echo context key under which the middleware stores
// the evaluated access decision
const DecisionContextKey = "gosubs:decision"

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

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
	OnDenied func(c echo.Context, decision gosubs.AccessDecision) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error
}

// Middleware creates an Echo middleware that gates requests on subscription
// access. On success the decision is stored in the Echo context under
// DecisionContextKey.
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Reconciler == nil {
		panic("gosubs/echo: Config.Reconciler is required")
	}
	if cfg.GetUserID == nil {
		panic("gosubs/echo: Config.GetUserID is required")
	}

	// Set defaults
	if cfg.DeniedStatusCode == 0 {
		cfg.DeniedStatusCode = http.StatusPaymentRequired
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return defaultUnauthorized(c)
			}

			decision := cfg.Reconciler.EvaluateAccess(c.Request().Context(), userID)

			denied := !decision.HasAccess
			if !denied && cfg.RequireFeature != nil {
				denied = !cfg.RequireFeature(decision.Features)
			}
			if denied {
				if cfg.OnDenied != nil {
					return cfg.OnDenied(c, decision)
				}
				return defaultDenied(c, decision, cfg.DeniedStatusCode)
			}

			c.Set(DecisionContextKey, decision)
			return next(c)
		}
	}
}

// DecisionFromContext retrieves the access decision stored by Middleware.
// The second return is false when no middleware ran upstream.
func DecisionFromContext(c echo.Context) (gosubs.AccessDecision, bool) {
	if decision, ok := c.Get(DecisionContextKey).(gosubs.AccessDecision); ok {
		return decision, true
	}
	return gosubs.AccessDecision{}, false
}

// Default error handlers

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{"error": "Unauthorized"})
}

func defaultDenied(c echo.Context, decision gosubs.AccessDecision, statusCode int) error {
	return c.JSON(statusCode, map[string]interface{}{
		"error":          "Subscription required",
		"days_remaining": decision.DaysRemaining,
	})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter
func FromQuery(queryName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.QueryParam(queryName)
	}
}
