// Package fiber provides Fiber middleware for subscription access gating
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/loyaltyforge/gosubs/pkg/gosubs"
)

// DecisionContextKey is the Fiber locals key under which the middleware stores
// the evaluated access decision
const DecisionContextKey = "gosubs:decision"

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

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
	OnDenied func(c *fiber.Ctx, decision gosubs.AccessDecision) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error
}

// Middleware creates a Fiber middleware that gates requests on subscription
// access. On success the decision is stored in Fiber locals under
// DecisionContextKey.
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Reconciler == nil {
		panic("gosubs/fiber: Config.Reconciler is required")
	}
	if cfg.GetUserID == nil {
		panic("gosubs/fiber: Config.GetUserID is required")
	}

	// Set defaults
	if cfg.DeniedStatusCode == 0 {
		cfg.DeniedStatusCode = fiber.StatusPaymentRequired
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return defaultUnauthorized(c)
		}

		decision := cfg.Reconciler.EvaluateAccess(c.UserContext(), userID)

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

		c.Locals(DecisionContextKey, decision)
		return c.Next()
	}
}

// DecisionFromContext retrieves the access decision stored by Middleware.
// The second return is false when no middleware ran upstream.
func DecisionFromContext(c *fiber.Ctx) (gosubs.AccessDecision, bool) {
	if decision, ok := c.Locals(DecisionContextKey).(gosubs.AccessDecision); ok {
		return decision, true
	}
	return gosubs.AccessDecision{}, false
}

// Default error handlers

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func defaultDenied(c *fiber.Ctx, decision gosubs.AccessDecision, statusCode int) error {
	return c.Status(statusCode).JSON(fiber.Map{
		"error":          "Subscription required",
		"days_remaining": decision.DaysRemaining,
	})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Fiber locals
func FromContext(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter
func FromQuery(queryName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(queryName)
	}
}
