package api

import "time"

// AccessResponse is the JSON shape of an access evaluation
type AccessResponse struct {
	UserID        string           `json:"user_id"`
	HasAccess     bool             `json:"has_access"`
	DaysRemaining int              `json:"days_remaining"`
	Features      FeaturesResponse `json:"features"`
}

// FeaturesResponse mirrors the plan feature set. Limits are -1 for unlimited.
type FeaturesResponse struct {
	MaxCustomers      int  `json:"max_customers"`
	MaxBranches       int  `json:"max_branches"`
	AdvancedAnalytics bool `json:"advanced_analytics"`
	PrioritySupport   bool `json:"priority_support"`
	CustomBranding    bool `json:"custom_branding"`
	APIAccess         bool `json:"api_access"`
}

// SubscriptionResponse is the JSON shape of the stored subscription row.
// Status is "none" when the user has no row yet and is covered by the
// new-user grace allowance.
type SubscriptionResponse struct {
	UserID      string     `json:"user_id"`
	Plan        string     `json:"plan,omitempty"`
	Status      string     `json:"status"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
}
