package gosubs

// planSpec bundles everything the catalog knows about a plan
type planSpec struct {
	interval CalendarInterval
	features FeatureSet
	phrase   string
}

// The static plan catalog. Trial and monthly are feature-limited;
// semiannual and annual unlock unlimited counts and all flags.
var planSpecs = map[PlanKind]planSpec{
	PlanTrial: {
		interval: CalendarInterval{Days: 30},
		features: FeatureSet{
			MaxCustomers: 100,
			MaxBranches:  1,
		},
		phrase: "30 days",
	},
	PlanMonthly: {
		interval: CalendarInterval{Months: 1},
		features: FeatureSet{
			MaxCustomers: 1000,
			MaxBranches:  3,
		},
		phrase: "1 month",
	},
	PlanSemiannual: {
		interval: CalendarInterval{Months: 6},
		features: FeatureSet{
			MaxCustomers:      -1,
			MaxBranches:       -1,
			AdvancedAnalytics: true,
			PrioritySupport:   true,
			CustomBranding:    true,
			APIAccess:         true,
		},
		phrase: "6 months",
	},
	PlanAnnual: {
		interval: CalendarInterval{Years: 1},
		features: FeatureSet{
			MaxCustomers:      -1,
			MaxBranches:       -1,
			AdvancedAnalytics: true,
			PrioritySupport:   true,
			CustomBranding:    true,
			APIAccess:         true,
		},
		phrase: "1 year",
	},
}

// IntervalFor returns the billing interval for a plan
func IntervalFor(plan PlanKind) (CalendarInterval, error) {
	spec, ok := planSpecs[plan]
	if !ok {
		return CalendarInterval{}, ErrInvalidPlanKind
	}
	return spec.interval, nil
}

// FeaturesFor returns the feature set for a plan
func FeaturesFor(plan PlanKind) (FeatureSet, error) {
	spec, ok := planSpecs[plan]
	if !ok {
		return FeatureSet{}, ErrInvalidPlanKind
	}
	return spec.features, nil
}

// KnownPlan reports whether plan is in the catalog
func KnownPlan(plan PlanKind) bool {
	_, ok := planSpecs[plan]
	return ok
}

// ParsePlanKind maps a raw plan string to a PlanKind.
// Unknown plans are rejected, never defaulted.
func ParsePlanKind(raw string) (PlanKind, error) {
	plan := PlanKind(raw)
	if !KnownPlan(plan) {
		return "", ErrInvalidPlanKind
	}
	return plan, nil
}
