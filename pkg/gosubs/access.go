package gosubs

import (
	"context"
	"errors"
	"math"
	"time"
)

// GraceDays is the fixed allowance granted to users with no subscription on
// record. It is a constant, not computed from any stored date: brand-new
// users are never locked out before their first subscription row exists.
const GraceDays = 30

// Evaluate derives an access decision from a subscription snapshot.
// A nil subscription yields the new-user grace decision: access granted with
// trial features and GraceDays remaining. Evaluate never fails; a stored row
// with an unrecognizable plan degrades to trial features.
func Evaluate(sub *Subscription, now time.Time) AccessDecision {
	if sub == nil {
		return graceDecision()
	}

	features, err := FeaturesFor(sub.Plan)
	if err != nil {
		features = planSpecs[PlanTrial].features
	}

	remaining := sub.PeriodEnd.Sub(now)
	days := 0
	if remaining > 0 {
		days = int(math.Ceil(remaining.Hours() / 24))
	}

	return AccessDecision{
		HasAccess:     sub.Status == StatusActive && now.Before(sub.PeriodEnd),
		Features:      features,
		DaysRemaining: days,
	}
}

// EvaluateAccess loads the user's subscription and evaluates it.
//
// On store failure the default policy fails open: the caller gets the grace
// decision rather than a lockout, by explicit product policy. Config.FailClosed
// flips this to deny access on store failure. EvaluateAccess never returns an
// error either way.
func (r *Reconciler) EvaluateAccess(ctx context.Context, userID string) AccessDecision {
	now := r.config.Now().UTC()

	sub, err := r.getActive(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			decision := Evaluate(nil, now)
			r.config.Metrics.RecordAccessDecision(decision.HasAccess, false)
			return decision
		}

		r.config.Logger.Error("access evaluation store failure",
			Field{Key: "user_id", Value: userID},
			Field{Key: "fail_closed", Value: r.config.FailClosed},
			Field{Key: "error", Value: err},
		)
		if r.config.FailClosed {
			r.config.Metrics.RecordAccessDecision(false, false)
			return AccessDecision{}
		}
		decision := graceDecision()
		r.config.Metrics.RecordAccessDecision(decision.HasAccess, true)
		return decision
	}

	decision := Evaluate(sub, now)
	r.config.Metrics.RecordAccessDecision(decision.HasAccess, false)
	return decision
}

// Subscription returns the authoritative subscription row for a user.
// Returns ErrSubscriptionNotFound when no row exists yet.
func (r *Reconciler) Subscription(ctx context.Context, userID string) (*Subscription, error) {
	return r.getActive(ctx, userID)
}

// PlanFeatures exposes the catalog lookup to application code
func (r *Reconciler) PlanFeatures(plan PlanKind) (FeatureSet, error) {
	return FeaturesFor(plan)
}

func graceDecision() AccessDecision {
	return AccessDecision{
		HasAccess:     true,
		Features:      planSpecs[PlanTrial].features,
		DaysRemaining: GraceDays,
	}
}
