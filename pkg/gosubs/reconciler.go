package gosubs

import (
	"context"
	"errors"
	"time"
)

// Reconciliation outcomes reported to metrics
const (
	outcomeApplied = "applied"
	outcomeNoop    = "noop"
	outcomeStale   = "stale"
	outcomeError   = "error"
)

// Reconciler applies inbound billing events to the authoritative subscription
// record under idempotency and ordering constraints. It is the single writer
// for subscription state: every webhook handler and direct user action funnels
// through Reconcile.
type Reconciler struct {
	store  Store
	config Config
}

// NewReconciler creates a reconciler backed by the given store
func NewReconciler(store Store, config Config) (*Reconciler, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}

	// Set defaults
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Reconciler{
		store:  store,
		config: config,
	}, nil
}

// Reconcile validates event, computes the resulting subscription state and
// applies it to the store. It returns the authoritative row after the event
// has been accounted for.
//
// Duplicate events are no-ops. Events that would move the billing period
// backward for the same external subscription id are ignored as stale: the
// unchanged current row is returned with a nil error, since stale deliveries
// are expected under at-least-once, out-of-order delivery. Cancellations and
// expirations take status precedence regardless of period ordering.
//
// When userID is empty the reconciler falls back to a store lookup by the
// event's external customer id; if that fails too the event is dropped with
// ErrMissingUserReference and the caller decides whether to retry or
// dead-letter it.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, event BillingEvent) (*Subscription, error) {
	startTime := time.Now()

	sub, outcome, err := r.reconcile(ctx, userID, event)

	r.config.Metrics.RecordReconcile(string(event.Kind), outcome)
	r.config.Metrics.RecordReconcileDuration(string(event.Kind), time.Since(startTime))
	return sub, err
}

func (r *Reconciler) reconcile(ctx context.Context, userID string, event BillingEvent) (*Subscription, string, error) {
	status, err := statusForEvent(event)
	if err != nil {
		return nil, outcomeError, err
	}

	// Events that imply a plan must carry a known one. Rejecting here keeps
	// malformed events from ever touching the store.
	if eventImpliesPlan(event.Kind) && !KnownPlan(event.Plan) {
		return nil, outcomeError, ErrInvalidPlanKind
	}

	// Resolve the owning user, falling back to the external customer id
	if userID == "" {
		if event.ExternalCustomerID == "" {
			return nil, outcomeError, ErrMissingUserReference
		}
		found, err := r.findByCustomer(ctx, event.ExternalCustomerID)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				return nil, outcomeError, ErrMissingUserReference
			}
			return nil, outcomeError, err
		}
		userID = found.UserID
	}

	existing, err := r.getActive(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, outcomeError, err
		}
		existing = nil
	}

	if event.Kind == EventSubscriptionDeleted && existing == nil {
		// Nothing to cancel yet. Failing lets the caller redeliver after the
		// out-of-order create event lands.
		return nil, outcomeError, ErrSubscriptionNotFound
	}

	// Resolve the plan: events that imply a plan must carry a known one;
	// renewal-style events may inherit the stored plan.
	plan := event.Plan
	if plan == "" && !eventImpliesPlan(event.Kind) && existing != nil {
		plan = existing.Plan
	}
	if !KnownPlan(plan) {
		return nil, outcomeError, ErrInvalidPlanKind
	}

	now := r.config.Now().UTC()

	next := &Subscription{}
	if existing != nil {
		*next = *existing
	} else {
		next.CreatedAt = now
	}
	next.UserID = userID
	next.Plan = plan
	next.Status = status
	if event.ExternalSubscriptionID != "" {
		next.ExternalSubscriptionID = event.ExternalSubscriptionID
	}
	if event.ExternalCustomerID != "" {
		next.ExternalCustomerID = event.ExternalCustomerID
	}

	// Deletions are pure status transitions; so are payment failures without
	// processor-supplied bounds. Neither may extend the paid period.
	statusOnly := event.Kind == EventSubscriptionDeleted ||
		(event.Kind == EventPaymentFailed && existing != nil && event.PeriodEnd == nil)

	if !statusOnly {
		// Anchor on the event's own timestamp, not on wall-clock time, so a
		// redelivery hours later computes the identical period and hits the
		// no-op short-circuit below.
		periodStart := now
		if !event.OccurredAt.IsZero() {
			periodStart = event.OccurredAt.UTC()
		}
		if event.PeriodStart != nil {
			periodStart = event.PeriodStart.UTC()
		}
		if event.PeriodEnd != nil {
			// Processor-supplied bounds are authoritative
			next.PeriodStart = periodStart
			next.PeriodEnd = event.PeriodEnd.UTC()
		} else {
			periodEnd, err := ComputePeriodEnd(periodStart, plan)
			if err != nil {
				return nil, outcomeError, err
			}
			next.PeriodStart = periodStart
			next.PeriodEnd = periodEnd
		}
	}

	// Idempotency: a redelivery that would change no persisted field is a
	// no-op with no store write.
	if existing != nil && samePersistedFields(existing, next) {
		r.config.Logger.Debug("duplicate billing event ignored",
			Field{Key: "user_id", Value: userID},
			Field{Key: "event_kind", Value: string(event.Kind)},
		)
		return existing, outcomeNoop, nil
	}

	// Out-of-order tolerance: reject period regressions for the same external
	// subscription id before touching the store.
	if existing != nil && regressesPeriod(existing, next) {
		r.config.Logger.Warn("stale billing event ignored",
			Field{Key: "user_id", Value: userID},
			Field{Key: "event_kind", Value: string(event.Kind)},
			Field{Key: "stored_period_end", Value: existing.PeriodEnd},
			Field{Key: "event_period_end", Value: next.PeriodEnd},
		)
		return existing, outcomeStale, nil
	}

	stored, err := r.upsert(ctx, next)
	if err != nil {
		if errors.Is(err, ErrStaleWrite) {
			// A concurrent delivery advanced the row between our read and
			// write; the store's conditional upsert caught it.
			r.config.Logger.Warn("stale billing event rejected by store",
				Field{Key: "user_id", Value: userID},
				Field{Key: "event_kind", Value: string(event.Kind)},
			)
			current, gerr := r.getActive(ctx, userID)
			if gerr != nil {
				return existing, outcomeStale, nil
			}
			return current, outcomeStale, nil
		}
		return nil, outcomeError, err
	}

	r.config.Logger.Info("billing event reconciled",
		Field{Key: "user_id", Value: userID},
		Field{Key: "event_kind", Value: string(event.Kind)},
		Field{Key: "plan", Value: string(stored.Plan)},
		Field{Key: "status", Value: string(stored.Status)},
		Field{Key: "period_end", Value: stored.PeriodEnd},
	)
	return stored, outcomeApplied, nil
}

// statusForEvent maps an event to the subscription status it produces.
// The switch is exhaustive over the event kinds; anything else fails with
// ErrUnknownEventKind.
func statusForEvent(event BillingEvent) (Status, error) {
	switch event.Kind {
	case EventCheckoutCompleted, EventPaymentSucceeded:
		return StatusActive, nil
	case EventPaymentFailed:
		return StatusPastDue, nil
	case EventSubscriptionDeleted:
		return StatusCancelled, nil
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if event.Status != "" {
			return ParseStatus(string(event.Status))
		}
		return StatusActive, nil
	default:
		return "", ErrUnknownEventKind
	}
}

// eventImpliesPlan reports whether the event kind must carry a plan identifier
func eventImpliesPlan(kind EventKind) bool {
	switch kind {
	case EventCheckoutCompleted, EventSubscriptionCreated, EventSubscriptionUpdated:
		return true
	default:
		return false
	}
}

// samePersistedFields reports whether two rows agree on every field the
// reconciler writes
func samePersistedFields(a, b *Subscription) bool {
	return a.UserID == b.UserID &&
		a.Plan == b.Plan &&
		a.Status == b.Status &&
		a.ExternalSubscriptionID == b.ExternalSubscriptionID &&
		a.ExternalCustomerID == b.ExternalCustomerID &&
		a.PeriodStart.Equal(b.PeriodStart) &&
		a.PeriodEnd.Equal(b.PeriodEnd)
}

// regressesPeriod reports whether applying next would move the stored period
// backward for the same external subscription id. Cancellations and
// expirations never count as regressions.
func regressesPeriod(existing, next *Subscription) bool {
	if next.Status == StatusCancelled || next.Status == StatusExpired {
		return false
	}
	if existing.ExternalSubscriptionID == "" ||
		existing.ExternalSubscriptionID != next.ExternalSubscriptionID {
		return false
	}
	return next.PeriodEnd.Before(existing.PeriodEnd)
}

// Timed store wrappers

func (r *Reconciler) getActive(ctx context.Context, userID string) (*Subscription, error) {
	start := time.Now()
	sub, err := r.store.GetActiveSubscription(ctx, userID)
	r.config.Metrics.RecordStoreOperation("get_active_subscription", time.Since(start), err)
	return sub, err
}

func (r *Reconciler) upsert(ctx context.Context, sub *Subscription) (*Subscription, error) {
	start := time.Now()
	stored, err := r.store.UpsertSubscription(ctx, sub)
	r.config.Metrics.RecordStoreOperation("upsert_subscription", time.Since(start), err)
	return stored, err
}

func (r *Reconciler) findByCustomer(ctx context.Context, customerID string) (*Subscription, error) {
	start := time.Now()
	sub, err := r.store.FindByExternalCustomerID(ctx, customerID)
	r.config.Metrics.RecordStoreOperation("find_by_external_customer_id", time.Since(start), err)
	return sub, err
}
