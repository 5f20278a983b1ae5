package gosubs

import "time"

// Metrics defines the interface for tracking reconciliation operations.
type Metrics interface {
	// RecordReconcile records a reconciliation attempt.
	// outcome: "applied", "noop", "stale" or "error".
	RecordReconcile(eventKind, outcome string)

	// RecordReconcileDuration records how long a reconciliation took.
	RecordReconcileDuration(eventKind string, duration time.Duration)

	// RecordAccessDecision records an access evaluation result.
	// failOpen is true when the decision was produced by the fail-open path.
	RecordAccessDecision(granted, failOpen bool)

	// RecordStoreOperation records the duration and status of a store operation.
	RecordStoreOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordReconcile(eventKind, outcome string)                       {}
func (n *NoopMetrics) RecordReconcileDuration(eventKind string, d time.Duration)       {}
func (n *NoopMetrics) RecordAccessDecision(granted, failOpen bool)                     {}
func (n *NoopMetrics) RecordStoreOperation(op string, d time.Duration, err error)      {}
