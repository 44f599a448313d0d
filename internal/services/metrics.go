package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dropped stale writes and rejected duplicate deltas are expected outcomes
// of the idempotency guards; they are surfaced as telemetry only, never as
// caller-visible errors.
var (
	staleFieldWritesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_stale_field_writes_dropped_total",
		Help: "Auto-save field writes dropped by the monotonic timestamp guard.",
	})

	duplicateSessionDeltas = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_duplicate_session_deltas_total",
		Help: "Session counter deltas rejected because their idempotency key was already applied.",
	})
)
