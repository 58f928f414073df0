package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scans counts validated scans by outcome reason ("ok" for accepted).
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_scans_total",
		Help: "Scans processed, labelled by validation outcome.",
	}, []string{"outcome"})

	// Transitions counts state machine transitions.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_transitions_total",
		Help: "Daily attendance transitions by kind and resulting status.",
	}, []string{"kind", "status"})

	// Consolidated counts duplicate rows removed.
	Consolidated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_duplicates_removed_total",
		Help: "Duplicate student-day rows deleted during consolidation.",
	})

	// SyncGroups counts bulk-sync student-day groups by outcome.
	SyncGroups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_sync_groups_total",
		Help: "Offline student-day groups reconciled, by outcome.",
	}, []string{"outcome"})

	// PoolWaits counts failed attempts to take a store slot.
	PoolWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_pool_waits_total",
		Help: "Attempts that found the store connection pool exhausted.",
	})
)
