package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recommendation paths for recommendationsTotal.
const (
	pathCollaborative = "collaborative"
	pathColdStart     = "cold_start"
	pathSimilar       = "similar"
)

var (
	snapshotBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodrec_snapshot_builds_total",
			Help: "Snapshot builds by result (success, error)",
		},
		[]string{"result"},
	)

	snapshotBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prodrec_snapshot_build_duration_seconds",
			Help:    "Time to build a recommendation snapshot from the store",
			Buckets: prometheus.DefBuckets,
		},
	)

	snapshotUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prodrec_snapshot_users",
			Help: "Users in the current rating matrix",
		},
	)

	snapshotProducts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prodrec_snapshot_products",
			Help: "Products in the current content index",
		},
	)

	recommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodrec_recommendations_total",
			Help: "Recommendation requests served by path (collaborative, cold_start, similar)",
		},
		[]string{"path"},
	)
)
