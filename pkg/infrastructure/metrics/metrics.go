package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine and HTTP metrics, registered on the default registry through promauto.

var (
	// ExplosionsTotal counts BOM explosions by outcome (ok, cycle, max_depth, canceled, error)
	ExplosionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bomengine_explosions_total",
			Help: "Total number of BOM explosions",
		},
		[]string{"outcome"},
	)

	// ExplodedNodes tracks the size of exploded trees, diamonds counted once per path
	ExplodedNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bomengine_exploded_nodes",
			Help:    "Number of nodes in an exploded BOM tree",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	// CycleRejectionsTotal counts writes refused because they would close a cycle
	CycleRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bomengine_cycle_rejections_total",
			Help: "Total number of composition writes rejected as cyclic",
		},
	)

	// VersionConflictsTotal counts lost createNewVersion races, each followed by a retry or failure
	VersionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bomengine_version_conflicts_total",
			Help: "Total number of version conflicts detected while creating BOM versions",
		},
	)

	// VersionsCreatedTotal counts committed generations
	VersionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bomengine_versions_created_total",
			Help: "Total number of BOM versions created",
		},
	)

	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bomengine_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bomengine_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)
