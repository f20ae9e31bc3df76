package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Intake metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_correlate_events_received_total",
			Help: "Total number of events submitted to the pipeline",
		},
		[]string{"source", "status"},
	)

	ValidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_correlate_validation_failures_total",
			Help: "Total number of events rejected at intake validation",
		},
	)

	DuplicateEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_correlate_duplicate_events_total",
			Help: "Total number of events skipped because a verdict already exists",
		},
	)

	// Queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kestrel_correlate_queue_depth",
			Help: "Current depth of each worker intake queue",
		},
		[]string{"worker"},
	)

	QueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_correlate_queue_capacity",
			Help: "Maximum capacity of each worker intake queue",
		},
	)

	// Analysis metrics
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_correlate_anomalies_detected_total",
			Help: "Total number of behavioral anomalies detected",
		},
		[]string{"pattern"},
	)

	ThreatChainsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_correlate_threat_chains_total",
			Help: "Total number of threat chains emitted",
		},
		[]string{"pattern"},
	)

	BaselinesTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_correlate_baselines_tracked",
			Help: "Number of entity baselines currently held in memory",
		},
	)

	GraphEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_correlate_graph_edges",
			Help: "Number of correlation edges currently held in memory",
		},
	)

	// Collaborator metrics
	OracleTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_correlate_oracle_timeouts_total",
			Help: "Total number of rule-oracle calls that timed out or failed",
		},
	)

	EnrichmentFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_correlate_enrichment_failures_total",
			Help: "Total number of failed knowledge-enrichment lookups",
		},
	)

	GraphQueryTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_correlate_graph_query_timeouts_total",
			Help: "Total number of correlation queries abandoned on timeout",
		},
	)

	StorageFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_correlate_storage_failures_total",
			Help: "Total number of failed persistence operations",
		},
	)

	// Verdict metrics
	VerdictsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_correlate_verdicts_emitted_total",
			Help: "Total number of verdicts emitted",
		},
		[]string{"degraded"},
	)

	RecommendationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_correlate_recommendations_created_total",
			Help: "Total number of rule recommendations generated",
		},
	)

	EventDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_correlate_event_duration_seconds",
			Help:    "End-to-end processing duration per event",
			Buckets: prometheus.DefBuckets,
		},
	)

	FeedbackApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_correlate_feedback_applied_total",
			Help: "Total number of analyst feedback records applied",
		},
		[]string{"kind"},
	)
)
