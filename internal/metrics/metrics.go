// Package metrics holds the Prometheus counters shared across the library.
// Registration happens once at init; hosts scrape the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CacheHits counts volatile-tier cache hits per namespace.
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accesscore_cache_hits_total",
		Help: "Volatile cache hits by namespace.",
	}, []string{"namespace"})

	// CacheMisses counts volatile-tier cache misses per namespace.
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accesscore_cache_misses_total",
		Help: "Volatile cache misses by namespace.",
	}, []string{"namespace"})

	// DurableWriteFailures counts fire-and-forget durable writes that failed.
	DurableWriteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accesscore_cache_durable_write_failures_total",
		Help: "Durable store writes that failed and were dropped.",
	}, []string{"namespace"})

	// GatewayAttempts counts upstream query attempts per endpoint.
	GatewayAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accesscore_gateway_attempts_total",
		Help: "Upstream query attempts by endpoint.",
	}, []string{"endpoint"})

	// GatewayFailovers counts endpoint exhaustions that advanced to the next
	// endpoint in the list.
	GatewayFailovers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accesscore_gateway_failovers_total",
		Help: "Endpoint exhaustions that failed over to the next endpoint.",
	})

	// GatewayExhaustions counts queries for which every endpoint failed.
	GatewayExhaustions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accesscore_gateway_exhaustions_total",
		Help: "Queries that exhausted every configured endpoint.",
	})

	// ViewportFetches counts ID-first fetch rounds started.
	ViewportFetches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accesscore_viewport_fetches_total",
		Help: "Viewport fetch rounds started after debounce.",
	})

	// StaleResponsesDiscarded counts responses dropped because a newer
	// sequence superseded them before arrival.
	StaleResponsesDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accesscore_stale_responses_discarded_total",
		Help: "Superseded async results discarded before mutating state.",
	})

	// FeaturesFetched counts full records fetched from upstream.
	FeaturesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accesscore_features_fetched_total",
		Help: "Full feature records fetched from upstream.",
	})

	// FeaturesFromCache counts features served from the identity cache
	// without a full-record fetch.
	FeaturesFromCache = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accesscore_features_from_cache_total",
		Help: "Features served from the identity cache.",
	})

	// PredictionsApplied counts predicted values applied to features.
	PredictionsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accesscore_predictions_applied_total",
		Help: "Predicted attribute values applied to features.",
	})

	// PredictionsBelowThreshold counts predictions discarded for low
	// confidence.
	PredictionsBelowThreshold = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accesscore_predictions_below_threshold_total",
		Help: "Predictions discarded because confidence was below threshold.",
	})

	// EngineFailures counts inference engine load or batch failures.
	EngineFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accesscore_engine_failures_total",
		Help: "Inference engine init or batch call failures.",
	})
)

func init() {
	prometheus.MustRegister(
		CacheHits,
		CacheMisses,
		DurableWriteFailures,
		GatewayAttempts,
		GatewayFailovers,
		GatewayExhaustions,
		ViewportFetches,
		StaleResponsesDiscarded,
		FeaturesFetched,
		FeaturesFromCache,
		PredictionsApplied,
		PredictionsBelowThreshold,
		EngineFailures,
	)
}
