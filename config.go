package accesscore

import (
	"fmt"
	"time"

	"github.com/rollnav/accesscore/cache"
	"github.com/rollnav/accesscore/overpass"
	"github.com/rollnav/accesscore/predict"
	"github.com/rollnav/accesscore/retry"
	"github.com/rollnav/accesscore/scoring"
	"github.com/rollnav/accesscore/viewport"
)

// Config is the whole configuration surface of the library. The host owns
// loading (env, files, flags); this struct is plain values only.
type Config struct {
	// Endpoints are the interchangeable upstream query service URLs, tried
	// in order.
	Endpoints []string

	// Selectors are the upstream tag-selector expressions. Empty uses
	// overpass.DefaultSelectors.
	Selectors []string

	// Retry is the per-endpoint retry policy.
	Retry retry.Policy

	// Weights and Thresholds tune the scorer. Zero values use defaults.
	Weights    scoring.Weights
	Thresholds scoring.Thresholds

	// ConfidenceThreshold is the minimum prediction confidence to apply.
	ConfidenceThreshold float64

	// DebounceInterval coalesces viewport-change events.
	DebounceInterval time.Duration

	// MinFetchZoom is the zoom level below which fetching is skipped.
	MinFetchZoom int

	// FeatureStore is the durable tier for the feature identity cache.
	// nil keeps the cache volatile-only.
	FeatureStore cache.Store

	// PredictionStore is the durable tier for prediction results. nil keeps
	// that cache volatile-only.
	PredictionStore cache.Store

	// Engine is the inference engine. nil disables prediction enrichment.
	Engine predict.Engine
}

// DefaultConfig returns a configuration with every tunable at its default.
// Endpoints, stores and engine still need to be supplied by the host.
func DefaultConfig() Config {
	return Config{
		Selectors:           overpass.DefaultSelectors(),
		Retry:               retry.DefaultPolicy(),
		Weights:             scoring.DefaultWeights(),
		Thresholds:          scoring.DefaultThresholds(),
		ConfidenceThreshold: predict.DefaultOptions().ConfidenceThreshold,
		DebounceInterval:    viewport.DefaultOptions().DebounceInterval,
		MinFetchZoom:        viewport.DefaultOptions().MinFetchZoom,
	}
}

// validate checks the host-supplied parts of the configuration.
func (c Config) validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("accesscore: at least one endpoint is required")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("accesscore: confidence threshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	if c.DebounceInterval < 0 {
		return fmt.Errorf("accesscore: negative debounce interval")
	}
	return nil
}
