// Package accesscore enriches crowd-sourced geospatial map features with
// accessibility metadata, scores them on a normalized 0-100 scale and keeps
// a viewport-scrolling map populated with minimal network cost.
//
// The library has no process entry point; a host application constructs a
// Core with its renderer and configuration and feeds it viewport events:
//
//	store, _ := cache.NewSQLiteStore("features.db", "features")
//	cfg := accesscore.DefaultConfig()
//	cfg.Endpoints = []string{"https://overpass-api.de/api/interpreter"}
//	cfg.FeatureStore = store
//	cfg.Engine = predict.NewWorkerEngine("scripts/run_model.sh")
//
//	core, err := accesscore.New(cfg, renderer)
//	if err != nil { ... }
//	defer core.Close()
//
//	core.Viewport.ViewportChanged(bounds, zoom)
//
// When cfg.Engine is set, every rendered feature with missing canonical
// attributes is handed to the inference engine automatically and the
// back-filled values arrive later as in-place updates on the renderer.
package accesscore

import (
	"context"

	"github.com/rollnav/accesscore/cache"
	"github.com/rollnav/accesscore/osm"
	"github.com/rollnav/accesscore/overpass"
	"github.com/rollnav/accesscore/predict"
	"github.com/rollnav/accesscore/scoring"
	"github.com/rollnav/accesscore/viewport"
)

// Core wires the fetch coordinator, caches, scorer and inference
// orchestrator together over one configuration.
type Core struct {
	Features    *cache.Cache[*osm.Feature]
	Predictions *cache.Cache[predict.FieldPrediction]
	Scorer      *scoring.Scorer
	Gateway     *overpass.Gateway
	Viewport    *viewport.Coordinator
	Predictor   *predict.Orchestrator
}

// New constructs and wires a Core. renderer is the host's presentation
// boundary; it receives both full viewport renders and in-place feature
// updates.
func New(cfg Config, renderer viewport.Renderer) (*Core, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(cfg.Selectors) == 0 {
		cfg.Selectors = overpass.DefaultSelectors()
	}

	scorer := scoring.New(cfg.Weights, cfg.Thresholds)
	gateway := overpass.NewGateway(cfg.Endpoints, cfg.Retry, nil)

	features := cache.New[*osm.Feature]("features", cfg.FeatureStore)
	predictions := cache.New[predict.FieldPrediction]("predictions", cfg.PredictionStore)

	// Every viewport render flows through the wrapper so freshly rendered
	// features are handed straight to the predictor for back-fill.
	wrapped := &enrichingRenderer{renderer: renderer}
	coordinator := viewport.NewCoordinator(gateway, features, scorer, wrapped, viewport.Options{
		Selectors:        cfg.Selectors,
		DebounceInterval: cfg.DebounceInterval,
		MinFetchZoom:     cfg.MinFetchZoom,
	})

	var orchestrator *predict.Orchestrator
	if cfg.Engine != nil {
		// The coordinator is the orchestrator's updater: prediction writes
		// land under the same lock that guards filter and visibility reads.
		orchestrator = predict.NewOrchestrator(cfg.Engine, scorer, coordinator, predictions, predict.Options{
			ConfidenceThreshold: cfg.ConfidenceThreshold,
		})
		wrapped.predictor = orchestrator
	}

	return &Core{
		Features:    features,
		Predictions: predictions,
		Scorer:      scorer,
		Gateway:     gateway,
		Viewport:    coordinator,
		Predictor:   orchestrator,
	}, nil
}

// enrichingRenderer forwards renders to the host's renderer and schedules
// prediction back-fill for the freshly rendered set.
type enrichingRenderer struct {
	renderer  viewport.Renderer
	predictor *predict.Orchestrator
}

func (r *enrichingRenderer) RenderViewport(features []*osm.Feature, req viewport.Request) {
	if r.renderer != nil {
		r.renderer.RenderViewport(features, req)
	}
	if r.predictor != nil && len(features) > 0 {
		r.predictor.Enrich(features, req.Bounds.Center())
	}
}

func (r *enrichingRenderer) UpdateFeature(f *osm.Feature, changedFields []string) {
	if r.renderer != nil {
		r.renderer.UpdateFeature(f, changedFields)
	}
}

// LoadCaches flushes the durable cache tiers into memory. Call once at
// startup; later calls are no-ops. Failures are non-fatal, the caches keep
// working volatile-only.
func (c *Core) LoadCaches(ctx context.Context) {
	c.Features.LoadDurable(ctx)
	c.Predictions.LoadDurable(ctx)
}

// Close tears the core down: coordinator first so no new work reaches the
// caches, then the predictor and engine, then the stores.
func (c *Core) Close() error {
	c.Viewport.Close()
	if c.Predictor != nil {
		c.Predictor.Close()
	}
	errFeatures := c.Features.Close()
	errPredictions := c.Predictions.Close()
	if errFeatures != nil {
		return errFeatures
	}
	return errPredictions
}
