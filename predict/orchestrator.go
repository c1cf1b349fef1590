package predict

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rollnav/accesscore/cache"
	"github.com/rollnav/accesscore/geo"
	"github.com/rollnav/accesscore/internal/metrics"
	"github.com/rollnav/accesscore/osm"
	"github.com/rollnav/accesscore/scoring"
	"github.com/rollnav/accesscore/viewport"
)

// Updater applies in-place feature mutations under the lock guarding the
// shared visible set, then announces the change. Satisfied by the viewport
// coordinator. The same pointer is patched, never replaced, so open detail
// popups and other transient UI tied to the feature survive. mutate returns
// the names of the changed fields; an empty return means nothing changed and
// nothing is announced.
type Updater interface {
	UpdateFeature(f *osm.Feature, mutate func(*osm.Feature) []string)
}

// Options configures an Orchestrator.
type Options struct {
	// ConfidenceThreshold is the minimum confidence for a prediction to be
	// applied. Below it a prediction is "no prediction", not an error.
	ConfidenceThreshold float64
}

// DefaultOptions returns the standard orchestrator tuning.
func DefaultOptions() Options {
	return Options{ConfidenceThreshold: 0.75}
}

// engine load states.
type engineState int

const (
	engineIdle engineState = iota
	engineLoading
	engineReady
	engineFailed
)

// Orchestrator lazily loads the inference engine and back-fills missing
// canonical attributes on already-rendered features. It never blocks its
// callers on the engine: Enrich returns immediately and applied predictions
// arrive later as in-place updates.
type Orchestrator struct {
	engine  Engine
	scorer  *scoring.Scorer
	updater Updater
	cache   *cache.Cache[FieldPrediction]
	opts    Options

	mu       sync.Mutex
	state    engineState
	enabled  bool
	queue    []batchRequest // enrich calls awaiting engine readiness
	applied  map[string]*osm.Feature
	restored map[string]*osm.Feature // had predictions, rolled back by disable

	seq    viewport.Sequencer
	flight singleflight.Group
	wg     sync.WaitGroup
}

type batchRequest struct {
	features []*osm.Feature
	center   geo.Point
	seq      uint64
}

// NewOrchestrator wires an orchestrator. predictionCache may be nil to skip
// cross-session prediction caching.
func NewOrchestrator(engine Engine, scorer *scoring.Scorer, updater Updater, predictionCache *cache.Cache[FieldPrediction], opts Options) *Orchestrator {
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = DefaultOptions().ConfidenceThreshold
	}
	return &Orchestrator{
		engine:   engine,
		scorer:   scorer,
		updater:  updater,
		cache:    predictionCache,
		opts:     opts,
		enabled:  true,
		applied:  make(map[string]*osm.Feature),
		restored: make(map[string]*osm.Feature),
	}
}

// WarmUp starts loading the engine ahead of the first Enrich call.
func (o *Orchestrator) WarmUp() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startEngineLocked()
}

// Enrich schedules prediction back-fill for the given features. It returns
// immediately; the features render unmodified first and the enriched subset
// is announced later through the Updater. center is the current viewport
// center, used to order batch inputs nearest first.
func (o *Orchestrator) Enrich(features []*osm.Feature, center geo.Point) {
	o.mu.Lock()
	if !o.enabled || o.state == engineFailed {
		o.mu.Unlock()
		return
	}

	req := batchRequest{features: features, center: center, seq: o.seq.Next()}

	switch o.state {
	case engineReady:
		o.mu.Unlock()
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runBatch(req)
		}()
	default:
		// Engine not loaded yet: queue and kick the load. Queued work is
		// flushed on success and dropped on failure.
		o.queue = append(o.queue, req)
		o.startEngineLocked()
		o.mu.Unlock()
	}
}

// startEngineLocked transitions idle → loading and spawns the load. Callers
// hold o.mu.
func (o *Orchestrator) startEngineLocked() {
	if o.state != engineIdle {
		return
	}
	o.state = engineLoading

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		err := o.engine.Init(context.Background())

		o.mu.Lock()
		if err != nil {
			// Engine load failure never crashes callers: pending work is
			// dropped and predictions stay disabled until re-enabled.
			o.state = engineFailed
			dropped := len(o.queue)
			o.queue = nil
			o.mu.Unlock()

			metrics.EngineFailures.Inc()
			slog.Warn("predict: engine load failed, predictions disabled",
				"dropped_batches", dropped, "error", err)
			return
		}

		o.state = engineReady
		pending := o.queue
		o.queue = nil
		o.mu.Unlock()

		slog.Info("predict: engine ready", "pending_batches", len(pending))
		for _, req := range pending {
			o.wg.Add(1)
			go func(r batchRequest) {
				defer o.wg.Done()
				o.runBatch(r)
			}(req)
		}
	}()
}

// runBatch selects prediction candidates, consults the prediction cache,
// makes at most one engine call for the whole set and applies the results.
func (o *Orchestrator) runBatch(req batchRequest) {
	// Only features with at least one missing canonical attribute are
	// candidates; complete features never reach the engine.
	var candidates []*osm.Feature
	for _, f := range req.features {
		if len(f.Attrs.Missing()) > 0 {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return
	}

	// Nearest-to-center first, so the visible middle of the map improves
	// before the edges.
	sort.SliceStable(candidates, func(i, j int) bool {
		return geo.Distance(candidates[i].Center(), req.center) <
			geo.Distance(candidates[j].Center(), req.center)
	})

	// Serve what the prediction cache already knows, collect the rest.
	var inputs []Input
	for _, f := range candidates {
		missing := o.uncachedFields(f)
		if len(missing) == 0 {
			continue
		}
		inputs = append(inputs, Input{
			StableID: f.StableID(),
			Tags:     f.Tags,
			Known:    knownAttrs(f.Attrs),
			Missing:  missing,
		})
	}

	var batch map[string]FieldPrediction
	if len(inputs) > 0 {
		// The re-entrancy guard: concurrent batches over the same feature
		// set collapse into one engine call.
		key := batchKey(inputs)
		v, err, _ := o.flight.Do(key, func() (any, error) {
			return o.engine.PredictBatch(context.Background(), inputs)
		})
		if err != nil {
			metrics.EngineFailures.Inc()
			slog.Warn("predict: batch call failed", "inputs", len(inputs), "error", err)
			return
		}

		batch = make(map[string]FieldPrediction)
		for _, res := range v.([]Result) {
			for _, fp := range res.Fields {
				k := predictionKey(res.StableID, fp.Field)
				batch[k] = fp
				if o.cache != nil {
					o.cache.Put(k, fp)
				}
			}
		}
	}

	// Superseded batches are cheap to discard here: a newer Enrich for the
	// stream has fresher candidates covering the same features.
	if !o.seq.IsCurrent(req.seq) {
		metrics.StaleResponsesDiscarded.Inc()
		slog.Debug("predict: discarding superseded batch", "seq", req.seq)
		return
	}

	for _, f := range candidates {
		o.applyPredictions(f, batch)
	}
}

// uncachedFields returns the missing canonical fields of f that the
// prediction cache cannot already answer.
func (o *Orchestrator) uncachedFields(f *osm.Feature) []string {
	missing := f.Attrs.Missing()
	if o.cache == nil {
		return missing
	}
	out := missing[:0]
	for _, field := range missing {
		if _, ok := o.cache.Get(predictionKey(f.StableID(), field)); !ok {
			out = append(out, field)
		}
	}
	return out
}

// applyPredictions applies every high-confidence prediction for fields of f
// that are still missing, preferring the batch's fresh answers and falling
// back to the prediction cache, then rescores and announces the change in
// place. All mutation happens inside the updater's lock, so filter and
// visibility reads of the shared feature never observe a torn update.
func (o *Orchestrator) applyPredictions(f *osm.Feature, batch map[string]FieldPrediction) {
	o.mu.Lock()
	enabled := o.enabled
	o.mu.Unlock()
	if !enabled {
		return
	}

	var applied []string
	o.update(f, func(f *osm.Feature) []string {
		var changed []string
		for _, field := range f.Attrs.Missing() {
			fp, ok := o.lookup(batch, f.StableID(), field)
			if !ok {
				continue
			}
			if fp.Confidence < o.opts.ConfidenceThreshold {
				metrics.PredictionsBelowThreshold.Inc()
				continue
			}
			// A present raw tag always wins over a prediction, whatever the
			// confidence.
			if f.Tags.Has(field) {
				continue
			}
			if !setPredictedField(f, field, fp) {
				continue
			}
			changed = append(changed, field)
		}
		if len(changed) == 0 {
			return nil
		}
		o.scorer.Rescore(f)
		applied = changed
		return changed
	})

	if len(applied) == 0 {
		return
	}
	metrics.PredictionsApplied.Add(float64(len(applied)))

	o.mu.Lock()
	o.applied[f.StableID()] = f
	delete(o.restored, f.StableID())
	o.mu.Unlock()
}

// lookup resolves one prediction: the current batch first, then the durable
// prediction cache when one is configured.
func (o *Orchestrator) lookup(batch map[string]FieldPrediction, stableID, field string) (FieldPrediction, bool) {
	key := predictionKey(stableID, field)
	if fp, ok := batch[key]; ok {
		return fp, true
	}
	if o.cache != nil {
		return o.cache.Get(key)
	}
	return FieldPrediction{}, false
}

// update routes a feature mutation through the updater's lock. A nil updater
// applies it directly; nothing else shares the feature then.
func (o *Orchestrator) update(f *osm.Feature, mutate func(*osm.Feature) []string) {
	if o.updater == nil {
		mutate(f)
		return
	}
	o.updater.UpdateFeature(f, mutate)
}

// setPredictedField writes a predicted value into the feature's canonical
// attributes, snapshotting the pre-prediction state first so disabling
// predictions can restore it exactly. Returns false when the value does not
// parse into the field's type.
func setPredictedField(f *osm.Feature, field string, fp FieldPrediction) bool {
	snapshotOnce(f)

	switch field {
	case osm.FieldSurface:
		v := fp.Value
		f.Attrs.Surface = &v
	case osm.FieldSmoothness:
		v := fp.Value
		f.Attrs.Smoothness = &v
	case osm.FieldIncline:
		parsed := parseNumeric(fp.Value)
		if parsed == nil {
			return false
		}
		f.Attrs.InclinePercent = parsed
	case osm.FieldWidth:
		parsed := parseNumeric(fp.Value)
		if parsed == nil {
			return false
		}
		f.Attrs.WidthMeters = parsed
	default:
		return false
	}

	if f.Predicted == nil {
		f.Predicted = make(map[string]osm.PredictionMeta)
	}
	f.Predicted[field] = osm.PredictionMeta{
		Confidence:   fp.Confidence,
		Alternatives: fp.Alternatives,
	}
	return true
}

// snapshotOnce preserves the feature's pre-prediction derived state. Only
// the first prediction takes the snapshot; later ones must not overwrite the
// true original.
func snapshotOnce(f *osm.Feature) {
	if f.Original != nil {
		return
	}
	f.Original = &osm.Snapshot{
		Attrs: f.Attrs,
		Score: f.Score,
		Hint:  f.Hint,
	}
}

// SetEnabled toggles prediction application. Disabling is a pure
// presentation switch: every feature holding predictions is restored to its
// preserved pre-prediction state (no re-query, no re-scoring from raw tags)
// and announced in place. Re-enabling re-applies from the prediction cache.
func (o *Orchestrator) SetEnabled(enabled bool) {
	o.mu.Lock()
	if o.enabled == enabled {
		o.mu.Unlock()
		return
	}
	o.enabled = enabled

	if !enabled {
		applied := o.applied
		o.applied = make(map[string]*osm.Feature)
		for id, f := range applied {
			o.restored[id] = f
		}
		o.mu.Unlock()

		for _, f := range applied {
			o.update(f, func(f *osm.Feature) []string {
				restoreSnapshot(f)
				return []string{"predictions"}
			})
		}
		return
	}

	// Re-enable: features rolled back earlier get their cached predictions
	// back without touching the engine.
	restored := o.restored
	o.restored = make(map[string]*osm.Feature)
	if o.state == engineFailed {
		// A failed engine may be retried on the next enrich.
		o.state = engineIdle
	}
	o.mu.Unlock()

	for _, f := range restored {
		o.applyPredictions(f, nil)
	}
}

// Enabled reports whether predictions are currently applied.
func (o *Orchestrator) Enabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled
}

// Close waits for in-flight batches and shuts the engine down.
func (o *Orchestrator) Close() error {
	o.wg.Wait()
	return o.engine.Close()
}

// restoreSnapshot puts a feature back exactly as it looked before the first
// prediction was applied.
func restoreSnapshot(f *osm.Feature) {
	if f.Original == nil {
		return
	}
	f.Attrs = f.Original.Attrs
	f.Score = f.Original.Score
	f.Hint = f.Original.Hint
	f.Predicted = nil
	f.Original = nil
}

func predictionKey(stableID, field string) string {
	return stableID + "#" + field
}

// batchKey derives the re-entrancy guard key: the sorted identity signature
// of the batch.
func batchKey(inputs []Input) string {
	ids := make([]string, len(inputs))
	for i, in := range inputs {
		ids[i] = in.StableID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// knownAttrs renders the present canonical attributes as strings for the
// model's feature extraction.
func knownAttrs(a osm.CanonicalAttributes) map[string]string {
	out := make(map[string]string)
	if a.Surface != nil {
		out[osm.FieldSurface] = *a.Surface
	}
	if a.Smoothness != nil {
		out[osm.FieldSmoothness] = *a.Smoothness
	}
	if a.InclinePercent != nil {
		out[osm.FieldIncline] = formatFloat(*a.InclinePercent)
	}
	if a.WidthMeters != nil {
		out[osm.FieldWidth] = formatFloat(*a.WidthMeters)
	}
	return out
}

func parseNumeric(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
