package viewport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rollnav/accesscore/cache"
	"github.com/rollnav/accesscore/geo"
	"github.com/rollnav/accesscore/internal/metrics"
	"github.com/rollnav/accesscore/osm"
	"github.com/rollnav/accesscore/scoring"
	"github.com/rollnav/accesscore/tags"
)

// Request is one debounced viewport change. Any Request with a higher Seq
// supersedes it: in-flight work for the older request is cancelled and its
// results discarded on arrival.
type Request struct {
	Bounds geo.Bounds
	Zoom   int
	Seq    uint64
}

// Gateway is the slice of the upstream client the coordinator needs.
type Gateway interface {
	QueryIDs(ctx context.Context, bounds geo.Bounds, selectors []string) ([]osm.ElementID, error)
	QueryFull(ctx context.Context, ids []osm.ElementID) ([]*osm.Feature, error)
}

// Renderer is the presentation boundary. RenderViewport replaces the visible
// set for a settled viewport; UpdateFeature patches one already-rendered
// feature in place (same identity, updated attributes) so transient UI state
// tied to it survives.
type Renderer interface {
	RenderViewport(features []*osm.Feature, req Request)
	UpdateFeature(f *osm.Feature, changedFields []string)
}

// Options configures a Coordinator.
type Options struct {
	// Selectors are the upstream tag-selector expressions.
	Selectors []string

	// DebounceInterval is the quiet window for coalescing viewport events.
	DebounceInterval time.Duration

	// MinFetchZoom is the zoom level below which no fetching happens: the
	// viewport is too large to populate meaningfully, so the visible set is
	// simply emptied.
	MinFetchZoom int
}

// DefaultOptions returns the standard coordinator tuning.
func DefaultOptions() Options {
	return Options{
		DebounceInterval: 350 * time.Millisecond,
		MinFetchZoom:     14,
	}
}

// Stats is a point-in-time snapshot of coordinator counters.
type Stats struct {
	Fetches       uint64
	IDsSeen       uint64
	CacheHits     uint64
	FullFetched   uint64
	StaleDropped  uint64
	Failures      uint64
	DuplicateSkip uint64
}

// Coordinator drives the ID-first protocol per viewport change:
// FetchingIds → Diffing → FetchingMissing → Merging. It owns the request
// sequencing discipline for its stream and degrades to cached data on any
// upstream failure rather than surfacing errors to the host.
type Coordinator struct {
	gateway  Gateway
	features *cache.Cache[*osm.Feature]
	scorer   *scoring.Scorer
	renderer Renderer
	opts     Options

	seq      Sequencer
	debounce *Debouncer[Request]

	mu          sync.Mutex
	cancelPrev  context.CancelFunc
	inflightKey string
	filters     FilterSet
	lastVisible []*osm.Feature
	lastReq     Request

	stats   Stats
	statsMu sync.Mutex

	wg sync.WaitGroup
}

// NewCoordinator wires a coordinator. Zero-valued Options fields fall back
// to defaults. Selectors come from the host configuration.
func NewCoordinator(gw Gateway, features *cache.Cache[*osm.Feature], scorer *scoring.Scorer, renderer Renderer, opts Options) *Coordinator {
	def := DefaultOptions()
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = def.DebounceInterval
	}
	if opts.MinFetchZoom <= 0 {
		opts.MinFetchZoom = def.MinFetchZoom
	}

	c := &Coordinator{
		gateway:  gw,
		features: features,
		scorer:   scorer,
		renderer: renderer,
		opts:     opts,
	}
	c.debounce = NewDebouncer(opts.DebounceInterval, c.settle)
	return c
}

// ViewportChanged records a raw viewport-change event. Events are debounced
// with a leading-edge fire; the coordinator only ever works on settled
// viewports.
func (c *Coordinator) ViewportChanged(bounds geo.Bounds, zoom int) {
	c.debounce.Trigger(Request{Bounds: bounds, Zoom: zoom})
}

// ForceRefresh re-runs the fetch for the last settled viewport, bypassing
// duplicate suppression. Useful after a failed subset fetch.
func (c *Coordinator) ForceRefresh() {
	c.mu.Lock()
	req := c.lastReq
	c.inflightKey = ""
	c.mu.Unlock()
	if req.Bounds.Valid() {
		c.settle(Request{Bounds: req.Bounds, Zoom: req.Zoom})
	}
}

// SetFilters replaces the active filters and re-filters the last visible set
// from cache. No network round trip.
func (c *Coordinator) SetFilters(f FilterSet) {
	c.mu.Lock()
	c.filters = f
	visible := f.Apply(c.lastVisible)
	req := c.lastReq
	c.mu.Unlock()

	if c.renderer != nil && req.Bounds.Valid() {
		c.renderer.RenderViewport(visible, req)
	}
}

// UpdateFeature runs mutate on f while holding the same lock the filter and
// visibility paths read under, then announces the changed fields to the
// renderer. mutate returns the names of the fields it changed; an empty
// return means nothing changed and nothing is announced. This is the only
// safe way to mutate a feature that has been handed to the renderer.
func (c *Coordinator) UpdateFeature(f *osm.Feature, mutate func(*osm.Feature) []string) {
	c.mu.Lock()
	changed := mutate(f)
	c.mu.Unlock()

	if len(changed) == 0 || c.renderer == nil {
		return
	}
	c.renderer.UpdateFeature(f, changed)
}

// Visible returns the features most recently handed to the renderer, after
// filters.
func (c *Coordinator) Visible() []*osm.Feature {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*osm.Feature, len(c.lastVisible))
	copy(out, c.lastVisible)
	return c.filters.Apply(out)
}

// Stats returns a snapshot of the coordinator's counters.
func (c *Coordinator) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Close stops the debouncer, cancels in-flight work and waits for it.
func (c *Coordinator) Close() {
	c.debounce.Stop()
	c.mu.Lock()
	if c.cancelPrev != nil {
		c.cancelPrev()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// settle handles one settled viewport: starts a new sequence, cancels the
// previous in-flight fetch and runs the protocol in the background.
func (c *Coordinator) settle(req Request) {
	// Zoom gate: below the threshold the region is too large to fetch.
	if req.Zoom < c.opts.MinFetchZoom {
		seq := c.seq.Next()
		c.mu.Lock()
		if c.cancelPrev != nil {
			c.cancelPrev()
			c.cancelPrev = nil
		}
		// Zooming back in must be able to refetch the same viewport.
		c.inflightKey = ""
		c.lastReq = Request{Bounds: req.Bounds, Zoom: req.Zoom, Seq: seq}
		c.lastVisible = nil
		filters := c.filters
		c.mu.Unlock()
		if c.renderer != nil {
			c.renderer.RenderViewport(filters.Apply(nil), Request{Bounds: req.Bounds, Zoom: req.Zoom, Seq: seq})
		}
		return
	}

	quantized, key := geo.QuantizeBounds(req.Bounds, req.Zoom)

	c.mu.Lock()
	if key == c.inflightKey {
		// Sub-cell pan: the in-flight (or just-finished) fetch already
		// covers this viewport.
		c.mu.Unlock()
		c.addStat(func(s *Stats) { s.DuplicateSkip++ })
		return
	}
	seq := c.seq.Next()
	if c.cancelPrev != nil {
		c.cancelPrev()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelPrev = cancel
	c.inflightKey = key
	c.lastReq = Request{Bounds: req.Bounds, Zoom: req.Zoom, Seq: seq}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.fetch(ctx, Request{Bounds: quantized, Zoom: req.Zoom, Seq: seq}, req.Bounds)
	}()
}

// fetch runs the ID-first protocol for one sequence. fetchBounds is the
// quantized query region; visibleBounds the exact viewport used for the
// final geometry filter.
func (c *Coordinator) fetch(ctx context.Context, req Request, visibleBounds geo.Bounds) {
	metrics.ViewportFetches.Inc()
	c.addStat(func(s *Stats) { s.Fetches++ })

	// FetchingIds: lightweight identity query.
	ids, err := c.gateway.QueryIDs(ctx, req.Bounds, c.opts.Selectors)
	if err != nil {
		c.fetchFailed(req, err)
		return
	}
	if !c.seq.IsCurrent(req.Seq) {
		c.dropStale(req.Seq)
		return
	}
	c.addStat(func(s *Stats) { s.IDsSeen += uint64(len(ids)) })

	// Diffing: split ids into cached and missing.
	var cached []*osm.Feature
	var missing []osm.ElementID
	for _, id := range ids {
		if f, ok := c.features.Get(id.String()); ok {
			cached = append(cached, f)
		} else {
			missing = append(missing, id)
		}
	}
	metrics.FeaturesFromCache.Add(float64(len(cached)))
	c.addStat(func(s *Stats) { s.CacheHits += uint64(len(cached)) })

	// FetchingMissing: full records for cache misses only.
	var fetched []*osm.Feature
	if len(missing) > 0 {
		fetched, err = c.gateway.QueryFull(ctx, missing)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// Degrade: cached features still render, the missing subset
			// stays absent until a future settle or force-refresh.
			slog.Warn("viewport: full-record fetch failed, degrading to cached",
				"seq", req.Seq, "missing", len(missing), "error", err)
			c.addStat(func(s *Stats) { s.Failures++ })
			fetched = nil
		}
	}
	if !c.seq.IsCurrent(req.Seq) {
		c.dropStale(req.Seq)
		return
	}

	// Enrich and cache the new records. Replacement is wholesale: a fetched
	// record always wins over whatever the cache held for that identity.
	for _, f := range fetched {
		f.Attrs = tags.Normalize(f.Tags)
		f.AttrFlags = tags.ExtractFlags(f.Tags)
		c.scorer.Rescore(f)
		c.features.Put(f.StableID(), f)
	}
	metrics.FeaturesFetched.Add(float64(len(fetched)))
	c.addStat(func(s *Stats) { s.FullFetched += uint64(len(fetched)) })

	// Merging: cached ∪ fetched, clipped to the exact viewport, filtered.
	merged := make([]*osm.Feature, 0, len(cached)+len(fetched))
	for _, f := range append(cached, fetched...) {
		if f.IntersectsBounds(visibleBounds) {
			merged = append(merged, f)
		}
	}

	c.mu.Lock()
	if !c.seq.IsCurrent(req.Seq) {
		c.mu.Unlock()
		c.dropStale(req.Seq)
		return
	}
	c.lastVisible = merged
	visible := c.filters.Apply(merged)
	c.mu.Unlock()

	if c.renderer != nil {
		c.renderer.RenderViewport(visible, req)
	}
}

// fetchFailed handles a failed ID fetch: an empty visible set for that
// viewport, never an error to the host. Cancellation is not a failure at all;
// already-displayed data must survive a superseded request.
func (c *Coordinator) fetchFailed(req Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	slog.Warn("viewport: id fetch failed", "seq", req.Seq, "error", err)
	c.addStat(func(s *Stats) { s.Failures++ })

	c.mu.Lock()
	if !c.seq.IsCurrent(req.Seq) {
		c.mu.Unlock()
		return
	}
	c.lastVisible = nil
	c.inflightKey = "" // allow the same viewport to be retried
	c.mu.Unlock()

	if c.renderer != nil {
		c.renderer.RenderViewport(nil, req)
	}
}

func (c *Coordinator) dropStale(seq uint64) {
	metrics.StaleResponsesDiscarded.Inc()
	c.addStat(func(s *Stats) { s.StaleDropped++ })
	slog.Debug("viewport: discarding superseded result", "seq", seq, "latest", c.seq.Latest())
}

func (c *Coordinator) addStat(fn func(*Stats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}
