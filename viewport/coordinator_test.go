package viewport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rollnav/accesscore/cache"
	"github.com/rollnav/accesscore/geo"
	"github.com/rollnav/accesscore/osm"
	"github.com/rollnav/accesscore/scoring"
)

// boundsA and boundsB quantize to different cell keys at the test zoom, so
// the second viewport is never duplicate-suppressed against the first.
var (
	boundsA = geo.Bounds{MinLat: 48.19, MinLon: 16.33, MaxLat: 48.22, MaxLon: 16.40}
	boundsB = geo.Bounds{MinLat: 48.89, MinLon: 17.01, MaxLat: 48.92, MaxLon: 17.08}
)

const testZoom = 15

type fakeGateway struct {
	mu        sync.Mutex
	idCalls   []geo.Bounds
	fullCalls [][]osm.ElementID

	ids     []osm.ElementID
	idErr   error
	fullErr error

	// blockIDs, when non-nil, holds QueryIDs until released. The fake
	// ignores ctx so a "late" response can still arrive after supersession.
	blockIDs chan struct{}
}

func (g *fakeGateway) QueryIDs(ctx context.Context, bounds geo.Bounds, selectors []string) ([]osm.ElementID, error) {
	g.mu.Lock()
	g.idCalls = append(g.idCalls, bounds)
	block := g.blockIDs
	g.mu.Unlock()

	if block != nil {
		<-block
	}
	if g.idErr != nil {
		return nil, g.idErr
	}
	return g.ids, nil
}

func (g *fakeGateway) QueryFull(ctx context.Context, ids []osm.ElementID) ([]*osm.Feature, error) {
	g.mu.Lock()
	g.fullCalls = append(g.fullCalls, ids)
	g.mu.Unlock()

	if g.fullErr != nil {
		return nil, g.fullErr
	}
	features := make([]*osm.Feature, len(ids))
	for i, id := range ids {
		features[i] = &osm.Feature{
			ID:       id,
			Geometry: []geo.Point{boundsA.Center()},
			Tags:     osm.RawTags{"highway": "footway", "surface": "asphalt"},
		}
	}
	return features, nil
}

func (g *fakeGateway) idCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.idCalls)
}

type renderCall struct {
	features []*osm.Feature
	req      Request
}

type fakeRenderer struct {
	ch chan renderCall
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{ch: make(chan renderCall, 16)}
}

func (r *fakeRenderer) RenderViewport(features []*osm.Feature, req Request) {
	r.ch <- renderCall{features: features, req: req}
}

func (r *fakeRenderer) UpdateFeature(f *osm.Feature, changed []string) {}

func (r *fakeRenderer) wait(t *testing.T) renderCall {
	t.Helper()
	select {
	case call := <-r.ch:
		return call
	case <-time.After(5 * time.Second):
		t.Fatal("no render within deadline")
		return renderCall{}
	}
}

func newTestCoordinator(gw Gateway, renderer Renderer) (*Coordinator, *cache.Cache[*osm.Feature]) {
	features := cache.New[*osm.Feature]("features", nil)
	c := NewCoordinator(gw, features, scoring.New(scoring.Weights{}, scoring.Thresholds{}), renderer, Options{
		DebounceInterval: time.Millisecond,
		MinFetchZoom:     10,
	})
	return c, features
}

func wayIDs(refs ...int64) []osm.ElementID {
	ids := make([]osm.ElementID, len(refs))
	for i, r := range refs {
		ids[i] = osm.ElementID{Kind: osm.KindWay, Ref: r}
	}
	return ids
}

func TestIDFirstFetchesOnlyMissing(t *testing.T) {
	gw := &fakeGateway{ids: wayIDs(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)}
	renderer := newFakeRenderer()
	c, features := newTestCoordinator(gw, renderer)
	defer c.Close()

	// 7 of 10 already cached: only the other 3 may hit the network.
	for _, ref := range []int64{1, 2, 3, 4, 5, 6, 7} {
		id := osm.ElementID{Kind: osm.KindWay, Ref: ref}
		features.Put(id.String(), &osm.Feature{
			ID:       id,
			Geometry: []geo.Point{boundsA.Center()},
		})
	}

	c.ViewportChanged(boundsA, testZoom)
	call := renderer.wait(t)

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.fullCalls) != 1 {
		t.Fatalf("full-record fetches = %d, want 1", len(gw.fullCalls))
	}
	if got := gw.fullCalls[0]; len(got) != 3 {
		t.Fatalf("full fetch for %v, want exactly the 3 missing ids", got)
	}
	for _, id := range gw.fullCalls[0] {
		if id.Ref < 8 {
			t.Errorf("full fetch included cached id %v", id)
		}
	}
	if len(call.features) != 10 {
		t.Errorf("rendered %d features, want cached+fetched = 10", len(call.features))
	}
}

func TestFetchedFeaturesAreScoredAndCached(t *testing.T) {
	gw := &fakeGateway{ids: wayIDs(1)}
	renderer := newFakeRenderer()
	c, features := newTestCoordinator(gw, renderer)
	defer c.Close()

	c.ViewportChanged(boundsA, testZoom)
	call := renderer.wait(t)

	if len(call.features) != 1 {
		t.Fatalf("rendered %d features", len(call.features))
	}
	f := call.features[0]
	if f.Attrs.Surface == nil || *f.Attrs.Surface != "asphalt" {
		t.Errorf("fetched feature not normalized: %+v", f.Attrs)
	}
	if f.Score == nil {
		t.Error("fetched feature not scored")
	}
	if _, ok := features.Get("way/1"); !ok {
		t.Error("fetched feature not cached")
	}
}

func TestSequencingLatestWins(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{ids: wayIDs(1), blockIDs: release}
	renderer := newFakeRenderer()
	c, _ := newTestCoordinator(gw, renderer)
	defer c.Close()

	// A starts and its ID response hangs in flight.
	c.ViewportChanged(boundsA, testZoom)
	time.Sleep(20 * time.Millisecond) // past the debounce window

	// B supersedes A. Unblock the gateway so both responses come back,
	// B's effectively after A was already superseded.
	gw.mu.Lock()
	gw.blockIDs = nil
	gw.mu.Unlock()
	c.ViewportChanged(boundsB, testZoom)
	close(release)

	call := renderer.wait(t)
	if call.req.Bounds.MinLat != geoQuantize(boundsB).MinLat {
		t.Errorf("render carries viewport %+v, want B", call.req.Bounds)
	}

	// A's late result must have been discarded, never rendered.
	select {
	case extra := <-renderer.ch:
		t.Errorf("unexpected second render: %+v", extra.req)
	case <-time.After(100 * time.Millisecond):
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().StaleDropped == 0 {
		if time.Now().After(deadline) {
			t.Fatal("superseded result was not counted as stale")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func geoQuantize(b geo.Bounds) geo.Bounds {
	q, _ := geo.QuantizeBounds(b, testZoom)
	return q
}

func TestZoomGateRendersEmptyWithoutFetch(t *testing.T) {
	gw := &fakeGateway{ids: wayIDs(1)}
	renderer := newFakeRenderer()
	c, _ := newTestCoordinator(gw, renderer)
	defer c.Close()

	c.ViewportChanged(boundsA, 5) // below MinFetchZoom 10
	call := renderer.wait(t)

	if len(call.features) != 0 {
		t.Errorf("rendered %d features, want 0", len(call.features))
	}
	if gw.idCallCount() != 0 {
		t.Error("zoom gate still queried the gateway")
	}
}

func TestDuplicateViewportSuppressed(t *testing.T) {
	gw := &fakeGateway{ids: wayIDs(1)}
	renderer := newFakeRenderer()
	c, _ := newTestCoordinator(gw, renderer)
	defer c.Close()

	c.ViewportChanged(boundsA, testZoom)
	renderer.wait(t)

	time.Sleep(20 * time.Millisecond) // start a fresh debounce burst

	// A sub-cell pan: same quantized key, no new fetch.
	nudged := boundsA
	nudged.MinLat += 0.0001
	nudged.MaxLat += 0.0001
	c.ViewportChanged(nudged, testZoom)

	time.Sleep(50 * time.Millisecond)
	if gw.idCallCount() != 1 {
		t.Errorf("id fetches = %d, want 1 (duplicate suppressed)", gw.idCallCount())
	}
	if c.Stats().DuplicateSkip == 0 {
		t.Error("duplicate suppression not recorded")
	}
}

func TestZoomOutClearsDuplicateSuppression(t *testing.T) {
	gw := &fakeGateway{ids: wayIDs(1, 2, 3)}
	renderer := newFakeRenderer()
	c, _ := newTestCoordinator(gw, renderer)
	defer c.Close()

	c.ViewportChanged(boundsA, testZoom)
	if call := renderer.wait(t); len(call.features) != 3 {
		t.Fatalf("initial render has %d features, want 3", len(call.features))
	}

	// Zoom out below the fetch gate: the map empties.
	time.Sleep(20 * time.Millisecond)
	c.ViewportChanged(boundsA, 5)
	if call := renderer.wait(t); len(call.features) != 0 {
		t.Fatalf("zoomed-out render has %d features, want 0", len(call.features))
	}

	// Zooming back in to the same viewport must refetch and repopulate, not
	// be treated as a duplicate of the pre-zoom-out fetch.
	time.Sleep(20 * time.Millisecond)
	c.ViewportChanged(boundsA, testZoom)
	if call := renderer.wait(t); len(call.features) != 3 {
		t.Errorf("re-entry render has %d features, want 3", len(call.features))
	}
	if c.Stats().DuplicateSkip != 0 {
		t.Error("re-entry after zoom-out was duplicate-suppressed")
	}
}

func TestForceRefreshBypassesSuppression(t *testing.T) {
	gw := &fakeGateway{ids: wayIDs(1)}
	renderer := newFakeRenderer()
	c, _ := newTestCoordinator(gw, renderer)
	defer c.Close()

	c.ViewportChanged(boundsA, testZoom)
	renderer.wait(t)

	c.ForceRefresh()
	renderer.wait(t)

	if gw.idCallCount() != 2 {
		t.Errorf("id fetches = %d, want 2 after force refresh", gw.idCallCount())
	}
}

func TestIDFetchFailureRendersEmpty(t *testing.T) {
	gw := &fakeGateway{idErr: errors.New("all endpoints down")}
	renderer := newFakeRenderer()
	c, _ := newTestCoordinator(gw, renderer)
	defer c.Close()

	c.ViewportChanged(boundsA, testZoom)
	call := renderer.wait(t)

	if len(call.features) != 0 {
		t.Errorf("rendered %d features on id-fetch failure, want 0", len(call.features))
	}
}

func TestPartialFullFetchDegradesToCached(t *testing.T) {
	gw := &fakeGateway{
		ids:     wayIDs(1, 2),
		fullErr: errors.New("all endpoints down"),
	}
	renderer := newFakeRenderer()
	c, features := newTestCoordinator(gw, renderer)
	defer c.Close()

	id := osm.ElementID{Kind: osm.KindWay, Ref: 1}
	features.Put(id.String(), &osm.Feature{
		ID:       id,
		Geometry: []geo.Point{boundsA.Center()},
	})

	c.ViewportChanged(boundsA, testZoom)
	call := renderer.wait(t)

	// The cached feature still renders; the failed one is simply absent.
	if len(call.features) != 1 || call.features[0].StableID() != "way/1" {
		t.Errorf("rendered %v, want just the cached way/1", call.features)
	}
}

func TestSetFiltersReslicesWithoutNetwork(t *testing.T) {
	gw := &fakeGateway{ids: wayIDs(1, 2)}
	renderer := newFakeRenderer()
	c, _ := newTestCoordinator(gw, renderer)
	defer c.Close()

	c.ViewportChanged(boundsA, testZoom)
	renderer.wait(t)
	before := gw.idCallCount()

	c.SetFilters(FilterSet{Categories: []string{"footway"}})
	call := renderer.wait(t)
	if len(call.features) != 2 {
		t.Errorf("footway filter kept %d features, want 2", len(call.features))
	}

	c.SetFilters(FilterSet{Categories: []string{"residential"}})
	call = renderer.wait(t)
	if len(call.features) != 0 {
		t.Errorf("residential filter kept %d features, want 0", len(call.features))
	}

	if gw.idCallCount() != before {
		t.Error("filter change triggered a network round trip")
	}
}

func TestUpdateFeatureSafeAgainstConcurrentFilterReads(t *testing.T) {
	gw := &fakeGateway{ids: wayIDs(1, 2, 3, 4)}
	renderer := newFakeRenderer()
	c, _ := newTestCoordinator(gw, renderer)
	defer c.Close()

	c.ViewportChanged(boundsA, testZoom)
	call := renderer.wait(t)
	if len(call.features) != 4 {
		t.Fatalf("rendered %d features, want 4", len(call.features))
	}
	f := call.features[0]

	// SetFilters renders on every call; keep the channel drained so the
	// writers below never block on it.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-renderer.ch:
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		tiers := []osm.Tier{osm.TierGood, osm.TierPoor}
		for i := 0; i < 200; i++ {
			c.UpdateFeature(f, func(f *osm.Feature) []string {
				f.Hint.Tier = tiers[i%len(tiers)]
				return []string{"tier"}
			})
		}
	}()
	go func() {
		defer wg.Done()
		filter := FilterSet{Tiers: []osm.Tier{osm.TierGood}}
		for i := 0; i < 200; i++ {
			c.SetFilters(filter)
			c.Visible()
		}
	}()
	wg.Wait()
}

func TestGeometryOutsideViewportIsClipped(t *testing.T) {
	gw := &fakeGateway{ids: wayIDs(1)}
	renderer := newFakeRenderer()
	c, features := newTestCoordinator(gw, renderer)
	defer c.Close()

	// Cached feature far outside the viewport: returned by the ID query
	// (quantized bounds are coarser) but clipped from the visible set.
	id := osm.ElementID{Kind: osm.KindWay, Ref: 99}
	features.Put(id.String(), &osm.Feature{
		ID:       id,
		Geometry: []geo.Point{{Lat: -10, Lon: -10}},
	})
	gw.ids = wayIDs(1, 99)

	c.ViewportChanged(boundsA, testZoom)
	call := renderer.wait(t)

	for _, f := range call.features {
		if f.StableID() == "way/99" {
			t.Error("feature outside the viewport was rendered")
		}
	}
}
