// Package segment decides which segments of an experiment the visitor belongs to.
//
// Rule types live in a Registry and are pure predicates over a Visitor. The Engine runs
// them, caches per-experiment results in the segmentation cookie and keeps the geo data
// that location rules need reasonably fresh.
package segment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/geo"
	"github.com/headline-goat/splitpage/internal/logger"
	"github.com/headline-goat/splitpage/internal/metrics"
	"github.com/headline-goat/splitpage/internal/page"
	"github.com/headline-goat/splitpage/internal/settings"
	"github.com/headline-goat/splitpage/internal/useragent"
)

// DefaultSegment is reported for experiments without segment definitions.
const DefaultSegment = 0

var ErrNoGeoFetcher = errors.New("no geo fetcher configured")

type cachedSegments struct {
	Hash     string `json:"hash"`
	Segments []int  `json:"segments"`
}

// persisted is the shape of the segmentation cookie.
type persisted struct {
	ActiveSegments map[int]cachedSegments `json:"activeSegments"`
	Geo            *geo.Data              `json:"geo,omitempty"`
}

type Engine struct {
	page     *page.Page
	settings *settings.Settings
	registry *Registry
	fetcher  geo.Fetcher
	metrics  *metrics.Recorder
	log      *zap.SugaredLogger
	intN     func(n int) int

	geoGroup   singleflight.Group
	mu         sync.Mutex // serializes cookie read-modify-write
	background sync.WaitGroup

	// geo is fetched at most once per engine; later callers reuse the outcome
	geoMu      sync.Mutex
	geoTried   bool
	geoFetched *geo.Data
	geoErr     error

	heatmapsMu sync.Mutex
	heatmaps   map[int]bool
}

type Option func(*Engine)

func WithRegistry(r *Registry) Option        { return func(e *Engine) { e.registry = r } }
func WithGeoFetcher(f geo.Fetcher) Option    { return func(e *Engine) { e.fetcher = f } }
func WithMetrics(m *metrics.Recorder) Option { return func(e *Engine) { e.metrics = m } }
func WithLogger(l *zap.SugaredLogger) Option { return func(e *Engine) { e.log = l } }
func WithRand(intN func(n int) int) Option   { return func(e *Engine) { e.intN = intN } }

func NewEngine(p *page.Page, s *settings.Settings, opts ...Option) *Engine {
	e := &Engine{
		page:     p,
		settings: s,
		registry: NewRegistry(),
		intN:     rand.IntN,
		heatmaps: make(map[int]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logger.OrNop(e.log).Named("segment")
	return e
}

// ResolveActiveSegments returns the 1-based indices of the matching segments of exp, or
// [DefaultSegment] when exp defines none. An empty result means no segment matched.
//
// Site-scoped results are cached until the segment definitions change. Page-scoped
// experiments are evaluated on every page load.
func (e *Engine) ResolveActiveSegments(ctx context.Context, exp settings.ExperimentSummary) []int {
	if len(exp.Segments) == 0 {
		return []int{DefaultSegment}
	}

	hash := segmentsHash(exp.Segments)
	siteScoped := exp.SegmentEvaluation != settings.ScopePage
	st := e.load()

	if siteScoped {
		if c, ok := st.ActiveSegments[exp.ID]; ok && c.Hash == hash {
			return slices.Clone(c.Segments)
		}
	}

	geoData, geoMissing := st.Geo, false
	if e.needsGeo(exp.Segments) && geoData.IsStale(e.page.Now()) {
		if siteScoped {
			if d, err := e.refreshGeo(ctx); err == nil {
				geoData = d
			} else {
				geoMissing = true
			}
		} else {
			e.refreshGeoInBackground(ctx)
			geoMissing = true
		}
	}

	v := e.visitor(geoData)
	matched := make([]int, 0, len(exp.Segments))
	for i, seg := range exp.Segments {
		if e.rulesMatch(seg.Rules, v) {
			matched = append(matched, i+1)
		}
	}

	if siteScoped && !geoMissing {
		e.update(func(st *persisted) {
			st.ActiveSegments[exp.ID] = cachedSegments{Hash: hash, Segments: matched}
		})
	}
	return matched
}

// AreSegmentsValid applies the site's matching policy across active experiments.
func (e *Engine) AreSegmentsValid(ctx context.Context, s *settings.Settings) bool {
	active := s.ActiveExperiments()
	if len(active) == 0 {
		return true
	}

	for _, exp := range active {
		matched := len(e.ResolveActiveSegments(ctx, exp)) > 0
		switch s.SegmentMatching {
		case settings.MatchAny:
			if matched {
				return true
			}
		default:
			if !matched {
				return false
			}
		}
	}
	return s.SegmentMatching != settings.MatchAny
}

// CleanOldSegments drops cached results of experiments that are neither in currentIDs nor
// visited within the page-view window.
func (e *Engine) CleanOldSegments(currentIDs []int) {
	visited := clientstore.Get(e.page.Jar, clientstore.CookiePageViews, map[int]int64{})
	e.update(func(st *persisted) {
		for id := range st.ActiveSegments {
			if _, seen := visited[id]; seen || slices.Contains(currentIDs, id) {
				continue
			}
			delete(st.ActiveSegments, id)
		}
	})
}

// HeatmapParticipates reports whether this page load records heatmap h: the URL must
// match, every participation rule must hold and the chance draw must pass. The answer is
// fixed for the lifetime of the engine.
func (e *Engine) HeatmapParticipates(ctx context.Context, h settings.HeatmapSummary) bool {
	e.heatmapsMu.Lock()
	defer e.heatmapsMu.Unlock()

	if ok, decided := e.heatmaps[h.ID]; decided {
		return ok
	}
	ok := e.heatmapParticipates(ctx, h)
	e.heatmaps[h.ID] = ok
	return ok
}

func (e *Engine) heatmapParticipates(ctx context.Context, h settings.HeatmapSummary) bool {
	if h.URL != "" && !e.settings.SameURL(e.page.Env.URL.String(), h.URL) {
		return false
	}

	geoData := e.load().Geo
	if e.registry.NeedsGeo(h.Participation) && geoData.IsStale(e.page.Now()) {
		e.refreshGeoInBackground(ctx)
	}
	if !e.rulesMatch(h.Participation, e.visitor(geoData)) {
		return false
	}
	return e.intN(100) < h.ParticipationChance
}

// Geo returns the cached geo data, if any.
func (e *Engine) Geo() *geo.Data {
	return e.load().Geo
}

// Wait blocks until background geo refreshes finish.
func (e *Engine) Wait() {
	e.background.Wait()
}

func (e *Engine) rulesMatch(rules []settings.Rule, v *Visitor) bool {
	for _, rule := range rules {
		t, ok := e.registry.Lookup(rule.Type)
		if !ok {
			e.log.Debugw("rule skipped", "type", rule.Type, "error", ErrUnknownRule)
			return false
		}
		valid, err := t.Validate(rule.Attributes, v)
		if err != nil {
			e.log.Debugw("rule invalid", "type", rule.Type, "error", err)
			return false
		}
		if !valid {
			return false
		}
	}
	return true
}

func (e *Engine) needsGeo(segments []settings.Segment) bool {
	for _, seg := range segments {
		if e.registry.NeedsGeo(seg.Rules) {
			return true
		}
	}
	return false
}

func (e *Engine) visitor(geoData *geo.Data) *Visitor {
	env := e.page.Env
	return &Visitor{
		Jar:         e.page.Jar,
		UserAgent:   useragent.Parse(env.UserAgent),
		URL:         env.URL,
		Referrer:    env.Referrer,
		WindowWidth: env.WindowWidth,
		Languages:   env.Languages,
		LoginCookie: e.settings.LoginCookie,
		Now:         e.page.Now(),
		Geo:         geoData,
		Settings:    e.settings,
	}
}

// refreshGeo fetches geo data once for all concurrent callers and caches it. Only the
// first attempt of a page load reaches the network; a failure is not retried.
func (e *Engine) refreshGeo(ctx context.Context) (*geo.Data, error) {
	if e.fetcher == nil {
		return nil, ErrNoGeoFetcher
	}
	if d, tried, err := e.geoAttempt(); tried {
		return d, err
	}
	v, err, _ := e.geoGroup.Do("geo", func() (any, error) {
		if d, tried, err := e.geoAttempt(); tried {
			return d, err
		}
		d, err := e.fetcher.Fetch(ctx)
		e.metrics.GeoLookup(err)
		var fetched *geo.Data
		if err != nil {
			e.log.Debugw("geo fetch failed", "error", err)
		} else {
			fetched = &d
			e.update(func(st *persisted) { st.Geo = fetched })
		}

		e.geoMu.Lock()
		e.geoTried, e.geoFetched, e.geoErr = true, fetched, err
		e.geoMu.Unlock()
		return fetched, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*geo.Data), nil
}

func (e *Engine) geoAttempt() (*geo.Data, bool, error) {
	e.geoMu.Lock()
	defer e.geoMu.Unlock()
	return e.geoFetched, e.geoTried, e.geoErr
}

func (e *Engine) refreshGeoInBackground(ctx context.Context) {
	if e.fetcher == nil {
		return
	}
	if _, tried, _ := e.geoAttempt(); tried {
		return
	}
	ctx = context.WithoutCancel(ctx)
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		_, _ = e.refreshGeo(ctx)
	}()
}

func (e *Engine) load() persisted {
	st := clientstore.Get(e.page.Jar, clientstore.CookieSegmentation, persisted{})
	if st.ActiveSegments == nil {
		st.ActiveSegments = make(map[int]cachedSegments)
	}
	return st
}

func (e *Engine) update(fn func(*persisted)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.load()
	fn(&st)
	clientstore.Set(e.page.Jar, clientstore.CookieSegmentation, st, clientstore.LongLivedDays)
}

// segmentsHash identifies a set of segment definitions. Rules only change through the
// settings, so the hash is a stable identity for cache invalidation.
func segmentsHash(segments []settings.Segment) string {
	data, _ := json.Marshal(segments)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
