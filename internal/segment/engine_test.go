package segment_test

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/geo"
	"github.com/headline-goat/splitpage/internal/logger/loggertest"
	"github.com/headline-goat/splitpage/internal/page"
	"github.com/headline-goat/splitpage/internal/segment"
	"github.com/headline-goat/splitpage/internal/settings"
)

var now = time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC)

type fakeFetcher struct {
	calls atomic.Int32
	data  geo.Data
	err   error
}

func (f *fakeFetcher) Fetch(context.Context) (geo.Data, error) {
	f.calls.Add(1)
	if f.err != nil {
		return geo.Data{}, f.err
	}
	d := f.data
	d.LastUpdate = now.UnixMilli()
	return d, nil
}

func newPage(t *testing.T, jar clientstore.Store) *page.Page {
	t.Helper()
	u, err := url.Parse("https://example.com/landing")
	require.NoError(t, err)
	return page.Init(page.Environment{
		URL:            u,
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
		WindowWidth:    1280,
		CookiesEnabled: true,
	}, jar, page.WithClock(func() time.Time { return now }))
}

func newSettings(exps ...settings.ExperimentSummary) *settings.Settings {
	s := &settings.Settings{Experiments: exps, ParticipationChance: 100}
	s.ApplyDefaults()
	return s
}

func rule(typ string, attrs settings.Attributes) settings.Rule {
	return settings.Rule{Type: typ, Attributes: attrs}
}

func experiment(id int, segments ...settings.Segment) settings.ExperimentSummary {
	return settings.ExperimentSummary{
		ID:                id,
		Active:            true,
		Alternatives:      make([]settings.Alternative, 2),
		Segments:          segments,
		SegmentEvaluation: settings.ScopeSite,
	}
}

var (
	desktop = settings.Segment{Name: "desktop", Rules: []settings.Rule{rule("device", settings.Attributes{"value": "desktop"})}}
	mobile  = settings.Segment{Name: "mobile", Rules: []settings.Rule{rule("device", settings.Attributes{"value": "mobile"})}}
	spain   = settings.Segment{Name: "spain", Rules: []settings.Rule{rule("location", settings.Attributes{"value": "ES"})}}
	anyone  = settings.Segment{Name: "everyone"}
)

func TestResolveActiveSegments_Default(t *testing.T) {
	e := segment.NewEngine(newPage(t, clientstore.NewMemoryJar()), newSettings())
	assert.Equal(t, []int{segment.DefaultSegment}, e.ResolveActiveSegments(context.Background(), experiment(1)))
}

func TestResolveActiveSegments_MatchesAreOneBased(t *testing.T) {
	e := segment.NewEngine(newPage(t, clientstore.NewMemoryJar()), newSettings())

	got := e.ResolveActiveSegments(context.Background(), experiment(1, mobile, desktop, anyone))
	assert.Equal(t, []int{2, 3}, got)

	got = e.ResolveActiveSegments(context.Background(), experiment(2, mobile))
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestResolveActiveSegments_CachedUntilDefinitionsChange(t *testing.T) {
	jar := clientstore.NewMemoryJar()
	var calls atomic.Int32
	reg := segment.NewRegistry()
	reg.Register("counted", segment.RuleType{Validate: func(settings.Attributes, *segment.Visitor) (bool, error) {
		calls.Add(1)
		return true, nil
	}})
	counted := settings.Segment{Rules: []settings.Rule{rule("counted", nil)}}

	exp := experiment(1, counted)
	for range 3 {
		e := segment.NewEngine(newPage(t, jar), newSettings(exp), segment.WithRegistry(reg))
		assert.Equal(t, []int{1}, e.ResolveActiveSegments(context.Background(), exp))
	}
	assert.EqualValues(t, 1, calls.Load())

	exp.Segments = append(exp.Segments, counted)
	e := segment.NewEngine(newPage(t, jar), newSettings(exp), segment.WithRegistry(reg))
	assert.Equal(t, []int{1, 2}, e.ResolveActiveSegments(context.Background(), exp))
	assert.EqualValues(t, 3, calls.Load())
}

func TestResolveActiveSegments_PageScopeNotCached(t *testing.T) {
	jar := clientstore.NewMemoryJar()
	var calls atomic.Int32
	reg := segment.NewRegistry()
	reg.Register("counted", segment.RuleType{Validate: func(settings.Attributes, *segment.Visitor) (bool, error) {
		calls.Add(1)
		return true, nil
	}})

	exp := experiment(1, settings.Segment{Rules: []settings.Rule{rule("counted", nil)}})
	exp.SegmentEvaluation = settings.ScopePage
	for range 2 {
		e := segment.NewEngine(newPage(t, jar), newSettings(exp), segment.WithRegistry(reg))
		e.ResolveActiveSegments(context.Background(), exp)
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestResolveActiveSegments_SiteScopeAwaitsGeo(t *testing.T) {
	jar := clientstore.NewMemoryJar()
	f := &fakeFetcher{data: geo.Data{IPAddress: "198.51.100.1", Location: geo.Location{Country: "ES"}}}
	exp := experiment(1, spain)

	e := segment.NewEngine(newPage(t, jar), newSettings(exp), segment.WithGeoFetcher(f))
	assert.Equal(t, []int{1}, e.ResolveActiveSegments(context.Background(), exp))
	assert.EqualValues(t, 1, f.calls.Load())
	require.NotNil(t, e.Geo())
	assert.Equal(t, "ES", e.Geo().Location.Country)

	// Fresh geo and a cached decision: no new fetch.
	e = segment.NewEngine(newPage(t, jar), newSettings(exp), segment.WithGeoFetcher(f))
	assert.Equal(t, []int{1}, e.ResolveActiveSegments(context.Background(), exp))
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestResolveActiveSegments_GeoFailureIsNotCached(t *testing.T) {
	jar := clientstore.NewMemoryJar()
	f := &fakeFetcher{err: errors.New("offline")}
	exp := experiment(1, spain)

	e := segment.NewEngine(newPage(t, jar), newSettings(exp), segment.WithGeoFetcher(f))
	assert.Empty(t, e.ResolveActiveSegments(context.Background(), exp))

	f.err = nil
	f.data = geo.Data{Location: geo.Location{Country: "ES"}}
	e = segment.NewEngine(newPage(t, jar), newSettings(exp), segment.WithGeoFetcher(f))
	assert.Equal(t, []int{1}, e.ResolveActiveSegments(context.Background(), exp))
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestResolveActiveSegments_GeoFetchedOncePerPageLoad(t *testing.T) {
	f := &fakeFetcher{err: errors.New("offline")}
	exp := experiment(1, spain)
	s := newSettings(exp)

	e := segment.NewEngine(newPage(t, clientstore.NewMemoryJar()), s, segment.WithGeoFetcher(f))
	for range 3 {
		assert.Empty(t, e.ResolveActiveSegments(context.Background(), exp))
	}
	assert.False(t, e.AreSegmentsValid(context.Background(), s))
	assert.EqualValues(t, 1, f.calls.Load(), "a failed fetch is not retried within the page load")
}

func TestResolveActiveSegments_PageScopeStartsOneBackgroundFetch(t *testing.T) {
	f := &fakeFetcher{err: errors.New("offline")}
	exp := experiment(1, spain)
	exp.SegmentEvaluation = settings.ScopePage

	e := segment.NewEngine(newPage(t, clientstore.NewMemoryJar()), newSettings(exp), segment.WithGeoFetcher(f))
	e.ResolveActiveSegments(context.Background(), exp)
	e.Wait()
	e.ResolveActiveSegments(context.Background(), exp)
	e.Wait()
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestResolveActiveSegments_PageScopeRefreshesInBackground(t *testing.T) {
	jar := clientstore.NewMemoryJar()
	f := &fakeFetcher{data: geo.Data{Location: geo.Location{Country: "ES"}}}
	exp := experiment(1, spain)
	exp.SegmentEvaluation = settings.ScopePage

	e := segment.NewEngine(newPage(t, jar), newSettings(exp), segment.WithGeoFetcher(f))
	assert.Empty(t, e.ResolveActiveSegments(context.Background(), exp), "evaluated without geo")

	e.Wait()
	assert.EqualValues(t, 1, f.calls.Load())

	e = segment.NewEngine(newPage(t, jar), newSettings(exp), segment.WithGeoFetcher(f))
	assert.Equal(t, []int{1}, e.ResolveActiveSegments(context.Background(), exp), "next load sees the cached geo")
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestResolveActiveSegments_InvalidRuleLogged(t *testing.T) {
	lggr, logs := loggertest.Observed(t, zapcore.DebugLevel)
	bad := settings.Segment{Rules: []settings.Rule{rule("url", settings.Attributes{"condition": "regex", "value": "("})}}
	unknown := settings.Segment{Rules: []settings.Rule{rule("moon-phase", nil)}}
	exp := experiment(1, bad, unknown, desktop)

	e := segment.NewEngine(newPage(t, clientstore.NewMemoryJar()), newSettings(exp), segment.WithLogger(lggr))
	assert.Equal(t, []int{3}, e.ResolveActiveSegments(context.Background(), exp))
	assert.Equal(t, 1, logs.FilterMessage("rule invalid").Len())
	assert.Equal(t, 1, logs.FilterMessage("rule skipped").Len())
}

func TestAreSegmentsValid(t *testing.T) {
	matching := experiment(1, desktop)
	failing := experiment(2, mobile)

	tests := []struct {
		name     string
		policy   settings.SegmentMatching
		exps     []settings.ExperimentSummary
		expected bool
	}{
		{"no active experiments", settings.MatchAll, nil, true},
		{"all, every experiment matches", settings.MatchAll, []settings.ExperimentSummary{matching, experiment(3)}, true},
		{"all, one fails", settings.MatchAll, []settings.ExperimentSummary{matching, failing}, false},
		{"any, one matches", settings.MatchAny, []settings.ExperimentSummary{failing, matching}, true},
		{"any, none match", settings.MatchAny, []settings.ExperimentSummary{failing}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSettings(tt.exps...)
			s.SegmentMatching = tt.policy
			e := segment.NewEngine(newPage(t, clientstore.NewMemoryJar()), s)
			assert.Equal(t, tt.expected, e.AreSegmentsValid(context.Background(), s))
		})
	}
}

func TestCleanOldSegments(t *testing.T) {
	jar := clientstore.NewMemoryJar()
	p := newPage(t, jar)
	s := newSettings()
	e := segment.NewEngine(p, s)

	for _, id := range []int{1, 2, 3} {
		e.ResolveActiveSegments(context.Background(), experiment(id, desktop))
	}
	clientstore.Set(jar, clientstore.CookiePageViews, map[int]int64{2: now.UnixMilli()}, clientstore.PageViewTTLDays)

	e.CleanOldSegments([]int{1})

	raw, ok := jar.Get(clientstore.CookieSegmentation)
	require.True(t, ok)
	assert.Contains(t, raw, `"1":`)
	assert.Contains(t, raw, `"2":`)
	assert.NotContains(t, raw, `"3":`)
}

func TestHeatmapParticipates(t *testing.T) {
	s := newSettings()
	p := newPage(t, clientstore.NewMemoryJar())
	draw := func(v int) segment.Option { return segment.WithRand(func(int) int { return v }) }

	h := settings.HeatmapSummary{ID: 1, URL: "https://example.com/landing", ParticipationChance: 50}
	assert.True(t, segment.NewEngine(p, s, draw(10)).HeatmapParticipates(context.Background(), h))
	assert.False(t, segment.NewEngine(p, s, draw(60)).HeatmapParticipates(context.Background(), h))

	other := h
	other.URL = "https://example.com/other"
	assert.False(t, segment.NewEngine(p, s, draw(0)).HeatmapParticipates(context.Background(), other))

	mobileOnly := h
	mobileOnly.Participation = mobile.Rules
	assert.False(t, segment.NewEngine(p, s, draw(0)).HeatmapParticipates(context.Background(), mobileOnly))
}

func TestHeatmapParticipates_DecidedOncePerEngine(t *testing.T) {
	draws := 0
	e := segment.NewEngine(newPage(t, clientstore.NewMemoryJar()), newSettings(),
		segment.WithRand(func(int) int { draws++; return 99 - draws }))

	h := settings.HeatmapSummary{ID: 4, ParticipationChance: 50}
	first := e.HeatmapParticipates(context.Background(), h)
	for range 5 {
		assert.Equal(t, first, e.HeatmapParticipates(context.Background(), h))
	}
	assert.Equal(t, 1, draws)
}
