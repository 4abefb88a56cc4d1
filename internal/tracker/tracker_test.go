package tracker_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/splitpage/internal/broadcast"
	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/page"
	"github.com/headline-goat/splitpage/internal/session"
	"github.com/headline-goat/splitpage/internal/settings"
	"github.com/headline-goat/splitpage/internal/tracker"
)

var start = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fakeTransport struct {
	mu      sync.Mutex
	batches [][]tracker.Record
}

func (f *fakeTransport) Send(_ context.Context, _ string, events any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, events.([]tracker.Record))
	return nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeSegments struct {
	unmatched map[int]bool
	heatmaps  map[int]bool
}

func (f fakeSegments) ResolveActiveSegments(_ context.Context, exp settings.ExperimentSummary) []int {
	if f.unmatched[exp.ID] {
		return []int{}
	}
	return []int{0}
}

func (f fakeSegments) HeatmapParticipates(_ context.Context, h settings.HeatmapSummary) bool {
	return f.heatmaps[h.ID]
}

type harness struct {
	jar       *clientstore.MemoryJar
	now       time.Time
	settings  *settings.Settings
	segments  fakeSegments
	transport *fakeTransport
}

func newHarness() *harness {
	s := &settings.Settings{
		SiteID:              "site-1",
		ParticipationChance: 100,
		Throttle:            map[string]int{settings.TrafficWooCommerce: 5, settings.TrafficGlobal: 2},
		Experiments: []settings.ExperimentSummary{
			{
				ID: 1, Active: true, Alternatives: make([]settings.Alternative, 2),
				Goals: []settings.Goal{{Name: "signup"}, {Name: "cart", TrafficType: settings.TrafficWooCommerce}},
			},
			{ID: 2, Active: true, Alternatives: make([]settings.Alternative, 2)},
			{ID: 3, Active: false, Alternatives: make([]settings.Alternative, 2)},
		},
		Heatmaps: []settings.HeatmapSummary{
			{ID: 10, TrackingMode: "click"},
			{ID: 11, TrackingMode: "scroll"},
		},
	}
	s.ApplyDefaults()

	h := &harness{now: start, settings: s, transport: &fakeTransport{}}
	h.jar = clientstore.NewMemoryJarWithClock(func() time.Time { return h.now })
	h.segments = fakeSegments{unmatched: map[int]bool{}, heatmaps: map[int]bool{10: true}}
	return h
}

// load simulates a new page load at the harness clock.
func (h *harness) load(opts ...tracker.Option) (*tracker.Tracker, *session.Session) {
	p := page.Init(page.Environment{CookiesEnabled: true}, h.jar, page.WithClock(func() time.Time { return h.now }))
	sess := session.New(h.settings, p.Env.URL, map[int]int{1: 1, 2: 0})
	return tracker.New(p, h.segments, h.transport, opts...), sess
}

func kinds(records []tracker.Record) []tracker.Kind {
	out := make([]tracker.Kind, 0, len(records))
	for _, r := range records {
		out = append(out, r.Event.Kind())
	}
	return out
}

func visit(exp int, traffic string) tracker.VisitEvent {
	return tracker.VisitEvent{Experiment: exp, Alternative: 1, Segments: []int{0}, TrafficType: traffic}
}

func TestTrack_VisitExpandsToUnique(t *testing.T) {
	h := newHarness()
	tr, sess := h.load()

	records := tr.Track(context.Background(), sess, visit(1, settings.TrafficRegular))
	assert.Equal(t, []tracker.Kind{tracker.KindVisit, tracker.KindUniqueVisit}, kinds(records))
	require.Equal(t, 1, h.transport.calls())

	views := clientstore.Get(h.jar, clientstore.CookiePageViews, map[int]int64{})
	assert.Equal(t, start.UnixMilli(), views[1])
}

func TestTrack_NoConversionBeforeVisit(t *testing.T) {
	h := newHarness()
	tr, sess := h.load()

	records := tr.Track(context.Background(), sess, tracker.ConversionEvent{Experiment: 1, Goal: 0})
	assert.Empty(t, records)
	assert.Zero(t, h.transport.calls(), "nothing accepted, nothing sent")

	records = tr.Track(context.Background(), sess, visit(1, settings.TrafficRegular), tracker.ConversionEvent{Experiment: 1, Goal: 0})
	assert.Equal(t, []tracker.Kind{
		tracker.KindVisit, tracker.KindUniqueVisit,
		tracker.KindConversion, tracker.KindUniqueConversion,
	}, kinds(records), "the visit is recorded before the conversion is checked")
}

func TestTrack_RegularVisitsNeverThrottled(t *testing.T) {
	h := newHarness()
	tr, sess := h.load()

	tr.Track(context.Background(), sess, visit(1, settings.TrafficRegular))
	records := tr.Track(context.Background(), sess, visit(1, settings.TrafficRegular))
	assert.Len(t, records, 2)
}

func TestTrack_ThrottleWindow(t *testing.T) {
	tests := []struct {
		name    string
		traffic string
		after   time.Duration
		want    bool
	}{
		{"woocommerce within window", settings.TrafficWooCommerce, time.Minute, false},
		{"woocommerce after window", settings.TrafficWooCommerce, 6 * time.Minute, true},
		{"unknown type falls back to global", "edd", time.Minute, false},
		{"global after window", "edd", 3 * time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tr, sess := h.load()
			require.Len(t, tr.Track(context.Background(), sess, visit(1, tt.traffic)), 2, "first visit always accepted")

			h.now = start.Add(tt.after)
			tr, sess = h.load()
			ok, reason := tr.CanSyncEvent(context.Background(), sess, visit(1, tt.traffic))
			assert.Equal(t, tt.want, ok, reason)
		})
	}
}

func TestTrack_GoalThrottle(t *testing.T) {
	h := newHarness()
	tr, sess := h.load()
	tr.Track(context.Background(), sess, visit(1, settings.TrafficRegular))

	cart := tracker.ConversionEvent{Experiment: 1, Goal: 1}
	assert.Len(t, tr.Track(context.Background(), sess, cart), 2)
	assert.Empty(t, tr.Track(context.Background(), sess, cart), "same goal within its window")

	signup := tracker.ConversionEvent{Experiment: 1, Goal: 0}
	assert.Len(t, tr.Track(context.Background(), sess, signup), 2)
	assert.Len(t, tr.Track(context.Background(), sess, signup), 2, "regular goals are not throttled")

	h.now = start.Add(6 * time.Minute)
	tr, sess = h.load()
	assert.Len(t, tr.Track(context.Background(), sess, cart), 2)

	ok, reason := tr.CanSyncEvent(context.Background(), sess, tracker.ConversionEvent{Experiment: 1, Goal: 5})
	assert.False(t, ok)
	assert.Equal(t, "unknown goal", reason)
}

func TestTrack_Eligibility(t *testing.T) {
	h := newHarness()
	h.segments.unmatched[2] = true
	tr, sess := h.load()

	tests := []struct {
		name   string
		event  tracker.Event
		reason string
	}{
		{"inactive experiment", visit(3, settings.TrafficRegular), "inactive experiment"},
		{"unknown experiment", visit(99, settings.TrafficRegular), "inactive experiment"},
		{"no active segment", visit(2, settings.TrafficRegular), "no active segment"},
		{"participating click heatmap", tracker.ClickEvent{Heatmap: 10, X: 5, Y: 5}, ""},
		{"heatmap not participating", tracker.ScrollEvent{Heatmap: 11, Depth: 40}, "heatmap not participating"},
		{"wrong mode", tracker.ScrollEvent{Heatmap: 10, Depth: 40}, "wrong heatmap mode"},
		{"unknown heatmap", tracker.ClickEvent{Heatmap: 12}, "unknown heatmap"},
		{"unique events are produced, not accepted", tracker.UniqueVisitEvent{}, "unsupported event unique-visit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := tr.CanSyncEvent(context.Background(), sess, tt.event)
			assert.Equal(t, tt.reason == "", ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestTrack_HeatmapEventsHaveNoUniqueVariant(t *testing.T) {
	h := newHarness()
	tr, sess := h.load()

	records := tr.Track(context.Background(), sess, tracker.ClickEvent{Heatmap: 10, X: 1, Y: 2, Width: 1280})
	assert.Equal(t, []tracker.Kind{tracker.KindClick}, kinds(records))
}

func TestTrack_UniqueIDStableThenReminted(t *testing.T) {
	h := newHarness()
	uniqueID := func(records []tracker.Record) string {
		for _, r := range records {
			if u, ok := r.Event.(tracker.UniqueVisitEvent); ok {
				return u.UniqueID
			}
		}
		t.Fatal("no unique visit")
		return ""
	}

	tr, sess := h.load()
	first := uniqueID(tr.Track(context.Background(), sess, visit(1, settings.TrafficRegular)))

	h.now = start.Add(9 * clientstore.Day)
	tr, sess = h.load()
	assert.Equal(t, first, uniqueID(tr.Track(context.Background(), sess, visit(1, settings.TrafficRegular))))

	// Nothing for longer than the page-view window: bookkeeping is pruned.
	h.now = h.now.Add(tracker.PageViewWindow + time.Minute)
	tr, sess = h.load()
	second := uniqueID(tr.Track(context.Background(), sess, visit(1, settings.TrafficRegular)))
	assert.NotEqual(t, first, second)
}

func TestTrack_PruneDropsConversionsInLockStep(t *testing.T) {
	h := newHarness()
	tr, sess := h.load()
	tr.Track(context.Background(), sess, visit(1, settings.TrafficRegular), tracker.ConversionEvent{Experiment: 1, Goal: 1})

	h.now = start.Add(tracker.PageViewWindow + time.Minute)
	tr, sess = h.load()
	ok, reason := tr.CanSyncEvent(context.Background(), sess, tracker.ConversionEvent{Experiment: 1, Goal: 1})
	assert.False(t, ok)
	assert.Equal(t, "no prior visit", reason)

	assert.Empty(t, clientstore.Get(h.jar, clientstore.CookieGoalConversions, map[string]int64{"x": 1}))
	assert.Empty(t, clientstore.Get(h.jar, clientstore.CookieUniqueViews, map[int]string{9: "x"}))
}

func TestTrack_StagingNeverSends(t *testing.T) {
	h := newHarness()
	h.settings.IsStagingSite = true
	b := broadcast.NewMemoryBroadcaster[tracker.Message](4)
	t.Cleanup(func() { _ = b.Close() })
	sub := b.Subscribe(context.Background())

	tr, sess := h.load(tracker.WithBroadcaster(b))
	records := tr.Track(context.Background(), sess, visit(1, settings.TrafficRegular))

	assert.Len(t, records, 2)
	assert.Zero(t, h.transport.calls())
	select {
	case msg := <-sub.Receive():
		t.Fatalf("unexpected broadcast %+v", msg)
	default:
	}
}

func TestTrack_StampsBroadcastsAndSends(t *testing.T) {
	h := newHarness()
	madrid, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Skip("tzdata not available")
	}
	b := broadcast.NewMemoryBroadcaster[tracker.Message](4)
	t.Cleanup(func() { _ = b.Close() })
	sub := b.Subscribe(context.Background())

	p := page.Init(page.Environment{Location: madrid}, h.jar, page.WithClock(func() time.Time { return h.now }))
	sess := session.New(h.settings, p.Env.URL, nil)
	ids := 0
	tr := tracker.New(p, h.segments, h.transport,
		tracker.WithBroadcaster(b),
		tracker.WithIDGenerator(func() string { ids++; return "id-" + string(rune('0'+ids)) }))

	records := tr.Track(context.Background(), sess, visit(1, settings.TrafficRegular))
	require.Len(t, records, 2)
	// the unique id is drawn while expanding, before records are stamped
	unique, ok := records[1].Event.(tracker.UniqueVisitEvent)
	require.True(t, ok)
	assert.Equal(t, "id-1", unique.UniqueID)
	assert.Equal(t, "id-2", records[0].ID)
	assert.Equal(t, "id-3", records[1].ID)
	assert.Equal(t, "Europe/Madrid", records[0].Timezone)

	// one message per stamped record
	for _, rec := range records {
		msg := <-sub.Receive()
		assert.Equal(t, tracker.BroadcastPlugin, msg.Data.Plugin)
		assert.Equal(t, tracker.BroadcastType, msg.Data.Type)
		assert.Equal(t, rec, msg.Data.Value)
	}
	select {
	case msg := <-sub.Receive():
		t.Fatalf("unexpected broadcast %+v", msg)
	default:
	}

	require.Equal(t, 1, h.transport.calls())
	assert.Equal(t, records, h.transport.batches[0])
}

func TestRecord_MarshalJSON(t *testing.T) {
	r := tracker.Record{
		ID:        "abc",
		Timezone:  "UTC",
		Timestamp: time.Date(2026, 10, 14, 12, 0, 0, 5e6, time.FixedZone("X", 3600)),
		Event:     tracker.UniqueConversionEvent{ConversionEvent: tracker.ConversionEvent{Experiment: 4, Alternative: 0, Goal: 0}, UniqueID: "u-1"},
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "abc", got["id"])
	assert.Equal(t, "unique-conversion", got["type"])
	assert.Equal(t, "2026-10-14T11:00:00.005Z", got["timestamp"])
	assert.Equal(t, "u-1", got["uniqueId"])
	assert.EqualValues(t, 4, got["experiment"])
	assert.Contains(t, got, "alternative", "zero alternative is still sent")
	assert.Contains(t, got, "goal")
}
