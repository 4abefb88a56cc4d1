// Package tracker turns visits, conversions and heatmap interactions into stamped records
// and hands them to the transport.
//
// Track is the single entry point. It filters events (throttling, segment validity,
// heatmap participation), keeps the page-view bookkeeping in the cookie jar, adds the
// unique variants, and then either logs (staging sites) or broadcasts and sends.
package tracker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/headline-goat/splitpage/internal/broadcast"
	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/logger"
	"github.com/headline-goat/splitpage/internal/metrics"
	"github.com/headline-goat/splitpage/internal/page"
	"github.com/headline-goat/splitpage/internal/session"
	"github.com/headline-goat/splitpage/internal/settings"
	"github.com/headline-goat/splitpage/internal/transport"
)

// PageViewWindow is how long a visit keeps an experiment eligible for conversions.
const PageViewWindow = clientstore.PageViewTTLDays * clientstore.Day

// Broadcast identifiers of tracked records.
const (
	BroadcastPlugin = "splitpage"
	BroadcastType   = "testing-event"
)

// Message is what listeners of the broadcaster receive for every sent record.
type Message struct {
	Plugin string `json:"plugin"`
	Type   string `json:"type"`
	Value  Record `json:"value"`
}

// Segments is the part of the segment engine the tracker needs.
type Segments interface {
	ResolveActiveSegments(ctx context.Context, exp settings.ExperimentSummary) []int
	HeatmapParticipates(ctx context.Context, h settings.HeatmapSummary) bool
}

type Tracker struct {
	page        *page.Page
	segments    Segments
	transport   transport.Transport
	broadcaster broadcast.Broadcaster[Message]
	metrics     *metrics.Recorder
	log         *zap.SugaredLogger
	newID       func() string
}

type Option func(*Tracker)

func WithBroadcaster(b broadcast.Broadcaster[Message]) Option {
	return func(t *Tracker) { t.broadcaster = b }
}

func WithMetrics(m *metrics.Recorder) Option { return func(t *Tracker) { t.metrics = m } }
func WithLogger(l *zap.SugaredLogger) Option { return func(t *Tracker) { t.log = l } }
func WithIDGenerator(f func() string) Option { return func(t *Tracker) { t.newID = f } }

func New(p *page.Page, segs Segments, tr transport.Transport, opts ...Option) *Tracker {
	t := &Tracker{
		page:      p,
		segments:  segs,
		transport: tr,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = logger.OrNop(t.log).Named("tracker")
	return t
}

// bookkeeping is the persisted per-experiment state the eligibility checks read.
type bookkeeping struct {
	pageViews   map[int]int64    // experiment → last visit, unix ms
	uniqueIDs   map[int]string   // experiment → unique id
	conversions map[string]int64 // "experiment:goal" → last conversion, unix ms
}

// Track filters, expands and sends events. It returns the records produced, including
// those that were only logged on a staging site.
func (t *Tracker) Track(ctx context.Context, sess *session.Session, events ...Event) []Record {
	if sess == nil {
		return nil
	}
	now := t.page.Now()
	bk := t.load()
	t.prune(bk, now)

	var accepted []Event
	for _, ev := range events {
		if reason := t.rejection(ctx, sess.Settings, ev, bk, now); reason != "" {
			t.metrics.Rejected(string(ev.Kind()), reason)
			t.log.Debugw("event rejected", "kind", ev.Kind(), "reason", reason)
			continue
		}
		t.record(ev, bk, now)
		accepted = append(accepted, ev)
	}

	expanded := t.expand(accepted, bk)
	if len(expanded) == 0 {
		return nil
	}

	records := make([]Record, 0, len(expanded))
	for _, ev := range expanded {
		records = append(records, Record{
			ID:        t.newID(),
			Timezone:  t.page.Timezone(),
			Timestamp: now,
			Event:     ev,
		})
	}

	if sess.Staging {
		t.log.Infow("staging site, events not sent", "count", len(records))
		return records
	}

	for _, ev := range expanded {
		t.metrics.Tracked(string(ev.Kind()))
	}
	if t.broadcaster != nil {
		for _, rec := range records {
			msg := broadcast.Message[Message]{Data: Message{Plugin: BroadcastPlugin, Type: BroadcastType, Value: rec}}
			_ = t.broadcaster.Broadcast(ctx, msg)
		}
	}
	if err := t.transport.Send(ctx, sess.Settings.SiteID, records); err != nil {
		t.log.Debugw("event batch dropped", "error", err)
	}
	return records
}

// CanSyncEvent reports whether ev would be accepted now, and why not.
func (t *Tracker) CanSyncEvent(ctx context.Context, sess *session.Session, ev Event) (bool, string) {
	bk := t.load()
	now := t.page.Now()
	t.prune(bk, now)
	reason := t.rejection(ctx, sess.Settings, ev, bk, now)
	return reason == "", reason
}

// rejection returns why ev is not eligible, or "" when it is.
func (t *Tracker) rejection(ctx context.Context, s *settings.Settings, ev Event, bk *bookkeeping, now time.Time) string {
	switch e := ev.(type) {
	case ClickEvent:
		return t.heatmapRejection(ctx, s, e.Heatmap, "click")
	case ScrollEvent:
		return t.heatmapRejection(ctx, s, e.Heatmap, "scroll")
	case VisitEvent:
		exp, reason := t.experiment(ctx, s, e.Experiment)
		if reason != "" {
			return reason
		}
		last, visited := bk.pageViews[exp.ID]
		if !visited || e.TrafficType == settings.TrafficRegular || e.TrafficType == "" {
			return ""
		}
		if !elapsed(now, last, s.ThrottleWindow(e.TrafficType)) {
			return "throttled"
		}
		return ""
	case ConversionEvent:
		exp, reason := t.experiment(ctx, s, e.Experiment)
		if reason != "" {
			return reason
		}
		if _, visited := bk.pageViews[exp.ID]; !visited {
			return "no prior visit"
		}
		if e.Goal < 0 || e.Goal >= len(exp.Goals) {
			return "unknown goal"
		}
		traffic := exp.Goals[e.Goal].TrafficType
		if traffic == settings.TrafficRegular || traffic == "" {
			return ""
		}
		last, converted := bk.conversions[goalKey(exp.ID, e.Goal)]
		if converted && !elapsed(now, last, s.ThrottleWindow(traffic)) {
			return "throttled"
		}
		return ""
	default:
		return fmt.Sprintf("unsupported event %s", ev.Kind())
	}
}

func (t *Tracker) experiment(ctx context.Context, s *settings.Settings, id int) (settings.ExperimentSummary, string) {
	exp, ok := s.Experiment(id)
	if !ok || !exp.Active {
		return exp, "inactive experiment"
	}
	if len(t.segments.ResolveActiveSegments(ctx, exp)) == 0 {
		return exp, "no active segment"
	}
	return exp, ""
}

func (t *Tracker) heatmapRejection(ctx context.Context, s *settings.Settings, id int, mode string) string {
	h, ok := s.Heatmap(id)
	if !ok {
		return "unknown heatmap"
	}
	if h.TrackingMode != mode {
		return "wrong heatmap mode"
	}
	if !t.segments.HeatmapParticipates(ctx, h) {
		return "heatmap not participating"
	}
	return ""
}

// elapsed reports whether more than windowMinutes passed since last (unix ms).
func elapsed(now time.Time, last int64, windowMinutes int) bool {
	return now.Sub(time.UnixMilli(last)) > time.Duration(windowMinutes)*time.Minute
}

// record persists the bookkeeping for an accepted event before anything is sent, so a
// conversion evaluated right after sees the visit.
func (t *Tracker) record(ev Event, bk *bookkeeping, now time.Time) {
	switch e := ev.(type) {
	case VisitEvent:
		bk.pageViews[e.Experiment] = now.UnixMilli()
		clientstore.Set(t.page.Jar, clientstore.CookiePageViews, bk.pageViews, clientstore.PageViewTTLDays)
	case ConversionEvent:
		bk.conversions[goalKey(e.Experiment, e.Goal)] = now.UnixMilli()
		clientstore.Set(t.page.Jar, clientstore.CookieGoalConversions, bk.conversions, clientstore.PageViewTTLDays)
	}
}

// expand adds the unique variant after every visit and conversion.
func (t *Tracker) expand(events []Event, bk *bookkeeping) []Event {
	out := make([]Event, 0, 2*len(events))
	for _, ev := range events {
		out = append(out, ev)
		switch e := ev.(type) {
		case VisitEvent:
			out = append(out, UniqueVisitEvent{VisitEvent: e, UniqueID: t.uniqueID(e.Experiment, bk)})
		case ConversionEvent:
			out = append(out, UniqueConversionEvent{ConversionEvent: e, UniqueID: t.uniqueID(e.Experiment, bk)})
		}
	}
	return out
}

func (t *Tracker) uniqueID(experiment int, bk *bookkeeping) string {
	if id, ok := bk.uniqueIDs[experiment]; ok {
		return id
	}
	id := t.newID()
	bk.uniqueIDs[experiment] = id
	clientstore.Set(t.page.Jar, clientstore.CookieUniqueViews, bk.uniqueIDs, clientstore.LongLivedDays)
	return id
}

func (t *Tracker) load() *bookkeeping {
	jar := t.page.Jar
	return &bookkeeping{
		pageViews:   clientstore.Get(jar, clientstore.CookiePageViews, map[int]int64{}),
		uniqueIDs:   clientstore.Get(jar, clientstore.CookieUniqueViews, map[int]string{}),
		conversions: clientstore.Get(jar, clientstore.CookieGoalConversions, map[string]int64{}),
	}
}

// prune drops page views older than the window, together with the unique ids and goal
// conversions of those experiments.
func (t *Tracker) prune(bk *bookkeeping, now time.Time) {
	changed := false
	for id, last := range bk.pageViews {
		if now.Sub(time.UnixMilli(last)) > PageViewWindow {
			delete(bk.pageViews, id)
			changed = true
		}
	}
	for id := range bk.uniqueIDs {
		if _, ok := bk.pageViews[id]; !ok {
			delete(bk.uniqueIDs, id)
			changed = true
		}
	}
	for key := range bk.conversions {
		if _, ok := bk.pageViews[experimentOf(key)]; !ok {
			delete(bk.conversions, key)
			changed = true
		}
	}
	if !changed {
		return
	}

	jar := t.page.Jar
	clientstore.Set(jar, clientstore.CookiePageViews, bk.pageViews, clientstore.PageViewTTLDays)
	clientstore.Set(jar, clientstore.CookieUniqueViews, bk.uniqueIDs, clientstore.LongLivedDays)
	clientstore.Set(jar, clientstore.CookieGoalConversions, bk.conversions, clientstore.PageViewTTLDays)
}

func goalKey(experiment, goal int) string {
	return strconv.Itoa(experiment) + ":" + strconv.Itoa(goal)
}

func experimentOf(key string) int {
	id, _, _ := strings.Cut(key, ":")
	n, err := strconv.Atoi(id)
	if err != nil {
		return -1
	}
	return n
}
