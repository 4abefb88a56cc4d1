// Package listeners turns visitor interactions into conversion and heatmap events.
//
// Each conversion action of each goal becomes its own page.Listener; listeners share
// nothing but the registration list on the page.
package listeners

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/headline-goat/splitpage/internal/logger"
	"github.com/headline-goat/splitpage/internal/page"
	"github.com/headline-goat/splitpage/internal/session"
	"github.com/headline-goat/splitpage/internal/settings"
	"github.com/headline-goat/splitpage/internal/tracker"
)

var ErrInvalidAction = errors.New("invalid conversion action")

type Tracker interface {
	Track(ctx context.Context, sess *session.Session, events ...tracker.Event) []tracker.Record
}

type Registry struct {
	page     *page.Page
	sess     *session.Session
	segments tracker.Segments
	tracker  Tracker
	log      *zap.SugaredLogger
}

func NewRegistry(p *page.Page, sess *session.Session, segs tracker.Segments, tr Tracker, l *zap.SugaredLogger) *Registry {
	return &Registry{
		page:     p,
		sess:     sess,
		segments: segs,
		tracker:  tr,
		log:      logger.OrNop(l).Named("listeners"),
	}
}

// RegisterDefaults registers a listener for every active conversion action of every
// active experiment and for every participating heatmap. It returns how many were added.
func (r *Registry) RegisterDefaults(ctx context.Context) int {
	var ls []page.Listener
	for _, exp := range r.sess.Settings.ActiveExperiments() {
		for gi, goal := range exp.Goals {
			for _, action := range goal.ConversionActions {
				if !action.Active || action.Type == ActionPageView {
					continue
				}
				factory, ok := actionMatchers[action.Type]
				if !ok {
					r.log.Debugw("unknown conversion action", "type", action.Type, "experiment", exp.ID)
					continue
				}
				match, err := factory(action.Attributes, r.page.Env.URL)
				if err != nil {
					r.log.Debugw("conversion action skipped", "experiment", exp.ID, "goal", gi, "error", err)
					continue
				}
				ls = append(ls, &conversionListener{registry: r, exp: exp, goal: gi, match: match})
			}
		}
	}

	for _, h := range r.sess.Settings.Heatmaps {
		if !r.segments.HeatmapParticipates(ctx, h) {
			continue
		}
		switch h.TrackingMode {
		case "click":
			ls = append(ls, &clickListener{registry: r, heatmap: h.ID})
		case "scroll":
			ls = append(ls, &scrollListener{registry: r, heatmap: h.ID})
		}
	}

	r.page.Listen(ls...)
	return len(ls)
}

// PageViewConversions returns conversion events for the page-view actions whose URL is
// the current page.
func (r *Registry) PageViewConversions(ctx context.Context) []tracker.Event {
	s := r.sess.Settings
	var events []tracker.Event
	for _, exp := range s.ActiveExperiments() {
		for gi, goal := range exp.Goals {
			for _, action := range goal.ConversionActions {
				if !action.Active || action.Type != ActionPageView {
					continue
				}
				if s.SameURL(action.Attributes.String("url"), r.page.Env.URL.String()) {
					events = append(events, r.conversion(ctx, exp, gi))
					break
				}
			}
		}
	}
	return events
}

func (r *Registry) conversion(ctx context.Context, exp settings.ExperimentSummary, goal int) tracker.ConversionEvent {
	alt, _ := r.sess.Alternative(exp.ID)
	return tracker.ConversionEvent{
		Experiment:  exp.ID,
		Alternative: alt,
		Goal:        goal,
		Segments:    r.segments.ResolveActiveSegments(ctx, exp),
	}
}

type conversionListener struct {
	registry *Registry
	exp      settings.ExperimentSummary
	goal     int
	match    matcher
}

func (l *conversionListener) Handle(ctx context.Context, i page.Interaction) {
	if !l.match(i) {
		return
	}
	l.registry.tracker.Track(ctx, l.registry.sess, l.registry.conversion(ctx, l.exp, l.goal))
}

type clickListener struct {
	registry *Registry
	heatmap  int
}

func (l *clickListener) Handle(ctx context.Context, i page.Interaction) {
	if i.Kind != page.InteractionClick {
		return
	}
	l.registry.tracker.Track(ctx, l.registry.sess, tracker.ClickEvent{
		Heatmap:  l.heatmap,
		X:        i.X,
		Y:        i.Y,
		Width:    l.registry.page.Env.WindowWidth,
		Selector: selectorOf(i),
	})
}

// scrollListener reports each new maximum depth once.
type scrollListener struct {
	registry *Registry
	heatmap  int

	mu      sync.Mutex
	deepest int
}

func (l *scrollListener) Handle(ctx context.Context, i page.Interaction) {
	if i.Kind != page.InteractionScroll {
		return
	}
	l.mu.Lock()
	if i.ScrollDepth <= l.deepest {
		l.mu.Unlock()
		return
	}
	l.deepest = i.ScrollDepth
	l.mu.Unlock()

	l.registry.tracker.Track(ctx, l.registry.sess, tracker.ScrollEvent{Heatmap: l.heatmap, Depth: i.ScrollDepth})
}

func selectorOf(i page.Interaction) string {
	switch {
	case i.ElementID != "":
		return "#" + i.ElementID
	case len(i.Classes) > 0:
		return "." + strings.Join(i.Classes, ".")
	default:
		return ""
	}
}
