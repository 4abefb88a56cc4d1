// Package pageload runs one page load end to end: session, segments, alternatives,
// visit tracking and listener registration.
package pageload

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/headline-goat/splitpage/internal/applier"
	"github.com/headline-goat/splitpage/internal/broadcast"
	"github.com/headline-goat/splitpage/internal/geo"
	"github.com/headline-goat/splitpage/internal/listeners"
	"github.com/headline-goat/splitpage/internal/logger"
	"github.com/headline-goat/splitpage/internal/metrics"
	"github.com/headline-goat/splitpage/internal/page"
	"github.com/headline-goat/splitpage/internal/segment"
	"github.com/headline-goat/splitpage/internal/session"
	"github.com/headline-goat/splitpage/internal/settings"
	"github.com/headline-goat/splitpage/internal/tracker"
	"github.com/headline-goat/splitpage/internal/transport"
)

// Result describes what a page load did.
type Result struct {
	// Session is nil when the visitor does not take part in testing.
	Session    *session.Session
	Applied    bool
	Redirected bool
	Reloaded   bool
	Segments   map[int][]int // experiment → matched segments
	Records    []tracker.Record
	Listeners  int

	engine *segment.Engine
}

// Wait blocks until background work started by the page load (geo refreshes) is done.
func (r *Result) Wait() {
	if r != nil && r.engine != nil {
		r.engine.Wait()
	}
}

type Runner struct {
	injector    applier.Injector
	transport   transport.Transport
	geo         geo.Fetcher
	rules       *segment.Registry
	broadcaster broadcast.Broadcaster[tracker.Message]
	metrics     *metrics.Recorder
	log         *zap.SugaredLogger
	intN        func(n int) int
}

type Option func(*Runner)

func WithGeoFetcher(f geo.Fetcher) Option    { return func(r *Runner) { r.geo = f } }
func WithRules(reg *segment.Registry) Option { return func(r *Runner) { r.rules = reg } }
func WithMetrics(m *metrics.Recorder) Option { return func(r *Runner) { r.metrics = m } }
func WithLogger(l *zap.SugaredLogger) Option { return func(r *Runner) { r.log = l } }
func WithRand(intN func(n int) int) Option   { return func(r *Runner) { r.intN = intN } }

func WithBroadcaster(b broadcast.Broadcaster[tracker.Message]) Option {
	return func(r *Runner) { r.broadcaster = b }
}

func NewRunner(inj applier.Injector, tr transport.Transport, opts ...Option) *Runner {
	r := &Runner{injector: inj, transport: tr}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrNop(r.log)
	return r
}

// Run processes one page load. Failures never surface to the visitor: the returned error
// is for logging, and the page has already fallen back to original content.
func (r *Runner) Run(ctx context.Context, p *page.Page, s *settings.Settings) (*Result, error) {
	var sessOpts []session.Option
	sessOpts = append(sessOpts, session.WithLogger(r.log))
	if r.intN != nil {
		sessOpts = append(sessOpts, session.WithRand(r.intN))
	}

	sess, err := session.NewBootstrapper(p, sessOpts...).GetSession(s)
	switch {
	case errors.Is(err, session.ErrReloadRequired):
		r.injector.Reload()
		return &Result{Reloaded: true}, nil
	case err != nil:
		r.injector.RemoveOverlay()
		return &Result{}, fmt.Errorf("failed to start session: %w", err)
	case sess == nil:
		r.injector.RemoveOverlay()
		return &Result{}, nil
	}

	engine := segment.NewEngine(p, s, r.engineOptions()...)
	res := &Result{Session: sess, Segments: make(map[int][]int), engine: engine}

	ids := make([]int, 0, len(s.Experiments))
	for _, exp := range s.Experiments {
		ids = append(ids, exp.ID)
	}
	engine.CleanOldSegments(ids)

	inj := &redirectWatch{Injector: r.injector}
	res.Applied, err = applier.New(p, engine, inj, r.log).LoadAlternative(ctx, sess)
	res.Redirected = inj.redirected
	if err != nil {
		r.log.Debugw("alternative not applied", "error", err)
	}
	if !res.Applied || res.Redirected {
		return res, nil
	}

	trackerOpts := []tracker.Option{tracker.WithLogger(r.log), tracker.WithMetrics(r.metrics)}
	if r.broadcaster != nil {
		trackerOpts = append(trackerOpts, tracker.WithBroadcaster(r.broadcaster))
	}
	t := tracker.New(p, engine, r.transport, trackerOpts...)

	var events []tracker.Event
	for _, exp := range s.ActiveExperiments() {
		segs := engine.ResolveActiveSegments(ctx, exp)
		res.Segments[exp.ID] = segs
		alt, _ := sess.Alternative(exp.ID)
		events = append(events, tracker.VisitEvent{
			Experiment:  exp.ID,
			Alternative: alt,
			Segments:    segs,
			TrafficType: exp.TrafficType,
		})
	}

	reg := listeners.NewRegistry(p, sess, engine, t, r.log)
	events = append(events, reg.PageViewConversions(ctx)...)
	res.Records = t.Track(ctx, sess, events...)
	res.Listeners = reg.RegisterDefaults(ctx)

	return res, nil
}

func (r *Runner) engineOptions() []segment.Option {
	opts := []segment.Option{segment.WithLogger(r.log), segment.WithMetrics(r.metrics)}
	if r.geo != nil {
		opts = append(opts, segment.WithGeoFetcher(r.geo))
	}
	if r.rules != nil {
		opts = append(opts, segment.WithRegistry(r.rules))
	}
	if r.intN != nil {
		opts = append(opts, segment.WithRand(r.intN))
	}
	return opts
}

// redirectWatch notes whether the applier navigated away.
type redirectWatch struct {
	applier.Injector
	redirected bool
}

func (w *redirectWatch) Redirect(target string) {
	w.redirected = true
	w.Injector.Redirect(target)
}
