// Package applier shows the visitor the alternatives assigned in their session: it
// redirects for split-URL experiments and hands inline experiments to the content
// injector at the right readiness checkpoint.
package applier

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/headline-goat/splitpage/internal/logger"
	"github.com/headline-goat/splitpage/internal/page"
	"github.com/headline-goat/splitpage/internal/session"
	"github.com/headline-goat/splitpage/internal/settings"
)

var ErrNoAlternative = errors.New("experiment has no assigned alternative")

// Injector mutates the rendered page. Implementations are assumed correct.
type Injector interface {
	Apply(ctx context.Context, exp settings.ExperimentSummary, alternative int) error
	Redirect(target string)
	ShowOriginal(target string)
	RemoveOverlay()
	Reload()
}

// SegmentValidator is the part of the segment engine the applier needs.
type SegmentValidator interface {
	AreSegmentsValid(ctx context.Context, s *settings.Settings) bool
}

type Applier struct {
	page     *page.Page
	segments SegmentValidator
	injector Injector
	log      *zap.SugaredLogger
}

func New(p *page.Page, segs SegmentValidator, inj Injector, l *zap.SugaredLogger) *Applier {
	return &Applier{
		page:     p,
		segments: segs,
		injector: inj,
		log:      logger.OrNop(l).Named("applier"),
	}
}

// LoadAlternative applies the session's alternatives and reports whether the visitor is
// shown tested content. On any error the original content is shown and the error is
// returned for logging only.
func (a *Applier) LoadAlternative(ctx context.Context, sess *session.Session) (bool, error) {
	s := sess.Settings
	if !s.CookieTesting && !a.segments.AreSegmentsValid(ctx, s) {
		a.showOriginal(sess)
		return false, nil
	}

	var inline []settings.ExperimentSummary
	for _, exp := range s.ActiveExperiments() {
		if exp.InlineLoad == settings.InlineHeader || exp.InlineLoad == settings.InlineFooter {
			inline = append(inline, exp)
			continue
		}

		idx, alt, err := alternativeOf(sess, exp)
		if err != nil {
			a.showOriginal(sess)
			return false, err
		}
		if alt.URL != "" && !s.SameURL(alt.URL, sess.URL.String()) {
			a.log.Debugw("redirecting to alternative", "experiment", exp.ID, "alternative", idx)
			a.injector.Redirect(alt.URL)
			return true, nil
		}
		if err := a.injector.Apply(ctx, exp, idx); err != nil {
			a.showOriginal(sess)
			return false, fmt.Errorf("failed to apply experiment %d: %w", exp.ID, err)
		}
		sess.MarkApplied(exp.ID, idx)
	}

	if len(inline) == 0 {
		a.injector.RemoveOverlay()
		return true, nil
	}

	for _, exp := range inline {
		checkpoint := a.page.DOM
		if exp.InlineLoad == settings.InlineHeader {
			checkpoint = a.page.Head
		}
		checkpoint.When(func() { a.applyInline(ctx, sess, exp) })
	}
	// Queued after every footer experiment, and the head is always reached first.
	a.page.DOM.When(a.injector.RemoveOverlay)
	return true, nil
}

func (a *Applier) applyInline(ctx context.Context, sess *session.Session, exp settings.ExperimentSummary) {
	idx, _, err := alternativeOf(sess, exp)
	if err == nil {
		err = a.injector.Apply(ctx, exp, idx)
	}
	if err != nil {
		a.log.Debugw("inline experiment failed", "experiment", exp.ID, "error", err)
		a.injector.ShowOriginal(sess.UntestedURL.String())
		return
	}
	sess.MarkApplied(exp.ID, idx)
}

func (a *Applier) showOriginal(sess *session.Session) {
	a.injector.ShowOriginal(sess.UntestedURL.String())
	a.injector.RemoveOverlay()
}

func alternativeOf(sess *session.Session, exp settings.ExperimentSummary) (int, settings.Alternative, error) {
	idx, ok := sess.Alternative(exp.ID)
	if !ok || idx < 0 || idx >= len(exp.Alternatives) {
		return 0, settings.Alternative{}, fmt.Errorf("%w: %d", ErrNoAlternative, exp.ID)
	}
	return idx, exp.Alternatives[idx], nil
}
