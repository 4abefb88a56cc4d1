package session

import (
	"math/rand/v2"
	"strconv"

	"go.uber.org/zap"

	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/logger"
	"github.com/headline-goat/splitpage/internal/page"
	"github.com/headline-goat/splitpage/internal/settings"
	"github.com/headline-goat/splitpage/internal/useragent"
)

type Bootstrapper struct {
	page *page.Page
	intN func(n int) int
	log  *zap.SugaredLogger
}

type Option func(*Bootstrapper)

// WithRand overrides the random source; intN must return a value in [0, n).
func WithRand(intN func(n int) int) Option {
	return func(b *Bootstrapper) { b.intN = intN }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Bootstrapper) { b.log = l }
}

func NewBootstrapper(p *page.Page, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{page: p, intN: rand.IntN}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logger.OrNop(b.log).Named("session")
	return b
}

// GetSession runs the participation gates and resolves alternatives. A nil session with
// a nil error means the visitor sees original content and is not tracked.
func (b *Bootstrapper) GetSession(s *settings.Settings) (*Session, error) {
	jar := b.page.Jar

	if reason, ok := b.environmentAllowed(s); !ok {
		b.log.Debugw("environment rejected", "reason", reason)
		return nil, nil
	}
	if !IsGDPRAccepted(jar, s.GDPRCookie) {
		b.log.Debug("gdpr consent missing")
		return nil, nil
	}
	if !b.participates(s) {
		b.log.Debug("visitor outside participation chance")
		return nil, nil
	}
	if b.cookieTestingChanged(s) {
		return nil, ErrReloadRequired
	}

	return New(s, b.page.Env.URL, b.assignAlternatives(s)), nil
}

func (b *Bootstrapper) environmentAllowed(s *settings.Settings) (string, bool) {
	ua := useragent.Parse(b.page.Env.UserAgent)
	switch {
	case ua.IsLegacy():
		return "legacy browser", false
	case s.ExcludeBots && ua.IsBot():
		return "bot", false
	case !b.page.Env.CookiesEnabled:
		return "cookies disabled", false
	}
	return "", true
}

func (b *Bootstrapper) participates(s *settings.Settings) bool {
	draw := clientstore.Get(b.page.Jar, clientstore.CookieParticipation, -1)
	if draw < 0 || draw >= 100 {
		draw = b.intN(100)
		clientstore.Set(b.page.Jar, clientstore.CookieParticipation, draw, clientstore.LongLivedDays)
	}
	return draw < s.ParticipationChance
}

// cookieTestingChanged persists the current flag and reports whether it differs from
// the one stored by a previous page load.
func (b *Bootstrapper) cookieTestingChanged(s *settings.Settings) bool {
	jar := b.page.Jar
	raw, found := jar.Get(clientstore.CookieTesting)
	stored, err := strconv.ParseBool(raw)

	if !found || err != nil || stored != s.CookieTesting {
		clientstore.Set(jar, clientstore.CookieTesting, s.CookieTesting, clientstore.LongLivedDays)
	}
	return found && err == nil && stored != s.CookieTesting
}

// drawRange bounds the alternative draw. A non-positive limit means unbounded and the
// range never drops below one, so the draw cannot panic.
func drawRange(alternatives, limit int) int {
	if limit > 0 {
		alternatives = min(alternatives, limit)
	}
	return max(1, alternatives)
}

// assignAlternatives keeps persisted indices that are still in range and draws the rest.
// Assignments of experiments no longer configured are dropped.
func (b *Bootstrapper) assignAlternatives(s *settings.Settings) map[int]int {
	stored := clientstore.Get(b.page.Jar, clientstore.CookieAlternatives, map[int]int{})
	assigned := make(map[int]int, len(s.Experiments))

	for _, e := range s.Experiments {
		if idx, ok := stored[e.ID]; ok && idx >= 0 && idx < len(e.Alternatives) {
			assigned[e.ID] = idx
		}
	}

	for _, e := range s.ActiveExperiments() {
		if _, ok := assigned[e.ID]; ok {
			continue
		}
		assigned[e.ID] = b.intN(drawRange(len(e.Alternatives), s.MaxCombinations))
	}

	clientstore.Set(b.page.Jar, clientstore.CookieAlternatives, assigned, clientstore.LongLivedDays)
	return assigned
}
