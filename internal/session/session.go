// Package session decides, once per page load, whether the visitor takes part in testing
// and which alternative of every active experiment they see.
package session

import (
	"errors"
	"maps"
	"net/url"
	"sync"

	"github.com/headline-goat/splitpage/internal/settings"
)

// ErrReloadRequired means the persisted cookie-testing flag no longer matches the
// settings. The page must be reloaded in full rather than patched client-side.
var ErrReloadRequired = errors.New("cookie testing mode changed, full reload required")

// Query arguments used to force or preview alternatives. They are stripped from the
// untested URL.
var TestingArgs = []string{"nab", "nabforce", "nabstaging"}

// Session is the immutable decision context of one page load.
type Session struct {
	Settings    *settings.Settings
	URL         *url.URL
	UntestedURL *url.URL
	Staging     bool

	alternatives map[int]int

	mu          sync.Mutex
	lastApplied map[int]int
}

// New builds a session directly. Bootstrapper.GetSession is the normal entry point.
func New(s *settings.Settings, current *url.URL, alternatives map[int]int) *Session {
	if current == nil {
		current = &url.URL{Path: "/"}
	}
	return &Session{
		Settings:     s,
		URL:          current,
		UntestedURL:  untestedURL(current),
		Staging:      s.IsStagingSite || current.Query().Has("nabstaging"),
		alternatives: maps.Clone(alternatives),
		lastApplied:  make(map[int]int),
	}
}

// Alternative returns the alternative index resolved for experiment id.
func (s *Session) Alternative(id int) (int, bool) {
	idx, ok := s.alternatives[id]
	return idx, ok
}

// Alternatives returns a copy of the experiment → alternative index map.
func (s *Session) Alternatives() map[int]int {
	return maps.Clone(s.alternatives)
}

// MarkApplied records that an alternative was rendered. Only authoring tools read it.
func (s *Session) MarkApplied(experiment, alternative int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastApplied[experiment] = alternative
}

func (s *Session) LastApplied() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.lastApplied)
}

func untestedURL(u *url.URL) *url.URL {
	c := *u
	q := c.Query()
	for _, arg := range TestingArgs {
		q.Del(arg)
	}
	c.RawQuery = q.Encode()
	return &c
}
