// Package page is the per-page-load context: what the visitor's browser exposes, the
// cookie jar, the readiness checkpoints and the registered interaction listeners.
//
// A Page is created with Init when a page load starts and is simply dropped on
// navigation; nothing in it outlives the load except what was written to the jar.
package page

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/headline-goat/splitpage/internal/clientstore"
)

// Environment is what the browser tells us about the visitor.
type Environment struct {
	URL            *url.URL
	Referrer       string
	UserAgent      string
	WindowWidth    int
	Languages      []string
	CookiesEnabled bool
	Location       *time.Location
}

type Page struct {
	Env  Environment
	Jar  clientstore.Store
	Head *Checkpoint
	DOM  *Checkpoint

	now func() time.Time

	mu        sync.Mutex
	listeners []Listener
}

type Option func(*Page)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Page) { p.now = now }
}

// Init starts a page load.
func Init(env Environment, jar clientstore.Store, opts ...Option) *Page {
	if env.Location == nil {
		env.Location = time.UTC
	}
	if env.URL == nil {
		env.URL = &url.URL{Path: "/"}
	}
	p := &Page{
		Env:  env,
		Jar:  jar,
		Head: NewCheckpoint("head"),
		DOM:  NewCheckpoint("dom"),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Now returns the current time in the visitor's zone.
func (p *Page) Now() time.Time {
	return p.now().In(p.Env.Location)
}

// Timezone returns the visitor's IANA zone name.
func (p *Page) Timezone() string {
	return p.Env.Location.String()
}

// Listen registers listeners for the rest of the page load.
func (p *Page) Listen(ls ...Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, ls...)
}

// Listeners returns the registered listeners.
func (p *Page) Listeners() []Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Listener(nil), p.listeners...)
}

// Dispatch hands i to every registered listener, in registration order.
func (p *Page) Dispatch(ctx context.Context, i Interaction) {
	for _, l := range p.Listeners() {
		l.Handle(ctx, i)
	}
}
