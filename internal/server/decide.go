package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/headline-goat/splitpage/internal/applier"
	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/geo"
	"github.com/headline-goat/splitpage/internal/page"
	"github.com/headline-goat/splitpage/internal/pageload"
)

// Decision is what the decide endpoint reports for one page load.
type Decision struct {
	Testing      bool          `json:"testing"`
	Reload       bool          `json:"reload,omitempty"`
	Redirected   bool          `json:"redirected,omitempty"`
	Alternatives map[int]int   `json:"alternatives,omitempty"`
	Segments     map[int][]int `json:"segments,omitempty"`
	Actions      []string      `json:"actions"`
	Events       int           `json:"events"`
}

// handleDecide runs the engine for the page in ?url= with the caller's cookies, the way a
// server-rendered site would before sending HTML. Jar changes come back as Set-Cookie.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	if s.settings == nil || s.settings.SiteID != siteID {
		http.Error(w, "Unknown site", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	target, err := url.Parse(q.Get("url"))
	if err != nil || !target.IsAbs() {
		http.Error(w, "url must be absolute", http.StatusBadRequest)
		return
	}
	width, _ := strconv.Atoi(q.Get("w"))

	jar := clientstore.FromRequest(r)
	env := page.Environment{
		URL:            target,
		Referrer:       r.Referer(),
		UserAgent:      r.UserAgent(),
		WindowWidth:    width,
		Languages:      acceptLanguages(r.Header.Get("Accept-Language")),
		CookiesEnabled: true,
	}
	if tz := q.Get("tz"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			env.Location = loc
		}
	}

	inj := applier.NewRecorder()
	runner := pageload.NewRunner(inj, localTransport{s},
		pageload.WithGeoFetcher(requestGeo{r}),
		pageload.WithMetrics(s.metrics),
		pageload.WithLogger(s.log),
	)

	p := page.Init(env, jar)
	res, err := runner.Run(r.Context(), p, s.settings)
	if err != nil {
		s.log.Debugw("page load failed", "site", siteID, "error", err)
	}
	p.Head.Reach()
	p.DOM.Reach()
	res.Wait()

	decision := Decision{
		Testing:    res.Session != nil,
		Reload:     res.Reloaded,
		Redirected: res.Redirected,
		Segments:   res.Segments,
		Actions:    inj.Actions(),
		Events:     len(res.Records),
	}
	if res.Session != nil {
		decision.Alternatives = res.Session.Alternatives()
	}

	jar.WriteCookies(w)
	writeJSON(w, decision)
}

// acceptLanguages returns the tags of an Accept-Language header by preference.
func acceptLanguages(header string) []string {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.String())
	}
	return out
}

// localTransport stores tracked records directly instead of calling back over HTTP.
type localTransport struct{ s *Server }

func (t localTransport) Send(ctx context.Context, siteID string, events any) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to encode events: %w", err)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to split events: %w", err)
	}
	_, err = t.s.ingest(ctx, siteID, raw)
	return err
}

// requestGeo answers geo lookups from the request being served.
type requestGeo struct{ r *http.Request }

func (g requestGeo) Fetch(context.Context) (geo.Data, error) {
	return geo.Data{
		IPAddress:  clientIP(g.r),
		Location:   geo.Location{Country: requestCountry(g.r)},
		LastUpdate: time.Now().UnixMilli(),
	}, nil
}

func requestCountry(r *http.Request) string {
	country := r.Header.Get("CF-IPCountry")
	if country == "" {
		country = r.Header.Get("X-Country")
	}
	return strings.ToUpper(country)
}
