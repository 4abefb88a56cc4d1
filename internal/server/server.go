// Package server is the collector. It receives the tracker's event batches, answers geo
// lookups, serves the captured events to token holders and, given site settings, decides
// page loads server-side.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/headline-goat/splitpage/internal/logger"
	"github.com/headline-goat/splitpage/internal/metrics"
	"github.com/headline-goat/splitpage/internal/settings"
	"github.com/headline-goat/splitpage/internal/store"
	"github.com/headline-goat/splitpage/internal/transport"
)

type Server struct {
	store     store.Store
	db        *store.SQLiteStore
	port      int
	token     string
	tokenFile string
	router    chi.Router
	settings  *settings.Settings
	metrics   *metrics.Recorder
	log       *zap.SugaredLogger
	startTime time.Time
}

type Option func(*Server)

func WithToken(token string) Option          { return func(s *Server) { s.token = token } }
func WithTokenFile(path string) Option       { return func(s *Server) { s.tokenFile = path } }
func WithMetrics(m *metrics.Recorder) Option { return func(s *Server) { s.metrics = m } }
func WithLogger(l *zap.SugaredLogger) Option { return func(s *Server) { s.log = l } }
func WithDB(db *store.SQLiteStore) Option    { return func(s *Server) { s.db = db } }

// WithSettings enables the decide endpoint for the site in st.
func WithSettings(st *settings.Settings) Option { return func(s *Server) { s.settings = st } }

func New(st store.Store, port int, opts ...Option) *Server {
	srv := &Server{
		store:     st,
		port:      port,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.token == "" {
		// crypto/rand does not fail on supported platforms
		srv.token, _ = GenerateToken()
	}
	if srv.metrics == nil {
		srv.metrics = metrics.NewRecorder()
	}
	srv.log = logger.OrNop(srv.log).Named("collector")

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/geo", s.handleGeo)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}))
	s.router.With(cors).Route("/site/{siteID}", func(r chi.Router) {
		r.Get("/decide", s.handleDecide)
		r.Get("/event", s.handleEvent)
		r.Post("/event", s.handleEvent)
		r.Options("/event", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	// token holders only
	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/events", s.handleListEvents)
		r.Get("/events/stats", s.handleStats)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully. The token is written to
// the token file first and the endpoints are announced on out when it is non-nil.
func (s *Server) Run(ctx context.Context, out io.Writer) error {
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0o600); err != nil {
			s.log.Warnw("failed to write token file", "path", s.tokenFile, "error", err)
		}
	}
	if out != nil {
		s.announce(out)
	}

	hs := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down collector: %w", err)
		}
		return nil
	}
}

func (s *Server) announce(out io.Writer) {
	base := fmt.Sprintf("http://localhost:%d", s.port)
	fmt.Fprintf(out, "\nsplitpage collector listening on %s\n", base)
	fmt.Fprintf(out, "  events:   %s/site/<site>/event?%s=<site>&%s=<payload>\n", base, transport.ParamSite, transport.ParamEvents)
	fmt.Fprintf(out, "  captured: %s/events?token=%s\n", base, s.token)
	fmt.Fprintf(out, "  metrics:  %s/metrics\n\n", base)
}

// Token is the secret guarding the captured events.
func (s *Server) Token() string { return s.token }

func (s *Server) Handler() http.Handler { return s.router }

// GenerateToken returns a random 128-bit hex token.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
