package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/headline-goat/splitpage/internal/geo"
	"github.com/headline-goat/splitpage/internal/store"
	"github.com/headline-goat/splitpage/internal/transport"
)

type HealthResponse struct {
	Status        string `json:"status"`
	DBSizeBytes   int64  `json:"db_size_bytes"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var dbSize int64
	if s.db != nil {
		row := s.db.DB().QueryRowContext(r.Context(), "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
		if err := row.Scan(&dbSize); err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, HealthResponse{
		Status:        "ok",
		DBSizeBytes:   dbSize,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

// pixel is a transparent 1x1 GIF.
var pixel, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

// wireRecord is the subset of a tracker record the collector indexes.
type wireRecord struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Timestamp   string `json:"timestamp"`
	Experiment  int    `json:"experiment"`
	Alternative int    `json:"alternative"`
	Goal        *int   `json:"goal"`
	Heatmap     int    `json:"heatmap"`
	UniqueID    string `json:"uniqueId"`
}

var (
	errInvalidRecord = errors.New("invalid record")
	errMissingID     = errors.New("record without id")
)

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	q := r.URL.Query()
	if a := q.Get(transport.ParamSite); a != "" && a != siteID {
		http.Error(w, "Site mismatch", http.StatusBadRequest)
		return
	}

	var raw []json.RawMessage
	if err := transport.Decode(q.Get(transport.ParamEvents), &raw); err != nil {
		s.log.Debugw("rejected payload", "site", siteID, "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	inserted, err := s.ingest(r.Context(), siteID, raw)
	if errors.Is(err, errInvalidRecord) {
		s.log.Debugw("rejected record", "site", siteID, "error", err)
		http.Error(w, "Invalid record", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.log.Errorw("failed to record events", "site", siteID, "error", err)
		http.Error(w, "Failed to record events", http.StatusInternalServerError)
		return
	}
	s.log.Debugw("recorded events", "site", siteID, "received", len(raw), "new", inserted)

	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "image/gif")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(pixel)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ingest stores a batch of wire records and returns how many were new.
func (s *Server) ingest(ctx context.Context, siteID string, raw []json.RawMessage) (int, error) {
	events := make([]*store.Event, 0, len(raw))
	for _, msg := range raw {
		e, err := parseRecord(msg)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", errInvalidRecord, err)
		}
		events = append(events, e)
	}

	inserted, err := s.store.RecordEvents(ctx, siteID, events)
	if err != nil {
		return 0, err
	}
	for _, e := range events {
		s.metrics.Received(e.Kind, 1)
	}
	return inserted, nil
}

func parseRecord(msg json.RawMessage) (*store.Event, error) {
	var rec wireRecord
	if err := json.Unmarshal(msg, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, errMissingID
	}

	occurred := time.Now()
	if rec.Timestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
		if err != nil {
			return nil, err
		}
		occurred = t
	}

	return &store.Event{
		ID:          rec.ID,
		Kind:        rec.Type,
		Experiment:  rec.Experiment,
		Alternative: rec.Alternative,
		Goal:        rec.Goal,
		Heatmap:     rec.Heatmap,
		UniqueID:    rec.UniqueID,
		Payload:     msg,
		OccurredAt:  occurred,
	}, nil
}

type geoResponse struct {
	IP       string       `json:"ip"`
	Location geo.Location `json:"location"`
}

// handleGeo reports the caller's address. The country comes from the edge proxy headers.
func (s *Server) handleGeo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	writeJSON(w, geoResponse{
		IP:       clientIP(r),
		Location: geo.Location{Country: requestCountry(r)},
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EventFilter{
		SiteID: q.Get("site"),
		Kind:   q.Get("kind"),
	}
	filter.Experiment, _ = strconv.Atoi(q.Get("experiment"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		http.Error(w, "Failed to list events", http.StatusInternalServerError)
		return
	}

	payloads := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		payloads = append(payloads, e.Payload)
	}
	writeJSON(w, payloads)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	experiment, err := strconv.Atoi(q.Get("experiment"))
	if err != nil || q.Get("site") == "" {
		http.Error(w, "site and experiment are required", http.StatusBadRequest)
		return
	}

	stats, err := s.store.GetAlternativeStats(r.Context(), q.Get("site"), experiment)
	if err != nil {
		http.Error(w, "Failed to get stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
