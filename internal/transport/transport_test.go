package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/splitpage/internal/metrics"
	"github.com/headline-goat/splitpage/internal/settings"
	"github.com/headline-goat/splitpage/internal/transport"
)

type sample struct {
	Type       string `json:"type"`
	Experiment int    `json:"experiment"`
}

type captured struct {
	mu       sync.Mutex
	method   string
	path     string
	site     string
	events   []sample
	requests int
}

func collector(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.requests++
		c.method = r.Method
		c.path = r.URL.Path
		c.site = r.URL.Query().Get(transport.ParamSite)
		if err := transport.Decode(r.URL.Query().Get(transport.ParamEvents), &c.events); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestEncodeDecode(t *testing.T) {
	payload, err := transport.Encode([]sample{{Type: "visit", Experiment: 3}})
	require.NoError(t, err)

	var out []sample
	require.NoError(t, transport.Decode(payload, &out))
	assert.Equal(t, []sample{{Type: "visit", Experiment: 3}}, out)

	assert.ErrorIs(t, transport.Decode("%%%", &out), transport.ErrBadPayload)
}

func TestSend_Pixel(t *testing.T) {
	srv, got := collector(t, http.StatusOK)
	rec := metrics.NewRecorder()
	c := transport.New(settings.API{Mode: settings.APIPixel, URL: srv.URL + "/"}, transport.WithMetrics(rec))

	err := c.Send(context.Background(), "site 1", []sample{{Type: "visit", Experiment: 3}})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/site/site 1/event", got.path)
	assert.Equal(t, "site 1", got.site)
	assert.Equal(t, []sample{{Type: "visit", Experiment: 3}}, got.events)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.TransportRequests.WithLabelValues("pixel", "ok")), 0)
}

func TestSend_PixelFailureReturned(t *testing.T) {
	srv, _ := collector(t, http.StatusInternalServerError)
	c := transport.New(settings.API{Mode: settings.APIPixel, URL: srv.URL})

	err := c.Send(context.Background(), "s", []sample{})
	assert.ErrorIs(t, err, transport.ErrUnexpectedStatus)
}

func TestSend_BeaconSurvivesCancellation(t *testing.T) {
	srv, got := collector(t, http.StatusNoContent)
	rec := metrics.NewRecorder()
	c := transport.New(settings.API{Mode: settings.APIBeacon, URL: srv.URL}, transport.WithMetrics(rec))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Send(ctx, "s", []sample{{Type: "conversion", Experiment: 1}}))
	cancel()
	c.Wait()

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, 1, got.requests)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.TransportRequests.WithLabelValues("beacon", "ok")), 0)
}

func TestSend_BeaconFailureDropped(t *testing.T) {
	rec := metrics.NewRecorder()
	c := transport.New(settings.API{URL: "http://127.0.0.1:1"}, transport.WithMetrics(rec))

	assert.NoError(t, c.Send(context.Background(), "s", []sample{}))
	c.Wait()
	assert.InDelta(t, 1, testutil.ToFloat64(rec.TransportRequests.WithLabelValues("beacon", "error")), 0)
}
