// Package transport delivers event batches to the collector, at most once and without
// retries. Beacon mode fires a POST that outlives the caller; pixel mode is a plain GET.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/headline-goat/splitpage/internal/logger"
	"github.com/headline-goat/splitpage/internal/metrics"
	"github.com/headline-goat/splitpage/internal/settings"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected collector status")
	ErrBadPayload       = errors.New("malformed event payload")
)

// Query parameters of the collector endpoint.
const (
	ParamEvents = "e"
	ParamSite   = "a"
)

// Transport sends one batch of events for a site.
type Transport interface {
	Send(ctx context.Context, siteID string, events any) error
}

type Client struct {
	baseURL string
	mode    settings.APIMode
	http    *http.Client
	metrics *metrics.Recorder
	log     *zap.SugaredLogger

	inflight sync.WaitGroup
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option  { return func(c *Client) { c.http = hc } }
func WithMetrics(m *metrics.Recorder) Option { return func(c *Client) { c.metrics = m } }
func WithLogger(l *zap.SugaredLogger) Option { return func(c *Client) { c.log = l } }

func New(api settings.API, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(api.URL, "/"),
		mode:    api.Mode,
		http:    http.DefaultClient,
	}
	if c.mode == "" {
		c.mode = settings.APIBeacon
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrNop(c.log).Named("transport")
	return c
}

// Encode renders events as base64 of their JSON encoding.
func Encode(events any) (string, error) {
	data, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to encode events: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode reverses Encode. URL-safe base64 is accepted too.
func Decode(payload string, v any) error {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// EventURL returns the collector URL carrying payload for siteID.
func (c *Client) EventURL(siteID, payload string) string {
	q := url.Values{}
	q.Set(ParamEvents, payload)
	q.Set(ParamSite, siteID)
	return c.baseURL + "/site/" + url.PathEscape(siteID) + "/event?" + q.Encode()
}

// Send delivers events. In beacon mode it returns as soon as the request is started and
// the request survives cancellation of ctx; failures are only logged. In pixel mode the
// request completes before Send returns and its error is returned.
func (c *Client) Send(ctx context.Context, siteID string, events any) error {
	payload, err := Encode(events)
	if err != nil {
		return err
	}
	target := c.EventURL(siteID, payload)

	if c.mode == settings.APIPixel {
		return c.do(ctx, http.MethodGet, target)
	}

	ctx = context.WithoutCancel(ctx)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		_ = c.do(ctx, http.MethodPost, target)
	}()
	return nil
}

// Wait blocks until every beacon started so far has finished.
func (c *Client) Wait() {
	c.inflight.Wait()
}

func (c *Client) do(ctx context.Context, method, target string) error {
	start := time.Now()
	err := c.roundTrip(ctx, method, target)
	c.metrics.Sent(string(c.mode), time.Since(start), err)
	if err != nil {
		c.log.Debugw("event batch dropped", "mode", c.mode, "error", err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, target string) error {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build collector request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach collector: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}
