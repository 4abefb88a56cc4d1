// Package geo fetches the visitor's IP address and coarse location from the collector API.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StalenessWindow is how long cached geo data is trusted.
const StalenessWindow = 24 * time.Hour

var ErrUnexpectedStatus = errors.New("unexpected geo status")

type Location struct {
	Country string `json:"country"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// Data is the cached geo record kept in the segmentation cookie.
type Data struct {
	IPAddress  string   `json:"ipAddress"`
	Location   Location `json:"location"`
	LastUpdate int64    `json:"lastUpdate"` // unix ms
}

// IsStale reports whether d is missing or older than the staleness window.
func (d *Data) IsStale(now time.Time) bool {
	if d == nil || d.LastUpdate == 0 {
		return true
	}
	return now.Sub(time.UnixMilli(d.LastUpdate)) > StalenessWindow
}

// Fetcher retrieves fresh geo data.
type Fetcher interface {
	Fetch(ctx context.Context) (Data, error)
}

// HTTPFetcher calls GET <api>/geo.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		now:     time.Now,
	}
}

type response struct {
	IP       string   `json:"ip"`
	Location Location `json:"location"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (Data, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/geo", nil)
	if err != nil {
		return Data{}, fmt.Errorf("failed to build geo request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Data{}, fmt.Errorf("failed to fetch geo data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Data{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Data{}, fmt.Errorf("failed to decode geo data: %w", err)
	}

	return Data{
		IPAddress:  body.IP,
		Location:   body.Location,
		LastUpdate: f.now().UnixMilli(),
	}, nil
}
