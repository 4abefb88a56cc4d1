package store

import (
	"encoding/json"
	"time"
)

// Event is one record received by the collector. Payload keeps the record as sent.
type Event struct {
	ID          string
	SiteID      string
	Kind        string
	Experiment  int
	Alternative int
	Goal        *int // conversions only
	Heatmap     int
	UniqueID    string
	Payload     json.RawMessage
	OccurredAt  time.Time
	ReceivedAt  time.Time
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	SiteID     string
	Experiment int
	Kind       string
	Limit      int
}

type AlternativeStats struct {
	Alternative       int
	Visits            int
	UniqueVisitors    int
	Conversions       int
	UniqueConversions int
}

// Setting keys.
const (
	SettingCollectorToken = "collector_token"
	SettingCollectorURL   = "collector_url"
)
