package tracker

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindVisit            Kind = "visit"
	KindUniqueVisit      Kind = "unique-visit"
	KindConversion       Kind = "conversion"
	KindUniqueConversion Kind = "unique-conversion"
	KindClick            Kind = "click"
	KindScroll           Kind = "scroll"
)

// Event is anything the tracker can send. The concrete types below are the whole set.
type Event interface {
	Kind() Kind
}

// VisitEvent records that the visitor saw an alternative of an experiment.
type VisitEvent struct {
	Experiment  int    `json:"experiment"`
	Alternative int    `json:"alternative"`
	Segments    []int  `json:"segments"`
	TrafficType string `json:"trafficType"`
}

// ConversionEvent records that the visitor reached a goal. Goal indexes the experiment's
// goal list.
type ConversionEvent struct {
	Experiment  int   `json:"experiment"`
	Alternative int   `json:"alternative"`
	Goal        int   `json:"goal"`
	Segments    []int `json:"segments"`
}

type UniqueVisitEvent struct {
	VisitEvent
	UniqueID string `json:"uniqueId"`
}

type UniqueConversionEvent struct {
	ConversionEvent
	UniqueID string `json:"uniqueId"`
}

// ClickEvent is a heatmap click, in page coordinates.
type ClickEvent struct {
	Heatmap  int    `json:"heatmap"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Selector string `json:"selector,omitempty"`
}

// ScrollEvent is the deepest scroll reached, in percent of the document.
type ScrollEvent struct {
	Heatmap int `json:"heatmap"`
	Depth   int `json:"depth"`
}

func (VisitEvent) Kind() Kind            { return KindVisit }
func (ConversionEvent) Kind() Kind       { return KindConversion }
func (UniqueVisitEvent) Kind() Kind      { return KindUniqueVisit }
func (UniqueConversionEvent) Kind() Kind { return KindUniqueConversion }
func (ClickEvent) Kind() Kind            { return KindClick }
func (ScrollEvent) Kind() Kind           { return KindScroll }

// isoLayout is ISO-8601 in UTC with millisecond precision.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Record is a stamped event as it goes on the wire.
type Record struct {
	ID        string
	Timezone  string
	Timestamp time.Time
	Event     Event
}

// MarshalJSON flattens the event fields next to the stamp:
// {"id", "type", "timezone", "timestamp", ...event fields}.
func (r Record) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if r.Event != nil {
		body, err := json.Marshal(r.Event)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s event: %w", r.Event.Kind(), err)
		}
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("failed to flatten %s event: %w", r.Event.Kind(), err)
		}
		fields["type"], _ = json.Marshal(r.Event.Kind())
	}
	fields["id"], _ = json.Marshal(r.ID)
	fields["timezone"], _ = json.Marshal(r.Timezone)
	fields["timestamp"], _ = json.Marshal(r.Timestamp.UTC().Format(isoLayout))
	return json.Marshal(fields)
}
