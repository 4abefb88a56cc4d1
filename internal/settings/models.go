// Package settings holds the read-only, server-injected configuration a page load runs with.
package settings

import (
	"fmt"
	"strconv"
	"strings"
)

type InlineLoad string

const (
	InlineNone   InlineLoad = "none"
	InlineHeader InlineLoad = "header"
	InlineFooter InlineLoad = "footer"
)

type SegmentScope string

const (
	ScopeSite SegmentScope = "site"
	ScopePage SegmentScope = "page"
)

type SegmentMatching string

const (
	MatchAll SegmentMatching = "all"
	MatchAny SegmentMatching = "any"
)

type APIMode string

const (
	APIBeacon APIMode = "beacon"
	APIPixel  APIMode = "pixel"
)

// Traffic types with a documented throttle window. Any other type falls back to global.
const (
	TrafficRegular     = "regular"
	TrafficGlobal      = "global"
	TrafficWooCommerce = "woocommerce"
)

const DefaultMaxCombinations = 24

type Settings struct {
	SiteID              string              `json:"siteId" yaml:"siteId"`
	Experiments         []ExperimentSummary `json:"experiments" yaml:"experiments"`
	Heatmaps            []HeatmapSummary    `json:"heatmaps" yaml:"heatmaps"`
	GDPRCookie          GDPRCookie          `json:"gdprCookie" yaml:"gdprCookie"`
	ExcludeBots         bool                `json:"excludeBots" yaml:"excludeBots"`
	ParticipationChance int                 `json:"participationChance" yaml:"participationChance"`
	Throttle            map[string]int      `json:"throttle" yaml:"throttle"` // minutes
	API                 API                 `json:"api" yaml:"api"`
	CookieTesting       bool                `json:"cookieTesting" yaml:"cookieTesting"`
	IgnoreTrailingSlash bool                `json:"ignoreTrailingSlash" yaml:"ignoreTrailingSlash"`
	IgnoreQueryArgs     bool                `json:"ignoreQueryArgs" yaml:"ignoreQueryArgs"`
	MaxCombinations     int                 `json:"maxCombinations" yaml:"maxCombinations"`
	SegmentMatching     SegmentMatching     `json:"segmentMatching" yaml:"segmentMatching"`
	IsStagingSite       bool                `json:"isStagingSite" yaml:"isStagingSite"`
	LoginCookie         string              `json:"loginCookie" yaml:"loginCookie"`
}

type GDPRCookie struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

type API struct {
	Mode APIMode `json:"mode" yaml:"mode"`
	URL  string  `json:"url" yaml:"url"`
}

type ExperimentSummary struct {
	ID                int           `json:"id" yaml:"id"`
	Name              string        `json:"name,omitempty" yaml:"name,omitempty"`
	Active            bool          `json:"active" yaml:"active"`
	Alternatives      []Alternative `json:"alternatives" yaml:"alternatives"`
	Goals             []Goal        `json:"goals" yaml:"goals"`
	Segments          []Segment     `json:"segments" yaml:"segments"`
	InlineLoad        InlineLoad    `json:"inlineLoad" yaml:"inlineLoad"`
	SegmentEvaluation SegmentScope  `json:"segmentEvaluation" yaml:"segmentEvaluation"`
	TrafficType       string        `json:"trafficType,omitempty" yaml:"trafficType,omitempty"` // of its visits
}

// Alternative is one variant. URL is set for redirection alternatives; Payload is opaque
// data handed to the content injector.
type Alternative struct {
	Name    string         `json:"name,omitempty" yaml:"name,omitempty"`
	URL     string         `json:"url,omitempty" yaml:"url,omitempty"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

type Goal struct {
	Name              string             `json:"name,omitempty" yaml:"name,omitempty"`
	TrafficType       string             `json:"trafficType,omitempty" yaml:"trafficType,omitempty"`
	ConversionActions []ConversionAction `json:"conversionActions" yaml:"conversionActions"`
}

type ConversionAction struct {
	Type       string     `json:"type" yaml:"type"`
	Active     bool       `json:"active" yaml:"active"`
	Attributes Attributes `json:"attributes" yaml:"attributes"`
}

type Segment struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Rules []Rule `json:"rules" yaml:"rules"`
}

// Rule is one segmentation-rule instance, dispatched on Type.
type Rule struct {
	Type       string     `json:"type" yaml:"type"`
	Attributes Attributes `json:"attributes" yaml:"attributes"`
}

type HeatmapSummary struct {
	ID                  int    `json:"id" yaml:"id"`
	TrackingMode        string `json:"trackingMode" yaml:"trackingMode"` // click | scroll
	URL                 string `json:"url" yaml:"url"`
	Participation       []Rule `json:"participation" yaml:"participation"`
	ParticipationChance int    `json:"participationChance" yaml:"participationChance"`
}

// Attributes are the free-form parameters of a rule or conversion action.
type Attributes map[string]any

func (a Attributes) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (a Attributes) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

func (a Attributes) Bool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// Strings accepts either a list or a single comma-separated string.
func (a Attributes) Strings(key string) []string {
	switch v := a[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	default:
		return nil
	}
}
