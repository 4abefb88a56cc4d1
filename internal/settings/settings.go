package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Load reads settings from a .json, .yaml or .yml file and applies defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	var s Settings
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse settings: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse settings: %w", err)
		}
	}

	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ApplyDefaults fills zero values with their documented defaults.
func (s *Settings) ApplyDefaults() {
	if s.MaxCombinations <= 0 {
		s.MaxCombinations = DefaultMaxCombinations
	}
	if s.SegmentMatching == "" {
		s.SegmentMatching = MatchAll
	}
	if s.API.Mode == "" {
		s.API.Mode = APIBeacon
	}
	if s.LoginCookie == "" {
		s.LoginCookie = "wordpress_logged_in_*"
	}
	if s.Throttle == nil {
		s.Throttle = map[string]int{}
	}
	for i := range s.Experiments {
		e := &s.Experiments[i]
		if e.InlineLoad == "" {
			e.InlineLoad = InlineNone
		}
		if e.SegmentEvaluation == "" {
			e.SegmentEvaluation = ScopeSite
		}
		if e.TrafficType == "" {
			e.TrafficType = TrafficRegular
		}
		for j := range e.Goals {
			if e.Goals[j].TrafficType == "" {
				e.Goals[j].TrafficType = TrafficRegular
			}
		}
	}
	for i := range s.Heatmaps {
		if s.Heatmaps[i].ParticipationChance == 0 {
			s.Heatmaps[i].ParticipationChance = 100
		}
	}
}

func (s *Settings) Validate() error {
	if s.ParticipationChance < 0 || s.ParticipationChance > 100 {
		return fmt.Errorf("%w: participation chance %d out of range", ErrInvalidSettings, s.ParticipationChance)
	}
	switch s.SegmentMatching {
	case MatchAll, MatchAny:
	default:
		return fmt.Errorf("%w: unknown segment matching %q", ErrInvalidSettings, s.SegmentMatching)
	}
	switch s.API.Mode {
	case APIBeacon, APIPixel:
	default:
		return fmt.Errorf("%w: unknown api mode %q", ErrInvalidSettings, s.API.Mode)
	}
	seen := make(map[int]bool, len(s.Experiments))
	for _, e := range s.Experiments {
		if seen[e.ID] {
			return fmt.Errorf("%w: duplicate experiment %d", ErrInvalidSettings, e.ID)
		}
		seen[e.ID] = true
		switch e.InlineLoad {
		case InlineNone, InlineHeader, InlineFooter:
		default:
			return fmt.Errorf("%w: experiment %d has unknown inline load %q", ErrInvalidSettings, e.ID, e.InlineLoad)
		}
	}
	return nil
}

// ActiveExperiments returns the experiments running on this page load.
func (s *Settings) ActiveExperiments() []ExperimentSummary {
	var out []ExperimentSummary
	for _, e := range s.Experiments {
		if e.Active && len(e.Alternatives) > 0 {
			out = append(out, e)
		}
	}
	return out
}

func (s *Settings) Experiment(id int) (ExperimentSummary, bool) {
	for _, e := range s.Experiments {
		if e.ID == id {
			return e, true
		}
	}
	return ExperimentSummary{}, false
}

func (s *Settings) Heatmap(id int) (HeatmapSummary, bool) {
	for _, h := range s.Heatmaps {
		if h.ID == id {
			return h, true
		}
	}
	return HeatmapSummary{}, false
}

// ThrottleWindow returns the window in minutes for trafficType, falling back to global.
func (s *Settings) ThrottleWindow(trafficType string) int {
	if m, ok := s.Throttle[trafficType]; ok {
		return m
	}
	return s.Throttle[TrafficGlobal]
}

// NormalizeURL renders u for comparisons, honoring the trailing-slash and query-arg flags.
func (s *Settings) NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.Fragment = ""
	c.Host = strings.ToLower(c.Host)
	if s.IgnoreQueryArgs {
		c.RawQuery = ""
	}
	if s.IgnoreTrailingSlash && len(c.Path) > 1 {
		c.Path = strings.TrimSuffix(c.Path, "/")
		c.RawPath = ""
	}
	return c.String()
}

// SameURL reports whether a and b point to the same page under the normalization flags.
func (s *Settings) SameURL(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return a == b
	}
	ub, err := url.Parse(b)
	if err != nil {
		return a == b
	}
	return s.NormalizeURL(ua) == s.NormalizeURL(ub)
}
