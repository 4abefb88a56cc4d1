package segment

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/settings"
)

var builtinRules = map[string]RuleType{
	"browser":          {Validate: validateBrowser},
	"operating-system": {Validate: validateOS},
	"device":           {Validate: validateDevice},
	"url":              {Validate: validateURL},
	"url-query-arg":    {Validate: validateQueryArg},
	"referrer":         {Validate: validateReferrer},
	"window-width":     {Validate: validateWindowWidth},
	"logged-in":        {Validate: validateLoggedIn},
	"cookie":           {Validate: validateCookie},
	"day-of-week":      {Validate: validateDayOfWeek},
	"time-of-day":      {Validate: validateTimeOfDay},
	"language":         {Validate: validateLanguage},
	"ip-address":       {Validate: validateIPAddress, NeedsGeo: true},
	"location":         {Validate: validateLocation, NeedsGeo: true},
}

func validateBrowser(attrs settings.Attributes, v *Visitor) (bool, error) {
	return matchAnyOf(condition(attrs), v.UserAgent.Browser, attrs.Strings("value"))
}

func validateOS(attrs settings.Attributes, v *Visitor) (bool, error) {
	return matchAnyOf(condition(attrs), v.UserAgent.OS, attrs.Strings("value"))
}

func validateDevice(attrs settings.Attributes, v *Visitor) (bool, error) {
	return matchAnyOf(condition(attrs), v.UserAgent.Device, attrs.Strings("value"))
}

// validateURL compares whole URLs under the site's normalization flags for is/is-not, and
// raw text otherwise.
func validateURL(attrs settings.Attributes, v *Visitor) (bool, error) {
	if v.URL == nil {
		return false, nil
	}
	cond, expected := condition(attrs), attrs.String("value")
	if v.Settings != nil && (cond == CondIs || cond == CondIsNot) {
		same := v.Settings.SameURL(v.URL.String(), expected)
		return same == (cond == CondIs), nil
	}
	return matchString(cond, v.URL.String(), true, expected)
}

func validateQueryArg(attrs settings.Attributes, v *Visitor) (bool, error) {
	name := attrs.String("name")
	if name == "" {
		return false, fmt.Errorf("%w: url-query-arg needs a name", ErrInvalidRule)
	}
	var q map[string][]string
	if v.URL != nil {
		q = v.URL.Query()
	}
	values, present := q[name]
	actual := ""
	if present && len(values) > 0 {
		actual = values[0]
	}
	return matchString(condition(attrs), actual, present, attrs.String("value"))
}

func validateReferrer(attrs settings.Attributes, v *Visitor) (bool, error) {
	return matchString(condition(attrs), v.Referrer, v.Referrer != "", attrs.String("value"))
}

// validateWindowWidth accepts min and/or max, both inclusive.
func validateWindowWidth(attrs settings.Attributes, v *Visitor) (bool, error) {
	lo, hasMin := attrs.Int("min")
	hi, hasMax := attrs.Int("max")
	if !hasMin && !hasMax {
		return false, fmt.Errorf("%w: window-width needs min or max", ErrInvalidRule)
	}
	if hasMin && v.WindowWidth < lo {
		return false, nil
	}
	if hasMax && v.WindowWidth > hi {
		return false, nil
	}
	return true, nil
}

// validateLoggedIn matches logged-in visitors, or logged-out ones when value is false.
func validateLoggedIn(attrs settings.Attributes, v *Visitor) (bool, error) {
	want := true
	if _, set := attrs["value"]; set {
		want = attrs.Bool("value")
	}
	return v.LoggedIn() == want, nil
}

// validateCookie checks the first cookie whose name matches the wildcard pattern.
func validateCookie(attrs settings.Attributes, v *Visitor) (bool, error) {
	name := attrs.String("name")
	if name == "" {
		return false, fmt.Errorf("%w: cookie rule needs a name", ErrInvalidRule)
	}
	var actual string
	present := false
	if v.Jar != nil {
		for _, n := range matchingNames(v, name) {
			actual, present = v.Jar.Get(n)
			if present {
				break
			}
		}
	}
	return matchString(condition(attrs), actual, present, attrs.String("value"))
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// validateDayOfWeek accepts day names or numbers with Sunday as 0.
func validateDayOfWeek(attrs settings.Attributes, v *Visitor) (bool, error) {
	days := attrs.Strings("value")
	if len(days) == 0 {
		return false, fmt.Errorf("%w: day-of-week needs days", ErrInvalidRule)
	}
	today := v.Now.Weekday()
	for _, d := range days {
		d = strings.ToLower(strings.TrimSpace(d))
		if wd, ok := weekdays[d]; ok {
			if wd == today {
				return true, nil
			}
			continue
		}
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 || n > 6 {
			return false, fmt.Errorf("%w: bad day %q", ErrInvalidRule, d)
		}
		if time.Weekday(n) == today {
			return true, nil
		}
	}
	return false, nil
}

// validateTimeOfDay matches from (inclusive) to (exclusive), both "HH:MM". A range that
// ends before it starts wraps past midnight.
func validateTimeOfDay(attrs settings.Attributes, v *Visitor) (bool, error) {
	from, err := minuteOfDay(attrs.String("from"))
	if err != nil {
		return false, err
	}
	to, err := minuteOfDay(attrs.String("to"))
	if err != nil {
		return false, err
	}
	now := v.Now.Hour()*60 + v.Now.Minute()
	if from <= to {
		return now >= from && now < to, nil
	}
	return now >= from || now < to, nil
}

func minuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: bad time %q", ErrInvalidRule, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// validateLanguage matches the visitor's preferred languages against the configured tags.
// "en" matches "en-GB" visitors; "en-GB" does not match plain "es".
func validateLanguage(attrs settings.Attributes, v *Visitor) (bool, error) {
	var supported []language.Tag
	for _, raw := range attrs.Strings("value") {
		tag, err := language.Parse(strings.TrimSpace(raw))
		if err != nil {
			return false, fmt.Errorf("%w: bad language %q", ErrInvalidRule, raw)
		}
		supported = append(supported, tag)
	}
	if len(supported) == 0 {
		return false, fmt.Errorf("%w: language needs at least one tag", ErrInvalidRule)
	}

	var preferred []language.Tag
	for _, raw := range v.Languages {
		if tag, err := language.Parse(raw); err == nil {
			preferred = append(preferred, tag)
		}
	}

	found := false
	if len(preferred) > 0 {
		// language.Und first so that no real match lands on index 0.
		m := language.NewMatcher(append([]language.Tag{language.Und}, supported...))
		_, idx, conf := m.Match(preferred...)
		found = idx > 0 && conf != language.No
	}

	switch condition(attrs) {
	case CondIs:
		return found, nil
	case CondIsNot:
		return !found, nil
	default:
		return false, fmt.Errorf("%w: condition %q not supported for language", ErrInvalidRule, condition(attrs))
	}
}

// validateIPAddress supports the string conditions plus CIDR ranges for is/is-not.
func validateIPAddress(attrs settings.Attributes, v *Visitor) (bool, error) {
	if v.Geo == nil || v.Geo.IPAddress == "" {
		return false, nil
	}
	cond, expected := condition(attrs), strings.TrimSpace(attrs.String("value"))
	if strings.Contains(expected, "/") && (cond == CondIs || cond == CondIsNot) {
		prefix, err := netip.ParsePrefix(expected)
		if err != nil {
			return false, fmt.Errorf("%w: bad range %q", ErrInvalidRule, expected)
		}
		addr, err := netip.ParseAddr(v.Geo.IPAddress)
		if err != nil {
			return false, nil
		}
		return prefix.Contains(addr) == (cond == CondIs), nil
	}
	return matchString(cond, v.Geo.IPAddress, true, expected)
}

// validateLocation matches the ISO country code against a list.
func validateLocation(attrs settings.Attributes, v *Visitor) (bool, error) {
	countries := attrs.Strings("value")
	if len(countries) == 0 {
		return false, fmt.Errorf("%w: location needs countries", ErrInvalidRule)
	}
	if v.Geo == nil || v.Geo.Location.Country == "" {
		return false, nil
	}
	return matchAnyOf(condition(attrs), v.Geo.Location.Country, countries)
}

func matchingNames(v *Visitor, pattern string) []string {
	if !strings.Contains(pattern, "*") {
		return []string{pattern}
	}
	return clientstore.MatchingNames(v.Jar, pattern)
}
