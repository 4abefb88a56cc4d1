package segment

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/geo"
	"github.com/headline-goat/splitpage/internal/settings"
	"github.com/headline-goat/splitpage/internal/useragent"
)

func testVisitor(t *testing.T) *Visitor {
	t.Helper()
	u, err := url.Parse("https://shop.example.com/pricing/?plan=pro&ref=")
	require.NoError(t, err)

	jar := clientstore.NewMemoryJar()
	jar.Set("wordpress_logged_in_abc123", "admin", time.Hour)
	jar.Set("theme", "dark", time.Hour)

	s := &settings.Settings{IgnoreTrailingSlash: true}
	s.ApplyDefaults()

	return &Visitor{
		Jar:         jar,
		UserAgent:   useragent.Parse("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"),
		URL:         u,
		Referrer:    "https://www.google.com/search?q=shoes",
		WindowWidth: 390,
		Languages:   []string{"es-ES", "en"},
		LoginCookie: s.LoginCookie,
		// Wednesday, 14:30
		Now: time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC),
		Geo: &geo.Data{IPAddress: "203.0.113.9", Location: geo.Location{Country: "ES"}},

		Settings: s,
	}
}

func TestBuiltinRules(t *testing.T) {
	v := testVisitor(t)

	tests := []struct {
		rule  string
		attrs settings.Attributes
		want  bool
	}{
		{"browser", settings.Attributes{"value": []any{"chrome", "safari"}}, true},
		{"browser", settings.Attributes{"condition": "is-not", "value": "safari"}, false},
		{"operating-system", settings.Attributes{"value": "ios"}, true},
		{"device", settings.Attributes{"value": "desktop,tablet"}, false},
		{"device", settings.Attributes{"value": "mobile"}, true},

		{"url", settings.Attributes{"value": "https://shop.example.com/pricing?plan=pro&ref="}, true},
		{"url", settings.Attributes{"condition": "contains", "value": "/PRICING"}, true},
		{"url", settings.Attributes{"condition": "regex", "value": `plan=(pro|team)`}, true},
		{"url-query-arg", settings.Attributes{"name": "plan", "value": "pro"}, true},
		{"url-query-arg", settings.Attributes{"name": "ref", "condition": "exists"}, true},
		{"url-query-arg", settings.Attributes{"name": "utm_source", "condition": "does-not-exist"}, true},
		{"referrer", settings.Attributes{"condition": "starts-with", "value": "https://www.google."}, true},
		{"referrer", settings.Attributes{"condition": "does-not-contain", "value": "google"}, false},

		{"window-width", settings.Attributes{"max": 767}, true},
		{"window-width", settings.Attributes{"min": 768}, false},
		{"logged-in", settings.Attributes{}, true},
		{"logged-in", settings.Attributes{"value": false}, false},
		{"cookie", settings.Attributes{"name": "theme", "value": "dark"}, true},
		{"cookie", settings.Attributes{"name": "wordpress_*", "condition": "exists"}, true},
		{"cookie", settings.Attributes{"name": "missing", "condition": "is-not", "value": "x"}, true},

		{"day-of-week", settings.Attributes{"value": []any{"monday", "wednesday"}}, true},
		{"day-of-week", settings.Attributes{"value": "0,6"}, false},
		{"time-of-day", settings.Attributes{"from": "09:00", "to": "17:00"}, true},
		{"time-of-day", settings.Attributes{"from": "22:00", "to": "06:00"}, false},

		{"language", settings.Attributes{"value": "es"}, true},
		{"language", settings.Attributes{"value": "de,fr"}, false},
		{"language", settings.Attributes{"condition": "is-not", "value": "de"}, true},

		{"ip-address", settings.Attributes{"value": "203.0.113.0/24"}, true},
		{"ip-address", settings.Attributes{"condition": "is-not", "value": "203.0.113.0/24"}, false},
		{"ip-address", settings.Attributes{"condition": "starts-with", "value": "203."}, true},
		{"location", settings.Attributes{"value": []any{"es", "pt"}}, true},
		{"location", settings.Attributes{"condition": "is-not", "value": "ES"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			rt, ok := builtinRules[tt.rule]
			require.True(t, ok)

			got, err := rt.Validate(tt.attrs, v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "%s %v", tt.rule, tt.attrs)
		})
	}
}

func TestBuiltinRules_InvalidConfiguration(t *testing.T) {
	v := testVisitor(t)

	tests := []struct {
		rule  string
		attrs settings.Attributes
	}{
		{"url", settings.Attributes{"condition": "regex", "value": "("}},
		{"url", settings.Attributes{"condition": "sounds-like", "value": "x"}},
		{"url-query-arg", settings.Attributes{"value": "x"}},
		{"window-width", settings.Attributes{}},
		{"cookie", settings.Attributes{"value": "x"}},
		{"day-of-week", settings.Attributes{"value": "funday"}},
		{"time-of-day", settings.Attributes{"from": "9am", "to": "17:00"}},
		{"language", settings.Attributes{"value": "not a tag!"}},
		{"ip-address", settings.Attributes{"value": "300.1.1.0/99"}},
		{"location", settings.Attributes{}},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			got, err := builtinRules[tt.rule].Validate(tt.attrs, v)
			assert.ErrorIs(t, err, ErrInvalidRule)
			assert.False(t, got)
		})
	}
}

func TestGeoRules_WithoutGeoData(t *testing.T) {
	v := testVisitor(t)
	v.Geo = nil

	ok, err := builtinRules["location"].Validate(settings.Attributes{"value": "ES"}, v)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = builtinRules["ip-address"].Validate(settings.Attributes{"condition": "exists"}, v)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Contains(t, r.Names(), "location")

	r.Register("always", RuleType{Validate: func(settings.Attributes, *Visitor) (bool, error) { return true, nil }})
	_, ok := r.Lookup("always")
	assert.True(t, ok)

	assert.True(t, r.NeedsGeo([]settings.Rule{{Type: "browser"}, {Type: "location"}}))
	assert.False(t, r.NeedsGeo([]settings.Rule{{Type: "browser"}, {Type: "nope"}}))
}
