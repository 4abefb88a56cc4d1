// Package useragent classifies User-Agent strings into browser, operating system and
// device type, which is what the segmentation rules and the bot gate need.
package useragent

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceTV      = "tv"
	DeviceConsole = "console"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

const (
	BrowserChrome  = "chrome"
	BrowserEdge    = "edge"
	BrowserFirefox = "firefox"
	BrowserSafari  = "safari"
	BrowserOpera   = "opera"
	BrowserSamsung = "samsung"
	BrowserIE      = "ie"
	BrowserUnknown = "unknown"
)

const (
	OSWindows  = "windows"
	OSMacOS    = "macos"
	OSiOS      = "ios"
	OSAndroid  = "android"
	OSLinux    = "linux"
	OSChromeOS = "chromeos"
	OSUnknown  = "unknown"
)

// UserAgent is a parsed User-Agent string.
type UserAgent struct {
	Raw            string
	Browser        string
	BrowserVersion string
	OS             string
	Device         string
}

func (ua UserAgent) IsBot() bool    { return ua.Device == DeviceBot }
func (ua UserAgent) IsMobile() bool { return ua.Device == DeviceMobile }

// IsLegacy reports browsers the engine refuses to run on.
func (ua UserAgent) IsLegacy() bool { return ua.Browser == BrowserIE }

// BotName returns a display name for bot user agents, or "" for everything else.
func (ua UserAgent) BotName() string {
	if !ua.IsBot() {
		return ""
	}
	m := botNamePattern.FindStringSubmatch(ua.Raw)
	if len(m) < 2 {
		return "Unknown Bot"
	}
	return cases.Title(language.English).String(strings.ToLower(m[1]))
}

var botNamePattern = regexp.MustCompile(`(?i)([a-z0-9\-_]+(?:bot|spider|crawler))`)

// Parse classifies ua. Empty strings parse to all-unknown values.
func Parse(ua string) UserAgent {
	lower := strings.ToLower(ua)
	b := parseBrowser(lower)
	return UserAgent{
		Raw:            ua,
		Browser:        b.name,
		BrowserVersion: b.version,
		OS:             parseOS(lower),
		Device:         parseDevice(lower),
	}
}

type keywordSet []string

func (k keywordSet) contains(s string) bool {
	for _, kw := range k {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

var (
	botKeywords     = keywordSet{"bot", "spider", "crawler", "archiver", "slurp", "lighthouse", "facebookexternalhit", "headlesschrome", "phantomjs", "curl/", "wget/", "python-requests", "go-http-client"}
	tvKeywords      = keywordSet{"smart-tv", "smarttv", "appletv", "googletv", "android tv", "webos", "tizen"}
	consoleKeywords = keywordSet{"playstation", "xbox", "nintendo"}
	tabletKeywords  = keywordSet{"tablet", "kindle", "silk", "ipad"}
	mobileKeywords  = keywordSet{"mobile", "iphone", "ipod", "windows phone", "iemobile", "blackberry"}
	desktopKeywords = keywordSet{"windows", "macintosh", "mac os x", "linux", "x11", "cros"}
)

// parseDevice checks iOS first, bots next, then Android (tablets omit "mobile").
func parseDevice(lower string) string {
	switch {
	case lower == "":
		return DeviceUnknown
	case strings.Contains(lower, "ipad"):
		return DeviceTablet
	case strings.Contains(lower, "iphone"):
		return DeviceMobile
	case botKeywords.contains(lower):
		return DeviceBot
	case strings.Contains(lower, "android"):
		if strings.Contains(lower, "mobile") {
			return DeviceMobile
		}
		return DeviceTablet
	case tabletKeywords.contains(lower):
		return DeviceTablet
	case mobileKeywords.contains(lower):
		return DeviceMobile
	case tvKeywords.contains(lower):
		return DeviceTV
	case consoleKeywords.contains(lower):
		return DeviceConsole
	case desktopKeywords.contains(lower):
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}

func parseOS(lower string) string {
	switch {
	case lower == "":
		return OSUnknown
	case strings.Contains(lower, "windows"):
		return OSWindows
	case keywordSet{"iphone", "ipad", "ipod"}.contains(lower):
		return OSiOS
	case keywordSet{"macintosh", "mac os x"}.contains(lower):
		return OSMacOS
	case strings.Contains(lower, "android"):
		return OSAndroid
	case keywordSet{"cros", "chromeos"}.contains(lower):
		return OSChromeOS
	case keywordSet{"linux", "x11", "ubuntu", "fedora"}.contains(lower):
		return OSLinux
	default:
		return OSUnknown
	}
}

type browserPattern struct {
	name     string
	keywords []string // any of
	excludes []string
	version  *regexp.Regexp
}

// Order matters: Chromium derivatives advertise "chrome" and "safari" too.
var browserPatterns = []browserPattern{
	{name: BrowserEdge, keywords: []string{"edg/", "edge/"}, version: regexp.MustCompile(`(?:edge|edg)/([\d.]+)`)},
	{name: BrowserSamsung, keywords: []string{"samsungbrowser"}, version: regexp.MustCompile(`samsungbrowser/([\d.]+)`)},
	{name: BrowserOpera, keywords: []string{"opr/", "opera"}, version: regexp.MustCompile(`(?:opr|opera)[/ ]([\d.]+)`)},
	{name: BrowserChrome, keywords: []string{"chrome/", "crios/"}, version: regexp.MustCompile(`(?:chrome|crios)/([\d.]+)`)},
	{name: BrowserFirefox, keywords: []string{"firefox/", "fxios/"}, version: regexp.MustCompile(`(?:firefox|fxios)/([\d.]+)`)},
	{name: BrowserSafari, keywords: []string{"safari"}, excludes: []string{"chrome", "android"}, version: regexp.MustCompile(`version/([\d.]+)`)},
	{name: BrowserIE, keywords: []string{"msie ", "trident/"}, version: regexp.MustCompile(`msie ([\d.]+)`)},
}

type browser struct {
	name    string
	version string
}

func parseBrowser(lower string) browser {
	// IE 11 drops "msie" and only carries the Trident token
	if strings.Contains(lower, "trident/") && !strings.Contains(lower, "msie") {
		return browser{name: BrowserIE, version: "11.0"}
	}
	for _, p := range browserPatterns {
		if !keywordSet(p.keywords).contains(lower) || keywordSet(p.excludes).contains(lower) {
			continue
		}
		b := browser{name: p.name}
		if m := p.version.FindStringSubmatch(lower); len(m) > 1 {
			b.version = m[1]
		}
		return b
	}
	return browser{name: BrowserUnknown}
}
