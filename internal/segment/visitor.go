package segment

import (
	"net/url"
	"time"

	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/geo"
	"github.com/headline-goat/splitpage/internal/settings"
	"github.com/headline-goat/splitpage/internal/useragent"
)

// Visitor is everything a rule may look at.
type Visitor struct {
	Jar         clientstore.Store
	UserAgent   useragent.UserAgent
	URL         *url.URL
	Referrer    string
	WindowWidth int
	Languages   []string
	LoginCookie string
	Now         time.Time // in the visitor's zone
	Geo         *geo.Data // nil when unknown

	Settings *settings.Settings
}

// LoggedIn reports whether a cookie matching the login cookie pattern is set.
func (v *Visitor) LoggedIn() bool {
	if v.LoginCookie == "" || v.Jar == nil {
		return false
	}
	return len(clientstore.MatchingNames(v.Jar, v.LoginCookie)) > 0
}
