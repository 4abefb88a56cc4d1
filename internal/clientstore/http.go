package clientstore

import (
	"net/http"
	"net/url"
	"time"
)

// FromRequest builds a jar from the cookies carried by r. Request cookies carry no
// expiry, so loaded entries stay live until overwritten.
func FromRequest(r *http.Request) *MemoryJar {
	j := NewMemoryJar()
	for _, c := range r.Cookies() {
		value, err := url.QueryUnescape(c.Value)
		if err != nil {
			value = c.Value
		}
		j.Load(Entry{Name: c.Name, Value: value})
	}
	return j
}

// WriteCookies emits a Set-Cookie header for every entry changed since the jar was loaded.
func (j *MemoryJar) WriteCookies(w http.ResponseWriter) {
	updated, deleted := j.Changes()
	now := j.now()

	for _, e := range updated {
		http.SetCookie(w, &http.Cookie{
			Name:     e.Name,
			Value:    url.QueryEscape(e.Value),
			Path:     "/",
			Expires:  e.Expires,
			MaxAge:   int(e.Expires.Sub(now) / time.Second),
			SameSite: http.SameSiteLaxMode,
		})
	}
	for _, name := range deleted {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			SameSite: http.SameSiteLaxMode,
		})
	}
}
