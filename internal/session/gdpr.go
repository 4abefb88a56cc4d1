package session

import (
	"strings"

	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/settings"
)

// IsGDPRAccepted reports whether tracking consent is present. With no consent cookie
// configured consent is implicit. Name and value patterns accept '*' wildcards.
func IsGDPRAccepted(jar clientstore.Store, c settings.GDPRCookie) bool {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return true
	}

	value := strings.TrimSpace(c.Value)
	for _, match := range clientstore.MatchingNames(jar, name) {
		if value == "" {
			return true
		}
		v, _ := jar.Get(match)
		if clientstore.Wildcard(value).MatchString(v) {
			return true
		}
	}
	return false
}
