package clientstore

import (
	"regexp"
	"strings"
)

// Wildcard compiles a pattern where '*' matches any run of characters and everything
// else is literal. The whole string must match.
func Wildcard(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

// MatchingNames returns the names of live entries matching the wildcard pattern.
func MatchingNames(s Store, pattern string) []string {
	re := Wildcard(pattern)
	var out []string
	for _, name := range s.Names() {
		if re.MatchString(name) {
			out = append(out, name)
		}
	}
	return out
}
