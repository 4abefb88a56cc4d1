package segment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/headline-goat/splitpage/internal/settings"
)

// String conditions shared by the rule types that compare text.
const (
	CondIs             = "is"
	CondIsNot          = "is-not"
	CondContains       = "contains"
	CondDoesNotContain = "does-not-contain"
	CondStartsWith     = "starts-with"
	CondEndsWith       = "ends-with"
	CondRegex          = "regex"
	CondExists         = "exists"
	CondDoesNotExist   = "does-not-exist"
)

// condition reads the "condition" attribute, defaulting to is.
func condition(attrs settings.Attributes) string {
	if c := strings.TrimSpace(attrs.String("condition")); c != "" {
		return c
	}
	return CondIs
}

// matchString compares actual against expected. present tells exists/does-not-exist
// whether the value was there at all; an empty string can be a present value.
func matchString(cond, actual string, present bool, expected string) (bool, error) {
	switch cond {
	case CondExists:
		return present, nil
	case CondDoesNotExist:
		return !present, nil
	case CondRegex:
		re, err := regexp.Compile(expected)
		if err != nil {
			return false, fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidRule, expected, err)
		}
		return present && re.MatchString(actual), nil
	}

	a, e := strings.ToLower(actual), strings.ToLower(expected)
	switch cond {
	case CondIs:
		return present && a == e, nil
	case CondIsNot:
		return !present || a != e, nil
	case CondContains:
		return present && strings.Contains(a, e), nil
	case CondDoesNotContain:
		return !present || !strings.Contains(a, e), nil
	case CondStartsWith:
		return present && strings.HasPrefix(a, e), nil
	case CondEndsWith:
		return present && strings.HasSuffix(a, e), nil
	default:
		return false, fmt.Errorf("%w: unknown condition %q", ErrInvalidRule, cond)
	}
}

// matchAnyOf handles list-valued rules (browsers, countries): is means "one of",
// is-not means "none of".
func matchAnyOf(cond, actual string, options []string) (bool, error) {
	found := false
	for _, o := range options {
		if strings.EqualFold(strings.TrimSpace(o), actual) {
			found = true
			break
		}
	}
	switch cond {
	case CondIs:
		return found, nil
	case CondIsNot:
		return !found, nil
	default:
		return false, fmt.Errorf("%w: condition %q not supported for lists", ErrInvalidRule, cond)
	}
}
