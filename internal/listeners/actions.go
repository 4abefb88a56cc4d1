package listeners

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/page"
	"github.com/headline-goat/splitpage/internal/settings"
)

// Conversion action types.
const (
	ActionClick             = "click"
	ActionClickExternalLink = "click-external-link"
	ActionSubmitForm        = "submit-form"
	ActionWatchVideo        = "watch-video"
	ActionAddToCart         = "wc-add-to-cart"
	ActionPageView          = "page-view"
)

// matcher decides whether an interaction completes a conversion action.
type matcher func(page.Interaction) bool

// matcherFactory builds the matcher of one action from its attributes. current is the
// page the listener is registered on.
type matcherFactory func(attrs settings.Attributes, current *url.URL) (matcher, error)

var actionMatchers = map[string]matcherFactory{
	ActionClick:             clickMatcher,
	ActionClickExternalLink: externalLinkMatcher,
	ActionSubmitForm:        idMatcher(page.InteractionSubmit, "formId", func(i page.Interaction) string { return i.FormID }),
	ActionWatchVideo:        idMatcher(page.InteractionVideoPlay, "videoId", func(i page.Interaction) string { return i.VideoID }),
	ActionAddToCart:         idMatcher(page.InteractionAddToCart, "productId", func(i page.Interaction) string { return i.ProductID }),
}

// clickMatcher accepts "id" or a "selector" of the form #id, .class or a bare id.
func clickMatcher(attrs settings.Attributes, _ *url.URL) (matcher, error) {
	id, selector := attrs.String("id"), strings.TrimSpace(attrs.String("selector"))
	if id == "" && selector == "" {
		return nil, fmt.Errorf("%w: click needs an id or selector", ErrInvalidAction)
	}
	return func(i page.Interaction) bool {
		if i.Kind != page.InteractionClick {
			return false
		}
		if id != "" && i.ElementID == id {
			return true
		}
		return selector != "" && matchesSelector(selector, i)
	}, nil
}

func matchesSelector(selector string, i page.Interaction) bool {
	switch {
	case strings.HasPrefix(selector, "#"):
		return i.ElementID == selector[1:]
	case strings.HasPrefix(selector, "."):
		return slices.Contains(i.Classes, selector[1:])
	default:
		return i.ElementID == selector
	}
}

// externalLinkMatcher fires on links to another host, optionally restricted by a
// wildcard "url" pattern.
func externalLinkMatcher(attrs settings.Attributes, current *url.URL) (matcher, error) {
	pattern := strings.TrimSpace(attrs.String("url"))
	return func(i page.Interaction) bool {
		if i.Kind != page.InteractionClick || i.Href == "" {
			return false
		}
		target, err := current.Parse(i.Href)
		if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
			return false
		}
		if strings.EqualFold(target.Hostname(), current.Hostname()) {
			return false
		}
		return pattern == "" || clientstore.Wildcard(pattern).MatchString(target.String())
	}, nil
}

// idMatcher matches interactions of kind whose id equals attribute key. An empty
// attribute matches every interaction of that kind.
func idMatcher(kind page.InteractionKind, key string, idOf func(page.Interaction) string) matcherFactory {
	return func(attrs settings.Attributes, _ *url.URL) (matcher, error) {
		want := strings.TrimSpace(attrs.String(key))
		return func(i page.Interaction) bool {
			return i.Kind == kind && (want == "" || idOf(i) == want)
		}, nil
	}
}
