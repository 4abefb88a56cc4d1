package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/headline-goat/splitpage/internal/page"
)

// parseInteraction reads one --interact value:
//
//	click=#id | click=.class | click=id   optionally followed by @x,y
//	link=<href>                           click on a link
//	submit=<form id>
//	video=<video id>
//	cart=<product id>
//	scroll=<depth percent>
func parseInteraction(s string) (page.Interaction, error) {
	kind, value, ok := strings.Cut(s, "=")
	if !ok {
		return page.Interaction{}, fmt.Errorf("invalid interaction %q: expected kind=value", s)
	}

	switch kind {
	case "click":
		i := page.Interaction{Kind: page.InteractionClick}
		target, pos, hasPos := strings.Cut(value, "@")
		if hasPos {
			x, y, ok := strings.Cut(pos, ",")
			var errX, errY error
			i.X, errX = strconv.Atoi(x)
			i.Y, errY = strconv.Atoi(y)
			if !ok || errX != nil || errY != nil {
				return page.Interaction{}, fmt.Errorf("invalid click position %q", pos)
			}
		}
		if class, isClass := strings.CutPrefix(target, "."); isClass {
			i.Classes = []string{class}
		} else {
			i.ElementID = strings.TrimPrefix(target, "#")
		}
		return i, nil
	case "link":
		return page.Interaction{Kind: page.InteractionClick, Href: value}, nil
	case "submit":
		return page.Interaction{Kind: page.InteractionSubmit, FormID: value}, nil
	case "video":
		return page.Interaction{Kind: page.InteractionVideoPlay, VideoID: value}, nil
	case "cart":
		return page.Interaction{Kind: page.InteractionAddToCart, ProductID: value}, nil
	case "scroll":
		depth, err := strconv.Atoi(value)
		if err != nil || depth < 0 || depth > 100 {
			return page.Interaction{}, fmt.Errorf("invalid scroll depth %q", value)
		}
		return page.Interaction{Kind: page.InteractionScroll, ScrollDepth: depth}, nil
	}
	return page.Interaction{}, fmt.Errorf("unknown interaction %q", kind)
}
