package page

import "context"

type InteractionKind string

const (
	InteractionClick     InteractionKind = "click"
	InteractionSubmit    InteractionKind = "submit"
	InteractionVideoPlay InteractionKind = "video-play"
	InteractionAddToCart InteractionKind = "add-to-cart"
	InteractionScroll    InteractionKind = "scroll"
)

// Interaction is a visitor action on the page. Only the fields relevant to Kind are set.
type Interaction struct {
	Kind InteractionKind

	ElementID string   // click
	Classes   []string // click
	Href      string   // click on a link

	FormID    string // submit
	VideoID   string // video-play
	ProductID string // add-to-cart

	X, Y        int // click position, page coordinates
	ScrollDepth int // scroll, percent of the document
}

// Listener reacts to interactions. Listeners carry no shared mutable state.
type Listener interface {
	Handle(ctx context.Context, i Interaction)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, i Interaction)

func (f ListenerFunc) Handle(ctx context.Context, i Interaction) { f(ctx, i) }
