package segment

import (
	"errors"
	"sort"
	"sync"

	"github.com/headline-goat/splitpage/internal/settings"
)

var (
	ErrUnknownRule = errors.New("unknown rule type")
	ErrInvalidRule = errors.New("invalid rule configuration")
)

// RuleType is a segmentation rule: a pure predicate over the visitor. NeedsGeo marks
// rules that read geo data, which may have to be fetched first.
type RuleType struct {
	Validate func(attrs settings.Attributes, v *Visitor) (bool, error)
	NeedsGeo bool
}

// Registry maps rule type names to their implementation.
type Registry struct {
	mu    sync.RWMutex
	types map[string]RuleType
}

// NewRegistry returns a registry holding the built-in rule types.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]RuleType, len(builtinRules))}
	for name, t := range builtinRules {
		r.types[name] = t
	}
	return r
}

// Register adds or replaces a rule type.
func (r *Registry) Register(name string, t RuleType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[name] = t
}

func (r *Registry) Lookup(name string) (RuleType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NeedsGeo reports whether any of rules reads geo data.
func (r *Registry) NeedsGeo(rules []settings.Rule) bool {
	for _, rule := range rules {
		if t, ok := r.Lookup(rule.Type); ok && t.NeedsGeo {
			return true
		}
	}
	return false
}
