// Package strategy defines the Ranker interface for scoring candidate
// symbols on a rebalance date and provides a Registry for managing multiple
// ranker implementations.
package strategy

import (
	"context"
	"sort"

	"meridian/internal/domain"
	"meridian/internal/pit"
)

// Ranker scores a universe of symbols on a single rebalance date. All market
// and fundamental data flows through the date-pinned view, so a ranker can
// only see what was knowable on that date.
type Ranker interface {
	// Name returns the unique identifier for this ranker.
	Name() string

	// Rank scores the given universe as of the view's date. Symbols the
	// ranker cannot score (for example, not enough trailing history) are
	// simply omitted from the result; they must never be given a default
	// score. Returned picks need not be ordered — the engine sorts.
	Rank(ctx context.Context, view *pit.AsOfView, universe []string) ([]domain.Pick, error)
}

// Registry holds a named collection of rankers for lookup and enumeration.
type Registry struct {
	rankers map[string]Ranker
}

// NewRegistry creates an empty ranker Registry.
func NewRegistry() *Registry {
	return &Registry{
		rankers: make(map[string]Ranker),
	}
}

// Register adds a ranker to the registry, keyed by its Name().
func (r *Registry) Register(k Ranker) {
	r.rankers[k.Name()] = k
}

// Get retrieves a ranker by name. The second return value indicates whether
// the ranker was found.
func (r *Registry) Get(name string) (Ranker, bool) {
	k, ok := r.rankers[name]
	return k, ok
}

// List returns a sorted slice of all registered ranker names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.rankers))
	for name := range r.rankers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
