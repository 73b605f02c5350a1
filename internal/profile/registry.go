package profile

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// ErrProfileNotFound is returned when no enabled profile has the name.
var ErrProfileNotFound = errors.New("risk profile not found")

// Registry holds compiled evaluators keyed by profile name.
// Reload swaps the whole set atomically; readers never see a partial set.
type Registry struct {
	mu          sync.RWMutex
	evaluators  map[string]*rules.Evaluator
	byCurrency  map[string]string
	defaultName string
	opts        []rules.Option
}

// NewRegistry creates an empty registry. defaultName is used by Resolve
// when neither a name nor a currency match is available.
func NewRegistry(defaultName string, opts ...rules.Option) *Registry {
	return &Registry{
		evaluators:  make(map[string]*rules.Evaluator),
		byCurrency:  make(map[string]string),
		defaultName: defaultName,
		opts:        opts,
	}
}

// Validate compiles p without loading it.
func (r *Registry) Validate(p *domain.RiskProfile) error {
	_, err := rules.Compile(p, r.opts...)
	return err
}

// Reload compiles every enabled profile and replaces the loaded set.
// If any profile fails to compile the current set is kept.
func (r *Registry) Reload(profiles []*domain.RiskProfile) error {
	evaluators := make(map[string]*rules.Evaluator, len(profiles))
	var problems []error

	for _, p := range profiles {
		if p == nil || !p.Enabled {
			continue
		}
		ev, err := rules.Compile(p, r.opts...)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		evaluators[p.Name] = ev
	}
	if len(problems) > 0 {
		return fmt.Errorf("failed to load profiles: %w", errors.Join(problems...))
	}

	// First profile by name wins a currency, so the mapping is stable.
	names := make([]string, 0, len(evaluators))
	for name := range evaluators {
		names = append(names, name)
	}
	slices.Sort(names)
	byCurrency := make(map[string]string)
	for _, name := range names {
		ccy := evaluators[name].Profile().ReferenceCurrency
		if _, taken := byCurrency[ccy]; !taken {
			byCurrency[ccy] = name
		}
	}

	r.mu.Lock()
	r.evaluators = evaluators
	r.byCurrency = byCurrency
	r.mu.Unlock()
	return nil
}

// Get returns the evaluator for a profile name.
func (r *Registry) Get(name string) (*rules.Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ev, ok := r.evaluators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return ev, nil
}

// Resolve picks an evaluator: the named profile if name is set, otherwise
// the profile whose reference currency is currency, otherwise the default.
func (r *Registry) Resolve(name, currency string) (*rules.Evaluator, error) {
	if name != "" {
		return r.Get(name)
	}

	r.mu.RLock()
	byCcy, ok := r.byCurrency[strings.ToUpper(strings.TrimSpace(currency))]
	r.mu.RUnlock()
	if ok {
		return r.Get(byCcy)
	}
	return r.Get(r.defaultName)
}

// List returns the loaded profiles sorted by name.
func (r *Registry) List() []domain.RiskProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RiskProfile, 0, len(r.evaluators))
	for _, ev := range r.evaluators {
		out = append(out, ev.Profile())
	}
	slices.SortFunc(out, func(a, b domain.RiskProfile) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Count returns the number of loaded profiles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.evaluators)
}

// Default returns the default profile name.
func (r *Registry) Default() string {
	return r.defaultName
}
