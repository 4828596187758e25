package definition

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/pitabwire/vehicleflow/model"
	"gopkg.in/yaml.v3"
)

// Registry is an immutable index over a validated location table. It is safe
// for concurrent reads.
type Registry struct {
	order    []model.LocationConfig
	index    map[model.Location]int
	checksum string
}

// NewRegistry validates rows and builds a Registry from them. Rows are copied;
// later changes to the caller's slice are not observed.
func NewRegistry(rows []model.LocationConfig) (*Registry, error) {
	if verrs := NewValidator().Validate(rows); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, e := range verrs {
			errs[i] = e
		}
		return nil, fmt.Errorf("invalid location table: %w", errors.Join(errs...))
	}

	r := &Registry{
		order: make([]model.LocationConfig, len(rows)),
		index: make(map[model.Location]int, len(rows)),
	}
	for i, row := range rows {
		r.order[i] = cloneConfig(row)
		r.index[row.Location] = i
	}

	data, err := yaml.Marshal(Table{Locations: r.order})
	if err != nil {
		return nil, fmt.Errorf("encoding location table: %w", err)
	}
	r.checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	return r, nil
}

// MustDefault returns a Registry over DefaultLocations. It panics if the
// built-in table fails validation.
func MustDefault() *Registry {
	r, err := NewRegistry(DefaultLocations())
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the configuration of loc. Asking for a location that is not in
// the table is a programming error and panics; use Lookup for untrusted input.
func (r *Registry) Get(loc model.Location) model.LocationConfig {
	cfg, ok := r.Lookup(loc)
	if !ok {
		panic(fmt.Sprintf("definition: unknown location %q", loc))
	}
	return cfg
}

// Lookup returns the configuration of loc and whether it exists.
func (r *Registry) Lookup(loc model.Location) (model.LocationConfig, bool) {
	i, ok := r.index[loc]
	if !ok {
		return model.LocationConfig{}, false
	}
	return cloneConfig(r.order[i]), true
}

// IsReachable reports whether to is listed in from's AllowedNext. Unknown
// locations are never reachable.
func (r *Registry) IsReachable(from, to model.Location) bool {
	i, ok := r.index[from]
	if !ok {
		return false
	}
	if _, ok := r.index[to]; !ok {
		return false
	}
	for _, next := range r.order[i].AllowedNext {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether loc has no outgoing transitions.
func (r *Registry) IsTerminal(loc model.Location) bool {
	i, ok := r.index[loc]
	return ok && len(r.order[i].AllowedNext) == 0
}

// Locations returns every row in declaration order.
func (r *Registry) Locations() []model.LocationConfig {
	out := make([]model.LocationConfig, len(r.order))
	for i, row := range r.order {
		out[i] = cloneConfig(row)
	}
	return out
}

// Checksum returns the SHA-256 of the table's canonical YAML encoding.
func (r *Registry) Checksum() string {
	return r.checksum
}

func cloneConfig(c model.LocationConfig) model.LocationConfig {
	c.AllowedNext = append([]model.Location(nil), c.AllowedNext...)
	c.PermittedSteps = append([]model.Step(nil), c.PermittedSteps...)
	c.RequiredFields = append([]string(nil), c.RequiredFields...)
	c.StepRules = append([]model.StepRule(nil), c.StepRules...)
	c.Signals = append([]string(nil), c.Signals...)
	return c
}
