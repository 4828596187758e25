package workflow

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pitabwire/vehicleflow/internal/definition"
	"github.com/pitabwire/vehicleflow/model"
)

// Resolver derives the lifecycle step a vehicle holds from its attributes and
// the location table. It has no state beyond the registry and is safe for
// concurrent use.
type Resolver struct {
	registry *definition.Registry
}

// NewResolver creates a Resolver over registry.
func NewResolver(registry *definition.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// CurrentStep returns the step vehicle holds at loc. The location's step rules
// are tried in order and the first match wins; otherwise the location's
// fallback step applies.
func (r *Resolver) CurrentStep(vehicle model.Vehicle, loc model.Location) model.Step {
	cfg := r.registry.Get(loc)
	for _, rule := range cfg.StepRules {
		if ruleMatches(rule, vehicle.Attr(rule.Field)) {
			return rule.Step
		}
	}
	if cfg.FallbackStep != "" {
		return cfg.FallbackStep
	}
	return model.StepInitialInspection
}

// TargetStep returns the step a vehicle enters at loc when arriving with
// fromStep. The location's entry step takes precedence, then fromStep when
// loc permits it, then the first permitted step.
func (r *Resolver) TargetStep(loc model.Location, fromStep model.Step) model.Step {
	cfg := r.registry.Get(loc)
	if cfg.EntryStep != "" && cfg.Permits(cfg.EntryStep) {
		return cfg.EntryStep
	}
	if cfg.Permits(fromStep) {
		return fromStep
	}
	return cfg.PermittedSteps[0]
}

func ruleMatches(rule model.StepRule, value any) bool {
	if rule.Equals == nil {
		return Satisfied(value)
	}
	if value == nil {
		return false
	}
	// Attributes arriving as JSON and rules loaded from YAML decode numbers
	// into different Go types.
	return fmt.Sprint(value) == fmt.Sprint(rule.Equals)
}

// Satisfied reports whether an attribute value counts as present: non-nil,
// not false, not a blank string and not an empty collection.
func Satisfied(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return Satisfied(rv.Elem().Interface())
	}
	return true
}
