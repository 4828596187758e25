package workflow

import (
	"github.com/pitabwire/vehicleflow/internal/definition"
	"github.com/pitabwire/vehicleflow/model"
)

// Validator decides whether a move is permitted. It never mutates the vehicle
// and is safe for concurrent use.
type Validator struct {
	registry *definition.Registry
}

// NewValidator creates a Validator over registry.
func NewValidator(registry *definition.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks a move of vehicle from one location to another. Checks run
// in a fixed order: graph membership, then the caller's view of the current
// location, then the destination's required fields.
func (v *Validator) Validate(vehicle model.Vehicle, from, to model.Location) error {
	if !v.registry.IsReachable(from, to) {
		return model.NewInvalidTransitionError(from, to)
	}
	if vehicle.CurrentLocation != from {
		return model.NewConcurrentModificationError(vehicle.VIN)
	}
	if missing := v.MissingFields(vehicle, to); len(missing) > 0 {
		return model.NewMissingRequiredDataError(to, missing)
	}
	return nil
}

// MissingFields returns every required field of to that vehicle does not
// satisfy, in declaration order. Unknown locations have no requirements.
func (v *Validator) MissingFields(vehicle model.Vehicle, to model.Location) []string {
	cfg, ok := v.registry.Lookup(to)
	if !ok {
		return nil
	}
	var missing []string
	for _, field := range cfg.RequiredFields {
		if !Satisfied(vehicle.Attr(field)) {
			missing = append(missing, field)
		}
	}
	return missing
}
