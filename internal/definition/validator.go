package definition

import (
	"fmt"

	"github.com/pitabwire/vehicleflow/model"
)

// VError describes a single validation error in a location table.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks a location table structurally and referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every row of the table and returns all problems found.
func (v *Validator) Validate(rows []model.LocationConfig) []VError {
	var errs []VError

	if len(rows) == 0 {
		return []VError{{Path: "locations", Code: "REQUIRED", Message: "at least one location is required"}}
	}

	seen := make(map[model.Location]bool, len(rows))
	for i, row := range rows {
		prefix := fmt.Sprintf("locations[%d]", i)
		if seen[row.Location] {
			errs = append(errs, VError{
				Path:    prefix + ".location",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("location %q declared more than once", row.Location),
			})
		}
		seen[row.Location] = true
	}

	for i, row := range rows {
		prefix := fmt.Sprintf("locations[%d]", i)
		errs = append(errs, v.validateRow(prefix, row, seen)...)
	}
	return errs
}

func (v *Validator) validateRow(prefix string, row model.LocationConfig, declared map[model.Location]bool) []VError {
	var errs []VError

	if row.Location == "" {
		errs = append(errs, VError{Path: prefix + ".location", Code: "REQUIRED", Message: "location is required"})
	} else if !row.Location.Valid() {
		errs = append(errs, VError{
			Path:    prefix + ".location",
			Code:    "UNKNOWN_LOCATION",
			Message: fmt.Sprintf("unknown location %q", row.Location),
		})
	}
	if row.Stage == "" {
		errs = append(errs, VError{Path: prefix + ".stage", Code: "REQUIRED", Message: "stage is required"})
	}

	for j, next := range row.AllowedNext {
		p := fmt.Sprintf("%s.allowed_next[%d]", prefix, j)
		switch {
		case next == row.Location:
			errs = append(errs, VError{Path: p, Code: "SELF_LOOP", Message: fmt.Sprintf("location %q lists itself as a destination", next)})
		case !declared[next]:
			errs = append(errs, VError{Path: p, Code: "UNKNOWN_LOCATION", Message: fmt.Sprintf("destination %q is not declared", next)})
		}
	}

	if len(row.PermittedSteps) == 0 {
		errs = append(errs, VError{Path: prefix + ".permitted_steps", Code: "REQUIRED", Message: "at least one permitted step is required"})
	}
	for j, s := range row.PermittedSteps {
		if !s.Valid() {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.permitted_steps[%d]", prefix, j),
				Code:    "UNKNOWN_STEP",
				Message: fmt.Sprintf("unknown step %q", s),
			})
		}
	}

	if row.EntryStep != "" && !row.Permits(row.EntryStep) {
		errs = append(errs, notPermitted(prefix+".entry_step", row.EntryStep, row.Location))
	}
	if row.FallbackStep != "" && !row.Permits(row.FallbackStep) {
		errs = append(errs, notPermitted(prefix+".fallback_step", row.FallbackStep, row.Location))
	}
	for j, rule := range row.StepRules {
		p := fmt.Sprintf("%s.step_rules[%d]", prefix, j)
		if rule.Field == "" {
			errs = append(errs, VError{Path: p + ".field", Code: "REQUIRED", Message: "field is required"})
		}
		if !row.Permits(rule.Step) {
			errs = append(errs, notPermitted(p+".step", rule.Step, row.Location))
		}
	}
	for j, f := range row.RequiredFields {
		if f == "" {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.required_fields[%d]", prefix, j),
				Code:    "REQUIRED",
				Message: "required field name must not be empty",
			})
		}
	}

	return errs
}

func notPermitted(path string, step model.Step, loc model.Location) VError {
	return VError{
		Path:    path,
		Code:    "STEP_NOT_PERMITTED",
		Message: fmt.Sprintf("step %q is not permitted at %q", step, loc),
	}
}
