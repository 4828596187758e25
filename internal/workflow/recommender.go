package workflow

import (
	"github.com/pitabwire/vehicleflow/internal/definition"
	"github.com/pitabwire/vehicleflow/model"
)

// Recommended actions.
const (
	ActionNone               = "No action needed"
	ActionSendForRepairs     = "Send for repairs"
	ActionSchedulePDI        = "Schedule PDI"
	ActionPrepareForShowroom = "Prepare for showroom"
	ActionMoveToShowroom     = "Move to showroom floor"
)

// Recommender suggests the next action for a vehicle from its attributes and
// the location table. It never consults the audit log.
type Recommender struct {
	registry *definition.Registry
}

// NewRecommender creates a Recommender over registry.
func NewRecommender(registry *definition.Registry) *Recommender {
	return &Recommender{registry: registry}
}

// Recommend returns the first matching recommendation for vehicle. The
// recommended location is always the current location or one of its
// AllowedNext entries: when the goal is further away the first hop of the
// shortest route is returned, and when no route exists the vehicle needs
// nothing.
func (r *Recommender) Recommend(vehicle model.Vehicle) model.Recommendation {
	loc := vehicle.CurrentLocation
	cfg, known := r.registry.Lookup(loc)
	if !known || cfg.Stage == model.StageSale {
		return noAction(loc)
	}

	pdiCompleted := Satisfied(vehicle.Attr(model.AttrPDICompleted))
	pdiFailed := Satisfied(vehicle.Attr(model.AttrPDIFailed))
	showroomReady := Satisfied(vehicle.Attr(model.AttrShowroomReady))
	inShowroom := cfg.Stage == model.StageShowroom

	var (
		action   string
		priority model.Priority
		goal     func(model.LocationConfig) bool
	)
	switch {
	case pdiFailed && loc != model.LocationRepairs:
		action, priority, goal = ActionSendForRepairs, model.PriorityHigh, at(model.LocationRepairs)
	case !pdiCompleted && loc != model.LocationGarageInventory:
		action, priority, goal = ActionSchedulePDI, model.PriorityHigh, at(model.LocationGarageInventory)
	case pdiCompleted && !showroomReady && !inShowroom:
		action, priority, goal = ActionPrepareForShowroom, model.PriorityMedium, at(model.LocationQualityControl)
	case showroomReady && (cfg.Stage == model.StageInventory || cfg.Stage == model.StageService):
		action, priority, goal = ActionMoveToShowroom, model.PriorityMedium, isShowroomFloor
	default:
		return noAction(loc)
	}

	next, ok := r.nextHop(cfg, goal)
	if !ok {
		return noAction(loc)
	}
	return model.Recommendation{Action: action, Location: next, Priority: priority}
}

// nextHop walks the transition graph breadth first from cfg and returns the
// first hop towards the nearest location matching goal. Neighbours are
// visited in AllowedNext order. cfg itself is returned when it already
// matches.
func (r *Recommender) nextHop(cfg model.LocationConfig, goal func(model.LocationConfig) bool) (model.Location, bool) {
	if goal(cfg) {
		return cfg.Location, true
	}

	type step struct {
		loc   model.Location
		first model.Location
	}
	seen := map[model.Location]bool{cfg.Location: true}
	queue := make([]step, 0, len(cfg.AllowedNext))
	for _, next := range cfg.AllowedNext {
		if !seen[next] {
			seen[next] = true
			queue = append(queue, step{loc: next, first: next})
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		nc, ok := r.registry.Lookup(cur.loc)
		if !ok {
			continue
		}
		if goal(nc) {
			return cur.first, true
		}
		for _, next := range nc.AllowedNext {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, step{loc: next, first: cur.first})
			}
		}
	}
	return "", false
}

func at(loc model.Location) func(model.LocationConfig) bool {
	return func(c model.LocationConfig) bool { return c.Location == loc }
}

// isShowroomFloor matches showroom locations where customers can test drive,
// which excludes the showroom back lot.
func isShowroomFloor(c model.LocationConfig) bool {
	return c.Stage == model.StageShowroom && c.Permits(model.StepTestDrive)
}

func noAction(loc model.Location) model.Recommendation {
	return model.Recommendation{Action: ActionNone, Location: loc, Priority: model.PriorityLow}
}
