package model

import "time"

// Location is a named operational area a vehicle occupies.
type Location string

// Known locations.
const (
	LocationNewArrivals       Location = "new_arrivals"
	LocationCarInventory      Location = "car_inventory"
	LocationGarageInventory   Location = "garage_inventory"
	LocationShowroomFloor1    Location = "showroom_floor_1"
	LocationShowroomFloor2    Location = "showroom_floor_2"
	LocationShowroomInventory Location = "showroom_inventory"
	LocationInventoryFloor2   Location = "inventory_floor_2"
	LocationInventoryGarage   Location = "inventory_garage"
	LocationRepairs           Location = "repairs"
	LocationGarageSchedule    Location = "garage_schedule"
	LocationQualityControl    Location = "quality_control"
	LocationSold              Location = "sold"
	LocationShipped           Location = "shipped"
)

// AllLocations lists every location in declaration order.
var AllLocations = []Location{
	LocationNewArrivals,
	LocationCarInventory,
	LocationInventoryFloor2,
	LocationInventoryGarage,
	LocationGarageSchedule,
	LocationGarageInventory,
	LocationRepairs,
	LocationQualityControl,
	LocationShowroomInventory,
	LocationShowroomFloor1,
	LocationShowroomFloor2,
	LocationSold,
	LocationShipped,
}

// Valid reports whether l is one of the known locations.
func (l Location) Valid() bool {
	for _, known := range AllLocations {
		if l == known {
			return true
		}
	}
	return false
}

// Step is the finer-grained lifecycle phase a vehicle holds at a location.
type Step string

// Known lifecycle steps.
const (
	StepArrival           Step = "arrival"
	StepInitialInspection Step = "initial_inspection"
	StepPDIPending        Step = "pdi_pending"
	StepPDIInProgress     Step = "pdi_in_progress"
	StepPDICompleted      Step = "pdi_completed"
	StepPDIFailed         Step = "pdi_failed"
	StepRepairNeeded      Step = "repair_needed"
	StepRepairInProgress  Step = "repair_in_progress"
	StepRepairCompleted   Step = "repair_completed"
	StepQualityCheck      Step = "quality_check"
	StepShowroomReady     Step = "showroom_ready"
	StepShowroomDisplay   Step = "showroom_display"
	StepTestDrive         Step = "test_drive"
	StepNegotiation       Step = "negotiation"
	StepSold              Step = "sold"
	StepDeliveryPrep      Step = "delivery_prep"
	StepDelivered         Step = "delivered"
)

// AllSteps lists every step in lifecycle order.
var AllSteps = []Step{
	StepArrival,
	StepInitialInspection,
	StepPDIPending,
	StepPDIInProgress,
	StepPDICompleted,
	StepPDIFailed,
	StepRepairNeeded,
	StepRepairInProgress,
	StepRepairCompleted,
	StepQualityCheck,
	StepShowroomReady,
	StepShowroomDisplay,
	StepTestDrive,
	StepNegotiation,
	StepSold,
	StepDeliveryPrep,
	StepDelivered,
}

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	for _, known := range AllSteps {
		if s == known {
			return true
		}
	}
	return false
}

// Stage groups locations by operational purpose.
type Stage string

// Location stages.
const (
	StageIntake    Stage = "intake"
	StageInventory Stage = "inventory"
	StageService   Stage = "service"
	StageShowroom  Stage = "showroom"
	StageSale      Stage = "sale"
)

// Attribute names consulted by step rules, required-field checks and
// recommendations.
const (
	AttrModel              = "model"
	AttrPrice              = "price"
	AttrPDICompleted       = "pdiCompleted"
	AttrPDIInProgress      = "pdiInProgress"
	AttrPDIFailed          = "pdiFailed"
	AttrRepairStatus       = "repairStatus"
	AttrShowroomReady      = "showroomReady"
	AttrShowroomDisplayed  = "showroomDisplayed"
	AttrTestDriveScheduled = "testDriveScheduled"
	AttrNegotiationStarted = "negotiationStarted"
	AttrCustomerName       = "customerName"
	AttrDeliveryScheduled  = "deliveryScheduled"
	AttrDeliveryAddress    = "deliveryAddress"
)

// StepRule maps an attribute condition to the step a vehicle holds. When
// Equals is nil the rule matches any satisfied (truthy) attribute value.
type StepRule struct {
	Field  string `json:"field" yaml:"field"`
	Equals any    `json:"equals,omitempty" yaml:"equals,omitempty"`
	Step   Step   `json:"step" yaml:"step"`
}

// LocationConfig is one row of the location registry.
type LocationConfig struct {
	Location       Location   `json:"location" yaml:"location"`
	Label          string     `json:"label" yaml:"label"`
	Stage          Stage      `json:"stage" yaml:"stage"`
	AllowedNext    []Location `json:"allowed_next" yaml:"allowed_next"`
	PermittedSteps []Step     `json:"permitted_steps" yaml:"permitted_steps"`
	RequiredFields []string   `json:"required_fields,omitempty" yaml:"required_fields,omitempty"`
	EntryStep      Step       `json:"entry_step,omitempty" yaml:"entry_step,omitempty"`
	StepRules      []StepRule `json:"step_rules,omitempty" yaml:"step_rules,omitempty"`
	FallbackStep   Step       `json:"fallback_step,omitempty" yaml:"fallback_step,omitempty"`
	Signals        []string   `json:"signals,omitempty" yaml:"signals,omitempty"`
}

// Permits reports whether step may be held at this location.
func (c LocationConfig) Permits(step Step) bool {
	for _, s := range c.PermittedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// LocationVisit is one entry of a vehicle's location history.
type LocationVisit struct {
	Location  Location  `json:"location"`
	Step      Step      `json:"step"`
	EventID   string    `json:"event_id"`
	EnteredAt time.Time `json:"entered_at"`
}

// Vehicle is the record a move operates on. It is owned by the store; only
// the move executor changes CurrentLocation, CurrentStep and LocationHistory.
type Vehicle struct {
	VIN             string          `json:"vin"`
	CurrentLocation Location        `json:"current_location"`
	CurrentStep     Step            `json:"current_step"`
	Attributes      map[string]any  `json:"attributes,omitempty"`
	LocationHistory []LocationVisit `json:"location_history,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastMovedAt     time.Time       `json:"last_moved_at,omitempty"`
}

// Attr returns the named attribute, or nil.
func (v Vehicle) Attr(name string) any {
	if v.Attributes == nil {
		return nil
	}
	return v.Attributes[name]
}

// Clone returns a deep copy of the attribute bag and history so that callers
// cannot mutate a stored record through shared maps or slices.
func (v Vehicle) Clone() Vehicle {
	out := v
	if v.Attributes != nil {
		out.Attributes = make(map[string]any, len(v.Attributes))
		for k, val := range v.Attributes {
			out.Attributes[k] = val
		}
	}
	if v.LocationHistory != nil {
		out.LocationHistory = make([]LocationVisit, len(v.LocationHistory))
		copy(out.LocationHistory, v.LocationHistory)
	}
	return out
}

// WorkflowEvent records one committed move in a vehicle's audit trail.
type WorkflowEvent struct {
	ID           string         `json:"id"`
	VIN          string         `json:"vin"`
	Sequence     int64          `json:"sequence"`
	FromLocation Location       `json:"from_location"`
	ToLocation   Location       `json:"to_location"`
	FromStep     Step           `json:"from_step"`
	ToStep       Step           `json:"to_step"`
	Timestamp    time.Time      `json:"timestamp"`
	Actor        string         `json:"actor"`
	Reason       string         `json:"reason,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// MoveRequest asks the orchestrator to move a vehicle between locations.
type MoveRequest struct {
	VIN            string         `json:"vin"`
	From           Location       `json:"from"`
	To             Location       `json:"to"`
	Reason         string         `json:"reason,omitempty"`
	Actor          string         `json:"actor"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// MoveOption describes one destination reachable from a vehicle's current
// location and whether the vehicle currently qualifies for it.
type MoveOption struct {
	Location      Location `json:"location"`
	Label         string   `json:"label"`
	Allowed       bool     `json:"allowed"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

// Priority ranks a recommendation.
type Priority string

// Recommendation priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Recommendation is the suggested next action for a vehicle.
type Recommendation struct {
	Action   string   `json:"action"`
	Location Location `json:"location"`
	Priority Priority `json:"priority"`
}

// VINLength is the length of a vehicle identification number.
const VINLength = 17
