package workflow

import (
	"errors"
	"testing"

	"github.com/pitabwire/vehicleflow/model"
)

func ev(seq int64, from, to model.Location, toStep model.Step) model.WorkflowEvent {
	return model.WorkflowEvent{VIN: testVIN, Sequence: seq, FromLocation: from, ToLocation: to, ToStep: toStep}
}

func TestReplay_lastEventWins(t *testing.T) {
	events := []model.WorkflowEvent{
		ev(2, model.LocationCarInventory, model.LocationGarageInventory, model.StepPDIPending),
		ev(1, model.LocationNewArrivals, model.LocationCarInventory, model.StepInitialInspection),
		ev(3, model.LocationGarageInventory, model.LocationRepairs, model.StepRepairNeeded),
	}
	loc, step, err := Replay(events)
	if err != nil {
		t.Fatalf("Replay error: %v", err)
	}
	if loc != model.LocationRepairs || step != model.StepRepairNeeded {
		t.Errorf("Replay = %s/%s, want repairs/repair_needed", loc, step)
	}
	if events[0].Sequence != 2 {
		t.Error("Replay reordered the caller's slice")
	}
}

func TestReplay_empty(t *testing.T) {
	if _, _, err := Replay(nil); !errors.Is(err, ErrEmptyHistory) {
		t.Errorf("Replay(nil) error = %v, want ErrEmptyHistory", err)
	}
}

func TestReplay_broken(t *testing.T) {
	tests := []struct {
		name   string
		events []model.WorkflowEvent
	}{
		{"gap in sequence", []model.WorkflowEvent{
			ev(1, model.LocationNewArrivals, model.LocationCarInventory, model.StepInitialInspection),
			ev(3, model.LocationCarInventory, model.LocationRepairs, model.StepRepairNeeded),
		}},
		{"does not start at one", []model.WorkflowEvent{
			ev(2, model.LocationNewArrivals, model.LocationCarInventory, model.StepInitialInspection),
		}},
		{"chain broken", []model.WorkflowEvent{
			ev(1, model.LocationNewArrivals, model.LocationCarInventory, model.StepInitialInspection),
			ev(2, model.LocationRepairs, model.LocationGarageInventory, model.StepPDIPending),
		}},
		{"duplicate sequence", []model.WorkflowEvent{
			ev(1, model.LocationNewArrivals, model.LocationCarInventory, model.StepInitialInspection),
			ev(1, model.LocationNewArrivals, model.LocationRepairs, model.StepRepairNeeded),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Replay(tt.events); !errors.Is(err, ErrBrokenHistory) {
				t.Errorf("Replay error = %v, want ErrBrokenHistory", err)
			}
		})
	}
}
