package workflow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pitabwire/vehicleflow/model"
)

var (
	// ErrEmptyHistory is returned by Replay when there are no events.
	ErrEmptyHistory = errors.New("empty history")
	// ErrBrokenHistory is returned by Replay when events skip a sequence
	// number or do not chain from one location to the next.
	ErrBrokenHistory = errors.New("broken history")
	// ErrAuditDrift is returned by Engine.Verify when the audit log and the
	// vehicle record disagree.
	ErrAuditDrift = errors.New("audit log and vehicle record disagree")
)

// Replay folds events into the location and step they leave a vehicle in.
// Events are ordered by sequence first; the input slice is not modified.
func Replay(events []model.WorkflowEvent) (model.Location, model.Step, error) {
	if len(events) == 0 {
		return "", "", ErrEmptyHistory
	}

	ordered := make([]model.WorkflowEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	for i, e := range ordered {
		if e.Sequence != int64(i)+1 {
			return "", "", fmt.Errorf("%w: expected sequence %d, got %d", ErrBrokenHistory, i+1, e.Sequence)
		}
		if i > 0 && e.FromLocation != ordered[i-1].ToLocation {
			return "", "", fmt.Errorf("%w: event %d leaves %q but vehicle was at %q",
				ErrBrokenHistory, e.Sequence, e.FromLocation, ordered[i-1].ToLocation)
		}
	}

	last := ordered[len(ordered)-1]
	return last.ToLocation, last.ToStep, nil
}
