package workflow

import (
	"context"

	"github.com/pitabwire/vehicleflow/model"
)

// Store persists vehicles and their audit trail. Events are append-only and
// are written only through CommitMove, together with the vehicle they move.
type Store interface {
	// CreateVehicle persists a newly registered vehicle. Returns CONFLICT if
	// the VIN already exists.
	CreateVehicle(ctx context.Context, vehicle model.Vehicle) error

	// GetVehicle retrieves a vehicle by VIN. Returns ENTITY_NOT_FOUND if the
	// VIN is unknown.
	GetVehicle(ctx context.Context, vin string) (model.Vehicle, error)

	// UpdateAttributes merges attrs into the vehicle's attribute bag. A nil
	// value removes the key. version must match the stored version, otherwise
	// CONCURRENT_MODIFICATION is returned. Location, step and history are
	// never touched.
	UpdateAttributes(ctx context.Context, vin string, attrs map[string]any, version int64) (model.Vehicle, error)

	// CommitMove stores the moved vehicle and appends event as one atomic
	// unit. vehicle.Version is the version the move was validated against;
	// the store increments it. A stale version or an out-of-order sequence
	// returns CONCURRENT_MODIFICATION and nothing is written.
	CommitMove(ctx context.Context, vehicle model.Vehicle, event model.WorkflowEvent) error

	// History returns the vehicle's events ordered by sequence. Returns
	// ENTITY_NOT_FOUND if the VIN is unknown.
	History(ctx context.Context, vin string) ([]model.WorkflowEvent, error)
}

func mergeAttributes(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
	return dst
}
