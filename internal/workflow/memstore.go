package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/vehicleflow/model"
)

// MemoryStore is an in-memory Store. Records are copied on the way in and on
// the way out so callers never share maps with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	vehicles map[string]model.Vehicle         // key: VIN
	events   map[string][]model.WorkflowEvent // key: VIN
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vehicles: make(map[string]model.Vehicle),
		events:   make(map[string][]model.WorkflowEvent),
	}
}

// CreateVehicle persists a new vehicle.
func (s *MemoryStore) CreateVehicle(_ context.Context, v model.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.vehicles[v.VIN]; exists {
		return model.NewConflictError(fmt.Sprintf("vehicle %q already exists", v.VIN))
	}
	s.vehicles[v.VIN] = v.Clone()
	return nil
}

// GetVehicle retrieves a vehicle by VIN.
func (s *MemoryStore) GetVehicle(_ context.Context, vin string) (model.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.vehicles[vin]
	if !exists {
		return model.Vehicle{}, model.NewEntityNotFoundError(vin)
	}
	return v.Clone(), nil
}

// UpdateAttributes merges attrs with optimistic locking.
func (s *MemoryStore) UpdateAttributes(_ context.Context, vin string, attrs map[string]any, version int64) (model.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.vehicles[vin]
	if !exists {
		return model.Vehicle{}, model.NewEntityNotFoundError(vin)
	}
	if existing.Version != version {
		return model.Vehicle{}, model.NewConcurrentModificationError(vin)
	}

	updated := existing.Clone()
	updated.Attributes = mergeAttributes(updated.Attributes, attrs)
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()
	s.vehicles[vin] = updated
	return updated.Clone(), nil
}

// CommitMove stores the moved vehicle and appends event under one lock.
func (s *MemoryStore) CommitMove(_ context.Context, v model.Vehicle, event model.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.vehicles[v.VIN]
	if !exists {
		return model.NewEntityNotFoundError(v.VIN)
	}
	if existing.Version != v.Version {
		return model.NewConcurrentModificationError(v.VIN)
	}
	if event.Sequence != int64(len(s.events[v.VIN]))+1 {
		return model.NewConcurrentModificationError(v.VIN)
	}

	stored := v.Clone()
	stored.Version++
	s.vehicles[v.VIN] = stored
	s.events[v.VIN] = append(s.events[v.VIN], cloneEvent(event))
	return nil
}

// History returns the vehicle's events ordered by sequence.
func (s *MemoryStore) History(_ context.Context, vin string) ([]model.WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.vehicles[vin]; !exists {
		return nil, model.NewEntityNotFoundError(vin)
	}

	events := s.events[vin]
	result := make([]model.WorkflowEvent, len(events))
	for i, e := range events {
		result[i] = cloneEvent(e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Sequence < result[j].Sequence
	})
	return result, nil
}

// Len returns the number of stored vehicles. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}

// EventCount returns the total number of stored events. For testing.
func (s *MemoryStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, events := range s.events {
		n += len(events)
	}
	return n
}

func cloneEvent(e model.WorkflowEvent) model.WorkflowEvent {
	if e.Metadata != nil {
		md := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	return e
}
