package workflow

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/vehicleflow/model"
)

// setupPgStore connects to the database named by VEHICLEFLOW_TEST_DATABASE_URL
// and starts from empty tables. Tests are skipped when it is unset.
func setupPgStore(t *testing.T) *PgStore {
	t.Helper()
	dsn := os.Getenv("VEHICLEFLOW_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("VEHICLEFLOW_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	s := NewPgStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE vehicle_events, vehicles`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestPgStore_moveLifecycle(t *testing.T) {
	s := setupPgStore(t)
	ctx := context.Background()

	if err := s.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	v := newTestVehicle(testVIN, model.LocationNewArrivals, model.StepArrival, map[string]any{"model": "Golf"})
	if err := s.CreateVehicle(ctx, v); err != nil {
		t.Fatalf("CreateVehicle: %v", err)
	}
	if err := s.CreateVehicle(ctx, v); !model.IsCode(err, model.ErrConflict) {
		t.Errorf("duplicate CreateVehicle error = %v, want CONFLICT", err)
	}

	evt := model.WorkflowEvent{
		ID: "evt-1", VIN: testVIN, Sequence: 1,
		FromLocation: model.LocationNewArrivals, ToLocation: model.LocationCarInventory,
		FromStep: model.StepInitialInspection, ToStep: model.StepInitialInspection,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond), Actor: "porter-7",
		Metadata: map[string]any{"bay": "4"},
	}
	moved := movedCopy(v, evt)
	if err := s.CommitMove(ctx, moved, evt); err != nil {
		t.Fatalf("CommitMove: %v", err)
	}
	if err := s.CommitMove(ctx, moved, evt); !model.IsCode(err, model.ErrConcurrentModification) {
		t.Errorf("stale CommitMove error = %v, want CONCURRENT_MODIFICATION", err)
	}

	got, err := s.GetVehicle(ctx, testVIN)
	if err != nil {
		t.Fatalf("GetVehicle: %v", err)
	}
	if got.CurrentLocation != model.LocationCarInventory || got.Version != 2 {
		t.Errorf("vehicle = %+v", got)
	}
	if !got.LastMovedAt.Equal(evt.Timestamp) {
		t.Errorf("LastMovedAt = %v, want %v", got.LastMovedAt, evt.Timestamp)
	}

	updated, err := s.UpdateAttributes(ctx, testVIN, map[string]any{"price": 24999}, 2)
	if err != nil {
		t.Fatalf("UpdateAttributes: %v", err)
	}
	if updated.Version != 3 || updated.Attr("model") != "Golf" {
		t.Errorf("updated = %+v", updated)
	}

	history, err := s.History(ctx, testVIN)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Metadata["bay"] != "4" {
		t.Errorf("History = %+v", history)
	}
}

func TestPgStore_notFound(t *testing.T) {
	s := setupPgStore(t)
	ctx := context.Background()

	if _, err := s.GetVehicle(ctx, testVIN); !model.IsCode(err, model.ErrEntityNotFound) {
		t.Errorf("GetVehicle error = %v, want ENTITY_NOT_FOUND", err)
	}
	if _, err := s.History(ctx, testVIN); !model.IsCode(err, model.ErrEntityNotFound) {
		t.Errorf("History error = %v, want ENTITY_NOT_FOUND", err)
	}
}
