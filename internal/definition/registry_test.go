package definition

import (
	"sync"
	"testing"

	"github.com/pitabwire/vehicleflow/model"
)

func TestNewRegistry_defaults(t *testing.T) {
	r, err := NewRegistry(DefaultLocations())
	if err != nil {
		t.Fatalf("NewRegistry(DefaultLocations()) error = %v", err)
	}
	if got := len(r.Locations()); got != len(model.AllLocations) {
		t.Errorf("Locations() = %d rows, want %d", got, len(model.AllLocations))
	}
	if r.Checksum() == "" {
		t.Error("Checksum should not be empty")
	}
}

func TestNewRegistry_rejectsInvalidTable(t *testing.T) {
	rows := DefaultLocations()
	rows[0].AllowedNext = append(rows[0].AllowedNext, "parking_lot")
	if _, err := NewRegistry(rows); err == nil {
		t.Fatal("NewRegistry() with unknown destination should return error")
	}
}

func TestRegistry_Locations_declarationOrder(t *testing.T) {
	r := MustDefault()
	for i, row := range r.Locations() {
		if row.Location != model.AllLocations[i] {
			t.Errorf("Locations()[%d] = %q, want %q", i, row.Location, model.AllLocations[i])
		}
	}
}

func TestRegistry_Get(t *testing.T) {
	r := MustDefault()
	cfg := r.Get(model.LocationQualityControl)
	if cfg.EntryStep != model.StepQualityCheck {
		t.Errorf("EntryStep = %q, want quality_check", cfg.EntryStep)
	}
	if len(cfg.RequiredFields) != 2 {
		t.Errorf("RequiredFields = %v, want [model pdiCompleted]", cfg.RequiredFields)
	}
}

func TestRegistry_Get_unknownPanics(t *testing.T) {
	r := MustDefault()
	defer func() {
		if recover() == nil {
			t.Error("Get(unknown) should panic")
		}
	}()
	r.Get("parking_lot")
}

func TestRegistry_Lookup(t *testing.T) {
	r := MustDefault()
	if _, ok := r.Lookup(model.LocationSold); !ok {
		t.Error("Lookup(sold) not found")
	}
	if _, ok := r.Lookup("parking_lot"); ok {
		t.Error("Lookup(parking_lot) should not be found")
	}
}

func TestRegistry_Lookup_returnsCopy(t *testing.T) {
	r := MustDefault()
	cfg, _ := r.Lookup(model.LocationNewArrivals)
	cfg.AllowedNext[0] = model.LocationSold

	if r.IsReachable(model.LocationNewArrivals, model.LocationSold) {
		t.Error("mutating a looked-up row changed the registry")
	}
}

func TestRegistry_IsReachable(t *testing.T) {
	r := MustDefault()
	tests := []struct {
		from, to model.Location
		want     bool
	}{
		{model.LocationNewArrivals, model.LocationCarInventory, true},
		{model.LocationNewArrivals, model.LocationSold, false},
		{model.LocationGarageInventory, model.LocationShowroomFloor1, true},
		{model.LocationShowroomFloor1, model.LocationSold, true},
		{model.LocationSold, model.LocationShipped, true},
		{model.LocationShipped, model.LocationSold, false},
		{"parking_lot", model.LocationSold, false},
		{model.LocationSold, "parking_lot", false},
	}
	for _, tt := range tests {
		if got := r.IsReachable(tt.from, tt.to); got != tt.want {
			t.Errorf("IsReachable(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRegistry_IsTerminal(t *testing.T) {
	r := MustDefault()
	if !r.IsTerminal(model.LocationShipped) {
		t.Error("shipped should be terminal")
	}
	if r.IsTerminal(model.LocationSold) {
		t.Error("sold should not be terminal")
	}
	if r.IsTerminal("parking_lot") {
		t.Error("unknown location should not be terminal")
	}
}

func TestRegistry_defaultsEntrySteps(t *testing.T) {
	r := MustDefault()
	for _, row := range r.Locations() {
		if row.EntryStep != "" && !row.Permits(row.EntryStep) {
			t.Errorf("%s: entry step %q not permitted", row.Location, row.EntryStep)
		}
	}
}

func TestRegistry_concurrentReads(t *testing.T) {
	r := MustDefault()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.IsReachable(model.LocationCarInventory, model.LocationRepairs)
			_ = r.Get(model.LocationRepairs)
			_ = r.Locations()
		}()
	}
	wg.Wait()
}
