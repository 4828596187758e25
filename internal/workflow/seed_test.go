package workflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pitabwire/vehicleflow/model"
)

func TestLoadSeedFile(t *testing.T) {
	reqs, err := LoadSeedFile(filepath.Join("testdata", "seed.yaml"))
	if err != nil {
		t.Fatalf("LoadSeedFile error: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("len = %d, want 2", len(reqs))
	}
	if reqs[1].Location != model.LocationCarInventory {
		t.Errorf("reqs[1].Location = %q, want car_inventory", reqs[1].Location)
	}
	if reqs[1].Attributes["model"] != "Polo" {
		t.Errorf("reqs[1].Attributes = %v", reqs[1].Attributes)
	}
}

func TestLoadSeedFile_missing(t *testing.T) {
	if _, err := LoadSeedFile(filepath.Join("testdata", "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEngine_Seed_skipsExisting(t *testing.T) {
	e, store := newTestEngine(t)
	reqs, err := LoadSeedFile(filepath.Join("testdata", "seed.yaml"))
	if err != nil {
		t.Fatalf("LoadSeedFile error: %v", err)
	}

	n, err := e.Seed(context.Background(), reqs)
	if err != nil || n != 2 {
		t.Fatalf("first Seed = %d, %v; want 2, nil", n, err)
	}
	n, err = e.Seed(context.Background(), reqs)
	if err != nil || n != 0 {
		t.Fatalf("second Seed = %d, %v; want 0, nil", n, err)
	}
	if store.Len() != 2 {
		t.Errorf("store.Len() = %d, want 2", store.Len())
	}
}

func TestEngine_Seed_stopsOnInvalid(t *testing.T) {
	e, _ := newTestEngine(t)
	reqs := []RegisterRequest{
		{VIN: testVIN},
		{VIN: "SHORT"},
		{VIN: "WVWZZZ1JZXW000001"},
	}
	n, err := e.Seed(context.Background(), reqs)
	if err == nil {
		t.Fatal("expected error for invalid VIN")
	}
	if !model.IsCode(err, model.ErrBadRequest) {
		t.Errorf("err = %v, want BAD_REQUEST", err)
	}
	if n != 1 {
		t.Errorf("created = %d, want 1", n)
	}
}
