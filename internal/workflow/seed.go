package workflow

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/vehicleflow/internal/observability"
	"github.com/pitabwire/vehicleflow/model"
)

// seedFile is the YAML layout of an inventory seed file.
type seedFile struct {
	Vehicles []RegisterRequest `yaml:"vehicles"`
}

// LoadSeedFile reads the vehicles listed in a YAML seed file.
func LoadSeedFile(path string) ([]RegisterRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f.Vehicles, nil
}

// Seed registers every vehicle in reqs, skipping VINs that already exist.
// It returns how many vehicles were created and stops at the first other
// error.
func (e *Engine) Seed(ctx context.Context, reqs []RegisterRequest) (int, error) {
	created := 0
	for i, req := range reqs {
		if _, err := e.Register(ctx, req); err != nil {
			if model.IsCode(err, model.ErrConflict) {
				continue
			}
			return created, fmt.Errorf("seed vehicle %d (%s): %w", i, req.VIN, err)
		}
		created++
	}
	observability.LoggerFrom(ctx, e.logger).Info("inventory seeded",
		zap.Int("requested", len(reqs)),
		zap.Int("created", created),
	)
	return created, nil
}
