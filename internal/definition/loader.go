// Package definition holds the location registry: the built-in table, a YAML
// loader for operator-supplied tables, structural validation, and a read-only
// index used by the workflow engine.
package definition

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/pitabwire/vehicleflow/model"
	"gopkg.in/yaml.v3"
)

// Table is a location table as read from a YAML file.
type Table struct {
	Locations  []model.LocationConfig `yaml:"locations"`
	Checksum   string                 `yaml:"-"`
	SourceFile string                 `yaml:"-"`
}

// Loader parses YAML location tables and computes SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFile loads and parses a single YAML table file.
func (l *Loader) LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	t.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	t.SourceFile = path
	return t, nil
}
