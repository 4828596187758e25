// Package capability maps token roles to the capabilities that gate vehicle
// operations, using a static YAML policy and a short-lived resolution cache.
package capability

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/vehicleflow/model"
)

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// StaticPolicy resolves capabilities from a role-to-capabilities table.
type StaticPolicy struct {
	path  string
	mu    sync.RWMutex
	roles map[string][]string
}

// NewStaticPolicy creates a policy over roles. It is not backed by a file and
// Reload is a no-op.
func NewStaticPolicy(roles map[string][]string) *StaticPolicy {
	return &StaticPolicy{roles: roles}
}

// LoadStaticPolicy creates a policy from the YAML file at path.
func LoadStaticPolicy(path string) (*StaticPolicy, error) {
	p := &StaticPolicy{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Capabilities returns the union of capabilities granted to roles.
func (p *StaticPolicy) Capabilities(roles []string) model.CapabilitySet {
	p.mu.RLock()
	defer p.mu.RUnlock()

	caps := make(model.CapabilitySet)
	for _, role := range roles {
		for _, c := range p.roles[role] {
			caps[c] = true
		}
	}
	return caps
}

// Reload rereads the policy file from disk.
func (p *StaticPolicy) Reload() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("capability: reading policy file %s: %w", p.path, err)
	}

	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("capability: parsing policy file %s: %w", p.path, err)
	}
	if len(f.Roles) == 0 {
		return fmt.Errorf("capability: policy file %s defines no roles", p.path)
	}

	p.mu.Lock()
	p.roles = f.Roles
	p.mu.Unlock()
	return nil
}
