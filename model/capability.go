package model

import "strings"

// Capabilities gating vehicle operations.
const (
	CapVehiclesRead       = "vehicles:read"
	CapVehiclesRegister   = "vehicles:register"
	CapAttributesWrite    = "vehicles:attributes:write"
	CapLocationsRead      = "locations:read"
	capMoveEnterNamespace = "moves:enter:"
)

// CapMoveInto is the capability needed to move a vehicle into loc.
func CapMoveInto(loc Location) string {
	return capMoveEnterNamespace + string(loc)
}

// CapabilitySet is a set of capabilities granted to a caller. Keys may end in
// a ":*" wildcard, and "*" grants everything.
type CapabilitySet map[string]bool

// Has returns true if the set contains cap or a wildcard that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAny returns true if the set matches at least one of caps.
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, cap := range caps {
		if cs.Has(cap) {
			return true
		}
	}
	return false
}

// matchWildcard returns true if pattern matches cap. "moves:*" matches
// "moves:enter:sold"; "moves:enter" matches only itself.
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	return strings.HasPrefix(cap, pattern[:len(pattern)-1])
}
