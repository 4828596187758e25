package capability

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/vehicleflow/model"
)

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver resolves a caller's capabilities through a StaticPolicy and caches
// the result per subject and role set.
type Resolver struct {
	policy *StaticPolicy
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewResolver creates a Resolver. A ttl of zero disables caching.
func NewResolver(policy *StaticPolicy, ttl time.Duration) *Resolver {
	return &Resolver{
		policy: policy,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

// cacheKey includes the roles since a subject's next token may carry
// different ones.
func cacheKey(rctx *model.RequestContext) string {
	roles := slices.Clone(rctx.Roles)
	slices.Sort(roles)
	return rctx.SubjectID + "|" + strings.Join(roles, ",")
}

// Resolve returns the capability set for rctx.
func (r *Resolver) Resolve(rctx *model.RequestContext) model.CapabilitySet {
	if r.ttl <= 0 {
		return r.policy.Capabilities(rctx.Roles)
	}

	key := cacheKey(rctx)
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && r.now().Before(entry.expires) {
		return entry.caps
	}

	caps := r.policy.Capabilities(rctx.Roles)
	r.mu.Lock()
	r.cache[key] = cacheEntry{caps: caps, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return caps
}

// Invalidate drops every cached entry for subjectID.
func (r *Resolver) Invalidate(subjectID string) {
	prefix := subjectID + "|"
	r.mu.Lock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Reload rereads the policy and clears the cache.
func (r *Resolver) Reload() error {
	if err := r.policy.Reload(); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
	return nil
}
