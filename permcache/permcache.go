// permcache/permcache.go

// Package permcache wraps cached values with a role/resource/action check.
// Nothing is written for a profile that cannot read it, and every read
// re-validates against the profile active at read time, so a role downgrade
// mid-session immediately withholds previously cached data.
package permcache

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	logger "github.com/vagasapp/cachecore/logging"
	"github.com/vagasapp/cachecore/metrics"
	"github.com/vagasapp/cachecore/model"
)

// Options configures the permission cache.
type Options struct {
	// Rules is the static permission rule set, loaded once.
	Rules []model.PermissionRule

	// DefaultTTL applies when a rule carries no TTL multiplier basis.
	DefaultTTL time.Duration

	// PressureRatio is the fraction of entries evicted under memory
	// pressure. Zero means the default of 0.20.
	PressureRatio float64

	// PressureEntries is the entry count regarded as memory pressure by
	// the periodic maintenance sweep. Zero means 1024.
	PressureEntries int

	// ProfileMaxAge bounds how long a derived profile stays valid before
	// the host must push the user again. Zero means 8 hours.
	ProfileMaxAge time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

type entry struct {
	data       any
	resource   string
	ownerID    string
	createdAt  time.Time
	ttl        time.Duration
	priority   model.Priority
	lastAccess time.Time
}

// Cache is the role-scoped permission cache.
type Cache struct {
	opts  Options
	rules map[string]model.PermissionRule

	mu      sync.Mutex
	profile *model.UserPermissionProfile
	entries map[string]*entry

	hits   int64
	misses int64
	denied int64
}

// New builds the cache from its static rule set.
func New(opts Options) *Cache {
	metrics.Init()
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 10 * time.Minute
	}
	if opts.PressureRatio <= 0 {
		opts.PressureRatio = 0.20
	}
	if opts.PressureEntries <= 0 {
		opts.PressureEntries = 1024
	}
	if opts.ProfileMaxAge <= 0 {
		opts.ProfileMaxAge = 8 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	rules := make(map[string]model.PermissionRule, len(opts.Rules))
	for _, r := range opts.Rules {
		rules[r.Resource] = r
	}
	return &Cache{
		opts:    opts,
		rules:   rules,
		entries: make(map[string]*entry),
	}
}

// SetUser derives a permission profile for the user and installs it,
// discarding the previous one. A nil user (logout) clears the profile and
// every cached entry.
func (c *Cache) SetUser(user *model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if user == nil {
		c.profile = nil
		c.entries = make(map[string]*entry)
		logger.Info("Permission profile cleared")
		return
	}

	c.profile = c.deriveProfile(user)
	logger.Info("Permission profile installed",
		zap.String("userID", user.ID),
		zap.String("role", string(user.Role)),
		zap.String("cacheLevel", string(c.profile.CacheLevel)),
		zap.Int("grantedPermissions", len(c.profile.GrantedPermissions)))
}

func (c *Cache) deriveProfile(user *model.User) *model.UserPermissionProfile {
	var granted []model.Permission
	for _, rule := range c.opts.Rules {
		for action, roles := range rule.AllowedActions {
			for _, role := range roles {
				if role == user.Role {
					granted = append(granted, model.Permission{
						Resource: rule.Resource,
						Action:   action,
					})
				}
			}
		}
	}
	return &model.UserPermissionProfile{
		UserID:             user.ID,
		Role:               user.Role,
		GrantedPermissions: granted,
		CacheLevel:         user.Role.CacheLevel(),
		ExpiresAt:          c.opts.Now().Add(c.opts.ProfileMaxAge),
	}
}

// Profile returns the active profile, or nil when no user is installed or
// the profile has aged out.
func (c *Cache) Profile() *model.UserPermissionProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profileLocked()
}

func (c *Cache) profileLocked() *model.UserPermissionProfile {
	if c.profile == nil {
		return nil
	}
	if c.opts.Now().After(c.profile.ExpiresAt) {
		return nil
	}
	return c.profile
}

// CanAccess reports whether the active profile grants (resource, action).
func (c *Cache) CanAccess(resource, action string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profileLocked().HasPermission(resource, action)
}

// SetOptions carries per-entry settings for Set.
type SetOptions struct {
	TTL      time.Duration
	Priority model.Priority
}

// Set caches data under the resource's rules. A profile that cannot read
// the resource makes this a warned no-op: the cache must never hold data
// the current role cannot read. The effective TTL is the rule (or given)
// TTL scaled by the role's multiplier; a zero multiplier disables caching.
func (c *Cache) Set(key string, data any, resource string, opts SetOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	profile := c.profileLocked()
	if !profile.HasPermission(resource, "read") {
		logger.Warn("Refusing to cache data the active role cannot read",
			zap.String("key", key),
			zap.String("resource", resource))
		return
	}

	multiplier := profile.Role.TTLMultiplier()
	if multiplier == 0 {
		logger.Warn("Role has no cache entitlement, skipping cache write",
			zap.String("key", key),
			zap.String("role", string(profile.Role)))
		return
	}

	ttl := opts.TTL
	priority := opts.Priority
	if rule, ok := c.rules[resource]; ok {
		if rule.TTLMultiplier > 0 {
			multiplier *= rule.TTLMultiplier
		}
		if priority == "" {
			priority = rule.Priority
		}
	}
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	if priority == "" {
		priority = model.PriorityMediumEntry
	}

	now := c.opts.Now()
	c.entries[key] = &entry{
		data:       data,
		resource:   resource,
		ownerID:    profile.UserID,
		createdAt:  now,
		ttl:        time.Duration(float64(ttl) * multiplier),
		priority:   priority,
		lastAccess: now,
	}
}

// Get returns cached data for key, re-validating permission at read time.
// Entries owned by another user, expired entries, and entries the active
// profile may no longer read all report a miss.
func (c *Cache) Get(key, resource string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	profile := c.profileLocked()
	if !profile.HasPermission(resource, "read") {
		c.denied++
		metrics.PermissionDenied.Inc()
		return nil, false
	}

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		metrics.CacheMisses.WithLabelValues("permissions").Inc()
		return nil, false
	}
	if e.ownerID != profile.UserID || e.resource != resource {
		c.denied++
		metrics.PermissionDenied.Inc()
		return nil, false
	}

	now := c.opts.Now()
	if now.Sub(e.createdAt) >= e.ttl {
		delete(c.entries, key)
		c.misses++
		metrics.CacheMisses.WithLabelValues("permissions").Inc()
		return nil, false
	}

	e.lastAccess = now
	c.hits++
	metrics.CacheHits.WithLabelValues("permissions").Inc()
	return e.data, true
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateResource removes all entries for a resource, optionally scoped
// to one user.
func (c *Cache) InvalidateResource(resource string, userID ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if e.resource != resource {
			continue
		}
		if len(userID) > 0 && userID[0] != "" && e.ownerID != userID[0] {
			continue
		}
		delete(c.entries, key)
	}
}

// InvalidateUser removes every entry owned by the user.
func (c *Cache) InvalidateUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if e.ownerID == userID {
			delete(c.entries, key)
		}
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Sweep removes every expired entry and returns how many were dropped.
// Reads already treat expired entries as misses; the sweep reclaims the
// memory of entries nobody reads again.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	swept := 0
	for key, e := range c.entries {
		if now.Sub(e.createdAt) >= e.ttl {
			delete(c.entries, key)
			metrics.Evictions.WithLabelValues("permissions", "expired").Inc()
			swept++
		}
	}
	if swept > 0 {
		logger.Debug("Permission cache sweep", zap.Int("swept", swept))
	}
	return swept
}

// EvictIfPressured runs a pressure eviction when the entry count exceeds
// the configured pressure threshold.
func (c *Cache) EvictIfPressured() int {
	c.mu.Lock()
	pressured := len(c.entries) > c.opts.PressureEntries
	c.mu.Unlock()

	if !pressured {
		return 0
	}
	return c.EvictUnderPressure()
}

// EvictUnderPressure drops the lowest-value fraction of entries, ordered by
// priority then least-recent access.
func (c *Cache) EvictUnderPressure() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int(float64(len(c.entries)) * c.opts.PressureRatio)
	if n == 0 && len(c.entries) > 0 {
		n = 1
	}
	if n == 0 {
		return 0
	}

	type candidate struct {
		key string
		e   *entry
	}
	candidates := make([]candidate, 0, len(c.entries))
	for key, e := range c.entries {
		candidates = append(candidates, candidate{key, e})
	}
	sort.Slice(candidates, func(i, j int) bool {
		pi, pj := candidates[i].e.priority.Rank(), candidates[j].e.priority.Rank()
		if pi != pj {
			return pi < pj
		}
		return candidates[i].e.lastAccess.Before(candidates[j].e.lastAccess)
	})

	for _, cand := range candidates[:n] {
		delete(c.entries, cand.key)
		metrics.Evictions.WithLabelValues("permissions", "pressure").Inc()
	}

	logger.Debug("Permission cache pressure eviction", zap.Int("evicted", n))
	return n
}

// Stats reports entry count and counter totals.
func (c *Cache) Stats() model.PermissionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.PermissionStats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		Denied:  c.denied,
	}
}
