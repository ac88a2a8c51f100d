package permcache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vagasapp/cachecore/model"
	"github.com/vagasapp/cachecore/permcache"
)

func newCache(now *time.Time) *permcache.Cache {
	return permcache.New(permcache.Options{
		Rules:      permcache.DefaultRules(),
		DefaultTTL: time.Minute,
		Now:        func() time.Time { return *now },
	})
}

func TestPermissionCache(t *testing.T) {
	admin := &model.User{ID: "u-admin", Role: model.RoleAdmin}
	rh := &model.User{ID: "u-rh", Role: model.RoleRH}

	t.Run("CanAccess_FollowsRules", func(t *testing.T) {
		now := time.Now()
		c := newCache(&now)

		c.SetUser(rh)
		assert.True(t, c.CanAccess("vagas", "read"))
		assert.True(t, c.CanAccess("vagas", "create"))
		assert.False(t, c.CanAccess("vagas", "delete"))
		assert.False(t, c.CanAccess("usuarios", "read"))

		c.SetUser(admin)
		assert.True(t, c.CanAccess("usuarios", "read"))
		assert.True(t, c.CanAccess("configuracoes", "update"))
	})

	t.Run("CanAccess_NoUser_DeniesEverything", func(t *testing.T) {
		now := time.Now()
		c := newCache(&now)
		assert.False(t, c.CanAccess("vagas", "read"))
	})

	t.Run("Set_RefusedWithoutReadPermission", func(t *testing.T) {
		now := time.Now()
		c := newCache(&now)

		c.SetUser(rh)
		c.Set("usuarios:list", []string{"u1"}, "usuarios", permcache.SetOptions{})

		assert.Equal(t, 0, c.Stats().Entries, "cache must never hold data the role cannot read")
	})

	t.Run("Get_RevalidatesAtReadTime", func(t *testing.T) {
		now := time.Now()
		c := newCache(&now)

		// An admin session caches user data; an RH session under the same
		// key must not see it.
		c.SetUser(admin)
		c.Set("usuarios:list", []string{"u1", "u2"}, "usuarios", permcache.SetOptions{})

		_, ok := c.Get("usuarios:list", "usuarios")
		require.True(t, ok)

		c.SetUser(rh)
		_, ok = c.Get("usuarios:list", "usuarios")
		assert.False(t, ok, "role without read access must see a miss")
		assert.False(t, c.CanAccess("usuarios", "read"))
	})

	t.Run("Get_WithheldFromDifferentUserSameRole", func(t *testing.T) {
		now := time.Now()
		c := newCache(&now)

		c.SetUser(admin)
		c.Set("vagas:list", "dados", "vagas", permcache.SetOptions{})

		other := &model.User{ID: "u-admin-2", Role: model.RoleAdmin}
		c.SetUser(other)
		_, ok := c.Get("vagas:list", "vagas")
		assert.False(t, ok, "entries are scoped to the owning user")
	})

	t.Run("TTL_ScaledByRoleMultiplier", func(t *testing.T) {
		now := time.Now()
		c := newCache(&now)

		// Admin multiplier is 1.5: a 1 minute TTL stretches to 90s.
		c.SetUser(admin)
		c.Set("vagas:list", "dados", "vagas", permcache.SetOptions{TTL: time.Minute})

		now = now.Add(80 * time.Second)
		_, ok := c.Get("vagas:list", "vagas")
		assert.True(t, ok)

		now = now.Add(15 * time.Second)
		_, ok = c.Get("vagas:list", "vagas")
		assert.False(t, ok)
	})

	t.Run("TTL_RestrictedRoleShrinks", func(t *testing.T) {
		now := time.Now()
		c := newCache(&now)

		// RH multiplier is 0.8: a 1 minute TTL shrinks to 48s.
		c.SetUser(rh)
		c.Set("vagas:list", "dados", "vagas", permcache.SetOptions{TTL: time.Minute})

		now = now.Add(45 * time.Second)
		_, ok := c.Get("vagas:list", "vagas")
		assert.True(t, ok)

		now = now.Add(5 * time.Second)
		_, ok = c.Get("vagas:list", "vagas")
		assert.False(t, ok)
	})

	t.Run("UnknownRole_NeverCaches", func(t *testing.T) {
		now := time.Now()
		c := newCache(&now)

		c.SetUser(&model.User{ID: "u-x", Role: model.ParseRole("visitante")})
		c.Set("vagas:list", "dados", "vagas", permcache.SetOptions{})
		assert.Equal(t, 0, c.Stats().Entries)
	})

	t.Run("InvalidateResource_ScopedToUser", func(t *testing.T) {
		now := time.Now()
		c := newCache(&now)

		c.SetUser(admin)
		c.Set("vagas:p1", "a", "vagas", permcache.SetOptions{})
		c.Set("vagas:p2", "b", "vagas", permcache.SetOptions{})
		c.Set("comunicados:list", "c", "comunicados", permcache.SetOptions{})
		require.Equal(t, 3, c.Stats().Entries)

		c.InvalidateResource("vagas", admin.ID)
		assert.Equal(t, 1, c.Stats().Entries)

		// Idempotent: a second identical invalidation changes nothing.
		c.InvalidateResource("vagas", admin.ID)
		assert.Equal(t, 1, c.Stats().Entries)
	})

	t.Run("EvictUnderPressure_DropsLowPriorityFirst", func(t *testing.T) {
		now := time.Now()
		c := newCache(&now)

		c.SetUser(admin)
		// comunicados is a low-priority rule, vagas high.
		c.Set("comunicados:list", "c", "comunicados", permcache.SetOptions{})
		now = now.Add(time.Second)
		c.Set("vagas:p1", "a", "vagas", permcache.SetOptions{})
		now = now.Add(time.Second)
		c.Set("vagas:p2", "b", "vagas", permcache.SetOptions{})

		evicted := c.EvictUnderPressure()
		assert.Equal(t, 1, evicted, "20% of 3 entries rounds up to one")

		_, ok := c.Get("comunicados:list", "comunicados")
		assert.False(t, ok, "lowest priority entry evicts first")
		_, ok = c.Get("vagas:p1", "vagas")
		assert.True(t, ok)
	})

	t.Run("Sweep_RemovesOnlyExpiredEntries", func(t *testing.T) {
		now := time.Now()
		c := newCache(&now)

		c.SetUser(admin)
		// Admin multiplier 1.5: effective TTLs are 3s and 90s.
		c.Set("vagas:p1", "a", "vagas", permcache.SetOptions{TTL: 2 * time.Second})
		c.Set("vagas:p2", "b", "vagas", permcache.SetOptions{TTL: time.Minute})

		now = now.Add(5 * time.Second)
		assert.Equal(t, 1, c.Sweep())
		assert.Equal(t, 1, c.Stats().Entries)

		_, ok := c.Get("vagas:p2", "vagas")
		assert.True(t, ok, "live entries survive the sweep")
		assert.Equal(t, 0, c.Sweep(), "sweeping again finds nothing")
	})

	t.Run("EvictIfPressured_HonorsThreshold", func(t *testing.T) {
		now := time.Now()
		c := permcache.New(permcache.Options{
			Rules:           permcache.DefaultRules(),
			DefaultTTL:      time.Minute,
			PressureEntries: 2,
			Now:             func() time.Time { return now },
		})

		c.SetUser(admin)
		c.Set("vagas:p1", "a", "vagas", permcache.SetOptions{})
		c.Set("vagas:p2", "b", "vagas", permcache.SetOptions{})
		assert.Equal(t, 0, c.EvictIfPressured(), "at the threshold is not pressure")

		c.Set("vagas:p3", "c", "vagas", permcache.SetOptions{})
		assert.Equal(t, 1, c.EvictIfPressured())
		assert.Equal(t, 2, c.Stats().Entries)
	})

	t.Run("Logout_ClearsEverything", func(t *testing.T) {
		now := time.Now()
		c := newCache(&now)

		c.SetUser(admin)
		c.Set("vagas:p1", "a", "vagas", permcache.SetOptions{})
		c.SetUser(nil)

		assert.Equal(t, 0, c.Stats().Entries)
		assert.Nil(t, c.Profile())
	})
}
