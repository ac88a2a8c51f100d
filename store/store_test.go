package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cache_errors "github.com/vagasapp/cachecore/errors"
	"github.com/vagasapp/cachecore/store"
)

type record struct {
	V int `json:"v"`
}

func openBolt(t *testing.T, opts store.Options) *store.Bolt {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := store.NewBolt(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStore(t *testing.T) {
	ctx := context.Background()

	t.Run("SetGet_RoundTrip", func(t *testing.T) {
		s := openBolt(t, store.Options{})

		require.NoError(t, s.Set(ctx, "a", record{V: 1}, store.SetOptions{TTL: time.Minute}))

		raw, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)

		var got record
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, 1, got.V)
	})

	t.Run("Get_AfterTTL_Misses", func(t *testing.T) {
		now := time.Now()
		s := openBolt(t, store.Options{Now: func() time.Time { return now }})

		require.NoError(t, s.Set(ctx, "a", record{V: 1}, store.SetOptions{TTL: time.Second}))

		_, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok, "entry should be served before TTL elapses")

		now = now.Add(1100 * time.Millisecond)
		_, ok, err = s.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok, "expired entry must read as a miss")

		// Expired entry is physically removed on the failed read.
		assert.Equal(t, 0, s.Metrics().Entries)
	})

	t.Run("Hit_DoesNotRefreshTTL", func(t *testing.T) {
		now := time.Now()
		s := openBolt(t, store.Options{Now: func() time.Time { return now }})

		require.NoError(t, s.Set(ctx, "a", record{V: 1}, store.SetOptions{TTL: time.Second}))

		// Read repeatedly just under the TTL; absolute expiry still applies.
		now = now.Add(900 * time.Millisecond)
		_, ok, _ := s.Get(ctx, "a")
		require.True(t, ok)

		now = now.Add(200 * time.Millisecond)
		_, ok, _ = s.Get(ctx, "a")
		assert.False(t, ok, "TTL counts from creation, not last access")
	})

	t.Run("Eviction_RespectsBudget", func(t *testing.T) {
		s := openBolt(t, store.Options{BudgetBytes: 2048, EntryCapRatio: 0.25})

		payload := make([]byte, 300)
		for i := 0; i < 30; i++ {
			key := string(rune('a' + i%26))
			require.NoError(t, s.Set(ctx, key+"-"+string(rune('0'+i/26)), payload, store.SetOptions{TTL: time.Minute}))
			assert.LessOrEqual(t, s.Metrics().TotalBytes, int64(2048),
				"store size must never exceed the budget")
		}
	})

	t.Run("Eviction_PrefersIdleEntries", func(t *testing.T) {
		now := time.Now()
		s := openBolt(t, store.Options{
			BudgetBytes:   2048,
			EntryCapRatio: 0.5,
			Now:           func() time.Time { return now },
		})

		payload := make([]byte, 600)
		require.NoError(t, s.Set(ctx, "hot", payload, store.SetOptions{TTL: time.Hour}))
		require.NoError(t, s.Set(ctx, "cold", payload, store.SetOptions{TTL: time.Hour}))

		// Keep "hot" recently accessed while "cold" idles.
		now = now.Add(10 * time.Minute)
		_, ok, _ := s.Get(ctx, "hot")
		require.True(t, ok)

		require.NoError(t, s.Set(ctx, "new", payload, store.SetOptions{TTL: time.Hour}))

		_, ok, _ = s.Get(ctx, "hot")
		assert.True(t, ok, "recently accessed entry should survive eviction")
		_, ok, _ = s.Get(ctx, "cold")
		assert.False(t, ok, "idle entry should be evicted first")
	})

	t.Run("Set_RejectsOversizedEntry", func(t *testing.T) {
		s := openBolt(t, store.Options{BudgetBytes: 1024, EntryCapRatio: 0.10})

		big := make([]byte, 500)
		err := s.Set(ctx, "big", big, store.SetOptions{TTL: time.Minute})
		assert.ErrorIs(t, err, cache_errors.ErrEntryTooLarge)
		assert.Equal(t, 0, s.Metrics().Entries, "oversized entry must not displace the store")
	})

	t.Run("ClearScope_RemovesOnlyThatOwner", func(t *testing.T) {
		s := openBolt(t, store.Options{})

		require.NoError(t, s.Set(ctx, "u1:vagas", record{V: 1}, store.SetOptions{TTL: time.Minute, OwnerScope: "u1"}))
		require.NoError(t, s.Set(ctx, "u2:vagas", record{V: 2}, store.SetOptions{TTL: time.Minute, OwnerScope: "u2"}))

		require.NoError(t, s.ClearScope(ctx, "u1"))

		_, ok, _ := s.Get(ctx, "u1:vagas")
		assert.False(t, ok)
		_, ok, _ = s.Get(ctx, "u2:vagas")
		assert.True(t, ok)
	})

	t.Run("Keys_FiltersByPrefix", func(t *testing.T) {
		s := openBolt(t, store.Options{})

		require.NoError(t, s.Set(ctx, "syncq:1", record{V: 1}, store.SetOptions{TTL: time.Minute}))
		require.NoError(t, s.Set(ctx, "syncq:2", record{V: 2}, store.SetOptions{TTL: time.Minute}))
		require.NoError(t, s.Set(ctx, "data:1", record{V: 3}, store.SetOptions{TTL: time.Minute}))

		keys, err := s.Keys(ctx, "syncq:")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"syncq:1", "syncq:2"}, keys)
	})

	t.Run("Reopen_RestoresEntries", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.db")

		s, err := store.NewBolt(path, store.Options{})
		require.NoError(t, err)
		require.NoError(t, s.Set(ctx, "a", record{V: 42}, store.SetOptions{TTL: time.Hour}))
		require.NoError(t, s.Close())

		s2, err := store.NewBolt(path, store.Options{})
		require.NoError(t, err)
		defer s2.Close()

		raw, ok, err := s2.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok, "entries must survive a restart")

		var got record
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, 42, got.V)
	})

	t.Run("Cleanup_SweepsExpired", func(t *testing.T) {
		now := time.Now()
		s := openBolt(t, store.Options{Now: func() time.Time { return now }})

		require.NoError(t, s.Set(ctx, "short", record{V: 1}, store.SetOptions{TTL: time.Second}))
		require.NoError(t, s.Set(ctx, "long", record{V: 2}, store.SetOptions{TTL: time.Hour}))

		now = now.Add(2 * time.Second)
		n, err := s.Cleanup(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, s.Metrics().Entries)
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("SameContractAsBolt", func(t *testing.T) {
		now := time.Now()
		s := store.NewMemory(store.Options{Now: func() time.Time { return now }})

		require.NoError(t, s.Set(ctx, "a", record{V: 7}, store.SetOptions{TTL: time.Second, OwnerScope: "u1"}))

		raw, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		var got record
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, 7, got.V)

		now = now.Add(1100 * time.Millisecond)
		_, ok, _ = s.Get(ctx, "a")
		assert.False(t, ok)
	})

	t.Run("Eviction_RespectsBudget", func(t *testing.T) {
		s := store.NewMemory(store.Options{BudgetBytes: 1024, EntryCapRatio: 0.4})

		payload := make([]byte, 200)
		for i := 0; i < 20; i++ {
			key := "k" + string(rune('a'+i))
			require.NoError(t, s.Set(context.Background(), key, payload, store.SetOptions{TTL: time.Minute}))
			assert.LessOrEqual(t, s.Metrics().TotalBytes, int64(1024))
		}
	})
}
