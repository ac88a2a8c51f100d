// orchestrator/orchestrator.go

// Package orchestrator composes the durable store, permission cache, page
// caches, and offline operation queue behind a single get/set/invalidate
// API keyed by logical resource name. It propagates the current-user
// identity to every layer and purges on user change so one user's cached
// data is never served to another.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	cache_errors "github.com/vagasapp/cachecore/errors"
	logger "github.com/vagasapp/cachecore/logging"
	"github.com/vagasapp/cachecore/model"
	"github.com/vagasapp/cachecore/pagecache"
	"github.com/vagasapp/cachecore/permcache"
	"github.com/vagasapp/cachecore/store"
	"github.com/vagasapp/cachecore/syncqueue"
	"github.com/vagasapp/cachecore/util"
)

// Fetcher loads a resource from the remote data service. Supplied per call
// site; the orchestrator never knows the transport.
type Fetcher func(ctx context.Context) (any, error)

// Options configures the orchestrator and its layers.
type Options struct {
	// Store is the shared durable store. Nil with DisableDurable unset
	// means an in-memory store is used.
	Store store.Store

	// DisableDurable skips the durable layer entirely.
	DisableDurable bool

	// DisablePermissions skips the permission layer: no access checks and
	// no in-memory permission-gated caching.
	DisablePermissions bool

	// DisableQueue executes mutations immediately instead of queueing.
	DisableQueue bool

	// Rules is the static permission rule set. Nil means DefaultRules.
	Rules []model.PermissionRule

	// Executor performs queued mutations against the remote.
	Executor syncqueue.Executor

	// Connectivity is the host-fed online/offline signal. Nil means a
	// signal that starts online.
	Connectivity *syncqueue.Connectivity

	// DefaultTTL applies when GetOptions carries no TTL.
	DefaultTTL time.Duration

	// JanitorInterval is the maintenance sweep period. Zero means 5m.
	JanitorInterval time.Duration

	// Queue tunes the offline queue (batch size, retries, backoff).
	// Mirror and Notify are always owned by the orchestrator.
	Queue syncqueue.Options

	// Permissions tunes the permission cache. Rules and Now are always
	// owned by the orchestrator.
	Permissions permcache.Options

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Orchestrator is the single entry point consumers talk to.
type Orchestrator struct {
	opts  Options
	store store.Store
	perms *permcache.Cache
	queue *syncqueue.Queue
	conn  *syncqueue.Connectivity
	bus   *util.EventBus

	mu               sync.Mutex
	user             *model.User
	pageInvalidators map[string][]func()

	cancel context.CancelFunc
}

// New wires the layers together. Start must be called to run the event
// loop, the periodic queue drain, and the janitor.
func New(opts Options) (*Orchestrator, error) {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 10 * time.Minute
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rules == nil {
		opts.Rules = permcache.DefaultRules()
	}
	if opts.Connectivity == nil {
		opts.Connectivity = syncqueue.NewConnectivity(true)
	}

	o := &Orchestrator{
		opts:             opts,
		conn:             opts.Connectivity,
		bus:              util.NewEventBus(),
		pageInvalidators: make(map[string][]func()),
	}

	if opts.DisableDurable {
		o.store = store.NewMemory(store.Options{DefaultTTL: opts.DefaultTTL, Now: opts.Now})
	} else if opts.Store != nil {
		o.store = opts.Store
	} else {
		o.store = store.NewMemory(store.Options{DefaultTTL: opts.DefaultTTL, Now: opts.Now})
	}

	if !opts.DisablePermissions {
		permOpts := opts.Permissions
		permOpts.Rules = opts.Rules
		permOpts.Now = opts.Now
		if permOpts.DefaultTTL <= 0 {
			permOpts.DefaultTTL = opts.DefaultTTL
		}
		o.perms = permcache.New(permOpts)
	}

	if !opts.DisableQueue {
		queueOpts := opts.Queue
		queueOpts.Mirror = o.store
		queueOpts.Now = opts.Now
		queueOpts.Notify = o.onQueueEvent
		queue, err := syncqueue.New(opts.Executor, o.conn, queueOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to build sync queue: %w", err)
		}
		o.queue = queue
	}

	return o, nil
}

// FromConfig builds an orchestrator from the viper-backed configuration,
// opening the durable store at the configured path.
func FromConfig(executor syncqueue.Executor, conn *syncqueue.Connectivity) (*Orchestrator, error) {
	cfg := configSnapshot()

	var s store.Store
	if cfg.Store.Enabled {
		bolt, err := store.NewBolt(cfg.Store.Path, store.Options{
			BudgetBytes:   cfg.Store.BudgetBytes,
			EntryCapRatio: cfg.Store.EntryCapRatio,
			DefaultTTL:    cfg.Store.DefaultTTL,
		})
		if err != nil {
			return nil, err
		}
		s = bolt
	}

	return New(Options{
		Store:              s,
		DisableDurable:     !cfg.Store.Enabled,
		DisablePermissions: !cfg.Permissions.Enabled,
		DisableQueue:       !cfg.Queue.Enabled,
		Executor:           executor,
		Connectivity:       conn,
		DefaultTTL:         cfg.Orchestrator.DefaultTTL,
		JanitorInterval:    cfg.Store.SweepInterval,
		Queue: syncqueue.Options{
			BatchSize:      cfg.Queue.BatchSize,
			MaxRetries:     cfg.Queue.MaxRetries,
			BaseRetryDelay: cfg.Queue.BaseRetryDelay,
			DrainInterval:  cfg.Queue.DrainInterval,
		},
		Permissions: permcache.Options{
			DefaultTTL:      cfg.Permissions.DefaultTTL,
			PressureRatio:   cfg.Permissions.PressureRatio,
			PressureEntries: cfg.Permissions.PressureEntries,
			ProfileMaxAge:   cfg.Permissions.ProfileMaxAge,
		},
	})
}

// Start runs the background machinery until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.bus.Start(ctx)
	if o.queue != nil {
		o.queue.Start(ctx)
	}
	go o.janitor(ctx)
}

func (o *Orchestrator) janitor(ctx context.Context) {
	ticker := time.NewTicker(o.opts.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := o.Cleanup(ctx); err != nil {
				logger.Error("Janitor sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// SetCurrentUser installs the active identity across all layers. Data
// scoped to a different previous user is purged before any read is served
// for the new one.
func (o *Orchestrator) SetCurrentUser(ctx context.Context, user *model.User) error {
	o.mu.Lock()
	prev := o.user
	o.user = user
	o.mu.Unlock()

	if prev != nil && (user == nil || user.ID != prev.ID) {
		if err := o.store.ClearScope(ctx, prev.ID); err != nil {
			logger.Error("Failed to purge previous user's scope",
				zap.String("userID", prev.ID), zap.Error(err))
		}
		if o.perms != nil {
			o.perms.InvalidateUser(prev.ID)
		}
		o.invalidatePages("")
	}

	if o.perms != nil {
		o.perms.SetUser(user)
	}
	if o.queue != nil {
		if user != nil {
			o.queue.SetOwner(user.ID)
		} else {
			o.queue.SetOwner("")
		}
	}

	if user != nil {
		logger.Info("Current user changed",
			zap.String("userID", user.ID),
			zap.String("role", string(user.Role)))
	} else {
		logger.Info("Current user cleared")
	}
	o.bus.Publish(ctx, "user.changed", user)
	return nil
}

// CurrentUser returns the active identity, or nil.
func (o *Orchestrator) CurrentUser() *model.User {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.user
}

// GetOptions carries per-call settings for Get.
type GetOptions struct {
	// Resource gates the call on the permission rules when set.
	Resource string

	// TTL overrides the default entry TTL.
	TTL time.Duration

	// Priority tags the permission-cache entry for pressure eviction.
	Priority model.Priority

	// ForceRefresh bypasses every cache layer and always fetches.
	ForceRefresh bool
}

// Get resolves key against the layers in order: permission cache, durable
// store, then the supplied fetcher, writing fresh data back through the
// stack. Read-path failures degrade to a fetch; only authorization and
// remote failures surface to the caller.
func (o *Orchestrator) Get(ctx context.Context, key string, fetcher Fetcher, opts GetOptions) (json.RawMessage, error) {
	if opts.Resource != "" && o.perms != nil && !o.perms.CanAccess(opts.Resource, "read") {
		return nil, fmt.Errorf("%w: resource %q", cache_errors.ErrAuthorizationDenied, opts.Resource)
	}

	storageKey := o.scopedKey(opts.Resource, key)

	if !opts.ForceRefresh {
		if o.perms != nil && opts.Resource != "" {
			if v, ok := o.perms.Get(storageKey, opts.Resource); ok {
				if raw, ok := v.(json.RawMessage); ok {
					return raw, nil
				}
			}
		}

		raw, ok, err := o.store.Get(ctx, storageKey)
		if err != nil {
			// Degrade to a fetch; the cache must not add failure modes.
			logger.Error("Durable read failed, falling through to fetch",
				zap.String("key", storageKey), zap.Error(err))
		} else if ok {
			o.writePermission(storageKey, raw, opts)
			return raw, nil
		}
	}

	data, err := fetcher(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cache_errors.ErrRemoteFetch, err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cache_errors.ErrInvalidCacheData, err)
	}

	o.writeThrough(ctx, storageKey, raw, opts)
	return raw, nil
}

func (o *Orchestrator) writeThrough(ctx context.Context, storageKey string, raw json.RawMessage, opts GetOptions) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = o.opts.DefaultTTL
	}

	err := o.store.Set(ctx, storageKey, raw, store.SetOptions{
		TTL:        ttl,
		OwnerScope: o.currentUserID(),
	})
	if err != nil {
		// Best effort: a failed cache write never blocks the data path.
		logger.Warn("Durable write-through failed",
			zap.String("key", storageKey), zap.Error(err))
	}

	o.writePermission(storageKey, raw, opts)
}

func (o *Orchestrator) writePermission(storageKey string, raw json.RawMessage, opts GetOptions) {
	if o.perms == nil || opts.Resource == "" {
		return
	}
	o.perms.Set(storageKey, raw, opts.Resource, permcache.SetOptions{
		TTL:      opts.TTL,
		Priority: opts.Priority,
	})
}

// InvalidateOptions selects the invalidation granularity.
type InvalidateOptions struct {
	// Resource clears every key under the resource instead of one key.
	Resource string

	// UserID restricts a resource-wide clear to one user's scope.
	UserID string

	// AllUsers clears cached data globally, every scope included.
	AllUsers bool
}

// Invalidate removes cached data at one of three granularities: a single
// key, a resource (optionally for one user), or everything. Invalidation is
// idempotent; clearing data that is already gone is a no-op.
func (o *Orchestrator) Invalidate(ctx context.Context, key string, opts InvalidateOptions) error {
	switch {
	case opts.AllUsers:
		if err := o.clearStoreData(ctx, func(string) bool { return true }); err != nil {
			return err
		}
		if o.perms != nil {
			o.perms.Clear()
		}
		o.invalidatePages("")
		logger.Info("Cache cleared for all users")

	case opts.Resource != "":
		resource := opts.Resource
		err := o.clearStoreData(ctx, func(k string) bool {
			parts := strings.SplitN(k, ":", 3)
			if len(parts) != 3 || parts[1] != resource {
				return false
			}
			return opts.UserID == "" || parts[0] == opts.UserID
		})
		if err != nil {
			return err
		}
		if o.perms != nil {
			o.perms.InvalidateResource(resource, opts.UserID)
		}
		o.invalidatePages(resource)
		logger.Debug("Resource invalidated",
			zap.String("resource", resource), zap.String("userID", opts.UserID))

	default:
		storageKey := o.scopedKey("", key)
		// A bare key may also have been stored under a resource segment;
		// match both spellings.
		err := o.clearStoreData(ctx, func(k string) bool {
			if k == storageKey {
				return true
			}
			parts := strings.SplitN(k, ":", 3)
			return len(parts) == 3 && parts[0] == o.currentUserID() && parts[2] == key
		})
		if err != nil {
			return err
		}
		if o.perms != nil {
			o.perms.Invalidate(storageKey)
			// The same key may be cached under any resource segment.
			for _, rule := range o.opts.Rules {
				o.perms.Invalidate(o.scopedKey(rule.Resource, key))
			}
		}
	}

	o.bus.Publish(ctx, "cache.invalidated", map[string]any{
		"key":      key,
		"resource": opts.Resource,
		"allUsers": opts.AllUsers,
	})
	return nil
}

// clearStoreData deletes matching data keys, always sparing the queue's
// mirrored operations.
func (o *Orchestrator) clearStoreData(ctx context.Context, match func(key string) bool) error {
	keys, err := o.store.Keys(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to enumerate cache keys: %w", err)
	}
	for _, k := range keys {
		if strings.HasPrefix(k, syncqueue.MirrorPrefix) {
			continue
		}
		if match(k) {
			if err := o.store.Delete(ctx, k); err != nil {
				logger.Warn("Failed to delete cache entry", zap.String("key", k), zap.Error(err))
			}
		}
	}
	return nil
}

// AddSyncOperation records a mutation intent. With the queue enabled it is
// drained opportunistically; with the queue disabled the executor runs
// inline. Affected cache entries are invalidated on completion either way.
func (o *Orchestrator) AddSyncOperation(ctx context.Context, opType model.OperationType, resource string, payload any, opts syncqueue.AddOptions) (string, error) {
	if o.perms != nil {
		action := actionFor(opType)
		if !o.perms.CanAccess(resource, action) {
			return "", fmt.Errorf("%w: %s on %q", cache_errors.ErrAuthorizationDenied, action, resource)
		}
	}

	if o.queue == nil {
		if o.opts.Executor == nil {
			return "", cache_errors.ErrNoExecutor
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("%w: %v", cache_errors.ErrInvalidOperationData, err)
		}
		op := model.SyncOperation{
			Type:     opType,
			Resource: resource,
			Payload:  raw,
			OwnerID:  o.currentUserID(),
			Status:   model.StatusProcessing,
		}
		if err := o.opts.Executor.Execute(ctx, op); err != nil {
			return "", fmt.Errorf("%w: %v", cache_errors.ErrRemoteFetch, err)
		}
		_ = o.Invalidate(ctx, "", InvalidateOptions{Resource: resource})
		return "", nil
	}

	return o.queue.AddOperation(ctx, opType, resource, payload, opts)
}

func actionFor(opType model.OperationType) string {
	switch opType {
	case model.OperationCreate:
		return "create"
	case model.OperationUpdate:
		return "update"
	default:
		return "delete"
	}
}

// onQueueEvent bridges queue lifecycle into the event bus and invalidates
// the affected resource when a mutation lands remotely.
func (o *Orchestrator) onQueueEvent(event string, op model.SyncOperation) {
	ctx := context.Background()
	if event == "sync.completed" && op.Resource != "" {
		if err := o.Invalidate(ctx, "", InvalidateOptions{Resource: op.Resource, UserID: op.OwnerID}); err != nil {
			logger.Error("Post-sync invalidation failed",
				zap.String("resource", op.Resource), zap.Error(err))
		}
	}
	o.bus.Publish(ctx, event, op)
}

// CancelSyncOperation cancels a still-pending operation.
func (o *Orchestrator) CancelSyncOperation(ctx context.Context, id string) error {
	if o.queue == nil {
		return cache_errors.ErrOperationNotFound
	}
	return o.queue.CancelOperation(ctx, id)
}

// RetrySyncOperation resets a terminal-failed operation.
func (o *Orchestrator) RetrySyncOperation(ctx context.Context, id string) error {
	if o.queue == nil {
		return cache_errors.ErrOperationNotFound
	}
	return o.queue.RetryOperation(ctx, id)
}

// ProcessPending forces a queue drain attempt.
func (o *Orchestrator) ProcessPending(ctx context.Context) error {
	if o.queue == nil {
		return nil
	}
	return o.queue.ProcessPending(ctx)
}

// AddListener subscribes to every cache state-change event and returns an
// unsubscribe handle.
func (o *Orchestrator) AddListener(handler util.EventHandler) func() {
	return o.bus.SubscribeAll(handler)
}

// GetStats aggregates the layers' counters.
func (o *Orchestrator) GetStats() model.Stats {
	stats := model.Stats{Store: o.store.Metrics()}
	if o.perms != nil {
		stats.Permissions = o.perms.Stats()
	}
	if o.queue != nil {
		stats.Queue = o.queue.Stats()
	}
	return stats
}

// Cleanup sweeps expired durable entries (queue mirrors included, they
// carry a TTL like any other entry), sweeps expired permission-cache
// entries, and sheds permission-cache pressure when the entry count is
// over its threshold. Intended for an external scheduler or debug panel;
// the janitor calls it periodically. Returns the number of expired
// entries removed.
func (o *Orchestrator) Cleanup(ctx context.Context) (int, error) {
	swept, err := o.store.Cleanup(ctx)
	if err != nil {
		return swept, err
	}
	if o.perms != nil {
		swept += o.perms.Sweep()
		o.perms.EvictIfPressured()
	}
	return swept, nil
}

// EvictUnderPressure asks the permission cache to shed its lowest-value
// entries, for hosts that react to memory pressure signals.
func (o *Orchestrator) EvictUnderPressure() int {
	if o.perms == nil {
		return 0
	}
	return o.perms.EvictUnderPressure()
}

// Destroy stops background work and closes the durable store.
func (o *Orchestrator) Destroy() error {
	if o.cancel != nil {
		o.cancel()
	}
	if o.queue != nil {
		o.queue.Stop()
	}
	return o.store.Close()
}

func (o *Orchestrator) currentUserID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.user == nil {
		return ""
	}
	return o.user.ID
}

// scopedKey namespaces a logical key by user and resource so scopes never
// collide inside the shared store.
func (o *Orchestrator) scopedKey(resource, key string) string {
	return o.currentUserID() + ":" + resource + ":" + key
}

// AttachPageCache builds a page cache for one collection and registers it
// for resource invalidation, so a completed mutation on the resource also
// drops its cached pages. Unset tunables fall back to the pages.*
// configuration keys.
func AttachPageCache[T any](o *Orchestrator, resource string, opts pagecache.Options[T]) *pagecache.Cache[T] {
	defaults := PageOptionsFromConfig[T]()
	if opts.PageSize <= 0 {
		opts.PageSize = defaults.PageSize
	}
	if opts.MaxCachedPages <= 0 {
		opts.MaxCachedPages = defaults.MaxCachedPages
	}
	if opts.TTL <= 0 {
		opts.TTL = defaults.TTL
	}

	c := pagecache.New(opts)

	o.mu.Lock()
	o.pageInvalidators[resource] = append(o.pageInvalidators[resource], func() { c.Invalidate() })
	o.mu.Unlock()

	return c
}

// invalidatePages fires the registered page invalidators; an empty resource
// fires all of them.
func (o *Orchestrator) invalidatePages(resource string) {
	o.mu.Lock()
	var fns []func()
	if resource == "" {
		for _, list := range o.pageInvalidators {
			fns = append(fns, list...)
		}
	} else {
		fns = append(fns, o.pageInvalidators[resource]...)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
