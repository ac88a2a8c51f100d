// syncqueue/queue.go

// Package syncqueue records create/update/delete intents while the remote is
// unreachable and drains them in priority order with retry and backoff.
// Every operation is mirrored to the durable store on enqueue, so an abrupt
// reload replays exactly the still-pending set.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cache_errors "github.com/vagasapp/cachecore/errors"
	logger "github.com/vagasapp/cachecore/logging"
	"github.com/vagasapp/cachecore/metrics"
	"github.com/vagasapp/cachecore/model"
	"github.com/vagasapp/cachecore/store"
)

// Executor performs one queued mutation against the remote. Supplied by the
// host; the queue never knows the transport.
type Executor interface {
	Execute(ctx context.Context, op model.SyncOperation) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, op model.SyncOperation) error

func (f ExecutorFunc) Execute(ctx context.Context, op model.SyncOperation) error {
	return f(ctx, op)
}

// MirrorPrefix namespaces queue entries inside the shared durable store.
const MirrorPrefix = "syncq:"

// mirrorTTL keeps mirrored operations alive across long offline periods.
const mirrorTTL = 7 * 24 * time.Hour

// Options configures the queue.
type Options struct {
	// BatchSize bounds how many operations execute concurrently within
	// one drain batch. Zero means 5.
	BatchSize int

	// MaxRetries is the total number of execution attempts before an
	// operation goes terminal-failed. Zero means 3.
	MaxRetries int

	// BaseRetryDelay is multiplied by the retry count for backoff.
	// Zero means 5 seconds.
	BaseRetryDelay time.Duration

	// DrainInterval is the safety-net timer period. Zero means 30s.
	DrainInterval time.Duration

	// Mirror is the durable store the queue persists into. Nil disables
	// mirroring (operations then live only in memory).
	Mirror store.Store

	// Notify, when set, receives queue lifecycle events: "sync.enqueued",
	// "sync.completed", "sync.failed", "queue.drained".
	Notify func(event string, op model.SyncOperation)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// drainState makes the single-in-flight drain contract explicit.
type drainState int

const (
	drainIdle drainState = iota
	drainRunning
)

// Queue is the offline operation queue.
type Queue struct {
	opts     Options
	executor Executor
	conn     *Connectivity

	mu        sync.Mutex
	ops       map[string]*model.SyncOperation
	state     drainState
	ownerID   string
	completed int

	unsubscribe func()
}

// New builds the queue, replays the mirrored operations from the durable
// store, and subscribes to connectivity changes so going online triggers an
// immediate drain.
func New(executor Executor, conn *Connectivity, opts Options) (*Queue, error) {
	if executor == nil {
		return nil, cache_errors.ErrNoExecutor
	}
	metrics.Init()
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseRetryDelay <= 0 {
		opts.BaseRetryDelay = 5 * time.Second
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	q := &Queue{
		opts:     opts,
		executor: executor,
		conn:     conn,
		ops:      make(map[string]*model.SyncOperation),
	}

	if err := q.restore(context.Background()); err != nil {
		return nil, err
	}

	if conn != nil {
		q.unsubscribe = conn.OnChange(func(online bool) {
			// Going offline only stops new drains; in-flight work runs on.
			if online {
				go func() {
					if err := q.ProcessPending(context.Background()); err != nil {
						logger.Error("Drain on reconnect failed", zap.Error(err))
					}
				}()
			}
		})
	}

	return q, nil
}

// restore replays the mirrored operations. Operations caught mid-processing
// by the previous shutdown go back to pending.
func (q *Queue) restore(ctx context.Context) error {
	if q.opts.Mirror == nil {
		return nil
	}

	keys, err := q.opts.Mirror.Keys(ctx, MirrorPrefix)
	if err != nil {
		return fmt.Errorf("failed to list mirrored operations: %w", err)
	}

	for _, key := range keys {
		raw, ok, err := q.opts.Mirror.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var op model.SyncOperation
		if err := json.Unmarshal(raw, &op); err != nil {
			logger.Warn("Dropping undecodable mirrored operation",
				zap.String("key", key), zap.Error(err))
			_ = q.opts.Mirror.Delete(ctx, key)
			continue
		}
		if op.Status == model.StatusProcessing {
			op.Status = model.StatusPending
		}
		q.ops[op.ID] = &op
	}

	if len(q.ops) > 0 {
		logger.Info("Restored mirrored sync operations", zap.Int("count", len(q.ops)))
	}
	q.updateDepthGauge()
	return nil
}

// Start runs the periodic drain timer until ctx is cancelled. The timer is
// a safety net independent of the online event firing correctly.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(q.opts.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if q.conn != nil && !q.conn.Online() {
					continue
				}
				if q.Stats().Pending == 0 {
					continue
				}
				if err := q.ProcessPending(ctx); err != nil {
					logger.Error("Periodic drain failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes from connectivity changes.
func (q *Queue) Stop() {
	if q.unsubscribe != nil {
		q.unsubscribe()
	}
}

// SetOwner installs the current user identity. Operations recorded for a
// different previous owner are dropped so they never execute on behalf of
// the wrong user.
func (q *Queue) SetOwner(ownerID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ownerID = ownerID
	for id, op := range q.ops {
		if op.OwnerID != ownerID && op.Status != model.StatusProcessing {
			delete(q.ops, id)
			if q.opts.Mirror != nil {
				_ = q.opts.Mirror.Delete(context.Background(), MirrorPrefix+id)
			}
		}
	}
	q.updateDepthGaugeLocked()
}

// AddOptions carries per-operation settings.
type AddOptions struct {
	Priority   model.OperationPriority
	MaxRetries int
}

// AddOperation enqueues a mutation intent, mirrors it durably, and kicks
// off an immediate drain when already online.
func (q *Queue) AddOperation(ctx context.Context, opType model.OperationType, resource string, payload any, opts AddOptions) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", cache_errors.ErrInvalidOperationData, err)
	}

	if opts.Priority == "" {
		opts.Priority = model.PriorityMedium
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = q.opts.MaxRetries
	}

	q.mu.Lock()
	op := &model.SyncOperation{
		ID:         uuid.New().String(),
		Type:       opType,
		Resource:   resource,
		Payload:    raw,
		OwnerID:    q.ownerID,
		Priority:   opts.Priority,
		Status:     model.StatusPending,
		MaxRetries: opts.MaxRetries,
		CreatedAt:  q.opts.Now(),
	}
	q.ops[op.ID] = op
	q.mirrorLocked(ctx, op)
	q.updateDepthGaugeLocked()
	snapshot := *op
	q.mu.Unlock()

	logger.Info("Sync operation enqueued",
		zap.String("operationID", op.ID),
		zap.String("type", string(opType)),
		zap.String("resource", resource),
		zap.String("priority", string(opts.Priority)))
	q.notify("sync.enqueued", snapshot)

	if q.conn != nil && q.conn.Online() {
		go func() {
			if err := q.ProcessPending(context.Background()); err != nil {
				logger.Error("Opportunistic drain failed", zap.Error(err))
			}
		}()
	}
	return op.ID, nil
}

func (q *Queue) mirrorLocked(ctx context.Context, op *model.SyncOperation) {
	if q.opts.Mirror == nil {
		return
	}
	err := q.opts.Mirror.Set(ctx, MirrorPrefix+op.ID, op, store.SetOptions{
		TTL:        mirrorTTL,
		OwnerScope: op.OwnerID,
	})
	if err != nil {
		// Mirroring is best-effort; the in-memory queue still drains.
		logger.Error("Failed to mirror sync operation",
			zap.String("operationID", op.ID), zap.Error(err))
	}
}

func (q *Queue) unmirrorLocked(ctx context.Context, id string) {
	if q.opts.Mirror == nil {
		return
	}
	if err := q.opts.Mirror.Delete(ctx, MirrorPrefix+id); err != nil {
		logger.Error("Failed to remove mirrored sync operation",
			zap.String("operationID", id), zap.Error(err))
	}
}

// ProcessPending drains the ready pending operations: sorted by priority
// then arrival, split into fixed-size batches executed sequentially, with
// the operations inside a batch running concurrently and independently.
// A no-op while offline or while another drain is in flight.
func (q *Queue) ProcessPending(ctx context.Context) error {
	if q.conn != nil && !q.conn.Online() {
		return nil
	}

	q.mu.Lock()
	if q.state == drainRunning {
		q.mu.Unlock()
		return nil
	}
	q.state = drainRunning
	q.mu.Unlock()

	start := time.Now()
	defer func() {
		q.mu.Lock()
		q.state = drainIdle
		q.mu.Unlock()
		metrics.ObserveDrain(start)
	}()

	ready := q.takeReady()
	if len(ready) == 0 {
		return nil
	}

	logger.Info("Draining sync queue", zap.Int("operations", len(ready)))
	for i := 0; i < len(ready); i += q.opts.BatchSize {
		end := i + q.opts.BatchSize
		if end > len(ready) {
			end = len(ready)
		}
		q.runBatch(ctx, ready[i:end])
	}

	q.notify("queue.drained", model.SyncOperation{})
	return nil
}

// takeReady snapshots the pending operations whose backoff has elapsed and
// marks them processing.
func (q *Queue) takeReady() []*model.SyncOperation {
	now := q.opts.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*model.SyncOperation
	for _, op := range q.ops {
		if op.Status != model.StatusPending {
			continue
		}
		if !op.NextRetryAt.IsZero() && op.NextRetryAt.After(now) {
			continue
		}
		op.Status = model.StatusProcessing
		ready = append(ready, op)
	}
	sort.Slice(ready, func(i, j int) bool {
		ri, rj := ready[i].Priority.Rank(), ready[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	return ready
}

// runBatch executes one batch concurrently. One operation's failure never
// aborts its siblings.
func (q *Queue) runBatch(ctx context.Context, batch []*model.SyncOperation) {
	var wg sync.WaitGroup
	for _, op := range batch {
		wg.Add(1)
		go func(op *model.SyncOperation) {
			defer wg.Done()
			q.execute(ctx, op)
		}(op)
	}
	wg.Wait()
}

func (q *Queue) execute(ctx context.Context, op *model.SyncOperation) {
	q.mu.Lock()
	snapshot := *op
	q.mu.Unlock()

	err := q.executor.Execute(ctx, snapshot)

	q.mu.Lock()
	if err == nil {
		delete(q.ops, op.ID)
		q.completed++
		q.unmirrorLocked(ctx, op.ID)
		q.updateDepthGaugeLocked()
		done := *op
		done.Status = model.StatusCompleted
		q.mu.Unlock()

		logger.Info("Sync operation completed", zap.String("operationID", op.ID))
		q.notify("sync.completed", done)
		return
	}

	op.RetryCount++
	op.LastError = err.Error()
	if op.RetryCount >= op.MaxRetries {
		op.Status = model.StatusFailed
		q.mirrorLocked(ctx, op)
		failed := *op
		q.updateDepthGaugeLocked()
		q.mu.Unlock()

		logger.Error("Sync operation failed permanently",
			zap.String("operationID", op.ID),
			zap.Int("attempts", failed.RetryCount),
			zap.Error(err))
		q.notify("sync.failed", failed)
		return
	}

	op.Status = model.StatusPending
	op.NextRetryAt = q.opts.Now().Add(q.opts.BaseRetryDelay * time.Duration(op.RetryCount))
	q.mirrorLocked(ctx, op)
	q.mu.Unlock()

	logger.Warn("Sync operation failed, retry scheduled",
		zap.String("operationID", op.ID),
		zap.Int("retryCount", op.RetryCount),
		zap.Error(err))
}

// CancelOperation removes a pending operation before it starts processing.
func (q *Queue) CancelOperation(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[id]
	if !ok {
		return cache_errors.ErrOperationNotFound
	}
	if op.Status != model.StatusPending {
		return cache_errors.ErrOperationNotPending
	}
	delete(q.ops, id)
	q.unmirrorLocked(ctx, id)
	q.updateDepthGaugeLocked()

	logger.Info("Sync operation cancelled", zap.String("operationID", id))
	return nil
}

// RetryOperation resets a terminal-failed operation back to pending.
func (q *Queue) RetryOperation(ctx context.Context, id string) error {
	q.mu.Lock()

	op, ok := q.ops[id]
	if !ok {
		q.mu.Unlock()
		return cache_errors.ErrOperationNotFound
	}
	if op.Status != model.StatusFailed {
		q.mu.Unlock()
		return cache_errors.ErrOperationNotFailed
	}
	op.Status = model.StatusPending
	op.RetryCount = 0
	op.NextRetryAt = time.Time{}
	op.LastError = ""
	q.mirrorLocked(ctx, op)
	q.updateDepthGaugeLocked()
	q.mu.Unlock()

	logger.Info("Sync operation reset for retry", zap.String("operationID", id))

	if q.conn == nil || q.conn.Online() {
		return q.ProcessPending(ctx)
	}
	return nil
}

// Operation returns a snapshot of one operation.
func (q *Queue) Operation(id string) (model.SyncOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.ops[id]
	if !ok {
		return model.SyncOperation{}, false
	}
	return *op, true
}

// Operations returns a snapshot of all live operations.
func (q *Queue) Operations() []model.SyncOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.SyncOperation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, *op)
	}
	return out
}

// Stats reports live counts by status plus completions since start.
func (q *Queue) Stats() model.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := model.QueueStats{Completed: q.completed}
	for _, op := range q.ops {
		stats.Total++
		switch op.Status {
		case model.StatusPending:
			stats.Pending++
		case model.StatusProcessing:
			stats.Processing++
		case model.StatusFailed:
			stats.Failed++
		}
	}
	stats.Total += q.completed
	return stats
}

func (q *Queue) notify(event string, op model.SyncOperation) {
	if q.opts.Notify != nil {
		q.opts.Notify(event, op)
	}
}

func (q *Queue) updateDepthGauge() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updateDepthGaugeLocked()
}

func (q *Queue) updateDepthGaugeLocked() {
	var pending int
	for _, op := range q.ops {
		if op.Status == model.StatusPending {
			pending++
		}
	}
	metrics.QueueDepth.Set(float64(pending))
}
