package syncq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pos-resilience-backend/config"
	"pos-resilience-backend/internal/model"
)

// ErrMutationNotFound is returned for retry/discard of an unknown mutation id.
var ErrMutationNotFound = errors.New("offline mutation not found")

// Result tallies one SyncAll run.
type Result struct {
	Synced     int `json:"synced"`
	Failed     int `json:"failed"`
	Superseded int `json:"superseded"`
	Conflicts  int `json:"conflicts"`
}

// Summary is the queue state exposed to the UI sync indicator.
type Summary struct {
	Pending             int64 `json:"pending"`
	Syncing             int64 `json:"syncing"`
	Synced              int64 `json:"synced"`
	Failed              int64 `json:"failed"`
	Superseded          int64 `json:"superseded"`
	UnresolvedConflicts int64 `json:"unresolved_conflicts"`
}

// Queue records local mutations while disconnected and drives their
// transmission to the remote store. Mutations are processed strictly in FIFO
// order by queue time, so edits to the same record are never reordered.
type Queue struct {
	db        *gorm.DB
	transport Transport
	resolver  *Resolver
	cfg       *config.SyncConfig

	// mu serializes sync runs; enqueueing never blocks on a running sync.
	mu sync.Mutex
}

// NewQueue creates a mutation queue.
func NewQueue(db *gorm.DB, transport Transport, resolver *Resolver, cfg *config.SyncConfig) *Queue {
	return &Queue{db: db, transport: transport, resolver: resolver, cfg: cfg}
}

// Enqueue appends a mutation with status pending. It only touches the local
// store and therefore succeeds with no connectivity.
func (q *Queue) Enqueue(ctx context.Context, typ string, payload []byte, base time.Time) (*model.OfflineMutation, error) {
	if base.IsZero() {
		base = time.Now().UTC()
	}
	m := &model.OfflineMutation{
		ID:            uuid.NewString(),
		Type:          typ,
		Payload:       payload,
		BaseTimestamp: base,
		QueuedAt:      time.Now().UTC(),
		SyncStatus:    model.SyncPending,
	}
	if err := q.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue mutation %s: %w", typ, err)
	}
	return m, nil
}

// SyncAll transmits every pending mutation, oldest first. A failure on one
// mutation never aborts the batch; each entry ends up synced, superseded or
// failed with an error message.
func (q *Queue) SyncAll(ctx context.Context) (Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []model.OfflineMutation
	err := q.db.WithContext(ctx).
		Where("sync_status = ?", model.SyncPending).
		Order("queued_at ASC").
		Find(&pending).Error
	if err != nil {
		return Result{}, fmt.Errorf("failed to list pending mutations: %w", err)
	}

	var res Result
	for i := range pending {
		q.syncOne(ctx, &pending[i], &res)
	}
	if res.Synced+res.Failed+res.Superseded > 0 {
		log.Printf("syncq: run finished: %d synced, %d failed, %d superseded, %d conflicts",
			res.Synced, res.Failed, res.Superseded, res.Conflicts)
	}
	return res, nil
}

func (q *Queue) syncOne(ctx context.Context, m *model.OfflineMutation, res *Result) {
	if err := q.setStatus(ctx, m.ID, model.SyncSyncing); err != nil {
		log.Printf("syncq: failed to mark %s syncing: %v", m.ID, err)
	}

	conflict, err := q.transport.Submit(ctx, m, false)
	if err != nil {
		q.markFailed(ctx, m.ID, err.Error(), true)
		res.Failed++
		return
	}

	if conflict == nil {
		if err := q.setStatus(ctx, m.ID, model.SyncSynced); err != nil {
			log.Printf("syncq: failed to mark %s synced: %v", m.ID, err)
		}
		res.Synced++
		return
	}

	res.Conflicts++
	outcome, err := q.resolver.Resolve(ctx, m, conflict)
	if err != nil {
		q.markFailed(ctx, m.ID, fmt.Sprintf("conflict resolution failed: %v", err), false)
		res.Failed++
		return
	}
	switch outcome {
	case OutcomeSuperseded:
		if err := q.setStatus(ctx, m.ID, model.SyncSuperseded); err != nil {
			log.Printf("syncq: failed to mark %s superseded: %v", m.ID, err)
		}
		res.Superseded++
	case OutcomeResubmitted:
		if err := q.setStatus(ctx, m.ID, model.SyncSynced); err != nil {
			log.Printf("syncq: failed to mark %s synced: %v", m.ID, err)
		}
		res.Synced++
	case OutcomeDeferred:
		// Parked until a manual resolution picks a side. Not a transmission
		// failure, so the retry counter stays put.
		q.markFailed(ctx, m.ID, "conflict awaiting manual resolution", false)
		res.Failed++
	}
}

func (q *Queue) setStatus(ctx context.Context, id string, status model.SyncStatus) error {
	updates := map[string]interface{}{"sync_status": status, "updated_at": time.Now().UTC()}
	if status == model.SyncSynced || status == model.SyncSuperseded {
		updates["error_message"] = ""
	}
	return q.db.WithContext(ctx).Model(&model.OfflineMutation{}).
		Where("id = ?", id).Updates(updates).Error
}

func (q *Queue) markFailed(ctx context.Context, id, msg string, countRetry bool) {
	updates := map[string]interface{}{
		"sync_status":   model.SyncFailed,
		"error_message": msg,
		"updated_at":    time.Now().UTC(),
	}
	if countRetry {
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	}
	err := q.db.WithContext(ctx).Model(&model.OfflineMutation{}).
		Where("id = ?", id).Updates(updates).Error
	if err != nil {
		log.Printf("syncq: failed to mark %s failed: %v", id, err)
	}
}

// Retry resets a single failed mutation to pending and syncs it immediately.
func (q *Queue) Retry(ctx context.Context, id string) error {
	var m model.OfflineMutation
	err := q.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMutationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load mutation %s: %w", id, err)
	}
	if m.SyncStatus != model.SyncFailed {
		return fmt.Errorf("mutation %s is %s, only failed mutations can be retried", id, m.SyncStatus)
	}

	if err := q.setStatus(ctx, id, model.SyncPending); err != nil {
		return fmt.Errorf("failed to reset mutation %s: %w", id, err)
	}
	m.SyncStatus = model.SyncPending

	q.mu.Lock()
	defer q.mu.Unlock()
	var res Result
	q.syncOne(ctx, &m, &res)
	return nil
}

// Discard permanently removes a mutation. Destructive; the call site is
// expected to have confirmed with the user.
func (q *Queue) Discard(ctx context.Context, id string) error {
	res := q.db.WithContext(ctx).Delete(&model.OfflineMutation{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to discard mutation %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMutationNotFound
	}
	return nil
}

// Mutations lists queue entries, optionally filtered by status, newest first.
func (q *Queue) Mutations(ctx context.Context, status model.SyncStatus) ([]model.OfflineMutation, error) {
	var ms []model.OfflineMutation
	query := q.db.WithContext(ctx).Order("queued_at DESC")
	if status != "" {
		query = query.Where("sync_status = ?", status)
	}
	if err := query.Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	return ms, nil
}

// Summary returns the per-status counts plus the unresolved conflict count.
func (q *Queue) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	type row struct {
		SyncStatus model.SyncStatus
		N          int64
	}
	var rows []row
	err := q.db.WithContext(ctx).Model(&model.OfflineMutation{}).
		Select("sync_status, COUNT(*) as n").
		Group("sync_status").
		Scan(&rows).Error
	if err != nil {
		return s, fmt.Errorf("failed to summarize queue: %w", err)
	}
	for _, r := range rows {
		switch r.SyncStatus {
		case model.SyncPending:
			s.Pending = r.N
		case model.SyncSyncing:
			s.Syncing = r.N
		case model.SyncSynced:
			s.Synced = r.N
		case model.SyncFailed:
			s.Failed = r.N
		case model.SyncSuperseded:
			s.Superseded = r.N
		}
	}

	err = q.db.WithContext(ctx).Model(&model.ConflictRecord{}).
		Where("resolved = ?", false).
		Count(&s.UnresolvedConflicts).Error
	if err != nil {
		return s, fmt.Errorf("failed to count unresolved conflicts: %w", err)
	}
	return s, nil
}

// Run drives periodic background sync: every tick, if the queue has pending
// work and the remote reports healthy, a full sync runs. Cancelled via ctx.
func (q *Queue) Run(ctx context.Context) {
	if !q.cfg.Enabled {
		log.Println("syncq: background sync is disabled")
		return
	}
	log.Println("syncq: background sync started")

	timer := time.NewTimer(q.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("syncq: background sync stopped")
			return
		case <-timer.C:
			q.tick(ctx)
			timer.Reset(q.cfg.Interval)
		}
	}
}

func (q *Queue) tick(ctx context.Context) {
	var pending int64
	err := q.db.WithContext(ctx).Model(&model.OfflineMutation{}).
		Where("sync_status = ?", model.SyncPending).
		Count(&pending).Error
	if err != nil {
		log.Printf("syncq: failed to count pending mutations: %v", err)
		return
	}
	if pending == 0 {
		return
	}
	if !q.transport.Healthy(ctx) {
		return
	}
	if _, err := q.SyncAll(ctx); err != nil {
		log.Printf("syncq: background sync failed: %v", err)
	}
}
