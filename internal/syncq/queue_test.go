package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"pos-resilience-backend/config"
	"pos-resilience-backend/internal/model"
)

// newSyncDB opens a private in-memory database per test.
func newSyncDB(t *testing.T, name string) *gorm.DB {
	dsn := fmt.Sprintf("file:syncq_%s?mode=memory&cache=shared", name)
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := testDB.DB()
		sqlDB.Close()
	})

	require.NoError(t, testDB.AutoMigrate(&model.OfflineMutation{}, &model.ConflictRecord{}))
	return testDB
}

type submission struct {
	ID    string
	Force bool
}

// fakeTransport records submissions and delegates to an injectable SubmitFunc.
type fakeTransport struct {
	mu         sync.Mutex
	healthy    bool
	submits    []submission
	SubmitFunc func(m *model.OfflineMutation, force bool) (*Conflict, error)
}

func (f *fakeTransport) Healthy(context.Context) bool { return f.healthy }

func (f *fakeTransport) Submit(_ context.Context, m *model.OfflineMutation, force bool) (*Conflict, error) {
	f.mu.Lock()
	f.submits = append(f.submits, submission{ID: m.ID, Force: force})
	f.mu.Unlock()
	if f.SubmitFunc != nil {
		return f.SubmitFunc(m, force)
	}
	return nil, nil
}

func (f *fakeTransport) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.submits))
	for i, s := range f.submits {
		ids[i] = s.ID
	}
	return ids
}

func newTestQueue(db *gorm.DB, transport Transport, strategy model.ResolutionStrategy) (*Queue, *Resolver) {
	resolver := NewResolver(db, transport, strategy)
	cfg := &config.SyncConfig{Enabled: true, Interval: 10 * time.Second, ConflictStrategy: string(strategy)}
	return NewQueue(db, transport, resolver, cfg), resolver
}

// seedMutation inserts a pending mutation with an explicit queue time.
func seedMutation(t *testing.T, db *gorm.DB, id string, queuedAt time.Time) *model.OfflineMutation {
	m := &model.OfflineMutation{
		ID:            id,
		Type:          "sale.create",
		Payload:       json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)),
		BaseTimestamp: queuedAt,
		QueuedAt:      queuedAt,
		SyncStatus:    model.SyncPending,
	}
	require.NoError(t, db.Create(m).Error)
	return m
}

func loadMutation(t *testing.T, db *gorm.DB, id string) model.OfflineMutation {
	var m model.OfflineMutation
	require.NoError(t, db.First(&m, "id = ?", id).Error)
	return m
}

func TestQueue_EnqueueIsLocalOnly(t *testing.T) {
	db := newSyncDB(t, "enqueue")
	// A transport that always fails: enqueueing must not care.
	transport := &fakeTransport{SubmitFunc: func(*model.OfflineMutation, bool) (*Conflict, error) {
		return nil, errors.New("network down")
	}}
	queue, _ := newTestQueue(db, transport, model.StrategyLastWriteWins)

	before := time.Now().UTC()
	m, err := queue.Enqueue(context.Background(), "sale.create", json.RawMessage(`{"total":10}`), time.Time{})
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, model.SyncPending, m.SyncStatus)
	assert.False(t, m.BaseTimestamp.Before(before), "zero base timestamp defaults to enqueue time")
	assert.Empty(t, transport.order(), "enqueue never touches the network")
}

func TestQueue_SyncAllFIFOWithPartialFailure(t *testing.T) {
	db := newSyncDB(t, "fifo")
	now := time.Now().UTC()
	seedMutation(t, db, "mut-a", now.Add(-3*time.Minute))
	seedMutation(t, db, "mut-b", now.Add(-2*time.Minute))
	seedMutation(t, db, "mut-c", now.Add(-1*time.Minute))

	transport := &fakeTransport{SubmitFunc: func(m *model.OfflineMutation, _ bool) (*Conflict, error) {
		if m.ID == "mut-b" {
			return nil, errors.New("connection reset")
		}
		return nil, nil
	}}
	queue, _ := newTestQueue(db, transport, model.StrategyLastWriteWins)

	res, err := queue.SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"mut-a", "mut-b", "mut-c"}, transport.order(), "oldest first, and one failure never aborts the batch")
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 1, res.Failed)

	assert.Equal(t, model.SyncSynced, loadMutation(t, db, "mut-a").SyncStatus)
	assert.Equal(t, model.SyncSynced, loadMutation(t, db, "mut-c").SyncStatus)

	failed := loadMutation(t, db, "mut-b")
	assert.Equal(t, model.SyncFailed, failed.SyncStatus)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Contains(t, failed.ErrorMessage, "connection reset")
}

func TestQueue_RepeatedFailuresAccumulateRetries(t *testing.T) {
	db := newSyncDB(t, "retries")
	seedMutation(t, db, "mut-x", time.Now().UTC())

	transport := &fakeTransport{SubmitFunc: func(*model.OfflineMutation, bool) (*Conflict, error) {
		return nil, errors.New("timeout")
	}}
	queue, _ := newTestQueue(db, transport, model.StrategyLastWriteWins)
	ctx := context.Background()

	_, err := queue.SyncAll(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Model(&model.OfflineMutation{}).Where("id = ?", "mut-x").
		Update("sync_status", model.SyncPending).Error)
	_, err = queue.SyncAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, loadMutation(t, db, "mut-x").RetryCount)
}

func TestQueue_Retry(t *testing.T) {
	db := newSyncDB(t, "retry")
	m := seedMutation(t, db, "mut-r", time.Now().UTC())
	require.NoError(t, db.Model(m).Updates(map[string]interface{}{
		"sync_status":   model.SyncFailed,
		"error_message": "timeout",
		"retry_count":   1,
	}).Error)

	transport := &fakeTransport{}
	queue, _ := newTestQueue(db, transport, model.StrategyLastWriteWins)

	require.NoError(t, queue.Retry(context.Background(), "mut-r"))

	got := loadMutation(t, db, "mut-r")
	assert.Equal(t, model.SyncSynced, got.SyncStatus)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 1, got.RetryCount, "a successful retry does not bump the counter")
}

func TestQueue_RetryOnlyFailed(t *testing.T) {
	db := newSyncDB(t, "retryonlyfailed")
	m := seedMutation(t, db, "mut-s", time.Now().UTC())
	require.NoError(t, db.Model(m).Update("sync_status", model.SyncSynced).Error)

	queue, _ := newTestQueue(db, &fakeTransport{}, model.StrategyLastWriteWins)
	ctx := context.Background()

	err := queue.Retry(ctx, "mut-s")
	assert.Error(t, err)

	err = queue.Retry(ctx, "no-such-id")
	assert.ErrorIs(t, err, ErrMutationNotFound)
}

func TestQueue_Discard(t *testing.T) {
	db := newSyncDB(t, "discard")
	seedMutation(t, db, "mut-d", time.Now().UTC())

	queue, _ := newTestQueue(db, &fakeTransport{}, model.StrategyLastWriteWins)
	ctx := context.Background()

	require.NoError(t, queue.Discard(ctx, "mut-d"))

	var count int64
	db.Model(&model.OfflineMutation{}).Count(&count)
	assert.Equal(t, int64(0), count)

	assert.ErrorIs(t, queue.Discard(ctx, "mut-d"), ErrMutationNotFound)
}

func TestQueue_ConflictDeferredDoesNotCountRetry(t *testing.T) {
	db := newSyncDB(t, "deferred")
	seedMutation(t, db, "mut-m", time.Now().UTC())

	transport := &fakeTransport{SubmitFunc: func(*model.OfflineMutation, bool) (*Conflict, error) {
		return &Conflict{
			TableName:       "sales",
			RecordID:        "42",
			RemoteData:      json.RawMessage(`{"total":20}`),
			RemoteTimestamp: time.Now().UTC(),
		}, nil
	}}
	queue, _ := newTestQueue(db, transport, model.StrategyManual)

	res, err := queue.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 1, res.Failed)

	got := loadMutation(t, db, "mut-m")
	assert.Equal(t, model.SyncFailed, got.SyncStatus)
	assert.Equal(t, 0, got.RetryCount, "waiting on a human is not a transmission failure")
	assert.Contains(t, got.ErrorMessage, "manual resolution")

	var conflicts int64
	db.Model(&model.ConflictRecord{}).Where("resolved = ?", false).Count(&conflicts)
	assert.Equal(t, int64(1), conflicts)
}

func TestQueue_Summary(t *testing.T) {
	db := newSyncDB(t, "summary")
	now := time.Now().UTC()
	statuses := []model.SyncStatus{
		model.SyncPending, model.SyncPending, model.SyncSynced,
		model.SyncFailed, model.SyncSuperseded,
	}
	for i, status := range statuses {
		m := seedMutation(t, db, fmt.Sprintf("mut-%d", i), now.Add(time.Duration(i)*time.Second))
		require.NoError(t, db.Model(m).Update("sync_status", status).Error)
	}
	require.NoError(t, db.Create(&model.ConflictRecord{
		ID:         uuid.NewString(),
		MutationID: "mut-3",
		TableName:  "sales",
		RecordID:   "1",
		Strategy:   model.StrategyManual,
	}).Error)

	queue, _ := newTestQueue(db, &fakeTransport{}, model.StrategyManual)

	summary, err := queue.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{
		Pending:             2,
		Synced:              1,
		Failed:              1,
		Superseded:          1,
		UnresolvedConflicts: 1,
	}, summary)
}

func TestQueue_MutationsFilter(t *testing.T) {
	db := newSyncDB(t, "filter")
	now := time.Now().UTC()
	seedMutation(t, db, "mut-p1", now.Add(-time.Minute))
	m := seedMutation(t, db, "mut-f1", now)
	require.NoError(t, db.Model(m).Update("sync_status", model.SyncFailed).Error)

	queue, _ := newTestQueue(db, &fakeTransport{}, model.StrategyManual)
	ctx := context.Background()

	all, err := queue.Mutations(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "mut-f1", all[0].ID, "newest first")

	failed, err := queue.Mutations(ctx, model.SyncFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "mut-f1", failed[0].ID)
}
