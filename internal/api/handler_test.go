package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"pos-resilience-backend/config"
	"pos-resilience-backend/internal/model"
	"pos-resilience-backend/internal/power"
	"pos-resilience-backend/internal/recovery"
	"pos-resilience-backend/internal/syncq"
)

// stubSource serves a fixed reading controlled by the test.
type stubSource struct {
	reading power.Reading
}

func (s *stubSource) Status(context.Context) (power.Reading, error) {
	return s.reading, nil
}

type testEnv struct {
	router  *gin.Engine
	db      *gorm.DB
	monitor *power.Monitor
	source  *stubSource
}

func newTestEnv(t *testing.T, name string) *testEnv {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name)
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := testDB.DB()
		sqlDB.Close()
	})
	require.NoError(t, testDB.AutoMigrate(
		&model.PowerEvent{}, &model.TransactionSnapshot{},
		&model.OfflineMutation{}, &model.ConflictRecord{},
		&model.PushSubscription{},
	))

	powerCfg := &config.PowerConfig{
		TerminalID:               "TEST-001",
		Interval:                 30 * time.Second,
		LowBatteryThreshold:      20,
		CriticalBatteryThreshold: 10,
	}
	source := &stubSource{reading: power.Reading{Status: power.StatusOnline, BatteryLevel: 90}}
	events := power.NewEventStore(testDB)
	monitor := power.NewMonitor(powerCfg, source, events, nil)
	monitor.RefreshStatus(context.Background())

	saver := recovery.NewAutoSaver(recovery.NewGormStore(testDB), powerCfg.TerminalID, 48*time.Hour)
	t.Cleanup(saver.StopAutoSave)

	syncCfg := &config.SyncConfig{Enabled: true, Interval: 10 * time.Second}
	transport := &acceptAllTransport{}
	resolver := syncq.NewResolver(testDB, transport, model.StrategyLastWriteWins)
	queue := syncq.NewQueue(testDB, transport, resolver, syncCfg)

	router := NewRouter(&config.ServerConfig{Port: 0}, Deps{
		TerminalID: powerCfg.TerminalID,
		Monitor:    monitor,
		Events:     events,
		Recovery:   recovery.NewGormStore(testDB),
		AutoSaver:  saver,
		Queue:      queue,
		Resolver:   resolver,
		DB:         testDB,
	})

	return &testEnv{router: router, db: testDB, monitor: monitor, source: source}
}

// acceptAllTransport accepts every submission without conflict.
type acceptAllTransport struct{}

func (acceptAllTransport) Healthy(context.Context) bool { return true }

func (acceptAllTransport) Submit(context.Context, *model.OfflineMutation, bool) (*syncq.Conflict, error) {
	return nil, nil
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestGetPowerStatus(t *testing.T) {
	env := newTestEnv(t, "powerstatus")

	w := env.request(t, http.MethodGet, "/api/power/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "online", resp["status"])
	assert.Equal(t, float64(90), resp["battery_level"])
	assert.Equal(t, false, resp["safe_mode"])
	assert.Equal(t, false, resp["monitoring"])
}

func TestStartSessionBlockedInSafeMode(t *testing.T) {
	env := newTestEnv(t, "safemode")

	env.source.reading = power.Reading{Status: power.StatusOnBattery, BatteryLevel: 5}
	env.monitor.RefreshStatus(context.Background())

	w := env.request(t, http.MethodPost, "/api/transaction/session/start", gin.H{
		"transaction_type": "sale",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "safe mode")

	// Power comes back: the gate reopens.
	env.source.reading = power.Reading{Status: power.StatusOnline, BatteryLevel: 90}
	env.monitor.RefreshStatus(context.Background())

	w = env.request(t, http.MethodPost, "/api/transaction/session/start", gin.H{
		"transaction_type": "sale",
	})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestStartSessionValidation(t *testing.T) {
	env := newTestEnv(t, "sessionvalidation")

	w := env.request(t, http.MethodPost, "/api/transaction/session/start", gin.H{
		"transaction_type": "raffle",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAutoSaveRejectsStaleSession(t *testing.T) {
	env := newTestEnv(t, "stalesession")

	w := env.request(t, http.MethodPost, "/api/transaction/session/start", gin.H{
		"session_id":       "sess-current",
		"transaction_type": "sale",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.request(t, http.MethodPost, "/api/transaction/autosave", gin.H{
		"session_id":       "sess-stale",
		"transaction_data": gin.H{"items": 1},
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.request(t, http.MethodPost, "/api/transaction/autosave", gin.H{
		"session_id":       "sess-current",
		"transaction_data": gin.H{"items": 1},
		"last_action":      "item_added",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestSaveAndRecoverTransaction(t *testing.T) {
	env := newTestEnv(t, "saverecover")

	w := env.request(t, http.MethodPost, "/api/transaction/session/start", gin.H{
		"session_id":       "sess-rec",
		"transaction_type": "sale",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.request(t, http.MethodPost, "/api/transaction/save", gin.H{
		"session_id":       "sess-rec",
		"transaction_data": gin.H{"total": 25.00},
		"last_action":      "payment_started",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/transaction/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []model.TransactionSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "sess-rec", pending[0].SessionID)

	w = env.request(t, http.MethodPost, "/api/transaction/recover", gin.H{
		"session_id": "sess-rec",
		"successful": true,
		"notes":      "resumed",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/transaction/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	assert.Empty(t, pending)
}

func TestRecoverUnknownSession(t *testing.T) {
	env := newTestEnv(t, "recoverunknown")

	w := env.request(t, http.MethodPost, "/api/transaction/recover", gin.H{
		"session_id": "ghost",
		"successful": false,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncQueueEndpoints(t *testing.T) {
	env := newTestEnv(t, "syncendpoints")

	w := env.request(t, http.MethodPost, "/api/sync/queue", gin.H{
		"type":    "sale.create",
		"payload": gin.H{"total": 10},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var m model.OfflineMutation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, model.SyncPending, m.SyncStatus)

	w = env.request(t, http.MethodPost, "/api/sync/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res syncq.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Synced)

	w = env.request(t, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary syncq.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, int64(1), summary.Synced)
	assert.Equal(t, int64(0), summary.Pending)

	w = env.request(t, http.MethodPost, "/api/sync/mutations/"+m.ID+"/retry", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "only failed mutations can be retried")

	w = env.request(t, http.MethodDelete, "/api/sync/mutations/"+m.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.request(t, http.MethodDelete, "/api/sync/mutations/"+m.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveConflictValidation(t *testing.T) {
	env := newTestEnv(t, "conflictvalidation")

	w := env.request(t, http.MethodPost, "/api/sync/conflicts/some-id/resolve", gin.H{
		"choice": "coin-flip",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, http.MethodPost, "/api/sync/conflicts/some-id/resolve", gin.H{
		"choice": "remote",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetPowerEvents(t *testing.T) {
	env := newTestEnv(t, "powerevents")

	w := env.request(t, http.MethodGet, "/api/power/events", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var events []model.PowerEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1, "initial refresh logged the online transition")
	assert.Equal(t, "status_change_online", events[0].EventType)
}
