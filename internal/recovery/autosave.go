package recovery

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pos-resilience-backend/internal/model"
)

// ErrNoActiveSession is returned when recording state without a started session.
var ErrNoActiveSession = errors.New("no active auto-save session")

// SessionParams describes the transaction session a heartbeat protects.
type SessionParams struct {
	SessionID  string
	Type       string // sale, return, hold
	CustomerID *int64
	Interval   time.Duration
	Enabled    bool
}

// session is the per-transaction heartbeat state. Only one session is active
// per AutoSaver; StartAutoSave replaces any previous one.
type session struct {
	SessionParams
	cancel context.CancelFunc

	// Guarded by the AutoSaver mutex.
	fingerprint [sha256.Size]byte
	staged      json.RawMessage
	lastAction  string
	dirty       bool
}

// AutoSaver is the debounced heartbeat that keeps the active transaction's
// working state persisted. RecordState deduplicates by content fingerprint;
// SaveNow bypasses the fingerprint and fails loudly; the heartbeat tick
// re-flushes dirty state best-effort, so a failed background write is retried
// on the next tick.
type AutoSaver struct {
	store      Store
	terminalID string
	retention  time.Duration

	mu   sync.Mutex
	sess *session
}

// NewAutoSaver creates an auto-saver for one UI context on a terminal.
func NewAutoSaver(store Store, terminalID string, retention time.Duration) *AutoSaver {
	return &AutoSaver{store: store, terminalID: terminalID, retention: retention}
}

// StartAutoSave begins a heartbeat for the given session, replacing any
// previous one. Safe mode never blocks this: auto-save is exactly what
// protects an in-flight transaction while power is failing.
func (a *AutoSaver) StartAutoSave(p SessionParams) {
	if p.Interval <= 0 {
		p.Interval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{SessionParams: p, cancel: cancel}

	a.mu.Lock()
	if a.sess != nil {
		a.sess.cancel()
	}
	a.sess = sess
	a.mu.Unlock()

	if p.Enabled {
		go a.heartbeat(ctx, sess)
	}
	log.Printf("recovery: auto-save started for session %s (%s)", p.SessionID, p.Type)
}

// StopAutoSave clears the heartbeat and resets the fingerprint cache. Safe to
// call multiple times and with no active session.
func (a *AutoSaver) StopAutoSave() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil {
		return
	}
	a.sess.cancel()
	a.sess = nil
}

// ActiveSession returns the current session id, if any.
func (a *AutoSaver) ActiveSession() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil {
		return "", false
	}
	return a.sess.SessionID, true
}

// RecordState stages the transaction payload and persists it if its content
// fingerprint changed since the last save. Unchanged payloads are a no-op.
// Persistence errors on this path are logged and swallowed; the dirty state is
// retried by the next heartbeat tick.
func (a *AutoSaver) RecordState(ctx context.Context, data json.RawMessage, lastAction string) error {
	fp := sha256.Sum256(data)

	a.mu.Lock()
	sess := a.sess
	if sess == nil {
		a.mu.Unlock()
		return ErrNoActiveSession
	}
	if fp == sess.fingerprint {
		a.mu.Unlock()
		return nil
	}
	sess.staged = data
	sess.lastAction = lastAction
	sess.dirty = true
	snap := a.buildSnapshot(sess, data, lastAction)
	a.mu.Unlock()

	if err := a.store.Save(ctx, snap); err != nil {
		log.Printf("recovery: auto-save failed for session %s (will retry on next tick): %v", sess.SessionID, err)
		return nil
	}
	a.markSaved(sess, fp)
	return nil
}

// SaveNow persists the payload immediately, bypassing the fingerprint check,
// and propagates store failures to the caller. Used for critical checkpoints
// where silent loss is unacceptable.
func (a *AutoSaver) SaveNow(ctx context.Context, data json.RawMessage, lastAction string) error {
	fp := sha256.Sum256(data)

	a.mu.Lock()
	sess := a.sess
	if sess == nil {
		a.mu.Unlock()
		return ErrNoActiveSession
	}
	sess.staged = data
	sess.lastAction = lastAction
	sess.dirty = true
	snap := a.buildSnapshot(sess, data, lastAction)
	a.mu.Unlock()

	if err := a.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("checkpoint save failed for session %s: %w", sess.SessionID, err)
	}
	a.markSaved(sess, fp)
	return nil
}

// buildSnapshot must be called with the mutex held.
func (a *AutoSaver) buildSnapshot(sess *session, data json.RawMessage, lastAction string) *model.TransactionSnapshot {
	return &model.TransactionSnapshot{
		SessionID:  sess.SessionID,
		TerminalID: a.terminalID,
		Data:       data,
		Type:       sess.Type,
		CustomerID: sess.CustomerID,
		LastAction: lastAction,
		ExpiresAt:  time.Now().UTC().Add(a.retention),
	}
}

// markSaved records a successful write, unless the session has been replaced
// since the write started, in which case the result is discarded.
func (a *AutoSaver) markSaved(sess *session, fp [sha256.Size]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess != sess {
		return
	}
	sess.fingerprint = fp
	sess.dirty = false
}

// heartbeat re-flushes unsaved state on a fixed interval. It only ever writes
// when a previous best-effort save failed, since RecordState persists changed
// payloads immediately.
func (a *AutoSaver) heartbeat(ctx context.Context, sess *session) {
	timer := time.NewTimer(sess.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			a.flush(ctx, sess)
			timer.Reset(sess.Interval)
		}
	}
}

func (a *AutoSaver) flush(ctx context.Context, sess *session) {
	a.mu.Lock()
	if a.sess != sess || !sess.dirty || sess.staged == nil {
		a.mu.Unlock()
		return
	}
	data := sess.staged
	lastAction := sess.lastAction
	snap := a.buildSnapshot(sess, data, lastAction)
	a.mu.Unlock()

	if err := a.store.Save(ctx, snap); err != nil {
		log.Printf("recovery: heartbeat save failed for session %s: %v", sess.SessionID, err)
		return
	}
	a.markSaved(sess, sha256.Sum256(data))
}
