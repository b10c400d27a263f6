package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pos-resilience-backend/internal/model"
)

// ErrSnapshotNotFound is returned when resolving a session with no snapshot.
var ErrSnapshotNotFound = errors.New("transaction snapshot not found")

// Store persists transaction snapshots for post-crash recovery.
type Store interface {
	// Save upserts the snapshot for its session id, overwriting in place and
	// bumping the auto-save counter.
	Save(ctx context.Context, snap *model.TransactionSnapshot) error
	// ListPending returns unresolved snapshots for a terminal, newest first.
	ListPending(ctx context.Context, terminalID string) ([]model.TransactionSnapshot, error)
	// Resolve marks a snapshot resolved. The row is kept as an audit trail.
	Resolve(ctx context.Context, sessionID string, recovered bool, notes string) error
	// PurgeResolved deletes resolved snapshots not touched since olderThan.
	PurgeResolved(ctx context.Context, olderThan time.Time) (int64, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GORM-backed snapshot store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Save(ctx context.Context, snap *model.TransactionSnapshot) error {
	now := time.Now().UTC()
	snap.AutoSaveCount = 1
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"data":            snap.Data,
			"type":            snap.Type,
			"customer_id":     snap.CustomerID,
			"last_action":     snap.LastAction,
			"expires_at":      snap.ExpiresAt,
			"auto_save_count": gorm.Expr("auto_save_count + 1"),
			"updated_at":      now,
		}),
	}).Create(snap).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot for session %s: %w", snap.SessionID, err)
	}
	return nil
}

func (s *gormStore) ListPending(ctx context.Context, terminalID string) ([]model.TransactionSnapshot, error) {
	var snaps []model.TransactionSnapshot
	q := s.db.WithContext(ctx).Where("resolved = ?", false)
	if terminalID != "" {
		q = q.Where("terminal_id = ?", terminalID)
	}
	if err := q.Order("updated_at DESC").Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending snapshots: %w", err)
	}
	return snaps, nil
}

func (s *gormStore) Resolve(ctx context.Context, sessionID string, recovered bool, notes string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&model.TransactionSnapshot{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"resolved":       true,
			"recovered":      recovered,
			"recovery_notes": notes,
			"recovered_at":   now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to resolve snapshot %s: %w", sessionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}

func (s *gormStore) PurgeResolved(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("resolved = ? AND updated_at < ?", true, olderThan).
		Delete(&model.TransactionSnapshot{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge resolved snapshots: %w", res.Error)
	}
	return res.RowsAffected, nil
}
