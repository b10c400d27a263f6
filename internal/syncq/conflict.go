package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pos-resilience-backend/internal/model"
)

// ErrConflictNotFound is returned when resolving an unknown conflict id.
var ErrConflictNotFound = errors.New("conflict record not found")

// Outcome is the resolver's verdict for one conflict.
type Outcome int

const (
	// OutcomeSuperseded means the remote copy won; the local mutation is dropped.
	OutcomeSuperseded Outcome = iota
	// OutcomeResubmitted means the local copy won and was force-transmitted.
	OutcomeResubmitted
	// OutcomeDeferred means resolution waits for a manual decision.
	OutcomeDeferred
)

// MergeFunc reconciles a local and remote payload field by field. Only record
// types with a registered merge function support the merge strategy.
type MergeFunc func(local, remote json.RawMessage) (json.RawMessage, error)

// Resolver materializes conflicts as ConflictRecords and applies the
// configured resolution strategy. Conflicts are data, never errors: a detected
// divergence always produces a record, resolved automatically or surfaced for
// manual review.
type Resolver struct {
	db        *gorm.DB
	transport Transport
	strategy  model.ResolutionStrategy
	merges    map[string]MergeFunc
}

// NewResolver creates a resolver with the given default strategy.
func NewResolver(db *gorm.DB, transport Transport, strategy model.ResolutionStrategy) *Resolver {
	return &Resolver{
		db:        db,
		transport: transport,
		strategy:  strategy,
		merges:    make(map[string]MergeFunc),
	}
}

// RegisterMerge installs a field-level merge function for a table. Without
// one, the merge strategy falls back to manual for that table.
func (r *Resolver) RegisterMerge(tableName string, fn MergeFunc) {
	r.merges[tableName] = fn
}

// Resolve handles a conflict reported for the given mutation. The mutation's
// queue status is the caller's responsibility; Resolve only records the
// conflict and, where the strategy permits, transmits the winning side.
func (r *Resolver) Resolve(ctx context.Context, m *model.OfflineMutation, c *Conflict) (Outcome, error) {
	strategy := r.strategy
	notes := ""
	if strategy == model.StrategyMerge {
		if _, ok := r.merges[c.TableName]; !ok {
			strategy = model.StrategyManual
			notes = fmt.Sprintf("no merge function registered for table %q, deferring to manual resolution", c.TableName)
		}
	}

	rec := &model.ConflictRecord{
		ID:              uuid.NewString(),
		MutationID:      m.ID,
		TableName:       c.TableName,
		RecordID:        c.RecordID,
		LocalData:       m.Payload,
		RemoteData:      c.RemoteData,
		LocalTimestamp:  m.QueuedAt,
		RemoteTimestamp: c.RemoteTimestamp,
		Strategy:        strategy,
		Notes:           notes,
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return OutcomeDeferred, fmt.Errorf("failed to record conflict for mutation %s: %w", m.ID, err)
	}
	log.Printf("syncq: conflict detected on %s/%s (mutation %s, strategy %s)",
		c.TableName, c.RecordID, m.ID, strategy)

	switch strategy {
	case model.StrategyLastWriteWins:
		// Ties prefer the remote copy: with multiple terminals writing to one
		// shared store, remote is assumed authoritative under contention.
		if !rec.LocalTimestamp.After(rec.RemoteTimestamp) {
			if err := r.close(ctx, rec.ID, "remote", "last write wins: remote copy newer"); err != nil {
				return OutcomeDeferred, err
			}
			return OutcomeSuperseded, nil
		}
		if err := r.forceSubmit(ctx, m, m.Payload); err != nil {
			return OutcomeDeferred, fmt.Errorf("failed to resubmit local winner: %w", err)
		}
		if err := r.close(ctx, rec.ID, "local", "last write wins: local copy newer"); err != nil {
			return OutcomeDeferred, err
		}
		return OutcomeResubmitted, nil

	case model.StrategyMerge:
		merged, err := r.merges[c.TableName](m.Payload, c.RemoteData)
		if err != nil {
			return OutcomeDeferred, fmt.Errorf("merge failed for table %s: %w", c.TableName, err)
		}
		if err := r.forceSubmit(ctx, m, merged); err != nil {
			return OutcomeDeferred, fmt.Errorf("failed to submit merged record: %w", err)
		}
		if err := r.close(ctx, rec.ID, "local", "field-level merge applied"); err != nil {
			return OutcomeDeferred, err
		}
		return OutcomeResubmitted, nil

	default: // manual
		return OutcomeDeferred, nil
	}
}

// ResolveManual applies an explicit user decision to an unresolved conflict.
// choice is "local" or "remote".
func (r *Resolver) ResolveManual(ctx context.Context, conflictID, choice, notes string) error {
	var rec model.ConflictRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ? AND resolved = ?", conflictID, false).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrConflictNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load conflict %s: %w", conflictID, err)
	}

	var m model.OfflineMutation
	err = r.db.WithContext(ctx).First(&m, "id = ?", rec.MutationID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load mutation %s: %w", rec.MutationID, err)
	}
	haveMutation := err == nil

	switch choice {
	case "remote":
		if haveMutation {
			if err := r.setMutationStatus(ctx, m.ID, model.SyncSuperseded, ""); err != nil {
				return err
			}
		}
	case "local":
		if !haveMutation {
			return fmt.Errorf("mutation %s for conflict %s no longer exists", rec.MutationID, conflictID)
		}
		if err := r.forceSubmit(ctx, &m, m.Payload); err != nil {
			// Resolution itself failed: the conflict stays unresolved and the
			// mutation keeps a descriptive error instead of vanishing.
			msg := fmt.Sprintf("manual resolution failed: %v", err)
			if serr := r.setMutationStatus(ctx, m.ID, model.SyncFailed, msg); serr != nil {
				log.Printf("syncq: failed to record resolution failure on %s: %v", m.ID, serr)
			}
			return fmt.Errorf("failed to apply local copy for conflict %s: %w", conflictID, err)
		}
		if err := r.setMutationStatus(ctx, m.ID, model.SyncSynced, ""); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid resolution choice %q, want local or remote", choice)
	}

	return r.close(ctx, conflictID, choice, notes)
}

// Unresolved lists open conflicts, oldest first.
func (r *Resolver) Unresolved(ctx context.Context) ([]model.ConflictRecord, error) {
	var recs []model.ConflictRecord
	err := r.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved conflicts: %w", err)
	}
	return recs, nil
}

func (r *Resolver) forceSubmit(ctx context.Context, m *model.OfflineMutation, payload json.RawMessage) error {
	forced := *m
	forced.Payload = payload
	conflict, err := r.transport.Submit(ctx, &forced, true)
	if err != nil {
		return err
	}
	if conflict != nil {
		return fmt.Errorf("remote rejected forced submission of mutation %s", m.ID)
	}
	return nil
}

func (r *Resolver) close(ctx context.Context, conflictID, winner, notes string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"resolved":    true,
		"winner":      winner,
		"resolved_at": now,
	}
	if notes != "" {
		updates["notes"] = notes
	}
	err := r.db.WithContext(ctx).Model(&model.ConflictRecord{}).
		Where("id = ?", conflictID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to close conflict %s: %w", conflictID, err)
	}
	return nil
}

func (r *Resolver) setMutationStatus(ctx context.Context, id string, status model.SyncStatus, msg string) error {
	err := r.db.WithContext(ctx).Model(&model.OfflineMutation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sync_status":   status,
			"error_message": msg,
			"updated_at":    time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update mutation %s: %w", id, err)
	}
	return nil
}
