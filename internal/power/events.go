package power

import (
	"context"

	"gorm.io/gorm"

	"pos-resilience-backend/internal/model"
)

// EventStore persists and queries power events.
type EventStore interface {
	Append(ctx context.Context, ev model.PowerEvent) error
	Recent(ctx context.Context, limit int, eventType string) ([]model.PowerEvent, error)
}

type gormEventStore struct {
	db *gorm.DB
}

// NewEventStore creates a GORM-backed event store.
func NewEventStore(db *gorm.DB) EventStore {
	return &gormEventStore{db: db}
}

func (s *gormEventStore) Append(ctx context.Context, ev model.PowerEvent) error {
	return s.db.WithContext(ctx).Create(&ev).Error
}

func (s *gormEventStore) Recent(ctx context.Context, limit int, eventType string) ([]model.PowerEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	var events []model.PowerEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
