package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bizfin-insight/internal/model"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create ignores duplicates so redelivered queue messages are harmless.
func (r *EventRepository) Create(ctx context.Context, record *model.EventRecord) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error; err != nil {
		return fmt.Errorf("create event record failed: %w", err)
	}
	return nil
}

type EventQuery struct {
	Type     string
	Category string
	Since    time.Time
	Until    time.Time
	Limit    int
}

func (r *EventRepository) List(ctx context.Context, q EventQuery) ([]model.EventRecord, error) {
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	tx := r.db.WithContext(ctx)
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.Category != "" {
		tx = tx.Where("category = ?", q.Category)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		tx = tx.Where("timestamp <= ?", q.Until)
	}

	var records []model.EventRecord
	if err := tx.Order("timestamp DESC").Limit(q.Limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list event records failed: %w", err)
	}
	return records, nil
}

// DeleteBefore removes records older than cutoff and reports how many.
func (r *EventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&model.EventRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete old event records failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}
