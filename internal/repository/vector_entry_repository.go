package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bizfin-insight/internal/model"
)

type VectorEntryRepository struct {
	db *gorm.DB
}

func NewVectorEntryRepository(db *gorm.DB) *VectorEntryRepository {
	return &VectorEntryRepository{db: db}
}

func (r *VectorEntryRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&model.VectorEntry{}); err != nil {
		return fmt.Errorf("migrate vector entries failed: %w", err)
	}
	return nil
}

// Upsert overwrites rows that share an id.
func (r *VectorEntryRepository) Upsert(ctx context.Context, entries []model.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&entries).Error; err != nil {
		return fmt.Errorf("upsert vector entries failed: %w", err)
	}
	return nil
}

// List returns every entry, or only those of one document when documentID is
// non-empty.
func (r *VectorEntryRepository) List(ctx context.Context, documentID string) ([]model.VectorEntry, error) {
	q := r.db.WithContext(ctx)
	if documentID != "" {
		q = q.Where("document_id = ?", documentID)
	}
	var entries []model.VectorEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list vector entries failed: %w", err)
	}
	return entries, nil
}

func (r *VectorEntryRepository) DeleteByDocumentID(ctx context.Context, documentID string) error {
	if err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.VectorEntry{}).Error; err != nil {
		return fmt.Errorf("delete vector entries by document failed: %w", err)
	}
	return nil
}
