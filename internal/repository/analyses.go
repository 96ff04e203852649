package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"saledrop-pipeline/internal/models"
)

// CreateAnalysis persists the single analysis of a raw message
func (r *Repository) CreateAnalysis(ctx context.Context, a *models.Analysis) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Analysis{}).Where("raw_message_id = ?", a.RawMessageID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyAnalyzed
		}
		if err := tx.Create(a).Error; err != nil {
			return fmt.Errorf("failed to create analysis: %w", err)
		}
		return nil
	})
}

// RecentQualifyingAnalyses returns up to limit analyses of mail that store
// sent to inbox before the given time, restricted to genuine non-personal
// sales above threshold, newest first
func (r *Repository) RecentQualifyingAnalyses(ctx context.Context, storeID uint, inbox string, before time.Time, threshold float64, limit int) ([]models.Analysis, error) {
	var analyses []models.Analysis
	err := r.db.WithContext(ctx).
		Joins("JOIN raw_messages ON raw_messages.id = analyses.raw_message_id").
		Where("raw_messages.store_id = ? AND raw_messages.inbox = ?", storeID, inbox).
		Where("raw_messages.received_at < ?", before.UTC()).
		Where("analyses.is_sale = ? AND analyses.is_personal = ? AND analyses.deal_probability > ?", true, false, threshold).
		Order("raw_messages.received_at desc").
		Limit(limit).
		Find(&analyses).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent analyses: %w", err)
	}
	return analyses, nil
}
