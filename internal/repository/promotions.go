package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"saledrop-pipeline/internal/models"
)

func (r *Repository) CreatePromotion(ctx context.Context, p *models.PromotionalMessage) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create promotional message: %w", err)
	}
	return nil
}

func (r *Repository) SavePromotion(ctx context.Context, p *models.PromotionalMessage) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(p).Error; err != nil {
		return fmt.Errorf("failed to save promotional message: %w", err)
	}
	return nil
}

func (r *Repository) GetPromotion(ctx context.Context, id uint) (*models.PromotionalMessage, error) {
	var p models.PromotionalMessage
	if err := r.db.WithContext(ctx).Preload("Store").First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// PromotionDates returns the effective dates of a store's promotional
// messages, skipping excludeID when it is non-zero
func (r *Repository) PromotionDates(ctx context.Context, storeID, excludeID uint) ([]time.Time, error) {
	var promos []models.PromotionalMessage
	q := r.db.WithContext(ctx).Select("id", "scheduled_at", "created_at").Where("store_id = ?", storeID)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Find(&promos).Error; err != nil {
		return nil, fmt.Errorf("failed to load promotion dates: %w", err)
	}

	dates := make([]time.Time, 0, len(promos))
	for i := range promos {
		dates = append(dates, promos[i].EffectiveDate())
	}
	return dates, nil
}

// PromotionsInState lists messages in any of states, oldest first
func (r *Repository) PromotionsInState(ctx context.Context, limit int, states ...models.ModerationState) ([]models.PromotionalMessage, error) {
	var promos []models.PromotionalMessage
	err := r.db.WithContext(ctx).
		Preload("Store").
		Where("state IN ?", states).
		Where("sent_at IS NULL").
		Order("created_at, id").
		Limit(limit).
		Find(&promos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list promotional messages: %w", err)
	}
	return promos, nil
}

func (r *Repository) SetPromotionState(ctx context.Context, id uint, state models.ModerationState) error {
	return r.db.WithContext(ctx).Model(&models.PromotionalMessage{}).Where("id = ?", id).Update("state", state).Error
}

func (r *Repository) MarkPromotionSent(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.PromotionalMessage{}).Where("id = ?", id).Update("sent_at", at.UTC()).Error
}

func (r *Repository) CreateModerationResult(ctx context.Context, res *models.ModerationResult) error {
	return r.db.WithContext(ctx).Create(res).Error
}
