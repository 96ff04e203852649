package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"saledrop-pipeline/internal/models"
)

// linkVisit is a row of the resolved_link_visits join table
type linkVisit struct {
	ResolvedLinkID uint `gorm:"primaryKey"`
	UserID         uint `gorm:"primaryKey"`
}

func (linkVisit) TableName() string {
	return "resolved_link_visits"
}

// FindLink returns the resolved link for an exact tracked URL, or nil
func (r *Repository) FindLink(ctx context.Context, trackedURL string) (*models.ResolvedLink, error) {
	var link models.ResolvedLink
	err := r.db.WithContext(ctx).Where("tracked_hash = ?", models.HashURL(trackedURL)).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find link: %w", err)
	}
	return &link, nil
}

// CreateLink stores link unless its tracked URL is already known. It
// reports whether a row was created.
func (r *Repository) CreateLink(ctx context.Context, link *models.ResolvedLink) (bool, error) {
	link.TrackedHash = models.HashURL(link.TrackedURL)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tracked_hash"}}, DoNothing: true}).
		Create(link)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create link: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetLink returns a resolved link by id
func (r *Repository) GetLink(ctx context.Context, id uint) (*models.ResolvedLink, error) {
	var link models.ResolvedLink
	if err := r.db.WithContext(ctx).First(&link, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &link, nil
}

// AddLinkVisit records that a user opened a resolved link
func (r *Repository) AddLinkVisit(ctx context.Context, linkID, userID uint) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&linkVisit{ResolvedLinkID: linkID, UserID: userID}).Error
}

func (r *Repository) CountLinkVisits(ctx context.Context, linkID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&linkVisit{}).Where("resolved_link_id = ?", linkID).Count(&count).Error
	return count, err
}
