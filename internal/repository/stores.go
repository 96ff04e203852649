package repository

import (
	"context"
	"fmt"

	"saledrop-pipeline/internal/models"
)

func (r *Repository) ListStores(ctx context.Context) ([]models.Store, error) {
	var stores []models.Store
	if err := r.db.WithContext(ctx).Order("id").Find(&stores).Error; err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	return stores, nil
}

func (r *Repository) GetStore(ctx context.Context, id uint) (*models.Store, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).First(&store, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &store, nil
}

// Subscribers returns the users subscribed to a store with their devices
func (r *Repository) Subscribers(ctx context.Context, storeID uint) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).
		Preload("Devices").
		Joins("JOIN store_subscriptions ON store_subscriptions.user_id = users.id").
		Where("store_subscriptions.store_id = ?", storeID).
		Order("users.id").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load subscribers: %w", err)
	}
	return users, nil
}
