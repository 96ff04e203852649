package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"saledrop-pipeline/internal/models"
)

// ClaimOptions bounds one claim
type ClaimOptions struct {
	Limit       int
	Lease       time.Duration
	MaxAttempts int
}

// InsertRawMessage stores msg unless a message with the same sender,
// subject, received time and inbox exists. It reports whether a row was
// created.
func (r *Repository) InsertRawMessage(ctx context.Context, msg *models.RawMessage) (bool, error) {
	msg.ReceivedAt = msg.ReceivedAt.UTC()
	msg.Fingerprint = models.ComputeFingerprint(msg.Sender, msg.Subject, msg.ReceivedAt, msg.Inbox)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "fingerprint"}}, DoNothing: true}).
		Create(msg)
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert raw message: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ClaimBatch atomically claims up to opts.Limit unanalyzed messages, newest
// first, and returns them with their store loaded. Rows locked by another
// in-flight claim are skipped. A claim older than opts.Lease counts as
// abandoned and may be taken over.
func (r *Repository) ClaimBatch(ctx context.Context, opts ClaimOptions) ([]models.RawMessage, string, error) {
	token := uuid.NewString()
	now := r.now()
	staleBefore := now.Add(-opts.Lease)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := claimable(tx, opts, staleBefore).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to select claimable messages: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		return markClaimed(tx, ids, staleBefore, now, token).Error
	})
	if err != nil {
		return nil, "", err
	}

	var claimed []models.RawMessage
	if err := r.db.WithContext(ctx).
		Preload("Store").
		Where("claim_token = ? AND in_analysis = ?", token, true).
		Order("received_at desc").
		Find(&claimed).Error; err != nil {
		return nil, "", fmt.Errorf("failed to load claimed messages: %w", err)
	}
	return claimed, token, nil
}

// claimable selects the ids of messages free to claim, locking them with
// SKIP LOCKED on dialects that support it.
func claimable(tx *gorm.DB, opts ClaimOptions, staleBefore time.Time) *gorm.DB {
	q := tx.Model(&models.RawMessage{}).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("NOT EXISTS (SELECT 1 FROM analyses WHERE analyses.raw_message_id = raw_messages.id)").
		Where("(in_analysis = ? OR claimed_at < ?)", false, staleBefore)
	if opts.MaxAttempts > 0 {
		q = q.Where("failed_attempts < ?", opts.MaxAttempts)
	}
	return q.Order("received_at desc").Limit(opts.Limit)
}

// markClaimed re-checks the claim condition so a row taken by a concurrent
// claimer between select and update is left alone.
func markClaimed(tx *gorm.DB, ids []uint, staleBefore, now time.Time, token string) *gorm.DB {
	return tx.Model(&models.RawMessage{}).
		Where("id IN ?", ids).
		Where("(in_analysis = ? OR claimed_at < ?)", false, staleBefore).
		Updates(map[string]any{
			"in_analysis": true,
			"claimed_at":  now,
			"claim_token": token,
		})
}

// RenewClaim restarts the lease of a message still held under token. It
// reports false when the claim was released or taken over.
func (r *Repository) RenewClaim(ctx context.Context, id uint, token string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.RawMessage{}).
		Where("id = ? AND claim_token = ? AND in_analysis = ?", id, token, true).
		Update("claimed_at", r.now())
	if result.Error != nil {
		return false, fmt.Errorf("failed to renew claim: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ReleaseClaim clears a claim held under token. A claim taken over by
// another worker after lease expiry is not touched.
func (r *Repository) ReleaseClaim(ctx context.Context, id uint, token string) error {
	return r.db.WithContext(ctx).Model(&models.RawMessage{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(map[string]any{
			"in_analysis": false,
			"claim_token": nil,
		}).Error
}

// RecordFailedAttempt counts a message-specific failure towards the retry ceiling
func (r *Repository) RecordFailedAttempt(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.RawMessage{}).
		Where("id = ?", id).
		UpdateColumn("failed_attempts", gorm.Expr("failed_attempts + ?", 1)).Error
}

func (r *Repository) GetRawMessage(ctx context.Context, id uint) (*models.RawMessage, error) {
	var msg models.RawMessage
	if err := r.db.WithContext(ctx).Preload("Store").First(&msg, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}
