// Package ledger persists caught pipeline failures so operators can review
// them after the fact.
package ledger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"saledrop-pipeline/internal/models"
)

// Task labels used across the pipeline
const (
	TaskFetchEmails      = "Fetch Gmail Emails"
	TaskWebhook          = "Receiving gmail webhook"
	TaskGmailWatch       = "Gmail watch"
	TaskAnalyzeEmail     = "Analyse email"
	TaskValidation       = "Validate extraction"
	TaskResolveLink      = "Scrape General URL"
	TaskPushNotification = "Send Push Notifications"
	TaskGenderFilter     = "Gender filter"
	TaskModeration       = "moderation_error"
	TaskDisperse         = "Disperse sale messages"
)

// Recorder writes error ledger entries
type Recorder interface {
	Record(ctx context.Context, task string, major bool, err error)
}

// DBRecorder stores entries in the error_ledger table and mirrors them to the log
type DBRecorder struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDBRecorder creates a recorder backed by db
func NewDBRecorder(db *gorm.DB) *DBRecorder {
	return &DBRecorder{db: db, now: time.Now}
}

// Record writes one failure. A ledger write that itself fails is only logged.
func (r *DBRecorder) Record(ctx context.Context, task string, major bool, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	fields := logrus.Fields{"task": task, "major_error": major}
	if major {
		logrus.WithFields(fields).Error(msg)
	} else {
		logrus.WithFields(fields).Warn(msg)
	}

	entry := models.LedgerEntry{
		Task:          task,
		Success:       false,
		MajorError:    major,
		Error:         msg,
		ExecutionDate: r.now().UTC(),
	}
	if dbErr := r.db.WithContext(ctx).Create(&entry).Error; dbErr != nil {
		logrus.WithFields(fields).Errorf("Failed to write error ledger entry: %v", dbErr)
	}
}

// Recent returns the newest ledger entries, optionally only major ones
func (r *DBRecorder) Recent(ctx context.Context, limit int, majorOnly bool) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	q := r.db.WithContext(ctx).Order("execution_date desc").Limit(limit)
	if majorOnly {
		q = q.Where("major_error = ?", true)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
