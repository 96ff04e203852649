package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a looked-up record does not exist
var ErrNotFound = errors.New("repository: not found")

// ErrAlreadyAnalyzed is returned when a raw message already has an analysis
var ErrAlreadyAnalyzed = errors.New("repository: message already analyzed")

type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying handle for health checks
func (r *Repository) DB() *gorm.DB {
	return r.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
