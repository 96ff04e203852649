package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ResolvedLink is a tracking URL resolved to its landing page
type ResolvedLink struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TrackedHash  string    `json:"-" gorm:"type:char(64);not null;uniqueIndex"`
	TrackedURL   string    `json:"tracked_url" gorm:"type:text;not null"`
	RedirectURL  string    `json:"redirect_url" gorm:"type:text"`
	CanonicalURL string    `json:"canonical_url" gorm:"type:text"`
	ResolvedAt   time.Time `json:"resolved_at"`
	Visitors     []User    `json:"-" gorm:"many2many:resolved_link_visits"`
}

// TableName specifies the table name for ResolvedLink
func (ResolvedLink) TableName() string {
	return "resolved_links"
}

// HashURL keys a tracked URL exactly as received
func HashURL(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
