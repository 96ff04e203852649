package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// RawMessage represents one ingested email
type RawMessage struct {
	ID             uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Fingerprint    string     `json:"-" gorm:"type:char(64);not null;uniqueIndex"`
	GmailID        string     `json:"gmail_id" gorm:"type:varchar(255);index"`
	Sender         string     `json:"sender" gorm:"type:varchar(512);not null"`
	Inbox          string     `json:"inbox" gorm:"type:varchar(255);not null;index"`
	Subject        string     `json:"subject" gorm:"type:varchar(1024)"`
	Body           string     `json:"-" gorm:"size:4294967295"`
	ReceivedAt     time.Time  `json:"received_at" gorm:"not null;index"`
	StoreID        *uint      `json:"store_id" gorm:"index"`
	InAnalysis     bool       `json:"in_analysis" gorm:"not null;default:false;index"`
	ClaimedAt      *time.Time `json:"claimed_at"`
	ClaimToken     *string    `json:"-" gorm:"type:varchar(36);index"`
	FailedAttempts int        `json:"failed_attempts" gorm:"not null;default:0"`
	CreatedAt      time.Time  `json:"created_at"`

	// Relationships
	Store    *Store    `json:"store,omitempty" gorm:"foreignKey:StoreID"`
	Analysis *Analysis `json:"analysis,omitempty" gorm:"foreignKey:RawMessageID"`
}

// TableName specifies the table name for RawMessage
func (RawMessage) TableName() string {
	return "raw_messages"
}

// ComputeFingerprint derives the ingestion dedup key from sender, subject,
// received time and inbox
func ComputeFingerprint(sender, subject string, receivedAt time.Time, inbox string) string {
	key := fmt.Sprintf("%s|%s|%d|%s", sender, subject, receivedAt.Unix(), strings.ToLower(inbox))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
