package models

import "time"

// ModerationState tracks a promotional message through review and dispatch
type ModerationState string

const (
	StateUnreviewed       ModerationState = "unreviewed"
	StateAutoApproved     ModerationState = "auto-approved"
	StateFlagged          ModerationState = "flagged-for-manual-review"
	StateManuallyApproved ModerationState = "manually-approved"
	StatePublicReady      ModerationState = "public-ready"
)

// PromotionalMessage is a sale announcement written by a store's staff
type PromotionalMessage struct {
	ID          uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	StoreID     uint            `json:"store_id" gorm:"not null;index"`
	AuthorID    uint            `json:"author_id" gorm:"not null"`
	Link        string          `json:"link" gorm:"type:varchar(2048)"`
	Title       string          `json:"title" gorm:"type:varchar(50);not null"`
	Grabber     string          `json:"grabber" gorm:"type:varchar(50)"`
	Description string          `json:"description" gorm:"type:varchar(300)"`
	ScheduledAt *time.Time      `json:"scheduled_at"`
	SentAt      *time.Time      `json:"sent_at"`
	State       ModerationState `json:"state" gorm:"type:varchar(32);not null;default:unreviewed;index"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	Store *Store `json:"-" gorm:"foreignKey:StoreID"`
}

// TableName specifies the table name for PromotionalMessage
func (PromotionalMessage) TableName() string {
	return "promotional_messages"
}

// EffectiveDate is the scheduled send time if set, else the creation time
func (p *PromotionalMessage) EffectiveDate() time.Time {
	if p.ScheduledAt != nil {
		return *p.ScheduledAt
	}
	return p.CreatedAt
}

// Approved reports whether the message passed moderation
func (p *PromotionalMessage) Approved() bool {
	return p.State == StateAutoApproved || p.State == StateManuallyApproved
}

// ModerationResult stores one verdict of the moderation classifier
type ModerationResult struct {
	ID                   uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	PromotionalMessageID uint      `json:"promotional_message_id" gorm:"not null;index"`
	IsSafe               bool      `json:"is_safe"`
	Reason               string    `json:"reason" gorm:"type:text"`
	Category             string    `json:"category" gorm:"type:varchar(64)"`
	CreatedAt            time.Time `json:"created_at"`
}

// TableName specifies the table name for ModerationResult
func (ModerationResult) TableName() string {
	return "moderation_results"
}
