package models

import "time"

// PromotionRequest is the body for creating or editing a promotional message
type PromotionRequest struct {
	AuthorID    uint       `json:"author_id" validate:"required"`
	Link        string     `json:"link" validate:"required,url,max=2048"`
	Title       string     `json:"title" validate:"required,max=50"`
	Grabber     string     `json:"grabber" validate:"max=50"`
	Description string     `json:"description" validate:"max=300"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// LimitStatusResponse is the advisory rate limit state of a store
type LimitStatusResponse struct {
	StoreID  uint `json:"store_id"`
	AtLimit  bool `json:"at_limit"`
	Violated bool `json:"violated"`
}

// GmailPushEnvelope is the body Pub/Sub posts to the webhook
type GmailPushEnvelope struct {
	Message *struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// GmailNotification is the decoded payload of a Gmail watch notification
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
