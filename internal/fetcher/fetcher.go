// Package fetcher reads newsletters from the monitored Gmail inboxes.
package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"saledrop-pipeline/internal/config"
)

// Email is one fetched message reduced to what ingestion needs
type Email struct {
	GmailID    string
	From       string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Mailbox reads one inbox
type Mailbox interface {
	Address() string
	FetchRecent(ctx context.Context) ([]Email, error)
	Watch(ctx context.Context, topic string) (*WatchResult, error)
}

// WatchResult describes a renewed Gmail push subscription
type WatchResult struct {
	HistoryID  uint64
	Expiration time.Time
}

// GmailMailbox implements Mailbox using the Gmail API
type GmailMailbox struct {
	service    *gmail.Service
	address    string
	maxResults int64
}

// NewGmailMailbox creates a mailbox reader authorized by the mailbox's refresh token
func NewGmailMailbox(ctx context.Context, gcfg config.GmailConfig, mb config.MailboxConfig) (*GmailMailbox, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     gcfg.ClientID,
		ClientSecret: gcfg.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	tokenSource := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: mb.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service for %s: %w", mb.Address, err)
	}

	maxResults := gcfg.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}

	return &GmailMailbox{service: service, address: mb.Address, maxResults: maxResults}, nil
}

// Address returns the inbox address
func (m *GmailMailbox) Address() string {
	return m.address
}

// FetchRecent lists the newest inbox messages and parses each one. Messages
// that fail to fetch or parse are skipped.
func (m *GmailMailbox) FetchRecent(ctx context.Context) ([]Email, error) {
	resp, err := m.service.Users.Messages.List("me").
		LabelIds("INBOX").
		MaxResults(m.maxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var emails []Email
	for _, ref := range resp.Messages {
		msg, err := m.service.Users.Messages.Get("me", ref.Id).Format("raw").Context(ctx).Do()
		if err != nil {
			logrus.WithField("mailbox", m.address).Warnf("Failed to get message %s: %v", ref.Id, err)
			continue
		}

		raw, err := decodeRaw(msg.Raw)
		if err != nil {
			logrus.WithField("mailbox", m.address).Warnf("Failed to decode message %s: %v", ref.Id, err)
			continue
		}

		email, err := ParseRaw(raw)
		if err != nil {
			logrus.WithField("mailbox", m.address).Warnf("Failed to parse message %s: %v", ref.Id, err)
			continue
		}
		email.GmailID = msg.Id
		email.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()

		emails = append(emails, email)
	}

	return emails, nil
}

// Watch renews the Gmail push subscription on topic for the inbox label
func (m *GmailMailbox) Watch(ctx context.Context, topic string) (*WatchResult, error) {
	resp, err := m.service.Users.Watch("me", &gmail.WatchRequest{
		TopicName: topic,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", m.address, err)
	}

	return &WatchResult{
		HistoryID:  resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// decodeRaw accepts both padded and unpadded base64url
func decodeRaw(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}
