package fetcher

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

const (
	// DefaultSender is used when a message has no From header
	DefaultSender = "Unknown sender"
	// DefaultSubject is used when a message has no Subject header
	DefaultSubject = "No Subject"
)

// ParseRaw parses an RFC 5322 message. The HTML part is preferred as body,
// plain text is the fallback.
func ParseRaw(raw []byte) (Email, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return Email{}, fmt.Errorf("failed to read message: %w", err)
	}

	header := mail.Header{Header: entity.Header}
	email := Email{
		From:    strings.TrimSpace(header.Get("From")),
		Subject: DefaultSubject,
	}
	if email.From == "" {
		email.From = DefaultSender
	}
	if subject, err := header.Subject(); err == nil && strings.TrimSpace(subject) != "" {
		email.Subject = strings.TrimSpace(subject)
	}

	var htmlBody, textBody string
	if err := collectBodies(entity, &htmlBody, &textBody); err != nil {
		return Email{}, err
	}

	email.Body = htmlBody
	if email.Body == "" {
		email.Body = textBody
	}
	return email, nil
}

// collectBodies walks nested multiparts keeping the first html and text part
func collectBodies(entity *message.Entity, htmlBody, textBody *string) error {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil && !message.IsUnknownCharset(err) {
				return fmt.Errorf("failed to read part: %w", err)
			}
			if err := collectBodies(p, htmlBody, textBody); err != nil {
				return err
			}
		}
		return nil
	}

	if disp, _, _ := entity.Header.ContentDisposition(); disp == "attachment" {
		return nil
	}

	mediaType, _, _ := entity.Header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}
	if mediaType != "text/html" && mediaType != "text/plain" {
		return nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}

	switch {
	case mediaType == "text/html" && *htmlBody == "":
		*htmlBody = string(content)
	case mediaType == "text/plain" && *textBody == "":
		*textBody = string(content)
	}
	return nil
}
