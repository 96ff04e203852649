package notify

import (
	"errors"
	"fmt"
	"strings"

	"saledrop-pipeline/internal/models"
)

// ErrUnknownInbox is returned when a message arrived at neither known inbox
var ErrUnknownInbox = errors.New("notify: inbox matches neither known inbox")

// Inboxes are the two addresses newsletters are received on
type Inboxes struct {
	Male   string
	Female string
}

// Eligible filters subscribers of store for mail that arrived at inbox.
// Stores without a gender preference reach every subscriber. Otherwise the
// male inbox reaches male and both, the female inbox female and both.
func Eligible(users []models.User, store *models.Store, inbox string, inboxes Inboxes) ([]models.User, error) {
	if !store.PreferenceSet() {
		return users, nil
	}

	var accept models.Gender
	switch {
	case strings.EqualFold(inbox, inboxes.Male):
		accept = models.GenderMale
	case strings.EqualFold(inbox, inboxes.Female):
		accept = models.GenderFemale
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownInbox, inbox)
	}

	var out []models.User
	for _, u := range users {
		if u.Gender == accept || u.Gender == models.GenderBoth {
			out = append(out, u)
		}
	}
	return out, nil
}

// Tokens collects the non-empty push tokens of users without duplicates,
// keeping first-seen order
func Tokens(users []models.User) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, u := range users {
		for _, d := range u.Devices {
			token := strings.TrimSpace(d.PushToken)
			if token == "" {
				continue
			}
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			out = append(out, token)
		}
	}
	return out
}

// Chunk splits tokens into slices of at most size
func Chunk(tokens []string, size int) [][]string {
	if size <= 0 {
		size = 100
	}
	var chunks [][]string
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, tokens[start:end])
	}
	return chunks
}
