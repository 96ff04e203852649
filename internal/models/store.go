package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GenderMode describes which audience a store targets. Any value other than
// GenderModeUnset means the store asks subscribers for their gender, so the
// inbox a mail arrived at decides who receives it.
type GenderMode string

const (
	GenderModeUnset  GenderMode = "unset"
	GenderModeMale   GenderMode = "male"
	GenderModeFemale GenderMode = "female"
	GenderModeBoth   GenderMode = "both"
)

// Store represents a publisher whose newsletters are ingested
type Store struct {
	ID            uint                        `json:"id" gorm:"primaryKey;autoIncrement"`
	Name          string                      `json:"name" gorm:"type:varchar(255);not null"`
	Domains       datatypes.JSONSlice[string] `json:"domains"`
	GenderMode    GenderMode                  `json:"gender_mode" gorm:"type:varchar(16);not null;default:unset"`
	Verified      bool                        `json:"verified" gorm:"default:false"`
	MayUseContent bool                        `json:"may_use_content" gorm:"default:false"`
	HomeURL       string                      `json:"home_url" gorm:"type:varchar(512)"`
	ImageURL      string                      `json:"image_url" gorm:"type:varchar(512)"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
	Subscribers   []User                      `json:"-" gorm:"many2many:store_subscriptions"`
}

// TableName specifies the table name for Store
func (Store) TableName() string {
	return "stores"
}

// PreferenceSet reports whether the store segments by inbox
func (s *Store) PreferenceSet() bool {
	return s.GenderMode != "" && s.GenderMode != GenderModeUnset
}

// HasDomain reports whether domain is one of the store's known domains
func (s *Store) HasDomain(domain string) bool {
	for _, d := range s.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// BeforeSave keeps the domain list a lowercase set without "www." prefixes
func (s *Store) BeforeSave(tx *gorm.DB) error {
	s.Domains = NormalizeDomains(s.Domains)
	if s.GenderMode == "" {
		s.GenderMode = GenderModeUnset
	}
	return nil
}

// NormalizeDomains lowercases, trims and deduplicates domains keeping first-seen order
func NormalizeDomains(domains []string) []string {
	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
