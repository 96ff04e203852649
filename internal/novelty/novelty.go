// Package novelty builds the prior-deal context the extraction prompt uses
// to judge whether a new deal beats the last one.
package novelty

import (
	"context"
	"fmt"
	"strings"
	"time"

	"saledrop-pipeline/internal/config"
	"saledrop-pipeline/internal/extraction"
	"saledrop-pipeline/internal/models"
)

// History loads prior qualifying analyses
type History interface {
	RecentQualifyingAnalyses(ctx context.Context, storeID uint, inbox string, before time.Time, threshold float64, limit int) ([]models.Analysis, error)
}

// Builder renders novelty context for raw messages
type Builder struct {
	history   History
	threshold float64
	limit     int
}

// NewBuilder creates a context builder
func NewBuilder(history History, cfg config.NoveltyConfig) *Builder {
	limit := cfg.History
	if limit <= 0 {
		limit = 2
	}
	return &Builder{history: history, threshold: cfg.Threshold, limit: limit}
}

// Build returns the context lines for msg. Without a matched store or
// without qualifying history it returns the explicit no-history instruction.
func (b *Builder) Build(ctx context.Context, msg *models.RawMessage) (string, error) {
	if msg.StoreID == nil {
		return extraction.NoHistoryHint, nil
	}

	prior, err := b.history.RecentQualifyingAnalyses(ctx, *msg.StoreID, msg.Inbox, msg.ReceivedAt, b.threshold, b.limit)
	if err != nil {
		return "", fmt.Errorf("failed to build novelty context: %w", err)
	}
	return Render(prior), nil
}

// Render formats prior analyses as plain text lines, newest first
func Render(prior []models.Analysis) string {
	if len(prior) == 0 {
		return extraction.NoHistoryHint
	}

	var sb strings.Builder
	sb.WriteString("Eerdere deals van deze winkel (nieuwste eerst):\n")
	for _, a := range prior {
		fmt.Fprintf(&sb, "- Titel: %s | Grabber: %s\n", a.Title, a.Grabber)
	}
	sb.WriteString("Zet is_new_deal_better op true als de nieuwe deal nieuw is of beter dan de vorige.")
	return sb.String()
}
