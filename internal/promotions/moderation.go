package promotions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/genai"

	"saledrop-pipeline/internal/config"
	"saledrop-pipeline/internal/llm"
	"saledrop-pipeline/internal/models"
)

const moderationPrompt = `Je bent een moderatie-assistent. Winkels plaatsen berichten over sales en aanbiedingen.
Controleer het bericht op spam, intimidatie, haatzaaien, geweld, seksuele inhoud, oplichting of phishing en schadelijke desinformatie.
Geef is_safe, een korte reden in het Nederlands en een categorie: safe, spam, harassment, hate_speech, violence, sexual, scam of other.

Bericht:
Titel: %s
Grabber: %s
Beschrijving: %s
Link: %s`

// Verdict is the classifier's judgment of one message
type Verdict struct {
	IsSafe   bool   `json:"is_safe"`
	Reason   string `json:"reason"`
	Category string `json:"category"`
}

// Moderator asks the generative model whether a message may be published
type Moderator struct {
	model          llm.Model
	policy         llm.Policy
	requestTimeout time.Duration
}

// NewModerator creates a moderator sharing the extraction retry policy
func NewModerator(model llm.Model, cfg config.ExtractionConfig) *Moderator {
	return &Moderator{
		model:          model,
		policy:         llm.Policy{MaxAttempts: cfg.MaxRetries, InitialBackoff: cfg.InitialBackoff},
		requestTimeout: cfg.RequestTimeout,
	}
}

// ModerationSchema is the response contract of the classifier
func ModerationSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"is_safe":  {Type: genai.TypeBoolean},
			"reason":   {Type: genai.TypeString},
			"category": {Type: genai.TypeString},
		},
		Required: []string{"is_safe", "reason", "category"},
	}
}

// Classify judges p, retrying empty and malformed answers
func (m *Moderator) Classify(ctx context.Context, p *models.PromotionalMessage) (*Verdict, error) {
	prompt := fmt.Sprintf(moderationPrompt, p.Title, p.Grabber, p.Description, p.Link)

	var verdict *Verdict
	_, err := m.policy.Do(ctx, func(ctx context.Context) error {
		if m.requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.requestTimeout)
			defer cancel()
		}

		text, err := m.model.GenerateJSON(ctx, prompt, ModerationSchema())
		if err != nil {
			return err
		}
		v, err := parseVerdict(text)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", llm.Classify(err), err)
	}
	return verdict, nil
}

func parseVerdict(raw string) (*Verdict, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformed, err)
	}

	safe, ok := doc["is_safe"].(bool)
	if !ok {
		return nil, fmt.Errorf("%w: is_safe must be a boolean", llm.ErrMalformed)
	}
	reason, ok := doc["reason"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: reason must be a string", llm.ErrMalformed)
	}
	category, ok := doc["category"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: category must be a string", llm.ErrMalformed)
	}
	return &Verdict{IsSafe: safe, Reason: reason, Category: category}, nil
}
