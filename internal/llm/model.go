// Package llm talks to the generative model used for extraction and moderation.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Model generates a JSON document constrained by schema
type Model interface {
	GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error)
}

// Gemini implements Model on the Gemini API
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini model client
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// GenerateJSON asks for a schema-constrained JSON response
func (g *Gemini) GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", classifyAPIError(err)
	}

	var sb strings.Builder
	if result != nil && len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
		for _, part := range result.Candidates[0].Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
	}

	text := CleanJSON(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// CleanJSON strips markdown code fences some models wrap JSON in
func CleanJSON(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}
