// Package extraction turns a marketing email into a structured deal with the
// help of a generative model.
package extraction

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"saledrop-pipeline/internal/config"
	"saledrop-pipeline/internal/llm"
)

// Outcome is the result of one extraction. Data is set only on success.
type Outcome struct {
	Success     bool
	Data        *Deal
	Error       string
	Category    llm.Category
	Attempts    int
	SizeWarning bool
}

// Client wraps the model call with shrinking, retries and response checks
type Client struct {
	model          llm.Model
	policy         llm.Policy
	requestTimeout time.Duration
	maxBodyChars   int
}

// NewClient creates an extraction client
func NewClient(model llm.Model, cfg config.ExtractionConfig) *Client {
	return &Client{
		model:          model,
		policy:         llm.Policy{MaxAttempts: cfg.MaxRetries, InitialBackoff: cfg.InitialBackoff},
		requestTimeout: cfg.RequestTimeout,
		maxBodyChars:   cfg.MaxBodyChars,
	}
}

// Extract classifies bodyHTML. It never returns an error; failures are
// reported through the outcome.
func (c *Client) Extract(ctx context.Context, bodyHTML, contextHint string) Outcome {
	var out Outcome

	body := ShrinkHTML(bodyHTML)
	if c.maxBodyChars > 0 && len(body) > c.maxBodyChars {
		out.SizeWarning = true
		logrus.Warnf("Shrunk email body is %d characters, above the %d character threshold", len(body), c.maxBodyChars)
	}

	prompt := BuildPrompt(body, contextHint)
	schema := DealSchema()

	attempts, err := c.policy.Do(ctx, func(ctx context.Context) error {
		callCtx := ctx
		if c.requestTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
			defer cancel()
		}

		text, err := c.model.GenerateJSON(callCtx, prompt, schema)
		if err != nil {
			logrus.Debugf("Extraction attempt failed: %v", err)
			return err
		}
		deal, err := ParseDeal(text)
		if err != nil {
			logrus.Debugf("Extraction response rejected: %v", err)
			return err
		}
		out.Data = deal
		return nil
	})

	out.Attempts = attempts
	if err != nil {
		out.Data = nil
		out.Error = err.Error()
		out.Category = llm.Classify(err)
		return out
	}

	out.Success = true
	return out
}
