package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"saledrop-pipeline/internal/config"
)

// PushMessage is one notification in the gateway's wire format
type PushMessage struct {
	To       string         `json:"to"`
	Title    string         `json:"title"`
	Subtitle string         `json:"subtitle,omitempty"`
	Body     string         `json:"body"`
	Sound    string         `json:"sound,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Gateway delivers one chunk of push messages
type Gateway interface {
	Send(ctx context.Context, messages []PushMessage) error
}

// GatewayError carries the rejected response of the push gateway
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("push gateway returned %d: %s", e.StatusCode, e.Body)
}

type expoResponse struct {
	Data []struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ExpoGateway posts to the Expo push API behind a circuit breaker so an
// unreachable gateway fails the remaining chunks fast
type ExpoGateway struct {
	endpoint    string
	accessToken string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[[]byte]
}

// NewExpoGateway creates an Expo push client
func NewExpoGateway(cfg config.NotifyConfig) *ExpoGateway {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 3
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "expo-push",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// A rejected chunk still proves the gateway is reachable
			if _, ok := err.(*GatewayError); ok {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("Push gateway circuit breaker changed state")
		},
	})

	return &ExpoGateway{
		endpoint:    cfg.Endpoint,
		accessToken: cfg.AccessToken,
		client:      &http.Client{Timeout: 30 * time.Second},
		breaker:     breaker,
	}
}

// Send posts one chunk. Non-2xx answers and request-level errors in the
// body fail the chunk; per-ticket errors are only logged.
func (g *ExpoGateway) Send(ctx context.Context, messages []PushMessage) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode push messages: %w", err)
	}

	body, err := g.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if g.accessToken != "" {
			req.Header.Set("Authorization", "Bearer "+g.accessToken)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &GatewayError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return body, nil
	})
	if err != nil {
		return err
	}

	var parsed expoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	if len(parsed.Errors) > 0 {
		return &GatewayError{StatusCode: http.StatusOK, Body: string(body)}
	}

	failed := 0
	for _, ticket := range parsed.Data {
		if ticket.Status == "error" {
			failed++
		}
	}
	if failed > 0 {
		logrus.Warnf("Push gateway rejected %d of %d messages in chunk", failed, len(messages))
	}
	return nil
}
