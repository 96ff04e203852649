// Package trigger turns Gmail watch notifications into pipeline jobs.
package trigger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"saledrop-pipeline/internal/config"
	"saledrop-pipeline/internal/ledger"
	"saledrop-pipeline/internal/models"
	"saledrop-pipeline/internal/pipeline"
)

// ErrMalformed is returned for notifications missing the envelope or address
var ErrMalformed = errors.New("trigger: malformed notification")

// Enqueuer schedules a run for the mailbox receiving at an address
type Enqueuer interface {
	EnqueueForAddress(address string) error
}

// DecodeEnvelope decodes a Pub/Sub push body into the Gmail notification it carries
func DecodeEnvelope(body []byte) (*models.GmailNotification, error) {
	var env models.GmailPushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Message == nil || env.Message.Data == "" {
		return nil, fmt.Errorf("%w: missing message data", ErrMalformed)
	}

	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(env.Message.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return DecodeNotification(data)
}

// DecodeNotification decodes the JSON payload of a Gmail watch notification
func DecodeNotification(data []byte) (*models.GmailNotification, error) {
	var n models.GmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n.EmailAddress = strings.TrimSpace(n.EmailAddress)
	if n.EmailAddress == "" {
		return nil, fmt.Errorf("%w: missing emailAddress", ErrMalformed)
	}
	return &n, nil
}

// Dispatch enqueues the job for n. Unknown mailboxes are ledgered as major
// and swallowed, a full queue is left to the next scheduled run.
func Dispatch(ctx context.Context, q Enqueuer, rec ledger.Recorder, n *models.GmailNotification) error {
	err := q.EnqueueForAddress(n.EmailAddress)
	switch {
	case err == nil:
		logrus.WithFields(logrus.Fields{"mailbox": n.EmailAddress, "history_id": n.HistoryID}).Info("Mail notification queued")
		return nil
	case errors.Is(err, pipeline.ErrUnknownMailbox):
		rec.Record(ctx, ledger.TaskWebhook, true, err)
		return nil
	case errors.Is(err, pipeline.ErrQueueFull):
		return nil
	default:
		return err
	}
}

// Listener pulls Gmail notifications from a Pub/Sub subscription
type Listener struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
	queue  Enqueuer
	ledger ledger.Recorder
}

// NewListener connects to the subscription named in cfg
func NewListener(ctx context.Context, cfg config.PubSubConfig, q Enqueuer, rec ledger.Recorder) (*Listener, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Listener{
		client: client,
		sub:    client.Subscription(cfg.Subscription),
		queue:  q,
		ledger: rec,
	}, nil
}

// Run receives until ctx is done. Every message is acked; failures are ledgered.
func (l *Listener) Run(ctx context.Context) error {
	logrus.Infof("Listening for Gmail notifications on %s", l.sub.ID())
	err := l.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		l.handle(ctx, msg.Data)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

func (l *Listener) handle(ctx context.Context, data []byte) {
	n, err := DecodeNotification(data)
	if err != nil {
		l.ledger.Record(ctx, ledger.TaskWebhook, false, err)
		return
	}
	if err := Dispatch(ctx, l.queue, l.ledger, n); err != nil {
		l.ledger.Record(ctx, ledger.TaskWebhook, false, err)
	}
}

// Close releases the Pub/Sub client
func (l *Listener) Close() error {
	return l.client.Close()
}
