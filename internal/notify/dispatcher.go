// Package notify fans deals out to subscribers through the push gateway.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"saledrop-pipeline/internal/config"
	"saledrop-pipeline/internal/ledger"
	"saledrop-pipeline/internal/metrics"
	"saledrop-pipeline/internal/models"
)

// FallbackBody is shown when a deal has no grabber
const FallbackBody = "Nieuwe deal beschikbaar!"

// DetailPage is the client route opened by a notification
const DetailPage = "SaleDetail"

// Subscribers loads the subscribers of a store with their devices
type Subscribers interface {
	Subscribers(ctx context.Context, storeID uint) ([]models.User, error)
}

// Result summarizes one dispatch
type Result struct {
	Recipients   int
	Chunks       int
	FailedChunks int
}

// Dispatcher decides who receives a deal and sends it in chunks
type Dispatcher struct {
	subscribers Subscribers
	gateway     Gateway
	ledger      ledger.Recorder
	metrics     *metrics.Metrics
	inboxes     Inboxes
	batchSize   int
	threshold   float64
}

// NewDispatcher creates a dispatcher
func NewDispatcher(subs Subscribers, gw Gateway, rec ledger.Recorder, m *metrics.Metrics, inboxes Inboxes, cfg config.NotifyConfig) *Dispatcher {
	return &Dispatcher{
		subscribers: subs,
		gateway:     gw,
		ledger:      rec,
		metrics:     m,
		inboxes:     inboxes,
		batchSize:   cfg.BatchSize,
		threshold:   cfg.Threshold,
	}
}

// DispatchAnalysis notifies subscribers about an extracted deal when it is a
// genuine non-personal sale above the threshold
func (d *Dispatcher) DispatchAnalysis(ctx context.Context, a *models.Analysis, msg *models.RawMessage, store *models.Store) Result {
	if store == nil || !a.Qualifies(d.threshold) {
		return Result{}
	}

	users, err := d.subscribers.Subscribers(ctx, store.ID)
	if err != nil {
		d.ledger.Record(ctx, ledger.TaskPushNotification, true, err)
		return Result{}
	}

	eligible, err := Eligible(users, store, msg.Inbox, d.inboxes)
	if err != nil {
		d.ledger.Record(ctx, ledger.TaskGenderFilter, false, fmt.Errorf("message %d: %w", msg.ID, err))
		return Result{}
	}

	template := PushMessage{
		Title: store.Name,
		Body:  bodyFor(a.Grabber),
		Sound: "default",
		Data:  map[string]any{"page": DetailPage, "analysisId": int64(a.ID)},
	}
	return d.send(ctx, Tokens(eligible), template)
}

// DispatchPromotion notifies every subscriber of the store about a
// public-ready promotional message. The id in the payload is negated so
// clients can tell it apart from extracted deals.
func (d *Dispatcher) DispatchPromotion(ctx context.Context, p *models.PromotionalMessage, store *models.Store) (Result, error) {
	users, err := d.subscribers.Subscribers(ctx, store.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load subscribers: %w", err)
	}

	template := PushMessage{
		Title:    store.Name,
		Subtitle: "🔥 " + p.Title,
		Body:     bodyFor(p.Grabber),
		Sound:    "default",
		Data:     map[string]any{"page": DetailPage, "analysisId": -int64(p.ID)},
	}
	return d.send(ctx, Tokens(users), template), nil
}

func (d *Dispatcher) send(ctx context.Context, tokens []string, template PushMessage) Result {
	res := Result{Recipients: len(tokens)}
	for i, chunk := range Chunk(tokens, d.batchSize) {
		res.Chunks++

		batch := make([]PushMessage, len(chunk))
		for j, token := range chunk {
			batch[j] = template
			batch[j].To = token
		}

		if err := d.gateway.Send(ctx, batch); err != nil {
			res.FailedChunks++
			d.metrics.PushChunkFailures.Inc()
			var gwErr *GatewayError
			major := !errors.As(err, &gwErr)
			d.ledger.Record(ctx, ledger.TaskPushNotification, major, fmt.Errorf("chunk %d (%d tokens): %w", i, len(chunk), err))
			continue
		}
		d.metrics.PushSent.Add(float64(len(chunk)))
	}

	logrus.WithFields(logrus.Fields{
		"title":         template.Title,
		"recipients":    res.Recipients,
		"chunks":        res.Chunks,
		"failed_chunks": res.FailedChunks,
	}).Info("Push notifications dispatched")
	return res
}

func bodyFor(grabber string) string {
	grabber = strings.TrimSpace(grabber)
	if grabber == "" || grabber == "N/A" {
		return FallbackBody
	}
	return grabber
}
