// Package pipeline drives ingestion and analysis of newsletter mail.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"saledrop-pipeline/internal/config"
	"saledrop-pipeline/internal/domainmatch"
	"saledrop-pipeline/internal/extraction"
	"saledrop-pipeline/internal/fetcher"
	"saledrop-pipeline/internal/ledger"
	"saledrop-pipeline/internal/llm"
	"saledrop-pipeline/internal/metrics"
	"saledrop-pipeline/internal/models"
	"saledrop-pipeline/internal/notify"
	"saledrop-pipeline/internal/repository"
)

// ErrUnknownMailbox is returned for an address that is not a monitored inbox
var ErrUnknownMailbox = errors.New("pipeline: unknown mailbox")

// errSystemic stops a batch when every remaining message would fail the same way
var errSystemic = errors.New("pipeline: systemic extraction failure")

// Repository is the message store used by the pipeline
type Repository interface {
	ListStores(ctx context.Context) ([]models.Store, error)
	InsertRawMessage(ctx context.Context, msg *models.RawMessage) (bool, error)
	ClaimBatch(ctx context.Context, opts repository.ClaimOptions) ([]models.RawMessage, string, error)
	RenewClaim(ctx context.Context, id uint, token string) (bool, error)
	ReleaseClaim(ctx context.Context, id uint, token string) error
	RecordFailedAttempt(ctx context.Context, id uint) error
	CreateAnalysis(ctx context.Context, a *models.Analysis) error
}

// Extractor classifies one email body
type Extractor interface {
	Extract(ctx context.Context, bodyHTML, contextHint string) extraction.Outcome
}

// ContextBuilder renders prior deals for the extraction prompt
type ContextBuilder interface {
	Build(ctx context.Context, msg *models.RawMessage) (string, error)
}

// LinkResolver resolves a tracking link, best-effort
type LinkResolver interface {
	Resolve(ctx context.Context, trackedURL string) *models.ResolvedLink
}

// Dispatcher notifies subscribers about a stored analysis
type Dispatcher interface {
	DispatchAnalysis(ctx context.Context, a *models.Analysis, msg *models.RawMessage, store *models.Store) notify.Result
}

// Deps are the collaborators of a Pipeline
type Deps struct {
	Repo       Repository
	Mailboxes  []fetcher.Mailbox
	Extractor  Extractor
	Novelty    ContextBuilder
	Links      LinkResolver
	Dispatcher Dispatcher
	Ledger     ledger.Recorder
	Metrics    *metrics.Metrics
}

// Stats summarizes one analysis pass
type Stats struct {
	Claimed   int `json:"claimed"`
	Analyzed  int `json:"analyzed"`
	Failed    int `json:"failed"`
	Discarded int `json:"discarded"`
	Notified  int `json:"notified"`
	Skipped   int `json:"skipped"`
}

// Pipeline ties ingestion, extraction, persistence and dispatch together
type Pipeline struct {
	Deps
	claim         repository.ClaimOptions
	maxTitleWords int
	pacing        *rate.Limiter
}

// New creates a pipeline
func New(deps Deps, cfg *config.Config) *Pipeline {
	limit := rate.Inf
	if cfg.Extraction.Pacing > 0 {
		limit = rate.Every(cfg.Extraction.Pacing)
	}

	maxWords := cfg.Extraction.MaxTitleWords
	if maxWords <= 0 {
		maxWords = 8
	}

	return &Pipeline{
		Deps: deps,
		claim: repository.ClaimOptions{
			Limit:       cfg.Claim.BatchSize,
			Lease:       cfg.Claim.Lease,
			MaxAttempts: cfg.Claim.MaxAttempts,
		},
		maxTitleWords: maxWords,
		pacing:        rate.NewLimiter(limit, 1),
	}
}

// Mailbox returns the monitored mailbox for address
func (p *Pipeline) Mailbox(address string) (fetcher.Mailbox, bool) {
	for _, mb := range p.Mailboxes {
		if strings.EqualFold(mb.Address(), strings.TrimSpace(address)) {
			return mb, true
		}
	}
	return nil, false
}

// Run ingests every mailbox and analyzes one claimed batch
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	for _, mb := range p.Mailboxes {
		if _, err := p.Ingest(ctx, mb); err != nil {
			logrus.WithField("mailbox", mb.Address()).Errorf("Ingestion failed: %v", err)
		}
	}
	return p.Analyze(ctx)
}

// RunForMailbox ingests one mailbox and analyzes one claimed batch
func (p *Pipeline) RunForMailbox(ctx context.Context, mb fetcher.Mailbox) (Stats, error) {
	if _, err := p.Ingest(ctx, mb); err != nil {
		logrus.WithField("mailbox", mb.Address()).Errorf("Ingestion failed: %v", err)
	}
	return p.Analyze(ctx)
}

// Ingest stores new mail of mb as raw messages and returns how many were new.
// The store is matched once here and never re-matched later.
func (p *Pipeline) Ingest(ctx context.Context, mb fetcher.Mailbox) (int, error) {
	emails, err := mb.FetchRecent(ctx)
	if err != nil {
		p.Ledger.Record(ctx, ledger.TaskFetchEmails, true, fmt.Errorf("%s: %w", mb.Address(), err))
		return 0, err
	}
	p.Metrics.EmailsFetched.WithLabelValues(mb.Address()).Add(float64(len(emails)))

	stores, err := p.Repo.ListStores(ctx)
	if err != nil {
		p.Ledger.Record(ctx, ledger.TaskFetchEmails, true, err)
		return 0, err
	}

	created := 0
	for _, email := range emails {
		msg := &models.RawMessage{
			GmailID:    email.GmailID,
			Sender:     email.From,
			Inbox:      mb.Address(),
			Subject:    email.Subject,
			Body:       email.Body,
			ReceivedAt: email.ReceivedAt,
		}
		if store := domainmatch.Match(domainmatch.ExtractAddress(email.From), stores); store != nil {
			msg.StoreID = &store.ID
		}

		ok, err := p.Repo.InsertRawMessage(ctx, msg)
		if err != nil {
			p.Ledger.Record(ctx, ledger.TaskFetchEmails, false, fmt.Errorf("message %s: %w", email.GmailID, err))
			continue
		}
		if ok {
			created++
		}
	}

	p.Metrics.EmailsIngested.WithLabelValues(mb.Address()).Add(float64(created))
	logrus.WithFields(logrus.Fields{
		"mailbox": mb.Address(),
		"fetched": len(emails),
		"new":     created,
	}).Info("Mailbox ingested")
	return created, nil
}

// Analyze claims one batch and processes each message. Every claim is
// released before Analyze returns, whatever happened to the message.
func (p *Pipeline) Analyze(ctx context.Context) (Stats, error) {
	var stats Stats
	start := time.Now()
	defer func() {
		p.Metrics.ProcessingTime.Observe(time.Since(start).Seconds())
	}()

	claimed, token, err := p.Repo.ClaimBatch(ctx, p.claim)
	if err != nil {
		p.Ledger.Record(ctx, ledger.TaskAnalyzeEmail, true, err)
		return stats, err
	}
	stats.Claimed = len(claimed)
	p.Metrics.MessagesClaimed.Add(float64(len(claimed)))

	log := logrus.WithFields(logrus.Fields{"run_id": uuid.NewString(), "claimed": len(claimed)})
	if len(claimed) == 0 {
		log.Debug("Nothing to analyze")
		return stats, nil
	}

	var abort error
	for i := range claimed {
		msg := &claimed[i]
		if abort != nil || ctx.Err() != nil {
			p.release(ctx, msg, token)
			continue
		}
		if err := p.processOne(ctx, msg, token, &stats); errors.Is(err, errSystemic) {
			log.Warnf("Stopping batch after systemic failure on message %d", msg.ID)
			abort = err
		}
	}

	log.WithFields(logrus.Fields{
		"analyzed":  stats.Analyzed,
		"failed":    stats.Failed,
		"discarded": stats.Discarded,
		"notified":  stats.Notified,
		"skipped":   stats.Skipped,
		"duration":  time.Since(start).String(),
	}).Info("Analysis batch finished")

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (p *Pipeline) processOne(ctx context.Context, msg *models.RawMessage, token string, stats *Stats) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stats.Failed++
			p.Ledger.Record(ctx, ledger.TaskAnalyzeEmail, true, fmt.Errorf("panic processing message %d: %v", msg.ID, r))
			err = nil
		}
		p.release(ctx, msg, token)
	}()

	if err := p.pacing.Wait(ctx); err != nil {
		return err
	}

	// The batch shares one lease; each message restarts it or gives way
	// to the worker that took it over.
	held, err := p.Repo.RenewClaim(ctx, msg.ID, token)
	if err != nil {
		stats.Failed++
		p.Ledger.Record(ctx, ledger.TaskAnalyzeEmail, true, fmt.Errorf("message %d: %w", msg.ID, err))
		return nil
	}
	if !held {
		stats.Skipped++
		messageLog(msg).Warn("Claim taken over by another worker, skipping")
		return nil
	}

	hint, err := p.Novelty.Build(ctx, msg)
	if err != nil {
		stats.Failed++
		p.Ledger.Record(ctx, ledger.TaskAnalyzeEmail, true, fmt.Errorf("message %d: %w", msg.ID, err))
		return nil
	}

	outcome := p.Extractor.Extract(ctx, msg.Body, hint)
	p.Metrics.ExtractionAttempts.Observe(float64(outcome.Attempts))
	if !outcome.Success {
		stats.Failed++
		p.Metrics.ExtractionFailures.WithLabelValues(string(outcome.Category)).Inc()
		systemic := outcome.Category.Systemic()
		p.Ledger.Record(ctx, ledger.TaskAnalyzeEmail, systemic,
			fmt.Errorf("message %d: %s (%s)", msg.ID, outcome.Error, outcome.Category))
		if !systemic {
			p.countFailure(ctx, msg)
			return nil
		}
		if outcome.Category == llm.CategoryAuth || outcome.Category == llm.CategoryRateLimit {
			return errSystemic
		}
		return nil
	}

	deal := outcome.Data
	if err := extraction.Validate(deal, p.maxTitleWords); err != nil {
		stats.Discarded++
		p.Metrics.ValidationDiscards.Inc()
		p.Ledger.Record(ctx, ledger.TaskValidation, false, fmt.Errorf("message %d: %w", msg.ID, err))
		p.countFailure(ctx, msg)
		return nil
	}

	if deal.IsSale && deal.HasLink() {
		if link := p.Links.Resolve(ctx, deal.MainLink); link != nil {
			p.Metrics.LinksResolved.Inc()
		}
	}

	analysis := &models.Analysis{
		RawMessageID:    msg.ID,
		IsSale:          deal.IsSale,
		IsPersonal:      deal.IsPersonal,
		Title:           deal.Title,
		Grabber:         deal.Grabber,
		Description:     deal.Description,
		MainLink:        deal.MainLink,
		Products:        deal.Products,
		DealProbability: deal.DealProbability,
		IsNewDealBetter: deal.IsNewDealBetter,
	}
	if err := p.Repo.CreateAnalysis(ctx, analysis); err != nil {
		stats.Failed++
		major := !errors.Is(err, repository.ErrAlreadyAnalyzed)
		p.Ledger.Record(ctx, ledger.TaskAnalyzeEmail, major, fmt.Errorf("message %d: %w", msg.ID, err))
		return nil
	}
	stats.Analyzed++
	p.Metrics.AnalysesCreated.Inc()
	messageLog(msg).WithFields(logrus.Fields{
		"is_sale":     analysis.IsSale,
		"probability": analysis.DealProbability,
	}).Info("Analysis stored")

	if res := p.Dispatcher.DispatchAnalysis(ctx, analysis, msg, msg.Store); res.Recipients > 0 {
		stats.Notified++
	}
	return nil
}

func messageLog(msg *models.RawMessage) *logrus.Entry {
	var storeID uint
	if msg.StoreID != nil {
		storeID = *msg.StoreID
	}
	return logrus.WithFields(logrus.Fields{"message_id": msg.ID, "store_id": storeID, "inbox": msg.Inbox})
}

func (p *Pipeline) countFailure(ctx context.Context, msg *models.RawMessage) {
	if err := p.Repo.RecordFailedAttempt(ctx, msg.ID); err != nil {
		messageLog(msg).Errorf("Failed to record failed attempt: %v", err)
	}
}

func (p *Pipeline) release(ctx context.Context, msg *models.RawMessage, token string) {
	if err := p.Repo.ReleaseClaim(context.WithoutCancel(ctx), msg.ID, token); err != nil {
		p.Ledger.Record(ctx, ledger.TaskAnalyzeEmail, true, fmt.Errorf("release claim of message %d: %w", msg.ID, err))
	}
}
