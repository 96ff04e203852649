package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"saledrop-pipeline/internal/config"
	"saledrop-pipeline/internal/fetcher"
	"saledrop-pipeline/internal/ledger"
	"saledrop-pipeline/internal/pipeline"
)

// Pipeline runs one ingest and analysis pass
type Pipeline interface {
	Run(ctx context.Context) (pipeline.Stats, error)
}

// Promotions moderates and disperses promotional messages
type Promotions interface {
	Moderate(ctx context.Context) (int, error)
	Disperse(ctx context.Context) (int, error)
}

// Scheduler runs the pipeline, the promotion workflow and the Gmail watch
// renewal on cron schedules
type Scheduler struct {
	cron       *cron.Cron
	entryID    cron.EntryID
	config     config.SchedulerConfig
	topic      string
	pipeline   Pipeline
	promotions Promotions
	mailboxes  []fetcher.Mailbox
	ledger     ledger.Recorder
	ctx        context.Context
	cancel     context.CancelFunc
	isRunning  bool
	mu         sync.RWMutex
}

// NewScheduler creates a new scheduler. Watch renewal is only scheduled
// when topic is set.
func NewScheduler(cfg config.SchedulerConfig, topic string, p Pipeline, promos Promotions, mailboxes []fetcher.Mailbox, rec ledger.Recorder) *Scheduler {
	return &Scheduler{
		config:     cfg,
		topic:      topic,
		pipeline:   p,
		promotions: promos,
		mailboxes:  mailboxes,
		ledger:     rec,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	// A stopped cron keeps its entries, so every start gets a fresh one
	c := cron.New(cron.WithSeconds(), cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	ctx, cancel := context.WithCancel(context.Background())

	entryID, err := c.AddFunc(fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes), func() { s.runPipeline(ctx) })
	if err != nil {
		cancel()
		return fmt.Errorf("failed to add pipeline job: %w", err)
	}

	if s.promotions != nil && s.config.PromotionsIntervalMinutes > 0 {
		schedule := fmt.Sprintf("30 */%d * * * *", s.config.PromotionsIntervalMinutes)
		if _, err := c.AddFunc(schedule, func() { s.runPromotions(ctx) }); err != nil {
			cancel()
			return fmt.Errorf("failed to add promotions job: %w", err)
		}
	}

	if s.topic != "" && s.config.WatchRenewal != "" {
		if _, err := c.AddFunc(s.config.WatchRenewal, func() { s.RenewWatches(ctx) }); err != nil {
			cancel()
			return fmt.Errorf("failed to add watch renewal job: %w", err)
		}
	}

	s.cron = c
	s.entryID = entryID
	s.ctx = ctx
	s.cancel = cancel
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler and waits up to 30 seconds for running jobs
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// RunOnce runs one pipeline pass synchronously (for manual triggering)
func (s *Scheduler) RunOnce(ctx context.Context) (pipeline.Stats, error) {
	logrus.Info("Running pipeline once")
	return s.pipeline.Run(ctx)
}

// GetNextRun returns the time of the next scheduled pipeline run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last scheduled pipeline run
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Prev
}

func (s *Scheduler) runPipeline(ctx context.Context) {
	start := time.Now()
	stats, err := s.pipeline.Run(ctx)
	if err != nil {
		logrus.Errorf("Pipeline run failed: %v", err)
		return
	}
	logrus.WithFields(logrus.Fields{
		"claimed":  stats.Claimed,
		"analyzed": stats.Analyzed,
		"duration": time.Since(start).String(),
	}).Info("Pipeline run completed")
}

func (s *Scheduler) runPromotions(ctx context.Context) {
	if _, err := s.promotions.Moderate(ctx); err != nil {
		s.ledger.Record(ctx, ledger.TaskModeration, true, err)
	}
	if _, err := s.promotions.Disperse(ctx); err != nil {
		s.ledger.Record(ctx, ledger.TaskDisperse, true, err)
	}
}

// RenewWatches renews the Gmail push subscription of every mailbox
func (s *Scheduler) RenewWatches(ctx context.Context) {
	for _, mb := range s.mailboxes {
		res, err := mb.Watch(ctx, s.topic)
		if err != nil {
			s.ledger.Record(ctx, ledger.TaskGmailWatch, true, err)
			continue
		}
		logrus.WithFields(logrus.Fields{
			"mailbox":    mb.Address(),
			"history_id": res.HistoryID,
			"expiration": res.Expiration,
		}).Info("Gmail watch renewed")
	}
}
