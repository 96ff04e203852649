package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"saledrop-pipeline/internal/config"
	"saledrop-pipeline/internal/db"
	"saledrop-pipeline/internal/extraction"
	"saledrop-pipeline/internal/fetcher"
	"saledrop-pipeline/internal/handlers"
	"saledrop-pipeline/internal/ledger"
	"saledrop-pipeline/internal/linkresolver"
	"saledrop-pipeline/internal/llm"
	"saledrop-pipeline/internal/metrics"
	"saledrop-pipeline/internal/notify"
	"saledrop-pipeline/internal/novelty"
	"saledrop-pipeline/internal/pipeline"
	"saledrop-pipeline/internal/promotions"
	"saledrop-pipeline/internal/repository"
	"saledrop-pipeline/internal/scheduler"
	"saledrop-pipeline/internal/server"
	"saledrop-pipeline/internal/trigger"
)

const queueSize = 32

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting saledrop pipeline")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	rec := ledger.NewDBRecorder(dbConn)
	repo := repository.New(dbConn)

	model, err := llm.NewGemini(ctx, cfg.Extraction.APIKey, cfg.Extraction.Model)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	links, err := linkresolver.New(cfg.Links, repo, rec)
	if err != nil {
		return fmt.Errorf("failed to create link resolver: %w", err)
	}

	inboxes := notify.Inboxes{Male: cfg.Mailboxes.Male.Address, Female: cfg.Mailboxes.Female.Address}
	dispatcher := notify.NewDispatcher(repo, notify.NewExpoGateway(cfg.Notify), rec, m, inboxes, cfg.Notify)

	var mailboxes []fetcher.Mailbox
	for _, mb := range []config.MailboxConfig{cfg.Mailboxes.Male, cfg.Mailboxes.Female} {
		gm, err := fetcher.NewGmailMailbox(ctx, cfg.Gmail, mb)
		if err != nil {
			return fmt.Errorf("failed to create mailbox %s: %w", mb.Address, err)
		}
		mailboxes = append(mailboxes, gm)
	}

	p := pipeline.New(pipeline.Deps{
		Repo:       repo,
		Mailboxes:  mailboxes,
		Extractor:  extraction.NewClient(model, cfg.Extraction),
		Novelty:    novelty.NewBuilder(repo, cfg.Novelty),
		Links:      links,
		Dispatcher: dispatcher,
		Ledger:     rec,
		Metrics:    m,
	}, cfg)

	queue := pipeline.NewQueue(p, m, queueSize, cfg.Scheduler.Workers)
	queue.Start(ctx)

	var moderator *promotions.Moderator
	if cfg.Moderation.Enabled {
		moderator = promotions.NewModerator(model, cfg.Extraction)
	}
	promos := promotions.NewService(repo, moderator, dispatcher, rec, m, cfg.RateLimit)

	sched := scheduler.NewScheduler(cfg.Scheduler, cfg.Gmail.TopicName, p, promos, mailboxes, rec)

	var listener *trigger.Listener
	if cfg.PubSub.Enabled {
		listener, err = trigger.NewListener(ctx, cfg.PubSub, queue, rec)
		if err != nil {
			return fmt.Errorf("failed to create pubsub listener: %w", err)
		}
		go func() {
			if err := listener.Run(ctx); err != nil {
				logrus.Errorf("Pub/Sub listener stopped: %v", err)
			}
		}()
	}

	h := handlers.NewHandlers(dbConn, sched, queue, rec, rec, promos, repo)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if cfg.Gmail.TopicName != "" {
		go sched.RenewWatches(ctx)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}

	// Queued jobs drain before the context is cancelled
	queue.Stop()
	cancel()

	if listener != nil {
		if err := listener.Close(); err != nil {
			logrus.Errorf("Failed to close Pub/Sub listener: %v", err)
		}
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
