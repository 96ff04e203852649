package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"saledrop-pipeline/internal/ledger"
	"saledrop-pipeline/internal/models"
	"saledrop-pipeline/internal/pipeline"
	"saledrop-pipeline/internal/trigger"
)

// InternalErrorMessage is shown to clients instead of internal error details
const InternalErrorMessage = "Er is iets misgegaan. Probeer het later opnieuw."

// Scheduler is the scheduler control surface
type Scheduler interface {
	Start() error
	Stop() error
	IsRunning() bool
	RunOnce(ctx context.Context) (pipeline.Stats, error)
	GetNextRun() time.Time
	GetLastRun() time.Time
}

// LedgerReader lists recent error ledger entries
type LedgerReader interface {
	Recent(ctx context.Context, limit int, majorOnly bool) ([]models.LedgerEntry, error)
}

// Promotions is the promotional message workflow
type Promotions interface {
	Create(ctx context.Context, storeID uint, req *models.PromotionRequest) (*models.PromotionalMessage, error)
	Update(ctx context.Context, id uint, req *models.PromotionRequest) (*models.PromotionalMessage, error)
	LimitStatus(ctx context.Context, storeID uint) (*models.LimitStatusResponse, error)
	Approve(ctx context.Context, id uint) error
}

// Repository is the read and link-visit access the admin routes need
type Repository interface {
	GetRawMessage(ctx context.Context, id uint) (*models.RawMessage, error)
	GetLink(ctx context.Context, id uint) (*models.ResolvedLink, error)
	AddLinkVisit(ctx context.Context, linkID, userID uint) error
	CountLinkVisits(ctx context.Context, linkID uint) (int64, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	db         *gorm.DB
	scheduler  Scheduler
	queue      trigger.Enqueuer
	ledger     ledger.Recorder
	entries    LedgerReader
	promotions Promotions
	repo       Repository
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, s Scheduler, q trigger.Enqueuer, rec ledger.Recorder, errs LedgerReader, promos Promotions, repo Repository) *Handlers {
	return &Handlers{
		db:         db,
		scheduler:  s,
		queue:      q,
		ledger:     rec,
		entries:    errs,
		promotions: promos,
		repo:       repo,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/webhooks/gmail", h.GmailWebhook)

	api := router.Group("/api/v1")
	{
		api.GET("/errors", h.GetErrors)
		api.GET("/messages/:id", h.GetMessage)

		api.POST("/stores/:id/promotions", h.CreatePromotion)
		api.GET("/stores/:id/promotions/limit", h.GetLimitStatus)
		api.PUT("/promotions/:id", h.UpdatePromotion)
		api.POST("/promotions/:id/approve", h.ApprovePromotion)

		api.POST("/links/:id/visits", h.RecordLinkVisit)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}
