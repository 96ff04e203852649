package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"saledrop-pipeline/internal/models"
)

// StartScheduler starts the scheduler
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// StopScheduler stops the scheduler
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// RunOnce runs one pipeline pass and returns its statistics
func (h *Handlers) RunOnce(c *gin.Context) {
	stats, err := h.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		logrus.Errorf("Manual pipeline run failed: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "run_failed",
			Message: InternalErrorMessage,
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetSchedulerStatus returns scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"next_run": h.scheduler.GetNextRun(),
		"last_run": h.scheduler.GetLastRun(),
	})
}
