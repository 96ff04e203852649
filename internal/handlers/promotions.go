package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"saledrop-pipeline/internal/models"
	"saledrop-pipeline/internal/promotions"
	"saledrop-pipeline/internal/repository"
)

// CreatePromotion schedules a promotional message for a store
func (h *Handlers) CreatePromotion(c *gin.Context) {
	storeID, ok := idParam(c)
	if !ok {
		return
	}
	var req models.PromotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "validation_error", Message: "Invalid request body", Code: http.StatusBadRequest})
		return
	}

	p, err := h.promotions.Create(c.Request.Context(), storeID, &req)
	if err != nil {
		promotionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// UpdatePromotion edits an unsent promotional message
func (h *Handlers) UpdatePromotion(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req models.PromotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "validation_error", Message: "Invalid request body", Code: http.StatusBadRequest})
		return
	}

	p, err := h.promotions.Update(c.Request.Context(), id, &req)
	if err != nil {
		promotionError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetLimitStatus reports the advisory rate limit state of a store
func (h *Handlers) GetLimitStatus(c *gin.Context) {
	storeID, ok := idParam(c)
	if !ok {
		return
	}
	status, err := h.promotions.LimitStatus(c.Request.Context(), storeID)
	if err != nil {
		promotionError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ApprovePromotion releases a message held for manual review
func (h *Handlers) ApprovePromotion(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.promotions.Approve(c.Request.Context(), id); err != nil {
		promotionError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_id", Message: "Invalid ID", Code: http.StatusBadRequest})
		return 0, false
	}
	return uint(id), true
}

func promotionError(c *gin.Context, err error) {
	var limitErr *promotions.LimitError
	switch {
	case errors.As(err, &limitErr):
		c.JSON(http.StatusTooManyRequests, models.ErrorResponse{Error: "rate_limited", Message: limitErr.Message, Code: http.StatusTooManyRequests})
	case errors.Is(err, promotions.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "validation_error", Message: err.Error(), Code: http.StatusBadRequest})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not_found", Message: "Not found", Code: http.StatusNotFound})
	case errors.Is(err, promotions.ErrAlreadySent), errors.Is(err, promotions.ErrInvalidTransition):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "conflict", Message: err.Error(), Code: http.StatusConflict})
	default:
		logrus.Errorf("Promotion request failed: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal_error", Message: InternalErrorMessage, Code: http.StatusInternalServerError})
	}
}
