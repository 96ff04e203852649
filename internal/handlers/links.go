package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"saledrop-pipeline/internal/models"
	"saledrop-pipeline/internal/repository"
)

type linkVisitRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// RecordLinkVisit adds a user to the visit set of a resolved link
func (h *Handlers) RecordLinkVisit(c *gin.Context) {
	linkID, ok := idParam(c)
	if !ok {
		return
	}
	var req linkVisitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "validation_error", Message: "user_id is required", Code: http.StatusBadRequest})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.repo.GetLink(ctx, linkID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not_found", Message: "Link not found", Code: http.StatusNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database_error", Message: InternalErrorMessage, Code: http.StatusInternalServerError})
		return
	}
	if err := h.repo.AddLinkVisit(ctx, linkID, req.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database_error", Message: InternalErrorMessage, Code: http.StatusInternalServerError})
		return
	}
	count, err := h.repo.CountLinkVisits(ctx, linkID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database_error", Message: InternalErrorMessage, Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"link_id": linkID, "visits": count})
}
