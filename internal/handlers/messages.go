package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"saledrop-pipeline/internal/models"
	"saledrop-pipeline/internal/repository"
)

// GetMessage returns a raw message with its claim state and matched store
func (h *Handlers) GetMessage(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	msg, err := h.repo.GetRawMessage(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not_found", Message: "Message not found", Code: http.StatusNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database_error", Message: InternalErrorMessage, Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, msg)
}
