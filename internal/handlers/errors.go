package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"saledrop-pipeline/internal/models"
)

// GetErrors returns the newest error ledger entries
func (h *Handlers) GetErrors(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_limit", Message: "Invalid limit", Code: http.StatusBadRequest})
			return
		}
		limit = n
	}
	majorOnly := c.Query("major") == "true"

	entries, err := h.entries.Recent(c.Request.Context(), limit, majorOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: InternalErrorMessage,
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, entries)
}
