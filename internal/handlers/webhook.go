package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"saledrop-pipeline/internal/ledger"
	"saledrop-pipeline/internal/models"
	"saledrop-pipeline/internal/trigger"
)

// GmailWebhook receives Gmail watch notifications pushed by Pub/Sub. Errors
// are answered with 400, never 5xx, so the push subscription does not retry.
func (h *Handlers) GmailWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.webhookFailed(c, err)
		return
	}

	n, err := trigger.DecodeEnvelope(body)
	if err != nil {
		if errors.Is(err, trigger.ErrMalformed) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid_payload",
				Message: "Invalid notification payload",
				Code:    http.StatusBadRequest,
			})
			return
		}
		h.webhookFailed(c, err)
		return
	}

	if err := trigger.Dispatch(c.Request.Context(), h.queue, h.ledger, n); err != nil {
		h.webhookFailed(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) webhookFailed(c *gin.Context, err error) {
	h.ledger.Record(c.Request.Context(), ledger.TaskWebhook, true, err)
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "webhook_error",
		Message: InternalErrorMessage,
		Code:    http.StatusBadRequest,
	})
}
