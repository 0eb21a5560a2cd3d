package httpapi

import (
	"errors"
	"net/http"

	"crm-platform/internal/conversation"
	"crm-platform/internal/instance"
	"crm-platform/internal/tenant"
	"crm-platform/internal/upstream"
	"crm-platform/internal/webhook"
	"crm-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// writeError maps service errors to status codes. Unknown errors are logged
// and reported as 500 without detail.
func writeError(c *gin.Context, err error) {
	var (
		quota *instance.QuotaExceededError
		stage *conversation.StageNotFoundError
	)
	switch {
	case errors.As(err, &quota):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"error":     "instance quota exceeded",
			"limit":     quota.Limit,
			"used":      quota.Used,
			"remaining": quota.Remaining(),
		})

	case errors.As(err, &stage):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":        "unknown stage",
			"stage_id":     stage.StageID,
			"valid_stages": stage.Valid,
		})

	case errors.Is(err, instance.ErrNotFound),
		errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, webhook.ErrNotFound),
		errors.Is(err, tenant.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})

	case errors.Is(err, instance.ErrDuplicateName),
		errors.Is(err, instance.ErrInvalidTransition),
		errors.Is(err, instance.ErrIncomplete),
		errors.Is(err, conversation.ErrSyncInProgress),
		errors.Is(err, conversation.ErrConflict),
		errors.Is(err, webhook.ErrRetryExhausted),
		errors.Is(err, webhook.ErrNotRetryable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, instance.ErrInvalidArgument),
		errors.Is(err, conversation.ErrInvalidArgument),
		errors.Is(err, webhook.ErrInvalidArgument),
		errors.Is(err, tenant.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, upstream.ErrUnavailable):
		logger.FromGin(c).Warn("upstream failure", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})

	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
