package httpapi

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"crm-platform/internal/platform"
	"crm-platform/internal/webhook"
	"crm-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	webhookSecretHeader = "X-Webhook-Secret"
	maxWebhookBody      = 1 << 20
)

// RequireSecret guards webhook and operator routes with a shared secret,
// sent in X-Webhook-Secret or as ?secret= for senders that cannot set headers.
func RequireSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "webhook secret not configured"})
			return
		}
		got := c.GetHeader(webhookSecretHeader)
		if got == "" {
			got = c.Query("secret")
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
		c.Next()
	}
}

// PlatformWebhook records the delivery and processes it inline. Once the
// event is stored the answer is 200 even if processing failed; the retry
// sweeper owns it from there.
func (h Handlers) PlatformWebhook(c *gin.Context) {
	if h.Webhooks == nil || h.Tenants == nil {
		notConfigured(c, "webhooks")
		return
	}
	tid := strings.TrimSpace(c.Param("tenant_id"))
	if _, err := h.Tenants.Get(c.Request.Context(), tid); err != nil {
		writeError(c, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	e, err := h.Webhooks.Receive(c.Request.Context(), tid, webhook.SourcePlatform, platform.EventType(body), body)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.FromGin(c).Info("platform webhook",
		"tenant_id", tid,
		"event_id", e.ID,
		"event_type", e.EventType,
		"status", e.Status,
	)
	c.JSON(http.StatusOK, gin.H{"id": e.ID, "status": e.Status})
}

// GatewayWebhook treats any delivery as a hint to refresh the named instance.
func (h Handlers) GatewayWebhook(c *gin.Context) {
	if h.Monitor == nil {
		notConfigured(c, "status monitor")
		return
	}
	_, _ = io.Copy(io.Discard, http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))

	inst, err := h.Monitor.HandleGatewayEvent(c.Request.Context(), c.Param("gateway_name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance_id": inst.ID, "status": inst.Status})
}

func (h Handlers) WebhookStatus(c *gin.Context) {
	if h.Webhooks == nil {
		notConfigured(c, "webhooks")
		return
	}
	tid := strings.TrimSpace(c.Query("tenant_id"))
	if tid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tenant_id required"})
		return
	}
	report, err := h.Webhooks.Status(c.Request.Context(), tid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// SweepWebhooks runs one retry pass now instead of waiting for the schedule.
func (h Handlers) SweepWebhooks(c *gin.Context) {
	if h.Webhooks == nil {
		notConfigured(c, "webhooks")
		return
	}
	res, err := h.Webhooks.Sweep(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) RetryWebhook(c *gin.Context) {
	if h.Webhooks == nil {
		notConfigured(c, "webhooks")
		return
	}
	tid := strings.TrimSpace(c.Query("tenant_id"))
	if tid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tenant_id required"})
		return
	}
	e, err := h.Webhooks.Retry(c.Request.Context(), tid, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}
