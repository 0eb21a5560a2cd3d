package httpapi

import (
	"context"
	"net/http"

	"crm-platform/internal/audit"
	"crm-platform/internal/auth"
	"crm-platform/internal/conversation"
	"crm-platform/internal/gateway"
	"crm-platform/internal/instance"
	"crm-platform/internal/platform"
	"crm-platform/internal/realtime"
	"crm-platform/internal/tenant"
	"crm-platform/internal/webhook"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Instances     Instances
	Monitor       StatusMonitor
	Conversations Conversations
	Webhooks      Webhooks
	Tenants       Tenants
	Audit         AuditLog
	Realtime      realtime.Subscriber
	Stream        realtime.StreamOptions
}

type Instances interface {
	Provision(ctx context.Context, tenantID, label string) (instance.Instance, error)
	List(ctx context.Context, tenantID string) ([]instance.Instance, error)
	Get(ctx context.Context, tenantID, id string) (instance.Instance, error)
	Deprovision(ctx context.Context, tenantID, id string) error
	Reconnect(ctx context.Context, tenantID, id string) (instance.Instance, error)
	Repair(ctx context.Context, tenantID, id string) (instance.Instance, error)
	GetQRCode(ctx context.Context, tenantID, id string) (gateway.QRCode, instance.Instance, error)
}

type StatusMonitor interface {
	RefreshStatus(ctx context.Context, tenantID, id string) (instance.Instance, error)
	HandleGatewayEvent(ctx context.Context, gatewayName string) (instance.Instance, error)
}

type Conversations interface {
	FullSync(ctx context.Context, tenantID string) (conversation.SyncResult, error)
	ListConversations(ctx context.Context, tenantID string, f conversation.ListFilter) ([]conversation.Row, error)
	GetConversation(ctx context.Context, tenantID, id string) (conversation.Row, error)
	ListStages(ctx context.Context, tenantID string) ([]conversation.Stage, error)
	ApplyStageChange(ctx context.Context, tenantID, conversationID, stageID string) (conversation.Conversation, error)
	SendMessage(ctx context.Context, tenantID, conversationID, content string) (platform.Message, error)
}

type Webhooks interface {
	Receive(ctx context.Context, tenantID, source, eventType string, payload []byte) (webhook.Event, error)
	Sweep(ctx context.Context) (webhook.SweepResult, error)
	Retry(ctx context.Context, tenantID, id string) (webhook.Event, error)
	Status(ctx context.Context, tenantID string) (webhook.StatusReport, error)
}

type Tenants interface {
	Get(ctx context.Context, tenantID string) (tenant.Tenant, error)
	Save(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error)
}

type AuditLog interface {
	Recent(ctx context.Context, tenantID string, limit int) ([]audit.Event, error)
}

// tenantID reads the caller's tenant or aborts with 401.
func tenantID(c *gin.Context) (string, bool) {
	tid, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return "", false
	}
	return tid, true
}

func notConfigured(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": what + " not configured"})
}
