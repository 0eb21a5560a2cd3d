package main

import (
	"context"
	"net/http"

	"crm-platform/internal/auth"
	"crm-platform/internal/httpapi"
	"crm-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, webhookSecret string, ready func(context.Context) error) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Inbound webhooks, shared secret only.
	hooks := r.Group("/webhooks")
	hooks.Use(httpapi.RequireSecret(webhookSecret))
	{
		hooks.POST("/platform/:tenant_id", h.PlatformWebhook)
		hooks.POST("/gateway/:gateway_name", h.GatewayWebhook)
	}

	// Operator endpoints for the webhook queue.
	ops := r.Group("/internal/webhooks")
	ops.Use(httpapi.RequireSecret(webhookSecret))
	{
		ops.GET("/status", h.WebhookStatus)
		ops.POST("/retry", h.SweepWebhooks)
		ops.POST("/:id/retry", h.RetryWebhook)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireTenant())
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			tid, _ := auth.TenantID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
		})

		// TENANT settings
		settings := v1.Group("")
		settings.Use(rbac.RequireAnyRole(rbac.RoleOwner))
		{
			settings.GET("/tenant", h.GetTenant)
			settings.PUT("/tenant", h.UpdateTenant)
		}
		v1.GET("/audit", rbac.RequireAnyRole(rbac.Operators...), h.ListAudit)

		// INSTANCE routes
		instances := v1.Group("/instances")
		instances.Use(rbac.RequireAnyRole(rbac.ChannelAdmins...))
		{
			instances.POST("", h.CreateInstance)
			instances.GET("", h.ListInstances)
			instances.GET("/:id", h.GetInstance)
			instances.DELETE("/:id", h.DeleteInstance)
			instances.POST("/:id/reconnect", h.ReconnectInstance)
			instances.POST("/:id/repair", h.RepairInstance)
			instances.GET("/:id/qrcode", h.InstanceQRCode)
			instances.POST("/:id/refresh", h.RefreshInstance)
		}

		// CONVERSATION routes
		inbox := v1.Group("")
		inbox.Use(rbac.RequireAnyRole(rbac.Inbox...))
		{
			inbox.GET("/conversations", h.ListConversations)
			inbox.GET("/conversations/:id", h.GetConversation)
			inbox.POST("/conversations/:id/stage", h.ChangeStage)
			inbox.POST("/conversations/:id/messages", h.SendMessage)
			inbox.GET("/stages", h.ListStages)
			inbox.GET("/realtime/ws", h.RealtimeStream)
		}

		// Full sync hits the platform hard; managers only.
		v1.POST("/sync/conversations", rbac.RequireAnyRole(rbac.ChannelAdmins...), h.SyncConversations)
	}
}
