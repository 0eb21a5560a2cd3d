package httpapi

import (
	"net/http"

	"crm-platform/internal/auth"
	"crm-platform/internal/rbac"
	"crm-platform/internal/tenant"

	"github.com/gin-gonic/gin"
)

func (h Handlers) GetTenant(c *gin.Context) {
	if h.Tenants == nil {
		notConfigured(c, "tenants")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	t, err := h.Tenants.Get(c.Request.Context(), tid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Redacted())
}

type updateTenantRequest struct {
	Name              string `json:"name"`
	PlatformBaseURL   string `json:"platform_base_url"`
	PlatformAccountID int64  `json:"platform_account_id"`
	PlatformAPIToken  string `json:"platform_api_token"`
	GatewayBaseURL    string `json:"gateway_base_url"`
	GatewayAdminToken string `json:"gateway_admin_token"`
	MaxInstances      int    `json:"max_instances"`
}

// UpdateTenant stores the caller's upstream credentials. Tokens left empty
// are kept. The instance entitlement only changes for super_admin.
func (h Handlers) UpdateTenant(c *gin.Context) {
	if h.Tenants == nil {
		notConfigured(c, "tenants")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	var req updateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	role, _ := auth.Role(c.Request.Context())
	if !rbac.IsSuperAdmin(role) {
		req.MaxInstances = 0
	}

	t, err := h.Tenants.Save(c.Request.Context(), tenant.Tenant{
		ID:   tid,
		Name: req.Name,
		Credentials: tenant.Credentials{
			PlatformBaseURL:   req.PlatformBaseURL,
			PlatformAccountID: req.PlatformAccountID,
			PlatformAPIToken:  req.PlatformAPIToken,
			GatewayBaseURL:    req.GatewayBaseURL,
			GatewayAdminToken: req.GatewayAdminToken,
			MaxInstances:      req.MaxInstances,
		},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Redacted())
}

func (h Handlers) ListAudit(c *gin.Context) {
	if h.Audit == nil {
		notConfigured(c, "audit")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	events, err := h.Audit.Recent(c.Request.Context(), tid, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
