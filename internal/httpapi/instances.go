package httpapi

import (
	"context"
	"net/http"

	"crm-platform/internal/instance"

	"github.com/gin-gonic/gin"
)

type createInstanceRequest struct {
	Label string `json:"label"`
}

func (h Handlers) CreateInstance(c *gin.Context) {
	if h.Instances == nil {
		notConfigured(c, "instances")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	var req createInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	inst, err := h.Instances.Provision(c.Request.Context(), tid, req.Label)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst.View())
}

func (h Handlers) ListInstances(c *gin.Context) {
	if h.Instances == nil {
		notConfigured(c, "instances")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	list, err := h.Instances.List(c.Request.Context(), tid)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]instance.View, 0, len(list))
	for _, inst := range list {
		out = append(out, inst.View())
	}
	c.JSON(http.StatusOK, gin.H{"instances": out})
}

func (h Handlers) GetInstance(c *gin.Context) {
	if h.Instances == nil {
		notConfigured(c, "instances")
		return
	}
	h.instanceAction(c, h.Instances.Get)
}

func (h Handlers) ReconnectInstance(c *gin.Context) {
	if h.Instances == nil {
		notConfigured(c, "instances")
		return
	}
	h.instanceAction(c, h.Instances.Reconnect)
}

// RepairInstance answers 502 with the updated instance when a half is still
// missing, so the caller sees what succeeded.
func (h Handlers) RepairInstance(c *gin.Context) {
	if h.Instances == nil {
		notConfigured(c, "instances")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	inst, err := h.Instances.Repair(c.Request.Context(), tid, c.Param("id"))
	if err != nil && inst.ID != "" {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error(), "instance": inst.View()})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst.View())
}

func (h Handlers) DeleteInstance(c *gin.Context) {
	if h.Instances == nil {
		notConfigured(c, "instances")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	if err := h.Instances.Deprovision(c.Request.Context(), tid, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) InstanceQRCode(c *gin.Context) {
	if h.Instances == nil {
		notConfigured(c, "instances")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	qr, inst, err := h.Instances.GetQRCode(c.Request.Context(), tid, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":      qr.Code,
		"pair_code": qr.PairCode,
		"connected": qr.Connected,
		"status":    inst.Status,
	})
}

func (h Handlers) RefreshInstance(c *gin.Context) {
	if h.Monitor == nil {
		notConfigured(c, "status monitor")
		return
	}
	h.instanceAction(c, h.Monitor.RefreshStatus)
}

func (h Handlers) instanceAction(c *gin.Context, fn func(ctx context.Context, tenantID, id string) (instance.Instance, error)) {
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	inst, err := fn(c.Request.Context(), tid, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst.View())
}
