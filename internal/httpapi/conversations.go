package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"crm-platform/internal/conversation"
	"crm-platform/internal/realtime"
	"crm-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

func (h Handlers) SyncConversations(c *gin.Context) {
	if h.Conversations == nil {
		notConfigured(c, "conversations")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	res, err := h.Conversations.FullSync(c.Request.Context(), tid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) ListConversations(c *gin.Context) {
	if h.Conversations == nil {
		notConfigured(c, "conversations")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	f := conversation.ListFilter{
		Status:  conversation.Status(strings.TrimSpace(c.Query("status"))),
		StageID: strings.TrimSpace(c.Query("stage_id")),
	}
	var err error
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "offset must be an integer"})
		return
	}

	rows, err := h.Conversations.ListConversations(c.Request.Context(), tid, f)
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []conversation.Row{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": rows})
}

func (h Handlers) GetConversation(c *gin.Context) {
	if h.Conversations == nil {
		notConfigured(c, "conversations")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	row, err := h.Conversations.GetConversation(c.Request.Context(), tid, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

type stageRequest struct {
	StageID string `json:"stage_id"`
}

func (h Handlers) ChangeStage(c *gin.Context) {
	if h.Conversations == nil {
		notConfigured(c, "conversations")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	var req stageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.StageID) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "stage_id required"})
		return
	}
	conv, err := h.Conversations.ApplyStageChange(c.Request.Context(), tid, c.Param("id"), req.StageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

type messageRequest struct {
	Content string `json:"content"`
}

func (h Handlers) SendMessage(c *gin.Context) {
	if h.Conversations == nil {
		notConfigured(c, "conversations")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "content required"})
		return
	}
	msg, err := h.Conversations.SendMessage(c.Request.Context(), tid, c.Param("id"), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h Handlers) ListStages(c *gin.Context) {
	if h.Conversations == nil {
		notConfigured(c, "conversations")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	stages, err := h.Conversations.ListStages(c.Request.Context(), tid)
	if err != nil {
		writeError(c, err)
		return
	}
	if stages == nil {
		stages = []conversation.Stage{}
	}
	c.JSON(http.StatusOK, gin.H{"stages": stages})
}

// RealtimeStream pushes the tenant's conversation notices over a websocket.
func (h Handlers) RealtimeStream(c *gin.Context) {
	if h.Realtime == nil {
		notConfigured(c, "realtime")
		return
	}
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	if err := realtime.Stream(c.Writer, c.Request, h.Realtime, tid, h.Stream); err != nil {
		logger.FromGin(c).Warn("realtime stream ended", "err", err)
	}
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
