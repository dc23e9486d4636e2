package adminhttp

import (
	"errors"
	"net/http"
	"strconv"

	"bastion/internal/types"

	"github.com/gin-gonic/gin"
)

// Router 暴露控制面的管理接口（状态查询 + 人工干预）。
type Router struct {
	ctrl Control
}

func NewRouter(ctrl Control) *Router {
	return &Router{ctrl: ctrl}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.POST("/mode", r.handleSetMode)
	group.POST("/pause", r.handlePause)
	group.POST("/resume", r.handleResume)
	group.POST("/killswitch/reset", r.handleKillSwitchReset)
	group.GET("/alerts", r.handleAlerts)
	group.POST("/alerts/:id/actions/:name", r.handleAlertAction)
}

func (r *Router) handleStatus(c *gin.Context) {
	view, err := r.ctrl.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (r *Router) handleSetMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	changedBy := req.ChangedBy
	if changedBy == "" {
		changedBy = c.ClientIP()
	}
	if err := r.ctrl.SetMode(c.Request.Context(), req.Mode, req.Credential, changedBy); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

func (r *Router) handlePause(c *gin.Context) {
	var req pauseRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual pause via admin api"
	}
	if err := r.ctrl.Pause(c.Request.Context(), req.Reason); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": "paused"})
}

func (r *Router) handleResume(c *gin.Context) {
	if err := r.ctrl.Resume(c.Request.Context()); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": "active"})
}

func (r *Router) handleKillSwitchReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.ctrl.ResetKillSwitch(c.Request.Context(), req.Credential); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": "active"})
}

func (r *Router) handleAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	alerts, err := r.ctrl.RecentAlerts(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (r *Router) handleAlertAction(c *gin.Context) {
	alertID := c.Param("id")
	action := c.Param("name")
	if err := r.ctrl.InvokeAlertAction(c.Request.Context(), alertID, action); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": alertID, "action": action, "status": "invoked"})
}

// statusForError 将结构化拒绝映射为 HTTP 状态码：
// 人工操作被规则拒绝是 403/409 而不是 500。
func statusForError(err error) int {
	var mr *types.ModeRestriction
	if errors.As(err, &mr) {
		return http.StatusForbidden
	}
	if types.IsHalted(err) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}
