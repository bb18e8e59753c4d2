package handler

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eidos-exchange/eidos-bridge/internal/dto"
)

// HealthCheck 依赖检查
type HealthCheck func(ctx context.Context) error

// HealthHandler 健康检查处理器
type HealthHandler struct {
	ready  atomic.Bool
	checks map[string]HealthCheck
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// SetReady 设置就绪状态
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Live 存活探针
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, &dto.HealthResponse{Status: "ok"})
}

// Ready 就绪探针，依赖全部可用才返回 200
// GET /health
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, &dto.HealthResponse{Status: "not ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			components[name] = err.Error()
			healthy = false
			continue
		}
		components[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, &dto.HealthResponse{Status: "unhealthy", Components: components})
		return
	}
	c.JSON(http.StatusOK, &dto.HealthResponse{Status: "ok", Components: components})
}
