package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

const (
	// TraceIDHeader 请求头中的 TraceID 字段名
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey context 中的 TraceID 键名
	TraceIDKey = "trace_id"
)

// Trace 返回 Trace ID 中间件
// 请求头带 X-Trace-ID 时沿用，否则生成新的 UUID；trace id 同时写入请求 context 的日志字段
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)
		c.Request = c.Request.WithContext(logger.NewContext(c.Request.Context(), zap.String(TraceIDKey, traceID)))

		c.Next()
	}
}

// GetTraceID 从 context 获取 trace id
func GetTraceID(c *gin.Context) string {
	if v, ok := c.Get(TraceIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
