package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eidos-exchange/eidos-bridge/internal/metrics"
)

// Metrics 返回 Prometheus 指标记录中间件
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 跳过 metrics 端点自身
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		// 使用路由模板，避免 pixId 之类的路径参数造成高基数
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		metrics.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start).Seconds(),
		)
	}
}
