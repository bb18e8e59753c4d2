package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/dto"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

const (
	// AuthHeader 认证头名称
	AuthHeader = "Authorization"
	// BearerScheme 运维接口认证方案
	BearerScheme = "Bearer"
)

// AdminAuth 运维接口认证，token 为空时拒绝所有请求
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided, ok := parseBearer(c.GetHeader(AuthHeader))
		if !ok || token == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			logger.Warn("admin request rejected",
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()),
				zap.String(TraceIDKey, GetTraceID(c)),
			)
			abortWithError(c, dto.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func parseBearer(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], BearerScheme) {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func abortWithError(c *gin.Context, err *dto.BizError) {
	c.AbortWithStatusJSON(err.HTTPStatus, dto.NewErrorResponse(err))
}
