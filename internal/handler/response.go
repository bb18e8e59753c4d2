// Package handler 提供 HTTP 请求处理
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/dto"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// Success 返回成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithPagination 返回分页成功响应
func SuccessWithPagination(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewPagedResponse(items, total, page, pageSize))
}

// Error 返回业务错误响应
func Error(c *gin.Context, err *dto.BizError) {
	c.JSON(err.HTTPStatus, dto.NewErrorResponse(err))
}

// BadRequest 返回参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, dto.ErrInvalidParams.WithMessage(message))
}

// InternalError 返回内部错误响应
func InternalError(c *gin.Context) {
	Error(c, dto.ErrInternalError)
}

// handleServiceError 服务层错误统一出口，5xx 记 error 日志
func handleServiceError(c *gin.Context, err error) {
	bizErr := dto.FromError(err)
	if bizErr.HTTPStatus >= http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	_ = c.Error(err)
	Error(c, bizErr)
}
