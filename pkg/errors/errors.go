// Package errors 定义桥接服务的业务错误
//
// 服务层返回 *Error，handler 层按 Code 映射成对外的 HTTP 错误。
// 错误值不可修改，WithMessage / Wrap 总是返回副本。
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error 业务错误
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Cause      error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is 同错误码即视为同一错误，消息和 cause 不参与比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithMessage 返回替换消息后的副本
func (e *Error) WithMessage(message string) *Error {
	c := *e
	c.Message = message
	return &c
}

// WithMessagef 格式化版本的 WithMessage
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// NewWithStatus 定义一个业务错误
func NewWithStatus(code, message string, httpStatus int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap 挂上底层原因，消息保持不变
func Wrap(err *Error, cause error) *Error {
	c := *err
	c.Cause = cause
	return &c
}

// Wrapf 挂上底层原因并在消息后追加说明
func Wrapf(err *Error, cause error, format string, args ...interface{}) *Error {
	c := *err
	c.Message = err.Message + ": " + fmt.Sprintf(format, args...)
	c.Cause = cause
	return &c
}

// Is 判断 err 链上是否有同码业务错误
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	return errors.Is(err, target)
}

// GetCode 取错误码，非业务错误返回 UNKNOWN
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr.Code
	}
	return "UNKNOWN"
}

// 通用错误
var (
	ErrInternal           = NewWithStatus("INTERNAL_ERROR", "内部错误", http.StatusInternalServerError)
	ErrUnauthorized       = NewWithStatus("UNAUTHORIZED", "未授权", http.StatusUnauthorized)
	ErrServiceUnavailable = NewWithStatus("SERVICE_UNAVAILABLE", "服务不可用", http.StatusServiceUnavailable)
	ErrBadGateway         = NewWithStatus("BAD_GATEWAY", "网关错误", http.StatusBadGateway)
)

// 桥接业务错误
var (
	// ErrAuthentication 签名无效，拒绝且无副作用
	ErrAuthentication = NewWithStatus("AUTHENTICATION_FAILED", "签名无效", http.StatusUnauthorized)
	ErrValidation     = NewWithStatus("VALIDATION_FAILED", "请求参数无效", http.StatusBadRequest)
	// ErrPaymentNotFound 关联 ID 无对应记录，说明处理方与桥接失步
	ErrPaymentNotFound  = NewWithStatus("PAYMENT_NOT_FOUND", "支付记录不存在", http.StatusNotFound)
	ErrCampaignNotFound = NewWithStatus("CAMPAIGN_NOT_FOUND", "活动不存在", http.StatusNotFound)
	ErrMintNotFound     = NewWithStatus("MINT_NOT_FOUND", "铸币记录不存在", http.StatusNotFound)
	// ErrConflict 非法状态迁移；webhook 重复投递时被吸收，不会返回给调用方
	ErrConflict        = NewWithStatus("CONFLICT", "状态冲突", http.StatusConflict)
	ErrChainSubmission = NewWithStatus("CHAIN_SUBMISSION_FAILED", "链上交易失败", http.StatusBadGateway)
	ErrNetworkMismatch = NewWithStatus("NETWORK_MISMATCH", "网络不匹配", http.StatusPreconditionFailed)
	ErrProcessor       = NewWithStatus("PROCESSOR_ERROR", "支付处理方调用失败", http.StatusBadGateway)
)
