// Package dto 提供 HTTP 数据传输对象定义
package dto

import (
	"errors"
	"net/http"

	bizerr "github.com/eidos-exchange/eidos-bridge/pkg/errors"
)

// BizError 业务错误
type BizError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

// Error 实现 error 接口
func (e *BizError) Error() string {
	return e.Message
}

// 通用错误 (10xxx)
var (
	ErrInvalidSignature  = &BizError{10001, "INVALID_SIGNATURE", http.StatusUnauthorized}
	ErrInvalidParams     = &BizError{10003, "INVALID_PARAMS", http.StatusBadRequest}
	ErrUnauthorized      = &BizError{10004, "UNAUTHORIZED", http.StatusUnauthorized}
	ErrInvalidWalletAddr = &BizError{10010, "INVALID_WALLET_ADDRESS", http.StatusBadRequest}
)

// 支付与铸币错误 (11xxx)
var (
	ErrPaymentNotFound = &BizError{11001, "PAYMENT_NOT_FOUND", http.StatusNotFound}
	ErrMintNotFound    = &BizError{11002, "MINT_NOT_FOUND", http.StatusNotFound}
	ErrStateConflict   = &BizError{11003, "STATE_CONFLICT", http.StatusConflict}
	ErrProcessorFailed = &BizError{11004, "PROCESSOR_ERROR", http.StatusBadGateway}
)

// 链上错误 (12xxx)
var (
	ErrCampaignNotFound   = &BizError{12001, "CAMPAIGN_NOT_FOUND", http.StatusNotFound}
	ErrNetworkMismatch    = &BizError{12002, "NETWORK_MISMATCH", http.StatusPreconditionFailed}
	ErrChainSubmission    = &BizError{12003, "CHAIN_SUBMISSION_FAILED", http.StatusBadGateway}
	ErrChainNotConfigured = &BizError{12004, "CHAIN_NOT_CONFIGURED", http.StatusServiceUnavailable}
)

// 系统错误 (20xxx)
var (
	ErrServiceUnavailable = &BizError{20002, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable}
	ErrInternalError      = &BizError{20003, "INTERNAL_ERROR", http.StatusInternalServerError}
	ErrUpstreamError      = &BizError{20005, "UPSTREAM_ERROR", http.StatusBadGateway}
)

// NewBizError 创建自定义业务错误
func NewBizError(code int, message string, httpStatus int) *BizError {
	return &BizError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// WithMessage 返回带自定义消息的错误副本
func (e *BizError) WithMessage(msg string) *BizError {
	return &BizError{
		Code:       e.Code,
		Message:    msg,
		HTTPStatus: e.HTTPStatus,
	}
}

type errorMapping struct {
	base *bizerr.Error
	dto  *BizError
}

var serviceErrors = []errorMapping{
	{bizerr.ErrAuthentication, ErrInvalidSignature},
	{bizerr.ErrUnauthorized, ErrUnauthorized},
	{bizerr.ErrValidation, ErrInvalidParams},
	{bizerr.ErrPaymentNotFound, ErrPaymentNotFound},
	{bizerr.ErrMintNotFound, ErrMintNotFound},
	{bizerr.ErrCampaignNotFound, ErrCampaignNotFound},
	{bizerr.ErrConflict, ErrStateConflict},
	{bizerr.ErrChainSubmission, ErrChainSubmission},
	{bizerr.ErrNetworkMismatch, ErrNetworkMismatch},
	{bizerr.ErrProcessor, ErrProcessorFailed},
	{bizerr.ErrServiceUnavailable, ErrServiceUnavailable},
	{bizerr.ErrBadGateway, ErrUpstreamError},
}

// FromError 将服务层错误转换为 HTTP 业务错误
// 服务层改写过的消息原样透出，其余使用错误码名
func FromError(err error) *BizError {
	if err == nil {
		return nil
	}
	var dtoErr *BizError
	if errors.As(err, &dtoErr) {
		return dtoErr
	}
	var svcErr *bizerr.Error
	if !errors.As(err, &svcErr) {
		return ErrInternalError
	}
	for _, m := range serviceErrors {
		if svcErr.Code != m.base.Code {
			continue
		}
		if svcErr.Message != m.base.Message {
			return m.dto.WithMessage(svcErr.Message)
		}
		return m.dto
	}
	return ErrInternalError
}
