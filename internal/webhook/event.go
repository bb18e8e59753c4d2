package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var ErrMalformedPayload = errors.New("malformed webhook payload")

// Event 回调事件，只有以下三种实现
type Event interface {
	CorrelationID() string
	isEvent()
}

// CompletedEvent 处理方确认收款
type CompletedEvent struct {
	Correlation       string
	Amount            decimal.Decimal
	DestinationWallet string
}

// ExpiredEvent 收款过期或被取消
type ExpiredEvent struct {
	Correlation string
	Status      string
}

// UnknownEvent 未识别的状态，确认收到但不改变记录
type UnknownEvent struct {
	Correlation string
	Status      string
}

func (e *CompletedEvent) CorrelationID() string { return e.Correlation }
func (e *ExpiredEvent) CorrelationID() string   { return e.Correlation }
func (e *UnknownEvent) CorrelationID() string   { return e.Correlation }

func (*CompletedEvent) isEvent() {}
func (*ExpiredEvent) isEvent()   {}
func (*UnknownEvent) isEvent()   {}

// payload 回调请求体
type payload struct {
	CorrelationID     string           `json:"correlationId"`
	Status            string           `json:"status"`
	Value             *decimal.Decimal `json:"value"`
	Amount            *decimal.Decimal `json:"amount"`
	DestinationWallet string           `json:"destinationWallet"`
}

// Parse 解析回调请求体，字段缺失或格式错误返回 ErrMalformedPayload
func Parse(raw []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	p.CorrelationID = strings.TrimSpace(p.CorrelationID)
	if p.CorrelationID == "" {
		return nil, fmt.Errorf("%w: correlationId is required", ErrMalformedPayload)
	}
	status := strings.ToUpper(strings.TrimSpace(p.Status))
	if status == "" {
		return nil, fmt.Errorf("%w: status is required", ErrMalformedPayload)
	}
	if p.DestinationWallet != "" && !common.IsHexAddress(p.DestinationWallet) {
		return nil, fmt.Errorf("%w: destinationWallet is not an address", ErrMalformedPayload)
	}

	switch status {
	case "COMPLETED":
		amount := p.Amount
		if amount == nil {
			amount = p.Value
		}
		if amount == nil || !amount.IsPositive() {
			return nil, fmt.Errorf("%w: completed event requires a positive amount", ErrMalformedPayload)
		}
		return &CompletedEvent{
			Correlation:       p.CorrelationID,
			Amount:            *amount,
			DestinationWallet: p.DestinationWallet,
		}, nil
	case "EXPIRED", "CANCELLED", "CANCELED", "FAILED":
		return &ExpiredEvent{Correlation: p.CorrelationID, Status: status}, nil
	default:
		return &UnknownEvent{Correlation: p.CorrelationID, Status: status}, nil
	}
}
