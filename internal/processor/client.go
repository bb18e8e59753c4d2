// Package processor 调用 PIX 支付处理方创建收款单
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

var (
	ErrRejected    = errors.New("processor rejected charge")
	ErrUnavailable = errors.New("processor unavailable")
)

// ChargeRequest 创建收款单参数，金额单位为分
type ChargeRequest struct {
	CorrelationID string `json:"correlationID"`
	Value         int64  `json:"value"`
	Comment       string `json:"comment,omitempty"`
	ExpiresIn     int    `json:"expiresIn,omitempty"`
}

// Charge 处理方返回的收款单
type Charge struct {
	Identifier     string    `json:"identifier"`
	CorrelationID  string    `json:"correlationID"`
	Value          int64     `json:"value"`
	Status         string    `json:"status"`
	BRCode         string    `json:"brCode"`
	QRCodeImage    string    `json:"qrCodeImage"`
	PaymentLinkURL string    `json:"paymentLinkUrl"`
	ExpiresDate    time.Time `json:"expiresDate"`
}

type chargeResponse struct {
	Charge *Charge `json:"charge"`
	Error  string  `json:"error"`
}

// Client 支付处理方 HTTP 客户端，连续失败后熔断
type Client struct {
	baseURL string
	appID   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Charge]
}

// Config 客户端配置
type Config struct {
	BaseURL         string
	AppID           string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerOpen     time.Duration
}

// NewClient 创建客户端
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	openFor := cfg.BreakerOpen
	if openFor == 0 {
		openFor = 30 * time.Second
	}

	st := gobreaker.Settings{
		Name:        "processor",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		// 处理方明确拒绝不代表不可用
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		appID:   cfg.AppID,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[*Charge](st),
	}
}

// CreateCharge 创建收款单
func (c *Client) CreateCharge(ctx context.Context, req *ChargeRequest) (*Charge, error) {
	charge, err := c.breaker.Execute(func() (*Charge, error) {
		return c.createCharge(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return charge, err
}

func (c *Client) createCharge(ctx context.Context, req *ChargeRequest) (*Charge, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/charge", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.appID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed chargeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 400 || parsed.Charge == nil {
		msg := parsed.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, msg)
	}

	logger.Info("processor charge created",
		zap.String("correlation_id", req.CorrelationID),
		zap.String("identifier", parsed.Charge.Identifier),
		zap.Int64("value", req.Value))

	return parsed.Charge, nil
}
