// Package alert 提供运维告警 (铸币失败等需要人工介入的事件)
//
// 同一 Key 的告警在去重窗口内只发送一次，恢复循环反复扫描同一笔
// 卡住的铸币时不会刷屏。Stop 会先发完队列中剩余的告警。
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// Severity 告警级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert 告警消息
type Alert struct {
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Severity    Severity          `json:"severity"`
	Source      string            `json:"source"`
	Environment string            `json:"environment"`
	Tags        map[string]string `json:"tags,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Key 去重键：标题加 correlation_id
func (a *Alert) Key() string {
	if id := a.Tags["correlation_id"]; id != "" {
		return a.Title + "|" + id
	}
	return a.Title
}

// Alerter 告警发送接口
type Alerter interface {
	Send(ctx context.Context, alert *Alert) error
	SendAsync(ctx context.Context, alert *Alert)
	Stop()
}

// Config 告警配置
type Config struct {
	Enabled            bool   `yaml:"enabled" json:"enabled"`
	Environment        string `yaml:"environment" json:"environment"`
	ServiceName        string `yaml:"service_name" json:"service_name"`
	WebhookURL         string `yaml:"webhook_url" json:"webhook_url"`
	WebhookType        string `yaml:"webhook_type" json:"webhook_type"` // slack, dingtalk, generic
	WebhookTimeout     int    `yaml:"webhook_timeout" json:"webhook_timeout"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	DedupWindowSecs    int    `yaml:"dedup_window_secs" json:"dedup_window_secs"`
}

type formatter func(*Alert) ([]byte, error)

var formatters = map[string]formatter{
	"slack":    formatSlack,
	"dingtalk": formatDingTalk,
}

type webhookAlerter struct {
	cfg    *Config
	client *http.Client
	format formatter
	dedup  time.Duration

	mu          sync.Mutex
	sent        int
	windowStart time.Time
	lastSent    map[string]time.Time
	closed      bool

	queue chan *Alert
	wg    sync.WaitGroup
}

// NewAlerter 根据配置创建告警器，未启用时返回 noop 实现
func NewAlerter(cfg *Config) Alerter {
	if cfg == nil || !cfg.Enabled || cfg.WebhookURL == "" {
		return NoopAlerter{}
	}

	timeout := 10 * time.Second
	if cfg.WebhookTimeout > 0 {
		timeout = time.Duration(cfg.WebhookTimeout) * time.Second
	}
	format, ok := formatters[cfg.WebhookType]
	if !ok {
		format = formatGeneric
	}

	a := &webhookAlerter{
		cfg:         cfg,
		client:      &http.Client{Timeout: timeout},
		format:      format,
		dedup:       time.Duration(cfg.DedupWindowSecs) * time.Second,
		windowStart: time.Now(),
		lastSent:    make(map[string]time.Time),
		queue:       make(chan *Alert, 100),
	}

	a.wg.Add(1)
	go a.drain()

	return a
}

// Send 同步发送；被限流或去重时返回 nil
func (a *webhookAlerter) Send(ctx context.Context, alert *Alert) error {
	a.stamp(alert)
	if !a.admit(alert) {
		return nil
	}
	return a.post(ctx, alert)
}

// SendAsync 入队后立即返回，队列满或已停止时丢弃并记日志
func (a *webhookAlerter) SendAsync(_ context.Context, alert *Alert) {
	a.stamp(alert)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		logger.Warn("alerter stopped, dropping alert", zap.String("key", alert.Key()))
		return
	}
	select {
	case a.queue <- alert:
	default:
		logger.Warn("alert queue full, dropping alert",
			zap.String("title", alert.Title),
			zap.String("key", alert.Key()))
	}
}

func (a *webhookAlerter) stamp(alert *Alert) {
	alert.Source = a.cfg.ServiceName
	alert.Environment = a.cfg.Environment
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
}

func (a *webhookAlerter) drain() {
	defer a.wg.Done()

	for alert := range a.queue {
		if !a.admit(alert) {
			continue
		}
		if err := a.post(context.Background(), alert); err != nil {
			logger.Error("async alert send failed",
				zap.String("title", alert.Title),
				zap.String("key", alert.Key()),
				zap.Error(err))
		}
	}
}

// admit 先去重再限流，两者都通过才发送
func (a *webhookAlerter) admit(alert *Alert) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	key := alert.Key()
	if a.dedup > 0 {
		if last, ok := a.lastSent[key]; ok && now.Sub(last) < a.dedup {
			logger.Debug("alert suppressed as duplicate", zap.String("key", key))
			return false
		}
	}

	if a.cfg.RateLimitPerMinute > 0 {
		if now.Sub(a.windowStart) > time.Minute {
			a.windowStart = now
			a.sent = 0
		}
		if a.sent >= a.cfg.RateLimitPerMinute {
			logger.Warn("alert rate limited", zap.String("key", key))
			return false
		}
		a.sent++
	}

	if a.dedup > 0 {
		a.lastSent[key] = now
	}
	return true
}

func (a *webhookAlerter) post(ctx context.Context, alert *Alert) error {
	payload, err := a.format(alert)
	if err != nil {
		return fmt.Errorf("format alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Stop 关闭队列并等待剩余告警发完
func (a *webhookAlerter) Stop() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func sortedTags(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatGeneric(alert *Alert) ([]byte, error) {
	return json.Marshal(alert)
}

func formatSlack(alert *Alert) ([]byte, error) {
	color := "#36a64f"
	switch alert.Severity {
	case SeverityWarning:
		color = "#ffc107"
	case SeverityCritical:
		color = "#dc3545"
	}

	fields := []map[string]interface{}{
		{"title": "Environment", "value": alert.Environment, "short": true},
		{"title": "Service", "value": alert.Source, "short": true},
	}
	for _, k := range sortedTags(alert.Tags) {
		fields = append(fields, map[string]interface{}{"title": k, "value": alert.Tags[k], "short": true})
	}

	return json.Marshal(map[string]interface{}{
		"attachments": []map[string]interface{}{{
			"color":  color,
			"title":  alert.Title,
			"text":   alert.Message,
			"fields": fields,
			"ts":     alert.Timestamp.Unix(),
		}},
	})
}

func formatDingTalk(alert *Alert) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "### [%s] %s\n\n", alert.Severity, alert.Title)
	fmt.Fprintf(&b, "**环境**: %s\n**服务**: %s\n**时间**: %s\n\n%s",
		alert.Environment, alert.Source, alert.Timestamp.Format("2006-01-02 15:04:05"), alert.Message)
	for _, k := range sortedTags(alert.Tags) {
		fmt.Fprintf(&b, "\n- %s: %s", k, alert.Tags[k])
	}

	return json.Marshal(map[string]interface{}{
		"msgtype":  "markdown",
		"markdown": map[string]string{"title": alert.Title, "text": b.String()},
	})
}

// NoopAlerter 告警关闭时使用
type NoopAlerter struct{}

func (NoopAlerter) Send(context.Context, *Alert) error { return nil }

func (NoopAlerter) SendAsync(context.Context, *Alert) {}

func (NoopAlerter) Stop() {}
