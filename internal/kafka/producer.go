// Package kafka 发布桥接事件
//
// Topic (无前缀，短横线分隔):
//   - bridge-payment-completed / bridge-payment-failed: 支付记录进入终态，key 为 correlation_id
//   - bridge-mint-confirmed / bridge-mint-failed: 铸币结果，key 为 correlation_id
//   - bridge-campaign-created: 新活动被镜像，key 为合约地址
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

var ErrProducerClosed = errors.New("producer is closed")

// EventPublisher 事件发布器接口
type EventPublisher interface {
	PublishPayment(ctx context.Context, event *model.PaymentEvent) error
	PublishMint(ctx context.Context, event *model.MintEvent) error
	PublishCampaignCreated(ctx context.Context, event *model.CampaignCreatedEvent) error
}

// Producer Kafka 同步生产者
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers       []string
	ClientID      string
	RequiredAcks  sarama.RequiredAcks
	MaxRetries    int
	RetryBackoff  time.Duration
	SASLEnable    bool
	SASLMechanism string
	SASLUser      string
	SASLPassword  string
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, err
	}
	return newProducer(producer), nil
}

func newProducer(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

func newSaramaConfig(cfg *ProducerConfig) *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	config.Producer.RequiredAcks = cfg.RequiredAcks
	if config.Producer.RequiredAcks == 0 {
		config.Producer.RequiredAcks = sarama.WaitForAll
	}
	config.Producer.Retry.Max = cfg.MaxRetries
	if config.Producer.Retry.Max == 0 {
		config.Producer.Retry.Max = 3
	}
	config.Producer.Retry.Backoff = cfg.RetryBackoff
	if config.Producer.Retry.Backoff == 0 {
		config.Producer.Retry.Backoff = 100 * time.Millisecond
	}

	if cfg.SASLEnable {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = cfg.SASLUser
		config.Net.SASL.Password = cfg.SASLPassword
		switch strings.ToUpper(cfg.SASLMechanism) {
		case "SCRAM-SHA-256":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{hashFn: scramSHA256}
			}
		case "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{hashFn: scramSHA512}
			}
		default:
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}
	return config
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

func (p *Producer) send(topic, key string, value interface{}) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// PublishPayment 按状态选择 topic
func (p *Producer) PublishPayment(ctx context.Context, event *model.PaymentEvent) error {
	topic := model.TopicPaymentCompleted
	if event.Status == model.PaymentStatusFailed.String() {
		topic = model.TopicPaymentFailed
	}
	return p.send(topic, event.CorrelationID, event)
}

// PublishMint 按结果选择 topic
func (p *Producer) PublishMint(ctx context.Context, event *model.MintEvent) error {
	topic := model.TopicMintConfirmed
	if event.Status == model.MintStatusFailed.String() {
		topic = model.TopicMintFailed
	}
	return p.send(topic, event.CorrelationID, event)
}

func (p *Producer) PublishCampaignCreated(ctx context.Context, event *model.CampaignCreatedEvent) error {
	return p.send(model.TopicCampaignCreated, event.ContractAddress, event)
}

// NoopPublisher Kafka 未启用时使用
type NoopPublisher struct{}

func (NoopPublisher) PublishPayment(ctx context.Context, event *model.PaymentEvent) error { return nil }
func (NoopPublisher) PublishMint(ctx context.Context, event *model.MintEvent) error       { return nil }
func (NoopPublisher) PublishCampaignCreated(ctx context.Context, event *model.CampaignCreatedEvent) error {
	return nil
}
