package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eidos-exchange/eidos-bridge/pkg/alert"
)

// 账本存储后端
const (
	LedgerBackendPostgres = "postgres"
	LedgerBackendMemory   = "memory"
)

// 授权额度策略
const (
	AllowanceExact     = "exact"
	AllowanceUnlimited = "unlimited"
)

// Config 配置
type Config struct {
	Service        ServiceConfig        `yaml:"service" json:"service"`
	Postgres       PostgresConfig       `yaml:"postgres" json:"postgres"`
	Redis          RedisConfig          `yaml:"redis" json:"redis"`
	Kafka          KafkaConfig          `yaml:"kafka" json:"kafka"`
	Blockchain     BlockchainConfig     `yaml:"blockchain" json:"blockchain"`
	Webhook        WebhookConfig        `yaml:"webhook" json:"webhook"`
	Processor      ProcessorConfig      `yaml:"processor" json:"processor"`
	Ledger         LedgerConfig         `yaml:"ledger" json:"ledger"`
	Mint           MintConfig           `yaml:"mint" json:"mint"`
	Donation       DonationConfig       `yaml:"donation" json:"donation"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation" json:"reconciliation"`
	Admin          AdminConfig          `yaml:"admin" json:"admin"`
	Alert          alert.Config         `yaml:"alert" json:"alert"`
	Log            LogConfig            `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name        string   `yaml:"name" json:"name"`
	HTTPPort    int      `yaml:"http_port" json:"http_port"`
	GRPCPort    int      `yaml:"grpc_port" json:"grpc_port"`
	Env         string   `yaml:"env" json:"env"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	SSLMode         string `yaml:"ssl_mode" json:"ssl_mode"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled  bool       `yaml:"enabled" json:"enabled"`
	Brokers  []string   `yaml:"brokers" json:"brokers"`
	ClientID string     `yaml:"client_id" json:"client_id"`
	SASL     SASLConfig `yaml:"sasl" json:"sasl"`
}

// SASLConfig Kafka SASL 认证
type SASLConfig struct {
	Enable    bool   `yaml:"enable" json:"enable"`
	Mechanism string `yaml:"mechanism" json:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	RPCURL          string   `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs   []string `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID         int64    `yaml:"chain_id" json:"chain_id"`
	PrivateKey      string   `yaml:"private_key" json:"private_key"` // 托管铸币账户
	TokenAddress    string   `yaml:"token_address" json:"token_address"`
	FactoryAddress  string   `yaml:"factory_address" json:"factory_address"`
	FactoryDeployAt uint64   `yaml:"factory_deploy_block" json:"factory_deploy_block"`
	TokenDecimals   int32    `yaml:"token_decimals" json:"token_decimals"`
	GasLimit        uint64   `yaml:"gas_limit" json:"gas_limit"`
	PollInterval    int      `yaml:"poll_interval_ms" json:"poll_interval_ms"`
}

// RPCURLs 主 RPC 在前，备用 RPC 在后
func (c *BlockchainConfig) RPCURLs() []string {
	urls := make([]string, 0, 1+len(c.BackupRPCURLs))
	if c.RPCURL != "" {
		urls = append(urls, c.RPCURL)
	}
	return append(urls, c.BackupRPCURLs...)
}

// WebhookConfig 支付回调配置
type WebhookConfig struct {
	Secret       string `yaml:"secret" json:"-"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// ProcessorConfig 支付处理方配置
type ProcessorConfig struct {
	BaseURL          string `yaml:"base_url" json:"base_url"`
	AppID            string `yaml:"app_id" json:"-"`
	Timeout          int    `yaml:"timeout" json:"timeout"`
	ChargeExpiresIn  int    `yaml:"charge_expires_in" json:"charge_expires_in"`
	BreakerFailures  uint32 `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerOpenSecs  int    `yaml:"breaker_open_secs" json:"breaker_open_secs"`
	ChargeCommentFmt string `yaml:"charge_comment" json:"charge_comment"`
}

// LedgerConfig 账本配置
type LedgerConfig struct {
	Backend    string `yaml:"backend" json:"backend"`
	LockTTL    int    `yaml:"lock_ttl" json:"lock_ttl"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// MintConfig 铸币配置
type MintConfig struct {
	Confirmations  int `yaml:"confirmations" json:"confirmations"`
	AwaitTimeout   int `yaml:"await_timeout" json:"await_timeout"`
	Workers        int `yaml:"workers" json:"workers"`
	RecoverEvery   int `yaml:"recover_every" json:"recover_every"`
	SubmitDeadline int `yaml:"submit_deadline" json:"submit_deadline"`
}

// DonationConfig 捐赠客户端配置
type DonationConfig struct {
	AllowanceStrategy string `yaml:"allowance_strategy" json:"allowance_strategy"`
	Confirmations     int    `yaml:"confirmations" json:"confirmations"`
	AwaitTimeout      int    `yaml:"await_timeout" json:"await_timeout"`
	DonorPrivateKey   string `yaml:"donor_private_key" json:"-"`
}

// ReconciliationConfig 对账配置
type ReconciliationConfig struct {
	ReadTimeout     int `yaml:"read_timeout" json:"read_timeout"`
	RefreshInterval int `yaml:"refresh_interval" json:"refresh_interval"`
	IndexInterval   int `yaml:"index_interval" json:"index_interval"`
	IndexBatch      int `yaml:"index_batch" json:"index_batch"`
}

// AdminConfig 运维接口配置
type AdminConfig struct {
	Token string `yaml:"token" json:"-"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 检查启动必需项
func (c *Config) Validate() error {
	if c.Webhook.Secret == "" {
		return errors.New("webhook.secret is required")
	}
	if len(c.Blockchain.RPCURLs()) == 0 {
		return errors.New("blockchain.rpc_url is required")
	}
	if c.Blockchain.TokenAddress == "" {
		return errors.New("blockchain.token_address is required")
	}
	switch c.Ledger.Backend {
	case LedgerBackendPostgres, LedgerBackendMemory:
	default:
		return errors.New("ledger.backend must be postgres or memory")
	}
	switch c.Donation.AllowanceStrategy {
	case AllowanceExact, AllowanceUnlimited:
	default:
		return errors.New("donation.allowance_strategy must be exact or unlimited")
	}
	return nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		value := os.Getenv(parts[0])
		if value == "" && len(parts) > 1 {
			value = parts[1]
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "eidos-bridge"
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8080
	}
	if cfg.Service.GRPCPort == 0 {
		cfg.Service.GRPCPort = 50060
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 50
	}

	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = cfg.Service.Name
	}

	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 31337 // 本地开发
	}
	if cfg.Blockchain.TokenDecimals == 0 {
		cfg.Blockchain.TokenDecimals = 18
	}
	if cfg.Blockchain.GasLimit == 0 {
		cfg.Blockchain.GasLimit = 200000
	}
	if cfg.Blockchain.PollInterval == 0 {
		cfg.Blockchain.PollInterval = 1000
	}

	if cfg.Webhook.MaxBodyBytes == 0 {
		cfg.Webhook.MaxBodyBytes = 64 << 10
	}

	if cfg.Processor.Timeout == 0 {
		cfg.Processor.Timeout = 10
	}
	if cfg.Processor.ChargeExpiresIn == 0 {
		cfg.Processor.ChargeExpiresIn = 3600
	}
	if cfg.Processor.BreakerFailures == 0 {
		cfg.Processor.BreakerFailures = 5
	}
	if cfg.Processor.BreakerOpenSecs == 0 {
		cfg.Processor.BreakerOpenSecs = 30
	}
	if cfg.Processor.ChargeCommentFmt == "" {
		cfg.Processor.ChargeCommentFmt = "donation %s"
	}

	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = LedgerBackendPostgres
	}
	if cfg.Ledger.LockTTL == 0 {
		cfg.Ledger.LockTTL = 10
	}
	if cfg.Ledger.MaxRetries == 0 {
		cfg.Ledger.MaxRetries = 3
	}

	if cfg.Mint.Confirmations == 0 {
		cfg.Mint.Confirmations = 1
	}
	if cfg.Mint.AwaitTimeout == 0 {
		cfg.Mint.AwaitTimeout = 300
	}
	if cfg.Mint.Workers == 0 {
		cfg.Mint.Workers = 4
	}
	if cfg.Mint.RecoverEvery == 0 {
		cfg.Mint.RecoverEvery = 30
	}
	if cfg.Mint.SubmitDeadline == 0 {
		cfg.Mint.SubmitDeadline = 60
	}

	if cfg.Donation.AllowanceStrategy == "" {
		cfg.Donation.AllowanceStrategy = AllowanceExact
	}
	if cfg.Donation.Confirmations == 0 {
		cfg.Donation.Confirmations = 1
	}
	if cfg.Donation.AwaitTimeout == 0 {
		cfg.Donation.AwaitTimeout = 180
	}

	if cfg.Reconciliation.ReadTimeout == 0 {
		cfg.Reconciliation.ReadTimeout = 5
	}
	if cfg.Reconciliation.RefreshInterval == 0 {
		cfg.Reconciliation.RefreshInterval = 60
	}
	if cfg.Reconciliation.IndexInterval == 0 {
		cfg.Reconciliation.IndexInterval = 15
	}
	if cfg.Reconciliation.IndexBatch == 0 {
		cfg.Reconciliation.IndexBatch = 2000
	}

	if cfg.Alert.ServiceName == "" {
		cfg.Alert.ServiceName = cfg.Service.Name
	}
	if cfg.Alert.Environment == "" {
		cfg.Alert.Environment = cfg.Service.Env
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// GetEnvInt 获取环境变量整数值
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString 获取环境变量字符串值
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
