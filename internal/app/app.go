// Package app 提供 eidos-bridge 服务的应用生命周期管理
//
// ========================================
// eidos-bridge 服务说明
// ========================================
//
// ## 服务职责
// 1. 收款 (Charge): 向支付处理方创建 PIX 收款单，落 PENDING 记录
// 2. 回调 (Webhook): 验签后推进账本状态，首次 COMPLETED 触发铸币
// 3. 铸币 (Mint): 托管账户调用稳定币 mint，回执确认后记录结果
// 4. 活动镜像 (Campaign): 扫描工厂合约事件，维护链下镜像与进度对账
//
// ## HTTP 接口
// - POST /webhook                        支付处理方回调
// - POST /charges                        创建收款单
// - GET  /status/:pixId                  收款状态
// - GET  /campaigns[/:address[/progress]] 活动镜像与进度
// - POST /admin/mints/:correlationId/retry, POST /admin/campaigns (Bearer)
// - GET  /health, /metrics
//
// ## Kafka 生产的 Topic
// - bridge-payment-completed / bridge-payment-failed
// - bridge-mint-confirmed / bridge-mint-failed
// - bridge-campaign-created
//
// ## 存储
// - ledger.backend=postgres: 多实例部署，Redis 提供分布式锁与 nonce 管理
// - ledger.backend=memory: 仅限单实例，重启丢失账本
//
// ========================================
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos-bridge/internal/blockchain"
	"github.com/eidos-exchange/eidos-bridge/internal/config"
	"github.com/eidos-exchange/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos-bridge/internal/handler"
	"github.com/eidos-exchange/eidos-bridge/internal/kafka"
	"github.com/eidos-exchange/eidos-bridge/internal/processor"
	"github.com/eidos-exchange/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos-bridge/internal/scheduler"
	"github.com/eidos-exchange/eidos-bridge/internal/service"
	"github.com/eidos-exchange/eidos-bridge/internal/webhook"
	"github.com/eidos-exchange/eidos-bridge/pkg/alert"
	"github.com/eidos-exchange/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db       *gorm.DB
	redis    redis.UniversalClient
	locker   lock.Locker
	producer *kafka.Producer
	alerter  alert.Alerter

	// 区块链
	chain        *blockchain.Client
	nonceManager *blockchain.NonceManager
	transactor   *blockchain.Transactor
	waiter       *blockchain.Waiter
	token        *contract.Token
	factory      *contract.Factory

	// 仓储
	payments    repository.PaymentRepository
	mints       repository.MintRepository
	campaigns   repository.CampaignRepository
	checkpoints repository.CheckpointRepository

	// 服务
	ledgerSvc   *service.LedgerService
	mintSvc     *service.MintService
	chargeSvc   *service.ChargeService
	webhookSvc  *service.WebhookService
	campaignSvc *service.CampaignService
	reconSvc    *service.ReconciliationService
	indexerSvc  *service.IndexerService

	scheduler *scheduler.Scheduler

	// 服务端
	httpServer   *http.Server
	health       *handler.HealthHandler
	grpcServer   *grpc.Server
	healthServer *health.Server

	stopCh chan struct{}
}

// NewApp 创建应用
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.initInfrastructure(ctx); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initBlockchain(ctx); err != nil {
		return nil, fmt.Errorf("failed to init blockchain: %w", err)
	}

	app.initRepositories()
	app.initServices()
	if err := app.initScheduler(); err != nil {
		return nil, fmt.Errorf("failed to init scheduler: %w", err)
	}
	app.initHTTP()
	app.initGRPC()

	return app, nil
}

// initInfrastructure 初始化数据库、Redis、Kafka 与告警
func (a *App) initInfrastructure(ctx context.Context) error {
	if a.cfg.Ledger.Backend == config.LedgerBackendPostgres {
		if err := a.initPostgres(); err != nil {
			return err
		}
	} else {
		logger.Warn("memory ledger backend: single instance only, records are lost on restart")
	}

	if len(a.cfg.Redis.Addresses) > 0 {
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    a.cfg.Redis.Addresses,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			PoolSize: a.cfg.Redis.PoolSize,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		a.locker = lock.NewRedisLocker(a.redis, &lock.RedisLockerConfig{
			KeyPrefix:  "eidos-bridge:lock:",
			Expiration: time.Duration(a.cfg.Ledger.LockTTL) * time.Second,
		})
		logger.Info("redis connected", zap.Strings("addrs", a.cfg.Redis.Addresses))
	} else {
		if a.cfg.Ledger.Backend == config.LedgerBackendPostgres {
			logger.Warn("redis not configured, using in-process locks: run a single instance")
		}
		a.locker = lock.NewLocalLocker()
	}

	if a.cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&kafka.ProducerConfig{
			Brokers:       a.cfg.Kafka.Brokers,
			ClientID:      a.cfg.Kafka.ClientID,
			SASLEnable:    a.cfg.Kafka.SASL.Enable,
			SASLMechanism: a.cfg.Kafka.SASL.Mechanism,
			SASLUser:      a.cfg.Kafka.SASL.Username,
			SASLPassword:  a.cfg.Kafka.SASL.Password,
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		a.producer = producer
		logger.Info("kafka producer initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	}

	a.alerter = alert.NewAlerter(&a.cfg.Alert)
	return nil
}

func (a *App) initPostgres() error {
	pg := a.cfg.Postgres
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.User, pg.Password, pg.Database, pg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(pg.MaxConnections)
	sqlDB.SetMaxIdleConns(pg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(pg.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected", zap.String("host", pg.Host), zap.String("database", pg.Database))

	if err := AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")
	return nil
}

// initBlockchain 初始化 RPC 客户端、托管签名账户与合约绑定
func (a *App) initBlockchain(ctx context.Context) error {
	bc := a.cfg.Blockchain

	client, err := blockchain.NewClient(ctx, &blockchain.ClientConfig{
		RPCURLs:         bc.RPCURLs(),
		MaxRetries:      3,
		RetryInterval:   time.Second,
		HealthCheckFreq: 30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create blockchain client: %w", err)
	}
	a.chain = client

	networkID, err := client.NetworkID(ctx)
	if err != nil {
		return fmt.Errorf("read network id: %w", err)
	}
	if networkID.Int64() != bc.ChainID {
		return fmt.Errorf("rpc serves chain %s, configured chain_id is %d", networkID, bc.ChainID)
	}

	signer, err := blockchain.NewSigner(bc.PrivateKey, bc.ChainID)
	if err != nil {
		return fmt.Errorf("load custody key: %w", err)
	}

	var nonces blockchain.NonceAllocator
	if a.redis != nil {
		a.nonceManager = blockchain.NewNonceManager(client, a.redis, a.locker, &blockchain.NonceManagerConfig{
			Wallet:  signer.Address(),
			ChainID: bc.ChainID,
		})
		nonces = a.nonceManager
	} else {
		nonces = blockchain.NewChainNonce(client, signer.Address())
	}

	pollInterval := time.Duration(bc.PollInterval) * time.Millisecond
	a.transactor = blockchain.NewTransactor(client, signer, nonces, bc.GasLimit)
	a.waiter = blockchain.NewWaiter(client, a.cfg.Mint.Confirmations, pollInterval)
	a.token = contract.NewToken(common.HexToAddress(bc.TokenAddress), client)
	if bc.FactoryAddress != "" {
		a.factory = contract.NewFactory(common.HexToAddress(bc.FactoryAddress), client)
	}

	logger.Info("blockchain client initialized",
		zap.Int64("chain_id", bc.ChainID),
		zap.String("custody", signer.Address().Hex()),
		zap.String("token", bc.TokenAddress),
		zap.String("factory", bc.FactoryAddress),
		zap.Int("healthy_endpoints", client.HealthyEndpoints()))
	return nil
}

// initRepositories 初始化仓储
func (a *App) initRepositories() {
	if a.db != nil {
		a.payments = repository.NewPaymentRepository(a.db)
		a.mints = repository.NewMintRepository(a.db)
		a.campaigns = repository.NewCampaignRepository(a.db)
		a.checkpoints = repository.NewCheckpointRepository(a.db)
	} else {
		a.payments, a.mints = repository.NewMemoryLedger()
		a.campaigns = repository.NewMemoryCampaignRepository()
		a.checkpoints = repository.NewMemoryCheckpointRepository()
	}
	logger.Info("repositories initialized", zap.String("backend", a.cfg.Ledger.Backend))
}

// initServices 初始化服务
func (a *App) initServices() {
	var publisher kafka.EventPublisher = kafka.NoopPublisher{}
	if a.producer != nil {
		publisher = a.producer
	}
	bc := a.cfg.Blockchain

	a.ledgerSvc = service.NewLedgerService(a.payments, a.locker, publisher)

	a.mintSvc = service.NewMintService(
		a.payments,
		a.mints,
		a.token,
		a.transactor,
		a.waiter,
		a.locker,
		publisher,
		a.alerter,
		&service.MintServiceConfig{
			ChainID:        bc.ChainID,
			Decimals:       bc.TokenDecimals,
			AwaitTimeout:   time.Duration(a.cfg.Mint.AwaitTimeout) * time.Second,
			SubmitDeadline: time.Duration(a.cfg.Mint.SubmitDeadline) * time.Second,
			Workers:        a.cfg.Mint.Workers,
		},
	)
	if a.nonceManager != nil {
		a.mintSvc.SetNonceFinalizer(a.nonceManager)
	}

	a.webhookSvc = service.NewWebhookService(a.ledgerSvc, a.mintSvc)

	pc := a.cfg.Processor
	a.chargeSvc = service.NewChargeService(a.ledgerSvc, a.payments,
		processor.NewClient(&processor.Config{
			BaseURL:         pc.BaseURL,
			AppID:           pc.AppID,
			Timeout:         time.Duration(pc.Timeout) * time.Second,
			BreakerFailures: pc.BreakerFailures,
			BreakerOpen:     time.Duration(pc.BreakerOpenSecs) * time.Second,
		}),
		&service.ChargeServiceConfig{
			ExpiresIn:  time.Duration(pc.ChargeExpiresIn) * time.Second,
			CommentFmt: pc.ChargeCommentFmt,
		},
	)

	a.campaignSvc = service.NewCampaignService(
		a.campaigns,
		a.factory,
		a.chain,
		a.transactor,
		a.waiter,
		publisher,
		bc.TokenDecimals,
		time.Duration(a.cfg.Mint.AwaitTimeout)*time.Second,
	)

	a.reconSvc = service.NewReconciliationService(
		a.campaigns,
		a.chain,
		bc.ChainID,
		bc.TokenDecimals,
		time.Duration(a.cfg.Reconciliation.ReadTimeout)*time.Second,
	)

	if a.factory != nil {
		a.indexerSvc = service.NewIndexerService(a.chain, a.factory, a.checkpoints, a.campaignSvc,
			&service.IndexerServiceConfig{
				ChainID:      bc.ChainID,
				DeployBlock:  bc.FactoryDeployAt,
				BatchSize:    uint64(a.cfg.Reconciliation.IndexBatch),
				PollInterval: time.Duration(a.cfg.Reconciliation.IndexInterval) * time.Second,
			})
	} else {
		logger.Warn("factory address not configured, campaign indexer disabled")
	}

	logger.Info("services initialized")
}

// initHTTP 初始化 HTTP 服务
func (a *App) initHTTP() {
	checks := map[string]handler.HealthCheck{
		"chain": a.chain.HealthCheck,
	}
	if a.db != nil {
		checks["postgres"] = func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	a.health = handler.NewHealthHandler(checks)

	router := handler.NewRouter(&handler.RouterConfig{
		Webhook:     handler.NewWebhookHandler(webhook.NewVerifier(a.cfg.Webhook.Secret), a.webhookSvc, a.cfg.Webhook.MaxBodyBytes),
		Charges:     handler.NewChargeHandler(a.chargeSvc, a.mintSvc),
		Campaigns:   handler.NewCampaignHandler(a.campaignSvc, a.reconSvc),
		Admin:       handler.NewAdminHandler(a.mintSvc),
		Health:      a.health,
		AdminToken:  a.cfg.Admin.Token,
		CORSOrigins: a.cfg.Service.CORSOrigins,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// initGRPC 初始化 gRPC 健康检查服务
func (a *App) initGRPC() {
	a.grpcServer = grpc.NewServer()
	a.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthServer)
}

// Run 运行应用，阻塞直到收到退出信号
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.indexerSvc != nil {
		if err := a.indexerSvc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start indexer: %w", err)
		}
	}

	a.scheduler.Start()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	go func() {
		logger.Info("gRPC health server listening", zap.Int("port", a.cfg.Service.GRPCPort))
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.Int("port", a.cfg.Service.HTTPPort))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_SERVING)
	a.health.SetReady(true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-a.stopCh:
		logger.Info("shutdown requested")
	case runErr = <-errCh:
		logger.Error("HTTP server error", zap.Error(runErr))
	}

	cancel()
	a.shutdown()
	return runErr
}

// initScheduler 注册铸币恢复与镜像刷新任务
// 有 Redis 时同一任务在多实例间互斥，抢不到锁的实例跳过本轮
func (a *App) initScheduler() error {
	var jobLocker lock.Locker
	if a.redis != nil {
		jobLocker = lock.NewRedisLocker(a.redis, &lock.RedisLockerConfig{
			KeyPrefix:  "eidos-bridge:job:",
			Expiration: time.Minute,
			MaxRetries: 1,
		})
	}
	a.scheduler = scheduler.New(jobLocker)

	if err := a.scheduler.Register(scheduler.Job{
		Name:       "mint-recover",
		Every:      time.Duration(a.cfg.Mint.RecoverEvery) * time.Second,
		RunOnStart: true,
		Run:        a.recoverMints,
	}); err != nil {
		return err
	}
	return a.scheduler.Register(scheduler.Job{
		Name:  "mirror-refresh",
		Every: time.Duration(a.cfg.Reconciliation.RefreshInterval) * time.Second,
		Run:   a.refreshMirrors,
	})
}

func (a *App) recoverMints(ctx context.Context) error {
	n, err := a.mintSvc.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover mints: %w", err)
	}
	if n > 0 {
		logger.Info("mints recovered", zap.Int("count", n))
	}
	return nil
}

func (a *App) refreshMirrors(ctx context.Context) error {
	n, err := a.reconSvc.RefreshMirrors(ctx)
	if err != nil {
		return fmt.Errorf("refresh campaign mirrors: %w", err)
	}
	if n > 0 {
		logger.Debug("campaign mirrors refreshed", zap.Int("count", n))
	}
	return nil
}

// shutdown 关闭应用
func (a *App) shutdown() {
	logger.Info("shutting down...")

	a.health.SetReady(false)
	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}

	a.scheduler.Stop()

	if a.indexerSvc != nil && a.indexerSvc.IsRunning() {
		if err := a.indexerSvc.Stop(); err != nil {
			logger.Warn("stop indexer", zap.Error(err))
		}
	}

	// 等待进行中的铸币写完结果，未确认的交由下次启动的恢复流程
	a.mintSvc.Wait()

	a.grpcServer.GracefulStop()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	a.alerter.Stop()
	a.chain.Close()

	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	logger.Info("shutdown complete")
}

// Stop 停止应用
func (a *App) Stop() {
	close(a.stopCh)
}
