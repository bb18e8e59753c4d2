package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

var (
	ErrIndexerAlreadyRunning = errors.New("indexer already running")
	ErrIndexerNotRunning     = errors.New("indexer not running")
)

const factoryCheckpoint = "campaign_factory"

// LogScanner 日志扫描
type LogScanner interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// CampaignMirrorer 将 CampaignCreated 事件写入镜像
type CampaignMirrorer interface {
	Mirror(ctx context.Context, event *contract.CampaignCreatedEvent) (*model.Campaign, error)
}

// IndexerService 扫描工厂合约的 CampaignCreated 事件，补齐未经本服务创建的活动镜像
type IndexerService struct {
	scanner     LogScanner
	factory     *contract.Factory
	checkpoints repository.CheckpointRepository
	mirrorer    CampaignMirrorer

	chainID      int64
	deployBlock  uint64
	batchSize    uint64
	pollInterval time.Duration

	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	currentBlock uint64
}

// IndexerServiceConfig 配置
type IndexerServiceConfig struct {
	ChainID      int64
	DeployBlock  uint64 // 工厂部署区块，无检查点时从此处开始
	BatchSize    uint64
	PollInterval time.Duration
}

// NewIndexerService 创建索引服务
func NewIndexerService(
	scanner LogScanner,
	factory *contract.Factory,
	checkpoints repository.CheckpointRepository,
	mirrorer CampaignMirrorer,
	cfg *IndexerServiceConfig,
) *IndexerService {
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 2000
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 15 * time.Second
	}
	return &IndexerService{
		scanner:      scanner,
		factory:      factory,
		checkpoints:  checkpoints,
		mirrorer:     mirrorer,
		chainID:      cfg.ChainID,
		deployBlock:  cfg.DeployBlock,
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}
}

// Start 启动扫描循环
func (s *IndexerService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrIndexerAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	logger.Info("campaign indexer starting",
		zap.Int64("chain_id", s.chainID),
		zap.String("factory", s.factory.Address().Hex()))

	go s.runLoop(ctx, s.stopCh, s.doneCh)
	return nil
}

// Stop 停止扫描循环并等待当前批次结束
func (s *IndexerService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrIndexerNotRunning
	}
	close(s.stopCh)
	s.running = false
	done := s.doneCh
	s.mu.Unlock()

	<-done
	logger.Info("campaign indexer stopped", zap.Int64("chain_id", s.chainID))
	return nil
}

// IsRunning 是否运行中
func (s *IndexerService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// CurrentBlock 最后处理的区块
func (s *IndexerService) CurrentBlock() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentBlock
}

func (s *IndexerService) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		for {
			n, caughtUp, err := s.ScanOnce(ctx)
			if err != nil {
				logger.Warn("campaign index scan failed", zap.Error(err))
				break
			}
			if n > 0 {
				logger.Info("campaigns indexed", zap.Int("count", n))
			}
			if caughtUp {
				break
			}
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
		}

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ScanOnce 扫描一个批次，返回新镜像数量以及是否已追上链头
// 镜像写入失败时不推进检查点，下一轮重扫
func (s *IndexerService) ScanOnce(ctx context.Context) (int, bool, error) {
	from, err := s.startBlock(ctx)
	if err != nil {
		return 0, false, err
	}
	head, err := s.scanner.BlockNumber(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("block number: %w", err)
	}
	if from > head {
		return 0, true, nil
	}
	to := from + s.batchSize - 1
	if to > head {
		to = head
	}

	logs, err := s.scanner.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.factory.Address()},
		Topics:    [][]common.Hash{{contract.CampaignCreatedTopic()}},
	})
	if err != nil {
		return 0, false, fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}

	indexed := 0
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		event, err := s.factory.ParseCampaignCreated(lg)
		if err != nil {
			logger.Warn("skip undecodable CampaignCreated log",
				zap.String("tx_hash", lg.TxHash.Hex()),
				zap.Error(err))
			continue
		}
		if _, err := s.mirrorer.Mirror(ctx, event); err != nil {
			return indexed, false, fmt.Errorf("mirror campaign %s: %w", event.CampaignAddress.Hex(), err)
		}
		indexed++
	}

	if err := s.checkpoints.Save(ctx, factoryCheckpoint, s.chainID, int64(to)); err != nil {
		return indexed, false, fmt.Errorf("save checkpoint: %w", err)
	}

	s.mu.Lock()
	s.currentBlock = to
	s.mu.Unlock()
	metrics.IndexerBlock.Set(float64(to))
	metrics.CampaignsIndexed.Add(float64(indexed))

	return indexed, to == head, nil
}

func (s *IndexerService) startBlock(ctx context.Context) (uint64, error) {
	block, ok, err := s.checkpoints.Get(ctx, factoryCheckpoint)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return s.deployBlock, nil
	}
	return uint64(block) + 1, nil
}
