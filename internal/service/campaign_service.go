package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/blockchain"
	"github.com/eidos-exchange/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos-bridge/internal/kafka"
	"github.com/eidos-exchange/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos-bridge/internal/repository"
	bizerr "github.com/eidos-exchange/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// CreateCampaignInput 创建活动参数
type CreateCampaignInput struct {
	Title       string
	Description string
	Goal        decimal.Decimal
	Beneficiary string
}

// CampaignService 通过工厂合约创建活动并维护链下镜像
type CampaignService struct {
	campaigns    repository.CampaignRepository
	factory      *contract.Factory
	chain        contract.Caller
	transactor   TxSubmitter
	waiter       ReceiptWaiter
	publisher    kafka.EventPublisher
	decimals     int32
	awaitTimeout time.Duration
}

// NewCampaignService factory 为 nil 时只提供镜像查询
func NewCampaignService(
	campaigns repository.CampaignRepository,
	factory *contract.Factory,
	chain contract.Caller,
	transactor TxSubmitter,
	waiter ReceiptWaiter,
	publisher kafka.EventPublisher,
	decimals int32,
	awaitTimeout time.Duration,
) *CampaignService {
	if decimals == 0 {
		decimals = contract.TokenDecimals
	}
	if awaitTimeout == 0 {
		awaitTimeout = 2 * time.Minute
	}
	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}
	return &CampaignService{
		campaigns:    campaigns,
		factory:      factory,
		chain:        chain,
		transactor:   transactor,
		waiter:       waiter,
		publisher:    publisher,
		decimals:     decimals,
		awaitTimeout: awaitTimeout,
	}
}

// Create 提交 createCampaign，等待回执并从事件中取得新合约地址后写入镜像
func (s *CampaignService) Create(ctx context.Context, in *CreateCampaignInput) (*model.Campaign, error) {
	if s.factory == nil {
		return nil, bizerr.ErrServiceUnavailable.WithMessage("campaign factory not configured")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, bizerr.ErrValidation.WithMessage("title is required")
	}
	if !in.Goal.IsPositive() {
		return nil, bizerr.ErrValidation.WithMessage("goal must be positive")
	}
	if !common.IsHexAddress(in.Beneficiary) {
		return nil, bizerr.ErrValidation.WithMessage("beneficiary must be a hex address")
	}
	goal, err := contract.ToBaseUnits(in.Goal, s.decimals)
	if err != nil {
		return nil, bizerr.Wrap(bizerr.ErrValidation, err)
	}

	data, err := s.factory.PackCreateCampaign(&contract.CreateCampaignParams{
		Title:       in.Title,
		Description: in.Description,
		Goal:        goal,
		Beneficiary: common.HexToAddress(in.Beneficiary),
	})
	if err != nil {
		return nil, bizerr.Wrap(bizerr.ErrValidation, err)
	}

	handle, err := s.transactor.Submit(ctx, s.factory.Address(), data)
	if err != nil && (handle == nil || !errors.Is(err, blockchain.ErrSendUncertain)) {
		return nil, bizerr.Wrap(bizerr.ErrChainSubmission, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.awaitTimeout)
	defer cancel()
	receipt, err := s.waiter.Wait(waitCtx, handle.Hash)
	if err != nil {
		return nil, bizerr.Wrapf(bizerr.ErrChainSubmission, err, "create campaign tx %s", handle.Hash.Hex())
	}

	event, ok := s.factory.FindCampaignCreated(receipt)
	if !ok {
		return nil, bizerr.Wrap(bizerr.ErrChainSubmission, fmt.Errorf("tx %s emitted no CampaignCreated", handle.Hash.Hex()))
	}

	logger.Info("campaign created on-chain",
		zap.String("campaign", event.CampaignAddress.Hex()),
		zap.String("campaign_id", event.CampaignID.String()),
		zap.String("tx_hash", handle.Hash.Hex()))

	return s.Mirror(ctx, event)
}

// Mirror 读取新活动链上信息并写入镜像，重复调用幂等
func (s *CampaignService) Mirror(ctx context.Context, event *contract.CampaignCreatedEvent) (*model.Campaign, error) {
	info, err := contract.NewCampaign(event.CampaignAddress, s.chain).Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("read campaign info: %w", err)
	}

	c := mirrorFromInfo(event.CampaignAddress, info, s.decimals)
	c.CampaignID = event.CampaignID.Int64()
	c.CreatedBlock = int64(event.Raw.BlockNumber)
	c.CreatedTxHash = event.Raw.TxHash.Hex()
	if err := s.campaigns.Upsert(ctx, c); err != nil {
		return nil, fmt.Errorf("upsert campaign mirror: %w", err)
	}

	if err := s.publisher.PublishCampaignCreated(ctx, &model.CampaignCreatedEvent{
		CampaignID:      c.CampaignID,
		ContractAddress: c.ContractAddress,
		Creator:         c.Creator,
		Title:           c.Title,
		Goal:            c.Goal.String(),
		TxHash:          c.CreatedTxHash,
		BlockNumber:     c.CreatedBlock,
	}); err != nil {
		logger.Warn("publish campaign event failed", zap.String("campaign", c.ContractAddress), zap.Error(err))
	}
	return c, nil
}

// Get 查询镜像
func (s *CampaignService) Get(ctx context.Context, address string) (*model.Campaign, error) {
	if !common.IsHexAddress(address) {
		return nil, bizerr.ErrValidation.WithMessage("campaign address must be a hex address")
	}
	c, err := s.campaigns.GetByAddress(ctx, common.HexToAddress(address).Hex())
	if errors.Is(err, repository.ErrCampaignNotFound) {
		return nil, bizerr.Wrap(bizerr.ErrCampaignNotFound, err)
	}
	return c, err
}

// List 分页查询镜像
func (s *CampaignService) List(ctx context.Context, activeOnly bool, page *repository.Pagination) ([]*model.Campaign, error) {
	return s.campaigns.List(ctx, activeOnly, page)
}
