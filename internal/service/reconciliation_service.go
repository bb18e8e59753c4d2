package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos-bridge/internal/repository"
	bizerr "github.com/eidos-exchange/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// 进度数据来源
const (
	SourceChain  = "chain"
	SourceMirror = "mirror"
)

// ChainInspector 只读链访问
type ChainInspector interface {
	contract.Caller
	NetworkID(ctx context.Context) (*big.Int, error)
}

// Progress 活动进度，Stale 表示链不可达时返回的镜像值
type Progress struct {
	ContractAddress string          `json:"contract_address"`
	Raised          decimal.Decimal `json:"raised"`
	Balance         decimal.Decimal `json:"balance"`
	Goal            decimal.Decimal `json:"goal"`
	DonorCount      int64           `json:"donor_count"`
	Active          bool            `json:"active"`
	Source          string          `json:"source"`
	Stale           bool            `json:"stale"`
	SyncedAt        int64           `json:"synced_at,omitempty"`
}

// ReconciliationService 合并镜像与链上进度，链上可读时以链上为准
type ReconciliationService struct {
	campaigns   repository.CampaignRepository
	chain       ChainInspector
	chainID     int64
	decimals    int32
	readTimeout time.Duration
}

// NewReconciliationService chain 为 nil 时只返回镜像
func NewReconciliationService(campaigns repository.CampaignRepository, chain ChainInspector, chainID int64, decimals int32, readTimeout time.Duration) *ReconciliationService {
	if decimals == 0 {
		decimals = contract.TokenDecimals
	}
	if readTimeout == 0 {
		readTimeout = 5 * time.Second
	}
	return &ReconciliationService{
		campaigns:   campaigns,
		chain:       chain,
		chainID:     chainID,
		decimals:    decimals,
		readTimeout: readTimeout,
	}
}

// ResolveProgress 返回活动进度
func (s *ReconciliationService) ResolveProgress(ctx context.Context, campaignAddress string) (*Progress, error) {
	if !common.IsHexAddress(campaignAddress) {
		return nil, bizerr.ErrValidation.WithMessage("campaign address must be a hex address")
	}
	address := common.HexToAddress(campaignAddress)

	info, chainErr := s.readChain(ctx, address)
	if chainErr == nil {
		metrics.RecordProgressRead(SourceChain)
		progress := s.fromChain(address, info)
		s.refreshMirror(ctx, address, progress)
		return progress, nil
	}

	mirror, err := s.campaigns.GetByAddress(ctx, address.Hex())
	if errors.Is(err, repository.ErrCampaignNotFound) {
		return nil, bizerr.Wrap(bizerr.ErrCampaignNotFound, fmt.Errorf("no mirror and chain read failed: %w", chainErr))
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("serving mirrored campaign progress",
		zap.String("campaign", address.Hex()),
		zap.Error(chainErr))
	metrics.RecordProgressRead(SourceMirror)
	return &Progress{
		ContractAddress: mirror.ContractAddress,
		Raised:          mirror.Raised,
		Balance:         mirror.Balance,
		Goal:            mirror.Goal,
		DonorCount:      mirror.DonorCount,
		Active:          mirror.Active,
		Source:          SourceMirror,
		Stale:           true,
		SyncedAt:        mirror.SyncedAt,
	}, nil
}

var errNoChain = errors.New("no chain provider configured")

func (s *ReconciliationService) readChain(ctx context.Context, address common.Address) (*contract.CampaignInfo, error) {
	if s.chain == nil {
		return nil, errNoChain
	}
	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	networkID, err := s.chain.NetworkID(readCtx)
	if err != nil {
		return nil, fmt.Errorf("network id: %w", err)
	}
	if s.chainID != 0 && networkID.Int64() != s.chainID {
		return nil, fmt.Errorf("network mismatch: got %s want %d", networkID, s.chainID)
	}
	return contract.NewCampaign(address, s.chain).Info(readCtx)
}

func (s *ReconciliationService) fromChain(address common.Address, info *contract.CampaignInfo) *Progress {
	return &Progress{
		ContractAddress: address.Hex(),
		Raised:          contract.FromBaseUnits(info.Raised, s.decimals),
		Balance:         contract.FromBaseUnits(info.Balance, s.decimals),
		Goal:            contract.FromBaseUnits(info.Goal, s.decimals),
		DonorCount:      info.DonorCount.Int64(),
		Active:          info.Active,
		Source:          SourceChain,
		SyncedAt:        time.Now().UnixMilli(),
	}
}

func (s *ReconciliationService) refreshMirror(ctx context.Context, address common.Address, p *Progress) {
	err := s.campaigns.UpdateProgress(ctx, address.Hex(), &repository.CampaignProgress{
		Raised:     p.Raised,
		Balance:    p.Balance,
		DonorCount: p.DonorCount,
		Active:     p.Active,
	})
	if err != nil && !errors.Is(err, repository.ErrCampaignNotFound) {
		logger.Warn("refresh campaign mirror failed", zap.String("campaign", address.Hex()), zap.Error(err))
	}
}

// RefreshMirrors 用链上数据刷新全部镜像
func (s *ReconciliationService) RefreshMirrors(ctx context.Context) (int, error) {
	addresses, err := s.campaigns.ListAddresses(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, addr := range addresses {
		address := common.HexToAddress(addr)
		info, err := s.readChain(ctx, address)
		if err != nil {
			metrics.MirrorRefreshTotal.WithLabelValues("failed").Inc()
			logger.Warn("read campaign for mirror refresh failed", zap.String("campaign", addr), zap.Error(err))
			continue
		}
		err = s.campaigns.UpdateProgress(ctx, addr, &repository.CampaignProgress{
			Raised:     contract.FromBaseUnits(info.Raised, s.decimals),
			Balance:    contract.FromBaseUnits(info.Balance, s.decimals),
			DonorCount: info.DonorCount.Int64(),
			Active:     info.Active,
		})
		if err != nil {
			metrics.MirrorRefreshTotal.WithLabelValues("failed").Inc()
			logger.Warn("update campaign mirror failed", zap.String("campaign", addr), zap.Error(err))
			continue
		}
		metrics.MirrorRefreshTotal.WithLabelValues("success").Inc()
		refreshed++
	}
	return refreshed, nil
}

// mirrorFromInfo 由链上信息构造镜像
func mirrorFromInfo(address common.Address, info *contract.CampaignInfo, decimals int32) *model.Campaign {
	return &model.Campaign{
		ContractAddress: address.Hex(),
		Title:           info.Title,
		Description:     info.Description,
		Creator:         info.Creator.Hex(),
		Beneficiary:     info.Beneficiary.Hex(),
		Goal:            contract.FromBaseUnits(info.Goal, decimals),
		Raised:          contract.FromBaseUnits(info.Raised, decimals),
		Balance:         contract.FromBaseUnits(info.Balance, decimals),
		DonorCount:      info.DonorCount.Int64(),
		Active:          info.Active,
		ChainCreatedAt:  info.CreatedAt.Int64(),
	}
}
