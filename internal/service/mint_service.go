package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/blockchain"
	"github.com/eidos-exchange/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos-bridge/internal/kafka"
	"github.com/eidos-exchange/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos-bridge/pkg/alert"
	bizerr "github.com/eidos-exchange/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

const mintLockPrefix = "mint:"

var (
	// ErrMintAlreadyRequested 该 correlation id 已有铸币记录，不再提交
	ErrMintAlreadyRequested = errors.New("mint already requested")
	// ErrConfirmationPending 等待超时，交易仍可能上链
	ErrConfirmationPending = errors.New("mint confirmation still pending")
)

// TxSubmitter 签名并广播交易
type TxSubmitter interface {
	Submit(ctx context.Context, to common.Address, data []byte) (*blockchain.TxHandle, error)
	From() common.Address
}

// ReceiptWaiter 等待或查询交易回执
type ReceiptWaiter interface {
	Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	// Resolve 单次查询，交易已被同 nonce 的其他交易取代时返回 blockchain.ErrTxDropped
	Resolve(ctx context.Context, txHash common.Hash, from common.Address, nonce uint64) (*types.Receipt, error)
}

// NonceFinalizer 交易终结后释放 pending nonce 记录
type NonceFinalizer interface {
	OnTxFinalized(ctx context.Context, nonce uint64, txHash string) error
}

// MintDispatcher 异步铸币
type MintDispatcher interface {
	Dispatch(rec *model.PaymentRecord)
}

// MintRetryResult 运维重试结果
type MintRetryResult struct {
	Mint       *model.MintTx
	TxHash     string
	Reconciled bool // 上一笔交易实际已成功，只修正记录
}

// MintService 铸币触发器
type MintService struct {
	payments   repository.PaymentRepository
	mints      repository.MintRepository
	token      *contract.Token
	transactor TxSubmitter
	waiter     ReceiptWaiter
	locker     lock.Locker
	publisher  kafka.EventPublisher
	alerter    alert.Alerter
	finalizer  NonceFinalizer

	chainID        int64
	decimals       int32
	awaitTimeout   time.Duration
	submitDeadline time.Duration

	sem chan struct{}
	wg  sync.WaitGroup
}

// MintServiceConfig 配置
type MintServiceConfig struct {
	ChainID        int64
	Decimals       int32
	AwaitTimeout   time.Duration
	SubmitDeadline time.Duration
	Workers        int
}

// NewMintService 创建铸币服务
func NewMintService(
	payments repository.PaymentRepository,
	mints repository.MintRepository,
	token *contract.Token,
	transactor TxSubmitter,
	waiter ReceiptWaiter,
	locker lock.Locker,
	publisher kafka.EventPublisher,
	alerter alert.Alerter,
	cfg *MintServiceConfig,
) *MintService {
	decimals := cfg.Decimals
	if decimals == 0 {
		decimals = contract.TokenDecimals
	}
	awaitTimeout := cfg.AwaitTimeout
	if awaitTimeout == 0 {
		awaitTimeout = 2 * time.Minute
	}
	submitDeadline := cfg.SubmitDeadline
	if submitDeadline == 0 {
		submitDeadline = 30 * time.Second
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}
	if alerter == nil {
		alerter = alert.NoopAlerter{}
	}

	return &MintService{
		payments:       payments,
		mints:          mints,
		token:          token,
		transactor:     transactor,
		waiter:         waiter,
		locker:         locker,
		publisher:      publisher,
		alerter:        alerter,
		chainID:        cfg.ChainID,
		decimals:       decimals,
		awaitTimeout:   awaitTimeout,
		submitDeadline: submitDeadline,
		sem:            make(chan struct{}, workers),
	}
}

// SetNonceFinalizer 设置 nonce 终结回调
func (s *MintService) SetNonceFinalizer(f NonceFinalizer) {
	s.finalizer = f
}

// Dispatch 在后台执行 MintFor，调用方不等待链上结果
func (s *MintService) Dispatch(rec *model.PaymentRecord) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		metrics.MintsInFlight.Inc()
		defer metrics.MintsInFlight.Dec()

		ctx := logger.NewContext(context.Background(), zap.String("correlation_id", rec.CorrelationID))
		if _, err := s.MintFor(ctx, rec); err != nil {
			logger.WithContext(ctx).Error("mint failed", zap.Error(err))
		}
	}()
}

// Wait 等待所有后台铸币结束
func (s *MintService) Wait() {
	s.wg.Wait()
}

// MintFor 提交铸币并等待确认
func (s *MintService) MintFor(ctx context.Context, rec *model.PaymentRecord) (*types.Receipt, error) {
	handle, err := s.Submit(ctx, rec)
	if err != nil {
		return nil, err
	}
	return s.Await(ctx, rec.CorrelationID, handle)
}

// Submit 占位铸币记录后广播 mint(to, amount)，不等待确认
// 同一 correlation id 已有记录时返回 ErrMintAlreadyRequested
func (s *MintService) Submit(ctx context.Context, rec *model.PaymentRecord) (*blockchain.TxHandle, error) {
	if rec.Status != model.PaymentStatusCompleted {
		return nil, bizerr.ErrConflict.WithMessagef("payment %s is %s", rec.CorrelationID, rec.Status)
	}
	to, amount, err := s.mintArgs(rec)
	if err != nil {
		return nil, err
	}

	mint := &model.MintTx{
		CorrelationID: rec.CorrelationID,
		PixID:         rec.PixID,
		ToAddress:     to.Hex(),
		TokenAddress:  s.token.Address().Hex(),
		Amount:        rec.Amount,
		BaseUnits:     amount.String(),
		ChainID:       s.chainID,
		Status:        model.MintStatusPending,
	}
	if err := s.mints.Create(ctx, mint); err != nil {
		if errors.Is(err, repository.ErrMintExists) {
			logger.Warn("mint already requested, skipping",
				zap.String("correlation_id", rec.CorrelationID))
			return nil, ErrMintAlreadyRequested
		}
		return nil, fmt.Errorf("create mint record: %w", err)
	}

	return s.broadcast(ctx, mint, to, amount)
}

func (s *MintService) mintArgs(rec *model.PaymentRecord) (common.Address, *big.Int, error) {
	if !common.IsHexAddress(rec.DestinationWallet) {
		return common.Address{}, nil, bizerr.ErrValidation.WithMessagef("invalid destination wallet %q", rec.DestinationWallet)
	}
	amount, err := contract.ToBaseUnits(rec.Amount, s.decimals)
	if err != nil {
		return common.Address{}, nil, bizerr.Wrap(bizerr.ErrValidation, err)
	}
	return common.HexToAddress(rec.DestinationWallet), amount, nil
}

func (s *MintService) broadcast(ctx context.Context, mint *model.MintTx, to common.Address, amount *big.Int) (*blockchain.TxHandle, error) {
	data, err := s.token.PackMint(to, amount)
	if err != nil {
		s.fail(ctx, mint, err)
		return nil, bizerr.Wrap(bizerr.ErrChainSubmission, err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.submitDeadline)
	defer cancel()

	handle, err := s.transactor.Submit(submitCtx, s.token.Address(), data)
	if err != nil {
		if handle == nil || !errors.Is(err, blockchain.ErrSendUncertain) {
			s.fail(ctx, mint, err)
			return nil, bizerr.Wrap(bizerr.ErrChainSubmission, err)
		}
		// 可能已上链：按已提交处理，结果由等待与恢复任务按哈希核对
		logger.Warn("mint broadcast outcome unknown, tracking signed tx",
			zap.String("correlation_id", mint.CorrelationID),
			zap.String("tx_hash", handle.Hash.Hex()),
			zap.Uint64("nonce", handle.Nonce),
			zap.Error(err))
	}

	if err := s.mints.MarkSubmitted(ctx, mint.CorrelationID, handle.From.Hex(), handle.Hash.Hex(), int64(handle.Nonce)); err != nil {
		// 交易已广播，记录缺失时由运维核对
		logger.Error("record mint submission failed",
			zap.String("correlation_id", mint.CorrelationID),
			zap.String("tx_hash", handle.Hash.Hex()),
			zap.Error(err))
	}
	mint.Status = model.MintStatusSubmitted
	mint.TxHash = handle.Hash.Hex()
	mint.Nonce = int64(handle.Nonce)
	mint.FromAddress = handle.From.Hex()

	metrics.RecordMint("submitted")
	logger.Info("mint submitted",
		zap.String("correlation_id", mint.CorrelationID),
		zap.String("to", to.Hex()),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", handle.Hash.Hex()))
	return handle, nil
}

// Await 等待铸币确认
// 超时只停止等待，记录保持 SUBMITTED 交给恢复任务
func (s *MintService) Await(ctx context.Context, correlationID string, handle *blockchain.TxHandle) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.awaitTimeout)
	defer cancel()

	receipt, err := s.waiter.Wait(waitCtx, handle.Hash)
	switch {
	case err == nil:
		s.confirm(ctx, correlationID, handle.Hash, handle.Nonce, receipt)
		metrics.MintDuration.Observe(time.Since(handle.SubmittedAt).Seconds())
		return receipt, nil
	case errors.Is(err, blockchain.ErrTxFailed):
		mint, getErr := s.mints.GetByCorrelationID(ctx, correlationID)
		if getErr != nil {
			mint = &model.MintTx{CorrelationID: correlationID, TxHash: handle.Hash.Hex()}
		}
		s.fail(ctx, mint, err)
		s.finalize(ctx, handle.Nonce, handle.Hash)
		return receipt, bizerr.Wrap(bizerr.ErrChainSubmission, err)
	default:
		logger.Warn("mint confirmation wait timed out",
			zap.String("correlation_id", correlationID),
			zap.String("tx_hash", handle.Hash.Hex()),
			zap.Error(err))
		s.alerter.SendAsync(ctx, &alert.Alert{
			Title:    "Mint confirmation pending",
			Message:  fmt.Sprintf("mint %s for %s not confirmed within %s", handle.Hash.Hex(), correlationID, s.awaitTimeout),
			Severity: alert.SeverityWarning,
			Tags:     map[string]string{"correlation_id": correlationID, "tx_hash": handle.Hash.Hex()},
		})
		return nil, fmt.Errorf("%w: %v", ErrConfirmationPending, err)
	}
}

func (s *MintService) confirm(ctx context.Context, correlationID string, txHash common.Hash, nonce uint64, receipt *types.Receipt) {
	var blockNumber int64
	if receipt.BlockNumber != nil {
		blockNumber = receipt.BlockNumber.Int64()
	}
	if err := s.mints.MarkConfirmed(ctx, correlationID, blockNumber, int64(receipt.GasUsed)); err != nil {
		logger.Error("record mint confirmation failed",
			zap.String("correlation_id", correlationID),
			zap.String("tx_hash", txHash.Hex()),
			zap.Error(err))
	}
	s.finalize(ctx, nonce, txHash)

	mint, err := s.mints.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		mint = &model.MintTx{CorrelationID: correlationID}
	}
	if to := common.HexToAddress(mint.ToAddress); mint.ToAddress != "" {
		if _, ok := s.token.FindMint(receipt, to); !ok {
			logger.Warn("confirmed mint has no transfer log",
				zap.String("correlation_id", correlationID),
				zap.String("tx_hash", txHash.Hex()))
		}
	}

	metrics.RecordMint("confirmed")
	logger.Info("mint confirmed",
		zap.String("correlation_id", correlationID),
		zap.String("tx_hash", txHash.Hex()),
		zap.Int64("block", blockNumber))

	if err := s.publisher.PublishMint(ctx, &model.MintEvent{
		CorrelationID: correlationID,
		ToAddress:     mint.ToAddress,
		Amount:        mint.Amount.String(),
		TxHash:        txHash.Hex(),
		BlockNumber:   blockNumber,
		Status:        model.MintStatusConfirmed.String(),
		Timestamp:     time.Now().UnixMilli(),
	}); err != nil {
		logger.Warn("publish mint event failed", zap.String("correlation_id", correlationID), zap.Error(err))
	}
}

func (s *MintService) fail(ctx context.Context, mint *model.MintTx, cause error) {
	if err := s.mints.MarkFailed(ctx, mint.CorrelationID, cause.Error()); err != nil {
		logger.Error("record mint failure failed",
			zap.String("correlation_id", mint.CorrelationID),
			zap.Error(err))
	}

	metrics.RecordMint("failed")
	logger.Error("mint failed, operator action required",
		zap.String("correlation_id", mint.CorrelationID),
		zap.String("tx_hash", mint.TxHash),
		zap.Error(cause))

	s.alerter.SendAsync(ctx, &alert.Alert{
		Title:    "Mint failed",
		Message:  fmt.Sprintf("mint for %s failed: %v", mint.CorrelationID, cause),
		Severity: alert.SeverityCritical,
		Tags: map[string]string{
			"correlation_id": mint.CorrelationID,
			"tx_hash":        mint.TxHash,
			"error_code":     bizerr.GetCode(cause),
		},
	})

	if err := s.publisher.PublishMint(ctx, &model.MintEvent{
		CorrelationID: mint.CorrelationID,
		ToAddress:     mint.ToAddress,
		Amount:        mint.Amount.String(),
		TxHash:        mint.TxHash,
		Status:        model.MintStatusFailed.String(),
		Error:         cause.Error(),
		Timestamp:     time.Now().UnixMilli(),
	}); err != nil {
		logger.Warn("publish mint event failed", zap.String("correlation_id", mint.CorrelationID), zap.Error(err))
	}
}

func (s *MintService) finalize(ctx context.Context, nonce uint64, txHash common.Hash) {
	if s.finalizer == nil {
		return
	}
	if err := s.finalizer.OnTxFinalized(ctx, nonce, txHash.Hex()); err != nil {
		logger.Warn("finalize nonce failed", zap.Uint64("nonce", nonce), zap.Error(err))
	}
}

// GetMint 查询铸币记录
func (s *MintService) GetMint(ctx context.Context, correlationID string) (*model.MintTx, error) {
	mint, err := s.mints.GetByCorrelationID(ctx, correlationID)
	if errors.Is(err, repository.ErrMintNotFound) {
		return nil, bizerr.Wrap(bizerr.ErrMintNotFound, err)
	}
	return mint, err
}

// Retry 运维重试，仅处理 FAILED 的铸币
// 上一笔交易若实际成功则只修正为 CONFIRMED；状态未知时拒绝重发
func (s *MintService) Retry(ctx context.Context, correlationID string) (*MintRetryResult, error) {
	var (
		result *MintRetryResult
		handle *blockchain.TxHandle
	)

	err := s.locker.WithLock(ctx, mintLockPrefix+correlationID, func(ctx context.Context) error {
		rec, err := s.payments.GetByCorrelationID(ctx, correlationID)
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return bizerr.Wrap(bizerr.ErrPaymentNotFound, err)
		}
		if err != nil {
			return err
		}
		if rec.Status != model.PaymentStatusCompleted {
			return bizerr.ErrConflict.WithMessagef("payment %s is %s", correlationID, rec.Status)
		}

		mint, err := s.mints.GetByCorrelationID(ctx, correlationID)
		if errors.Is(err, repository.ErrMintNotFound) {
			// 崩溃发生在占位之前
			handle, err = s.Submit(ctx, rec)
			if err != nil {
				return err
			}
			mint, _ = s.mints.GetByCorrelationID(ctx, correlationID)
			result = &MintRetryResult{Mint: mint, TxHash: handle.Hash.Hex()}
			return nil
		}
		if err != nil {
			return err
		}

		if mint.Status != model.MintStatusFailed {
			return bizerr.ErrConflict.WithMessagef("mint %s is %s", correlationID, mint.Status)
		}

		// 没有哈希说明交易从未签出广播
		if mint.TxHash != "" {
			hash := common.HexToHash(mint.TxHash)
			receipt, lookupErr := s.waiter.Resolve(ctx, hash, common.HexToAddress(mint.FromAddress), uint64(mint.Nonce))
			switch {
			case lookupErr == nil:
				s.confirm(ctx, correlationID, hash, uint64(mint.Nonce), receipt)
				metrics.RecordMint("reconciled")
				mint, _ = s.mints.GetByCorrelationID(ctx, correlationID)
				result = &MintRetryResult{Mint: mint, TxHash: mint.TxHash, Reconciled: true}
				return nil
			case errors.Is(lookupErr, blockchain.ErrTxFailed), errors.Is(lookupErr, blockchain.ErrTxDropped):
				// 已回滚或已被取代，不会再上链
			default:
				return bizerr.ErrConflict.WithMessagef("previous mint %s state unknown: %v", mint.TxHash, lookupErr)
			}
		}

		to, amount, err := s.mintArgs(rec)
		if err != nil {
			return err
		}
		if err := s.mints.ResetForRetry(ctx, correlationID); err != nil {
			return fmt.Errorf("reset mint: %w", err)
		}
		handle, err = s.broadcast(ctx, mint, to, amount)
		if err != nil {
			return err
		}
		mint, _ = s.mints.GetByCorrelationID(ctx, correlationID)
		result = &MintRetryResult{Mint: mint, TxHash: handle.Hash.Hex()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("mint retry accepted",
		zap.String("correlation_id", correlationID),
		zap.String("tx_hash", result.TxHash),
		zap.Bool("reconciled", result.Reconciled))

	if handle != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.Await(context.Background(), correlationID, handle); err != nil {
				logger.Error("retried mint failed", zap.String("correlation_id", correlationID), zap.Error(err))
			}
		}()
	}
	return result, nil
}

// Recover 补齐崩溃或等待超时遗留的铸币结果
// SUBMITTED 的铸币按哈希查询回执；已 COMPLETED 却没有铸币记录的支付重新派发
func (s *MintService) Recover(ctx context.Context) (int, error) {
	submitted, err := s.mints.ListByStatus(ctx, model.MintStatusSubmitted, 100)
	if err != nil {
		return 0, fmt.Errorf("list submitted mints: %w", err)
	}

	resolved := 0
	for _, mint := range submitted {
		if mint.TxHash == "" {
			continue
		}
		hash := common.HexToHash(mint.TxHash)
		receipt, err := s.waiter.Resolve(ctx, hash, common.HexToAddress(mint.FromAddress), uint64(mint.Nonce))
		switch {
		case err == nil:
			s.confirm(ctx, mint.CorrelationID, hash, uint64(mint.Nonce), receipt)
			resolved++
		case errors.Is(err, blockchain.ErrTxFailed), errors.Is(err, blockchain.ErrTxDropped):
			s.fail(ctx, mint, err)
			s.finalize(ctx, uint64(mint.Nonce), hash)
			resolved++
		default:
			logger.Debug("submitted mint still pending",
				zap.String("correlation_id", mint.CorrelationID),
				zap.String("tx_hash", mint.TxHash),
				zap.Error(err))
		}
	}

	staleBefore := time.Now().Add(-s.submitDeadline).UnixMilli()

	pending, err := s.mints.ListByStatus(ctx, model.MintStatusPending, 100)
	if err == nil {
		for _, mint := range pending {
			if mint.CreatedAt < staleBefore {
				logger.Warn("mint stuck before broadcast, verify on-chain before retry",
					zap.String("correlation_id", mint.CorrelationID),
					zap.Int64("created_at", mint.CreatedAt))
			}
		}
	}

	orphans, err := s.payments.ListCompletedWithoutMint(ctx, staleBefore, 100)
	if err != nil {
		return resolved, fmt.Errorf("list completed payments without mint: %w", err)
	}
	for _, rec := range orphans {
		// 铸币记录先于广播写入，没有记录即从未广播
		logger.Warn("completed payment has no mint, dispatching",
			zap.String("correlation_id", rec.CorrelationID),
			zap.Int64("completed_at", rec.CompletedAt))
		s.alerter.SendAsync(ctx, &alert.Alert{
			Title:    "Mint missing for completed payment",
			Message:  fmt.Sprintf("payment %s completed without a mint record, mint re-dispatched", rec.CorrelationID),
			Severity: alert.SeverityWarning,
			Tags:     map[string]string{"correlation_id": rec.CorrelationID},
		})
		metrics.RecordMint("redispatched")
		s.Dispatch(rec)
		resolved++
	}

	if resolved > 0 {
		logger.Info("recovered mints", zap.Int("count", resolved))
	}
	return resolved, nil
}
