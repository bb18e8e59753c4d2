// Package donation 实现捐赠方的两步链上流程：先对活动合约授权稳定币，再调用 donate
//
// 状态机:
//
//	idle -> checking-allowance -> (approving -> awaiting-approval) -> donating -> awaiting-donation -> settled | failed | pending
//
// 每次 Donate 都从 checking-allowance 开始，上次中断前已上链的授权不会重复提交。
// 已广播但等待超时的交易进入 pending 而不是 failed，错误里带交易哈希。
// 钱包仍有未打包的交易时拒绝开始新流程，避免重复授权或重复捐赠。
// 任何失败都不自动重试，按 Kind 分类交给调用方决定补救动作。
package donation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/blockchain"
	"github.com/eidos-exchange/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// State 捐赠流程状态
type State int

const (
	StateIdle State = iota
	StateCheckingAllowance
	StateApproving
	StateAwaitingApproval
	StateDonating
	StateAwaitingDonation
	StateSettled
	StateFailed
	// StatePending 交易已广播，确认结果未知
	StatePending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingAllowance:
		return "checking-allowance"
	case StateApproving:
		return "approving"
	case StateAwaitingApproval:
		return "awaiting-approval"
	case StateDonating:
		return "donating"
	case StateAwaitingDonation:
		return "awaiting-donation"
	case StateSettled:
		return "settled"
	case StateFailed:
		return "failed"
	case StatePending:
		return "pending"
	default:
		return "unknown"
	}
}

// AllowanceStrategy 授权额度策略
type AllowanceStrategy string

const (
	// AllowanceExact 只授权本次捐赠金额
	AllowanceExact AllowanceStrategy = "exact"
	// AllowanceUnlimited 授权 2^256-1，后续捐赠免授权
	AllowanceUnlimited AllowanceStrategy = "unlimited"
)

var (
	// ErrRejected 钱包持有人拒绝签名
	ErrRejected = errors.New("request rejected by wallet holder")
	// ErrWrongNetwork 钱包所在链与配置不一致
	ErrWrongNetwork = errors.New("wallet connected to the wrong network")
	// ErrInvalidAmount 捐赠金额必须为正
	ErrInvalidAmount = errors.New("donation amount must be positive")
	// ErrBusy 同一钱包会话同时只允许一个流程
	ErrBusy = errors.New("a donation is already in progress")
	// ErrStillPending 交易已广播但尚未确认
	ErrStillPending = errors.New("transaction broadcast, confirmation still pending")
)

// Wallet 捐赠方钱包会话
type Wallet interface {
	Address() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	// Send 签名并广播，返回后交易可能尚未上链
	Send(ctx context.Context, to common.Address, data []byte) (*blockchain.TxHandle, error)
	// Await 等待交易确认，回滚时返回 blockchain.ErrTxFailed
	Await(ctx context.Context, handle *blockchain.TxHandle) (*types.Receipt, error)
	// HasPending 钱包是否有已广播未打包的交易
	HasPending(ctx context.Context) (bool, error)
}

// Config 捐赠客户端配置
type Config struct {
	ChainID      int64
	Strategy     AllowanceStrategy
	AwaitTimeout time.Duration
}

// Result 完成后的链上读数
type Result struct {
	Campaign   common.Address
	Amount     *big.Int
	Approved   bool
	ApproveTx  common.Hash
	DonateTx   common.Hash
	Raised     *big.Int
	Balance    *big.Int
	DonorCount *big.Int
}

// Client 捐赠流程编排
type Client struct {
	wallet   Wallet
	token    *contract.Token
	caller   contract.Caller
	chainID  int64
	strategy AllowanceStrategy
	timeout  time.Duration

	mu       sync.Mutex
	running  bool
	state    State
	observer func(from, to State)
}

// NewClient 创建捐赠客户端
func NewClient(wallet Wallet, token *contract.Token, caller contract.Caller, cfg *Config) *Client {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = AllowanceExact
	}
	timeout := cfg.AwaitTimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		wallet:   wallet,
		token:    token,
		caller:   caller,
		chainID:  cfg.ChainID,
		strategy: strategy,
		timeout:  timeout,
	}
}

// OnStateChange 注册状态变化回调，CLI 用于展示进度
func (c *Client) OnStateChange(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

// State 当前状态
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) moveTo(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	observer := c.observer
	c.mu.Unlock()

	logger.Debug("donation state changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()))
	if observer != nil {
		observer(prev, next)
	}
}

// Donate 向活动合约捐赠 amount (基础单位)
func (c *Client) Donate(ctx context.Context, campaign common.Address, amount *big.Int) (*Result, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, &Error{Kind: KindGeneric, State: StateIdle, Err: ErrInvalidAmount}
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	result, err := c.run(ctx, campaign, amount)
	if err != nil {
		failedIn := c.State()
		derr := classify(failedIn, err)
		metrics.RecordDonation(derr.Kind.String())
		if derr.Kind == KindPending {
			c.moveTo(StatePending)
			logger.Warn("donation pending",
				zap.String("campaign", campaign.Hex()),
				zap.String("state", failedIn.String()),
				zap.String("tx_hash", derr.TxHash.Hex()),
				zap.Error(err))
			return nil, derr
		}
		c.moveTo(StateFailed)
		logger.Warn("donation failed",
			zap.String("campaign", campaign.Hex()),
			zap.String("state", failedIn.String()),
			zap.String("kind", derr.Kind.String()),
			zap.Error(err))
		return nil, derr
	}
	metrics.RecordDonation("settled")
	return result, nil
}

func (c *Client) run(ctx context.Context, campaign common.Address, amount *big.Int) (*Result, error) {
	owner := c.wallet.Address()
	result := &Result{Campaign: campaign, Amount: new(big.Int).Set(amount)}

	c.moveTo(StateCheckingAllowance)
	if err := c.checkNetwork(ctx); err != nil {
		return nil, err
	}
	inFlight, err := c.wallet.HasPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pending transactions: %w", err)
	}
	if inFlight {
		return nil, fmt.Errorf("%w: wallet %s has unconfirmed transactions", ErrStillPending, owner.Hex())
	}

	balance, err := c.token.BalanceOf(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: balance %s below %s", blockchain.ErrInsufficientFunds, balance, amount)
	}

	allowance, err := c.token.Allowance(ctx, owner, campaign)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}

	if allowance.Cmp(amount) < 0 {
		c.moveTo(StateApproving)
		approveAmount := amount
		if c.strategy == AllowanceUnlimited {
			approveAmount = contract.MaxUint256
		}
		data, err := c.token.PackApprove(campaign, approveAmount)
		if err != nil {
			return nil, err
		}
		handle, err := c.wallet.Send(ctx, c.token.Address(), data)
		if err != nil && !broadcastUncertain(handle, err) {
			return nil, fmt.Errorf("send approve: %w", err)
		}

		c.moveTo(StateAwaitingApproval)
		if err := c.await(ctx, handle); err != nil {
			return nil, &txError{op: "await approve", hash: handle.Hash, err: err}
		}
		result.Approved = true
		result.ApproveTx = handle.Hash
		logger.Info("allowance approved",
			zap.String("campaign", campaign.Hex()),
			zap.String("amount", approveAmount.String()),
			zap.String("tx_hash", handle.Hash.Hex()))
	}

	c.moveTo(StateDonating)
	escrow := contract.NewCampaign(campaign, c.caller)
	data, err := escrow.PackDonate(amount)
	if err != nil {
		return nil, err
	}
	handle, err := c.wallet.Send(ctx, campaign, data)
	if err != nil && !broadcastUncertain(handle, err) {
		return nil, fmt.Errorf("send donate: %w", err)
	}

	c.moveTo(StateAwaitingDonation)
	if err := c.await(ctx, handle); err != nil {
		return nil, &txError{op: "await donate", hash: handle.Hash, err: err}
	}
	result.DonateTx = handle.Hash

	// 链上读数失败不影响已完成的捐赠
	info, err := escrow.Info(ctx)
	if err != nil {
		logger.Warn("read campaign after donation failed", zap.String("campaign", campaign.Hex()), zap.Error(err))
	} else {
		result.Raised = info.Raised
		result.Balance = info.Balance
		result.DonorCount = info.DonorCount
	}

	c.moveTo(StateSettled)
	logger.Info("donation settled",
		zap.String("campaign", campaign.Hex()),
		zap.String("donor", owner.Hex()),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", handle.Hash.Hex()))
	return result, nil
}

func (c *Client) checkNetwork(ctx context.Context) error {
	if c.chainID == 0 {
		return nil
	}
	id, err := c.wallet.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read wallet network: %w", err)
	}
	if id.Int64() != c.chainID {
		return fmt.Errorf("%w: wallet on %s, campaign on %d", ErrWrongNetwork, id, c.chainID)
	}
	return nil
}

// await 超时或放弃等待时返回 ErrStillPending，交易仍可能上链
func (c *Client) await(ctx context.Context, handle *blockchain.TxHandle) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.wallet.Await(waitCtx, handle)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrStillPending, err)
	}
	return err
}

// broadcastUncertain 广播结果未知但已拿到哈希，按已发送处理
func broadcastUncertain(handle *blockchain.TxHandle, err error) bool {
	return handle != nil && errors.Is(err, blockchain.ErrSendUncertain)
}

// txError 已广播交易的失败，保留哈希
type txError struct {
	op   string
	hash common.Hash
	err  error
}

func (e *txError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.op, e.hash.Hex(), e.err)
}

func (e *txError) Unwrap() error {
	return e.err
}

// Kind 面向用户的失败分类
type Kind int

const (
	KindGeneric Kind = iota
	KindRejected
	KindInsufficientFunds
	KindWrongNetwork
	KindReverted
	KindPending
)

func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindWrongNetwork:
		return "wrong_network"
	case KindReverted:
		return "reverted"
	case KindPending:
		return "pending"
	default:
		return "generic"
	}
}

// Remediation 给用户的补救提示
func (k Kind) Remediation() string {
	switch k {
	case KindRejected:
		return "the request was declined in the wallet; start the donation again to retry"
	case KindInsufficientFunds:
		return "top up the token balance or the gas balance of the wallet"
	case KindWrongNetwork:
		return "switch the wallet to the campaign's network"
	case KindReverted:
		return "the transaction reverted on-chain; check that the campaign is still open before trying again"
	case KindPending:
		return "the transaction was broadcast and may still confirm; wait for it on a block explorer before donating again"
	default:
		return "check the transaction on a block explorer before trying again"
	}
}

// Error 捐赠失败
type Error struct {
	Kind   Kind
	State  State       // 失败发生时所处的状态
	TxHash common.Hash // 已广播时的交易哈希
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("donation %s during %s: %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 取出错误分类，非捐赠错误返回 KindGeneric
func KindOf(err error) Kind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return KindGeneric
}

// 外部钱包拒签的常见错误文本 (EIP-1193 4001)
var rejectionMarkers = []string{"user rejected", "user denied", "rejected by user", "action_rejected"}

func classify(state State, err error) *Error {
	kind := KindGeneric
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, ErrStillPending):
		kind = KindPending
	case errors.Is(err, blockchain.ErrTxFailed):
		kind = KindReverted
	case errors.Is(err, ErrRejected):
		kind = KindRejected
	case errors.Is(err, ErrWrongNetwork):
		kind = KindWrongNetwork
	case errors.Is(err, blockchain.ErrInsufficientFunds), strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "transfer amount exceeds balance"):
		kind = KindInsufficientFunds
	default:
		for _, marker := range rejectionMarkers {
			if strings.Contains(msg, marker) {
				kind = KindRejected
				break
			}
		}
	}
	derr := &Error{Kind: kind, State: state, Err: err}
	var terr *txError
	if errors.As(err, &terr) {
		derr.TxHash = terr.hash
	}
	return derr
}
