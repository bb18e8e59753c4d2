// Package contract 提供稳定币、活动托管合约与活动工厂的 ABI 绑定
package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidAddress = errors.New("invalid address")
	ErrUnexpectedLog  = errors.New("log does not match event")
)

// Caller 只读合约调用
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenABI ERC-20 稳定币，托管账户持有 mint 权限
//
//	function mint(address to, uint256 amount) external;
//	function approve(address spender, uint256 amount) external returns (bool);
//	function allowance(address owner, address spender) external view returns (uint256);
//	function balanceOf(address account) external view returns (uint256);
//	function decimals() external view returns (uint8);
//	event Transfer(address indexed from, address indexed to, uint256 value);
//	event Approval(address indexed owner, address indexed spender, uint256 value);
const TokenABI = `[
	{
		"type": "function",
		"name": "mint",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "approve",
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "allowance",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "balanceOf",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "decimals",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint8"}],
		"stateMutability": "view"
	},
	{
		"type": "event",
		"name": "Transfer",
		"inputs": [
			{"name": "from", "type": "address", "indexed": true},
			{"name": "to", "type": "address", "indexed": true},
			{"name": "value", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "Approval",
		"inputs": [
			{"name": "owner", "type": "address", "indexed": true},
			{"name": "spender", "type": "address", "indexed": true},
			{"name": "value", "type": "uint256", "indexed": false}
		]
	}
]`

var tokenABI = mustParseABI(TokenABI)

// MaxUint256 无限授权额度
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// TransferEvent ERC-20 Transfer 事件，mint 时 From 为零地址
type TransferEvent struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Raw   types.Log
}

// Token 稳定币合约
type Token struct {
	address common.Address
	caller  Caller
}

// NewToken 创建稳定币合约实例
func NewToken(address common.Address, caller Caller) *Token {
	return &Token{address: address, caller: caller}
}

// Address 合约地址
func (t *Token) Address() common.Address {
	return t.address
}

// PackMint 编码 mint 调用
func (t *Token) PackMint(to common.Address, amount *big.Int) ([]byte, error) {
	if to == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return tokenABI.Pack("mint", to, amount)
}

// PackApprove 编码 approve 调用
func (t *Token) PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return tokenABI.Pack("approve", spender, amount)
}

// Allowance 查询 owner 对 spender 的授权额度
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var out *big.Int
	if err := call(ctx, t.caller, t.address, tokenABI, "allowance", &out, owner, spender); err != nil {
		return nil, err
	}
	return out, nil
}

// BalanceOf 查询余额
func (t *Token) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out *big.Int
	if err := call(ctx, t.caller, t.address, tokenABI, "balanceOf", &out, account); err != nil {
		return nil, err
	}
	return out, nil
}

// Decimals 查询精度
func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	var out uint8
	if err := call(ctx, t.caller, t.address, tokenABI, "decimals", &out); err != nil {
		return 0, err
	}
	return out, nil
}

// ParseTransfer 解析 Transfer 日志
func (t *Token) ParseTransfer(log types.Log) (*TransferEvent, error) {
	if log.Address != t.address || len(log.Topics) != 3 || log.Topics[0] != tokenABI.Events["Transfer"].ID {
		return nil, ErrUnexpectedLog
	}
	if len(log.Data) < 32 {
		return nil, ErrUnexpectedLog
	}
	return &TransferEvent{
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Value: new(big.Int).SetBytes(log.Data[:32]),
		Raw:   log,
	}, nil
}

// FindMint 在回执中查找发给 to 的 mint 转账
func (t *Token) FindMint(receipt *types.Receipt, to common.Address) (*TransferEvent, bool) {
	if receipt == nil {
		return nil, false
	}
	for _, l := range receipt.Logs {
		ev, err := t.ParseTransfer(*l)
		if err != nil {
			continue
		}
		if ev.From == (common.Address{}) && ev.To == to {
			return ev, true
		}
	}
	return nil, false
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// call 执行只读调用并解码到 out
func call(ctx context.Context, caller Caller, address common.Address, contractABI abi.ABI, method string, out interface{}, args ...interface{}) error {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return err
	}

	result, err := caller.CallContract(ctx, ethereum.CallMsg{To: &address, Data: data}, nil)
	if err != nil {
		return err
	}
	if len(result) == 0 {
		return errors.New("empty result from " + method + ", contract not deployed?")
	}

	return contractABI.UnpackIntoInterface(out, method, result)
}
