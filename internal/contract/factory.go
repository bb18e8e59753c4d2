package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FactoryABI 活动工厂
//
//	function createCampaign(string title, string description, uint256 goal, address beneficiary)
//	    external returns (uint256 campaignId, address campaignAddress);
//	function getCampaignCount() external view returns (uint256);
//	function getCampaign(uint256 campaignId) external view returns (address);
//	event CampaignCreated(uint256 indexed campaignId, address indexed campaignAddress,
//	    address indexed creator, string title, uint256 goal);
const FactoryABI = `[
	{
		"type": "function",
		"name": "createCampaign",
		"inputs": [
			{"name": "title", "type": "string"},
			{"name": "description", "type": "string"},
			{"name": "goal", "type": "uint256"},
			{"name": "beneficiary", "type": "address"}
		],
		"outputs": [
			{"name": "campaignId", "type": "uint256"},
			{"name": "campaignAddress", "type": "address"}
		],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "getCampaignCount",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "getCampaign",
		"inputs": [{"name": "campaignId", "type": "uint256"}],
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view"
	},
	{
		"type": "event",
		"name": "CampaignCreated",
		"inputs": [
			{"name": "campaignId", "type": "uint256", "indexed": true},
			{"name": "campaignAddress", "type": "address", "indexed": true},
			{"name": "creator", "type": "address", "indexed": true},
			{"name": "title", "type": "string", "indexed": false},
			{"name": "goal", "type": "uint256", "indexed": false}
		]
	}
]`

var factoryABI = mustParseABI(FactoryABI)

// CreateCampaignParams createCampaign 参数
type CreateCampaignParams struct {
	Title       string
	Description string
	Goal        *big.Int
	Beneficiary common.Address
}

// CampaignCreatedEvent 活动创建事件
type CampaignCreatedEvent struct {
	CampaignID      *big.Int
	CampaignAddress common.Address
	Creator         common.Address
	Title           string
	Goal            *big.Int
	Raw             types.Log
}

// Factory 活动工厂合约
type Factory struct {
	address common.Address
	caller  Caller
}

// NewFactory 创建工厂合约实例
func NewFactory(address common.Address, caller Caller) *Factory {
	return &Factory{address: address, caller: caller}
}

// Address 合约地址
func (f *Factory) Address() common.Address {
	return f.address
}

// CampaignCreatedTopic 日志过滤用的事件签名
func CampaignCreatedTopic() common.Hash {
	return factoryABI.Events["CampaignCreated"].ID
}

// PackCreateCampaign 编码 createCampaign 调用
func (f *Factory) PackCreateCampaign(p *CreateCampaignParams) ([]byte, error) {
	if p.Goal == nil || p.Goal.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.Beneficiary == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	return factoryABI.Pack("createCampaign", p.Title, p.Description, p.Goal, p.Beneficiary)
}

// CampaignCount 已创建活动数
func (f *Factory) CampaignCount(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	if err := call(ctx, f.caller, f.address, factoryABI, "getCampaignCount", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CampaignAt 按 ID 查询活动合约地址
func (f *Factory) CampaignAt(ctx context.Context, id *big.Int) (common.Address, error) {
	var out common.Address
	if err := call(ctx, f.caller, f.address, factoryABI, "getCampaign", &out, id); err != nil {
		return common.Address{}, err
	}
	return out, nil
}

// ParseCampaignCreated 解析活动创建日志
func (f *Factory) ParseCampaignCreated(log types.Log) (*CampaignCreatedEvent, error) {
	if log.Address != f.address || len(log.Topics) != 4 || log.Topics[0] != CampaignCreatedTopic() {
		return nil, ErrUnexpectedLog
	}

	ev := &CampaignCreatedEvent{
		CampaignID:      new(big.Int).SetBytes(log.Topics[1].Bytes()),
		CampaignAddress: common.BytesToAddress(log.Topics[2].Bytes()),
		Creator:         common.BytesToAddress(log.Topics[3].Bytes()),
		Raw:             log,
	}
	if err := factoryABI.UnpackIntoInterface(ev, "CampaignCreated", log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}

// FindCampaignCreated 在回执中查找活动创建事件
func (f *Factory) FindCampaignCreated(receipt *types.Receipt) (*CampaignCreatedEvent, bool) {
	for _, l := range receipt.Logs {
		if ev, err := f.ParseCampaignCreated(*l); err == nil {
			return ev, true
		}
	}
	return nil, false
}
