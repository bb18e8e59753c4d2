package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CampaignABI 活动托管合约，捐赠前需先对合约 approve 稳定币
//
//	function donate(uint256 amount) external;
//	function getCampaignInfo() external view returns (
//	    string title, string description, uint256 goal, uint256 raised,
//	    address beneficiary, address creator, uint256 createdAt, bool active,
//	    uint256 balance, uint256 donorCount);
//	event DonationReceived(address indexed donor, uint256 amount, uint256 totalRaised);
const CampaignABI = `[
	{
		"type": "function",
		"name": "donate",
		"inputs": [{"name": "amount", "type": "uint256"}],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "getCampaignInfo",
		"inputs": [],
		"outputs": [
			{"name": "title", "type": "string"},
			{"name": "description", "type": "string"},
			{"name": "goal", "type": "uint256"},
			{"name": "raised", "type": "uint256"},
			{"name": "beneficiary", "type": "address"},
			{"name": "creator", "type": "address"},
			{"name": "createdAt", "type": "uint256"},
			{"name": "active", "type": "bool"},
			{"name": "balance", "type": "uint256"},
			{"name": "donorCount", "type": "uint256"}
		],
		"stateMutability": "view"
	},
	{
		"type": "event",
		"name": "DonationReceived",
		"inputs": [
			{"name": "donor", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "totalRaised", "type": "uint256", "indexed": false}
		]
	}
]`

var campaignABI = mustParseABI(CampaignABI)

// CampaignInfo getCampaignInfo 返回值
type CampaignInfo struct {
	Title       string
	Description string
	Goal        *big.Int
	Raised      *big.Int
	Beneficiary common.Address
	Creator     common.Address
	CreatedAt   *big.Int
	Active      bool
	Balance     *big.Int
	DonorCount  *big.Int
}

// DonationReceivedEvent 捐赠事件
type DonationReceivedEvent struct {
	Donor       common.Address
	Amount      *big.Int
	TotalRaised *big.Int
	Raw         types.Log
}

// Campaign 活动托管合约
type Campaign struct {
	address common.Address
	caller  Caller
}

// NewCampaign 创建活动合约实例
func NewCampaign(address common.Address, caller Caller) *Campaign {
	return &Campaign{address: address, caller: caller}
}

// Address 合约地址
func (c *Campaign) Address() common.Address {
	return c.address
}

// PackDonate 编码 donate 调用
func (c *Campaign) PackDonate(amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return campaignABI.Pack("donate", amount)
}

// Info 读取链上活动状态
func (c *Campaign) Info(ctx context.Context) (*CampaignInfo, error) {
	var info CampaignInfo
	if err := call(ctx, c.caller, c.address, campaignABI, "getCampaignInfo", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ParseDonationReceived 解析捐赠日志
func (c *Campaign) ParseDonationReceived(log types.Log) (*DonationReceivedEvent, error) {
	if log.Address != c.address || len(log.Topics) != 2 || log.Topics[0] != campaignABI.Events["DonationReceived"].ID {
		return nil, ErrUnexpectedLog
	}

	ev := &DonationReceivedEvent{
		Donor: common.BytesToAddress(log.Topics[1].Bytes()),
		Raw:   log,
	}
	if err := campaignABI.UnpackIntoInterface(ev, "DonationReceived", log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}
