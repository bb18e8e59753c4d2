package contract

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr    = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	factoryAddr  = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	campaignAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	donor        = common.HexToAddress("0x0000000000000000000000000000000000000abc")
)

// stubCaller 按方法选择器返回预置结果
type stubCaller struct {
	results map[string][]byte
	calls   []ethereum.CallMsg
	err     error
}

func (s *stubCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	s.calls = append(s.calls, msg)
	if s.err != nil {
		return nil, s.err
	}
	return s.results[string(msg.Data[:4])], nil
}

func TestToBaseUnits(t *testing.T) {
	v, err := ToBaseUnits(decimal.NewFromInt(100), 18)
	require.NoError(t, err)
	expected, _ := new(big.Int).SetString("100000000000000000000", 10)
	assert.Equal(t, 0, expected.Cmp(v))

	v, err = ToBaseUnits(decimal.RequireFromString("12.34"), 18)
	require.NoError(t, err)
	expected, _ = new(big.Int).SetString("12340000000000000000", 10)
	assert.Equal(t, 0, expected.Cmp(v))

	_, err = ToBaseUnits(decimal.RequireFromString("0.001"), 2)
	assert.ErrorIs(t, err, ErrFractionalBaseUnits)

	assert.Equal(t, "12.34", FromBaseUnits(expected, 18).String())
	assert.True(t, FromBaseUnits(nil, 18).IsZero())
}

func TestToken_PackMint(t *testing.T) {
	token := NewToken(tokenAddr, nil)
	amount := big.NewInt(1000)

	data, err := token.PackMint(donor, amount)
	require.NoError(t, err)

	method, err := tokenABI.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, "mint", method.Name)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, donor, args[0])
	assert.Equal(t, 0, amount.Cmp(args[1].(*big.Int)))

	_, err = token.PackMint(common.Address{}, amount)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = token.PackMint(donor, big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestToken_Reads(t *testing.T) {
	allowanceOut, err := tokenABI.Methods["allowance"].Outputs.Pack(big.NewInt(50))
	require.NoError(t, err)
	balanceOut, err := tokenABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(70))
	require.NoError(t, err)
	decimalsOut, err := tokenABI.Methods["decimals"].Outputs.Pack(uint8(18))
	require.NoError(t, err)

	caller := &stubCaller{results: map[string][]byte{
		string(tokenABI.Methods["allowance"].ID): allowanceOut,
		string(tokenABI.Methods["balanceOf"].ID): balanceOut,
		string(tokenABI.Methods["decimals"].ID):  decimalsOut,
	}}
	token := NewToken(tokenAddr, caller)
	ctx := context.Background()

	a, err := token.Allowance(ctx, donor, campaignAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(50), a.Int64())

	b, err := token.BalanceOf(ctx, donor)
	require.NoError(t, err)
	assert.Equal(t, int64(70), b.Int64())

	d, err := token.Decimals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), d)

	assert.Equal(t, tokenAddr, *caller.calls[0].To)
}

func TestToken_EmptyResult(t *testing.T) {
	token := NewToken(tokenAddr, &stubCaller{results: map[string][]byte{}})
	_, err := token.BalanceOf(context.Background(), donor)
	assert.ErrorContains(t, err, "not deployed")

	token = NewToken(tokenAddr, &stubCaller{err: errors.New("connection refused")})
	_, err = token.BalanceOf(context.Background(), donor)
	assert.ErrorContains(t, err, "connection refused")
}

func TestToken_FindMint(t *testing.T) {
	token := NewToken(tokenAddr, nil)
	value := common.LeftPadBytes(big.NewInt(100).Bytes(), 32)
	transferID := tokenABI.Events["Transfer"].ID

	receipt := &types.Receipt{Logs: []*types.Log{
		{Address: common.Address{9}, Topics: []common.Hash{transferID, {}, common.BytesToHash(donor.Bytes())}, Data: value},
		{Address: tokenAddr, Topics: []common.Hash{transferID, {}, common.BytesToHash(donor.Bytes())}, Data: value},
	}}

	ev, ok := token.FindMint(receipt, donor)
	require.True(t, ok)
	assert.Equal(t, int64(100), ev.Value.Int64())
	assert.Equal(t, common.Address{}, ev.From)

	_, ok = token.FindMint(receipt, campaignAddr)
	assert.False(t, ok)
	_, ok = token.FindMint(nil, donor)
	assert.False(t, ok)
}

func TestCampaign_Info(t *testing.T) {
	out, err := campaignABI.Methods["getCampaignInfo"].Outputs.Pack(
		"Clean water", "Wells for villages",
		big.NewInt(1000), big.NewInt(250),
		common.HexToAddress("0xbeef"), common.HexToAddress("0xc0de"),
		big.NewInt(1700000000), true,
		big.NewInt(250), big.NewInt(3),
	)
	require.NoError(t, err)

	caller := &stubCaller{results: map[string][]byte{string(campaignABI.Methods["getCampaignInfo"].ID): out}}
	info, err := NewCampaign(campaignAddr, caller).Info(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Clean water", info.Title)
	assert.Equal(t, int64(250), info.Raised.Int64())
	assert.Equal(t, int64(3), info.DonorCount.Int64())
	assert.Equal(t, common.HexToAddress("0xbeef"), info.Beneficiary)
	assert.True(t, info.Active)
}

func TestCampaign_PackDonateAndParse(t *testing.T) {
	c := NewCampaign(campaignAddr, nil)

	data, err := c.PackDonate(big.NewInt(50))
	require.NoError(t, err)
	assert.Equal(t, campaignABI.Methods["donate"].ID, data[:4])

	_, err = c.PackDonate(nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	payload, err := campaignABI.Events["DonationReceived"].Inputs.NonIndexed().Pack(big.NewInt(50), big.NewInt(300))
	require.NoError(t, err)
	ev, err := c.ParseDonationReceived(types.Log{
		Address: campaignAddr,
		Topics:  []common.Hash{campaignABI.Events["DonationReceived"].ID, common.BytesToHash(donor.Bytes())},
		Data:    payload,
	})
	require.NoError(t, err)
	assert.Equal(t, donor, ev.Donor)
	assert.Equal(t, int64(300), ev.TotalRaised.Int64())
}

func TestFactory_ParseCampaignCreated(t *testing.T) {
	f := NewFactory(factoryAddr, nil)
	creator := common.HexToAddress("0x00000000000000000000000000000000000000ee")

	payload, err := factoryABI.Events["CampaignCreated"].Inputs.NonIndexed().Pack("Clean water", big.NewInt(1000))
	require.NoError(t, err)
	log := types.Log{
		Address: factoryAddr,
		Topics: []common.Hash{
			CampaignCreatedTopic(),
			common.BigToHash(big.NewInt(7)),
			common.BytesToHash(campaignAddr.Bytes()),
			common.BytesToHash(creator.Bytes()),
		},
		Data: payload,
	}

	ev, err := f.ParseCampaignCreated(log)
	require.NoError(t, err)
	assert.Equal(t, int64(7), ev.CampaignID.Int64())
	assert.Equal(t, campaignAddr, ev.CampaignAddress)
	assert.Equal(t, creator, ev.Creator)
	assert.Equal(t, "Clean water", ev.Title)
	assert.Equal(t, int64(1000), ev.Goal.Int64())

	found, ok := f.FindCampaignCreated(&types.Receipt{Logs: []*types.Log{&log}})
	require.True(t, ok)
	assert.Equal(t, campaignAddr, found.CampaignAddress)

	log.Address = tokenAddr
	_, err = f.ParseCampaignCreated(log)
	assert.ErrorIs(t, err, ErrUnexpectedLog)
}

func TestFactory_PackCreateCampaign(t *testing.T) {
	f := NewFactory(factoryAddr, nil)

	_, err := f.PackCreateCampaign(&CreateCampaignParams{Title: "t", Goal: big.NewInt(0), Beneficiary: donor})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.PackCreateCampaign(&CreateCampaignParams{Title: "t", Goal: big.NewInt(1)})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	data, err := f.PackCreateCampaign(&CreateCampaignParams{Title: "t", Description: "d", Goal: big.NewInt(1), Beneficiary: donor})
	require.NoError(t, err)
	assert.Equal(t, factoryABI.Methods["createCampaign"].ID, data[:4])
}

func TestFactory_Reads(t *testing.T) {
	countOut, err := factoryABI.Methods["getCampaignCount"].Outputs.Pack(big.NewInt(2))
	require.NoError(t, err)
	addrOut, err := factoryABI.Methods["getCampaign"].Outputs.Pack(campaignAddr)
	require.NoError(t, err)

	f := NewFactory(factoryAddr, &stubCaller{results: map[string][]byte{
		string(factoryABI.Methods["getCampaignCount"].ID): countOut,
		string(factoryABI.Methods["getCampaign"].ID):      addrOut,
	}})

	n, err := f.CampaignCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.Int64())

	addr, err := f.CampaignAt(context.Background(), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, campaignAddr, addr)
}
