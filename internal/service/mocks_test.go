package service

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-bridge/internal/blockchain"
	"github.com/eidos-exchange/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos-bridge/internal/model"
)

var (
	testTokenAddr    = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testFactoryAddr  = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	testCampaignAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testCustody      = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	testWallet       = common.HexToAddress("0x0000000000000000000000000000000000000abc")
)

// mockSubmitter 模拟交易广播
type mockSubmitter struct {
	mock.Mock
	mu    sync.Mutex
	calls [][]byte
	nonce uint64
}

func (m *mockSubmitter) Submit(ctx context.Context, to common.Address, data []byte) (*blockchain.TxHandle, error) {
	m.mu.Lock()
	m.calls = append(m.calls, data)
	m.mu.Unlock()

	args := m.Called(ctx, to, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*blockchain.TxHandle), args.Error(1)
}

func (m *mockSubmitter) From() common.Address {
	return testCustody
}

func (m *mockSubmitter) submitted() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.calls))
	copy(out, m.calls)
	return out
}

// mockWaiter 模拟回执等待
type mockWaiter struct {
	mock.Mock
}

func (m *mockWaiter) Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Receipt), args.Error(1)
}

func (m *mockWaiter) Resolve(ctx context.Context, txHash common.Hash, from common.Address, nonce uint64) (*types.Receipt, error) {
	args := m.Called(ctx, txHash, from, nonce)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Receipt), args.Error(1)
}

// recordingDispatcher 记录派发的铸币
type recordingDispatcher struct {
	mu   sync.Mutex
	recs []*model.PaymentRecord
}

func (d *recordingDispatcher) Dispatch(rec *model.PaymentRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recs = append(d.recs, rec)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.recs)
}

// stubChain 按方法选择器返回预置的合约读结果
type stubChain struct {
	mu        sync.Mutex
	networkID int64
	results   map[string][]byte
	err       error
	head      uint64
	logs      []types.Log
	queries   []ethereum.FilterQuery
}

func (s *stubChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.results[string(msg.Data[:4])], nil
}

func (s *stubChain) NetworkID(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return big.NewInt(s.networkID), nil
}

func (s *stubChain) BlockNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, s.err
}

func (s *stubChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []types.Log
	for _, l := range s.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *stubChain) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// campaignInfoResult 编码 getCampaignInfo 返回值
func campaignInfoResult(t *testing.T, raised, balance, goal *big.Int, donors int64, active bool) map[string][]byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(contract.CampaignABI))
	require.NoError(t, err)

	method := parsed.Methods["getCampaignInfo"]
	out, err := method.Outputs.Pack(
		"Clean water", "Wells for the north", goal, raised,
		testWallet, testCustody, big.NewInt(1700000000), active,
		balance, big.NewInt(donors),
	)
	require.NoError(t, err)
	return map[string][]byte{string(method.ID): out}
}

// campaignCreatedLog 构造 CampaignCreated 日志
func campaignCreatedLog(t *testing.T, id int64, campaign common.Address, block uint64) types.Log {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(contract.FactoryABI))
	require.NoError(t, err)

	data, err := parsed.Events["CampaignCreated"].Inputs.NonIndexed().Pack("Clean water", units(t, 1000))
	require.NoError(t, err)

	return types.Log{
		Address: testFactoryAddr,
		Topics: []common.Hash{
			contract.CampaignCreatedTopic(),
			common.BigToHash(big.NewInt(id)),
			common.BytesToHash(campaign.Bytes()),
			common.BytesToHash(testCustody.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
	}
}

// units 以 18 位精度换算
func units(t *testing.T, whole int64) *big.Int {
	t.Helper()
	return new(big.Int).Mul(big.NewInt(whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func txHandle(n int64) *blockchain.TxHandle {
	return &blockchain.TxHandle{
		Hash:        common.BigToHash(big.NewInt(n)),
		Nonce:       uint64(n),
		From:        testCustody,
		To:          testTokenAddr,
		SubmittedAt: time.Now(),
	}
}

func successReceipt(block int64) *types.Receipt {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(block),
		GasUsed:     52000,
	}
}

// decodeMint 解出 mint(to, amount) 参数
func decodeMint(t *testing.T, data []byte) (common.Address, *big.Int) {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(contract.TokenABI))
	require.NoError(t, err)
	method, err := parsed.MethodById(data[:4])
	require.NoError(t, err)
	require.Equal(t, "mint", method.Name)
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return args[0].(common.Address), args[1].(*big.Int)
}
