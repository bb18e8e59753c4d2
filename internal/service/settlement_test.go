package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-bridge/internal/blockchain"
	"github.com/eidos-exchange/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos-bridge/internal/processor"
	"github.com/eidos-exchange/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos-bridge/internal/webhook"
	bizerr "github.com/eidos-exchange/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init(&logger.Config{Level: "error", Format: "json", ServiceName: "eidos-bridge-test"})
	os.Exit(m.Run())
}

type settlementFixture struct {
	payments  repository.PaymentRepository
	mints     repository.MintRepository
	ledger    *LedgerService
	minter    *MintService
	webhooks  *WebhookService
	submitter *mockSubmitter
	waiter    *mockWaiter
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	f := &settlementFixture{
		submitter: &mockSubmitter{},
		waiter:    &mockWaiter{},
	}
	f.payments, f.mints = repository.NewMemoryLedger()
	locker := lock.NewLocalLocker()
	f.ledger = NewLedgerService(f.payments, locker, nil)
	f.minter = NewMintService(f.payments, f.mints, contract.NewToken(testTokenAddr, nil),
		f.submitter, f.waiter, locker, nil, nil, &MintServiceConfig{
			ChainID:      31337,
			AwaitTimeout: 200 * time.Millisecond,
			Workers:      2,
		})
	f.webhooks = NewWebhookService(f.ledger, f.minter)
	return f
}

func (f *settlementFixture) createPayment(t *testing.T, corrID string, amount int64) *model.PaymentRecord {
	t.Helper()
	rec, err := f.ledger.Create(context.Background(), corrID, decimal.NewFromInt(amount), testWallet.Hex())
	require.NoError(t, err)
	return rec
}

func TestLedger_ForwardOnly(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()
	f.createPayment(t, "c-1", 10)

	res, err := f.ledger.Transition(ctx, "c-1", model.PaymentStatusCompleted, "")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, model.PaymentStatusCompleted, res.Record.Status)
	assert.NotZero(t, res.Record.CompletedAt)

	// 终态不可再迁移
	res, err = f.ledger.Transition(ctx, "c-1", model.PaymentStatusFailed, "EXPIRED")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, model.PaymentStatusCompleted, res.Record.Status)

	res, err = f.ledger.Transition(ctx, "c-1", model.PaymentStatusPending, "")
	require.NoError(t, err)
	assert.False(t, res.Changed)

	_, err = f.ledger.Transition(ctx, "missing", model.PaymentStatusCompleted, "")
	assert.True(t, bizerr.Is(err, bizerr.ErrPaymentNotFound))
}

func TestLedger_CreateValidation(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Create(ctx, "", decimal.Zero, testWallet.Hex())
	assert.True(t, bizerr.Is(err, bizerr.ErrValidation))

	_, err = f.ledger.Create(ctx, "", decimal.NewFromInt(1), "not-a-wallet")
	assert.True(t, bizerr.Is(err, bizerr.ErrValidation))

	rec, err := f.ledger.Create(ctx, "", decimal.NewFromInt(1), testWallet.Hex())
	require.NoError(t, err)
	assert.NotEmpty(t, rec.CorrelationID)
	assert.NotEmpty(t, rec.PixID)
	assert.Equal(t, model.PaymentStatusPending, rec.Status)

	_, err = f.ledger.Create(ctx, rec.CorrelationID, decimal.NewFromInt(1), testWallet.Hex())
	assert.True(t, bizerr.Is(err, bizerr.ErrConflict))
}

// 重复的 COMPLETED 回调只产生一次铸币
func TestWebhook_DuplicateCompletedMintsOnce(t *testing.T) {
	f := newSettlementFixture(t)
	f.createPayment(t, "corr-a", 100)

	handle := txHandle(1)
	f.submitter.On("Submit", mock.Anything, testTokenAddr, mock.Anything).Return(handle, nil).Once()
	f.waiter.On("Wait", mock.Anything, handle.Hash).Return(successReceipt(12), nil).Once()

	ev := &webhook.CompletedEvent{Correlation: "corr-a", Amount: decimal.NewFromInt(100), DestinationWallet: testWallet.Hex()}

	const deliveries = 8
	results := make([]string, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.webhooks.Handle(context.Background(), ev)
			if assert.NoError(t, err) {
				results[i] = out.Result
			}
		}(i)
	}
	wg.Wait()
	f.minter.Wait()

	processed := 0
	for _, r := range results {
		if r == ResultProcessed {
			processed++
		} else {
			assert.Equal(t, ResultAlreadyProcessed, r)
		}
	}
	assert.Equal(t, 1, processed)

	calls := f.submitter.submitted()
	require.Len(t, calls, 1)
	to, amount := decodeMint(t, calls[0])
	assert.Equal(t, testWallet, to)
	assert.Equal(t, 0, units(t, 100).Cmp(amount))

	mint, err := f.mints.GetByCorrelationID(context.Background(), "corr-a")
	require.NoError(t, err)
	assert.Equal(t, model.MintStatusConfirmed, mint.Status)
	assert.Equal(t, handle.Hash.Hex(), mint.TxHash)
	assert.Equal(t, int64(12), mint.BlockNumber)

	rec, err := f.ledger.FindByCorrelationID(context.Background(), "corr-a")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, rec.Status)
	f.submitter.AssertExpectations(t)
	f.waiter.AssertExpectations(t)
}

func TestWebhook_ExpiredFailsWithoutMint(t *testing.T) {
	f := newSettlementFixture(t)
	f.createPayment(t, "corr-d", 25)

	out, err := f.webhooks.Handle(context.Background(), &webhook.ExpiredEvent{Correlation: "corr-d", Status: "EXPIRED"})
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, out.Result)
	assert.Equal(t, model.PaymentStatusFailed, out.Record.Status)
	assert.Equal(t, "EXPIRED", out.Record.FailureReason)

	// 迟到的 COMPLETED 被吸收
	out, err = f.webhooks.Handle(context.Background(), &webhook.CompletedEvent{Correlation: "corr-d", Amount: decimal.NewFromInt(25)})
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyProcessed, out.Result)
	assert.Equal(t, model.PaymentStatusFailed, out.Record.Status)

	f.minter.Wait()
	assert.Empty(t, f.submitter.submitted())
	_, err = f.mints.GetByCorrelationID(context.Background(), "corr-d")
	assert.ErrorIs(t, err, repository.ErrMintNotFound)
}

func TestWebhook_UnknownAndMissing(t *testing.T) {
	f := newSettlementFixture(t)
	f.createPayment(t, "corr-u", 5)

	out, err := f.webhooks.Handle(context.Background(), &webhook.UnknownEvent{Correlation: "corr-u", Status: "ACTIVE"})
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, out.Result)
	assert.Equal(t, model.PaymentStatusPending, out.Record.Status)

	_, err = f.webhooks.Handle(context.Background(), &webhook.CompletedEvent{Correlation: "nope", Amount: decimal.NewFromInt(1)})
	assert.True(t, bizerr.Is(err, bizerr.ErrPaymentNotFound))

	_, err = f.webhooks.Handle(context.Background(), &webhook.UnknownEvent{Correlation: "nope"})
	assert.True(t, bizerr.Is(err, bizerr.ErrPaymentNotFound))
}

func TestWebhook_MintsRecordValuesOnMismatch(t *testing.T) {
	f := newSettlementFixture(t)
	f.createPayment(t, "corr-m", 40)

	dispatcher := &recordingDispatcher{}
	svc := NewWebhookService(f.ledger, dispatcher)

	other := "0x0000000000000000000000000000000000000def"
	out, err := svc.Handle(context.Background(), &webhook.CompletedEvent{Correlation: "corr-m", Amount: decimal.NewFromInt(41), DestinationWallet: other})
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, out.Result)
	require.Equal(t, 1, dispatcher.count())
	assert.True(t, dispatcher.recs[0].Amount.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, testWallet.Hex(), dispatcher.recs[0].DestinationWallet)
}

func TestMint_SubmitFailureRecordsFailed(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.createPayment(t, "corr-f", 10)
	res, err := f.ledger.Transition(context.Background(), rec.CorrelationID, model.PaymentStatusCompleted, "")
	require.NoError(t, err)

	f.submitter.On("Submit", mock.Anything, testTokenAddr, mock.Anything).Return(nil, blockchain.ErrInsufficientFunds).Once()

	_, err = f.minter.MintFor(context.Background(), res.Record)
	assert.True(t, bizerr.Is(err, bizerr.ErrChainSubmission))

	mint, err := f.mints.GetByCorrelationID(context.Background(), "corr-f")
	require.NoError(t, err)
	assert.Equal(t, model.MintStatusFailed, mint.Status)
	assert.Contains(t, mint.ErrorMessage, "insufficient funds")

	// 账本不回滚
	after, err := f.ledger.FindByCorrelationID(context.Background(), "corr-f")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, after.Status)

	// 不自动重试
	_, err = f.minter.Submit(context.Background(), res.Record)
	assert.ErrorIs(t, err, ErrMintAlreadyRequested)
	f.submitter.AssertNumberOfCalls(t, "Submit", 1)
}

func TestMint_RejectsNonCompleted(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.createPayment(t, "corr-p", 10)

	_, err := f.minter.Submit(context.Background(), rec)
	assert.True(t, bizerr.Is(err, bizerr.ErrConflict))
	assert.Empty(t, f.submitter.submitted())
}

func TestMint_AwaitTimeoutKeepsSubmitted(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.createPayment(t, "corr-t", 10)
	res, err := f.ledger.Transition(context.Background(), rec.CorrelationID, model.PaymentStatusCompleted, "")
	require.NoError(t, err)

	handle := txHandle(7)
	f.submitter.On("Submit", mock.Anything, testTokenAddr, mock.Anything).Return(handle, nil).Once()
	f.waiter.On("Wait", mock.Anything, handle.Hash).Return(nil, context.DeadlineExceeded).Once()

	_, err = f.minter.MintFor(context.Background(), res.Record)
	assert.ErrorIs(t, err, ErrConfirmationPending)

	mint, err := f.mints.GetByCorrelationID(context.Background(), "corr-t")
	require.NoError(t, err)
	assert.Equal(t, model.MintStatusSubmitted, mint.Status)

	// 恢复任务补齐确认
	f.waiter.On("Resolve", mock.Anything, handle.Hash, testCustody, handle.Nonce).Return(successReceipt(30), nil).Once()
	n, err := f.minter.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mint, err = f.mints.GetByCorrelationID(context.Background(), "corr-t")
	require.NoError(t, err)
	assert.Equal(t, model.MintStatusConfirmed, mint.Status)
	assert.Equal(t, int64(30), mint.BlockNumber)
}

func TestMint_RecoverLeavesPendingReceipts(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.createPayment(t, "corr-r", 10)
	res, err := f.ledger.Transition(context.Background(), rec.CorrelationID, model.PaymentStatusCompleted, "")
	require.NoError(t, err)

	handle := txHandle(8)
	f.submitter.On("Submit", mock.Anything, testTokenAddr, mock.Anything).Return(handle, nil).Once()
	_, err = f.minter.Submit(context.Background(), res.Record)
	require.NoError(t, err)

	f.waiter.On("Resolve", mock.Anything, handle.Hash, testCustody, handle.Nonce).Return(nil, blockchain.ErrTxNotFound).Once()
	n, err := f.minter.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.waiter.On("Resolve", mock.Anything, handle.Hash, testCustody, handle.Nonce).Return(successReceipt(5), blockchain.ErrTxFailed).Once()
	n, err = f.minter.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mint, err := f.mints.GetByCorrelationID(context.Background(), "corr-r")
	require.NoError(t, err)
	assert.Equal(t, model.MintStatusFailed, mint.Status)
}

func failedMint(t *testing.T, f *settlementFixture, corrID string, handle *blockchain.TxHandle) *model.PaymentRecord {
	t.Helper()
	rec := f.createPayment(t, corrID, 100)
	res, err := f.ledger.Transition(context.Background(), rec.CorrelationID, model.PaymentStatusCompleted, "")
	require.NoError(t, err)

	f.submitter.On("Submit", mock.Anything, testTokenAddr, mock.Anything).Return(handle, nil).Once()
	f.waiter.On("Wait", mock.Anything, handle.Hash).Return(successReceipt(3), blockchain.ErrTxFailed).Once()
	_, err = f.minter.MintFor(context.Background(), res.Record)
	require.Error(t, err)

	mint, err := f.mints.GetByCorrelationID(context.Background(), corrID)
	require.NoError(t, err)
	require.Equal(t, model.MintStatusFailed, mint.Status)
	return res.Record
}

func TestMint_RetryAfterRevert(t *testing.T) {
	f := newSettlementFixture(t)
	first := txHandle(20)
	failedMint(t, f, "corr-retry", first)

	second := txHandle(21)
	f.waiter.On("Resolve", mock.Anything, first.Hash, testCustody, first.Nonce).Return(successReceipt(3), blockchain.ErrTxFailed).Once()
	f.submitter.On("Submit", mock.Anything, testTokenAddr, mock.Anything).Return(second, nil).Once()
	f.waiter.On("Wait", mock.Anything, second.Hash).Return(successReceipt(40), nil).Once()

	result, err := f.minter.Retry(context.Background(), "corr-retry")
	require.NoError(t, err)
	assert.False(t, result.Reconciled)
	assert.Equal(t, second.Hash.Hex(), result.TxHash)
	f.minter.Wait()

	mint, err := f.mints.GetByCorrelationID(context.Background(), "corr-retry")
	require.NoError(t, err)
	assert.Equal(t, model.MintStatusConfirmed, mint.Status)
	assert.Equal(t, second.Hash.Hex(), mint.TxHash)
	assert.Equal(t, 2, mint.Attempts)
	assert.Len(t, f.submitter.submitted(), 2)
}

func TestMint_RetryReconcilesLandedTx(t *testing.T) {
	f := newSettlementFixture(t)
	first := txHandle(30)
	failedMint(t, f, "corr-landed", first)

	f.waiter.On("Resolve", mock.Anything, first.Hash, testCustody, first.Nonce).Return(successReceipt(9), nil).Once()

	result, err := f.minter.Retry(context.Background(), "corr-landed")
	require.NoError(t, err)
	assert.True(t, result.Reconciled)
	assert.Equal(t, model.MintStatusConfirmed, result.Mint.Status)
	assert.Len(t, f.submitter.submitted(), 1)
}

func TestMint_RetryRefusesUnknownState(t *testing.T) {
	f := newSettlementFixture(t)
	first := txHandle(40)
	failedMint(t, f, "corr-unknown", first)

	f.waiter.On("Resolve", mock.Anything, first.Hash, testCustody, first.Nonce).Return(nil, blockchain.ErrTxNotFound).Once()

	_, err := f.minter.Retry(context.Background(), "corr-unknown")
	assert.True(t, bizerr.Is(err, bizerr.ErrConflict))
	assert.Len(t, f.submitter.submitted(), 1)
}

func TestMint_RetryRejectsConfirmed(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.createPayment(t, "corr-ok", 1)
	res, err := f.ledger.Transition(context.Background(), rec.CorrelationID, model.PaymentStatusCompleted, "")
	require.NoError(t, err)

	handle := txHandle(50)
	f.submitter.On("Submit", mock.Anything, testTokenAddr, mock.Anything).Return(handle, nil).Once()
	f.waiter.On("Wait", mock.Anything, handle.Hash).Return(successReceipt(2), nil).Once()
	_, err = f.minter.MintFor(context.Background(), res.Record)
	require.NoError(t, err)

	_, err = f.minter.Retry(context.Background(), "corr-ok")
	assert.True(t, bizerr.Is(err, bizerr.ErrConflict))

	_, err = f.minter.Retry(context.Background(), "missing")
	assert.True(t, bizerr.Is(err, bizerr.ErrPaymentNotFound))
}

// 广播结果未知时记录哈希，重试在回执可查前一律拒绝
func TestMint_UncertainBroadcastTracksHash(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.createPayment(t, "corr-amb", 10)
	res, err := f.ledger.Transition(context.Background(), rec.CorrelationID, model.PaymentStatusCompleted, "")
	require.NoError(t, err)

	handle := txHandle(60)
	f.submitter.On("Submit", mock.Anything, testTokenAddr, mock.Anything).
		Return(handle, fmt.Errorf("%w: context deadline exceeded", blockchain.ErrSendUncertain)).Once()
	f.waiter.On("Wait", mock.Anything, handle.Hash).Return(nil, context.DeadlineExceeded).Once()

	_, err = f.minter.MintFor(context.Background(), res.Record)
	assert.ErrorIs(t, err, ErrConfirmationPending)

	mint, err := f.mints.GetByCorrelationID(context.Background(), "corr-amb")
	require.NoError(t, err)
	assert.Equal(t, model.MintStatusSubmitted, mint.Status)
	assert.Equal(t, handle.Hash.Hex(), mint.TxHash)
	assert.Equal(t, int64(handle.Nonce), mint.Nonce)

	_, err = f.minter.Retry(context.Background(), "corr-amb")
	assert.True(t, bizerr.Is(err, bizerr.ErrConflict))

	// 仍查不到时保持 SUBMITTED
	f.waiter.On("Resolve", mock.Anything, handle.Hash, testCustody, handle.Nonce).Return(nil, blockchain.ErrTxNotFound).Once()
	n, err := f.minter.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.waiter.On("Resolve", mock.Anything, handle.Hash, testCustody, handle.Nonce).Return(successReceipt(61), nil).Once()
	n, err = f.minter.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mint, err = f.mints.GetByCorrelationID(context.Background(), "corr-amb")
	require.NoError(t, err)
	assert.Equal(t, model.MintStatusConfirmed, mint.Status)
	assert.Len(t, f.submitter.submitted(), 1)
	f.waiter.AssertExpectations(t)
}

// nonce 已被其他交易占用的铸币可安全重发
func TestMint_RetryAfterDroppedTx(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.createPayment(t, "corr-drop", 10)
	res, err := f.ledger.Transition(context.Background(), rec.CorrelationID, model.PaymentStatusCompleted, "")
	require.NoError(t, err)

	first := txHandle(70)
	f.submitter.On("Submit", mock.Anything, testTokenAddr, mock.Anything).
		Return(first, fmt.Errorf("%w: connection reset", blockchain.ErrSendUncertain)).Once()
	_, err = f.minter.Submit(context.Background(), res.Record)
	require.NoError(t, err)

	f.waiter.On("Resolve", mock.Anything, first.Hash, testCustody, first.Nonce).Return(nil, blockchain.ErrTxDropped).Twice()
	n, err := f.minter.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mint, err := f.mints.GetByCorrelationID(context.Background(), "corr-drop")
	require.NoError(t, err)
	assert.Equal(t, model.MintStatusFailed, mint.Status)
	assert.Equal(t, first.Hash.Hex(), mint.TxHash)

	second := txHandle(71)
	f.submitter.On("Submit", mock.Anything, testTokenAddr, mock.Anything).Return(second, nil).Once()
	f.waiter.On("Wait", mock.Anything, second.Hash).Return(successReceipt(72), nil).Once()

	result, err := f.minter.Retry(context.Background(), "corr-drop")
	require.NoError(t, err)
	assert.False(t, result.Reconciled)
	assert.Equal(t, second.Hash.Hex(), result.TxHash)
	f.minter.Wait()

	mint, err = f.mints.GetByCorrelationID(context.Background(), "corr-drop")
	require.NoError(t, err)
	assert.Equal(t, model.MintStatusConfirmed, mint.Status)
	assert.Equal(t, second.Hash.Hex(), mint.TxHash)
	assert.Len(t, f.submitter.submitted(), 2)
	f.waiter.AssertExpectations(t)
}

// 已完成但没有铸币记录的支付由恢复任务重新派发
func TestMint_RecoverDispatchesCompletedPaymentWithoutMint(t *testing.T) {
	f := newSettlementFixture(t)
	minter := NewMintService(f.payments, f.mints, contract.NewToken(testTokenAddr, nil),
		f.submitter, f.waiter, lock.NewLocalLocker(), nil, nil, &MintServiceConfig{
			ChainID:        31337,
			AwaitTimeout:   200 * time.Millisecond,
			SubmitDeadline: 20 * time.Millisecond,
			Workers:        1,
		})

	f.createPayment(t, "corr-orphan", 15)
	_, err := f.ledger.Transition(context.Background(), "corr-orphan", model.PaymentStatusCompleted, "")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	// 刚完成的支付可能仍在派发途中，不动
	f.createPayment(t, "corr-fresh", 5)
	_, err = f.ledger.Transition(context.Background(), "corr-fresh", model.PaymentStatusCompleted, "")
	require.NoError(t, err)

	handle := txHandle(80)
	f.submitter.On("Submit", mock.Anything, testTokenAddr, mock.Anything).Return(handle, nil).Once()
	f.waiter.On("Wait", mock.Anything, handle.Hash).Return(successReceipt(81), nil).Once()

	n, err := minter.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	minter.Wait()

	mint, err := f.mints.GetByCorrelationID(context.Background(), "corr-orphan")
	require.NoError(t, err)
	assert.Equal(t, model.MintStatusConfirmed, mint.Status)
	assert.Equal(t, handle.Hash.Hex(), mint.TxHash)

	_, err = f.mints.GetByCorrelationID(context.Background(), "corr-fresh")
	assert.ErrorIs(t, err, repository.ErrMintNotFound)

	calls := f.submitter.submitted()
	require.Len(t, calls, 1)
	to, amount := decodeMint(t, calls[0])
	assert.Equal(t, testWallet, to)
	assert.Equal(t, 0, units(t, 15).Cmp(amount))
}

// FAILED 之后的 COMPLETED 既不改变记录也不派发铸币
func TestWebhook_CompletedAfterExpiredNotDispatched(t *testing.T) {
	f := newSettlementFixture(t)
	f.createPayment(t, "corr-late", 30)

	dispatcher := &recordingDispatcher{}
	svc := NewWebhookService(f.ledger, dispatcher)

	out, err := svc.Handle(context.Background(), &webhook.ExpiredEvent{Correlation: "corr-late", Status: "EXPIRED"})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, out.Record.Status)

	out, err = svc.Handle(context.Background(), &webhook.CompletedEvent{
		Correlation: "corr-late", Amount: decimal.NewFromInt(30), DestinationWallet: testWallet.Hex(),
	})
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyProcessed, out.Result)
	assert.Equal(t, model.PaymentStatusFailed, out.Record.Status)
	assert.Equal(t, 0, dispatcher.count())

	rec, err := f.ledger.FindByCorrelationID(context.Background(), "corr-late")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, rec.Status)
	assert.Zero(t, rec.CompletedAt)
	assert.Equal(t, "EXPIRED", rec.FailureReason)
}

// fakeProcessor 模拟支付处理方
type fakeProcessor struct {
	mu              sync.Mutex
	err             error
	calls           int
	lastValue       int64
	lastCorrelation string
}

func (p *fakeProcessor) CreateCharge(ctx context.Context, req *processor.ChargeRequest) (*processor.Charge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastValue = req.Value
	p.lastCorrelation = req.CorrelationID
	if p.err != nil {
		return nil, p.err
	}
	return &processor.Charge{
		Identifier:    fmt.Sprintf("charge-%d", p.calls),
		CorrelationID: req.CorrelationID,
		Value:         req.Value,
		Status:        "ACTIVE",
		BRCode:        "000201br",
		ExpiresDate:   time.Now().Add(time.Hour),
	}, nil
}

func TestCharge_CreateAndStatus(t *testing.T) {
	f := newSettlementFixture(t)
	proc := &fakeProcessor{}
	svc := NewChargeService(f.ledger, f.payments, proc, &ChargeServiceConfig{ExpiresIn: time.Hour})

	rec, err := svc.CreateCharge(context.Background(), decimal.RequireFromString("12.50"), testWallet.Hex())
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, rec.Status)
	assert.Equal(t, "charge-1", rec.ProcessorChargeID)
	assert.Equal(t, "000201br", rec.BRCode)
	assert.Equal(t, int64(1250), proc.lastValue)
	assert.Equal(t, rec.CorrelationID, proc.lastCorrelation)

	got, err := svc.GetStatus(context.Background(), rec.PixID)
	require.NoError(t, err)
	assert.Equal(t, "charge-1", got.ProcessorChargeID)
	assert.NotZero(t, got.ExpiresAt)

	_, err = svc.GetStatus(context.Background(), "unknown")
	assert.True(t, bizerr.Is(err, bizerr.ErrPaymentNotFound))

	_, err = svc.CreateCharge(context.Background(), decimal.RequireFromString("1.001"), testWallet.Hex())
	assert.True(t, bizerr.Is(err, bizerr.ErrValidation))
}

func TestCharge_ProcessorFailureMarksFailed(t *testing.T) {
	f := newSettlementFixture(t)
	proc := &fakeProcessor{err: errors.New("boom")}
	svc := NewChargeService(f.ledger, f.payments, proc, &ChargeServiceConfig{})

	_, err := svc.CreateCharge(context.Background(), decimal.NewFromInt(5), testWallet.Hex())
	assert.True(t, bizerr.Is(err, bizerr.ErrProcessor))

	counts, err := f.ledger.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.PaymentStatusFailed])
	assert.Zero(t, counts[model.PaymentStatusPending])
}

