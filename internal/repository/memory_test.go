package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-bridge/internal/model"
)

func TestMemoryPaymentRepository_Lifecycle(t *testing.T) {
	repo := NewMemoryPaymentRepository()
	ctx := context.Background()

	rec := &model.PaymentRecord{PixID: "pix-1", CorrelationID: "corr-1", Amount: decimal.NewFromInt(100)}
	require.NoError(t, repo.Create(ctx, rec))
	assert.ErrorIs(t, repo.Create(ctx, &model.PaymentRecord{PixID: "pix-2", CorrelationID: "corr-1"}), ErrDuplicatePayment)

	got, err := repo.GetByPixID(ctx, "pix-1")
	require.NoError(t, err)
	assert.Equal(t, "corr-1", got.CorrelationID)

	// 返回副本，修改不影响存储
	got.Status = model.PaymentStatusCompleted
	again, _ := repo.GetByCorrelationID(ctx, "corr-1")
	assert.Equal(t, model.PaymentStatusPending, again.Status)

	require.NoError(t, repo.CompareAndSetStatus(ctx, "corr-1", model.PaymentStatusPending, model.PaymentStatusFailed, "EXPIRED"))
	assert.ErrorIs(t, repo.CompareAndSetStatus(ctx, "corr-1", model.PaymentStatusPending, model.PaymentStatusCompleted, ""), ErrOptimisticLock)

	final, _ := repo.GetByPixID(ctx, "pix-1")
	assert.Equal(t, model.PaymentStatusFailed, final.Status)
	assert.Equal(t, "EXPIRED", final.FailureReason)
	assert.NotZero(t, final.FailedAt)

	_, err = repo.GetByCorrelationID(ctx, "nope")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.PaymentStatusFailed])
}

func TestMemoryPaymentRepository_ConcurrentCASSingleWinner(t *testing.T) {
	repo := NewMemoryPaymentRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &model.PaymentRecord{PixID: "p", CorrelationID: "c"}))

	var (
		wins int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.CompareAndSetStatus(ctx, "c", model.PaymentStatusPending, model.PaymentStatusCompleted, "") == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestMemoryMintRepository_StateMachine(t *testing.T) {
	_, repo := NewMemoryLedger()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.MintTx{CorrelationID: "c"}))
	assert.ErrorIs(t, repo.Create(ctx, &model.MintTx{CorrelationID: "c"}), ErrMintExists)

	assert.ErrorIs(t, repo.MarkConfirmed(ctx, "c", 1, 1), ErrOptimisticLock)
	require.NoError(t, repo.MarkSubmitted(ctx, "c", "0xfrom", "0xhash", 3))
	assert.ErrorIs(t, repo.MarkSubmitted(ctx, "c", "0xfrom", "0xhash", 3), ErrOptimisticLock)

	submitted, err := repo.ListByStatus(ctx, model.MintStatusSubmitted, 10)
	require.NoError(t, err)
	assert.Len(t, submitted, 1)

	require.NoError(t, repo.MarkFailed(ctx, "c", "reverted"))
	require.NoError(t, repo.ResetForRetry(ctx, "c"))
	require.NoError(t, repo.MarkSubmitted(ctx, "c", "0xfrom", "0xhash2", 4))
	require.NoError(t, repo.MarkConfirmed(ctx, "c", 10, 50000))

	tx, err := repo.GetByCorrelationID(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, model.MintStatusConfirmed, tx.Status)
	assert.Equal(t, 2, tx.Attempts)
	assert.Equal(t, "0xhash2", tx.TxHash)
	assert.Empty(t, tx.ErrorMessage)

	assert.ErrorIs(t, repo.ResetForRetry(ctx, "c"), ErrOptimisticLock)
}

func TestMemoryLedger_ListCompletedWithoutMint(t *testing.T) {
	payments, mints := NewMemoryLedger()
	ctx := context.Background()

	for _, corr := range []string{"minted", "orphan", "pending"} {
		require.NoError(t, payments.Create(ctx, &model.PaymentRecord{PixID: "pix-" + corr, CorrelationID: corr, Status: model.PaymentStatusPending}))
	}
	require.NoError(t, payments.CompareAndSetStatus(ctx, "minted", model.PaymentStatusPending, model.PaymentStatusCompleted, ""))
	require.NoError(t, payments.CompareAndSetStatus(ctx, "orphan", model.PaymentStatusPending, model.PaymentStatusCompleted, ""))
	require.NoError(t, mints.Create(ctx, &model.MintTx{CorrelationID: "minted"}))

	// 刚完成的支付可能仍在派发中
	recs, err := payments.ListCompletedWithoutMint(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = payments.ListCompletedWithoutMint(ctx, time.Now().Add(time.Second).UnixMilli(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "orphan", recs[0].CorrelationID)
}

func TestMemoryCampaignRepository(t *testing.T) {
	repo := NewMemoryCampaignRepository()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &model.Campaign{ContractAddress: "0xa", Title: "A", Active: true, ChainCreatedAt: 1}))
	require.NoError(t, repo.Upsert(ctx, &model.Campaign{ContractAddress: "0xb", Title: "B", Active: false, ChainCreatedAt: 2}))
	require.NoError(t, repo.Upsert(ctx, &model.Campaign{ContractAddress: "0xa", Title: "A2", Active: true, ChainCreatedAt: 1}))

	c, err := repo.GetByAddress(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, "A2", c.Title)
	assert.Equal(t, int64(1), c.ID)

	page := &Pagination{}
	all, err := repo.List(ctx, false, page)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, "0xb", all[0].ContractAddress)

	active, err := repo.List(ctx, true, &Pagination{})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, repo.UpdateProgress(ctx, "0xa", &CampaignProgress{Raised: decimal.NewFromInt(5), DonorCount: 2, Active: true}))
	c, _ = repo.GetByAddress(ctx, "0xa")
	assert.True(t, decimal.NewFromInt(5).Equal(c.Raised))
	assert.ErrorIs(t, repo.UpdateProgress(ctx, "0xz", &CampaignProgress{}), ErrCampaignNotFound)

	addrs, err := repo.ListAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xa", "0xb"}, addrs)
}

func TestMemoryCheckpointRepository(t *testing.T) {
	repo := NewMemoryCheckpointRepository()
	ctx := context.Background()

	_, ok, err := repo.Get(ctx, "factory")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Save(ctx, "factory", 1, 42))
	b, ok, _ := repo.Get(ctx, "factory")
	assert.True(t, ok)
	assert.Equal(t, int64(42), b)
}
