package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-bridge/internal/model"
)

const testCampaignAddr = "0x00000000000000000000000000000000000000C1"

func campaignColumns() []string {
	return []string{
		"id", "campaign_id", "contract_address", "title", "description", "creator", "beneficiary",
		"goal", "raised", "balance", "donor_count", "active", "chain_created_at", "created_block",
		"created_tx_hash", "synced_at", "created_at", "updated_at",
	}
}

func TestCampaignRepository_Upsert(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewCampaignRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "bridge_campaigns" .* ON CONFLICT \("contract_address"\) DO UPDATE SET`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	c := &model.Campaign{
		ContractAddress: testCampaignAddr,
		Title:           "Clean water",
		Goal:            decimal.NewFromInt(1000),
		Active:          true,
	}
	err := repo.Upsert(context.Background(), c)

	assert.NoError(t, err)
	assert.NotZero(t, c.SyncedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_GetByAddress(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewCampaignRepository(db)
	now := time.Now().UnixMilli()

	mock.ExpectQuery(`SELECT \* FROM "bridge_campaigns" WHERE contract_address = \$1 ORDER BY "bridge_campaigns"\."id" LIMIT \$2`).
		WithArgs(testCampaignAddr, 1).
		WillReturnRows(sqlmock.NewRows(campaignColumns()).AddRow(
			1, 7, testCampaignAddr, "Clean water", "Wells", "0xc0de", "0xbeef",
			"1000", "250", "250", 3, true, now/1000, 100,
			"0xhash", now, now, now,
		))

	c, err := repo.GetByAddress(context.Background(), testCampaignAddr)

	require.NoError(t, err)
	assert.Equal(t, "Clean water", c.Title)
	assert.True(t, decimal.NewFromInt(250).Equal(c.Raised))
	assert.Equal(t, int64(3), c.DonorCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_GetByAddress_NotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewCampaignRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "bridge_campaigns" WHERE contract_address = \$1`).
		WillReturnError(gorm.ErrRecordNotFound)

	_, err := repo.GetByAddress(context.Background(), "0xnope")

	assert.ErrorIs(t, err, ErrCampaignNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_List_ActiveOnly(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewCampaignRepository(db)
	now := time.Now().UnixMilli()

	mock.ExpectQuery(`SELECT count\(\*\) FROM "bridge_campaigns" WHERE active = \$1`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT \* FROM "bridge_campaigns" WHERE active = \$1 ORDER BY chain_created_at DESC LIMIT \$2`).
		WithArgs(true, 20).
		WillReturnRows(sqlmock.NewRows(campaignColumns()).AddRow(
			1, 7, testCampaignAddr, "Clean water", "Wells", "0xc0de", "0xbeef",
			"1000", "250", "250", 3, true, now/1000, 100,
			"0xhash", now, now, now,
		))

	page := &Pagination{Page: 1, PageSize: 20}
	list, err := repo.List(context.Background(), true, page)

	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, int64(1), page.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_UpdateProgress_NotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewCampaignRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "bridge_campaigns" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.UpdateProgress(context.Background(), "0xnope", &CampaignProgress{Raised: decimal.NewFromInt(1)})

	assert.ErrorIs(t, err, ErrCampaignNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointRepository(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewCheckpointRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "bridge_block_checkpoints" WHERE name = \$1`).
		WithArgs("factory", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "chain_id", "block_number", "updated_at"}))

	_, ok, err := repo.Get(ctx, "factory")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "bridge_block_checkpoints" .* ON CONFLICT \("name"\) DO UPDATE SET`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(ctx, "factory", 31337, 120))

	mock.ExpectQuery(`SELECT \* FROM "bridge_block_checkpoints" WHERE name = \$1`).
		WithArgs("factory", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "chain_id", "block_number", "updated_at"}).
			AddRow(1, "factory", 31337, 120, time.Now().UnixMilli()))

	block, ok, err := repo.Get(ctx, "factory")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(120), block)
	assert.NoError(t, mock.ExpectationsWereMet())
}
