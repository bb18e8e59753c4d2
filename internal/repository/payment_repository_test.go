package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos-bridge/internal/model"
)

// setupMockDB 创建 sqlmock 与 gorm postgres 连接
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		Conn:       db,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}

	return gormDB, mock, func() { db.Close() }
}

func paymentColumns() []string {
	return []string{
		"id", "pix_id", "correlation_id", "amount", "destination_wallet", "status",
		"failure_reason", "processor_charge_id", "br_code", "qr_code_image", "payment_link_url",
		"expires_at", "completed_at", "failed_at", "created_at", "updated_at",
	}
}

func TestPaymentRepository_Create_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewPaymentRepository(db)
	rec := &model.PaymentRecord{
		PixID:             "pix-1",
		CorrelationID:     "corr-1",
		Amount:            decimal.NewFromInt(100),
		DestinationWallet: "0x0000000000000000000000000000000000000aBc",
		Status:            model.PaymentStatusPending,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "bridge_payment_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), rec)

	assert.NoError(t, err)
	assert.NotZero(t, rec.CreatedAt)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_Create_Duplicate(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "bridge_payment_records"`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &model.PaymentRecord{PixID: "pix-1", CorrelationID: "corr-1"})

	assert.ErrorIs(t, err, ErrDuplicatePayment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetByCorrelationID_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewPaymentRepository(db)
	now := time.Now().UnixMilli()

	rows := sqlmock.NewRows(paymentColumns()).AddRow(
		1, "pix-1", "corr-1", "100.000000000000000000", "0xabc", model.PaymentStatusCompleted,
		"", "charge-1", "000201...", "", "",
		now+3600000, now, 0, now, now,
	)
	mock.ExpectQuery(`SELECT \* FROM "bridge_payment_records" WHERE correlation_id = \$1 ORDER BY "bridge_payment_records"\."id" LIMIT \$2`).
		WithArgs("corr-1", 1).
		WillReturnRows(rows)

	rec, err := repo.GetByCorrelationID(context.Background(), "corr-1")

	require.NoError(t, err)
	assert.Equal(t, "pix-1", rec.PixID)
	assert.Equal(t, model.PaymentStatusCompleted, rec.Status)
	assert.True(t, decimal.NewFromInt(100).Equal(rec.Amount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetByCorrelationID_NotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewPaymentRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "bridge_payment_records" WHERE correlation_id = \$1`).
		WithArgs("missing", 1).
		WillReturnError(gorm.ErrRecordNotFound)

	rec, err := repo.GetByCorrelationID(context.Background(), "missing")

	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetByPixID_NotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewPaymentRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "bridge_payment_records" WHERE pix_id = \$1`).
		WithArgs("missing", 1).
		WillReturnRows(sqlmock.NewRows(paymentColumns()))

	_, err := repo.GetByPixID(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrPaymentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_CompareAndSetStatus_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "bridge_payment_records" SET .* WHERE correlation_id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.CompareAndSetStatus(context.Background(), "corr-1", model.PaymentStatusPending, model.PaymentStatusCompleted, "")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_CompareAndSetStatus_Conflict(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "bridge_payment_records" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.CompareAndSetStatus(context.Background(), "corr-1", model.PaymentStatusPending, model.PaymentStatusFailed, "EXPIRED")

	assert.ErrorIs(t, err, ErrOptimisticLock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_CompareAndSetStatus_RetriesSerializationFailure(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "bridge_payment_records" SET`).
		WillReturnError(&pgconn.PgError{Code: pgErrSerializationFailure})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "bridge_payment_records" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.CompareAndSetStatus(context.Background(), "corr-1", model.PaymentStatusPending, model.PaymentStatusCompleted, "")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_CompareAndSetStatus_PermanentErrorNotRetried(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "bridge_payment_records" SET`).
		WillReturnError(errors.New("column does not exist"))
	mock.ExpectRollback()

	err := repo.CompareAndSetStatus(context.Background(), "corr-1", model.PaymentStatusPending, model.PaymentStatusCompleted, "")

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrOptimisticLock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_UpdateCharge(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "bridge_payment_records" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.UpdateCharge(context.Background(), "missing", &model.ChargeFields{ProcessorChargeID: "c"})

	assert.ErrorIs(t, err, ErrPaymentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_CountByStatus(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewPaymentRepository(db)

	mock.ExpectQuery(`SELECT status, count\(\*\) as count FROM "bridge_payment_records" GROUP BY`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(model.PaymentStatusPending, 3).
			AddRow(model.PaymentStatusCompleted, 5))

	counts, err := repo.CountByStatus(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[model.PaymentStatusPending])
	assert.Equal(t, int64(5), counts[model.PaymentStatusCompleted])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_ListCompletedWithoutMint(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewPaymentRepository(db)
	now := time.Now().UnixMilli()

	rows := sqlmock.NewRows(paymentColumns()).AddRow(
		7, "pix-7", "corr-7", "10.000000000000000000", "0xabc", model.PaymentStatusCompleted,
		"", "", "", "", "",
		0, now-60000, 0, now-120000, now-60000,
	)
	mock.ExpectQuery(`SELECT bridge_payment_records\.\* FROM "bridge_payment_records" LEFT JOIN bridge_mint_txs ON .* WHERE .*bridge_mint_txs\.id IS NULL`).
		WithArgs(sqlmock.AnyArg(), now-30000, 100).
		WillReturnRows(rows)

	recs, err := repo.ListCompletedWithoutMint(context.Background(), now-30000, 100)

	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "corr-7", recs[0].CorrelationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&pgconn.PgError{Code: pgErrDeadlockDetected}))
	assert.True(t, isRetryableError(&pgconn.PgError{Code: pgErrSerializationFailure}))
	assert.False(t, isRetryableError(&pgconn.PgError{Code: pgErrUniqueViolation}))
	assert.False(t, isRetryableError(errors.New("boom")))

	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: pgErrUniqueViolation}))
	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

func TestPagination(t *testing.T) {
	p := &Pagination{}
	assert.Equal(t, 0, p.Offset())
	assert.Equal(t, 20, p.Limit())

	p = &Pagination{Page: 3, PageSize: 500}
	assert.Equal(t, 100, p.Limit())
	assert.Equal(t, 200, p.Offset())
}
