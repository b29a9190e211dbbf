package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labstock/labstock-backend/pkg/testutil"
)

func stockColumns() []string {
	return []string{
		"id", "product_id", "variant", "location", "quantity",
		"expiry_date", "is_active", "created_at", "updated_at",
	}
}

func TestStockRepository_ListAllocatable_ExpiryOrder(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewStockRepository(db)

	now := time.Now()
	early := testutil.Date(2026, time.April, 1)
	late := testutil.Date(2026, time.September, 1)

	mock.ExpectQuery(`SELECT \* FROM stock_records`).
		WithArgs("prod-1", "500ml", "central_store").
		WillReturnRows(sqlmock.NewRows(stockColumns()).
			AddRow("rec-1", "prod-1", "500ml", "central_store", "50", early, true, now, now).
			AddRow("rec-2", "prod-1", "500ml", "central_store", "30", late, true, now, now).
			AddRow("rec-3", "prod-1", "500ml", "central_store", "10", nil, true, now, now))

	recs, err := repo.ListAllocatable(context.Background(), "prod-1", "500ml", "central_store")
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "rec-1", recs[0].ID)
	assert.Nil(t, recs[2].ExpiryDate, "pooled record sorts last")
	assert.True(t, recs[0].Quantity.Equal(testutil.Dec(t, "50")))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepository_DeductGuarded(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewStockRepository(db)
	amount := testutil.Dec(t, "15.5")

	t.Run("guard holds", func(t *testing.T) {
		mock.ExpectExec(`UPDATE stock_records`).
			WithArgs("rec-1", amount).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.DeductGuarded(context.Background(), nil, "rec-1", amount)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("guard fails on drained record", func(t *testing.T) {
		mock.ExpectExec(`UPDATE stock_records`).
			WithArgs("rec-1", amount).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.DeductGuarded(context.Background(), nil, "rec-1", amount)
		require.NoError(t, err)
		assert.False(t, ok, "no error, the caller decides how to react")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepository_AddToLocationUpserts(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewStockRepository(db)
	amount := testutil.Dec(t, "5")

	mock.ExpectExec(`INSERT INTO stock_records`).
		WithArgs(sqlmock.AnyArg(), "prod-1", "", "lab-a", amount).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AddToLocation(context.Background(), nil, "prod-1", "", "lab-a", amount)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepository_GetByIDNotFound(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewStockRepository(db)

	mock.ExpectQuery(`SELECT \* FROM stock_records`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(stockColumns()))

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStockRepository_Levels(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewStockRepository(db)

	mock.ExpectQuery(`SELECT product_id, variant, location, SUM\(quantity\)`).
		WithArgs("central_store", "").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "variant", "location", "quantity"}).
			AddRow("prod-1", "", "central_store", "80").
			AddRow("prod-2", "1l", "central_store", "3"))

	levels, err := repo.Levels(context.Background(), "central_store", "")
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Quantity.Equal(testutil.Dec(t, "80")))
}
