package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/pkg/testutil"
)

func TestLedgerEntry_Validate(t *testing.T) {
	base := func(tt domain.TransactionType) *LedgerEntry {
		return &LedgerEntry{
			TransactionType: tt,
			ProductID:       "prod-1",
			Quantity:        decimal.NewFromInt(5),
			FromLocation:    "central_store",
			ToLocation:      "lab-a",
			CreatedBy:       "user-1",
		}
	}

	t.Run("valid entries pass", func(t *testing.T) {
		for _, tt := range []domain.TransactionType{
			domain.TxEntry, domain.TxAllocation, domain.TxTransfer, domain.TxReturn, domain.TxBroken,
		} {
			assert.NoError(t, base(tt).Validate(), string(tt))
		}
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		e := base("bogus")
		assert.Error(t, e.Validate())
	})

	t.Run("allocation requires destination", func(t *testing.T) {
		e := base(domain.TxAllocation)
		e.ToLocation = ""
		assert.Error(t, e.Validate())
	})

	t.Run("return requires source", func(t *testing.T) {
		e := base(domain.TxReturn)
		e.FromLocation = ""
		assert.Error(t, e.Validate())
	})

	t.Run("transfer requires distinct locations", func(t *testing.T) {
		e := base(domain.TxTransfer)
		e.ToLocation = e.FromLocation
		assert.Error(t, e.Validate())

		e.FromLocation = ""
		assert.Error(t, e.Validate())
	})

	t.Run("must move something", func(t *testing.T) {
		e := base(domain.TxAllocation)
		e.Quantity = decimal.Zero
		assert.Error(t, e.Validate())

		e.UnitIDs = []string{"u1"}
		assert.NoError(t, e.Validate())
	})
}

func TestLedgerRepository_Append(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewLedgerRepository(db)

	entry := &LedgerEntry{
		TransactionType: domain.TxAllocation,
		ProductID:       "prod-1",
		Variant:         "500ml",
		Quantity:        decimal.NewFromInt(10),
		FromLocation:    "central_store",
		ToLocation:      "lab-a",
		CreatedBy:       "user-1",
	}

	mock.ExpectQuery(`INSERT INTO ledger_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	require.NoError(t, repo.Append(context.Background(), nil, entry))
	assert.NotEmpty(t, entry.ID, "an id is assigned on append")
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_AppendRejectsInvalid(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewLedgerRepository(db)

	entry := &LedgerEntry{
		TransactionType: domain.TxReturn,
		ProductID:       "prod-1",
		Quantity:        decimal.NewFromInt(1),
		ToLocation:      "lab-a",
	}

	err := repo.Append(context.Background(), nil, entry)
	require.Error(t, err, "no source on a return entry")
	assert.NoError(t, mock.ExpectationsWereMet(), "nothing reaches the database")
}

func TestLedgerRepository_List(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewLedgerRepository(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ledger_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	cols := []string{
		"id", "transaction_type", "product_id", "variant", "quantity", "unit_ids",
		"from_location", "to_location", "request_id", "experiment_id", "item_line_id",
		"created_by", "created_at",
	}
	mock.ExpectQuery(`SELECT \* FROM ledger_entries`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e2", "return", "prod-1", "", "5", "{}", "faculty", "lab-a", nil, nil, nil, "u1", time.Now()).
			AddRow("e1", "allocation", "prod-1", "", "5", "{}", "central_store", "lab-a", nil, nil, nil, "u1", time.Now()))

	entries, total, err := repo.List(context.Background(), LedgerFilter{ProductID: "prod-1"}, 1, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.TxReturn, entries[0].TransactionType, "newest first")
	assert.NoError(t, mock.ExpectationsWereMet())
}
