package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/testutil"
)

func TestEquipmentRepository_Claim(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewEquipmentRepository(db)

	t.Run("claims an available unit", func(t *testing.T) {
		mock.ExpectExec(`UPDATE equipment_units`).
			WithArgs("unit-1", "lab-a").
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.Claim(context.Background(), nil, "unit-1", "lab-a")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("loses the race for a claimed unit", func(t *testing.T) {
		mock.ExpectExec(`UPDATE equipment_units`).
			WithArgs("unit-1", "lab-a").
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.Claim(context.Background(), nil, "unit-1", "lab-a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEquipmentRepository_Release(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewEquipmentRepository(db)

	mock.ExpectExec(`UPDATE equipment_units`).
		WithArgs("unit-1", "central_store").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Release(context.Background(), nil, "unit-1", "central_store")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(`UPDATE equipment_units`).
		WithArgs("unit-1", "central_store").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = repo.Release(context.Background(), nil, "unit-1", "central_store")
	require.NoError(t, err)
	assert.False(t, ok, "double return is visible to the caller")
}

func TestEquipmentRepository_ListAvailable(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewEquipmentRepository(db)

	now := time.Now()
	cols := []string{"id", "product_id", "serial_number", "status", "location", "is_allocated", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT \* FROM equipment_units`).
		WithArgs("prod-1", "central_store", 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("unit-1", "prod-1", "SN-001", "available", "central_store", false, now, now).
			AddRow("unit-2", "prod-1", "SN-002", "available", "central_store", false, now, now))

	units, err := repo.ListAvailable(context.Background(), "prod-1", "central_store", 2)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "unit-1", units[0].ID)
}

func TestEquipmentRepository_SetMaintenanceConflict(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewEquipmentRepository(db)

	mock.ExpectExec(`UPDATE equipment_units`).
		WithArgs("unit-1", "maintenance", "available").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetMaintenance(context.Background(), "unit-1", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}
