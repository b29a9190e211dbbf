package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/internal/ledger/repository"
	"github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/logger"
	"github.com/labstock/labstock-backend/pkg/metrics"
)

type stockFixture struct {
	svc       *StockService
	stock     *fakeStock
	equipment *fakeEquipment
	ledger    *fakeLedger
}

func newStockFixture(t *testing.T) *stockFixture {
	t.Helper()

	f := &stockFixture{
		stock:     &fakeStock{},
		equipment: &fakeEquipment{},
		ledger:    &fakeLedger{},
	}
	f.svc = NewStockService(
		fakeTxer{}, f.stock, f.equipment, f.ledger,
		NopPublisher{}, metrics.NewNop(), logger.New("test", "test"),
		"central_store",
	)
	return f
}

func TestReceive_BatchAndPooled(t *testing.T) {
	f := newStockFixture(t)
	exp := date(2026, time.December, 1)

	_, err := f.svc.Receive(asAdmin(context.Background()), ReceiveInput{
		ProductID: "prod-1", Quantity: dec("50"), ExpiryDate: &exp,
	})
	require.NoError(t, err)

	_, err = f.svc.Receive(asAdmin(context.Background()), ReceiveInput{
		ProductID: "prod-1", Quantity: dec("20"), ExpiryDate: &exp,
	})
	require.NoError(t, err)

	// Perishable receipts keep separate batch rows.
	recs, err := f.stock.ListAllocatable(context.Background(), "prod-1", "", "central_store")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	// Non-perishable receipts pool into one row.
	_, err = f.svc.Receive(asAdmin(context.Background()), ReceiveInput{ProductID: "prod-2", Quantity: dec("5")})
	require.NoError(t, err)
	_, err = f.svc.Receive(asAdmin(context.Background()), ReceiveInput{ProductID: "prod-2", Quantity: dec("7")})
	require.NoError(t, err)

	pooled, err := f.stock.GetPooled(context.Background(), "prod-2", "", "central_store")
	require.NoError(t, err)
	assert.True(t, pooled.Quantity.Equal(dec("12")))

	assert.Len(t, f.ledger.byType(domain.TxEntry), 4)
}

func TestTransfer_DrainsSourceInExpiryOrder(t *testing.T) {
	f := newStockFixture(t)
	f.stock.records = []*repository.StockRecord{
		{ID: "late", ProductID: "prod-1", Location: "central_store", Quantity: dec("30"),
			ExpiryDate: expiry(date(2026, time.December, 1)), IsActive: true},
		{ID: "early", ProductID: "prod-1", Location: "central_store", Quantity: dec("10"),
			ExpiryDate: expiry(date(2026, time.August, 1)), IsActive: true},
	}

	err := f.svc.Transfer(asAdmin(context.Background()), TransferInput{
		ProductID: "prod-1", FromLocation: "central_store", ToLocation: "lab-a", Quantity: dec("25"),
	})
	require.NoError(t, err)

	assert.True(t, f.stock.find("early").Quantity.IsZero())
	assert.True(t, f.stock.find("late").Quantity.Equal(dec("15")))

	pooled, err := f.stock.GetPooled(context.Background(), "prod-1", "", "lab-a")
	require.NoError(t, err)
	assert.True(t, pooled.Quantity.Equal(dec("25")))

	entries := f.ledger.byType(domain.TxTransfer)
	require.Len(t, entries, 1)
	assert.Equal(t, "central_store", entries[0].FromLocation)
	assert.Equal(t, "lab-a", entries[0].ToLocation)
}

func TestTransfer_Validation(t *testing.T) {
	f := newStockFixture(t)

	err := f.svc.Transfer(asAdmin(context.Background()), TransferInput{
		ProductID: "prod-1", FromLocation: "lab-a", ToLocation: "lab-a", Quantity: dec("5"),
	})
	require.Error(t, err)

	err = f.svc.Transfer(asAdmin(context.Background()), TransferInput{
		ProductID: "prod-1", FromLocation: "central_store", ToLocation: "lab-a", Quantity: dec("5"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
}

func TestIssue_HandsStockToFaculty(t *testing.T) {
	f := newStockFixture(t)
	f.stock.records = []*repository.StockRecord{
		{ID: "rec-1", ProductID: "prod-1", Location: "lab-a", Quantity: dec("20"), IsActive: true},
	}

	err := f.svc.Issue(asAdmin(context.Background()), IssueInput{
		ProductID: "prod-1", FromLocation: "lab-a", Quantity: dec("8"),
	})
	require.NoError(t, err)

	assert.True(t, f.stock.find("rec-1").Quantity.Equal(dec("12")))

	entries := f.ledger.byType(domain.TxIssue)
	require.Len(t, entries, 1)
	assert.Equal(t, "lab-a", entries[0].FromLocation)
	assert.Equal(t, domain.LocationFaculty, entries[0].ToLocation)

	err = f.svc.Issue(asAdmin(context.Background()), IssueInput{
		ProductID: "prod-1", FromLocation: "lab-a", Quantity: dec("100"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
}

func TestWriteOff(t *testing.T) {
	f := newStockFixture(t)
	f.stock.records = []*repository.StockRecord{
		{ID: "rec-1", ProductID: "prod-1", Location: "lab-a", Quantity: dec("10"), IsActive: true},
	}

	err := f.svc.WriteOff(asAdmin(context.Background()), WriteOffInput{
		StockRecordID: "rec-1", Quantity: dec("3"), Reason: "dropped crate",
	})
	require.NoError(t, err)

	assert.True(t, f.stock.find("rec-1").Quantity.Equal(dec("7")))

	entries := f.ledger.byType(domain.TxBroken)
	require.Len(t, entries, 1)
	assert.Equal(t, "lab-a", entries[0].FromLocation)

	err = f.svc.WriteOff(asAdmin(context.Background()), WriteOffInput{
		StockRecordID: "rec-1", Quantity: dec("50"), Reason: "oops",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
}

func TestRegisterUnitAndMaintenance(t *testing.T) {
	f := newStockFixture(t)

	unit, err := f.svc.RegisterUnit(asAdmin(context.Background()), RegisterUnitInput{
		ProductID: "scope-1", SerialNumber: "SN-100",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.UnitAvailable, unit.Status)
	assert.Equal(t, "central_store", unit.Location)
	assert.Len(t, f.ledger.byType(domain.TxEntry), 1)

	require.NoError(t, f.svc.SetUnitMaintenance(asAdmin(context.Background()), unit.ID, true))
	assert.Equal(t, domain.UnitMaintenance, f.equipment.find(unit.ID).Status)
	assert.Len(t, f.ledger.byType(domain.TxMaintenance), 1)

	require.NoError(t, f.svc.SetUnitMaintenance(asAdmin(context.Background()), unit.ID, false))
	assert.Equal(t, domain.UnitAvailable, f.equipment.find(unit.ID).Status)
}
