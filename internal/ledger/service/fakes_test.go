package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/internal/ledger/repository"
	"github.com/labstock/labstock-backend/pkg/errors"
)

// fakeTxer runs the function directly; the fakes below mutate in-memory
// state, so there is nothing to commit or roll back.
type fakeTxer struct{}

func (fakeTxer) Transaction(_ context.Context, fn func(*sqlx.Tx) error) error {
	return fn(nil)
}

type fakeStock struct {
	records []*repository.StockRecord
}

func (f *fakeStock) find(id string) *repository.StockRecord {
	for _, r := range f.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (f *fakeStock) Create(_ context.Context, _ *sqlx.Tx, rec *repository.StockRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStock) GetByID(_ context.Context, id string) (*repository.StockRecord, error) {
	if r := f.find(id); r != nil {
		return r, nil
	}
	return nil, errors.NotFound("stock record")
}

func (f *fakeStock) ListAllocatable(_ context.Context, productID, variant, location string) ([]*repository.StockRecord, error) {
	var out []*repository.StockRecord
	for _, r := range f.records {
		if r.ProductID == productID && r.Variant == variant && r.Location == location &&
			r.IsActive && r.Quantity.IsPositive() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ExpiryDate, out[j].ExpiryDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return out, nil
}

func (f *fakeStock) DeductGuarded(_ context.Context, _ *sqlx.Tx, id string, amount decimal.Decimal) (bool, error) {
	rec := f.find(id)
	if rec == nil || rec.Quantity.LessThan(amount) {
		return false, nil
	}
	rec.Quantity = rec.Quantity.Sub(amount)
	return true, nil
}

func (f *fakeStock) AddToLocation(_ context.Context, _ *sqlx.Tx, productID, variant, location string, amount decimal.Decimal) error {
	for _, r := range f.records {
		if r.ProductID == productID && r.Variant == variant && r.Location == location && r.ExpiryDate == nil {
			r.Quantity = r.Quantity.Add(amount)
			return nil
		}
	}
	f.records = append(f.records, &repository.StockRecord{
		ID:        fmt.Sprintf("pooled-%s-%s", productID, location),
		ProductID: productID,
		Variant:   variant,
		Location:  location,
		Quantity:  amount,
		IsActive:  true,
	})
	return nil
}

func (f *fakeStock) GetPooled(_ context.Context, productID, variant, location string) (*repository.StockRecord, error) {
	for _, r := range f.records {
		if r.ProductID == productID && r.Variant == variant && r.Location == location && r.ExpiryDate == nil {
			return r, nil
		}
	}
	return nil, errors.NotFound("stock record")
}

func (f *fakeStock) Levels(_ context.Context, _, _ string) ([]*repository.StockLevel, error) {
	return nil, nil
}

func (f *fakeStock) GetExpiringBatches(_ context.Context, _ int) ([]*repository.StockRecord, error) {
	return nil, nil
}

type fakeEquipment struct {
	units []*repository.EquipmentUnit
}

func (f *fakeEquipment) find(id string) *repository.EquipmentUnit {
	for _, u := range f.units {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (f *fakeEquipment) Create(_ context.Context, _ *sqlx.Tx, unit *repository.EquipmentUnit) error {
	f.units = append(f.units, unit)
	return nil
}

func (f *fakeEquipment) GetByID(_ context.Context, id string) (*repository.EquipmentUnit, error) {
	if u := f.find(id); u != nil {
		return u, nil
	}
	return nil, errors.NotFound("equipment unit")
}

func (f *fakeEquipment) ListAvailable(_ context.Context, productID, location string, limit int) ([]*repository.EquipmentUnit, error) {
	var out []*repository.EquipmentUnit
	for _, u := range f.units {
		if u.ProductID == productID && u.Location == location &&
			u.Status == domain.UnitAvailable && !u.IsAllocated {
			out = append(out, u)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeEquipment) Claim(_ context.Context, _ *sqlx.Tx, unitID, toLocation string) (bool, error) {
	u := f.find(unitID)
	if u == nil || u.Status != domain.UnitAvailable || u.IsAllocated {
		return false, nil
	}
	u.Status = domain.UnitIssued
	u.IsAllocated = true
	u.Location = toLocation
	return true, nil
}

func (f *fakeEquipment) Release(_ context.Context, _ *sqlx.Tx, unitID, toLocation string) (bool, error) {
	u := f.find(unitID)
	if u == nil || !u.IsAllocated {
		return false, nil
	}
	u.Status = domain.UnitAvailable
	u.IsAllocated = false
	u.Location = toLocation
	return true, nil
}

func (f *fakeEquipment) SetMaintenance(_ context.Context, unitID string, inMaintenance bool) error {
	u := f.find(unitID)
	if u == nil {
		return errors.NotFound("equipment unit")
	}
	if inMaintenance {
		u.Status = domain.UnitMaintenance
	} else {
		u.Status = domain.UnitAvailable
	}
	return nil
}

type fakeLedger struct {
	entries []*repository.LedgerEntry
}

func (f *fakeLedger) Append(_ context.Context, _ *sqlx.Tx, entry *repository.LedgerEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLedger) List(_ context.Context, _ repository.LedgerFilter, _, _ int) ([]*repository.LedgerEntry, int64, error) {
	return f.entries, int64(len(f.entries)), nil
}

func (f *fakeLedger) byType(tt domain.TransactionType) []*repository.LedgerEntry {
	var out []*repository.LedgerEntry
	for _, e := range f.entries {
		if e.TransactionType == tt {
			out = append(out, e)
		}
	}
	return out
}

type fakeRequests struct {
	req *domain.Request
}

func (f *fakeRequests) Create(_ context.Context, req *domain.Request) error {
	f.req = req
	return nil
}

func (f *fakeRequests) GetByID(_ context.Context, id string) (*domain.Request, error) {
	if f.req == nil || f.req.ID != id {
		return nil, errors.NotFound("request")
	}
	return f.req, nil
}

func (f *fakeRequests) UpdateItemLine(_ context.Context, _ *sqlx.Tx, _ *domain.ItemLine) error {
	return nil
}

func (f *fakeRequests) UpdateExperimentDecision(_ context.Context, _ *domain.Experiment) error {
	return nil
}

func (f *fakeRequests) UpdateStatuses(_ context.Context, _ *domain.Request) error {
	return nil
}
