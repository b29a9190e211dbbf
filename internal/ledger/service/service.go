// Package service implements the allocation ledger's engines: allocation,
// return, stock movement and administrative state changes. Services own the
// transaction boundaries; repositories never start transactions themselves.
package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/internal/ledger/repository"
	"github.com/labstock/labstock-backend/pkg/messaging"
)

// Transactor runs a function inside a database transaction.
type Transactor interface {
	Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error
}

// StockStore is the stock record persistence the engines depend on.
type StockStore interface {
	Create(ctx context.Context, tx *sqlx.Tx, rec *repository.StockRecord) error
	GetByID(ctx context.Context, id string) (*repository.StockRecord, error)
	ListAllocatable(ctx context.Context, productID, variant, location string) ([]*repository.StockRecord, error)
	DeductGuarded(ctx context.Context, tx *sqlx.Tx, id string, amount decimal.Decimal) (bool, error)
	AddToLocation(ctx context.Context, tx *sqlx.Tx, productID, variant, location string, amount decimal.Decimal) error
	GetPooled(ctx context.Context, productID, variant, location string) (*repository.StockRecord, error)
	Levels(ctx context.Context, location, productID string) ([]*repository.StockLevel, error)
	GetExpiringBatches(ctx context.Context, withinDays int) ([]*repository.StockRecord, error)
}

// EquipmentStore is the serialized unit persistence the engines depend on.
type EquipmentStore interface {
	Create(ctx context.Context, tx *sqlx.Tx, unit *repository.EquipmentUnit) error
	GetByID(ctx context.Context, id string) (*repository.EquipmentUnit, error)
	ListAvailable(ctx context.Context, productID, location string, limit int) ([]*repository.EquipmentUnit, error)
	Claim(ctx context.Context, tx *sqlx.Tx, unitID, toLocation string) (bool, error)
	Release(ctx context.Context, tx *sqlx.Tx, unitID, toLocation string) (bool, error)
	SetMaintenance(ctx context.Context, unitID string, inMaintenance bool) error
}

// LedgerStore is the append-only transaction log.
type LedgerStore interface {
	Append(ctx context.Context, tx *sqlx.Tx, entry *repository.LedgerEntry) error
	List(ctx context.Context, filter repository.LedgerFilter, page, perPage int) ([]*repository.LedgerEntry, int64, error)
}

// RequestStore is the request aggregate persistence.
type RequestStore interface {
	Create(ctx context.Context, req *domain.Request) error
	GetByID(ctx context.Context, id string) (*domain.Request, error)
	UpdateItemLine(ctx context.Context, tx *sqlx.Tx, line *domain.ItemLine) error
	UpdateExperimentDecision(ctx context.Context, exp *domain.Experiment) error
	UpdateStatuses(ctx context.Context, req *domain.Request) error
}

// EventPublisher emits domain events after a commit. Implementations must
// not fail the operation.
type EventPublisher interface {
	AllocationRecorded(ctx context.Context, e messaging.AllocationRecordedEvent)
	ReturnRecorded(ctx context.Context, e messaging.ReturnRecordedEvent)
	StockReceived(ctx context.Context, e messaging.StockReceivedEvent)
	StockTransferred(ctx context.Context, e messaging.StockTransferredEvent)
	StockWrittenOff(ctx context.Context, e messaging.StockWrittenOffEvent)
	ItemLineDisabled(ctx context.Context, e messaging.ItemLineDisabledEvent)
	OverrideGranted(ctx context.Context, e messaging.OverrideGrantedEvent)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) AllocationRecorded(context.Context, messaging.AllocationRecordedEvent) {}
func (NopPublisher) ReturnRecorded(context.Context, messaging.ReturnRecordedEvent)         {}
func (NopPublisher) StockReceived(context.Context, messaging.StockReceivedEvent)           {}
func (NopPublisher) StockTransferred(context.Context, messaging.StockTransferredEvent)     {}
func (NopPublisher) StockWrittenOff(context.Context, messaging.StockWrittenOffEvent)       {}
func (NopPublisher) ItemLineDisabled(context.Context, messaging.ItemLineDisabledEvent)     {}
func (NopPublisher) OverrideGranted(context.Context, messaging.OverrideGrantedEvent)       {}

func nowUTC() time.Time { return time.Now().UTC() }
