package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/internal/ledger/repository"
	"github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/logger"
	"github.com/labstock/labstock-backend/pkg/messaging"
	"github.com/labstock/labstock-backend/pkg/metrics"
)

// StockService handles stock movements outside the request lifecycle:
// goods receipt, inter-location transfers, breakage write-offs and
// equipment unit administration. Every movement leaves a ledger entry.
type StockService struct {
	txer      Transactor
	stock     StockStore
	equipment EquipmentStore
	ledger    LedgerStore
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger

	centralStore string
	now          func() time.Time
}

// NewStockService creates a stock service.
func NewStockService(
	txer Transactor,
	stock StockStore,
	equipment EquipmentStore,
	ledger LedgerStore,
	publisher EventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
	centralStore string,
) *StockService {
	return &StockService{
		txer:         txer,
		stock:        stock,
		equipment:    equipment,
		ledger:       ledger,
		publisher:    publisher,
		metrics:      m,
		logger:       log.WithComponent("stock"),
		centralStore: centralStore,
		now:          nowUTC,
	}
}

// ReceiveInput is one goods receipt into the central store. Perishable
// batches carry an expiry date and stay separate rows so consumption can
// follow expiry order; non-perishable stock pools into one row.
type ReceiveInput struct {
	ProductID  string          `json:"product_id" validate:"required"`
	Variant    string          `json:"variant"`
	Quantity   decimal.Decimal `json:"quantity" validate:"required"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
}

// Receive books new stock into the central store and records an entry
// transaction.
func (s *StockService) Receive(ctx context.Context, in ReceiveInput) (*repository.StockRecord, error) {
	act := currentActor(ctx)
	if !in.Quantity.IsPositive() {
		return nil, errors.BadRequest("received quantity must be positive")
	}

	rec := &repository.StockRecord{
		ID:         uuid.New().String(),
		ProductID:  in.ProductID,
		Variant:    in.Variant,
		Location:   s.centralStore,
		Quantity:   in.Quantity,
		ExpiryDate: in.ExpiryDate,
		IsActive:   true,
	}

	err := s.txer.Transaction(ctx, func(tx *sqlx.Tx) error {
		if in.ExpiryDate != nil {
			if err := s.stock.Create(ctx, tx, rec); err != nil {
				return err
			}
		} else {
			if err := s.stock.AddToLocation(ctx, tx, in.ProductID, in.Variant, s.centralStore, in.Quantity); err != nil {
				return err
			}
		}

		entry := &repository.LedgerEntry{
			TransactionType: domain.TxEntry,
			ProductID:       in.ProductID,
			Variant:         in.Variant,
			Quantity:        in.Quantity,
			ToLocation:      s.centralStore,
			CreatedBy:       act.ID,
		}
		return s.ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	if in.ExpiryDate == nil {
		pooled, err := s.stock.GetPooled(ctx, in.ProductID, in.Variant, s.centralStore)
		if err != nil {
			return nil, err
		}
		rec = pooled
	}

	s.metrics.LedgerEntriesTotal.WithLabelValues(string(domain.TxEntry)).Inc()
	s.logger.Info().
		Str("product_id", in.ProductID).
		Str("quantity", in.Quantity.String()).
		Str("received_by", act.ID).
		Msg("stock received")

	s.publisher.StockReceived(ctx, messaging.StockReceivedEvent{
		StockRecordID: rec.ID,
		ProductID:     in.ProductID,
		Variant:       in.Variant,
		Location:      s.centralStore,
		Quantity:      in.Quantity.String(),
		ReceivedBy:    act.ID,
	})

	return rec, nil
}

// TransferInput moves pooled stock between locations.
type TransferInput struct {
	ProductID    string          `json:"product_id" validate:"required"`
	Variant      string          `json:"variant"`
	FromLocation string          `json:"from_location" validate:"required"`
	ToLocation   string          `json:"to_location" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity" validate:"required"`
}

// Transfer moves stock between locations, draining source records in
// expiry order. The destination always pools.
func (s *StockService) Transfer(ctx context.Context, in TransferInput) error {
	act := currentActor(ctx)
	if !in.Quantity.IsPositive() {
		return errors.BadRequest("transfer quantity must be positive")
	}
	if in.FromLocation == in.ToLocation {
		return errors.BadRequest("source and destination must differ")
	}

	records, err := s.stock.ListAllocatable(ctx, in.ProductID, in.Variant, in.FromLocation)
	if err != nil {
		return err
	}

	available := decimal.Zero
	for _, rec := range records {
		available = available.Add(rec.Quantity)
	}
	if available.LessThan(in.Quantity) {
		return errors.InsufficientStock(fmt.Sprintf(
			"need %s at %s but only %s is in stock", in.Quantity, in.FromLocation, available))
	}

	err = s.txer.Transaction(ctx, func(tx *sqlx.Tx) error {
		left := in.Quantity
		for _, rec := range records {
			if !left.IsPositive() {
				break
			}
			take := decimal.Min(rec.Quantity, left)
			ok, err := s.stock.DeductGuarded(ctx, tx, rec.ID, take)
			if err != nil {
				return err
			}
			if !ok {
				s.metrics.StockConflicts.Inc()
				return errors.InsufficientStock("stock changed while transferring, please retry")
			}
			left = left.Sub(take)
		}

		if err := s.stock.AddToLocation(ctx, tx, in.ProductID, in.Variant, in.ToLocation, in.Quantity); err != nil {
			return err
		}

		entry := &repository.LedgerEntry{
			TransactionType: domain.TxTransfer,
			ProductID:       in.ProductID,
			Variant:         in.Variant,
			Quantity:        in.Quantity,
			FromLocation:    in.FromLocation,
			ToLocation:      in.ToLocation,
			CreatedBy:       act.ID,
		}
		return s.ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		return err
	}

	s.metrics.LedgerEntriesTotal.WithLabelValues(string(domain.TxTransfer)).Inc()
	s.publisher.StockTransferred(ctx, messaging.StockTransferredEvent{
		ProductID:    in.ProductID,
		Variant:      in.Variant,
		FromLocation: in.FromLocation,
		ToLocation:   in.ToLocation,
		Quantity:     in.Quantity.String(),
		MovedBy:      act.ID,
	})

	return nil
}

// IssueInput hands stock over to the consuming faculty. The quantity
// leaves tracked inventory; a later return books it back in.
type IssueInput struct {
	ProductID    string          `json:"product_id" validate:"required"`
	Variant      string          `json:"variant"`
	FromLocation string          `json:"from_location" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity" validate:"required"`
}

// Issue moves stock out of a location to the symbolic faculty holder,
// draining source records in expiry order.
func (s *StockService) Issue(ctx context.Context, in IssueInput) error {
	act := currentActor(ctx)
	if !in.Quantity.IsPositive() {
		return errors.BadRequest("issued quantity must be positive")
	}

	records, err := s.stock.ListAllocatable(ctx, in.ProductID, in.Variant, in.FromLocation)
	if err != nil {
		return err
	}

	available := decimal.Zero
	for _, rec := range records {
		available = available.Add(rec.Quantity)
	}
	if available.LessThan(in.Quantity) {
		return errors.InsufficientStock(fmt.Sprintf(
			"need %s at %s but only %s is in stock", in.Quantity, in.FromLocation, available))
	}

	err = s.txer.Transaction(ctx, func(tx *sqlx.Tx) error {
		left := in.Quantity
		for _, rec := range records {
			if !left.IsPositive() {
				break
			}
			take := decimal.Min(rec.Quantity, left)
			ok, err := s.stock.DeductGuarded(ctx, tx, rec.ID, take)
			if err != nil {
				return err
			}
			if !ok {
				s.metrics.StockConflicts.Inc()
				return errors.InsufficientStock("stock changed while issuing, please retry")
			}
			left = left.Sub(take)
		}

		entry := &repository.LedgerEntry{
			TransactionType: domain.TxIssue,
			ProductID:       in.ProductID,
			Variant:         in.Variant,
			Quantity:        in.Quantity,
			FromLocation:    in.FromLocation,
			ToLocation:      domain.LocationFaculty,
			CreatedBy:       act.ID,
		}
		return s.ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		return err
	}

	s.metrics.LedgerEntriesTotal.WithLabelValues(string(domain.TxIssue)).Inc()
	s.logger.Info().
		Str("product_id", in.ProductID).
		Str("from_location", in.FromLocation).
		Str("quantity", in.Quantity.String()).
		Str("issued_by", act.ID).
		Msg("stock issued")

	return nil
}

// WriteOffInput removes stock from inventory for breakage, spillage or
// expiry.
type WriteOffInput struct {
	StockRecordID string          `json:"stock_record_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" validate:"required"`
	Reason        string          `json:"reason" validate:"required"`
}

// WriteOff deducts stock from a specific record and books a broken entry.
func (s *StockService) WriteOff(ctx context.Context, in WriteOffInput) error {
	act := currentActor(ctx)
	if !in.Quantity.IsPositive() {
		return errors.BadRequest("write-off quantity must be positive")
	}

	rec, err := s.stock.GetByID(ctx, in.StockRecordID)
	if err != nil {
		return err
	}

	err = s.txer.Transaction(ctx, func(tx *sqlx.Tx) error {
		ok, err := s.stock.DeductGuarded(ctx, tx, rec.ID, in.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return errors.InsufficientStock(fmt.Sprintf(
				"record %s no longer holds %s", rec.ID, in.Quantity))
		}

		entry := &repository.LedgerEntry{
			TransactionType: domain.TxBroken,
			ProductID:       rec.ProductID,
			Variant:         rec.Variant,
			Quantity:        in.Quantity,
			FromLocation:    rec.Location,
			CreatedBy:       act.ID,
		}
		return s.ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		return err
	}

	s.metrics.LedgerEntriesTotal.WithLabelValues(string(domain.TxBroken)).Inc()
	s.logger.Info().
		Str("stock_record_id", rec.ID).
		Str("quantity", in.Quantity.String()).
		Str("reason", in.Reason).
		Msg("stock written off")

	s.publisher.StockWrittenOff(ctx, messaging.StockWrittenOffEvent{
		StockRecordID: rec.ID,
		ProductID:     rec.ProductID,
		Location:      rec.Location,
		Quantity:      in.Quantity.String(),
		Reason:        in.Reason,
		RecordedBy:    act.ID,
	})

	return nil
}

// RegisterUnitInput registers a serialized equipment unit.
type RegisterUnitInput struct {
	ProductID    string `json:"product_id" validate:"required"`
	SerialNumber string `json:"serial_number" validate:"required"`
}

// RegisterUnit adds a new equipment unit to the central store.
func (s *StockService) RegisterUnit(ctx context.Context, in RegisterUnitInput) (*repository.EquipmentUnit, error) {
	act := currentActor(ctx)

	unit := &repository.EquipmentUnit{
		ID:           uuid.New().String(),
		ProductID:    in.ProductID,
		SerialNumber: in.SerialNumber,
		Status:       domain.UnitAvailable,
		Location:     s.centralStore,
	}
	err := s.txer.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.equipment.Create(ctx, tx, unit); err != nil {
			return err
		}
		return s.ledger.Append(ctx, tx, &repository.LedgerEntry{
			TransactionType: domain.TxEntry,
			ProductID:       in.ProductID,
			Quantity:        decimal.NewFromInt(1),
			UnitIDs:         []string{unit.ID},
			ToLocation:      s.centralStore,
			CreatedBy:       act.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.LedgerEntriesTotal.WithLabelValues(string(domain.TxEntry)).Inc()
	return unit, nil
}

// SetUnitMaintenance flips a unit in or out of maintenance and records the
// flip in the ledger.
func (s *StockService) SetUnitMaintenance(ctx context.Context, unitID string, inMaintenance bool) error {
	act := currentActor(ctx)

	unit, err := s.equipment.GetByID(ctx, unitID)
	if err != nil {
		return err
	}
	if err := s.equipment.SetMaintenance(ctx, unitID, inMaintenance); err != nil {
		return err
	}

	err = s.ledger.Append(ctx, nil, &repository.LedgerEntry{
		TransactionType: domain.TxMaintenance,
		ProductID:       unit.ProductID,
		Quantity:        decimal.NewFromInt(1),
		UnitIDs:         []string{unit.ID},
		FromLocation:    unit.Location,
		CreatedBy:       act.ID,
	})
	if err != nil {
		return err
	}

	s.metrics.LedgerEntriesTotal.WithLabelValues(string(domain.TxMaintenance)).Inc()
	return nil
}

// Levels returns aggregated stock quantities.
func (s *StockService) Levels(ctx context.Context, location, productID string) ([]*repository.StockLevel, error) {
	return s.stock.Levels(ctx, location, productID)
}

// ExpiringBatches returns batches expiring within the given number of days.
func (s *StockService) ExpiringBatches(ctx context.Context, withinDays int) ([]*repository.StockRecord, error) {
	if withinDays <= 0 {
		withinDays = 30
	}
	return s.stock.GetExpiringBatches(ctx, withinDays)
}

// History returns filtered, paginated ledger entries.
func (s *StockService) History(ctx context.Context, filter repository.LedgerFilter, page, perPage int) ([]*repository.LedgerEntry, int64, error) {
	return s.ledger.List(ctx, filter, page, perPage)
}
