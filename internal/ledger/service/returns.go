package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/internal/ledger/repository"
	"github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/logger"
	"github.com/labstock/labstock-backend/pkg/messaging"
	"github.com/labstock/labstock-backend/pkg/metrics"
)

// ReturnService takes allocated stock back from a faculty member. Returned
// pooled stock re-enters inventory at the request's lab (provenance and
// expiry are lost once issued, so it lands in the pooled record); equipment
// units become available again at the same destination.
type ReturnService struct {
	txer      Transactor
	stock     StockStore
	equipment EquipmentStore
	ledger    LedgerStore
	requests  RequestStore
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger

	centralStore string
	graceDays    int
	now          func() time.Time
}

// NewReturnService creates a return service.
func NewReturnService(
	txer Transactor,
	stock StockStore,
	equipment EquipmentStore,
	ledger LedgerStore,
	requests RequestStore,
	publisher EventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
	centralStore string,
	graceDays int,
) *ReturnService {
	return &ReturnService{
		txer:         txer,
		stock:        stock,
		equipment:    equipment,
		ledger:       ledger,
		requests:     requests,
		publisher:    publisher,
		metrics:      m,
		logger:       log.WithComponent("return"),
		centralStore: centralStore,
		graceDays:    graceDays,
		now:          nowUTC,
	}
}

// ReturnLineInput identifies one line to return against. A zero Quantity
// (or empty UnitIDs for equipment) returns everything still outstanding.
type ReturnLineInput struct {
	RequestID    string          `json:"request_id" validate:"required"`
	ExperimentID string          `json:"experiment_id" validate:"required"`
	ItemLineID   string          `json:"item_line_id" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitIDs      []string        `json:"unit_ids"`
}

// ReturnResult describes one committed return.
type ReturnResult struct {
	ItemLineID  string          `json:"item_line_id"`
	ItemType    domain.ItemType `json:"item_type"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitIDs     []string        `json:"unit_ids,omitempty"`
	ToLocation  string          `json:"to_location"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// ReturnLine reverses part or all of a line's allocation. Recent
// allocations unwind first, preserving the original per-event quantities
// for audit.
func (s *ReturnService) ReturnLine(ctx context.Context, in ReturnLineInput) (*ReturnResult, error) {
	act := currentActor(ctx)

	req, err := s.requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.Allocatable() {
		return nil, errors.Conflict(fmt.Sprintf("request in status %q cannot accept returns", req.Status))
	}

	exp := req.FindExperiment(in.ExperimentID)
	if exp == nil {
		return nil, errors.NotFound("experiment")
	}
	line := exp.FindItem(in.ItemLineID)
	if line == nil {
		return nil, errors.NotFound("item line")
	}
	if line.IsDisabled {
		return nil, errors.ItemDisabled("this item line is disabled")
	}
	if !line.IsAllocated {
		return nil, errors.NotAllocated("nothing is currently allocated on this line")
	}

	overrideReason := ""
	if exp.OverrideReason != nil {
		overrideReason = *exp.OverrideReason
	}
	decision := domain.EvaluateGate(domain.GateInput{
		ExperimentDate: exp.Date,
		Now:            s.now(),
		Role:           act.Role,
		AdminOverride:  exp.AdminOverride,
		OverrideReason: overrideReason,
		WasDisabled:    line.WasDisabled,
		GraceDays:      s.graceDays,
	})
	if !decision.Allowed {
		s.metrics.GateRejections.WithLabelValues(string(decision.ReasonType)).Inc()
		return nil, gateError(decision)
	}

	var result *ReturnResult
	if line.ItemType.Serialized() {
		result, err = s.returnUnits(ctx, req, line, in.UnitIDs, act.ID)
	} else {
		result, err = s.returnQuantity(ctx, req, line, in.Quantity, act.ID)
	}
	if err != nil {
		s.metrics.ReturnsTotal.WithLabelValues(string(line.ItemType), "rejected").Inc()
		return nil, err
	}

	recomputeStatuses(req)
	if err := s.requests.UpdateStatuses(ctx, req); err != nil {
		return nil, err
	}

	s.metrics.ReturnsTotal.WithLabelValues(string(line.ItemType), "returned").Inc()
	s.metrics.LedgerEntriesTotal.WithLabelValues(string(domain.TxReturn)).Inc()
	s.logger.Info().
		Str("request_id", req.ID).
		Str("item_line_id", line.ID).
		Str("item_type", string(line.ItemType)).
		Str("quantity", result.Quantity.String()).
		Int("unit_count", len(result.UnitIDs)).
		Str("returned_by", act.ID).
		Msg("line returned")

	s.publisher.ReturnRecorded(ctx, messaging.ReturnRecordedEvent{
		RequestID:    req.ID,
		ExperimentID: exp.ID,
		ItemLineID:   line.ID,
		ItemType:     string(line.ItemType),
		Quantity:     result.Quantity.String(),
		ItemIDs:      result.UnitIDs,
		ToLocation:   result.ToLocation,
		ReturnedBy:   act.ID,
	})

	return result, nil
}

// returnQuantity unwinds a pooled allocation and books the stock back into
// the destination's pooled record.
func (s *ReturnService) returnQuantity(ctx context.Context, req *domain.Request, line *domain.ItemLine, amount decimal.Decimal, returnedBy string) (*ReturnResult, error) {
	if amount.IsZero() {
		amount = line.OutstandingQuantity()
	}
	if !amount.IsPositive() {
		return nil, errors.BadRequest("return amount must be positive")
	}

	destination := s.returnDestination(req)
	at := s.now()

	err := s.txer.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := line.UnwindQuantity(at, amount, returnedBy); err != nil {
			return err
		}

		if err := s.stock.AddToLocation(ctx, tx, line.ProductID, line.Variant, destination, amount); err != nil {
			return err
		}

		entry := &repository.LedgerEntry{
			TransactionType: domain.TxReturn,
			ProductID:       line.ProductID,
			Variant:         line.Variant,
			Quantity:        amount,
			FromLocation:    domain.LocationFaculty,
			ToLocation:      destination,
			RequestID:       &req.ID,
			ExperimentID:    &line.ExperimentID,
			ItemLineID:      &line.ID,
			CreatedBy:       returnedBy,
		}
		if err := s.ledger.Append(ctx, tx, entry); err != nil {
			return err
		}

		return s.requests.UpdateItemLine(ctx, tx, line)
	})
	if err != nil {
		return nil, err
	}

	return &ReturnResult{
		ItemLineID:  line.ID,
		ItemType:    line.ItemType,
		Quantity:    amount,
		ToLocation:  destination,
		Outstanding: line.OutstandingQuantity(),
	}, nil
}

// returnUnits releases equipment units back to availability.
func (s *ReturnService) returnUnits(ctx context.Context, req *domain.Request, line *domain.ItemLine, unitIDs []string, returnedBy string) (*ReturnResult, error) {
	if len(unitIDs) == 0 {
		unitIDs = line.ActiveItemIDs()
	}
	if len(unitIDs) == 0 {
		return nil, errors.NotAllocated("no units are currently out on this line")
	}

	destination := s.returnDestination(req)
	at := s.now()

	err := s.txer.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := line.UnwindItemIDs(at, unitIDs, returnedBy); err != nil {
			return err
		}

		for _, id := range unitIDs {
			ok, err := s.equipment.Release(ctx, tx, id, destination)
			if err != nil {
				return err
			}
			if !ok {
				return errors.NotAllocated(fmt.Sprintf("unit %s is not currently allocated", id))
			}
		}

		entry := &repository.LedgerEntry{
			TransactionType: domain.TxReturn,
			ProductID:       line.ProductID,
			Variant:         line.Variant,
			Quantity:        decimal.NewFromInt(int64(len(unitIDs))),
			UnitIDs:         unitIDs,
			FromLocation:    domain.LocationFaculty,
			ToLocation:      destination,
			RequestID:       &req.ID,
			ExperimentID:    &line.ExperimentID,
			ItemLineID:      &line.ID,
			CreatedBy:       returnedBy,
		}
		if err := s.ledger.Append(ctx, tx, entry); err != nil {
			return err
		}

		return s.requests.UpdateItemLine(ctx, tx, line)
	})
	if err != nil {
		return nil, err
	}

	return &ReturnResult{
		ItemLineID:  line.ID,
		ItemType:    line.ItemType,
		Quantity:    decimal.NewFromInt(int64(len(unitIDs))),
		UnitIDs:     unitIDs,
		ToLocation:  destination,
		Outstanding: line.OutstandingQuantity(),
	}, nil
}

// returnDestination resolves where returned stock is booked in. Lab-bound
// requests return to the lab; unbound requests fall back to the central
// store.
func (s *ReturnService) returnDestination(req *domain.Request) string {
	if req.LabID != "" {
		return req.LabID
	}
	return s.centralStore
}
