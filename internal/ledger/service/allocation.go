package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/internal/ledger/repository"
	"github.com/labstock/labstock-backend/pkg/actor"
	"github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/logger"
	"github.com/labstock/labstock-backend/pkg/messaging"
	"github.com/labstock/labstock-backend/pkg/metrics"
)

// AllocationService issues stock against approved request item lines.
// Pooled items consume central-store batches oldest expiry first; equipment
// claims individual units. Each line allocates all or nothing inside one
// transaction.
type AllocationService struct {
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

// NewAllocationService creates an allocation service.
func NewAllocationService(
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
) *AllocationService {
	return &AllocationService{
		txer:         txer,
		stock:        stock,
		equipment:    equipment,
		ledger:       ledger,
		requests:     requests,
		publisher:    publisher,
		metrics:      m,
		logger:       log.WithComponent("allocation"),
		centralStore: centralStore,
		graceDays:    graceDays,
		now:          nowUTC,
	}
}

// AllocateLineInput identifies one line to allocate. A zero Quantity or
// Count means "everything still outstanding on the line".
type AllocateLineInput struct {
	RequestID    string          `json:"request_id" validate:"required"`
	ExperimentID string          `json:"experiment_id" validate:"required"`
	ItemLineID   string          `json:"item_line_id" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	Count        int             `json:"count" validate:"gte=0"`
}

// AllocationSource records how much one stock record contributed.
type AllocationSource struct {
	StockRecordID string          `json:"stock_record_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
}

// AllocationResult describes one committed line allocation.
type AllocationResult struct {
	ItemLineID string             `json:"item_line_id"`
	ItemType   domain.ItemType    `json:"item_type"`
	Quantity   decimal.Decimal    `json:"quantity"`
	UnitIDs    []string           `json:"unit_ids,omitempty"`
	Sources    []AllocationSource `json:"sources,omitempty"`
	ToLocation string             `json:"to_location"`
}

// AllocateLine allocates stock to a single item line and recomputes the
// request and experiment statuses.
func (s *AllocationService) AllocateLine(ctx context.Context, in AllocateLineInput) (*AllocationResult, error) {
	req, err := s.requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}

	result, err := s.allocate(ctx, req, in)
	if err != nil {
		return nil, err
	}

	if err := s.persistStatuses(ctx, req); err != nil {
		return nil, err
	}

	s.publishAllocation(ctx, req, in.ExperimentID, result)
	return result, nil
}

// Batch outcomes. Lines in a batch succeed or fail independently; the
// outcome summarizes the whole set for the transport layer.
type BatchOutcome string

const (
	BatchFulfilled BatchOutcome = "fulfilled"
	BatchPartial   BatchOutcome = "partial"
	BatchFailed    BatchOutcome = "failed"
)

// AllocateBatchInput allocates several lines of one request in one call.
type AllocateBatchInput struct {
	RequestID string              `json:"request_id" validate:"required"`
	Lines     []AllocateLineInput `json:"lines" validate:"required,min=1,dive"`
}

// BatchLineResult is the per-line outcome of a batch allocation.
type BatchLineResult struct {
	ExperimentID string            `json:"experiment_id"`
	ItemLineID   string            `json:"item_line_id"`
	Allocated    bool              `json:"allocated"`
	Result       *AllocationResult `json:"result,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// BatchResult is the outcome of a batch allocation.
type BatchResult struct {
	Outcome       BatchOutcome         `json:"outcome"`
	RequestStatus domain.RequestStatus `json:"request_status"`
	Lines         []BatchLineResult    `json:"lines"`
}

// AllocateBatch allocates each listed line independently. A failing line
// never blocks the others; statuses are recomputed once at the end.
func (s *AllocationService) AllocateBatch(ctx context.Context, in AllocateBatchInput) (*BatchResult, error) {
	req, err := s.requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}

	out := &BatchResult{Lines: make([]BatchLineResult, 0, len(in.Lines))}
	succeeded := 0

	for _, lineIn := range in.Lines {
		lineIn.RequestID = in.RequestID
		lr := BatchLineResult{ExperimentID: lineIn.ExperimentID, ItemLineID: lineIn.ItemLineID}

		result, err := s.allocate(ctx, req, lineIn)
		if err != nil {
			var appErr *errors.AppError
			if errors.As(err, &appErr) {
				lr.ErrorCode = appErr.Code
				lr.ErrorMessage = appErr.Message
			} else {
				lr.ErrorCode = "INTERNAL_ERROR"
				lr.ErrorMessage = err.Error()
			}
		} else {
			lr.Allocated = true
			lr.Result = result
			succeeded++
		}
		out.Lines = append(out.Lines, lr)
	}

	if err := s.persistStatuses(ctx, req); err != nil {
		return nil, err
	}

	for i, lr := range out.Lines {
		if lr.Allocated {
			s.publishAllocation(ctx, req, lr.ExperimentID, out.Lines[i].Result)
		}
	}

	switch {
	case succeeded == len(in.Lines):
		out.Outcome = BatchFulfilled
	case succeeded > 0:
		out.Outcome = BatchPartial
	default:
		out.Outcome = BatchFailed
	}
	out.RequestStatus = req.Status

	return out, nil
}

// allocate performs one line allocation against an already loaded request.
// On success the in-memory line reflects the committed state.
func (s *AllocationService) allocate(ctx context.Context, req *domain.Request, in AllocateLineInput) (*AllocationResult, error) {
	act := currentActor(ctx)

	if !req.Status.Allocatable() {
		return nil, errors.Conflict(fmt.Sprintf("request in status %q cannot be allocated", req.Status))
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
		return nil, errors.ItemDisabled("this item line is disabled; enable it before allocating")
	}

	decision := domain.GateForLine(exp, line, act.Role, s.now(), s.graceDays)
	if !decision.Allowed {
		s.metrics.GateRejections.WithLabelValues(string(decision.ReasonType)).Inc()
		return nil, gateError(decision)
	}

	var (
		result *AllocationResult
		err    error
	)
	if line.ItemType.Serialized() {
		result, err = s.allocateUnits(ctx, req, line, in.Count, act)
	} else {
		result, err = s.allocateQuantity(ctx, req, line, in.Quantity, act)
	}
	if err != nil {
		s.metrics.AllocationsTotal.WithLabelValues(string(line.ItemType), "rejected").Inc()
		return nil, err
	}

	s.metrics.AllocationsTotal.WithLabelValues(string(line.ItemType), "allocated").Inc()
	s.logger.Info().
		Str("request_id", req.ID).
		Str("item_line_id", line.ID).
		Str("item_type", string(line.ItemType)).
		Str("quantity", result.Quantity.String()).
		Int("unit_count", len(result.UnitIDs)).
		Str("allocated_by", act.ID).
		Msg("line allocated")

	return result, nil
}

// allocateQuantity drains central-store records in expiry order until the
// requested amount is covered, splitting across batches when needed.
func (s *AllocationService) allocateQuantity(ctx context.Context, req *domain.Request, line *domain.ItemLine, amount decimal.Decimal, act *actor.Actor) (*AllocationResult, error) {
	remaining := line.RemainingQuantity()
	if amount.IsZero() {
		amount = remaining
	}
	if !amount.IsPositive() {
		return nil, errors.BadRequest("allocation amount must be positive")
	}
	if amount.GreaterThan(remaining) {
		return nil, errors.Conflict(fmt.Sprintf(
			"requested %s exceeds the unallocated remainder of %s", amount, remaining))
	}

	records, err := s.stock.ListAllocatable(ctx, line.ProductID, line.Variant, s.centralStore)
	if err != nil {
		return nil, err
	}

	available := decimal.Zero
	for _, rec := range records {
		available = available.Add(rec.Quantity)
	}
	if available.LessThan(amount) {
		return nil, errors.InsufficientStock(fmt.Sprintf(
			"need %s of %s but only %s is in stock", amount, line.ProductID, available)).
			WithDetails(map[string]string{
				"product_id": line.ProductID,
				"requested":  amount.String(),
				"available":  available.String(),
			})
	}

	var sources []AllocationSource
	left := amount
	for _, rec := range records {
		if !left.IsPositive() {
			break
		}
		take := decimal.Min(rec.Quantity, left)
		sources = append(sources, AllocationSource{
			StockRecordID: rec.ID,
			Quantity:      take,
			ExpiryDate:    rec.ExpiryDate,
		})
		left = left.Sub(take)
	}

	destination := s.destination(req)
	at := s.now()

	// The line is mutated inside the closure so UpdateItemLine can persist
	// the new history. On rollback the in-memory line must match the
	// database again before any status is recomputed from it.
	history := line.AllocationHistory
	err = s.txer.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, src := range sources {
			ok, err := s.stock.DeductGuarded(ctx, tx, src.StockRecordID, src.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				s.metrics.StockConflicts.Inc()
				return errors.InsufficientStock("stock changed while allocating, please retry")
			}

			entry := &repository.LedgerEntry{
				TransactionType: domain.TxAllocation,
				ProductID:       line.ProductID,
				Variant:         line.Variant,
				Quantity:        src.Quantity,
				FromLocation:    s.centralStore,
				ToLocation:      destination,
				RequestID:       &req.ID,
				ExperimentID:    &line.ExperimentID,
				ItemLineID:      &line.ID,
				CreatedBy:       act.ID,
			}
			if err := s.ledger.Append(ctx, tx, entry); err != nil {
				return err
			}
		}

		if err := s.stock.AddToLocation(ctx, tx, line.ProductID, line.Variant, destination, amount); err != nil {
			return err
		}

		line.RecordAllocation(at, amount, nil, act.ID)
		return s.requests.UpdateItemLine(ctx, tx, line)
	})
	if err != nil {
		line.AllocationHistory = history
		line.RecomputeAllocated()
		return nil, err
	}

	s.metrics.LedgerEntriesTotal.WithLabelValues(string(domain.TxAllocation)).Add(float64(len(sources)))

	return &AllocationResult{
		ItemLineID: line.ID,
		ItemType:   line.ItemType,
		Quantity:   amount,
		Sources:    sources,
		ToLocation: destination,
	}, nil
}

// allocateUnits claims individual equipment units at the central store.
func (s *AllocationService) allocateUnits(ctx context.Context, req *domain.Request, line *domain.ItemLine, count int, act *actor.Actor) (*AllocationResult, error) {
	remaining := line.RemainingCount()
	if count == 0 {
		count = remaining
	}
	if count <= 0 {
		return nil, errors.BadRequest("unit count must be positive")
	}
	if count > remaining {
		return nil, errors.Conflict(fmt.Sprintf(
			"requested %d units but only %d remain unallocated on this line", count, remaining))
	}

	units, err := s.equipment.ListAvailable(ctx, line.ProductID, s.centralStore, count)
	if err != nil {
		return nil, err
	}
	if len(units) < count {
		return nil, errors.InsufficientStock(fmt.Sprintf(
			"need %d units of %s but only %d are available", count, line.ProductID, len(units))).
			WithDetails(map[string]string{
				"product_id": line.ProductID,
				"requested":  fmt.Sprintf("%d", count),
				"available":  fmt.Sprintf("%d", len(units)),
			})
	}

	destination := s.destination(req)
	at := s.now()

	unitIDs := make([]string, 0, count)
	for _, u := range units[:count] {
		unitIDs = append(unitIDs, u.ID)
	}

	history := line.AllocationHistory
	err = s.txer.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, id := range unitIDs {
			ok, err := s.equipment.Claim(ctx, tx, id, destination)
			if err != nil {
				return err
			}
			if !ok {
				s.metrics.StockConflicts.Inc()
				return errors.InsufficientStock("a unit was claimed concurrently, please retry")
			}
		}

		entry := &repository.LedgerEntry{
			TransactionType: domain.TxAllocation,
			ProductID:       line.ProductID,
			Variant:         line.Variant,
			Quantity:        decimal.NewFromInt(int64(count)),
			UnitIDs:         unitIDs,
			FromLocation:    s.centralStore,
			ToLocation:      destination,
			RequestID:       &req.ID,
			ExperimentID:    &line.ExperimentID,
			ItemLineID:      &line.ID,
			CreatedBy:       act.ID,
		}
		if err := s.ledger.Append(ctx, tx, entry); err != nil {
			return err
		}

		line.RecordAllocation(at, decimal.Zero, unitIDs, act.ID)
		return s.requests.UpdateItemLine(ctx, tx, line)
	})
	if err != nil {
		line.AllocationHistory = history
		line.RecomputeAllocated()
		return nil, err
	}

	s.metrics.LedgerEntriesTotal.WithLabelValues(string(domain.TxAllocation)).Inc()

	return &AllocationResult{
		ItemLineID: line.ID,
		ItemType:   line.ItemType,
		Quantity:   decimal.NewFromInt(int64(count)),
		UnitIDs:    unitIDs,
		ToLocation: destination,
	}, nil
}

func (s *AllocationService) persistStatuses(ctx context.Context, req *domain.Request) error {
	recomputeStatuses(req)
	return s.requests.UpdateStatuses(ctx, req)
}

func (s *AllocationService) publishAllocation(ctx context.Context, req *domain.Request, experimentID string, result *AllocationResult) {
	s.publisher.AllocationRecorded(ctx, messaging.AllocationRecordedEvent{
		RequestID:    req.ID,
		ExperimentID: experimentID,
		ItemLineID:   result.ItemLineID,
		ItemType:     string(result.ItemType),
		Quantity:     result.Quantity.String(),
		ItemIDs:      result.UnitIDs,
		ToLocation:   result.ToLocation,
		AllocatedBy:  currentActor(ctx).ID,
	})
}

// destination resolves where allocated stock is handed over. Requests bound
// to a lab deliver there; otherwise the symbolic faculty location is used.
func (s *AllocationService) destination(req *domain.Request) string {
	if req.LabID != "" {
		return req.LabID
	}
	return domain.LocationFaculty
}

// recomputeStatuses refreshes experiment and request statuses in memory.
func recomputeStatuses(req *domain.Request) {
	for _, e := range req.Experiments {
		e.Status = domain.AggregateExperimentStatus(e)
	}
	req.Status = domain.AggregateRequestStatus(req)
}

// currentActor resolves the acting user, defaulting to the system actor for
// internal jobs.
func currentActor(ctx context.Context) *actor.Actor {
	if a := actor.FromContext(ctx); a != nil {
		return a
	}
	return actor.SystemActor()
}

// gateError maps a gate rejection to the transport-facing error.
func gateError(d domain.GateDecision) error {
	switch d.ReasonType {
	case domain.ReasonNoItems:
		return errors.Conflict("experiment has no enabled item lines")
	case domain.ReasonFullyAllocated:
		return errors.AlreadyAllocated("this item line is already fully allocated")
	case domain.ReasonDateExpiredAdminOnly:
		return errors.DateExpired(fmt.Sprintf(
			"experiment date passed %d day(s) ago; only an administrator may allocate during the grace period", d.DaysOverdue))
	case domain.ReasonDateExpiredCompletely:
		return errors.DateExpired(fmt.Sprintf(
			"experiment date passed %d day(s) ago; an admin override is required", d.DaysOverdue))
	default:
		return errors.Conflict("allocation is not permitted for this line")
	}
}
