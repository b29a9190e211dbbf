package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/pkg/actor"
	"github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/logger"
	"github.com/labstock/labstock-backend/pkg/messaging"
	"github.com/labstock/labstock-backend/pkg/metrics"
)

// StatusService answers "can this still be allocated" and applies the
// administrative state changes that feed that answer: enable/disable of
// item lines, quantity edits and per-experiment admin overrides.
type StatusService struct {
	requests  RequestStore
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger

	graceDays int
	now       func() time.Time
}

// NewStatusService creates a status service.
func NewStatusService(requests RequestStore, publisher EventPublisher, m *metrics.Metrics, log *logger.Logger, graceDays int) *StatusService {
	return &StatusService{
		requests:  requests,
		publisher: publisher,
		metrics:   m,
		logger:    log.WithComponent("status"),
		graceDays: graceDays,
		now:       nowUTC,
	}
}

// GetRequest loads a request and refreshes every experiment's allocation
// decision for the calling actor. The decision cache is persisted so other
// readers see a consistent answer.
func (s *StatusService) GetRequest(ctx context.Context, requestID string) (*domain.Request, error) {
	act := currentActor(ctx)

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, exp := range req.Experiments {
		decision := domain.GateForExperiment(exp, act.Role, now, s.graceDays)
		exp.CanAllocate = decision.Allowed
		exp.ReasonType = decision.ReasonType
		exp.Reason = decisionMessage(decision)
		exp.Status = domain.AggregateExperimentStatus(exp)

		if err := s.requests.UpdateExperimentDecision(ctx, exp); err != nil {
			return nil, err
		}
	}
	req.Status = domain.AggregateRequestStatus(req)

	return req, nil
}

// SetItemDisabled flips an item line's disabled flag. Disabling a line with
// an active allocation is rejected; re-enabling marks the line for a
// catch-up allocation window. Faculty members cannot change line state.
func (s *StatusService) SetItemDisabled(ctx context.Context, requestID, experimentID, itemLineID string, disabled bool, reason string) (*domain.ItemLine, error) {
	act := currentActor(ctx)
	if act.Role == "" || act.Role == actor.RoleFaculty {
		return nil, errors.Forbidden("only lab staff may change item line state")
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	exp := req.FindExperiment(experimentID)
	if exp == nil {
		return nil, errors.NotFound("experiment")
	}
	line := exp.FindItem(itemLineID)
	if line == nil {
		return nil, errors.NotFound("item line")
	}

	if disabled {
		if reason == "" {
			return nil, errors.BadRequest("disabling a line requires a reason")
		}
		if err := line.Disable(reason); err != nil {
			return nil, err
		}
	} else {
		line.Enable()
	}

	if err := s.requests.UpdateItemLine(ctx, nil, line); err != nil {
		return nil, err
	}

	recomputeStatuses(req)
	if err := s.requests.UpdateStatuses(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("item_line_id", line.ID).
		Bool("disabled", disabled).
		Str("changed_by", act.ID).
		Msg("item line state changed")

	s.publisher.ItemLineDisabled(ctx, messaging.ItemLineDisabledEvent{
		ItemLineID: line.ID,
		Disabled:   disabled,
		Reason:     reason,
		ChangedBy:  act.ID,
	})

	return line, nil
}

// SetItemQuantity applies an administrative edit to a line's requested
// amount. The quantity can never drop below what is already allocated.
func (s *StatusService) SetItemQuantity(ctx context.Context, requestID, experimentID, itemLineID string, quantity decimal.Decimal) (*domain.ItemLine, error) {
	act := currentActor(ctx)
	if act.Role == "" || act.Role == actor.RoleFaculty {
		return nil, errors.Forbidden("only lab staff may edit item lines")
	}
	if !quantity.IsPositive() {
		return nil, errors.BadRequest("quantity must be positive")
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	exp := req.FindExperiment(experimentID)
	if exp == nil {
		return nil, errors.NotFound("experiment")
	}
	line := exp.FindItem(itemLineID)
	if line == nil {
		return nil, errors.NotFound("item line")
	}

	if err := line.SetQuantity(quantity); err != nil {
		return nil, err
	}
	if err := s.requests.UpdateItemLine(ctx, nil, line); err != nil {
		return nil, err
	}

	recomputeStatuses(req)
	if err := s.requests.UpdateStatuses(ctx, req); err != nil {
		return nil, err
	}

	return line, nil
}

// GrantOverride records a per-experiment admin override, reopening the
// allocation window past the grace period. Admin only; the reason is
// mandatory and audited.
func (s *StatusService) GrantOverride(ctx context.Context, requestID, experimentID, reason string) (*domain.Experiment, error) {
	act := currentActor(ctx)
	if !act.Role.IsAdmin() {
		return nil, errors.Forbidden("only administrators may grant overrides")
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	exp := req.FindExperiment(experimentID)
	if exp == nil {
		return nil, errors.NotFound("experiment")
	}

	if err := exp.GrantOverride(reason, act.ID, s.now()); err != nil {
		return nil, err
	}

	decision := domain.GateForExperiment(exp, act.Role, s.now(), s.graceDays)
	exp.CanAllocate = decision.Allowed
	exp.ReasonType = decision.ReasonType
	exp.Reason = decisionMessage(decision)

	if err := s.requests.UpdateExperimentDecision(ctx, exp); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("experiment_id", exp.ID).
		Str("granted_by", act.ID).
		Msg("admin override granted")

	s.publisher.OverrideGranted(ctx, messaging.OverrideGrantedEvent{
		ExperimentID: exp.ID,
		Reason:       reason,
		GrantedBy:    act.ID,
	})

	return exp, nil
}

// decisionMessage renders a human-readable reason for a gate decision.
func decisionMessage(d domain.GateDecision) string {
	switch d.ReasonType {
	case domain.ReasonAllocatable:
		if d.DaysRemaining > 0 {
			return fmt.Sprintf("allocatable, %d day(s) before the experiment date", d.DaysRemaining)
		}
		return "allocatable"
	case domain.ReasonNoItems:
		return "experiment has no enabled item lines"
	case domain.ReasonFullyAllocated:
		return "all item lines are fully allocated"
	case domain.ReasonDateExpiredAdminOnly:
		return fmt.Sprintf("experiment date passed %d day(s) ago; admin only during the grace period", d.DaysOverdue)
	case domain.ReasonDateExpiredCompletely:
		return fmt.Sprintf("experiment date passed %d day(s) ago; an admin override is required", d.DaysOverdue)
	default:
		return string(d.ReasonType)
	}
}
