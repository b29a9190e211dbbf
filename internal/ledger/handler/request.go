package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/internal/ledger/service"
	"github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/httputil"
)

type createItemLinePayload struct {
	ItemType       string          `json:"item_type" validate:"required,oneof=chemical glassware equipment"`
	ProductID      string          `json:"product_id" validate:"required"`
	Variant        string          `json:"variant"`
	Quantity       decimal.Decimal `json:"quantity"`
	RequestedCount int             `json:"requested_count" validate:"gte=0"`
}

type createExperimentPayload struct {
	ExperimentRef string                  `json:"experiment_ref" validate:"required"`
	CourseRef     string                  `json:"course_ref"`
	ScheduledDate time.Time               `json:"scheduled_date" validate:"required"`
	Items         []createItemLinePayload `json:"items" validate:"required,min=1,dive"`
}

type createRequestPayload struct {
	FacultyID   string                    `json:"faculty_id" validate:"required"`
	LabID       string                    `json:"lab_id"`
	Status      string                    `json:"status" validate:"omitempty,oneof=pending approved"`
	Experiments []createExperimentPayload `json:"experiments" validate:"required,min=1,dive"`
}

// CreateRequest registers a faculty request with its experiments and item
// lines.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var payload createRequestPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(payload); err != nil {
		httputil.Error(w, err)
		return
	}

	req := &domain.Request{
		FacultyID: payload.FacultyID,
		LabID:     payload.LabID,
		Status:    domain.RequestStatus(payload.Status),
	}
	for _, ep := range payload.Experiments {
		exp := &domain.Experiment{
			ExperimentRef: ep.ExperimentRef,
			CourseRef:     ep.CourseRef,
			Date:          ep.ScheduledDate,
		}
		for _, ip := range ep.Items {
			itemType := domain.ItemType(ip.ItemType)
			if itemType.Serialized() && ip.RequestedCount <= 0 {
				httputil.Error(w, errors.BadRequest("equipment lines require a positive requested_count"))
				return
			}
			if !itemType.Serialized() && !ip.Quantity.IsPositive() {
				httputil.Error(w, errors.BadRequest("pooled lines require a positive quantity"))
				return
			}
			exp.Items = append(exp.Items, &domain.ItemLine{
				ItemType:       itemType,
				ProductID:      ip.ProductID,
				Variant:        ip.Variant,
				Quantity:       ip.Quantity,
				RequestedCount: ip.RequestedCount,
			})
		}
		req.Experiments = append(req.Experiments, exp)
	}

	if err := h.requests.Create(r.Context(), req); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, req)
}

// GetRequest returns a request with per-experiment allocation decisions
// evaluated for the calling actor.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.status.GetRequest(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, req)
}

type allocateLinePayload struct {
	Quantity decimal.Decimal `json:"quantity"`
	Count    int             `json:"count" validate:"gte=0"`
}

// AllocateLine allocates stock to one item line.
func (h *Handler) AllocateLine(w http.ResponseWriter, r *http.Request) {
	var payload allocateLinePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.allocation.AllocateLine(r.Context(), service.AllocateLineInput{
		RequestID:    chi.URLParam(r, "requestID"),
		ExperimentID: chi.URLParam(r, "experimentID"),
		ItemLineID:   chi.URLParam(r, "itemLineID"),
		Quantity:     payload.Quantity,
		Count:        payload.Count,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

type allocateBatchPayload struct {
	Lines []struct {
		ExperimentID string          `json:"experiment_id" validate:"required"`
		ItemLineID   string          `json:"item_line_id" validate:"required"`
		Quantity     decimal.Decimal `json:"quantity"`
		Count        int             `json:"count" validate:"gte=0"`
	} `json:"lines" validate:"required,min=1,dive"`
}

// AllocateBatch allocates several lines of one request. Lines succeed or
// fail independently; a mixed outcome is reported as 207 Multi-Status.
func (h *Handler) AllocateBatch(w http.ResponseWriter, r *http.Request) {
	var payload allocateBatchPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(payload); err != nil {
		httputil.Error(w, err)
		return
	}

	in := service.AllocateBatchInput{RequestID: chi.URLParam(r, "requestID")}
	for _, l := range payload.Lines {
		in.Lines = append(in.Lines, service.AllocateLineInput{
			ExperimentID: l.ExperimentID,
			ItemLineID:   l.ItemLineID,
			Quantity:     l.Quantity,
			Count:        l.Count,
		})
	}

	result, err := h.allocation.AllocateBatch(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	switch result.Outcome {
	case service.BatchFulfilled:
		httputil.JSON(w, http.StatusOK, result)
	case service.BatchPartial:
		httputil.MultiStatus(w, result)
	default:
		httputil.JSON(w, http.StatusConflict, result)
	}
}

type returnLinePayload struct {
	Quantity decimal.Decimal `json:"quantity"`
	UnitIDs  []string        `json:"unit_ids"`
}

// ReturnLine returns allocated stock from one item line.
func (h *Handler) ReturnLine(w http.ResponseWriter, r *http.Request) {
	var payload returnLinePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.returns.ReturnLine(r.Context(), service.ReturnLineInput{
		RequestID:    chi.URLParam(r, "requestID"),
		ExperimentID: chi.URLParam(r, "experimentID"),
		ItemLineID:   chi.URLParam(r, "itemLineID"),
		Quantity:     payload.Quantity,
		UnitIDs:      payload.UnitIDs,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

type setDisabledPayload struct {
	Disabled bool   `json:"disabled"`
	Reason   string `json:"reason"`
}

// SetItemDisabled enables or disables an item line.
func (h *Handler) SetItemDisabled(w http.ResponseWriter, r *http.Request) {
	var payload setDisabledPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.Error(w, err)
		return
	}

	line, err := h.status.SetItemDisabled(r.Context(),
		chi.URLParam(r, "requestID"),
		chi.URLParam(r, "experimentID"),
		chi.URLParam(r, "itemLineID"),
		payload.Disabled,
		payload.Reason,
	)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, line)
}

type setQuantityPayload struct {
	Quantity decimal.Decimal `json:"quantity" validate:"required"`
}

// SetItemQuantity edits a line's requested amount.
func (h *Handler) SetItemQuantity(w http.ResponseWriter, r *http.Request) {
	var payload setQuantityPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.Error(w, err)
		return
	}

	line, err := h.status.SetItemQuantity(r.Context(),
		chi.URLParam(r, "requestID"),
		chi.URLParam(r, "experimentID"),
		chi.URLParam(r, "itemLineID"),
		payload.Quantity,
	)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, line)
}

type overridePayload struct {
	Reason string `json:"reason" validate:"required"`
}

// GrantOverride records an admin override reopening an experiment's
// allocation window.
func (h *Handler) GrantOverride(w http.ResponseWriter, r *http.Request) {
	var payload overridePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(payload); err != nil {
		httputil.Error(w, err)
		return
	}

	exp, err := h.status.GrantOverride(r.Context(),
		chi.URLParam(r, "requestID"),
		chi.URLParam(r, "experimentID"),
		payload.Reason,
	)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, exp)
}
