package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/labstock/labstock-backend/internal/ledger/service"
	"github.com/labstock/labstock-backend/pkg/httputil"
)

// ReceiveStock books a goods receipt into the central store.
func (h *Handler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	var in service.ReceiveInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(in); err != nil {
		httputil.Error(w, err)
		return
	}

	rec, err := h.stock.Receive(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, rec)
}

// TransferStock moves stock between locations.
func (h *Handler) TransferStock(w http.ResponseWriter, r *http.Request) {
	var in service.TransferInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(in); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.stock.Transfer(r.Context(), in); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// IssueStock hands stock over to the consuming faculty.
func (h *Handler) IssueStock(w http.ResponseWriter, r *http.Request) {
	var in service.IssueInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(in); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.stock.Issue(r.Context(), in); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// WriteOffStock records breakage or loss against a stock record.
func (h *Handler) WriteOffStock(w http.ResponseWriter, r *http.Request) {
	var in service.WriteOffInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(in); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.stock.WriteOff(r.Context(), in); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// StockLevels returns aggregated quantities, optionally filtered.
func (h *Handler) StockLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.stock.Levels(r.Context(),
		r.URL.Query().Get("location"),
		r.URL.Query().Get("product_id"),
	)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, levels)
}

// ExpiringBatches returns batches expiring soon.
func (h *Handler) ExpiringBatches(w http.ResponseWriter, r *http.Request) {
	withinDays, _ := strconv.Atoi(r.URL.Query().Get("within_days"))

	batches, err := h.stock.ExpiringBatches(r.Context(), withinDays)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// RegisterUnit adds a serialized equipment unit.
func (h *Handler) RegisterUnit(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterUnitInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(in); err != nil {
		httputil.Error(w, err)
		return
	}

	unit, err := h.stock.RegisterUnit(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, unit)
}

type maintenancePayload struct {
	InMaintenance bool `json:"in_maintenance"`
}

// SetUnitMaintenance flips a unit in or out of maintenance.
func (h *Handler) SetUnitMaintenance(w http.ResponseWriter, r *http.Request) {
	var payload maintenancePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.stock.SetUnitMaintenance(r.Context(), chi.URLParam(r, "unitID"), payload.InMaintenance); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}
