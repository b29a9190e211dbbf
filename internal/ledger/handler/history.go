package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/internal/ledger/repository"
	"github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/httputil"
)

func ledgerFilterFromQuery(r *http.Request) (repository.LedgerFilter, error) {
	filter := repository.LedgerFilter{
		ProductID:       r.URL.Query().Get("product_id"),
		Location:        r.URL.Query().Get("location"),
		TransactionType: domain.TransactionType(r.URL.Query().Get("type")),
	}
	if filter.TransactionType != "" && !filter.TransactionType.Valid() {
		return filter, errors.BadRequest("unknown transaction type")
	}

	for _, q := range []struct {
		name string
		dst  **time.Time
	}{
		{"from", &filter.From},
		{"to", &filter.To},
	} {
		raw := r.URL.Query().Get(q.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			t, err = time.Parse("2006-01-02", raw)
		}
		if err != nil {
			return filter, errors.BadRequest(fmt.Sprintf("invalid %s date", q.name))
		}
		*q.dst = &t
	}

	return filter, nil
}

// LedgerHistory returns filtered, paginated ledger entries.
func (h *Handler) LedgerHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := ledgerFilterFromQuery(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}

	entries, total, err := h.stock.History(r.Context(), filter, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	httputil.JSONWithMeta(w, http.StatusOK, entries, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// ExportLedgerHistory streams the filtered ledger as an xlsx workbook.
func (h *Handler) ExportLedgerHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := ledgerFilterFromQuery(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	entries, _, err := h.stock.History(r.Context(), filter, 1, 500)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Ledger"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Date", "Type", "Product", "Variant", "Quantity", "Units", "From", "To", "Request", "Recorded by"}
	for i, head := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, head)
	}

	for row, e := range entries {
		requestID := ""
		if e.RequestID != nil {
			requestID = *e.RequestID
		}
		values := []interface{}{
			e.CreatedAt.Format("2006-01-02 15:04"),
			string(e.TransactionType),
			e.ProductID,
			e.Variant,
			e.Quantity.String(),
			strings.Join(e.UnitIDs, ", "),
			e.FromLocation,
			e.ToLocation,
			requestID,
			e.CreatedBy,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	filename := fmt.Sprintf("ledger_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if err := f.Write(w); err != nil {
		h.logger.Error().Err(err).Msg("failed to write xlsx export")
	}
}
