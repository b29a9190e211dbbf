// Package handler exposes the ledger over HTTP. Handlers decode, validate
// and translate; all business rules live in the service layer.
package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/labstock/labstock-backend/internal/ledger/service"
	"github.com/labstock/labstock-backend/pkg/logger"
)

// Handler wires the ledger services to chi routes.
type Handler struct {
	allocation *service.AllocationService
	returns    *service.ReturnService
	status     *service.StatusService
	stock      *service.StockService
	requests   service.RequestStore
	logger     *logger.Logger
}

// New creates a ledger HTTP handler.
func New(
	allocation *service.AllocationService,
	returns *service.ReturnService,
	status *service.StatusService,
	stock *service.StockService,
	requests service.RequestStore,
	log *logger.Logger,
) *Handler {
	return &Handler{
		allocation: allocation,
		returns:    returns,
		status:     status,
		stock:      stock,
		requests:   requests,
		logger:     log.WithComponent("handler"),
	}
}

// RegisterRoutes mounts all ledger routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.Post("/", h.CreateRequest)
		r.Route("/{requestID}", func(r chi.Router) {
			r.Get("/", h.GetRequest)
			r.Post("/allocations", h.AllocateBatch)

			r.Route("/experiments/{experimentID}", func(r chi.Router) {
				r.Post("/override", h.GrantOverride)

				r.Route("/items/{itemLineID}", func(r chi.Router) {
					r.Post("/allocate", h.AllocateLine)
					r.Post("/return", h.ReturnLine)
					r.Patch("/disabled", h.SetItemDisabled)
					r.Patch("/quantity", h.SetItemQuantity)
				})
			})
		})
	})

	r.Route("/stock", func(r chi.Router) {
		r.Post("/receipts", h.ReceiveStock)
		r.Post("/transfers", h.TransferStock)
		r.Post("/issues", h.IssueStock)
		r.Post("/write-offs", h.WriteOffStock)
		r.Get("/levels", h.StockLevels)
		r.Get("/expiring", h.ExpiringBatches)
	})

	r.Route("/equipment/units", func(r chi.Router) {
		r.Post("/", h.RegisterUnit)
		r.Patch("/{unitID}/maintenance", h.SetUnitMaintenance)
	})

	r.Route("/ledger", func(r chi.Router) {
		r.Get("/", h.LedgerHistory)
		r.Get("/export", h.ExportLedgerHistory)
	})
}
