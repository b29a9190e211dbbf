// Package metrics exposes Prometheus counters for the ledger engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's Prometheus collectors.
type Metrics struct {
	AllocationsTotal   *prometheus.CounterVec
	ReturnsTotal       *prometheus.CounterVec
	StockConflicts     prometheus.Counter
	GateRejections     *prometheus.CounterVec
	LedgerEntriesTotal *prometheus.CounterVec
}

// New registers the ledger collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AllocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labstock_allocations_total",
			Help: "Item line allocations by item type and outcome.",
		}, []string{"item_type", "outcome"}),
		ReturnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labstock_returns_total",
			Help: "Item line returns by item type and outcome.",
		}, []string{"item_type", "outcome"}),
		StockConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "labstock_stock_guard_conflicts_total",
			Help: "Guarded stock decrements lost to a concurrent allocation.",
		}),
		GateRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labstock_gate_rejections_total",
			Help: "Date/permission gate rejections by reason type.",
		}, []string{"reason"}),
		LedgerEntriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labstock_ledger_entries_total",
			Help: "Ledger entries appended by transaction type.",
		}, []string{"transaction_type"}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
