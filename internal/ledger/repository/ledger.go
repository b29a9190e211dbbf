package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/pkg/database"
	"github.com/labstock/labstock-backend/pkg/errors"
)

// LedgerEntry is one immutable stock movement. Entries are the audit trail:
// they are appended, never updated or deleted, and must stay consistent
// with the stock record deltas they describe.
type LedgerEntry struct {
	ID              string                 `db:"id" json:"id"`
	TransactionType domain.TransactionType `db:"transaction_type" json:"transaction_type"`
	ProductID       string                 `db:"product_id" json:"product_id"`
	Variant         string                 `db:"variant" json:"variant"`
	Quantity        decimal.Decimal        `db:"quantity" json:"quantity"`
	UnitIDs         pq.StringArray         `db:"unit_ids" json:"unit_ids,omitempty"`
	FromLocation    string                 `db:"from_location" json:"from_location"`
	ToLocation      string                 `db:"to_location" json:"to_location"`
	RequestID       *string                `db:"request_id" json:"request_id,omitempty"`
	ExperimentID    *string                `db:"experiment_id" json:"experiment_id,omitempty"`
	ItemLineID      *string                `db:"item_line_id" json:"item_line_id,omitempty"`
	CreatedBy       string                 `db:"created_by" json:"created_by"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
}

// Validate enforces the per-type location semantics before any write.
func (e *LedgerEntry) Validate() error {
	if !e.TransactionType.Valid() {
		return errors.BadRequest("unknown transaction type")
	}
	switch e.TransactionType {
	case domain.TxAllocation:
		if e.ToLocation == "" {
			return errors.BadRequest("allocation entries require a destination")
		}
	case domain.TxReturn:
		if e.FromLocation == "" {
			return errors.BadRequest("return entries require a source")
		}
	case domain.TxTransfer:
		if e.FromLocation == "" || e.ToLocation == "" || e.FromLocation == e.ToLocation {
			return errors.BadRequest("transfer entries require distinct source and destination")
		}
	}
	if !e.Quantity.IsPositive() && len(e.UnitIDs) == 0 {
		return errors.BadRequest("ledger entries must move a positive quantity or at least one unit")
	}
	return nil
}

// LedgerRepository handles the append-only transaction log
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append inserts a ledger entry, optionally inside the caller's
// transaction so it commits or rolls back together with the stock delta
// it describes.
func (r *LedgerRepository) Append(ctx context.Context, tx *sqlx.Tx, entry *LedgerEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO ledger_entries (
			id, transaction_type, product_id, variant, quantity, unit_ids,
			from_location, to_location, request_id, experiment_id, item_line_id, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`

	args := []interface{}{
		entry.ID, entry.TransactionType, entry.ProductID, entry.Variant,
		entry.Quantity, entry.UnitIDs, entry.FromLocation, entry.ToLocation,
		entry.RequestID, entry.ExperimentID, entry.ItemLineID, entry.CreatedBy,
	}

	if tx != nil {
		return tx.QueryRowxContext(ctx, query, args...).Scan(&entry.CreatedAt)
	}
	return r.db.QueryRowxContext(ctx, query, args...).Scan(&entry.CreatedAt)
}

// LedgerFilter narrows ledger history queries for reporting collaborators.
type LedgerFilter struct {
	ProductID       string
	Location        string
	TransactionType domain.TransactionType
	From            *time.Time
	To              *time.Time
}

// List returns entries in creation order, newest first, with pagination.
func (r *LedgerRepository) List(ctx context.Context, filter LedgerFilter, page, perPage int) ([]*LedgerEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 500 {
		perPage = 50
	}

	where := `
		WHERE ($1 = '' OR product_id = $1)
		AND ($2 = '' OR from_location = $2 OR to_location = $2)
		AND ($3 = '' OR transaction_type = $3)
		AND ($4::timestamptz IS NULL OR created_at >= $4)
		AND ($5::timestamptz IS NULL OR created_at <= $5)
	`
	args := []interface{}{filter.ProductID, filter.Location, string(filter.TransactionType), filter.From, filter.To}

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM ledger_entries `+where, args...); err != nil {
		return nil, 0, err
	}

	var entries []*LedgerEntry
	query := `SELECT * FROM ledger_entries ` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT $6 OFFSET $7
	`
	args = append(args, perPage, (page-1)*perPage)
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
