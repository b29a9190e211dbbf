package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/labstock/labstock-backend/pkg/database"
	"github.com/labstock/labstock-backend/pkg/errors"
)

// StockRecord is one product-variant pool at one location. Central-store
// chemical stock keeps one row per received batch (distinct expiry dates);
// lab-side and non-perishable stock is pooled into a single row with a NULL
// expiry.
type StockRecord struct {
	ID         string          `db:"id" json:"id"`
	ProductID  string          `db:"product_id" json:"product_id"`
	Variant    string          `db:"variant" json:"variant"`
	Location   string          `db:"location" json:"location"`
	Quantity   decimal.Decimal `db:"quantity" json:"quantity"`
	ExpiryDate *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	IsActive   bool            `db:"is_active" json:"is_active"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// StockLevel is an aggregated read model for reporting collaborators.
type StockLevel struct {
	ProductID string          `db:"product_id" json:"product_id"`
	Variant   string          `db:"variant" json:"variant"`
	Location  string          `db:"location" json:"location"`
	Quantity  decimal.Decimal `db:"quantity" json:"quantity"`
}

// StockRepository handles stock record persistence
type StockRepository struct {
	db *database.DB
}

// NewStockRepository creates a new stock repository
func NewStockRepository(db *database.DB) *StockRepository {
	return &StockRepository{db: db}
}

// Create inserts a new stock record (goods receipt / batch entry).
func (r *StockRepository) Create(ctx context.Context, tx *sqlx.Tx, rec *StockRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_records (
			id, product_id, variant, location, quantity, expiry_date, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	args := []interface{}{
		rec.ID, rec.ProductID, rec.Variant, rec.Location, rec.Quantity,
		rec.ExpiryDate, rec.IsActive,
	}

	if tx != nil {
		return tx.QueryRowxContext(ctx, query, args...).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	}
	return r.db.QueryRowxContext(ctx, query, args...).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

// GetByID gets a stock record by ID
func (r *StockRepository) GetByID(ctx context.Context, id string) (*StockRecord, error) {
	var rec StockRecord
	query := `SELECT * FROM stock_records WHERE id = $1`
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock record")
		}
		return nil, err
	}
	return &rec, nil
}

// ListAllocatable lists the candidate source records for a product+variant
// at a location, in FIFO order: earliest expiry first, NULL expiries last,
// same-expiry batches by receipt order so consumption is deterministic.
func (r *StockRepository) ListAllocatable(ctx context.Context, productID, variant, location string) ([]*StockRecord, error) {
	var recs []*StockRecord
	query := `
		SELECT * FROM stock_records
		WHERE product_id = $1 AND variant = $2 AND location = $3
		AND is_active = true AND quantity > 0
		ORDER BY expiry_date ASC NULLS LAST, created_at ASC, id ASC
	`
	if err := r.db.SelectContext(ctx, &recs, query, productID, variant, location); err != nil {
		return nil, err
	}
	return recs, nil
}

// DeductGuarded decrements a record's quantity under a quantity >= amount
// guard. Returns false when the guard fails, meaning a concurrent
// allocation drained the record first; the caller must re-read and
// recompute rather than retry with stale data.
func (r *StockRepository) DeductGuarded(ctx context.Context, tx *sqlx.Tx, id string, amount decimal.Decimal) (bool, error) {
	query := `
		UPDATE stock_records
		SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND quantity >= $2
	`

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, query, id, amount)
	} else {
		result, err = r.db.ExecContext(ctx, query, id, amount)
	}
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// AddToLocation upserts the pooled (NULL-expiry) record for a
// product+variant at a location and increments it by amount.
func (r *StockRepository) AddToLocation(ctx context.Context, tx *sqlx.Tx, productID, variant, location string, amount decimal.Decimal) error {
	query := `
		INSERT INTO stock_records (id, product_id, variant, location, quantity, expiry_date, is_active)
		VALUES ($1, $2, $3, $4, $5, NULL, true)
		ON CONFLICT (product_id, variant, location) WHERE expiry_date IS NULL
		DO UPDATE SET quantity = stock_records.quantity + EXCLUDED.quantity, updated_at = NOW()
	`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, uuid.New().String(), productID, variant, location, amount)
	} else {
		_, err = r.db.ExecContext(ctx, query, uuid.New().String(), productID, variant, location, amount)
	}
	return err
}

// GetPooled returns the pooled (NULL-expiry) record for a product+variant
// at a location, or a not-found error.
func (r *StockRepository) GetPooled(ctx context.Context, productID, variant, location string) (*StockRecord, error) {
	var rec StockRecord
	query := `
		SELECT * FROM stock_records
		WHERE product_id = $1 AND variant = $2 AND location = $3
		AND expiry_date IS NULL AND is_active = true
	`
	if err := r.db.GetContext(ctx, &rec, query, productID, variant, location); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock record")
		}
		return nil, err
	}
	return &rec, nil
}

// Levels aggregates current quantities, optionally filtered by location
// and/or product.
func (r *StockRepository) Levels(ctx context.Context, location, productID string) ([]*StockLevel, error) {
	var levels []*StockLevel
	query := `
		SELECT product_id, variant, location, SUM(quantity) AS quantity
		FROM stock_records
		WHERE is_active = true
		AND ($1 = '' OR location = $1)
		AND ($2 = '' OR product_id = $2)
		GROUP BY product_id, variant, location
		ORDER BY product_id, variant, location
	`
	if err := r.db.SelectContext(ctx, &levels, query, location, productID); err != nil {
		return nil, err
	}
	return levels, nil
}

// GetExpiringBatches gets batches expiring within days, earliest first.
func (r *StockRepository) GetExpiringBatches(ctx context.Context, withinDays int) ([]*StockRecord, error) {
	var recs []*StockRecord
	query := `
		SELECT * FROM stock_records
		WHERE is_active = true AND quantity > 0
		AND expiry_date IS NOT NULL
		AND expiry_date <= NOW() + INTERVAL '1 day' * $1
		ORDER BY expiry_date
	`
	if err := r.db.SelectContext(ctx, &recs, query, withinDays); err != nil {
		return nil, err
	}
	return recs, nil
}
