package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/pkg/database"
	"github.com/labstock/labstock-backend/pkg/errors"
)

// EquipmentUnit is one serialized physical item. Equipment never pools:
// allocation and return operate on sets of unit ids.
type EquipmentUnit struct {
	ID           string            `db:"id" json:"id"`
	ProductID    string            `db:"product_id" json:"product_id"`
	SerialNumber string            `db:"serial_number" json:"serial_number"`
	Status       domain.UnitStatus `db:"status" json:"status"`
	Location     string            `db:"location" json:"location"`
	IsAllocated  bool              `db:"is_allocated" json:"is_allocated"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// EquipmentRepository handles serialized unit persistence
type EquipmentRepository struct {
	db *database.DB
}

// NewEquipmentRepository creates a new equipment repository
func NewEquipmentRepository(db *database.DB) *EquipmentRepository {
	return &EquipmentRepository{db: db}
}

// Create registers a new unit
func (r *EquipmentRepository) Create(ctx context.Context, tx *sqlx.Tx, unit *EquipmentUnit) error {
	query := `
		INSERT INTO equipment_units (id, product_id, serial_number, status, location, is_allocated)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	args := []interface{}{
		unit.ID, unit.ProductID, unit.SerialNumber, unit.Status, unit.Location, unit.IsAllocated,
	}

	if tx != nil {
		return tx.QueryRowxContext(ctx, query, args...).Scan(&unit.CreatedAt, &unit.UpdatedAt)
	}
	return r.db.QueryRowxContext(ctx, query, args...).Scan(&unit.CreatedAt, &unit.UpdatedAt)
}

// GetByID gets a unit by ID
func (r *EquipmentRepository) GetByID(ctx context.Context, id string) (*EquipmentUnit, error) {
	var unit EquipmentUnit
	query := `SELECT * FROM equipment_units WHERE id = $1`
	if err := r.db.GetContext(ctx, &unit, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("equipment unit")
		}
		return nil, err
	}
	return &unit, nil
}

// ListAvailable lists unallocated available units of a product at a
// location, oldest first, capped at limit.
func (r *EquipmentRepository) ListAvailable(ctx context.Context, productID, location string, limit int) ([]*EquipmentUnit, error) {
	var units []*EquipmentUnit
	query := `
		SELECT * FROM equipment_units
		WHERE product_id = $1 AND location = $2
		AND status = 'available' AND is_allocated = false
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`
	if err := r.db.SelectContext(ctx, &units, query, productID, location, limit); err != nil {
		return nil, err
	}
	return units, nil
}

// Claim flips a unit to issued+allocated, guarded so the same unit cannot
// be selected by two concurrent allocations. Returns false when the unit
// was claimed by someone else first.
func (r *EquipmentRepository) Claim(ctx context.Context, tx *sqlx.Tx, unitID, toLocation string) (bool, error) {
	query := `
		UPDATE equipment_units
		SET status = 'issued', is_allocated = true, location = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'available' AND is_allocated = false
	`

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, query, unitID, toLocation)
	} else {
		result, err = r.db.ExecContext(ctx, query, unitID, toLocation)
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

// Release flips an issued unit back to available at the destination
// location. Guarded on the allocated state so a double return is visible.
func (r *EquipmentRepository) Release(ctx context.Context, tx *sqlx.Tx, unitID, toLocation string) (bool, error) {
	query := `
		UPDATE equipment_units
		SET status = 'available', is_allocated = false, location = $2, updated_at = NOW()
		WHERE id = $1 AND is_allocated = true
	`

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, query, unitID, toLocation)
	} else {
		result, err = r.db.ExecContext(ctx, query, unitID, toLocation)
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

// SetMaintenance moves an unallocated unit in or out of maintenance.
func (r *EquipmentRepository) SetMaintenance(ctx context.Context, unitID string, inMaintenance bool) error {
	newStatus := domain.UnitAvailable
	fromStatus := domain.UnitMaintenance
	if inMaintenance {
		newStatus = domain.UnitMaintenance
		fromStatus = domain.UnitAvailable
	}

	query := `
		UPDATE equipment_units
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND is_allocated = false
	`
	result, err := r.db.ExecContext(ctx, query, unitID, newStatus, fromStatus)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("unit is allocated or not in the expected status")
	}
	return nil
}
