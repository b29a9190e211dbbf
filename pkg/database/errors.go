package database

import (
	"strings"

	"github.com/lib/pq"

	"github.com/labstock/labstock-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict("a record with these values already exists")

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_non_negative"):
		// The database backstops the guarded decrement: stock can never
		// go below zero even if a write bypassed the guard.
		return errors.InsufficientStock("stock record quantity would go negative")

	case strings.Contains(constraint, "transaction_type_valid"):
		return errors.Validation(map[string]string{
			"transaction_type": "must be one of: entry, issue, allocation, transfer, return, broken, maintenance",
		})

	case strings.Contains(constraint, "unit_status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: available, issued, assigned, maintenance, discarded",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}
