package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/pkg/database"
	"github.com/labstock/labstock-backend/pkg/errors"
)

// RequestRepository persists the request aggregate: the request row, its
// experiments and their item lines. Allocation/return histories live as
// JSONB on the item line row, mirroring the embedded document layout the
// rest of the ledger assumes.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a request with its experiments and item lines.
func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = domain.StatusPending
	}

	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO requests (id, faculty_id, lab_id, status)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at
		`
		if err := tx.QueryRowxContext(ctx, query,
			req.ID, req.FacultyID, req.LabID, req.Status,
		).Scan(&req.CreatedAt, &req.UpdatedAt); err != nil {
			return err
		}

		for _, exp := range req.Experiments {
			if exp.ID == "" {
				exp.ID = uuid.New().String()
			}
			exp.RequestID = req.ID
			if exp.Status == "" {
				exp.Status = req.Status
			}

			query := `
				INSERT INTO experiments (
					id, request_id, experiment_ref, course_ref, scheduled_date, status,
					can_allocate, reason, reason_type, admin_override,
					override_reason, override_by, override_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
				RETURNING created_at, updated_at
			`
			if err := tx.QueryRowxContext(ctx, query,
				exp.ID, exp.RequestID, exp.ExperimentRef, exp.CourseRef, exp.Date, exp.Status,
				exp.CanAllocate, exp.Reason, exp.ReasonType, exp.AdminOverride,
				exp.OverrideReason, exp.OverrideBy, exp.OverrideAt,
			).Scan(&exp.CreatedAt, &exp.UpdatedAt); err != nil {
				return err
			}

			for _, line := range exp.Items {
				if line.ID == "" {
					line.ID = uuid.New().String()
				}
				line.ExperimentID = exp.ID

				query := `
					INSERT INTO request_items (
						id, experiment_id, item_type, product_id, variant,
						quantity, original_quantity, allocated_quantity,
						requested_count, allocated_count,
						is_allocated, is_disabled, disabled_reason, was_disabled,
						allocation_history, return_history
					) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
					RETURNING created_at, updated_at
				`
				if err := tx.QueryRowxContext(ctx, query,
					line.ID, line.ExperimentID, line.ItemType, line.ProductID, line.Variant,
					line.Quantity, line.OriginalQuantity, line.AllocatedQuantity,
					line.RequestedCount, line.AllocatedCount,
					line.IsAllocated, line.IsDisabled, line.DisabledReason, line.WasDisabled,
					line.AllocationHistory, line.ReturnHistory,
				).Scan(&line.CreatedAt, &line.UpdatedAt); err != nil {
					return err
				}
			}
		}

		return nil
	})
}

// GetByID loads a request with all experiments and item lines.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	var req domain.Request
	if err := r.db.GetContext(ctx, &req, `SELECT * FROM requests WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("request")
		}
		return nil, err
	}

	var experiments []*domain.Experiment
	query := `SELECT * FROM experiments WHERE request_id = $1 ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &experiments, query, id); err != nil {
		return nil, err
	}

	var lines []*domain.ItemLine
	query = `
		SELECT i.* FROM request_items i
		JOIN experiments e ON e.id = i.experiment_id
		WHERE e.request_id = $1
		ORDER BY i.created_at, i.id
	`
	if err := r.db.SelectContext(ctx, &lines, query, id); err != nil {
		return nil, err
	}

	byExperiment := make(map[string]*domain.Experiment, len(experiments))
	for _, exp := range experiments {
		byExperiment[exp.ID] = exp
	}
	for _, line := range lines {
		if exp, ok := byExperiment[line.ExperimentID]; ok {
			exp.Items = append(exp.Items, line)
		}
	}
	req.Experiments = experiments

	return &req, nil
}

// UpdateItemLine writes back an item line's allocation state, histories and
// flags. Lines are never deleted; a fully returned line keeps its history.
func (r *RequestRepository) UpdateItemLine(ctx context.Context, tx *sqlx.Tx, line *domain.ItemLine) error {
	query := `
		UPDATE request_items SET
			quantity = $2, original_quantity = $3, allocated_quantity = $4,
			requested_count = $5, allocated_count = $6,
			is_allocated = $7, is_disabled = $8, disabled_reason = $9, was_disabled = $10,
			allocation_history = $11, return_history = $12,
			updated_at = NOW()
		WHERE id = $1
	`

	args := []interface{}{
		line.ID, line.Quantity, line.OriginalQuantity, line.AllocatedQuantity,
		line.RequestedCount, line.AllocatedCount,
		line.IsAllocated, line.IsDisabled, line.DisabledReason, line.WasDisabled,
		line.AllocationHistory, line.ReturnHistory,
	}

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, query, args...)
	} else {
		result, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("item line")
	}
	return nil
}

// GetItemLine loads a single item line together with its experiment and
// request identifiers.
func (r *RequestRepository) GetItemLine(ctx context.Context, itemLineID string) (*domain.ItemLine, error) {
	var line domain.ItemLine
	query := `SELECT * FROM request_items WHERE id = $1`
	if err := r.db.GetContext(ctx, &line, query, itemLineID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("item line")
		}
		return nil, err
	}
	return &line, nil
}

// UpdateExperimentDecision writes the allocation-status decision cache and
// the experiment's fulfillment status.
func (r *RequestRepository) UpdateExperimentDecision(ctx context.Context, exp *domain.Experiment) error {
	query := `
		UPDATE experiments SET
			status = $2, can_allocate = $3, reason = $4, reason_type = $5,
			admin_override = $6, override_reason = $7, override_by = $8, override_at = $9,
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		exp.ID, exp.Status, exp.CanAllocate, exp.Reason, exp.ReasonType,
		exp.AdminOverride, exp.OverrideReason, exp.OverrideBy, exp.OverrideAt,
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("experiment")
	}
	return nil
}

// UpdateStatuses persists recomputed request and experiment statuses.
func (r *RequestRepository) UpdateStatuses(ctx context.Context, req *domain.Request) error {
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE requests SET status = $2, updated_at = NOW() WHERE id = $1`,
			req.ID, req.Status,
		); err != nil {
			return err
		}
		for _, exp := range req.Experiments {
			if _, err := tx.ExecContext(ctx,
				`UPDATE experiments SET status = $2, updated_at = NOW() WHERE id = $1`,
				exp.ID, exp.Status,
			); err != nil {
				return err
			}
		}
		return nil
	})
}
