package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/labstock/labstock-backend/pkg/errors"
)

// AllocationRecord is one allocation event on an item line. For quantity
// pools, Quantity is the amount originally taken and Remaining the part not
// yet returned. For equipment, ItemIDs holds the unit ids still out; ids are
// removed as they come back, while ReturnRecord preserves what came back
// when. The history as a whole is the authoritative allocation state.
type AllocationRecord struct {
	Date        time.Time       `json:"date"`
	Quantity    decimal.Decimal `json:"quantity"`
	Remaining   decimal.Decimal `json:"remaining"`
	ItemIDs     []string        `json:"item_ids,omitempty"`
	AllocatedBy string          `json:"allocated_by"`
}

// ReturnRecord is one return event on an item line.
type ReturnRecord struct {
	Date       time.Time       `json:"date"`
	Quantity   decimal.Decimal `json:"quantity"`
	ItemIDs    []string        `json:"item_ids,omitempty"`
	ReturnedBy string          `json:"returned_by"`
}

// AllocationHistory is stored as a JSONB column on the item line row.
type AllocationHistory []AllocationRecord

// Value implements driver.Valuer
func (h AllocationHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	return json.Marshal(h)
}

// Scan implements sql.Scanner
func (h *AllocationHistory) Scan(src interface{}) error {
	return scanJSON(src, h)
}

// ReturnHistory is stored as a JSONB column on the item line row.
type ReturnHistory []ReturnRecord

// Value implements driver.Valuer
func (h ReturnHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	return json.Marshal(h)
}

// Scan implements sql.Scanner
func (h *ReturnHistory) Scan(src interface{}) error {
	return scanJSON(src, h)
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON history", src)
	}
}

// ItemLine is one requested quantity/count of a specific product within one
// experiment. It is the unit the allocation and return engines operate on.
// Lines are never deleted, only zeroed out, to preserve audit history.
type ItemLine struct {
	ID           string   `db:"id" json:"id"`
	ExperimentID string   `db:"experiment_id" json:"experiment_id"`
	ItemType     ItemType `db:"item_type" json:"item_type"`
	ProductID    string   `db:"product_id" json:"product_id"`
	Variant      string   `db:"variant" json:"variant"`

	// Quantity pools (chemical/glassware)
	Quantity          decimal.Decimal     `db:"quantity" json:"quantity"`
	OriginalQuantity  decimal.NullDecimal `db:"original_quantity" json:"original_quantity,omitempty"`
	AllocatedQuantity decimal.Decimal     `db:"allocated_quantity" json:"allocated_quantity"`

	// Serialized units (equipment)
	RequestedCount int `db:"requested_count" json:"requested_count"`
	AllocatedCount int `db:"allocated_count" json:"allocated_count"`

	IsAllocated    bool    `db:"is_allocated" json:"is_allocated"`
	IsDisabled     bool    `db:"is_disabled" json:"is_disabled"`
	DisabledReason *string `db:"disabled_reason" json:"disabled_reason,omitempty"`
	WasDisabled    bool    `db:"was_disabled" json:"was_disabled"`

	AllocationHistory AllocationHistory `db:"allocation_history" json:"allocation_history"`
	ReturnHistory     ReturnHistory     `db:"return_history" json:"return_history"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OutstandingQuantity is the pool amount currently allocated and not yet
// returned, derived from the history.
func (l *ItemLine) OutstandingQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, rec := range l.AllocationHistory {
		total = total.Add(rec.Remaining)
	}
	return total
}

// ActiveItemIDs are the equipment unit ids currently out, in allocation
// order. An id appears in at most one history entry at a time.
func (l *ItemLine) ActiveItemIDs() []string {
	var ids []string
	for _, rec := range l.AllocationHistory {
		ids = append(ids, rec.ItemIDs...)
	}
	return ids
}

// HasActiveItemID reports whether the given equipment unit id is currently
// allocated through this line.
func (l *ItemLine) HasActiveItemID(id string) bool {
	for _, rec := range l.AllocationHistory {
		for _, have := range rec.ItemIDs {
			if have == id {
				return true
			}
		}
	}
	return false
}

// RecomputeAllocated refreshes the cached counters and the isAllocated flag
// from the history. Every mutation path must call this; the caches are
// derived values, never written directly.
func (l *ItemLine) RecomputeAllocated() {
	l.AllocatedQuantity = l.OutstandingQuantity()
	l.AllocatedCount = len(l.ActiveItemIDs())
	if l.ItemType.Serialized() {
		l.IsAllocated = l.AllocatedCount > 0
	} else {
		l.IsAllocated = l.AllocatedQuantity.IsPositive()
	}
}

// FullyAllocated reports whether nothing remains to allocate on this line.
func (l *ItemLine) FullyAllocated() bool {
	if l.ItemType.Serialized() {
		return l.AllocatedCount >= l.RequestedCount
	}
	return l.AllocatedQuantity.GreaterThanOrEqual(l.Quantity)
}

// RemainingQuantity is the pool amount still to be allocated.
func (l *ItemLine) RemainingQuantity() decimal.Decimal {
	rem := l.Quantity.Sub(l.AllocatedQuantity)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// RemainingCount is the number of equipment units still to be allocated.
func (l *ItemLine) RemainingCount() int {
	rem := l.RequestedCount - l.AllocatedCount
	if rem < 0 {
		return 0
	}
	return rem
}

// RecordAllocation appends an allocation event and refreshes the caches.
func (l *ItemLine) RecordAllocation(at time.Time, quantity decimal.Decimal, itemIDs []string, allocatedBy string) {
	l.AllocationHistory = append(l.AllocationHistory, AllocationRecord{
		Date:        at,
		Quantity:    quantity,
		Remaining:   quantity,
		ItemIDs:     itemIDs,
		AllocatedBy: allocatedBy,
	})
	l.RecomputeAllocated()
}

// UnwindQuantity reverses amount from the allocation history, most recent
// entries first, and appends a return record. The original per-entry
// quantity is preserved; only the outstanding remainder shrinks. A return
// exceeding the outstanding amount is rejected without mutating the line.
func (l *ItemLine) UnwindQuantity(at time.Time, amount decimal.Decimal, returnedBy string) error {
	if !amount.IsPositive() {
		return errors.BadRequest("return amount must be positive")
	}
	outstanding := l.OutstandingQuantity()
	if amount.GreaterThan(outstanding) {
		return errors.ReturnExceedsAllocated(fmt.Sprintf(
			"return of %s exceeds outstanding allocation of %s", amount, outstanding))
	}

	left := amount
	for i := len(l.AllocationHistory) - 1; i >= 0 && left.IsPositive(); i-- {
		rec := &l.AllocationHistory[i]
		take := decimal.Min(rec.Remaining, left)
		rec.Remaining = rec.Remaining.Sub(take)
		left = left.Sub(take)
	}

	l.ReturnHistory = append(l.ReturnHistory, ReturnRecord{
		Date:       at,
		Quantity:   amount,
		ReturnedBy: returnedBy,
	})
	l.RecomputeAllocated()
	return nil
}

// UnwindItemIDs removes the returned equipment unit ids from whichever
// history entries still reference them and appends a return record. Every
// requested id must currently be out through this line.
func (l *ItemLine) UnwindItemIDs(at time.Time, itemIDs []string, returnedBy string) error {
	if len(itemIDs) == 0 {
		return errors.BadRequest("no item ids to return")
	}
	for _, id := range itemIDs {
		if !l.HasActiveItemID(id) {
			return errors.ReturnExceedsAllocated(fmt.Sprintf(
				"item %s is not currently allocated through this line", id))
		}
	}

	returned := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		returned[id] = true
	}
	for i := range l.AllocationHistory {
		rec := &l.AllocationHistory[i]
		kept := rec.ItemIDs[:0]
		for _, id := range rec.ItemIDs {
			if !returned[id] {
				kept = append(kept, id)
			}
		}
		rec.ItemIDs = kept
	}

	l.ReturnHistory = append(l.ReturnHistory, ReturnRecord{
		Date:       at,
		ItemIDs:    itemIDs,
		ReturnedBy: returnedBy,
	})
	l.RecomputeAllocated()
	return nil
}

// Disable administratively excludes the line from allocation and status
// computation. Disabling an allocated line is forbidden: isDisabled and
// isAllocated are mutually exclusive at any instant.
func (l *ItemLine) Disable(reason string) error {
	if l.IsAllocated {
		return errors.DisableAllocated("return the allocated stock before disabling this line")
	}
	l.IsDisabled = true
	l.DisabledReason = &reason
	return nil
}

// Enable re-includes a disabled line. WasDisabled stays true forever after,
// which grants the line a catch-up allocation window past the ordinary
// date cutoff.
func (l *ItemLine) Enable() {
	if !l.IsDisabled {
		return
	}
	l.IsDisabled = false
	l.DisabledReason = nil
	l.WasDisabled = true
}

// SetQuantity applies an administrative quantity edit, snapshotting the
// original requested amount the first time the line is touched.
func (l *ItemLine) SetQuantity(quantity decimal.Decimal) error {
	if quantity.LessThan(l.AllocatedQuantity) {
		return errors.Conflict("requested quantity cannot drop below the allocated amount")
	}
	if !l.OriginalQuantity.Valid {
		l.OriginalQuantity = decimal.NullDecimal{Decimal: l.Quantity, Valid: true}
	}
	l.Quantity = quantity
	return nil
}

// AllocationStatus is the per-experiment decision cache written by the gate
// and the override operation.
type AllocationStatus struct {
	CanAllocate    bool       `db:"can_allocate" json:"can_allocate"`
	Reason         string     `db:"reason" json:"reason,omitempty"`
	ReasonType     ReasonType `db:"reason_type" json:"reason_type,omitempty"`
	AdminOverride  bool       `db:"admin_override" json:"admin_override"`
	OverrideReason *string    `db:"override_reason" json:"override_reason,omitempty"`
	OverrideBy     *string    `db:"override_by" json:"override_by,omitempty"`
	OverrideAt     *time.Time `db:"override_at" json:"override_at,omitempty"`
}

// Experiment is one scheduled usage inside a request, owning its item lines.
type Experiment struct {
	ID            string        `db:"id" json:"id"`
	RequestID     string        `db:"request_id" json:"request_id"`
	ExperimentRef string        `db:"experiment_ref" json:"experiment_ref"`
	CourseRef     string        `db:"course_ref" json:"course_ref"`
	Date          time.Time     `db:"scheduled_date" json:"scheduled_date"`
	Status        RequestStatus `db:"status" json:"status"`

	AllocationStatus

	Items []*ItemLine `json:"items"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EnabledItems returns the lines that participate in allocation and status
// computation.
func (e *Experiment) EnabledItems() []*ItemLine {
	var out []*ItemLine
	for _, l := range e.Items {
		if !l.IsDisabled {
			out = append(out, l)
		}
	}
	return out
}

// FindItem returns the line with the given id, or nil.
func (e *Experiment) FindItem(itemLineID string) *ItemLine {
	for _, l := range e.Items {
		if l.ID == itemLineID {
			return l
		}
	}
	return nil
}

// GrantOverride records a per-experiment admin override. The reason is
// mandatory; override state is never granted implicitly.
func (e *Experiment) GrantOverride(reason, grantedBy string, at time.Time) error {
	if reason == "" {
		return errors.OverrideReasonRequired()
	}
	e.AdminOverride = true
	e.OverrideReason = &reason
	e.OverrideBy = &grantedBy
	e.OverrideAt = &at
	return nil
}

// Request owns an ordered list of experiments for one faculty member and
// one lab.
type Request struct {
	ID        string        `db:"id" json:"id"`
	FacultyID string        `db:"faculty_id" json:"faculty_id"`
	LabID     string        `db:"lab_id" json:"lab_id"`
	Status    RequestStatus `db:"status" json:"status"`

	Experiments []*Experiment `json:"experiments"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// FindExperiment returns the experiment with the given id, or nil.
func (r *Request) FindExperiment(experimentID string) *Experiment {
	for _, e := range r.Experiments {
		if e.ID == experimentID {
			return e
		}
	}
	return nil
}
