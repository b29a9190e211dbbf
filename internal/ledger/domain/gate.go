package domain

import (
	"time"

	"github.com/labstock/labstock-backend/pkg/actor"
)

// ReasonType classifies a gate decision.
type ReasonType string

const (
	ReasonAllocatable           ReasonType = "allocatable"
	ReasonDateExpiredAdminOnly  ReasonType = "date_expired_admin_only"
	ReasonDateExpiredCompletely ReasonType = "date_expired_completely"
	ReasonFullyAllocated        ReasonType = "fully_allocated"
	ReasonNoItems               ReasonType = "no_items"
)

// GateDecision is the outcome of the date/permission gate.
type GateDecision struct {
	Allowed       bool       `json:"allowed"`
	ReasonType    ReasonType `json:"reason_type"`
	DaysRemaining int        `json:"days_remaining,omitempty"`
	DaysOverdue   int        `json:"days_overdue,omitempty"`
}

// GateInput carries everything the gate decides on. The gate is a pure
// function: it never reads the clock or the database itself.
type GateInput struct {
	ExperimentDate time.Time
	Now            time.Time
	Role           actor.Role
	AdminOverride  bool
	OverrideReason string
	// WasDisabled marks a line that was administratively excluded and
	// later re-enabled; its catch-up window is independent of the
	// original schedule.
	WasDisabled bool
	// GraceDays is the admin-only window after the experiment date.
	GraceDays int
}

// EvaluateGate applies the business-date rules:
//
//   - standard roles may mutate through the experiment date, inclusive;
//   - admins get GraceDays extra days;
//   - beyond that, only an explicit per-experiment override (with a
//     recorded reason) opens the window again;
//   - re-enabled lines are always in their catch-up window.
func EvaluateGate(in GateInput) GateDecision {
	expDay := dateOnly(in.ExperimentDate)
	nowDay := dateOnly(in.Now)
	overdue := int(nowDay.Sub(expDay).Hours() / 24)

	if overdue <= 0 {
		return GateDecision{
			Allowed:       true,
			ReasonType:    ReasonAllocatable,
			DaysRemaining: -overdue,
		}
	}

	if in.WasDisabled {
		return GateDecision{
			Allowed:     true,
			ReasonType:  ReasonAllocatable,
			DaysOverdue: overdue,
		}
	}

	if overdue <= in.GraceDays {
		if in.Role.IsAdmin() {
			return GateDecision{
				Allowed:     true,
				ReasonType:  ReasonAllocatable,
				DaysOverdue: overdue,
			}
		}
		return GateDecision{
			Allowed:     false,
			ReasonType:  ReasonDateExpiredAdminOnly,
			DaysOverdue: overdue,
		}
	}

	if in.AdminOverride && in.OverrideReason != "" {
		return GateDecision{
			Allowed:     true,
			ReasonType:  ReasonAllocatable,
			DaysOverdue: overdue,
		}
	}

	return GateDecision{
		Allowed:     false,
		ReasonType:  ReasonDateExpiredCompletely,
		DaysOverdue: overdue,
	}
}

// GateForLine runs the date gate for one item line of an experiment,
// layering the line-level reasons on top of the date rules.
func GateForLine(exp *Experiment, line *ItemLine, role actor.Role, now time.Time, graceDays int) GateDecision {
	if len(exp.EnabledItems()) == 0 {
		return GateDecision{Allowed: false, ReasonType: ReasonNoItems}
	}
	if line.FullyAllocated() {
		return GateDecision{Allowed: false, ReasonType: ReasonFullyAllocated}
	}

	overrideReason := ""
	if exp.OverrideReason != nil {
		overrideReason = *exp.OverrideReason
	}

	return EvaluateGate(GateInput{
		ExperimentDate: exp.Date,
		Now:            now,
		Role:           role,
		AdminOverride:  exp.AdminOverride,
		OverrideReason: overrideReason,
		WasDisabled:    line.WasDisabled,
		GraceDays:      graceDays,
	})
}

// GateForExperiment computes the experiment-level decision used for the
// allocation-status cache: no enabled lines and full allocation are checked
// before the date rules.
func GateForExperiment(exp *Experiment, role actor.Role, now time.Time, graceDays int) GateDecision {
	enabled := exp.EnabledItems()
	if len(enabled) == 0 {
		return GateDecision{Allowed: false, ReasonType: ReasonNoItems}
	}

	allFull := true
	for _, l := range enabled {
		if !l.FullyAllocated() {
			allFull = false
			break
		}
	}
	if allFull {
		return GateDecision{Allowed: false, ReasonType: ReasonFullyAllocated}
	}

	overrideReason := ""
	if exp.OverrideReason != nil {
		overrideReason = *exp.OverrideReason
	}

	return EvaluateGate(GateInput{
		ExperimentDate: exp.Date,
		Now:            now,
		Role:           role,
		AdminOverride:  exp.AdminOverride,
		OverrideReason: overrideReason,
		GraceDays:      graceDays,
	})
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
