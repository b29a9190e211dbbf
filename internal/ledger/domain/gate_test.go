package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/labstock/labstock-backend/pkg/actor"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEvaluateGate_BeforeAndOnDate(t *testing.T) {
	expDate := day(2026, time.March, 10)

	tests := []struct {
		name          string
		now           time.Time
		daysRemaining int
	}{
		{"three days before", day(2026, time.March, 7), 3},
		{"on the date", day(2026, time.March, 10), 0},
		{"late evening of the date", time.Date(2026, time.March, 10, 23, 55, 0, 0, time.UTC), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := EvaluateGate(GateInput{
				ExperimentDate: expDate,
				Now:            tt.now,
				Role:           actor.RoleFaculty,
				GraceDays:      2,
			})
			assert.True(t, d.Allowed)
			assert.Equal(t, ReasonAllocatable, d.ReasonType)
			assert.Equal(t, tt.daysRemaining, d.DaysRemaining)
		})
	}
}

func TestEvaluateGate_GracePeriodAdminOnly(t *testing.T) {
	expDate := day(2026, time.March, 10)
	oneDayLate := day(2026, time.March, 11)
	twoDaysLate := day(2026, time.March, 12)

	for _, now := range []time.Time{oneDayLate, twoDaysLate} {
		d := EvaluateGate(GateInput{
			ExperimentDate: expDate,
			Now:            now,
			Role:           actor.RoleFaculty,
			GraceDays:      2,
		})
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonDateExpiredAdminOnly, d.ReasonType)

		d = EvaluateGate(GateInput{
			ExperimentDate: expDate,
			Now:            now,
			Role:           actor.RoleLabAssistant,
			GraceDays:      2,
		})
		assert.False(t, d.Allowed, "lab assistant has no grace window")

		d = EvaluateGate(GateInput{
			ExperimentDate: expDate,
			Now:            now,
			Role:           actor.RoleAdmin,
			GraceDays:      2,
		})
		assert.True(t, d.Allowed, "admin allocates during the grace window")
	}
}

func TestEvaluateGate_BeyondGraceRequiresOverride(t *testing.T) {
	expDate := day(2026, time.March, 10)
	threeDaysLate := day(2026, time.March, 13)

	d := EvaluateGate(GateInput{
		ExperimentDate: expDate,
		Now:            threeDaysLate,
		Role:           actor.RoleAdmin,
		GraceDays:      2,
	})
	assert.False(t, d.Allowed, "even admins need an override past the grace window")
	assert.Equal(t, ReasonDateExpiredCompletely, d.ReasonType)
	assert.Equal(t, 3, d.DaysOverdue)

	d = EvaluateGate(GateInput{
		ExperimentDate: expDate,
		Now:            threeDaysLate,
		Role:           actor.RoleFaculty,
		AdminOverride:  true,
		OverrideReason: "make-up session approved by the department",
		GraceDays:      2,
	})
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllocatable, d.ReasonType)
}

func TestEvaluateGate_OverrideWithoutReasonIsIgnored(t *testing.T) {
	d := EvaluateGate(GateInput{
		ExperimentDate: day(2026, time.March, 10),
		Now:            day(2026, time.April, 1),
		Role:           actor.RoleAdmin,
		AdminOverride:  true,
		GraceDays:      2,
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDateExpiredCompletely, d.ReasonType)
}

func TestEvaluateGate_ReEnabledLineCatchesUp(t *testing.T) {
	d := EvaluateGate(GateInput{
		ExperimentDate: day(2026, time.March, 10),
		Now:            day(2026, time.May, 1),
		Role:           actor.RoleFaculty,
		WasDisabled:    true,
		GraceDays:      2,
	})
	assert.True(t, d.Allowed, "a re-enabled line allocates regardless of the schedule")
}

func TestGateForLine_LineLevelReasons(t *testing.T) {
	exp := &Experiment{Date: day(2026, time.March, 10)}

	d := GateForLine(exp, &ItemLine{ItemType: ItemTypeChemical}, actor.RoleAdmin, day(2026, time.March, 9), 2)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoItems, d.ReasonType)

	full := &ItemLine{
		ItemType:          ItemTypeChemical,
		Quantity:          decimal.NewFromInt(5),
		AllocatedQuantity: decimal.NewFromInt(5),
	}
	exp.Items = []*ItemLine{full}
	d = GateForLine(exp, full, actor.RoleAdmin, day(2026, time.March, 9), 2)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonFullyAllocated, d.ReasonType)
}

func TestGateForExperiment(t *testing.T) {
	expDate := day(2026, time.March, 10)

	t.Run("disabled lines do not count", func(t *testing.T) {
		exp := &Experiment{
			Date: expDate,
			Items: []*ItemLine{
				{ItemType: ItemTypeChemical, Quantity: decimal.NewFromInt(5), IsDisabled: true},
			},
		}
		d := GateForExperiment(exp, actor.RoleFaculty, day(2026, time.March, 9), 2)
		assert.Equal(t, ReasonNoItems, d.ReasonType)
	})

	t.Run("fully allocated wins over date", func(t *testing.T) {
		exp := &Experiment{
			Date: expDate,
			Items: []*ItemLine{
				{
					ItemType:          ItemTypeChemical,
					Quantity:          decimal.NewFromInt(5),
					AllocatedQuantity: decimal.NewFromInt(5),
				},
			},
		}
		d := GateForExperiment(exp, actor.RoleFaculty, day(2026, time.April, 1), 2)
		assert.Equal(t, ReasonFullyAllocated, d.ReasonType)
	})

	t.Run("open line falls through to the date rules", func(t *testing.T) {
		exp := &Experiment{
			Date: expDate,
			Items: []*ItemLine{
				{ItemType: ItemTypeChemical, Quantity: decimal.NewFromInt(5)},
			},
		}
		d := GateForExperiment(exp, actor.RoleFaculty, day(2026, time.March, 11), 2)
		assert.Equal(t, ReasonDateExpiredAdminOnly, d.ReasonType)
	})
}
