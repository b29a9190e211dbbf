package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labstock/labstock-backend/internal/ledger/domain"
	"github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/logger"
	"github.com/labstock/labstock-backend/pkg/metrics"
)

func newStatusService(req *domain.Request, now time.Time) (*StatusService, *fakeRequests) {
	requests := &fakeRequests{req: req}
	svc := NewStatusService(requests, NopPublisher{}, metrics.NewNop(), logger.New("test", "test"), 2)
	svc.now = func() time.Time { return now }
	return svc, requests
}

func TestGetRequest_RefreshesDecisions(t *testing.T) {
	line := &domain.ItemLine{
		ID: "line-1", ExperimentID: "exp-1",
		ItemType: domain.ItemTypeChemical, ProductID: "prod-1", Quantity: dec("10"),
	}
	req := approvedRequest(date(2026, time.June, 10), line)
	svc, _ := newStatusService(req, date(2026, time.June, 7))

	got, err := svc.GetRequest(asFaculty(context.Background()), "req-1")
	require.NoError(t, err)

	exp := got.Experiments[0]
	assert.True(t, exp.CanAllocate)
	assert.Equal(t, domain.ReasonAllocatable, exp.ReasonType)
	assert.Contains(t, exp.Reason, "3 day(s)")
}

func TestGetRequest_DecisionDependsOnRole(t *testing.T) {
	line := &domain.ItemLine{
		ID: "line-1", ExperimentID: "exp-1",
		ItemType: domain.ItemTypeChemical, ProductID: "prod-1", Quantity: dec("10"),
	}
	req := approvedRequest(date(2026, time.June, 10), line)
	svc, _ := newStatusService(req, date(2026, time.June, 11))

	got, err := svc.GetRequest(asFaculty(context.Background()), "req-1")
	require.NoError(t, err)
	assert.False(t, got.Experiments[0].CanAllocate)
	assert.Equal(t, domain.ReasonDateExpiredAdminOnly, got.Experiments[0].ReasonType)

	got, err = svc.GetRequest(asAdmin(context.Background()), "req-1")
	require.NoError(t, err)
	assert.True(t, got.Experiments[0].CanAllocate)
}

func TestSetItemDisabled(t *testing.T) {
	line := &domain.ItemLine{
		ID: "line-1", ExperimentID: "exp-1",
		ItemType: domain.ItemTypeChemical, ProductID: "prod-1", Quantity: dec("10"),
	}
	req := approvedRequest(date(2026, time.June, 10), line)
	svc, _ := newStatusService(req, date(2026, time.June, 7))

	t.Run("faculty forbidden", func(t *testing.T) {
		_, err := svc.SetItemDisabled(asFaculty(context.Background()), "req-1", "exp-1", "line-1", true, "x")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrForbidden))
	})

	t.Run("reason required", func(t *testing.T) {
		_, err := svc.SetItemDisabled(asAdmin(context.Background()), "req-1", "exp-1", "line-1", true, "")
		require.Error(t, err)
	})

	t.Run("disable then re-enable sets catch-up flag", func(t *testing.T) {
		got, err := svc.SetItemDisabled(asAdmin(context.Background()), "req-1", "exp-1", "line-1", true, "postponed")
		require.NoError(t, err)
		assert.True(t, got.IsDisabled)

		got, err = svc.SetItemDisabled(asAdmin(context.Background()), "req-1", "exp-1", "line-1", false, "")
		require.NoError(t, err)
		assert.False(t, got.IsDisabled)
		assert.True(t, got.WasDisabled)
	})

	t.Run("allocated line cannot be disabled", func(t *testing.T) {
		line.RecordAllocation(time.Now(), dec("5"), nil, "fac-1")
		_, err := svc.SetItemDisabled(asAdmin(context.Background()), "req-1", "exp-1", "line-1", true, "x")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrDisableAllocated))
	})
}

func TestGrantOverride(t *testing.T) {
	line := &domain.ItemLine{
		ID: "line-1", ExperimentID: "exp-1",
		ItemType: domain.ItemTypeChemical, ProductID: "prod-1", Quantity: dec("10"),
	}
	req := approvedRequest(date(2026, time.June, 10), line)
	svc, _ := newStatusService(req, date(2026, time.July, 1))

	t.Run("admin only", func(t *testing.T) {
		_, err := svc.GrantOverride(asFaculty(context.Background()), "req-1", "exp-1", "reason")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrForbidden))
	})

	t.Run("reason required", func(t *testing.T) {
		_, err := svc.GrantOverride(asAdmin(context.Background()), "req-1", "exp-1", "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrOverrideReasonRequired))
	})

	t.Run("override reopens the window", func(t *testing.T) {
		exp, err := svc.GrantOverride(asAdmin(context.Background()), "req-1", "exp-1", "make-up session")
		require.NoError(t, err)
		assert.True(t, exp.AdminOverride)
		assert.True(t, exp.CanAllocate, "decision refreshed after granting")
	})
}

func TestSetItemQuantity(t *testing.T) {
	line := &domain.ItemLine{
		ID: "line-1", ExperimentID: "exp-1",
		ItemType: domain.ItemTypeChemical, ProductID: "prod-1", Quantity: dec("10"),
	}
	line.RecordAllocation(time.Now(), dec("4"), nil, "fac-1")
	req := approvedRequest(date(2026, time.June, 10), line)
	svc, _ := newStatusService(req, date(2026, time.June, 7))

	_, err := svc.SetItemQuantity(asAdmin(context.Background()), "req-1", "exp-1", "line-1", dec("3"))
	require.Error(t, err, "below the allocated amount")

	got, err := svc.SetItemQuantity(asAdmin(context.Background()), "req-1", "exp-1", "line-1", dec("8"))
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(dec("8")))
	require.True(t, got.OriginalQuantity.Valid)
	assert.True(t, got.OriginalQuantity.Decimal.Equal(dec("10")))
}
