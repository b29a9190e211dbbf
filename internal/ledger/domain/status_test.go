package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func pooledLine(quantity, allocated string) *ItemLine {
	l := &ItemLine{ItemType: ItemTypeChemical, Quantity: dec(quantity)}
	l.AllocatedQuantity = dec(allocated)
	l.IsAllocated = l.AllocatedQuantity.IsPositive()
	return l
}

func TestAggregateExperimentStatus(t *testing.T) {
	tests := []struct {
		name  string
		items []*ItemLine
		want  RequestStatus
	}{
		{
			name:  "nothing allocated",
			items: []*ItemLine{pooledLine("10", "0"), pooledLine("5", "0")},
			want:  StatusApproved,
		},
		{
			name:  "some allocated",
			items: []*ItemLine{pooledLine("10", "10"), pooledLine("5", "0")},
			want:  StatusPartiallyFulfilled,
		},
		{
			name:  "all allocated",
			items: []*ItemLine{pooledLine("10", "10"), pooledLine("5", "5")},
			want:  StatusFulfilled,
		},
		{
			name: "disabled open line does not block fulfillment",
			items: func() []*ItemLine {
				disabled := pooledLine("99", "0")
				disabled.IsDisabled = true
				return []*ItemLine{pooledLine("10", "10"), disabled}
			}(),
			want: StatusFulfilled,
		},
		{
			name: "only disabled lines",
			items: func() []*ItemLine {
				disabled := pooledLine("10", "0")
				disabled.IsDisabled = true
				return []*ItemLine{disabled}
			}(),
			want: StatusApproved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := &Experiment{Items: tt.items}
			assert.Equal(t, tt.want, AggregateExperimentStatus(exp))
		})
	}
}

func TestAggregateExperimentStatus_EquipmentCounts(t *testing.T) {
	line := &ItemLine{ItemType: ItemTypeEquipment, RequestedCount: 2, AllocatedCount: 2, IsAllocated: true}
	exp := &Experiment{Items: []*ItemLine{line}}
	assert.Equal(t, StatusFulfilled, AggregateExperimentStatus(exp))

	line.AllocatedCount = 1
	assert.Equal(t, StatusPartiallyFulfilled, AggregateExperimentStatus(exp))
}

func TestAggregateRequestStatus(t *testing.T) {
	fulfilled := &Experiment{Items: []*ItemLine{pooledLine("10", "10")}}
	open := &Experiment{Items: []*ItemLine{pooledLine("10", "0")}}

	req := &Request{Status: StatusApproved, Experiments: []*Experiment{fulfilled, open}}
	assert.Equal(t, StatusPartiallyFulfilled, AggregateRequestStatus(req))

	req.Experiments = []*Experiment{fulfilled}
	assert.Equal(t, StatusFulfilled, AggregateRequestStatus(req))

	req.Experiments = []*Experiment{open}
	assert.Equal(t, StatusApproved, AggregateRequestStatus(req))
}

func TestAggregateRequestStatus_TerminalStatusesUntouched(t *testing.T) {
	for _, status := range []RequestStatus{StatusPending, StatusRejected} {
		req := &Request{Status: status, Experiments: []*Experiment{
			{Items: []*ItemLine{pooledLine("10", "10")}},
		}}
		assert.Equal(t, status, AggregateRequestStatus(req))
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	exp := &Experiment{Items: []*ItemLine{
		pooledLine("10", "10"),
		{ItemType: ItemTypeEquipment, RequestedCount: 1, AllocatedCount: 0},
	}}
	req := &Request{Status: StatusApproved, Experiments: []*Experiment{exp}}

	first := AggregateRequestStatus(req)
	req.Status = first
	second := AggregateRequestStatus(req)
	assert.Equal(t, first, second)
}
