package domain

// AggregateExperimentStatus recomputes an experiment's fulfillment status
// from its current item line states. Disabled lines are excluded from the
// denominator entirely: an experiment can be fulfilled while containing
// disabled lines, because disabling is an explicit administrative removal
// from scope, not a failure.
//
// The function is idempotent: recomputing without intervening mutation
// yields the same result.
func AggregateExperimentStatus(e *Experiment) RequestStatus {
	enabled := e.EnabledItems()
	if len(enabled) == 0 {
		return StatusApproved
	}

	allFull := true
	anyAllocated := false
	for _, l := range enabled {
		if !l.FullyAllocated() {
			allFull = false
		}
		if l.IsAllocated {
			anyAllocated = true
		}
	}

	switch {
	case allFull:
		return StatusFulfilled
	case anyAllocated:
		return StatusPartiallyFulfilled
	default:
		return StatusApproved
	}
}

// AggregateRequestStatus recomputes a request's status from its
// experiments' statuses. Terminal pre-allocation statuses (pending,
// rejected) are left untouched.
func AggregateRequestStatus(r *Request) RequestStatus {
	if !r.Status.Allocatable() {
		return r.Status
	}
	if len(r.Experiments) == 0 {
		return StatusApproved
	}

	allFulfilled := true
	anyProgress := false
	for _, e := range r.Experiments {
		status := AggregateExperimentStatus(e)
		if status != StatusFulfilled {
			allFulfilled = false
		}
		if status == StatusFulfilled || status == StatusPartiallyFulfilled {
			anyProgress = true
		}
	}

	switch {
	case allFulfilled:
		return StatusFulfilled
	case anyProgress:
		return StatusPartiallyFulfilled
	default:
		return StatusApproved
	}
}
