package model

import "testing"

func TestValidateStageTransition_Allowed(t *testing.T) {
	cases := []struct {
		from, to StageStatus
	}{
		{StatusPending, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusFailed},
		{StatusInProgress, StatusInProgress}, // stale-claim re-claim
		{StatusFailed, StatusInProgress},     // explicit retry
	}
	for _, c := range cases {
		if err := ValidateStageTransition(c.from, c.to); err != nil {
			t.Errorf("transition %s → %s: unexpected error %v", c.from, c.to, err)
		}
	}
}

func TestValidateStageTransition_Rejected(t *testing.T) {
	cases := []struct {
		from, to StageStatus
	}{
		{StatusPending, StatusCompleted}, // must pass through in_progress
		{StatusPending, StatusFailed},
		{StatusCompleted, StatusInProgress},
		{StatusCompleted, StatusPending},
		{StatusFailed, StatusCompleted},
		{StageStatus("bogus"), StatusInProgress},
	}
	for _, c := range cases {
		if err := ValidateStageTransition(c.from, c.to); err == nil {
			t.Errorf("transition %s → %s: expected error", c.from, c.to)
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []StageStatus{StatusPending, StatusInProgress, StatusCompleted, StatusFailed} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%q) = false", s)
		}
	}
	if ValidStatus("done") {
		t.Error(`ValidStatus("done") = true`)
	}
}
