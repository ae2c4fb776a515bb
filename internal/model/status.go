package model

import "fmt"

// StageStatus is the per-item, per-stage execution status.
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusInProgress StageStatus = "in_progress"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
)

var terminalStatuses = map[StageStatus]bool{
	StatusCompleted: true,
	StatusFailed:    true,
}

// Stage status transitions: pending → in_progress → completed|failed.
// failed → in_progress only via explicit retry; no transition skips
// in_progress. in_progress → in_progress covers stale-claim reclaim after
// a crash (the claim is simply re-stamped).
var validStageTransitions = map[StageStatus]map[StageStatus]bool{
	StatusPending: {
		StatusInProgress: true,
	},
	StatusInProgress: {
		StatusInProgress: true,
		StatusCompleted:  true,
		StatusFailed:     true,
	},
	StatusFailed: {
		StatusInProgress: true,
	},
}

func IsTerminal(s StageStatus) bool {
	return terminalStatuses[s]
}

// ValidStatus reports whether s is one of the four defined statuses.
func ValidStatus(s StageStatus) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func ValidateStageTransition(from, to StageStatus) error {
	if from == StatusCompleted {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	allowed, ok := validStageTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid stage transition: %q → %q", from, to)
	}
	return nil
}
