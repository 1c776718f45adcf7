package domain

import (
	"math"
	"time"
)

// DerivedStatus is the read-time urgency of a task. It is never stored.
type DerivedStatus string

const (
	DerivedDone    DerivedStatus = "done"
	DerivedOverdue DerivedStatus = "overdue"
	DerivedWarning DerivedStatus = "warning"
	DerivedOnTrack DerivedStatus = "onTrack"
)

// WarningDays is the horizon, in days, under which an open task is flagged.
const WarningDays = 3

const day = 24 * time.Hour

// DaysUntil returns ceil((deadline - now) / 1 day).
func DaysUntil(deadline, now time.Time) float64 {
	return math.Ceil(float64(deadline.Sub(now)) / float64(day))
}

// Classify derives the display status of a task. Done tasks are always done;
// otherwise the ceiling of the day difference decides. A deadline a fraction
// of a day in the past yields ceil(-0.x) == -0, which is a warning, not overdue.
func Classify(deadline time.Time, status Status, now time.Time) DerivedStatus {
	if status == StatusDone {
		return DerivedDone
	}
	diffDays := DaysUntil(deadline, now)
	switch {
	case diffDays < 0:
		return DerivedOverdue
	case diffDays <= WarningDays:
		return DerivedWarning
	default:
		return DerivedOnTrack
	}
}

// Description returns the human-readable label of a derived status.
func (d DerivedStatus) Description() string {
	switch d {
	case DerivedDone:
		return "Task completed"
	case DerivedOverdue:
		return "Task is overdue"
	case DerivedWarning:
		return "Task due within 3 days"
	case DerivedOnTrack:
		return "Task on track"
	}
	return ""
}
