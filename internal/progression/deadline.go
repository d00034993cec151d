package progression

import (
	"math"
	"time"

	"course-progression-service/internal/domain"
)

const day = 24 * time.Hour

// DeadlineStatus is the read-time view of a unit deadline.
type DeadlineStatus struct {
	HasDeadline bool       `json:"hasDeadline"`
	IsExpired   bool       `json:"isExpired"`
	DaysLeft    int        `json:"daysLeft"`
	ShowWarning bool       `json:"showWarning"`
	Strict      bool       `json:"strict"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Compliance decides whether an activity counts toward completion.
type Compliance struct {
	ShouldCount            bool
	CompletedAfterDeadline bool
}

// EvaluateDeadline computes expiry and warning facts for policy at now.
// A nil policy means the unit has no deadline.
func EvaluateDeadline(policy *domain.DeadlinePolicy, now time.Time) DeadlineStatus {
	if policy == nil || policy.Deadline.IsZero() {
		return DeadlineStatus{}
	}
	deadline := policy.Deadline
	daysLeft := int(math.Ceil(float64(deadline.Sub(now)) / float64(day)))
	return DeadlineStatus{
		HasDeadline: true,
		IsExpired:   now.After(deadline),
		DaysLeft:    daysLeft,
		ShowWarning: daysLeft > 0 && daysLeft <= policy.WarningDays,
		Strict:      policy.Strict,
		Deadline:    &deadline,
		Description: policy.Description,
	}
}

// ComplianceOf reports whether activity at the given time is credited.
// Late activity is always recorded; only a strict policy withholds credit.
func ComplianceOf(policy *domain.DeadlinePolicy, activity time.Time) Compliance {
	if policy == nil || policy.Deadline.IsZero() {
		return Compliance{ShouldCount: true}
	}
	late := activity.After(policy.Deadline)
	return Compliance{
		ShouldCount:            !policy.Strict || !late,
		CompletedAfterDeadline: late,
	}
}

// StrictlyExpired reports whether new attempts are barred by the deadline.
func StrictlyExpired(policy *domain.DeadlinePolicy, now time.Time) bool {
	return policy != nil && policy.Strict && !policy.Deadline.IsZero() && now.After(policy.Deadline)
}
