package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrNotEnrolled is returned when the student is not enrolled in the course.
	ErrNotEnrolled = errors.New("student not enrolled in course")
	// ErrNotUnlocked indicates the requested unit or video is not yet available.
	ErrNotUnlocked = errors.New("content not unlocked")
	// ErrDeadlinePassed is returned when a strict unit deadline has expired.
	ErrDeadlinePassed = errors.New("unit deadline passed")
	// ErrAttemptLimitExceeded indicates the attempt quota is exhausted.
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	// ErrCooldown is matched by *CooldownError.
	ErrCooldown = errors.New("attempt cooldown active")
	// ErrSecurityLocked is matched by *SecurityLockedError.
	ErrSecurityLocked = errors.New("unit locked for security review")
	// ErrAlreadySubmitted rejects re-submission of a terminal attempt.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	// ErrAlreadyPassed is returned when the source was already passed.
	ErrAlreadyPassed = errors.New("quiz already passed")
	// ErrNoEligibleQuestions indicates no approved question is available to sample.
	ErrNoEligibleQuestions = errors.New("no eligible questions")
	// ErrEmptyAttempt indicates an attempt snapshot that cannot be scored.
	ErrEmptyAttempt = errors.New("attempt has no scorable questions")
	// ErrInvalidTransition is matched by *TransitionError.
	ErrInvalidTransition = errors.New("invalid review transition")
	// ErrUnauthorized indicates the caller's role does not allow the action.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation is matched by *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotLocked is returned when unlocking a unit that holds no security lock.
	ErrNotLocked = errors.New("unit is not security locked")

	// ErrCourseNotFound indicates the catalog has no such course.
	ErrCourseNotFound = errors.New("course not found")
	// ErrUnitNotFound indicates the course has no such unit.
	ErrUnitNotFound = errors.New("unit not found")
	// ErrVideoNotFound indicates the course has no such video.
	ErrVideoNotFound = errors.New("video not found")
	// ErrSourceNotFound indicates the quiz or pool is not part of the course.
	ErrSourceNotFound = errors.New("quiz source not found")
	// ErrAttemptNotFound indicates an unknown attempt id.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrReviewNotFound indicates an unknown review id.
	ErrReviewNotFound = errors.New("review not found")
	// ErrLedgerNotFound is returned by stores for a missing aggregate.
	ErrLedgerNotFound = errors.New("progress ledger not found")

	// ErrVersionConflict is returned by stores when an optimistic write lost a race.
	ErrVersionConflict = errors.New("ledger version conflict")
	// ErrRetryExhausted surfaces after repeated version conflicts.
	ErrRetryExhausted = errors.New("retry exhausted")
)

// CooldownError reports how long a student must wait after a failed attempt.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("attempt cooldown active: %d hour(s) remaining", e.HoursRemaining())
}

// HoursRemaining rounds the remaining wait up to whole hours.
func (e *CooldownError) HoursRemaining() int {
	return int(math.Ceil(e.Remaining.Hours()))
}

func (e *CooldownError) Is(target error) bool { return target == ErrCooldown }

// SecurityLockedError carries the reason a unit was locked.
type SecurityLockedError struct {
	Reason string
}

func (e *SecurityLockedError) Error() string {
	if e.Reason == "" {
		return ErrSecurityLocked.Error()
	}
	return ErrSecurityLocked.Error() + ": " + e.Reason
}

func (e *SecurityLockedError) Is(target error) bool { return target == ErrSecurityLocked }

// ValidationError describes a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError reports a review action that the current status forbids.
type TransitionError struct {
	From   ReviewStatus
	Action ReviewAction
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s question", e.Action, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
