package progression

import (
	"time"

	"course-progression-service/internal/domain"
)

// ViolationOutcome tells the caller what a recorded violation triggered.
type ViolationOutcome struct {
	AttemptViolations int  `json:"attemptViolations"`
	UnitViolations    int  `json:"unitViolations"`
	AutoSubmit        bool `json:"autoSubmit"`
	Locked            bool `json:"locked"`
}

// RecordViolation counts one proctoring violation against an open attempt.
// Crossing the threshold locks the unit and asks the caller to force-submit.
func (p Policy) RecordViolation(up *domain.UnitProgress, a *domain.QuizAttempt, reason string, now time.Time) (ViolationOutcome, error) {
	if !a.Open() {
		return ViolationOutcome{}, domain.ErrAlreadySubmitted
	}
	a.SecurityViolations++
	up.SecurityLock.ViolationCount++
	out := ViolationOutcome{
		AttemptViolations: a.SecurityViolations,
		UnitViolations:    up.SecurityLock.ViolationCount,
	}
	if p.crossed(a.SecurityViolations) {
		Lock(up, reason, now)
		out.AutoSubmit = true
		out.Locked = true
	}
	return out, nil
}

// ApplyTelemetry reconciles the violation count a client reports at
// submission with what the server already counted. Counts never decrease.
func (p Policy) ApplyTelemetry(up *domain.UnitProgress, a *domain.QuizAttempt, reported int, reason string, now time.Time) bool {
	if reported > a.SecurityViolations {
		up.SecurityLock.ViolationCount += reported - a.SecurityViolations
		a.SecurityViolations = reported
	}
	if p.crossed(a.SecurityViolations) && !up.SecurityLock.Locked {
		Lock(up, reason, now)
		return true
	}
	return false
}

func (p Policy) crossed(count int) bool {
	return p.ViolationThreshold > 0 && count >= p.ViolationThreshold
}

// Lock places a security hold on the unit.
func Lock(up *domain.UnitProgress, reason string, now time.Time) {
	locked := now
	up.SecurityLock.Locked = true
	up.SecurityLock.Reason = reason
	up.SecurityLock.LockedAt = &locked
}

// Unlock releases a security hold. The role check happens before this call.
// The violation count is kept; the release is appended to the history.
func Unlock(up *domain.UnitProgress, actorID, actorRole, note string, now time.Time) error {
	if !up.SecurityLock.Locked {
		return domain.ErrNotLocked
	}
	up.SecurityLock.UnlockHistory = append(up.SecurityLock.UnlockHistory, domain.UnlockRecord{
		ActorID:        actorID,
		ActorRole:      actorRole,
		Note:           note,
		ViolationCount: up.SecurityLock.ViolationCount,
		At:             now,
	})
	up.SecurityLock.Locked = false
	up.SecurityLock.Reason = ""
	up.SecurityLock.LockedAt = nil
	return nil
}
