package http

import (
	"errors"
	"net/http"

	"course-progression-service/internal/domain"
	"course-progression-service/internal/logger"
)

type errorBody struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	HoursRemaining int    `json:"hoursRemaining,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Field          string `json:"field,omitempty"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotEnrolled, http.StatusForbidden, "not_enrolled"},
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrNotUnlocked, http.StatusForbidden, "not_unlocked"},
	{domain.ErrSecurityLocked, http.StatusLocked, "security_locked"},
	{domain.ErrDeadlinePassed, http.StatusConflict, "deadline_passed"},
	{domain.ErrAttemptLimitExceeded, http.StatusConflict, "attempt_limit_exceeded"},
	{domain.ErrCooldown, http.StatusTooManyRequests, "cooldown"},
	{domain.ErrAlreadySubmitted, http.StatusConflict, "already_submitted"},
	{domain.ErrAlreadyPassed, http.StatusConflict, "already_passed"},
	{domain.ErrNoEligibleQuestions, http.StatusConflict, "no_eligible_questions"},
	{domain.ErrEmptyAttempt, http.StatusConflict, "empty_attempt"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrNotLocked, http.StatusConflict, "not_locked"},
	{domain.ErrValidation, http.StatusBadRequest, "validation_error"},
	{domain.ErrCourseNotFound, http.StatusNotFound, "course_not_found"},
	{domain.ErrUnitNotFound, http.StatusNotFound, "unit_not_found"},
	{domain.ErrVideoNotFound, http.StatusNotFound, "video_not_found"},
	{domain.ErrSourceNotFound, http.StatusNotFound, "source_not_found"},
	{domain.ErrAttemptNotFound, http.StatusNotFound, "attempt_not_found"},
	{domain.ErrReviewNotFound, http.StatusNotFound, "review_not_found"},
	{domain.ErrRetryExhausted, http.StatusServiceUnavailable, "retry_exhausted"},
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as an opaque internal error.
func writeError(w http.ResponseWriter, log *logger.Logger, r *http.Request, err error) {
	for _, ec := range errorCodes {
		if !errors.Is(err, ec.err) {
			continue
		}
		body := errorBody{Code: ec.code, Message: err.Error()}
		var cooldown *domain.CooldownError
		if errors.As(err, &cooldown) {
			body.HoursRemaining = cooldown.HoursRemaining()
		}
		var locked *domain.SecurityLockedError
		if errors.As(err, &locked) {
			body.Reason = locked.Reason
		}
		var invalid *domain.ValidationError
		if errors.As(err, &invalid) {
			body.Field = invalid.Field
		}
		respondJSON(w, ec.status, body)
		return
	}
	log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	respondJSON(w, http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"})
}
