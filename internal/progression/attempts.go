package progression

import (
	"time"

	"course-progression-service/internal/domain"
)

// AttemptsFor returns the attempts of a unit that drew from src, oldest first.
func AttemptsFor(up *domain.UnitProgress, src domain.AttemptSource) []*domain.QuizAttempt {
	var out []*domain.QuizAttempt
	for i := range up.QuizAttempts {
		if up.QuizAttempts[i].Source == src {
			out = append(out, &up.QuizAttempts[i])
		}
	}
	return out
}

// OpenAttempt returns the unsubmitted attempt for src, if any.
func OpenAttempt(up *domain.UnitProgress, src domain.AttemptSource) *domain.QuizAttempt {
	for _, a := range AttemptsFor(up, src) {
		if a.Open() {
			return a
		}
	}
	return nil
}

// RemainingAttempts is max(0, base + extra + teacher unlocks - taken).
func (p Policy) RemainingAttempts(up *domain.UnitProgress, src domain.AttemptSource) int {
	taken := 0
	for _, a := range AttemptsFor(up, src) {
		if a.Status.Terminal() {
			taken++
		}
	}
	remaining := p.BaseAttempts + up.ExtraAttempts + up.TeacherUnlockCount() - taken
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CheckCreate decides whether a new attempt for src may start. A non-nil
// attempt with a nil error means an open attempt exists and must be resumed.
func (p Policy) CheckCreate(unit domain.Unit, up *domain.UnitProgress, src domain.AttemptSource, now time.Time) (*domain.QuizAttempt, error) {
	if up.SecurityLock.Locked {
		return nil, &domain.SecurityLockedError{Reason: up.SecurityLock.Reason}
	}
	if !up.Unlocked {
		return nil, domain.ErrNotUnlocked
	}

	attempts := AttemptsFor(up, src)
	for _, a := range attempts {
		if a.Passed {
			return nil, domain.ErrAlreadyPassed
		}
	}
	if open := OpenAttempt(up, src); open != nil {
		return open, nil
	}
	if StrictlyExpired(unit.Deadline, now) {
		return nil, domain.ErrDeadlinePassed
	}
	if last := lastSubmitted(attempts); last != nil && !last.Passed {
		if until := last.SubmittedAt.Add(p.Cooldown); now.Before(until) {
			return nil, &domain.CooldownError{Remaining: until.Sub(now)}
		}
	}
	if p.RemainingAttempts(up, src) == 0 {
		return nil, domain.ErrAttemptLimitExceeded
	}
	return nil, nil
}

func lastSubmitted(attempts []*domain.QuizAttempt) *domain.QuizAttempt {
	var last *domain.QuizAttempt
	for _, a := range attempts {
		if a.SubmittedAt == nil {
			continue
		}
		if last == nil || a.SubmittedAt.After(*last.SubmittedAt) {
			last = a
		}
	}
	return last
}

// Expired reports whether an open attempt outlived its time limit plus grace.
func (p Policy) Expired(a *domain.QuizAttempt, now time.Time) bool {
	if a.TimeLimit <= 0 || !a.Open() {
		return false
	}
	return now.After(a.StartedAt.Add(a.TimeLimit + p.AttemptGrace))
}

// NewAttempt builds a created attempt over a sampled snapshot.
func NewAttempt(id string, key domain.LedgerKey, unitID string, src domain.AttemptSource, questions []domain.Question, timeLimit time.Duration, passingScore float64, now time.Time) domain.QuizAttempt {
	if passingScore <= 0 {
		passingScore = domain.DefaultPassingScore
	}
	return domain.QuizAttempt{
		ID:           id,
		StudentID:    key.StudentID,
		CourseID:     key.CourseID,
		UnitID:       unitID,
		Source:       src,
		Questions:    questions,
		Status:       domain.AttemptCreated,
		PassingScore: passingScore,
		TimeLimit:    timeLimit,
		StartedAt:    now,
	}
}

// SaveAnswers merges answers into an open attempt, replacing earlier
// selections for the same question.
func SaveAnswers(a *domain.QuizAttempt, answers []domain.Answer) error {
	if !a.Open() {
		return domain.ErrAlreadySubmitted
	}
	if err := validateAnswers(a, answers); err != nil {
		return err
	}
	byQuestion := make(map[string]int, len(a.Answers))
	for i, ans := range a.Answers {
		byQuestion[ans.QuestionID] = i
	}
	for _, ans := range answers {
		ans.IsCorrect, ans.Points = false, 0
		if i, ok := byQuestion[ans.QuestionID]; ok {
			a.Answers[i] = ans
			continue
		}
		byQuestion[ans.QuestionID] = len(a.Answers)
		a.Answers = append(a.Answers, ans)
	}
	a.Status = domain.AttemptInProgress
	return nil
}

// Submit scores an open attempt and moves it to a terminal status. When
// answers is nil the answers saved so far are scored as-is.
func Submit(a *domain.QuizAttempt, answers []domain.Answer, auto bool, now time.Time) error {
	if !a.Open() {
		return domain.ErrAlreadySubmitted
	}
	if answers != nil {
		if err := validateAnswers(a, answers); err != nil {
			return err
		}
		a.Answers = append([]domain.Answer(nil), answers...)
	}
	if err := grade(a); err != nil {
		return err
	}
	a.Status = domain.AttemptSubmitted
	if auto {
		a.Status = domain.AttemptAutoSubmitted
		a.AutoSubmitted = true
	}
	submitted := now
	a.SubmittedAt = &submitted
	return nil
}

func validateAnswers(a *domain.QuizAttempt, answers []domain.Answer) error {
	questions := make(map[string]domain.Question, len(a.Questions))
	for _, q := range a.Questions {
		questions[q.ID] = q
	}
	seen := make(map[string]struct{}, len(answers))
	for _, ans := range answers {
		q, ok := questions[ans.QuestionID]
		if !ok {
			return domain.Invalid("answers", "unknown question "+ans.QuestionID)
		}
		if _, dup := seen[ans.QuestionID]; dup {
			return domain.Invalid("answers", "duplicate answer for "+ans.QuestionID)
		}
		seen[ans.QuestionID] = struct{}{}
		if ans.SelectedOption < 0 || ans.SelectedOption >= len(q.Options) {
			return domain.Invalid("answers", "option out of range for "+ans.QuestionID)
		}
	}
	return nil
}

// grade fills score fields. Unanswered questions still count toward MaxScore.
func grade(a *domain.QuizAttempt) error {
	questions := make(map[string]domain.Question, len(a.Questions))
	maxScore := 0
	for _, q := range a.Questions {
		questions[q.ID] = q
		maxScore += q.Score()
	}
	if maxScore == 0 {
		return domain.ErrEmptyAttempt
	}
	score := 0
	for i := range a.Answers {
		ans := &a.Answers[i]
		q := questions[ans.QuestionID]
		ans.IsCorrect = ans.SelectedOption == q.CorrectOption
		ans.Points = 0
		if ans.IsCorrect {
			ans.Points = q.Score()
		}
		score += ans.Points
	}
	a.Score = score
	a.MaxScore = maxScore
	a.Percentage = float64(score) / float64(maxScore) * 100
	a.Passed = a.Percentage >= a.PassingScore
	return nil
}
