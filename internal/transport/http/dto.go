package http

import (
	"time"

	"course-progression-service/internal/app"
	"course-progression-service/internal/domain"
	"course-progression-service/internal/progression"
)

// questionView never carries the answer key.
type questionView struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Points  int      `json:"points"`
}

type answerView struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
	IsCorrect      *bool  `json:"isCorrect,omitempty"`
	Points         *int   `json:"points,omitempty"`
}

// attemptView is the student-safe projection of an attempt. Per-answer
// correctness is only revealed once the attempt is terminal.
type attemptView struct {
	ID                     string               `json:"id"`
	CourseID               string               `json:"courseId"`
	UnitID                 string               `json:"unitId"`
	Source                 domain.AttemptSource `json:"source"`
	Status                 domain.AttemptStatus `json:"status"`
	Questions              []questionView       `json:"questions"`
	Answers                []answerView         `json:"answers"`
	TimeLimitSeconds       int                  `json:"timeLimitSeconds,omitempty"`
	StartedAt              time.Time            `json:"startedAt"`
	SubmittedAt            *time.Time           `json:"submittedAt,omitempty"`
	Score                  *int                 `json:"score,omitempty"`
	MaxScore               *int                 `json:"maxScore,omitempty"`
	Percentage             *float64             `json:"percentage,omitempty"`
	PassingScore           float64              `json:"passingScore"`
	Passed                 *bool                `json:"passed,omitempty"`
	SecurityViolations     int                  `json:"securityViolations"`
	AutoSubmitted          bool                 `json:"autoSubmitted"`
	TimedOut               bool                 `json:"timedOut"`
	CompletedAfterDeadline bool                 `json:"completedAfterDeadline"`
}

func newAttemptView(a domain.QuizAttempt) attemptView {
	v := attemptView{
		ID:                     a.ID,
		CourseID:               a.CourseID,
		UnitID:                 a.UnitID,
		Source:                 a.Source,
		Status:                 a.Status,
		Questions:              make([]questionView, 0, len(a.Questions)),
		Answers:                make([]answerView, 0, len(a.Answers)),
		TimeLimitSeconds:       int(a.TimeLimit / time.Second),
		StartedAt:              a.StartedAt,
		SubmittedAt:            a.SubmittedAt,
		PassingScore:           a.PassingScore,
		SecurityViolations:     a.SecurityViolations,
		AutoSubmitted:          a.AutoSubmitted,
		TimedOut:               a.TimedOut,
		CompletedAfterDeadline: a.CompletedAfterDeadline,
	}
	for _, q := range a.Questions {
		v.Questions = append(v.Questions, questionView{ID: q.ID, Text: q.Text, Options: q.Options, Points: q.Score()})
	}
	terminal := a.Status.Terminal()
	for _, ans := range a.Answers {
		av := answerView{QuestionID: ans.QuestionID, SelectedOption: ans.SelectedOption}
		if terminal {
			correct, points := ans.IsCorrect, ans.Points
			av.IsCorrect, av.Points = &correct, &points
		}
		v.Answers = append(v.Answers, av)
	}
	if terminal {
		score, maxScore, pct, passed := a.Score, a.MaxScore, a.Percentage, a.Passed
		v.Score, v.MaxScore, v.Percentage, v.Passed = &score, &maxScore, &pct, &passed
	}
	return v
}

// unlockView always renders both lists, empty when nothing unlocked.
type unlockView struct {
	Units  []string `json:"units"`
	Videos []string `json:"videos"`
}

func newUnlockView(d progression.UnlockDelta) unlockView {
	v := unlockView{Units: d.Units, Videos: d.Videos}
	if v.Units == nil {
		v.Units = []string{}
	}
	if v.Videos == nil {
		v.Videos = []string{}
	}
	return v
}

type watchResponse struct {
	Accepted      bool       `json:"accepted"`
	Completed     bool       `json:"completed"`
	TimeSpent     float64    `json:"timeSpent"`
	NewlyUnlocked unlockView `json:"newlyUnlocked"`
}

func newWatchResponse(res app.WatchResult) watchResponse {
	return watchResponse{
		Accepted:      res.Accepted,
		Completed:     res.Progress.Completed,
		TimeSpent:     res.Progress.TimeSpent,
		NewlyUnlocked: newUnlockView(res.NewlyUnlocked),
	}
}

type submitResponse struct {
	AttemptID     string      `json:"attemptId"`
	Score         int         `json:"score"`
	MaxScore      int         `json:"maxScore"`
	Percentage    float64     `json:"percentage"`
	Passed        bool        `json:"passed"`
	Locked        bool        `json:"locked"`
	NewlyUnlocked unlockView  `json:"newlyUnlocked"`
	Attempt       attemptView `json:"attempt"`
}

func newSubmitResponse(res app.SubmitResult) submitResponse {
	return submitResponse{
		AttemptID:     res.Attempt.ID,
		Score:         res.Attempt.Score,
		MaxScore:      res.Attempt.MaxScore,
		Percentage:    res.Attempt.Percentage,
		Passed:        res.Attempt.Passed,
		Locked:        res.Locked,
		NewlyUnlocked: newUnlockView(res.NewlyUnlocked),
		Attempt:       newAttemptView(res.Attempt),
	}
}

type violationResponse struct {
	Violations    int             `json:"violations"`
	AutoSubmitted bool            `json:"autoSubmitted"`
	Locked        bool            `json:"locked"`
	Result        *submitResponse `json:"result,omitempty"`
}

func newViolationResponse(res app.ViolationResult) violationResponse {
	out := violationResponse{
		Violations:    res.Outcome.AttemptViolations,
		AutoSubmitted: res.Outcome.AutoSubmit,
		Locked:        res.Outcome.Locked,
	}
	if res.Result != nil {
		sr := newSubmitResponse(*res.Result)
		out.Result = &sr
	}
	return out
}
