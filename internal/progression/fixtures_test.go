package progression

import (
	"fmt"
	"time"

	"course-progression-service/internal/domain"
)

var t0 = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

// threeUnitCourse has two videos per unit and a pool-backed quiz on every
// unit except the last.
func threeUnitCourse() domain.Course {
	course := domain.Course{ID: "c1", Title: "Go"}
	for u := 0; u < 3; u++ {
		unitID := fmt.Sprintf("u%d", u)
		unit := domain.Unit{ID: unitID, CourseID: "c1", Order: u}
		for v := 1; v <= 2; v++ {
			unit.Videos = append(unit.Videos, domain.Video{
				ID:       fmt.Sprintf("%s-v%d", unitID, v),
				UnitID:   unitID,
				Sequence: v,
				Duration: 100,
			})
		}
		if u < 2 {
			quizID := unitID + "-quiz"
			unit.Quizzes = []domain.Quiz{{ID: quizID, UnitID: unitID, Questions: questions(unitID, 4)}}
			unit.Pool = &domain.QuizPool{ID: unitID + "-pool", UnitID: unitID, QuizIDs: []string{quizID}, QuestionsPerAttempt: 4, PassingScore: 70}
		}
		course.Units = append(course.Units, unit)
	}
	return course
}

func questions(prefix string, n int) []domain.Question {
	out := make([]domain.Question, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Question{
			ID:            fmt.Sprintf("%s-q%d", prefix, i),
			Text:          "question",
			Options:       []string{"a", "b", "c"},
			CorrectOption: 1,
			Points:        1,
		})
	}
	return out
}

func submittedAttempt(id string, src domain.AttemptSource, passed bool, at time.Time) domain.QuizAttempt {
	submitted := at
	return domain.QuizAttempt{
		ID:          id,
		Source:      src,
		Status:      domain.AttemptSubmitted,
		Passed:      passed,
		StartedAt:   at.Add(-10 * time.Minute),
		SubmittedAt: &submitted,
	}
}
