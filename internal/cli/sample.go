package cli

import (
	"fmt"
	"time"

	"course-progression-service/internal/domain"
)

// sampleCourse seeds a three unit demo course so a fresh deployment has
// something to serve. Units one and two draw attempts from a pool.
func sampleCourse() domain.Course {
	course := domain.Course{ID: "demo-course", Title: "Introduction to Networking"}
	titles := []string{"Layers and Packets", "Routing", "Transport Protocols"}
	for u, title := range titles {
		unitID := fmt.Sprintf("demo-unit-%d", u+1)
		unit := domain.Unit{ID: unitID, CourseID: course.ID, Title: title, Order: u}
		for v := 1; v <= 2; v++ {
			unit.Videos = append(unit.Videos, domain.Video{
				ID:       fmt.Sprintf("%s-video-%d", unitID, v),
				UnitID:   unitID,
				Title:    fmt.Sprintf("%s, part %d", title, v),
				Sequence: v,
				Duration: 600,
			})
		}
		if u < 2 {
			quizID := unitID + "-quiz"
			unit.Quizzes = []domain.Quiz{{
				ID:           quizID,
				UnitID:       unitID,
				Title:        title + " check",
				AuthorID:     "demo-teacher",
				TimeLimit:    15 * time.Minute,
				PassingScore: 70,
				Questions: []domain.Question{
					{ID: quizID + "-q1", Text: "Which layer routes packets?", Options: []string{"Link", "Network", "Transport"}, CorrectOption: 1, Points: 2},
					{ID: quizID + "-q2", Text: "Which protocol is connectionless?", Options: []string{"TCP", "UDP"}, CorrectOption: 1, Points: 1},
					{ID: quizID + "-q3", Text: "What does TTL bound?", Options: []string{"Hops", "Bandwidth", "Latency"}, CorrectOption: 0, Points: 1},
					{ID: quizID + "-q4", Text: "Which port does HTTPS use by default?", Options: []string{"80", "443", "8080"}, CorrectOption: 1, Points: 1},
				},
			}}
			unit.Pool = &domain.QuizPool{
				ID:                  unitID + "-pool",
				UnitID:              unitID,
				QuizIDs:             []string{quizID},
				QuestionsPerAttempt: 3,
				TimeLimit:           10 * time.Minute,
				PassingScore:        70,
			}
		}
		if u == 2 {
			unit.Deadline = &domain.DeadlinePolicy{
				Deadline:    time.Now().AddDate(0, 1, 0).Truncate(24 * time.Hour),
				WarningDays: 3,
				Description: "Final unit closes a month after deployment",
			}
		}
		course.Units = append(course.Units, unit)
	}
	return course
}
