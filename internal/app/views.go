package app

import (
	"context"
	"math"
	"time"

	"course-progression-service/internal/domain"
	"course-progression-service/internal/progression"
)

// ContentView is what a student may see of a course right now.
type ContentView struct {
	CourseID string     `json:"courseId"`
	Title    string     `json:"title"`
	Units    []UnitView `json:"units"`
}

// UnitView is one unit in a ContentView.
type UnitView struct {
	ID                string                     `json:"id"`
	Title             string                     `json:"title"`
	Order             int                        `json:"order"`
	Unlocked          bool                       `json:"unlocked"`
	Status            domain.UnitStatus          `json:"status"`
	Videos            []VideoView                `json:"videos"`
	QuizAvailable     bool                       `json:"quizAvailable"`
	QuizPassed        bool                       `json:"quizPassed"`
	Source            *domain.AttemptSource      `json:"source,omitempty"`
	RemainingAttempts int                        `json:"remainingAttempts"`
	SecurityLocked    bool                       `json:"securityLocked"`
	LockReason        string                     `json:"lockReason,omitempty"`
	Deadline          progression.DeadlineStatus `json:"deadline"`
}

// VideoView is one video in a UnitView.
type VideoView struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Sequence     int     `json:"sequence"`
	Duration     float64 `json:"duration"`
	Unlocked     bool    `json:"unlocked"`
	Watched      bool    `json:"watched"`
	TimeSpent    float64 `json:"timeSpent"`
	LastPosition float64 `json:"lastPosition"`
}

// Overview is the cached course completion summary for a student.
type Overview struct {
	StudentID       string    `json:"studentId"`
	CourseID        string    `json:"courseId"`
	TotalUnits      int       `json:"totalUnits"`
	UnlockedUnits   int       `json:"unlockedUnits"`
	CompletedUnits  int       `json:"completedUnits"`
	TotalVideos     int       `json:"totalVideos"`
	CompletedVideos int       `json:"completedVideos"`
	PassedQuizzes   int       `json:"passedQuizzes"`
	LockedUnits     int       `json:"lockedUnits"`
	Percentage      float64   `json:"percentage"`
	ComputedAt      time.Time `json:"computedAt"`
}

// Content returns the student's view of a course, creating the ledger on
// first access.
func (s *ProgressService) Content(ctx context.Context, studentID, courseID string) (ContentView, error) {
	key := domain.LedgerKey{StudentID: studentID, CourseID: courseID}
	if err := s.requireEnrollment(ctx, key); err != nil {
		return ContentView{}, err
	}
	idx, err := s.index(ctx, courseID)
	if err != nil {
		return ContentView{}, err
	}
	ledger, err := s.mutate(ctx, key, idx, func(*domain.ProgressLedger) error { return errUnchanged })
	if err != nil {
		return ContentView{}, err
	}
	return s.buildContent(idx, ledger, s.now()), nil
}

func (s *ProgressService) buildContent(idx *progression.CourseIndex, ledger *domain.ProgressLedger, now time.Time) ContentView {
	view := ContentView{CourseID: idx.Course.ID, Title: idx.Course.Title}
	for _, unit := range idx.Units() {
		uv := UnitView{
			ID:       unit.ID,
			Title:    unit.Title,
			Order:    unit.Order,
			Status:   domain.UnitLocked,
			Deadline: progression.EvaluateDeadline(unit.Deadline, now),
		}
		up, tracked := ledger.Unit(unit.ID)
		if tracked {
			uv.Unlocked = up.Unlocked
			uv.Status = up.Status
			uv.QuizPassed = up.UnitQuizPassed
			uv.SecurityLocked = up.SecurityLock.Locked
			uv.LockReason = up.SecurityLock.Reason
		}
		for _, v := range unit.Videos {
			vv := VideoView{ID: v.ID, Title: v.Title, Sequence: v.Sequence, Duration: v.Duration}
			if tracked {
				if vp, ok := up.Videos[v.ID]; ok {
					vv.Unlocked = vp.Unlocked && up.Unlocked
					vv.Watched = vp.Completed
					vv.TimeSpent = vp.TimeSpent
					vv.LastPosition = vp.LastPosition
				}
			}
			uv.Videos = append(uv.Videos, vv)
		}
		if src, ok := primarySource(unit); ok {
			uv.Source = &src
			if tracked {
				uv.RemainingAttempts = s.policy.RemainingAttempts(up, src)
				uv.QuizAvailable = up.Unlocked && !up.UnitQuizPassed && !up.SecurityLock.Locked &&
					!progression.StrictlyExpired(unit.Deadline, now)
			}
		}
		view.Units = append(view.Units, uv)
	}
	return view
}

// Overview returns completion counters for a student's course, served from
// the overview cache when fresh.
func (s *ProgressService) Overview(ctx context.Context, studentID, courseID string) (Overview, error) {
	key := domain.LedgerKey{StudentID: studentID, CourseID: courseID}
	if err := s.requireEnrollment(ctx, key); err != nil {
		return Overview{}, err
	}
	if s.deps.Overviews != nil {
		if ov, ok := s.deps.Overviews.Get(ctx, key); ok {
			return ov, nil
		}
	}
	idx, err := s.index(ctx, courseID)
	if err != nil {
		return Overview{}, err
	}
	ledger, err := s.mutate(ctx, key, idx, func(*domain.ProgressLedger) error { return errUnchanged })
	if err != nil {
		return Overview{}, err
	}
	ov := summarize(idx, ledger, s.now())
	if s.deps.Overviews != nil {
		s.deps.Overviews.Set(ctx, key, ov)
	}
	return ov, nil
}

func summarize(idx *progression.CourseIndex, ledger *domain.ProgressLedger, now time.Time) Overview {
	ov := Overview{StudentID: ledger.StudentID, CourseID: ledger.CourseID, ComputedAt: now}
	for _, unit := range idx.Units() {
		ov.TotalUnits++
		ov.TotalVideos += len(unit.Videos)
		up, ok := ledger.Unit(unit.ID)
		if !ok {
			continue
		}
		if up.Unlocked {
			ov.UnlockedUnits++
		}
		if up.Status == domain.UnitCompleted {
			ov.CompletedUnits++
		}
		if up.UnitQuizPassed {
			ov.PassedQuizzes++
		}
		if up.SecurityLock.Locked {
			ov.LockedUnits++
		}
		for _, v := range unit.Videos {
			if up.VideoCompleted(v.ID) {
				ov.CompletedVideos++
			}
		}
	}
	if ov.TotalUnits > 0 {
		ov.Percentage = math.Round(float64(ov.CompletedUnits)/float64(ov.TotalUnits)*10000) / 100
	}
	return ov
}
