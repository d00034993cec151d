package progression

import (
	"sort"
	"time"

	"course-progression-service/internal/domain"
)

// CourseIndex is a lookup view over a course with units sorted by order and
// videos sorted by sequence.
type CourseIndex struct {
	Course    domain.Course
	units     []domain.Unit
	unitPos   map[string]int
	videoUnit map[string]string
	videos    map[string]domain.Video
	pools     map[string]domain.QuizPool
	quizzes   map[string]domain.Quiz
}

func NewCourseIndex(course domain.Course) *CourseIndex {
	units := append([]domain.Unit(nil), course.Units...)
	sort.SliceStable(units, func(i, j int) bool { return units[i].Order < units[j].Order })

	idx := &CourseIndex{
		Course:    course,
		units:     units,
		unitPos:   make(map[string]int, len(units)),
		videoUnit: make(map[string]string),
		videos:    make(map[string]domain.Video),
		pools:     make(map[string]domain.QuizPool),
		quizzes:   make(map[string]domain.Quiz),
	}
	for i := range units {
		u := &units[i]
		u.Videos = append([]domain.Video(nil), u.Videos...)
		sort.SliceStable(u.Videos, func(a, b int) bool { return u.Videos[a].Sequence < u.Videos[b].Sequence })
		idx.unitPos[u.ID] = i
		for _, v := range u.Videos {
			idx.videoUnit[v.ID] = u.ID
			idx.videos[v.ID] = v
		}
		if u.Pool != nil {
			idx.pools[u.Pool.ID] = *u.Pool
		}
		for _, q := range u.Quizzes {
			idx.quizzes[q.ID] = q
		}
	}
	return idx
}

// Units returns the units in order.
func (c *CourseIndex) Units() []domain.Unit { return c.units }

func (c *CourseIndex) Unit(unitID string) (domain.Unit, bool) {
	i, ok := c.unitPos[unitID]
	if !ok {
		return domain.Unit{}, false
	}
	return c.units[i], true
}

// Next returns the unit following unitID by order.
func (c *CourseIndex) Next(unitID string) (domain.Unit, bool) {
	i, ok := c.unitPos[unitID]
	if !ok || i+1 >= len(c.units) {
		return domain.Unit{}, false
	}
	return c.units[i+1], true
}

// Video returns a video and the id of its unit.
func (c *CourseIndex) Video(videoID string) (domain.Video, string, bool) {
	v, ok := c.videos[videoID]
	if !ok {
		return domain.Video{}, "", false
	}
	return v, c.videoUnit[videoID], true
}

// Source resolves an attempt source to its unit together with the snapshot
// parameters (time limit, passing score).
func (c *CourseIndex) Source(src domain.AttemptSource) (domain.Unit, time.Duration, float64, bool) {
	switch src.Kind {
	case domain.SourcePool:
		pool, ok := c.pools[src.ID]
		if !ok {
			return domain.Unit{}, 0, 0, false
		}
		u, ok := c.Unit(pool.UnitID)
		return u, pool.TimeLimit, pool.PassingScore, ok
	case domain.SourceQuiz:
		quiz, ok := c.quizzes[src.ID]
		if !ok {
			return domain.Unit{}, 0, 0, false
		}
		u, ok := c.Unit(quiz.UnitID)
		return u, quiz.TimeLimit, quiz.PassingScore, ok
	}
	return domain.Unit{}, 0, 0, false
}

// Quiz returns an authored quiz by id.
func (c *CourseIndex) Quiz(quizID string) (domain.Quiz, bool) {
	q, ok := c.quizzes[quizID]
	return q, ok
}

// NewLedger creates the aggregate for a student with the first unit and its
// first video unlocked. An empty first unit completes immediately.
func NewLedger(idx *CourseIndex, studentID string, now time.Time) *domain.ProgressLedger {
	ledger := &domain.ProgressLedger{
		StudentID: studentID,
		CourseID:  idx.Course.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	SyncUnits(idx, ledger)
	if len(ledger.Units) > 0 {
		first := idx.units[0]
		up := &ledger.Units[0]
		unlockUnit(up, now)
		if len(first.Videos) > 0 {
			up.Video(first.Videos[0].ID).Unlocked = true
		}
		ApplyDelta(idx, ledger, CompleteEmpty(idx, ledger, first.ID), now)
	}
	return ledger
}

// SyncUnits appends locked rows for units added to the course since the
// ledger was created and keeps rows in course order. It reports whether the
// ledger changed.
func SyncUnits(idx *CourseIndex, ledger *domain.ProgressLedger) bool {
	changed := false
	for _, u := range idx.units {
		if up, ok := ledger.Unit(u.ID); ok {
			if up.Order != u.Order {
				up.Order = u.Order
				changed = true
			}
			continue
		}
		ledger.Units = append(ledger.Units, domain.UnitProgress{
			UnitID: u.ID,
			Order:  u.Order,
			Status: domain.UnitLocked,
			Videos: make(map[string]*domain.VideoProgress),
		})
		changed = true
	}
	if changed {
		sort.SliceStable(ledger.Units, func(i, j int) bool { return ledger.Units[i].Order < ledger.Units[j].Order })
	}
	return changed
}

func unlockUnit(up *domain.UnitProgress, now time.Time) {
	if up.Unlocked {
		return
	}
	at := now
	up.Unlocked = true
	up.UnlockedAt = &at
	if up.Status == "" || up.Status == domain.UnitLocked {
		up.Status = domain.UnitInProgress
	}
}
