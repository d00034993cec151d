package app_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"course-progression-service/internal/app"
	"course-progression-service/internal/audit"
	"course-progression-service/internal/domain"
	"course-progression-service/internal/infra/memory"
	"course-progression-service/internal/progression"
	"course-progression-service/internal/rbac"
)

var (
	t0      = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	student = "student-1"
	teacher = rbac.Actor{ID: "teacher-1", Role: rbac.RoleTeacher}
	cc      = rbac.Actor{ID: "cc-1", Role: rbac.RoleCC}
	hod     = rbac.Actor{ID: "hod-1", Role: rbac.RoleHOD}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Emit(ev audit.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingAudit) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// recordingIndex remembers every id written to the attempt index.
type recordingIndex struct {
	*memory.AttemptIndex
	mu  sync.Mutex
	ids []string
}

func (r *recordingIndex) Put(ctx context.Context, attemptID string, key domain.LedgerKey) error {
	r.mu.Lock()
	r.ids = append(r.ids, attemptID)
	r.mu.Unlock()
	return r.AttemptIndex.Put(ctx, attemptID, key)
}

func (r *recordingIndex) written() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type harness struct {
	svc        *app.ProgressService
	reviews    *app.ReviewService
	ledgers    *memory.LedgerStore
	attempts   *recordingIndex
	enrollment *memory.EnrollmentSet
	loader     *memory.StaticCourseLoader
	audit      *recordingAudit
	clock      *clock
	ctx        context.Context
}

type harnessOption func(*app.Options, *app.Deps)

func withPolicy(mut func(*progression.Policy)) harnessOption {
	return func(o *app.Options, _ *app.Deps) { mut(&o.Policy) }
}

func withLedgers(repo app.LedgerRepository) harnessOption {
	return func(_ *app.Options, d *app.Deps) { d.Ledgers = repo }
}

func withRetries(n int) harnessOption {
	return func(o *app.Options, _ *app.Deps) { o.MaxRetries = n }
}

func newHarness(t *testing.T, course domain.Course, opts ...harnessOption) *harness {
	t.Helper()
	clk := &clock{now: t0}
	ids := 0
	var idMu sync.Mutex
	newID := func() string {
		idMu.Lock()
		defer idMu.Unlock()
		ids++
		return fmt.Sprintf("id-%d", ids)
	}

	loader := memory.NewStaticCourseLoader(course)
	catalog := memory.NewCatalogRepository(loader, 0)
	enrollment := memory.NewEnrollmentSet(false)
	enrollment.Enroll(student, course.ID)
	ledgers := memory.NewLedgerStore()
	attempts := &recordingIndex{AttemptIndex: memory.NewAttemptIndex()}
	recorder := &recordingAudit{}

	reviews := app.NewReviewService(memory.NewReviewStore(), catalog, recorder, nil, app.ReviewOptions{
		LegacyBootstrap: true,
		Now:             clk.Now,
		NewID:           newID,
	})

	deps := app.Deps{
		Ledgers:     ledgers,
		Attempts:    attempts,
		Catalog:     catalog,
		Enrollment:  enrollment,
		Eligibility: reviews,
		Overviews:   memory.NewOverviewCache(time.Minute),
		Audit:       recorder,
	}
	options := app.Options{
		Policy:  progression.DefaultPolicy(),
		Sampler: progression.NewSamplerWithRand(rand.New(rand.NewSource(7))),
		Now:     clk.Now,
		NewID:   newID,
	}
	for _, opt := range opts {
		opt(&options, &deps)
	}

	return &harness{
		svc:        app.NewProgressService(deps, options),
		reviews:    reviews,
		ledgers:    ledgers,
		attempts:   attempts,
		enrollment: enrollment,
		loader:     loader,
		audit:      recorder,
		clock:      clk,
		ctx:        context.Background(),
	}
}

// threeUnitCourse has two 100s videos per unit. Units 0 and 1 carry a quiz
// worth 25 points in total, exposed through a pool that samples every
// question.
func threeUnitCourse() domain.Course {
	course := domain.Course{ID: "course-1", Title: "Networks"}
	for u := 0; u < 3; u++ {
		unitID := fmt.Sprintf("unit-%d", u)
		unit := domain.Unit{ID: unitID, CourseID: course.ID, Title: unitID, Order: u}
		for v := 0; v < 2; v++ {
			unit.Videos = append(unit.Videos, domain.Video{
				ID:       fmt.Sprintf("%s-video-%d", unitID, v),
				UnitID:   unitID,
				Sequence: v + 1,
				Duration: 100,
			})
		}
		if u < 2 {
			quizID := unitID + "-quiz"
			unit.Quizzes = []domain.Quiz{{
				ID:        quizID,
				UnitID:    unitID,
				AuthorID:  teacher.ID,
				Questions: weightedQuestions(unitID),
			}}
			unit.Pool = &domain.QuizPool{ID: unitID + "-pool", UnitID: unitID, QuizIDs: []string{quizID}, PassingScore: 70}
		}
		course.Units = append(course.Units, unit)
	}
	return course
}

// weightedQuestions returns five questions worth 5, 5, 5, 3 and 7 points.
func weightedQuestions(prefix string) []domain.Question {
	points := []int{5, 5, 5, 3, 7}
	out := make([]domain.Question, 0, len(points))
	for i, p := range points {
		out = append(out, domain.Question{
			ID:            fmt.Sprintf("%s-q%d", prefix, i),
			Text:          "pick b",
			Options:       []string{"a", "b", "c", "d"},
			CorrectOption: 1,
			Points:        p,
		})
	}
	return out
}

func pool(unit int) domain.AttemptSource {
	return domain.PoolSource(fmt.Sprintf("unit-%d-pool", unit))
}

// answersFor answers the listed questions correctly and every other
// question of the attempt wrongly.
func answersFor(a domain.QuizAttempt, correct ...string) []domain.Answer {
	right := make(map[string]bool, len(correct))
	for _, id := range correct {
		right[id] = true
	}
	out := make([]domain.Answer, 0, len(a.Questions))
	for _, q := range a.Questions {
		choice := (q.CorrectOption + 1) % len(q.Options)
		if right[q.ID] {
			choice = q.CorrectOption
		}
		out = append(out, domain.Answer{QuestionID: q.ID, SelectedOption: choice})
	}
	return out
}

// only keeps the answers for the given questions.
func only(answers []domain.Answer, ids ...string) []domain.Answer {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	var out []domain.Answer
	for _, a := range answers {
		if keep[a.QuestionID] {
			out = append(out, a)
		}
	}
	return out
}

func watch(videoID string, seconds float64) progression.WatchPing {
	return progression.WatchPing{VideoID: videoID, TimeSpent: seconds, CurrentTime: seconds, PlaybackRate: 1}
}

// completeVideos watches every video of a unit to the end.
func (h *harness) completeVideos(t *testing.T, course domain.Course, unit int) {
	t.Helper()
	for _, v := range course.Units[unit].Videos {
		if _, err := h.svc.RecordWatchProgress(h.ctx, student, course.ID, watch(v.ID, v.Duration)); err != nil {
			t.Fatalf("watch %s: %v", v.ID, err)
		}
	}
}

func (h *harness) ledger(t *testing.T, courseID string) *domain.ProgressLedger {
	t.Helper()
	l, err := h.ledgers.Load(h.ctx, domain.LedgerKey{StudentID: student, CourseID: courseID})
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	return l
}
