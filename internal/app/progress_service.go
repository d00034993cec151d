package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"course-progression-service/internal/audit"
	"course-progression-service/internal/domain"
	"course-progression-service/internal/logger"
	"course-progression-service/internal/progression"
	"course-progression-service/internal/rbac"
)

// EligibilitySource yields the questions a unit may sample from.
type EligibilitySource interface {
	EligibleQuestions(ctx context.Context, courseID, unitID string) (progression.Eligibility, error)
}

// Deps bundles the collaborators of ProgressService.
type Deps struct {
	Ledgers     LedgerRepository
	Attempts    AttemptIndex
	Catalog     CatalogRepository
	Enrollment  EnrollmentChecker
	Eligibility EligibilitySource
	Overviews   OverviewCache
	Audit       AuditEmitter
	Notifier    *Notifier
	Log         *logger.Logger
}

// Options tune ProgressService.
type Options struct {
	Policy     progression.Policy
	MaxRetries int
	Sampler    *progression.Sampler
	Checker    *rbac.Checker
	Now        func() time.Time
	NewID      func() string
}

// ProgressService owns the per-student, per-course progress ledger. Every
// mutation is a read-modify-write of the whole aggregate, committed with an
// optimistic version check and retried on conflict.
type ProgressService struct {
	deps       Deps
	policy     progression.Policy
	maxRetries int
	sampler    *progression.Sampler
	checker    *rbac.Checker
	now        func() time.Time
	newID      func() string
}

func NewProgressService(deps Deps, opts Options) *ProgressService {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.Sampler == nil {
		opts.Sampler = progression.NewSampler()
	}
	if opts.Checker == nil {
		opts.Checker = rbac.NewChecker(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Policy == (progression.Policy{}) {
		opts.Policy = progression.DefaultPolicy()
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Notifier == nil {
		deps.Notifier = NewNotifier()
	}
	return &ProgressService{
		deps:       deps,
		policy:     opts.Policy,
		maxRetries: opts.MaxRetries,
		sampler:    opts.Sampler,
		checker:    opts.Checker,
		now:        opts.Now,
		newID:      opts.NewID,
	}
}

// Policy exposes the active thresholds.
func (s *ProgressService) Policy() progression.Policy { return s.policy }

// Notifier exposes the update hub for realtime transports.
func (s *ProgressService) Notifier() *Notifier { return s.deps.Notifier }

// WatchResult is the outcome of a progress ping.
type WatchResult struct {
	Accepted      bool                    `json:"accepted"`
	Progress      domain.VideoProgress    `json:"progress"`
	NewlyUnlocked progression.UnlockDelta `json:"newlyUnlocked"`
}

// CreateAttemptResult carries a new or resumed attempt.
type CreateAttemptResult struct {
	Attempt domain.QuizAttempt `json:"attempt"`
	Resumed bool               `json:"resumed"`
}

// Telemetry is the proctoring summary a client sends at submission.
type Telemetry struct {
	Violations    int    `json:"violations"`
	AutoSubmitted bool   `json:"autoSubmitted"`
	Reason        string `json:"reason"`
}

// SubmitResult is the terminal state of an attempt plus what it unlocked.
type SubmitResult struct {
	Attempt       domain.QuizAttempt      `json:"attempt"`
	NewlyUnlocked progression.UnlockDelta `json:"newlyUnlocked"`
	Locked        bool                    `json:"locked"`
}

// ViolationResult reports a recorded violation and, when it forced
// submission, the scored attempt.
type ViolationResult struct {
	Outcome progression.ViolationOutcome `json:"outcome"`
	Result  *SubmitResult                `json:"result,omitempty"`
}

// Ensure loads or lazily creates the ledger with the first unit unlocked.
func (s *ProgressService) Ensure(ctx context.Context, studentID, courseID string) (*domain.ProgressLedger, error) {
	key := domain.LedgerKey{StudentID: studentID, CourseID: courseID}
	if err := s.requireEnrollment(ctx, key); err != nil {
		return nil, err
	}
	idx, err := s.index(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, key, idx, func(*domain.ProgressLedger) error {
		return errUnchanged
	})
}

// RecordWatchProgress merges a playback ping and applies any unlocks that
// completing the video earns.
func (s *ProgressService) RecordWatchProgress(ctx context.Context, studentID, courseID string, ping progression.WatchPing) (WatchResult, error) {
	if err := s.policy.Validate(ping); err != nil {
		return WatchResult{}, err
	}
	key := domain.LedgerKey{StudentID: studentID, CourseID: courseID}
	if err := s.requireEnrollment(ctx, key); err != nil {
		return WatchResult{}, err
	}
	idx, err := s.index(ctx, courseID)
	if err != nil {
		return WatchResult{}, err
	}
	video, unitID, ok := idx.Video(ping.VideoID)
	if !ok {
		return WatchResult{}, domain.ErrVideoNotFound
	}
	unit, _ := idx.Unit(unitID)

	var result WatchResult
	_, err = s.mutate(ctx, key, idx, func(l *domain.ProgressLedger) error {
		result = WatchResult{}
		up, ok := l.Unit(unitID)
		if !ok || !up.Unlocked || !up.VideoUnlocked(video.ID) {
			return domain.ErrNotUnlocked
		}
		p := ping
		p.At = s.now()
		out := s.policy.MergeWatch(up.Video(video.ID), video, unit.Deadline, p)
		result.Accepted = out.Accepted
		result.Progress = out.Progress
		if !out.Accepted {
			return errUnchanged
		}
		if out.NewlyCompleted {
			delta := progression.ComputeUnlocks(idx, l, progression.CompletionEvent{
				Kind:    progression.VideoCompleted,
				UnitID:  unitID,
				VideoID: video.ID,
			})
			progression.ApplyDelta(idx, l, delta, p.At)
			result.NewlyUnlocked = delta
		}
		return nil
	})
	if err != nil {
		return WatchResult{}, err
	}
	s.announceUnlocks(key, "", result.NewlyUnlocked)
	return result, nil
}

// CreateAttempt opens a new attempt on a quiz or pool, or returns the open
// one with Resumed set.
func (s *ProgressService) CreateAttempt(ctx context.Context, studentID, courseID string, src domain.AttemptSource) (CreateAttemptResult, error) {
	if !src.Valid() {
		return CreateAttemptResult{}, domain.Invalid("source", "expected quiz or pool reference")
	}
	key := domain.LedgerKey{StudentID: studentID, CourseID: courseID}
	if err := s.requireEnrollment(ctx, key); err != nil {
		return CreateAttemptResult{}, err
	}
	idx, err := s.index(ctx, courseID)
	if err != nil {
		return CreateAttemptResult{}, err
	}
	unit, timeLimit, passingScore, ok := idx.Source(src)
	if !ok {
		return CreateAttemptResult{}, domain.ErrSourceNotFound
	}
	eligible, err := s.deps.Eligibility.EligibleQuestions(ctx, courseID, unit.ID)
	if err != nil {
		return CreateAttemptResult{}, err
	}

	attemptID := s.newID()

	var result CreateAttemptResult
	var expiredDelta progression.UnlockDelta
	_, err = s.mutate(ctx, key, idx, func(l *domain.ProgressLedger) error {
		result = CreateAttemptResult{}
		now := s.now()
		up, ok := l.Unit(unit.ID)
		if !ok {
			return domain.ErrUnitNotFound
		}
		expired, delta := s.closeExpired(idx, l, up, now)
		expiredDelta = delta

		open, err := s.policy.CheckCreate(unit, up, src, now)
		if err != nil {
			if expired {
				return persistAnd(err)
			}
			return err
		}
		if open != nil {
			result = CreateAttemptResult{Attempt: open.Clone(), Resumed: true}
			if expired {
				return nil
			}
			return errUnchanged
		}

		questions, err := s.sample(idx, unit, src, eligible)
		if err != nil {
			if expired {
				return persistAnd(err)
			}
			return err
		}
		attempt := progression.NewAttempt(attemptID, key, unit.ID, src, questions, timeLimit, passingScore, now)
		up.QuizAttempts = append(up.QuizAttempts, attempt)
		result = CreateAttemptResult{Attempt: attempt.Clone()}
		return nil
	})
	s.announceUnlocks(key, "", expiredDelta)
	if err != nil {
		return CreateAttemptResult{}, err
	}
	// Indexed after the commit so refused creates leave no rows behind. A
	// resume writes the entry again, which repairs an index write that
	// failed after its attempt was committed.
	if err := s.deps.Attempts.Put(ctx, result.Attempt.ID, key); err != nil {
		return CreateAttemptResult{}, err
	}
	if !result.Resumed {
		s.deps.Log.Info("attempt created", "attempt", attemptID, "student", studentID, "course", courseID, "source", src.String())
	}
	return result, nil
}

func (s *ProgressService) sample(idx *progression.CourseIndex, unit domain.Unit, src domain.AttemptSource, eligible progression.Eligibility) ([]domain.Question, error) {
	if src.Kind == domain.SourcePool {
		return s.sampler.SamplePool(*unit.Pool, unit.Quizzes, eligible)
	}
	quiz, ok := idx.Quiz(src.ID)
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	return s.sampler.SampleQuiz(quiz, eligible)
}

// GetAttempt returns an attempt owned by the student.
func (s *ProgressService) GetAttempt(ctx context.Context, studentID, attemptID string) (domain.QuizAttempt, error) {
	key, err := s.attemptKey(ctx, studentID, attemptID)
	if err != nil {
		return domain.QuizAttempt{}, err
	}
	ledger, err := s.deps.Ledgers.Load(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrLedgerNotFound) {
			return domain.QuizAttempt{}, domain.ErrAttemptNotFound
		}
		return domain.QuizAttempt{}, err
	}
	_, a, ok := ledger.FindAttempt(attemptID)
	if !ok {
		return domain.QuizAttempt{}, domain.ErrAttemptNotFound
	}
	return a.Clone(), nil
}

// SaveAnswers records in-flight answers on an open attempt.
func (s *ProgressService) SaveAnswers(ctx context.Context, studentID, attemptID string, answers []domain.Answer) (domain.QuizAttempt, error) {
	key, err := s.attemptKey(ctx, studentID, attemptID)
	if err != nil {
		return domain.QuizAttempt{}, err
	}
	idx, err := s.index(ctx, key.CourseID)
	if err != nil {
		return domain.QuizAttempt{}, err
	}

	var saved domain.QuizAttempt
	var delta progression.UnlockDelta
	_, err = s.mutate(ctx, key, idx, func(l *domain.ProgressLedger) error {
		up, a, ok := l.FindAttempt(attemptID)
		if !ok {
			return domain.ErrAttemptNotFound
		}
		now := s.now()
		if s.policy.Expired(a, now) {
			delta = s.forceSubmit(idx, l, up, a, now)
			return persistAnd(domain.ErrAlreadySubmitted)
		}
		if err := progression.SaveAnswers(a, answers); err != nil {
			return err
		}
		saved = a.Clone()
		return nil
	})
	s.announceUnlocks(key, "", delta)
	if err != nil {
		return domain.QuizAttempt{}, err
	}
	return saved, nil
}

// RecordViolation counts a proctoring violation. At the threshold the
// attempt is force-submitted with its saved answers and the unit is locked.
func (s *ProgressService) RecordViolation(ctx context.Context, studentID, attemptID, reason string) (ViolationResult, error) {
	if reason == "" {
		reason = "security violation"
	}
	key, err := s.attemptKey(ctx, studentID, attemptID)
	if err != nil {
		return ViolationResult{}, err
	}
	idx, err := s.index(ctx, key.CourseID)
	if err != nil {
		return ViolationResult{}, err
	}

	var result ViolationResult
	var unitID string
	_, err = s.mutate(ctx, key, idx, func(l *domain.ProgressLedger) error {
		result = ViolationResult{}
		up, a, ok := l.FindAttempt(attemptID)
		if !ok {
			return domain.ErrAttemptNotFound
		}
		unitID = up.UnitID
		now := s.now()
		out, err := s.policy.RecordViolation(up, a, reason, now)
		if err != nil {
			return err
		}
		result.Outcome = out
		if out.AutoSubmit {
			delta := s.forceSubmit(idx, l, up, a, now)
			result.Result = &SubmitResult{Attempt: a.Clone(), NewlyUnlocked: delta, Locked: true}
		}
		return nil
	})
	if err != nil {
		return ViolationResult{}, err
	}
	if result.Outcome.Locked {
		s.deps.Log.Warn("unit security locked", "student", studentID, "course", key.CourseID, "unit", unitID, "attempt", attemptID, "violations", result.Outcome.AttemptViolations)
		s.emit(audit.Event{Kind: audit.KindSecurityLocked, StudentID: studentID, CourseID: key.CourseID, Subject: unitID,
			Fields: map[string]string{"attempt": attemptID, "reason": reason}})
		s.emitSubmitted(result.Result.Attempt)
		s.deps.Notifier.Publish(key, Update{Type: UpdateSecurityLocked, UnitID: unitID, AttemptID: attemptID, Reason: reason})
	}
	return result, nil
}

// SubmitAttempt scores an attempt. A second submission of the same attempt
// fails with domain.ErrAlreadySubmitted and leaves the first score intact.
func (s *ProgressService) SubmitAttempt(ctx context.Context, studentID, attemptID string, answers []domain.Answer, tel Telemetry) (SubmitResult, error) {
	key, err := s.attemptKey(ctx, studentID, attemptID)
	if err != nil {
		return SubmitResult{}, err
	}
	idx, err := s.index(ctx, key.CourseID)
	if err != nil {
		return SubmitResult{}, err
	}
	reason := tel.Reason
	if reason == "" {
		reason = "security violation"
	}

	var result SubmitResult
	var unitID string
	_, err = s.mutate(ctx, key, idx, func(l *domain.ProgressLedger) error {
		result = SubmitResult{}
		up, a, ok := l.FindAttempt(attemptID)
		if !ok {
			return domain.ErrAttemptNotFound
		}
		if !a.Open() {
			return domain.ErrAlreadySubmitted
		}
		unitID = up.UnitID
		now := s.now()
		timedOut := s.policy.Expired(a, now)
		locked := s.policy.ApplyTelemetry(up, a, tel.Violations, reason, now)
		if err := progression.Submit(a, answers, tel.AutoSubmitted || locked || timedOut, now); err != nil {
			return err
		}
		a.TimedOut = timedOut
		delta := s.recordQuizOutcome(idx, l, up, a)
		result = SubmitResult{Attempt: a.Clone(), NewlyUnlocked: delta, Locked: locked}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	s.emitSubmitted(result.Attempt)
	if result.Locked {
		s.emit(audit.Event{Kind: audit.KindSecurityLocked, StudentID: studentID, CourseID: key.CourseID, Subject: unitID,
			Fields: map[string]string{"attempt": attemptID, "reason": reason}})
		s.deps.Notifier.Publish(key, Update{Type: UpdateSecurityLocked, UnitID: unitID, AttemptID: attemptID, Reason: reason})
	}
	s.announceUnlocks(key, "", result.NewlyUnlocked)
	return result, nil
}

// UnlockSecurityLock releases a unit's security hold for a student. Only
// roles holding rbac.PermSecurityUnlock may call it.
func (s *ProgressService) UnlockSecurityLock(ctx context.Context, actor rbac.Actor, studentID, courseID, unitID, note string) (domain.SecurityLock, error) {
	if !s.checker.Has(actor.Role, rbac.PermSecurityUnlock) {
		return domain.SecurityLock{}, domain.ErrUnauthorized
	}
	key := domain.LedgerKey{StudentID: studentID, CourseID: courseID}
	if err := s.requireEnrollment(ctx, key); err != nil {
		return domain.SecurityLock{}, err
	}
	idx, err := s.index(ctx, courseID)
	if err != nil {
		return domain.SecurityLock{}, err
	}

	var lock domain.SecurityLock
	_, err = s.mutate(ctx, key, idx, func(l *domain.ProgressLedger) error {
		up, ok := l.Unit(unitID)
		if !ok {
			return domain.ErrUnitNotFound
		}
		if err := progression.Unlock(up, actor.ID, actor.Role, note, s.now()); err != nil {
			return err
		}
		lock = up.SecurityLock
		return nil
	})
	if err != nil {
		return domain.SecurityLock{}, err
	}
	s.deps.Log.Info("security lock released", "actor", actor.ID, "role", actor.Role, "student", studentID, "course", courseID, "unit", unitID)
	s.emit(audit.Event{Kind: audit.KindSecurityUnlocked, ActorID: actor.ID, StudentID: studentID, CourseID: courseID, Subject: unitID,
		Fields: map[string]string{"note": note, "role": actor.Role}})
	s.deps.Notifier.Publish(key, Update{Type: UpdateSecurityUnlocked, UnitID: unitID})
	return lock, nil
}

// GrantResult reports a unit's quota after a grant.
type GrantResult struct {
	ExtraAttempts     int `json:"extraAttempts"`
	RemainingAttempts int `json:"remainingAttempts"`
}

// GrantExtraAttempts raises a student's attempt quota on a unit.
func (s *ProgressService) GrantExtraAttempts(ctx context.Context, actor rbac.Actor, studentID, courseID, unitID string, count int) (GrantResult, error) {
	if !s.checker.Has(actor.Role, rbac.PermAttemptsGrant) {
		return GrantResult{}, domain.ErrUnauthorized
	}
	if count <= 0 || count > 10 {
		return GrantResult{}, domain.Invalid("count", "must be between 1 and 10")
	}
	key := domain.LedgerKey{StudentID: studentID, CourseID: courseID}
	if err := s.requireEnrollment(ctx, key); err != nil {
		return GrantResult{}, err
	}
	idx, err := s.index(ctx, courseID)
	if err != nil {
		return GrantResult{}, err
	}
	unit, ok := idx.Unit(unitID)
	if !ok {
		return GrantResult{}, domain.ErrUnitNotFound
	}

	var result GrantResult
	_, err = s.mutate(ctx, key, idx, func(l *domain.ProgressLedger) error {
		up, ok := l.Unit(unitID)
		if !ok {
			return domain.ErrUnitNotFound
		}
		up.ExtraAttempts += count
		result = GrantResult{ExtraAttempts: up.ExtraAttempts, RemainingAttempts: s.remaining(unit, up)}
		return nil
	})
	if err != nil {
		return GrantResult{}, err
	}
	s.emit(audit.Event{Kind: audit.KindAttemptsGranted, ActorID: actor.ID, StudentID: studentID, CourseID: courseID, Subject: unitID})
	return result, nil
}

// closeExpired force-submits open attempts of the unit that outlived their
// time limit. It reports whether anything changed.
func (s *ProgressService) closeExpired(idx *progression.CourseIndex, l *domain.ProgressLedger, up *domain.UnitProgress, now time.Time) (bool, progression.UnlockDelta) {
	changed := false
	var delta progression.UnlockDelta
	for i := range up.QuizAttempts {
		a := &up.QuizAttempts[i]
		if !s.policy.Expired(a, now) {
			continue
		}
		delta = delta.Merge(s.forceSubmit(idx, l, up, a, now))
		a.TimedOut = true
		changed = true
	}
	return changed, delta
}

// forceSubmit scores an open attempt with whatever answers were saved.
func (s *ProgressService) forceSubmit(idx *progression.CourseIndex, l *domain.ProgressLedger, up *domain.UnitProgress, a *domain.QuizAttempt, now time.Time) progression.UnlockDelta {
	if s.policy.Expired(a, now) {
		a.TimedOut = true
	}
	if err := progression.Submit(a, nil, true, now); err != nil {
		// Only an empty snapshot fails here; close it without a score.
		a.Status = domain.AttemptAutoSubmitted
		a.AutoSubmitted = true
		submitted := now
		a.SubmittedAt = &submitted
		return progression.UnlockDelta{}
	}
	return s.recordQuizOutcome(idx, l, up, a)
}

// recordQuizOutcome credits a terminal attempt against the unit. A pass
// marks the unit quiz passed, which is never undone, and propagates
// unlocks unless a strict deadline withholds credit.
func (s *ProgressService) recordQuizOutcome(idx *progression.CourseIndex, l *domain.ProgressLedger, up *domain.UnitProgress, a *domain.QuizAttempt) progression.UnlockDelta {
	unit, _ := idx.Unit(up.UnitID)
	c := progression.ComplianceOf(unit.Deadline, *a.SubmittedAt)
	a.CompletedAfterDeadline = c.CompletedAfterDeadline
	if !a.Passed || !c.ShouldCount {
		return progression.UnlockDelta{}
	}
	up.UnitQuizPassed = true
	delta := progression.ComputeUnlocks(idx, l, progression.CompletionEvent{Kind: progression.QuizPassed, UnitID: up.UnitID})
	progression.ApplyDelta(idx, l, delta, *a.SubmittedAt)
	return delta
}

func (s *ProgressService) remaining(unit domain.Unit, up *domain.UnitProgress) int {
	src, ok := primarySource(unit)
	if !ok {
		return 0
	}
	return s.policy.RemainingAttempts(up, src)
}

// primarySource is the assessment the content view advertises for a unit:
// its pool, or its first quiz when no pool is configured.
func primarySource(unit domain.Unit) (domain.AttemptSource, bool) {
	if unit.Pool != nil {
		return domain.PoolSource(unit.Pool.ID), true
	}
	if len(unit.Quizzes) > 0 {
		return domain.QuizSource(unit.Quizzes[0].ID), true
	}
	return domain.AttemptSource{}, false
}

func (s *ProgressService) attemptKey(ctx context.Context, studentID, attemptID string) (domain.LedgerKey, error) {
	if attemptID == "" {
		return domain.LedgerKey{}, domain.Invalid("attemptId", "required")
	}
	key, err := s.deps.Attempts.Lookup(ctx, attemptID)
	if err != nil {
		return domain.LedgerKey{}, err
	}
	if key.StudentID != studentID {
		return domain.LedgerKey{}, domain.ErrAttemptNotFound
	}
	if err := s.requireEnrollment(ctx, key); err != nil {
		return domain.LedgerKey{}, err
	}
	return key, nil
}

func (s *ProgressService) requireEnrollment(ctx context.Context, key domain.LedgerKey) error {
	if key.StudentID == "" || key.CourseID == "" {
		return domain.Invalid("student/course", "required")
	}
	ok, err := s.deps.Enrollment.IsEnrolled(ctx, key.StudentID, key.CourseID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotEnrolled
	}
	return nil
}

func (s *ProgressService) index(ctx context.Context, courseID string) (*progression.CourseIndex, error) {
	course, err := s.deps.Catalog.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return progression.NewCourseIndex(course), nil
}

func (s *ProgressService) emit(ev audit.Event) {
	if s.deps.Audit == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.deps.Audit.Emit(ev)
}

func (s *ProgressService) emitSubmitted(a domain.QuizAttempt) {
	s.emit(audit.Event{
		Kind:      audit.KindAttemptSubmitted,
		StudentID: a.StudentID,
		CourseID:  a.CourseID,
		Subject:   a.ID,
		Fields: map[string]string{
			"unit":   a.UnitID,
			"source": a.Source.String(),
			"status": string(a.Status),
			"passed": boolString(a.Passed),
		},
	})
}

func (s *ProgressService) announceUnlocks(key domain.LedgerKey, actorID string, delta progression.UnlockDelta) {
	if len(delta.Units) == 0 && len(delta.Videos) == 0 {
		return
	}
	s.emit(audit.Event{
		Kind:      audit.KindUnlockGranted,
		ActorID:   actorID,
		StudentID: key.StudentID,
		CourseID:  key.CourseID,
		Fields:    map[string]string{"units": joinIDs(delta.Units), "videos": joinIDs(delta.Videos)},
	})
	s.deps.Notifier.Publish(key, Update{Type: UpdateUnlocked, Unlocked: &delta})
}
