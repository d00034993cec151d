package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"course-progression-service/internal/audit"
	"course-progression-service/internal/domain"
	"course-progression-service/internal/logger"
	"course-progression-service/internal/progression"
	"course-progression-service/internal/rbac"
)

// ReviewService runs the question approval workflow and answers which
// questions a unit may sample.
type ReviewService struct {
	reviews         ReviewRepository
	catalog         CatalogRepository
	audit           AuditEmitter
	checker         *rbac.Checker
	log             *logger.Logger
	legacyBootstrap bool
	maxRetries      int
	now             func() time.Time
	newID           func() string
}

// ReviewOptions tune ReviewService.
type ReviewOptions struct {
	LegacyBootstrap bool
	MaxRetries      int
	Checker         *rbac.Checker
	Now             func() time.Time
	NewID           func() string
}

func NewReviewService(reviews ReviewRepository, catalog CatalogRepository, emitter AuditEmitter, log *logger.Logger, opts ReviewOptions) *ReviewService {
	if opts.Checker == nil {
		opts.Checker = rbac.NewChecker(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReviewService{
		reviews:         reviews,
		catalog:         catalog,
		audit:           emitter,
		checker:         opts.Checker,
		log:             log,
		legacyBootstrap: opts.LegacyBootstrap,
		maxRetries:      opts.MaxRetries,
		now:             opts.Now,
		newID:           opts.NewID,
	}
}

// SubmitForReview opens a pending review for an authored question. A
// question may be resubmitted only after its previous review was rejected.
func (s *ReviewService) SubmitForReview(ctx context.Context, actor rbac.Actor, courseID, unitID, quizID, questionID string) (domain.QuestionReview, error) {
	if !s.checker.Has(actor.Role, rbac.PermReviewSubmit) {
		return domain.QuestionReview{}, domain.ErrUnauthorized
	}
	course, err := s.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return domain.QuestionReview{}, err
	}
	idx := progression.NewCourseIndex(course)
	quiz, ok := idx.Quiz(quizID)
	if !ok || quiz.UnitID != unitID {
		return domain.QuestionReview{}, domain.ErrSourceNotFound
	}
	var question *domain.Question
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == questionID {
			question = &quiz.Questions[i]
			break
		}
	}
	if question == nil {
		return domain.QuestionReview{}, domain.Invalid("questionId", "not part of quiz "+quizID)
	}

	existing, err := s.reviews.ListByUnit(ctx, courseID, unitID)
	if err != nil {
		return domain.QuestionReview{}, err
	}
	for _, r := range existing {
		if r.QuestionID == questionID && r.Status != domain.ReviewRejected {
			return domain.QuestionReview{}, domain.Invalid("questionId", "already under review")
		}
	}

	review := progression.NewReview(s.newID(), *question, quizID, courseID, unitID, actor.ID, s.now())
	if err := s.reviews.Create(ctx, review); err != nil {
		return domain.QuestionReview{}, err
	}
	s.log.Info("question submitted for review", "review", review.ID, "question", questionID, "course", courseID, "unit", unitID, "uploader", actor.ID)
	return review, nil
}

// Review applies an approve, flag or reject action. The uploader of a
// question may never resolve it.
func (s *ReviewService) Review(ctx context.Context, actor rbac.Actor, reviewID string, action domain.ReviewAction, note string) (domain.QuestionReview, error) {
	switch action {
	case domain.ActionApprove, domain.ActionFlag, domain.ActionReject:
	default:
		return domain.QuestionReview{}, domain.Invalid("action", "expected approve, flag or reject")
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		review, err := s.reviews.Get(ctx, reviewID)
		if err != nil {
			return domain.QuestionReview{}, err
		}
		if review.UploaderID == actor.ID {
			return domain.QuestionReview{}, domain.ErrUnauthorized
		}
		if !s.checker.Has(actor.Role, reviewPermission(review.Status, action)) {
			return domain.QuestionReview{}, domain.ErrUnauthorized
		}

		from := review.Status
		if err := progression.ApplyReview(&review, action, actor.ID, note, s.now()); err != nil {
			return domain.QuestionReview{}, err
		}
		err = s.reviews.Update(ctx, review, from)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return domain.QuestionReview{}, err
		}

		s.log.Info("question review resolved", "review", review.ID, "from", from, "to", review.Status, "resolver", actor.ID)
		if s.audit != nil {
			s.audit.Emit(audit.Event{
				Kind:     audit.KindReviewResolved,
				ActorID:  actor.ID,
				CourseID: review.CourseID,
				Subject:  review.ID,
				Fields: map[string]string{
					"question": review.QuestionID,
					"unit":     review.UnitID,
					"from":     string(from),
					"to":       string(review.Status),
				},
				At: s.now(),
			})
		}
		return review, nil
	}
	return domain.QuestionReview{}, domain.ErrRetryExhausted
}

// reviewPermission maps a requested transition to the permission it needs.
// Settling a flagged question is reserved for resolvers.
func reviewPermission(from domain.ReviewStatus, action domain.ReviewAction) string {
	switch action {
	case domain.ActionFlag:
		return rbac.PermReviewFlag
	case domain.ActionReject:
		return rbac.PermReviewReject
	}
	if from == domain.ReviewFlagged {
		return rbac.PermReviewResolve
	}
	return rbac.PermReviewApprove
}

// EligibleQuestions returns the sampling set of a unit.
func (s *ReviewService) EligibleQuestions(ctx context.Context, courseID, unitID string) (progression.Eligibility, error) {
	var (
		course  domain.Course
		reviews []domain.QuestionReview
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		course, err = s.catalog.GetCourse(gctx, courseID)
		return err
	})
	g.Go(func() error {
		var err error
		reviews, err = s.reviews.ListByUnit(gctx, courseID, unitID)
		return err
	})
	if err := g.Wait(); err != nil {
		return progression.Eligibility{}, err
	}

	unit, ok := progression.NewCourseIndex(course).Unit(unitID)
	if !ok {
		return progression.Eligibility{}, domain.ErrUnitNotFound
	}
	eligible := progression.EligibleQuestions(unit, reviews, s.legacyBootstrap)
	if eligible.Legacy {
		s.log.Warn("sampling unreviewed questions", "course", courseID, "unit", unitID, "questions", len(eligible.Questions))
	}
	return eligible, nil
}
