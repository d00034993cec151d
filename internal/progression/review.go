package progression

import (
	"time"

	"course-progression-service/internal/domain"
)

// NewReview starts a question review in the pending state.
func NewReview(id string, question domain.Question, quizID, courseID, unitID, uploaderID string, now time.Time) domain.QuestionReview {
	return domain.QuestionReview{
		ID:          id,
		QuestionID:  question.ID,
		QuizID:      quizID,
		CourseID:    courseID,
		UnitID:      unitID,
		Status:      domain.ReviewPending,
		UploaderID:  uploaderID,
		SubmittedAt: now,
	}
}

// ApplyReview moves a review through its workflow:
//
//	pending  -> approved | flagged | rejected
//	approved -> flagged  (re-flag; approving again only refreshes the resolver)
//	flagged  -> approved | rejected
//
// Rejected is terminal. Authorization is checked by the caller.
func ApplyReview(review *domain.QuestionReview, action domain.ReviewAction, resolverID, note string, now time.Time) error {
	next, ok := reviewTarget(review.Status, action)
	if !ok {
		return &domain.TransitionError{From: review.Status, Action: action}
	}
	review.Status = next
	review.ResolverID = resolverID
	review.Note = note
	resolved := now
	review.ResolvedAt = &resolved
	return nil
}

func reviewTarget(from domain.ReviewStatus, action domain.ReviewAction) (domain.ReviewStatus, bool) {
	switch action {
	case domain.ActionApprove:
		switch from {
		case domain.ReviewPending, domain.ReviewFlagged, domain.ReviewApproved:
			return domain.ReviewApproved, true
		}
	case domain.ActionFlag:
		switch from {
		case domain.ReviewPending, domain.ReviewApproved:
			return domain.ReviewFlagged, true
		}
	case domain.ActionReject:
		switch from {
		case domain.ReviewPending, domain.ReviewFlagged:
			return domain.ReviewRejected, true
		}
	}
	return "", false
}

// Eligibility is the set of questions a unit may sample from.
type Eligibility struct {
	Questions map[string]struct{}
	// Legacy is set when no review exists for the unit and every authored
	// question was admitted without approval.
	Legacy bool
}

// Contains reports whether a question may be sampled.
func (e Eligibility) Contains(questionID string) bool {
	_, ok := e.Questions[questionID]
	return ok
}

// IDs returns the eligible question ids in no particular order.
func (e Eligibility) IDs() []string {
	out := make([]string, 0, len(e.Questions))
	for id := range e.Questions {
		out = append(out, id)
	}
	return out
}

// EligibleQuestions derives the sampling set of a unit from its reviews.
// With zero reviews and legacyBootstrap enabled every authored question of
// the unit is eligible.
func EligibleQuestions(unit domain.Unit, reviews []domain.QuestionReview, legacyBootstrap bool) Eligibility {
	set := make(map[string]struct{})
	if len(reviews) == 0 && legacyBootstrap {
		for _, quiz := range unit.Quizzes {
			for _, q := range quiz.Questions {
				set[q.ID] = struct{}{}
			}
		}
		return Eligibility{Questions: set, Legacy: true}
	}
	for _, r := range reviews {
		if r.Status == domain.ReviewApproved {
			set[r.QuestionID] = struct{}{}
		}
	}
	return Eligibility{Questions: set}
}
