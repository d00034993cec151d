package memory

import (
	"context"
	"sort"
	"sync"

	"course-progression-service/internal/domain"
)

// ReviewStore is an in-memory implementation of app.ReviewRepository.
type ReviewStore struct {
	mu      sync.RWMutex
	reviews map[string]domain.QuestionReview
}

func NewReviewStore() *ReviewStore {
	return &ReviewStore{reviews: make(map[string]domain.QuestionReview)}
}

func (s *ReviewStore) Create(_ context.Context, review domain.QuestionReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[review.ID]; ok {
		return domain.Invalid("reviewId", "duplicate")
	}
	s.reviews[review.ID] = review
	return nil
}

func (s *ReviewStore) Get(_ context.Context, reviewID string) (domain.QuestionReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	review, ok := s.reviews[reviewID]
	if !ok {
		return domain.QuestionReview{}, domain.ErrReviewNotFound
	}
	return review, nil
}

func (s *ReviewStore) Update(_ context.Context, review domain.QuestionReview, from domain.ReviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reviews[review.ID]
	if !ok {
		return domain.ErrReviewNotFound
	}
	if current.Status != from {
		return domain.ErrVersionConflict
	}
	s.reviews[review.ID] = review
	return nil
}

func (s *ReviewStore) ListByUnit(_ context.Context, courseID, unitID string) ([]domain.QuestionReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.QuestionReview
	for _, r := range s.reviews {
		if r.CourseID == courseID && r.UnitID == unitID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}
