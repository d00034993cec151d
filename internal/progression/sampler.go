package progression

import (
	"math/rand"
	"sync"
	"time"

	"course-progression-service/internal/domain"
)

// Sampler draws question snapshots for new attempts. It never remembers a
// previous order; every draw is a fresh shuffle.
type Sampler struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSampler() *Sampler {
	return NewSamplerWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewSamplerWithRand allows deterministic shuffles in tests.
func NewSamplerWithRand(rnd *rand.Rand) *Sampler {
	return &Sampler{rnd: rnd}
}

// SamplePool filters the pool's quizzes to eligible questions, shuffles them
// and truncates to QuestionsPerAttempt (all when it is not positive).
func (s *Sampler) SamplePool(pool domain.QuizPool, quizzes []domain.Quiz, eligible Eligibility) ([]domain.Question, error) {
	inPool := make(map[string]struct{}, len(pool.QuizIDs))
	for _, id := range pool.QuizIDs {
		inPool[id] = struct{}{}
	}
	var candidates []domain.Question
	seen := make(map[string]struct{})
	for _, quiz := range quizzes {
		if _, ok := inPool[quiz.ID]; !ok {
			continue
		}
		for _, q := range quiz.Questions {
			if _, dup := seen[q.ID]; dup || !eligible.Contains(q.ID) {
				continue
			}
			seen[q.ID] = struct{}{}
			candidates = append(candidates, snapshot(q))
		}
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoEligibleQuestions
	}

	s.mu.Lock()
	s.rnd.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	s.mu.Unlock()

	n := pool.QuestionsPerAttempt
	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n], nil
}

// SampleQuiz snapshots the eligible questions of a single quiz in authored order.
func (s *Sampler) SampleQuiz(quiz domain.Quiz, eligible Eligibility) ([]domain.Question, error) {
	var out []domain.Question
	for _, q := range quiz.Questions {
		if eligible.Contains(q.ID) {
			out = append(out, snapshot(q))
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrNoEligibleQuestions
	}
	return out, nil
}

func snapshot(q domain.Question) domain.Question {
	q.Options = append([]string(nil), q.Options...)
	q.Points = q.Score()
	return q
}
