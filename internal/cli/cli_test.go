package cli

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-progression-service/internal/domain"
	"course-progression-service/internal/progression"
)

func TestRootCommandWiring(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["start"])
	assert.True(t, names["migrate"])
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("port"))
}

func TestSampleCourseIsSamplable(t *testing.T) {
	course := sampleCourse()
	idx := progression.NewCourseIndex(course)
	sampler := progression.NewSamplerWithRand(rand.New(rand.NewSource(1)))

	for _, unit := range idx.Units() {
		if unit.Pool == nil {
			assert.False(t, unit.HasQuiz(), "unit %s", unit.ID)
			continue
		}
		eligible := progression.EligibleQuestions(unit, nil, true)
		questions, err := sampler.SamplePool(*unit.Pool, unit.Quizzes, eligible)
		require.NoError(t, err)
		assert.Len(t, questions, unit.Pool.QuestionsPerAttempt)

		_, _, passing, ok := idx.Source(domain.PoolSource(unit.Pool.ID))
		require.True(t, ok)
		assert.Equal(t, 70.0, passing)
	}
}
