package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"course-progression-service/internal/domain"
	"course-progression-service/internal/infra/memory"
)

func TestCatalogRepositoryCachesInRedis(t *testing.T) {
	mr, client := newTestClient(t)

	loader := &countingLoader{CourseLoader: memory.NewStaticCourseLoader(sampleCourse())}
	repo := NewCatalogRepository(client, loader, time.Minute)

	course, err := repo.GetCourse(context.Background(), "course-1")
	if err != nil {
		t.Fatalf("get course: %v", err)
	}
	if len(course.Units) != 1 || course.Units[0].Videos[0].Duration != 60 {
		t.Fatalf("unexpected course: %+v", course)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("catalog:course:course-1") {
		t.Fatalf("expected course cached in redis")
	}
	if ttl := mr.TTL("catalog:course:course-1"); ttl < time.Minute || ttl > 66*time.Second {
		t.Fatalf("expected ttl with jitter, got %v", ttl)
	}

	// Second call should hit cache, loader not incremented.
	cached, _ := repo.GetCourse(context.Background(), "course-1")
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if cached.Units[0].Videos[0].ID != "video-1" {
		t.Fatalf("cached course lost data: %+v", cached)
	}

	if err := repo.Invalidate(context.Background(), "course-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = repo.GetCourse(context.Background(), "course-1")
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.calls)
	}
}

func TestCatalogRepositoryPropagatesLoaderErrors(t *testing.T) {
	_, client := newTestClient(t)
	repo := NewCatalogRepository(client, memory.NewStaticCourseLoader(), time.Minute)

	if _, err := repo.GetCourse(context.Background(), "missing"); !errors.Is(err, domain.ErrCourseNotFound) {
		t.Fatalf("expected course not found, got %v", err)
	}
}

type countingLoader struct {
	memory.CourseLoader
	calls int
}

func (l *countingLoader) LoadCourse(ctx context.Context, courseID string) (domain.Course, error) {
	l.calls++
	return l.CourseLoader.LoadCourse(ctx, courseID)
}

func sampleCourse() domain.Course {
	return domain.Course{
		ID:    "course-1",
		Title: "Intro",
		Units: []domain.Unit{
			{
				ID:       "unit-1",
				CourseID: "course-1",
				Videos:   []domain.Video{{ID: "video-1", UnitID: "unit-1", Sequence: 1, Duration: 60}},
			},
		},
	}
}
