package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-progression-service/internal/domain"
)

// CatalogLoader loads course JSONB from Postgres.
type CatalogLoader struct {
	pool *pgxpool.Pool
}

func NewCatalogLoader(pool *pgxpool.Pool) *CatalogLoader {
	return &CatalogLoader{pool: pool}
}

func (l *CatalogLoader) LoadCourse(ctx context.Context, courseID string) (domain.Course, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM courses WHERE id=$1`, courseID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Course{}, domain.ErrCourseNotFound
	}
	if err != nil {
		return domain.Course{}, fmt.Errorf("load course: %w", err)
	}
	var course domain.Course
	if err := json.Unmarshal(raw, &course); err != nil {
		return domain.Course{}, fmt.Errorf("unmarshal course: %w", err)
	}
	return course, nil
}

// EnrollmentChecker answers enrollment from the enrollments table.
type EnrollmentChecker struct {
	pool *pgxpool.Pool
}

func NewEnrollmentChecker(pool *pgxpool.Pool) *EnrollmentChecker {
	return &EnrollmentChecker{pool: pool}
}

func (e *EnrollmentChecker) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	var ok bool
	err := e.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id=$1 AND course_id=$2)`,
		studentID, courseID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return ok, nil
}

// PutCourse upserts a course document.
func (l *CatalogLoader) PutCourse(ctx context.Context, course domain.Course) error {
	data, err := json.Marshal(course)
	if err != nil {
		return fmt.Errorf("marshal course: %w", err)
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO courses (id, data, updated_at) VALUES ($1, $2::jsonb, now())
		 ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data, updated_at=now()`,
		course.ID, string(data),
	)
	if err != nil {
		return fmt.Errorf("put course: %w", err)
	}
	return nil
}

// Enroll records a student's enrollment; enrolling twice is a no-op.
func (e *EnrollmentChecker) Enroll(ctx context.Context, studentID, courseID string) error {
	_, err := e.pool.Exec(ctx,
		`INSERT INTO enrollments (student_id, course_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		studentID, courseID,
	)
	if err != nil {
		return fmt.Errorf("enroll: %w", err)
	}
	return nil
}
