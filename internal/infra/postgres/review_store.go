package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"course-progression-service/internal/domain"
)

type reviewRow struct {
	bun.BaseModel `bun:"table:question_reviews"`

	ID          string     `bun:"id,pk"`
	QuestionID  string     `bun:"question_id,notnull"`
	QuizID      string     `bun:"quiz_id,notnull"`
	CourseID    string     `bun:"course_id,notnull"`
	UnitID      string     `bun:"unit_id,notnull"`
	Status      string     `bun:"status,notnull"`
	UploaderID  string     `bun:"uploader_id,notnull"`
	ResolverID  string     `bun:"resolver_id,notnull"`
	Note        string     `bun:"note,notnull"`
	SubmittedAt time.Time  `bun:"submitted_at,notnull"`
	ResolvedAt  *time.Time `bun:"resolved_at"`
}

func toReviewRow(r domain.QuestionReview) *reviewRow {
	return &reviewRow{
		ID:          r.ID,
		QuestionID:  r.QuestionID,
		QuizID:      r.QuizID,
		CourseID:    r.CourseID,
		UnitID:      r.UnitID,
		Status:      string(r.Status),
		UploaderID:  r.UploaderID,
		ResolverID:  r.ResolverID,
		Note:        r.Note,
		SubmittedAt: r.SubmittedAt,
		ResolvedAt:  r.ResolvedAt,
	}
}

func (r *reviewRow) toDomain() domain.QuestionReview {
	return domain.QuestionReview{
		ID:          r.ID,
		QuestionID:  r.QuestionID,
		QuizID:      r.QuizID,
		CourseID:    r.CourseID,
		UnitID:      r.UnitID,
		Status:      domain.ReviewStatus(r.Status),
		UploaderID:  r.UploaderID,
		ResolverID:  r.ResolverID,
		Note:        r.Note,
		SubmittedAt: r.SubmittedAt,
		ResolvedAt:  r.ResolvedAt,
	}
}

// ReviewStore persists question reviews with bun.
type ReviewStore struct {
	db *bun.DB
}

func NewReviewStore(db *bun.DB) *ReviewStore {
	return &ReviewStore{db: db}
}

func (s *ReviewStore) Create(ctx context.Context, review domain.QuestionReview) error {
	if _, err := s.db.NewInsert().Model(toReviewRow(review)).Exec(ctx); err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

func (s *ReviewStore) Get(ctx context.Context, reviewID string) (domain.QuestionReview, error) {
	row := new(reviewRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", reviewID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QuestionReview{}, domain.ErrReviewNotFound
	}
	if err != nil {
		return domain.QuestionReview{}, fmt.Errorf("get review: %w", err)
	}
	return row.toDomain(), nil
}

func (s *ReviewStore) Update(ctx context.Context, review domain.QuestionReview, from domain.ReviewStatus) error {
	res, err := s.db.NewUpdate().
		Model(toReviewRow(review)).
		Column("status", "resolver_id", "note", "resolved_at").
		Where("id = ?", review.ID).
		Where("status = ?", string(from)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, review.ID); err != nil {
			return err
		}
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *ReviewStore) ListByUnit(ctx context.Context, courseID, unitID string) ([]domain.QuestionReview, error) {
	var rows []reviewRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("course_id = ?", courseID).
		Where("unit_id = ?", unitID).
		Order("submitted_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	out := make([]domain.QuestionReview, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
