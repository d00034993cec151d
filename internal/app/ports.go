package app

import (
	"context"

	"course-progression-service/internal/audit"
	"course-progression-service/internal/domain"
)

// LedgerRepository stores progress ledgers with optimistic concurrency.
// Create fails with domain.ErrVersionConflict when the ledger already exists;
// Save fails with it when the stored version differs from ledger.Version.
// Both bump ledger.Version on success.
type LedgerRepository interface {
	Load(ctx context.Context, key domain.LedgerKey) (*domain.ProgressLedger, error)
	Create(ctx context.Context, ledger *domain.ProgressLedger) error
	Save(ctx context.Context, ledger *domain.ProgressLedger) error
}

// AttemptIndex maps attempt ids to the ledger that owns them.
type AttemptIndex interface {
	Put(ctx context.Context, attemptID string, key domain.LedgerKey) error
	Lookup(ctx context.Context, attemptID string) (domain.LedgerKey, error)
}

// ReviewRepository stores question reviews. Update only succeeds while the
// stored status still equals from; otherwise it fails with
// domain.ErrVersionConflict.
type ReviewRepository interface {
	Create(ctx context.Context, review domain.QuestionReview) error
	Get(ctx context.Context, reviewID string) (domain.QuestionReview, error)
	Update(ctx context.Context, review domain.QuestionReview, from domain.ReviewStatus) error
	ListByUnit(ctx context.Context, courseID, unitID string) ([]domain.QuestionReview, error)
}

// CatalogRepository loads course structure (from cache/backing store).
type CatalogRepository interface {
	GetCourse(ctx context.Context, courseID string) (domain.Course, error)
}

// EnrollmentChecker answers whether a student may access a course.
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
}

// OverviewCache holds computed course overviews for a bounded time.
type OverviewCache interface {
	Get(ctx context.Context, key domain.LedgerKey) (Overview, bool)
	Set(ctx context.Context, key domain.LedgerKey, overview Overview)
	Invalidate(ctx context.Context, key domain.LedgerKey)
}

// AuditEmitter accepts events without blocking the caller.
type AuditEmitter interface {
	Emit(ev audit.Event)
}
