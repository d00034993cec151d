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

type ledgerRow struct {
	bun.BaseModel `bun:"table:progress_ledgers"`

	StudentID string                 `bun:"student_id,pk"`
	CourseID  string                 `bun:"course_id,pk"`
	Version   int64                  `bun:"version,notnull"`
	Data      *domain.ProgressLedger `bun:"data,type:jsonb,notnull"`
	CreatedAt time.Time              `bun:"created_at,notnull"`
	UpdatedAt time.Time              `bun:"updated_at,notnull"`
}

type attemptRow struct {
	bun.BaseModel `bun:"table:quiz_attempt_index"`

	AttemptID string `bun:"attempt_id,pk"`
	StudentID string `bun:"student_id,notnull"`
	CourseID  string `bun:"course_id,notnull"`
}

// LedgerStore persists ledgers as JSONB rows. The version column is the
// compare-and-swap guard: an UPDATE that matches no row lost the race.
type LedgerStore struct {
	db *bun.DB
}

func NewLedgerStore(db *bun.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Load(ctx context.Context, key domain.LedgerKey) (*domain.ProgressLedger, error) {
	row := new(ledgerRow)
	err := s.db.NewSelect().
		Model(row).
		Where("student_id = ?", key.StudentID).
		Where("course_id = ?", key.CourseID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	ledger := row.Data
	ledger.Version = row.Version
	return ledger, nil
}

func (s *LedgerStore) Create(ctx context.Context, ledger *domain.ProgressLedger) error {
	next := *ledger
	next.Version = 1
	row := &ledgerRow{
		StudentID: ledger.StudentID,
		CourseID:  ledger.CourseID,
		Version:   1,
		Data:      &next,
		CreatedAt: ledger.CreatedAt,
		UpdatedAt: ledger.UpdatedAt,
	}
	res, err := s.db.NewInsert().Model(row).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrVersionConflict
	}
	ledger.Version = 1
	return nil
}

func (s *LedgerStore) Save(ctx context.Context, ledger *domain.ProgressLedger) error {
	next := *ledger
	next.Version = ledger.Version + 1
	row := &ledgerRow{
		StudentID: ledger.StudentID,
		CourseID:  ledger.CourseID,
		Version:   next.Version,
		Data:      &next,
		UpdatedAt: ledger.UpdatedAt,
	}
	res, err := s.db.NewUpdate().
		Model(row).
		Column("version", "data", "updated_at").
		Where("student_id = ?", ledger.StudentID).
		Where("course_id = ?", ledger.CourseID).
		Where("version = ?", ledger.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	if n == 0 {
		return domain.ErrVersionConflict
	}
	ledger.Version = next.Version
	return nil
}

// AttemptIndex maps attempt ids to ledgers in Postgres.
type AttemptIndex struct {
	db *bun.DB
}

func NewAttemptIndex(db *bun.DB) *AttemptIndex {
	return &AttemptIndex{db: db}
}

func (i *AttemptIndex) Put(ctx context.Context, attemptID string, key domain.LedgerKey) error {
	row := &attemptRow{AttemptID: attemptID, StudentID: key.StudentID, CourseID: key.CourseID}
	if _, err := i.db.NewInsert().Model(row).On("CONFLICT (attempt_id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("index attempt: %w", err)
	}
	return nil
}

func (i *AttemptIndex) Lookup(ctx context.Context, attemptID string) (domain.LedgerKey, error) {
	row := new(attemptRow)
	err := i.db.NewSelect().Model(row).Where("attempt_id = ?", attemptID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerKey{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.LedgerKey{}, fmt.Errorf("lookup attempt: %w", err)
	}
	return domain.LedgerKey{StudentID: row.StudentID, CourseID: row.CourseID}, nil
}
