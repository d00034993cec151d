package app

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"course-progression-service/internal/domain"
	"course-progression-service/internal/progression"
)

// errUnchanged tells mutate the closure made no changes worth saving.
var errUnchanged = errors.New("unchanged")

// committedError carries a domain error out of a mutation whose state
// changes must still be saved, e.g. an attempt closed by its time limit
// right before a new one is refused.
type committedError struct{ err error }

func (e committedError) Error() string { return e.err.Error() }
func (e committedError) Unwrap() error { return e.err }

func persistAnd(err error) error { return committedError{err: err} }

// mutate runs fn against a fresh copy of the ledger and commits the result
// with a version check. On a conflict the whole read-modify-write is
// retried, so fn must derive everything from the ledger it is given.
func (s *ProgressService) mutate(ctx context.Context, key domain.LedgerKey, idx *progression.CourseIndex, fn func(*domain.ProgressLedger) error) (*domain.ProgressLedger, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stored, err := s.deps.Ledgers.Load(ctx, key)
		created := false
		switch {
		case errors.Is(err, domain.ErrLedgerNotFound):
			stored = progression.NewLedger(idx, key.StudentID, s.now())
			created = true
		case err != nil:
			return nil, err
		}

		working := stored.Clone()
		synced := progression.SyncUnits(idx, working)

		fnErr := fn(working)
		var committed committedError
		switch {
		case fnErr == nil:
		case errors.Is(fnErr, errUnchanged):
			if !created && !synced {
				return working, nil
			}
		case errors.As(fnErr, &committed):
		default:
			if !created && !synced {
				return nil, fnErr
			}
			// Keep the new or extended ledger, drop whatever fn touched.
			working = stored.Clone()
			progression.SyncUnits(idx, working)
		}

		working.UpdatedAt = s.now()
		if created {
			err = s.deps.Ledgers.Create(ctx, working)
		} else {
			err = s.deps.Ledgers.Save(ctx, working)
		}
		if errors.Is(err, domain.ErrVersionConflict) {
			s.deps.Log.Debug("ledger version conflict, retrying", "ledger", key.String(), "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		if created {
			s.deps.Log.Info("ledger created", "student", key.StudentID, "course", key.CourseID)
		}
		if s.deps.Overviews != nil {
			s.deps.Overviews.Invalidate(ctx, key)
		}

		switch {
		case fnErr == nil, errors.Is(fnErr, errUnchanged):
			return working, nil
		case errors.As(fnErr, &committed):
			return working, committed.err
		default:
			return nil, fnErr
		}
	}
	s.deps.Log.Warn("ledger write retries exhausted", "ledger", key.String(), "retries", s.maxRetries)
	return nil, domain.ErrRetryExhausted
}

func joinIDs(ids []string) string { return strings.Join(ids, ",") }

func boolString(b bool) string { return strconv.FormatBool(b) }
