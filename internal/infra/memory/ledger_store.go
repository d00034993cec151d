package memory

import (
	"context"
	"sync"

	"course-progression-service/internal/domain"
)

// LedgerStore is an in-memory implementation of app.LedgerRepository. It
// keeps private copies so callers never share state with the store.
type LedgerStore struct {
	mu      sync.RWMutex
	ledgers map[domain.LedgerKey]*domain.ProgressLedger
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		ledgers: make(map[domain.LedgerKey]*domain.ProgressLedger),
	}
}

func (s *LedgerStore) Load(_ context.Context, key domain.LedgerKey) (*domain.ProgressLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ledger, ok := s.ledgers[key]
	if !ok {
		return nil, domain.ErrLedgerNotFound
	}
	return ledger.Clone(), nil
}

func (s *LedgerStore) Create(_ context.Context, ledger *domain.ProgressLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ledger.Key()
	if _, ok := s.ledgers[key]; ok {
		return domain.ErrVersionConflict
	}
	ledger.Version = 1
	s.ledgers[key] = ledger.Clone()
	return nil
}

func (s *LedgerStore) Save(_ context.Context, ledger *domain.ProgressLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ledger.Key()
	current, ok := s.ledgers[key]
	if !ok || current.Version != ledger.Version {
		return domain.ErrVersionConflict
	}
	ledger.Version++
	s.ledgers[key] = ledger.Clone()
	return nil
}

// AttemptIndex is an in-memory implementation of app.AttemptIndex.
type AttemptIndex struct {
	mu   sync.RWMutex
	keys map[string]domain.LedgerKey
}

func NewAttemptIndex() *AttemptIndex {
	return &AttemptIndex{keys: make(map[string]domain.LedgerKey)}
}

func (i *AttemptIndex) Put(_ context.Context, attemptID string, key domain.LedgerKey) error {
	i.mu.Lock()
	i.keys[attemptID] = key
	i.mu.Unlock()
	return nil
}

func (i *AttemptIndex) Lookup(_ context.Context, attemptID string) (domain.LedgerKey, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	key, ok := i.keys[attemptID]
	if !ok {
		return domain.LedgerKey{}, domain.ErrAttemptNotFound
	}
	return key, nil
}
