package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"course-progression-service/internal/domain"
)

// LedgerStore keeps progress ledgers as JSON documents. Writes run inside
// WATCH/MULTI so a concurrent writer aborts the transaction, which is
// reported as domain.ErrVersionConflict.
//
//	progress:ledger:{studentID}:{courseID} -> ledger JSON (carries version)
//	progress:attempt:{attemptID}            -> {studentID, courseID}
type LedgerStore struct {
	client *redis.Client
}

func NewLedgerStore(client *redis.Client) *LedgerStore {
	return &LedgerStore{client: client}
}

func (s *LedgerStore) Load(ctx context.Context, key domain.LedgerKey) (*domain.ProgressLedger, error) {
	raw, err := s.client.Get(ctx, ledgerKey(key)).Bytes()
	if isNil(err) {
		return nil, domain.ErrLedgerNotFound
	}
	if err != nil {
		return nil, err
	}
	var ledger domain.ProgressLedger
	if err := json.Unmarshal(raw, &ledger); err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (s *LedgerStore) Create(ctx context.Context, ledger *domain.ProgressLedger) error {
	next := *ledger
	next.Version = 1
	payload, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, ledgerKey(ledger.Key()), payload, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrVersionConflict
	}
	ledger.Version = 1
	return nil
}

func (s *LedgerStore) Save(ctx context.Context, ledger *domain.ProgressLedger) error {
	key := ledgerKey(ledger.Key())
	next := *ledger
	next.Version = ledger.Version + 1
	payload, err := json.Marshal(&next)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if isNil(err) {
			return domain.ErrVersionConflict
		}
		if err != nil {
			return err
		}
		var stored struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(raw, &stored); err != nil {
			return err
		}
		if stored.Version != ledger.Version {
			return domain.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	ledger.Version = next.Version
	return nil
}

// AttemptIndex maps attempt ids to their ledger in Redis. Entries never
// expire: they live as long as the ledger that owns the attempt.
type AttemptIndex struct {
	client *redis.Client
}

func NewAttemptIndex(client *redis.Client) *AttemptIndex {
	return &AttemptIndex{client: client}
}

func (i *AttemptIndex) Put(ctx context.Context, attemptID string, key domain.LedgerKey) error {
	payload, err := json.Marshal(key)
	if err != nil {
		return err
	}
	return i.client.Set(ctx, attemptKey(attemptID), payload, 0).Err()
}

func (i *AttemptIndex) Lookup(ctx context.Context, attemptID string) (domain.LedgerKey, error) {
	raw, err := i.client.Get(ctx, attemptKey(attemptID)).Bytes()
	if isNil(err) {
		return domain.LedgerKey{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.LedgerKey{}, err
	}
	var key domain.LedgerKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return domain.LedgerKey{}, err
	}
	return key, nil
}

func ledgerKey(key domain.LedgerKey) string {
	return "progress:ledger:" + key.StudentID + ":" + key.CourseID
}

func attemptKey(attemptID string) string {
	return "progress:attempt:" + attemptID
}
