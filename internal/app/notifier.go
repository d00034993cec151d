package app

import (
	"sync"

	"course-progression-service/internal/domain"
	"course-progression-service/internal/progression"
)

// UpdateType names a pushed ledger change.
type UpdateType string

const (
	UpdateUnlocked         UpdateType = "unlocked"
	UpdateSecurityLocked   UpdateType = "securityLocked"
	UpdateSecurityUnlocked UpdateType = "securityUnlocked"
)

// Update is pushed to realtime subscribers of a ledger.
type Update struct {
	Type      UpdateType               `json:"type"`
	UnitID    string                   `json:"unitId,omitempty"`
	AttemptID string                   `json:"attemptId,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
	Unlocked  *progression.UnlockDelta `json:"unlocked,omitempty"`
}

// Notifier fans committed ledger changes out to subscribers, keyed by
// student and course.
type Notifier struct {
	mu          sync.Mutex
	subscribers map[domain.LedgerKey]map[chan Update]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{subscribers: make(map[domain.LedgerKey]map[chan Update]struct{})}
}

// Subscribe returns a channel of updates for key and a cancel func that
// closes it.
func (n *Notifier) Subscribe(key domain.LedgerKey) (<-chan Update, func()) {
	ch := make(chan Update, 8)

	n.mu.Lock()
	subs, ok := n.subscribers[key]
	if !ok {
		subs = make(map[chan Update]struct{})
		n.subscribers[key] = subs
	}
	subs[ch] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subs, ok := n.subscribers[key]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(n.subscribers, key)
		}
	}
	return ch, cancel
}

// Publish delivers u to every subscriber of key. A full subscriber loses its
// oldest pending update rather than blocking the publisher.
func (n *Notifier) Publish(key domain.LedgerKey, u Update) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subscribers[key] {
		select {
		case ch <- u:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- u
		}
	}
}

// Subscribers counts live subscriptions for key.
func (n *Notifier) Subscribers(key domain.LedgerKey) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers[key])
}
