package app_test

import (
	"testing"

	"course-progression-service/internal/app"
	"course-progression-service/internal/domain"
)

func TestNotifierDeliversAndDropsOldest(t *testing.T) {
	n := app.NewNotifier()
	key := domain.LedgerKey{StudentID: "s1", CourseID: "c1"}
	ch, cancel := n.Subscribe(key)

	for i := 0; i < 10; i++ {
		n.Publish(key, app.Update{Type: app.UpdateUnlocked, UnitID: string(rune('a' + i))})
	}
	first := <-ch
	if first.UnitID != "c" {
		t.Fatalf("expected oldest updates dropped, got %q", first.UnitID)
	}

	n.Publish(domain.LedgerKey{StudentID: "s2", CourseID: "c1"}, app.Update{Type: app.UpdateUnlocked})
	if got := n.Subscribers(key); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	cancel()
	if _, ok := <-drain(ch); ok {
		t.Fatalf("expected channel closed after cancel")
	}
	if got := n.Subscribers(key); got != 0 {
		t.Fatalf("expected no subscribers, got %d", got)
	}
	cancel()
}

// drain discards buffered updates and returns the channel once empty.
func drain(ch <-chan app.Update) <-chan app.Update {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				closed := make(chan app.Update)
				close(closed)
				return closed
			}
		default:
			return ch
		}
	}
}
