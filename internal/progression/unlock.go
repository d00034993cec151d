package progression

import (
	"time"

	"course-progression-service/internal/domain"
)

// EventKind classifies completion events.
type EventKind string

const (
	VideoCompleted EventKind = "video_completed"
	QuizPassed     EventKind = "quiz_passed"
)

// CompletionEvent is a credited completion that may unlock further content.
type CompletionEvent struct {
	Kind    EventKind
	UnitID  string
	VideoID string
}

// UnlockDelta lists what an event newly unlocks or completes.
type UnlockDelta struct {
	Units          []string `json:"units"`
	Videos         []string `json:"videos"`
	CompletedUnits []string `json:"completedUnits,omitempty"`
}

// Empty reports whether the delta changes nothing.
func (d UnlockDelta) Empty() bool {
	return len(d.Units) == 0 && len(d.Videos) == 0 && len(d.CompletedUnits) == 0
}

// Merge appends other to d.
func (d UnlockDelta) Merge(other UnlockDelta) UnlockDelta {
	d.Units = append(d.Units, other.Units...)
	d.Videos = append(d.Videos, other.Videos...)
	d.CompletedUnits = append(d.CompletedUnits, other.CompletedUnits...)
	return d
}

// ComputeUnlocks derives the unlock delta of an event without touching the
// ledger. The event's own completion is treated as already recorded.
func ComputeUnlocks(idx *CourseIndex, ledger *domain.ProgressLedger, ev CompletionEvent) UnlockDelta {
	p := propagation{idx: idx, ledger: ledger, ev: ev, seen: make(map[string]struct{})}
	unit, ok := idx.Unit(ev.UnitID)
	if !ok {
		return UnlockDelta{}
	}

	switch ev.Kind {
	case VideoCompleted:
		for i, v := range unit.Videos {
			if v.ID != ev.VideoID {
				continue
			}
			if i+1 < len(unit.Videos) {
				p.unlockVideo(unit.ID, unit.Videos[i+1].ID)
			}
			break
		}
		if !unit.HasQuiz() && p.allVideosCompleted(unit) {
			p.completeUnit(unit)
		}
	case QuizPassed:
		p.completeUnit(unit)
	}
	return p.delta
}

// CompleteEmpty derives the delta of opening a unit with neither videos nor
// a quiz. Other units yield an empty delta.
func CompleteEmpty(idx *CourseIndex, ledger *domain.ProgressLedger, unitID string) UnlockDelta {
	unit, ok := idx.Unit(unitID)
	if !ok || len(unit.Videos) > 0 || unit.HasQuiz() {
		return UnlockDelta{}
	}
	p := propagation{idx: idx, ledger: ledger, seen: make(map[string]struct{})}
	p.completeUnit(unit)
	return p.delta
}

type propagation struct {
	idx    *CourseIndex
	ledger *domain.ProgressLedger
	ev     CompletionEvent
	delta  UnlockDelta
	seen   map[string]struct{}
}

func (p *propagation) videoCompleted(unitID, videoID string) bool {
	if p.ev.Kind == VideoCompleted && p.ev.VideoID == videoID {
		return true
	}
	up, ok := p.ledger.Unit(unitID)
	return ok && up.VideoCompleted(videoID)
}

func (p *propagation) allVideosCompleted(unit domain.Unit) bool {
	for _, v := range unit.Videos {
		if !p.videoCompleted(unit.ID, v.ID) {
			return false
		}
	}
	return true
}

func (p *propagation) unlockVideo(unitID, videoID string) {
	up, ok := p.ledger.Unit(unitID)
	if ok && up.VideoUnlocked(videoID) {
		return
	}
	p.delta.Videos = append(p.delta.Videos, videoID)
}

func (p *propagation) completeUnit(unit domain.Unit) {
	if _, done := p.seen[unit.ID]; done {
		return
	}
	p.seen[unit.ID] = struct{}{}

	up, ok := p.ledger.Unit(unit.ID)
	if !ok || up.Status != domain.UnitCompleted {
		p.delta.CompletedUnits = append(p.delta.CompletedUnits, unit.ID)
	}

	next, ok := p.idx.Next(unit.ID)
	if !ok {
		return
	}
	nextUp, tracked := p.ledger.Unit(next.ID)
	if !tracked || !nextUp.Unlocked {
		p.delta.Units = append(p.delta.Units, next.ID)
	}
	if len(next.Videos) > 0 {
		p.unlockVideo(next.ID, next.Videos[0].ID)
	}
	// Units with nothing to do complete as soon as they open.
	if len(next.Videos) == 0 && !next.HasQuiz() {
		p.completeUnit(next)
	}
}

// ApplyDelta writes a delta into the ledger.
func ApplyDelta(idx *CourseIndex, ledger *domain.ProgressLedger, delta UnlockDelta, now time.Time) {
	for _, unitID := range delta.Units {
		if up, ok := ledger.Unit(unitID); ok {
			unlockUnit(up, now)
		}
	}
	for _, videoID := range delta.Videos {
		_, unitID, ok := idx.Video(videoID)
		if !ok {
			continue
		}
		if up, ok := ledger.Unit(unitID); ok {
			up.Video(videoID).Unlocked = true
		}
	}
	for _, unitID := range delta.CompletedUnits {
		up, ok := ledger.Unit(unitID)
		if !ok {
			continue
		}
		unlockUnit(up, now)
		if up.Status != domain.UnitCompleted {
			at := now
			up.Status = domain.UnitCompleted
			up.CompletedAt = &at
		}
	}
}
