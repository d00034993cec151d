package progression

import "time"

// Policy holds the tunable thresholds of progression and assessment.
type Policy struct {
	// Cooldown is the wait imposed after a failed, submitted attempt.
	Cooldown time.Duration
	// BaseAttempts is the quota before extra grants and security unlocks.
	BaseAttempts int
	// ViolationThreshold is the per-attempt violation count that forces
	// submission and locks the unit. Zero disables locking.
	ViolationThreshold int
	// AttemptGrace is tolerated past an attempt's time limit before it is
	// force-closed.
	AttemptGrace time.Duration
	// CompletionRatio of a known duration that marks a video watched.
	CompletionRatio float64
	// UnknownDurationMinimum marks a video of unknown length watched.
	UnknownDurationMinimum time.Duration
	// WatchTolerance is how far a progress ping may regress before it is
	// rejected as stale.
	WatchTolerance time.Duration
	// MaxPlaybackRate bounds accepted playback rates.
	MaxPlaybackRate float64
}

func DefaultPolicy() Policy {
	return Policy{
		Cooldown:               8 * time.Hour,
		BaseAttempts:           1,
		ViolationThreshold:     3,
		AttemptGrace:           30 * time.Second,
		CompletionRatio:        0.9,
		UnknownDurationMinimum: 5 * time.Second,
		WatchTolerance:         2 * time.Second,
		MaxPlaybackRate:        4,
	}
}
