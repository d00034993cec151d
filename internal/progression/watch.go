package progression

import (
	"math"
	"time"

	"course-progression-service/internal/domain"
)

// WatchPing is one playback telemetry sample from a client.
type WatchPing struct {
	VideoID      string
	TimeSpent    float64 // seconds
	CurrentTime  float64 // seconds
	PlaybackRate float64
	At           time.Time
}

// WatchOutcome is the effect of merging a ping.
type WatchOutcome struct {
	Accepted       bool
	NewlyCompleted bool
	Progress       domain.VideoProgress
}

// Validate rejects malformed telemetry.
func (p Policy) Validate(ping WatchPing) error {
	switch {
	case ping.VideoID == "":
		return domain.Invalid("videoId", "required")
	case math.IsNaN(ping.TimeSpent) || math.IsInf(ping.TimeSpent, 0) || ping.TimeSpent < 0:
		return domain.Invalid("timeSpent", "must be a non-negative number")
	case math.IsNaN(ping.CurrentTime) || math.IsInf(ping.CurrentTime, 0) || ping.CurrentTime < 0:
		return domain.Invalid("currentTime", "must be a non-negative number")
	case ping.PlaybackRate < 0 || (p.MaxPlaybackRate > 0 && ping.PlaybackRate > p.MaxPlaybackRate):
		return domain.Invalid("playbackRate", "out of range")
	}
	return nil
}

// VideoWatched applies the completion threshold to accumulated watch time.
func (p Policy) VideoWatched(video domain.Video, timeSpent float64) bool {
	if video.Duration <= 0 {
		return timeSpent >= p.UnknownDurationMinimum.Seconds()
	}
	return timeSpent >= p.CompletionRatio*video.Duration
}

// MergeWatch folds a ping into the video's progress. Watch time only moves
// forward: a ping that regresses beyond the tolerance is ignored as stale.
// Completion is credited subject to the unit deadline.
func (p Policy) MergeWatch(vp *domain.VideoProgress, video domain.Video, deadline *domain.DeadlinePolicy, ping WatchPing) WatchOutcome {
	if ping.TimeSpent < vp.TimeSpent-p.WatchTolerance.Seconds() {
		return WatchOutcome{Accepted: false, Progress: *vp}
	}

	spent := math.Max(vp.TimeSpent, ping.TimeSpent)
	if video.Duration > 0 {
		spent = math.Min(spent, video.Duration)
	}
	vp.TimeSpent = spent
	vp.LastPosition = ping.CurrentTime
	vp.UpdatedAt = ping.At

	out := WatchOutcome{Accepted: true}
	if !vp.Completed && p.VideoWatched(video, vp.TimeSpent) {
		c := ComplianceOf(deadline, ping.At)
		vp.WatchedAfterDeadline = c.CompletedAfterDeadline
		if c.ShouldCount {
			vp.Completed = true
			out.NewlyCompleted = true
		}
	}
	out.Progress = *vp
	return out
}
