package fraud

import (
	"fmt"
	"math"
	"time"

	"courseview-backend/internal/models"
)

// AnalyzeEventSequence looks for manipulation signatures across an ordered event stream.
func (s *Service) AnalyzeEventSequence(events []models.ViewingEvent) Assessment {
	cfg := s.cfg
	var b builder
	if len(events) == 0 {
		return b.result(cfg.InvalidRisk)
	}

	ordered := byClientTime(events)

	var seeks, plays, heartbeats, visibility, visibleVisibility, fast int
	maxSpeed := 0.0
	for i, e := range ordered {
		switch e.EventType {
		case models.EventSeek:
			seeks++
		case models.EventPlay:
			plays++
		case models.EventHeartbeat:
			heartbeats++
		}
		if e.IsVisibilityEvent() {
			visibility++
			if e.IsTabVisible {
				visibleVisibility++
			}
		}
		if i == 0 {
			continue
		}
		if speed, ok := impliedSpeed(ordered[i-1], e); ok && speed > cfg.SequenceMaxSpeed {
			fast++
			maxSpeed = math.Max(maxSpeed, speed)
		}
	}

	if fast > 0 {
		b.add(float64(fast)*cfg.SequenceSpeedPoints,
			fmt.Sprintf("Playback speed manipulation: %d jump(s), up to %.1fx", fast, maxSpeed),
			"Check for playback speed manipulation")
	}

	if float64(seeks)/float64(len(ordered)) > cfg.SequenceSeekRatio {
		b.add(cfg.SequenceSeekPoints,
			fmt.Sprintf("Seek events make up %.0f%% of activity", float64(seeks)/float64(len(ordered))*100),
			"Review for content skipping")
	}

	if maxInWindow(ordered, cfg.RapidFireWindow) >= cfg.RapidFireCount {
		b.add(cfg.RapidFirePoints, "Rapid-fire events detected", "Possible automated client")
	}

	if plays > 0 && heartbeats == 0 {
		b.add(cfg.MissingHeartbeatPoints, "Playback without heartbeats", "Client may be bypassing telemetry")
	}

	if visibility > cfg.VisibilitySpoofMinCount && visibleVisibility == visibility {
		b.add(cfg.VisibilitySpoofPoints, "Visibility events always report visible", "Possible Visibility API spoofing")
	}

	return b.result(cfg.InvalidRisk)
}

// AnalyzeSeekPatterns scores how seeks are distributed, independently of other events.
func (s *Service) AnalyzeSeekPatterns(events []models.ViewingEvent) Assessment {
	cfg := s.cfg
	var b builder
	if len(events) == 0 {
		return b.result(cfg.InvalidRisk)
	}

	stats := collectSeekStats(byClientTime(events), cfg.LongSeekSeconds, cfg.RapidSeekWindow.Seconds())
	if stats.count == 0 {
		return b.result(cfg.InvalidRisk)
	}

	seekRatio := float64(stats.count) / float64(len(events))
	if seekRatio > cfg.SeekRatio {
		b.add(cfg.SeekRatioPoints,
			fmt.Sprintf("High seek ratio (%.0f%%)", seekRatio*100),
			"Review for content skipping")
	}

	if stats.long > cfg.LongSeekMinCount {
		b.add(cfg.LongSeekPoints,
			fmt.Sprintf("%d seeks longer than %.0fs", stats.long, cfg.LongSeekSeconds),
			"Student may be skipping required content")
	}

	forwardRatio := float64(stats.forward) / float64(stats.count)
	if stats.count >= cfg.ForwardSeekMinCount && forwardRatio > cfg.ForwardSeekRatio {
		b.add(cfg.ForwardSeekPoints,
			fmt.Sprintf("%.0f%% of seeks jump forward", forwardRatio*100),
			"Content-skipping pattern detected")
	}

	if stats.rapid >= cfg.RapidSeekMinCount {
		b.add(cfg.RapidSeekPoints,
			fmt.Sprintf("%d rapid consecutive seeks", stats.rapid),
			"Possible scrubbing to fake progress")
	}

	if score := seekSuspicionScore(seekRatio, stats.avgDistance(), forwardRatio, stats.rapid); score > cfg.SeekSuspicionLimit {
		b.add(cfg.SeekSuspicionPoints,
			fmt.Sprintf("Seek suspicion score %.0f", score),
			"Flag lesson progress for manual review")
	}

	return b.result(cfg.InvalidRisk)
}

type seekStats struct {
	count, forward, long, rapid int
	totalDistance               float64
}

func (s seekStats) avgDistance() float64 {
	if s.count == 0 {
		return 0
	}
	return s.totalDistance / float64(s.count)
}

// collectSeekStats counts a seek as rapid when the previous seek happened
// within rapidWindow seconds.
func collectSeekStats(ordered []models.ViewingEvent, longSeconds, rapidWindow float64) seekStats {
	var st seekStats
	lastSeek := -1
	for i, e := range ordered {
		if e.EventType != models.EventSeek {
			continue
		}
		d := seekDistance(ordered, i)
		st.count++
		st.totalDistance += math.Abs(d)
		if d > 0 {
			st.forward++
		}
		if math.Abs(d) > longSeconds {
			st.long++
		}
		if lastSeek >= 0 && e.ClientTimestamp.Sub(ordered[lastSeek].ClientTimestamp).Seconds() <= rapidWindow {
			st.rapid++
		}
		lastSeek = i
	}
	return st
}

// seekSuspicionScore blends seek frequency, distance, forward bias and rapid
// seeking into a 0-100 score.
func seekSuspicionScore(seekRatio, avgDistance, forwardRatio float64, rapid int) float64 {
	score := math.Min(30, seekRatio*30) +
		math.Min(25, avgDistance/60*25) +
		forwardRatio*25 +
		math.Min(20, float64(rapid)*2)
	return clamp(score)
}

// maxInWindow is the largest number of events inside any window of the given width.
func maxInWindow(ordered []models.ViewingEvent, window time.Duration) int {
	best, start := 0, 0
	for end := range ordered {
		for ordered[end].ClientTimestamp.Sub(ordered[start].ClientTimestamp) > window {
			start++
		}
		if n := end - start + 1; n > best {
			best = n
		}
	}
	return best
}
