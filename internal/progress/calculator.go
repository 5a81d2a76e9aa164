// Package progress reconstructs watched time from an untrusted event log.
//
// The calculator is pure: the same events always produce the same Result,
// which is what lets progress rows be upserted from the full history on
// every batch instead of being patched incrementally.
package progress

import (
	"math"
	"sort"

	"courseview-backend/internal/integrity"
	"courseview-backend/internal/models"
)

type Result struct {
	WatchedSegments         []models.TimeSegment `json:"watched_segments"`
	TotalWatchedSeconds     float64              `json:"total_watched_seconds"`
	CompletionPercentage    float64              `json:"completion_percentage"`
	SuspiciousActivityScore float64              `json:"suspicious_activity_score"`
	SuspiciousActivityCount int                  `json:"suspicious_activity_count"`
	QualityScore            float64              `json:"quality_score"`
	Indicators              []string             `json:"indicators"`
}

type Calculator struct {
	cfg integrity.ProgressConfig
}

func NewCalculator(cfg integrity.ProgressConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Calculate runs segment reconstruction and scoring for one (user, lesson) history.
func (c *Calculator) Calculate(events []models.ViewingEvent, videoDuration float64) Result {
	segments := c.CalculateWatchedSegments(events)

	total := 0.0
	for _, s := range segments {
		total += s.Duration()
	}

	completion := 0.0
	if videoDuration > 0 {
		completion = math.Min(100, total/videoDuration*100)
	}

	sus := c.SuspiciousActivityScore(events)

	return Result{
		WatchedSegments:         segments,
		TotalWatchedSeconds:     total,
		CompletionPercentage:    completion,
		SuspiciousActivityScore: sus.Score,
		SuspiciousActivityCount: sus.Count,
		QualityScore:            c.QualityScore(segments, total, videoDuration, sus.Score),
		Indicators:              sus.Indicators,
	}
}

// CalculateWatchedSegments walks events in video-time order keeping at most
// one open segment, then drops degenerate segments and merges near neighbours.
func (c *Calculator) CalculateWatchedSegments(events []models.ViewingEvent) []models.TimeSegment {
	if len(events) == 0 {
		return []models.TimeSegment{}
	}

	sorted := sortByVideoTime(events)

	var (
		segments []models.TimeSegment
		open     *models.TimeSegment
	)
	closeAt := func(end float64) {
		if open == nil {
			return
		}
		open.End = end
		segments = append(segments, *open)
		open = nil
	}

	for _, e := range sorted {
		switch e.EventType {
		case models.EventPlay:
			if !e.IsTabVisible {
				continue
			}
			closeAt(e.TimestampInVideo)
			open = &models.TimeSegment{Start: e.TimestampInVideo}
		case models.EventPause, models.EventEnd:
			closeAt(e.TimestampInVideo)
		case models.EventSeek:
			// Never credit time past where playback had reached.
			if open != nil {
				closeAt(math.Min(open.Start, e.TimestampInVideo))
			}
		case models.EventHeartbeat:
			if !e.IsTabVisible {
				closeAt(e.TimestampInVideo)
			}
		}
	}

	// A segment still open at the end of the log is credited up to the
	// furthest confirmed position.
	if open != nil {
		closeAt(sorted[len(sorted)-1].TimestampInVideo)
	}

	valid := segments[:0]
	for _, s := range segments {
		if s.End <= s.Start || s.Duration() < c.cfg.MinSegmentSeconds {
			continue
		}
		valid = append(valid, s)
	}

	return c.MergeSegments(valid)
}

// MergeSegments coalesces segments whose gap is within the merge tolerance.
func (c *Calculator) MergeSegments(segments []models.TimeSegment) []models.TimeSegment {
	if len(segments) == 0 {
		return []models.TimeSegment{}
	}

	sorted := make([]models.TimeSegment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := []models.TimeSegment{sorted[0]}
	for _, s := range sorted[1:] {
		last := &merged[len(merged)-1]
		if s.Start <= last.End+c.cfg.MergeGapSeconds {
			last.End = math.Max(last.End, s.End)
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

type Suspicion struct {
	Score      float64
	Count      int
	Indicators []string
}

// SuspiciousActivityScore sums capped components and clamps to 100.
// Count is the number of individual events that contributed.
func (c *Calculator) SuspiciousActivityScore(events []models.ViewingEvent) Suspicion {
	sus := Suspicion{Indicators: []string{}}
	if len(events) == 0 {
		return sus
	}

	ordered := sortByClientTime(events)

	var (
		seeks     []models.ViewingEvent
		seekDists []float64
	)
	toggles, heartbeats, invisibleHeartbeats := 0, 0, 0
	for i, e := range ordered {
		switch e.EventType {
		case models.EventSeek:
			seeks = append(seeks, e)
			seekDists = append(seekDists, seekDistance(ordered, i))
		case models.EventPlay, models.EventPause:
			toggles++
		case models.EventHeartbeat:
			heartbeats++
			if !e.IsTabVisible {
				invisibleHeartbeats++
			}
		}
	}

	// rapid seeking: every seek inside some window of RapidSeekMinCount or
	// more seeks scores once
	rapidSeeks := 0
	inBurst := make([]bool, len(seeks))
	for i := range seeks {
		j := i
		for j+1 < len(seeks) && seeks[j+1].ClientTimestamp.Sub(seeks[i].ClientTimestamp) <= c.cfg.RapidSeekWindow {
			j++
		}
		if j-i+1 < c.cfg.RapidSeekMinCount {
			continue
		}
		for k := i; k <= j; k++ {
			if !inBurst[k] {
				inBurst[k] = true
				rapidSeeks++
			}
		}
	}
	if rapidSeeks > 0 {
		sus.Score += math.Min(c.cfg.RapidSeekCap, float64(rapidSeeks)*c.cfg.RapidSeekPoints)
		sus.Count += rapidSeeks
		sus.Indicators = append(sus.Indicators, "rapid_seeking")
	}

	// large jumps
	jumps, jumpCount := 0.0, 0
	for _, dist := range seekDists {
		d := math.Abs(dist)
		if d > c.cfg.LargeJumpSeconds {
			// a jump three times the threshold earns the full per-jump points
			jumps += math.Min(c.cfg.LargeJumpMaxPoints, d/c.cfg.LargeJumpSeconds*c.cfg.LargeJumpMaxPoints/3)
			jumpCount++
		}
	}
	if jumpCount > 0 {
		sus.Score += math.Min(c.cfg.LargeJumpCap, jumps)
		sus.Count += jumpCount
		sus.Indicators = append(sus.Indicators, "large_jumps")
	}

	// erratic play/pause cycling
	if toggles > c.cfg.ToggleThreshold {
		excess := toggles - c.cfg.ToggleThreshold
		sus.Score += math.Min(c.cfg.ToggleCap, float64(excess)*c.cfg.TogglePoints)
		sus.Count += excess
		sus.Indicators = append(sus.Indicators, "erratic_playback")
	}

	// backgrounded viewing
	if heartbeats > 0 {
		ratio := float64(invisibleHeartbeats) / float64(heartbeats)
		if ratio > c.cfg.InvisibleRatio {
			sus.Score += math.Min(c.cfg.InvisibleCap, ratio*c.cfg.InvisibleCap)
			sus.Count += invisibleHeartbeats
			sus.Indicators = append(sus.Indicators, "tab_invisible")
		}
	}

	sus.Score = math.Min(100, sus.Score)
	return sus
}

// QualityScore starts at 100 and subtracts suspicion, fragmentation and
// incomplete-viewing penalties.
func (c *Calculator) QualityScore(segments []models.TimeSegment, totalWatched, videoDuration, suspicious float64) float64 {
	score := 100 - suspicious/2

	if len(segments) > c.cfg.ExpectedSegments {
		short := 0
		for _, s := range segments {
			if s.Duration() < c.cfg.ShortSegmentSecond {
				short++
			}
		}
		extra := float64(len(segments) - c.cfg.ExpectedSegments)
		penalty := extra * c.cfg.FragmentationPointsPerSegment * (1 + float64(short)/float64(len(segments)))
		score -= math.Min(c.cfg.FragmentationCap, penalty)
	}

	if videoDuration > 0 {
		ratio := totalWatched / videoDuration
		if ratio < c.cfg.IncompleteRatio {
			score -= (c.cfg.IncompleteRatio - ratio) / c.cfg.IncompleteRatio * c.cfg.IncompleteMaxPenalty
		}
	}

	return math.Max(0, math.Min(100, score))
}

// seekDistance prefers the client-reported distance and otherwise uses the
// video-time delta from the preceding event.
func seekDistance(ordered []models.ViewingEvent, i int) float64 {
	if d, ok := ordered[i].SeekDistance(); ok {
		return d
	}
	if i == 0 {
		return ordered[i].TimestampInVideo
	}
	return ordered[i].TimestampInVideo - ordered[i-1].TimestampInVideo
}

func sortByVideoTime(events []models.ViewingEvent) []models.ViewingEvent {
	sorted := make([]models.ViewingEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TimestampInVideo != sorted[j].TimestampInVideo {
			return sorted[i].TimestampInVideo < sorted[j].TimestampInVideo
		}
		return sorted[i].ClientTimestamp.Before(sorted[j].ClientTimestamp)
	})
	return sorted
}

func sortByClientTime(events []models.ViewingEvent) []models.ViewingEvent {
	sorted := make([]models.ViewingEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ClientTimestamp.Before(sorted[j].ClientTimestamp)
	})
	return sorted
}
