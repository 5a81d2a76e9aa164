package fraud

import (
	"fmt"
	"math"
	"time"

	"courseview-backend/internal/models"
)

// ValidateEvent checks a single event in isolation.
func (s *Service) ValidateEvent(e models.ViewingEvent) Assessment {
	cfg := s.cfg
	var b builder

	reference := s.now()
	if e.ServerTimestamp != nil {
		reference = *e.ServerTimestamp
	}
	if drift := reference.Sub(e.ClientTimestamp); absDuration(drift) > cfg.MaxClockDrift {
		b.add(cfg.ClockDriftPoints,
			fmt.Sprintf("Client clock drift of %s exceeds %s", absDuration(drift).Round(time.Second), cfg.MaxClockDrift),
			"Verify client clock synchronisation")
	}

	if e.TimestampInVideo < 0 {
		b.invalid = true
		b.add(cfg.NegativeTimePoints, "Negative video timestamp", "Reject events with negative video time")
	}

	if e.PlaybackRate <= 0 || e.PlaybackRate > cfg.MaxPlaybackRate {
		b.add(cfg.PlaybackRatePoints,
			fmt.Sprintf("Playback rate %.2f outside (0, %.0f]", e.PlaybackRate, cfg.MaxPlaybackRate),
			"Check for player speed manipulation")
	}

	if e.VolumeLevel < 0 || e.VolumeLevel > 1 {
		b.add(cfg.VolumePoints, fmt.Sprintf("Volume %.2f outside [0, 1]", e.VolumeLevel), "")
	}

	if d, ok := e.SeekDistance(); ok && math.Abs(d) > cfg.MaxSeekDistance {
		b.add(cfg.SeekDistancePoints,
			fmt.Sprintf("Seek distance %.0fs exceeds %.0fs", math.Abs(d), cfg.MaxSeekDistance),
			"Review seek behaviour for content skipping")
	}

	return b.result(cfg.EventRejectRisk)
}

// ValidateTimestamps looks for clock and video-time inconsistencies across events.
func (s *Service) ValidateTimestamps(events []models.ViewingEvent) Assessment {
	cfg := s.cfg
	var b builder
	if len(events) == 0 {
		return b.result(cfg.InvalidRisk)
	}

	ordered := byClientTime(events)

	backward, fast := 0, 0
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if cur.EventType != models.EventSeek && cur.ClientTimestamp.After(prev.ClientTimestamp) {
			if cur.TimestampInVideo-prev.TimestampInVideo < -cfg.BackwardToleranceSeconds {
				backward++
			}
		}
		if speed, ok := impliedSpeed(prev, cur); ok && speed > cfg.TimestampMaxSpeed {
			fast++
		}
	}
	if backward > 0 {
		b.add(cfg.BackwardPoints,
			fmt.Sprintf("Video time moved backwards without a seek %d time(s)", backward),
			"Inspect client for timestamp tampering")
	}
	if fast > 0 {
		b.add(cfg.TimestampSpeedPoints,
			fmt.Sprintf("Video time advanced faster than %.0fx real time %d time(s)", cfg.TimestampMaxSpeed, fast),
			"Check for accelerated playback")
	}

	for _, e := range ordered {
		if e.ServerTimestamp == nil {
			continue
		}
		if absDuration(e.ServerTimestamp.Sub(e.ClientTimestamp)) > cfg.MaxServerDrift {
			b.add(cfg.ServerDriftPoints,
				fmt.Sprintf("Client and server clocks differ by more than %s", cfg.MaxServerDrift),
				"Verify client clock synchronisation")
			break
		}
	}

	seen := make(map[int64]int, len(ordered))
	duplicates := 0
	for _, e := range ordered {
		ms := e.ClientTimestamp.UnixMilli()
		if seen[ms] > 0 {
			duplicates++
		}
		seen[ms]++
	}
	if duplicates > cfg.MaxDuplicateTimestamps {
		b.add(cfg.DuplicatePoints,
			fmt.Sprintf("%d events share a client timestamp", duplicates),
			"Possible scripted event generation")
	}

	return b.result(cfg.InvalidRisk)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
