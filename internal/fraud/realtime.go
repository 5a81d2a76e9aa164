package fraud

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"courseview-backend/internal/models"
)

type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

type RealTimeResult struct {
	AlertLevel      AlertLevel `json:"alert_level"`
	Flags           []string   `json:"flags"`
	AutomationScore float64    `json:"automation_score"`
	RapidSeeks      int        `json:"rapid_seeks"`
	MaxSpeed        float64    `json:"max_speed"`
}

// MonitorRealTimePatterns inspects the most recent events for live
// manipulation and automated-client signatures.
func (s *Service) MonitorRealTimePatterns(events []models.ViewingEvent) RealTimeResult {
	cfg := s.cfg
	res := RealTimeResult{AlertLevel: AlertInfo, Flags: []string{}}

	ordered := byClientTime(events)
	if len(ordered) > cfg.RealTimeWindow {
		ordered = ordered[len(ordered)-cfg.RealTimeWindow:]
	}
	if len(ordered) == 0 {
		return res
	}

	res.RapidSeeks = collectSeekStats(ordered, math.Inf(1), cfg.RealTimeSeekWindow.Seconds()).rapid
	rapid := res.RapidSeeks > cfg.RealTimeSeekCount
	if rapid {
		res.Flags = append(res.Flags, "rapid_consecutive_seeks")
	}

	for i := 1; i < len(ordered); i++ {
		if speed, ok := impliedSpeed(ordered[i-1], ordered[i]); ok {
			res.MaxSpeed = math.Max(res.MaxSpeed, speed)
		}
	}
	fast := res.MaxSpeed > cfg.RealTimeMaxSpeed
	if fast {
		res.Flags = append(res.Flags, "implausible_speed")
	}

	res.AutomationScore = s.automationScore(ordered, &res.Flags)

	switch {
	case res.AutomationScore >= cfg.CriticalAutomation || (rapid && fast):
		res.AlertLevel = AlertCritical
	case res.AutomationScore >= cfg.WarningAutomation || rapid || fast:
		res.AlertLevel = AlertWarning
	}
	return res
}

func (s *Service) automationScore(ordered []models.ViewingEvent, flags *[]string) float64 {
	cfg := s.cfg
	score := 0.0

	if len(ordered) > 5 {
		intervals := make([]float64, 0, len(ordered)-1)
		for i := 1; i < len(ordered); i++ {
			intervals = append(intervals, float64(ordered[i].ClientTimestamp.Sub(ordered[i-1].ClientTimestamp).Milliseconds()))
		}
		if stat.Variance(intervals, nil) < cfg.AutomationVarianceLimit {
			score += 30
			*flags = append(*flags, "regular_event_timing")
		}
	}

	pauses, visibility := 0, 0
	rates := make(map[float64]struct{})
	for _, e := range ordered {
		if e.EventType == models.EventPause {
			pauses++
		}
		if e.IsVisibilityEvent() {
			visibility++
		}
		rates[e.PlaybackRate] = struct{}{}
	}

	if len(ordered) >= cfg.AutomationMinEvents && pauses == 0 {
		score += 20
		*flags = append(*flags, "no_pauses")
	}
	if len(ordered) > 5 && len(rates) == 1 {
		score += 20
		*flags = append(*flags, "constant_playback_rate")
	}
	if len(ordered) >= 10 && visibility == 0 {
		score += 20
		*flags = append(*flags, "no_visibility_changes")
	}

	return math.Min(100, score)
}
