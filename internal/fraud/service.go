// Package fraud bounds the trust placed in client-reported playback telemetry.
//
// Each check returns its own Assessment with a risk score capped to [0, 100].
// PerformComprehensiveFraudCheck combines them with explicit weights so that
// no single heuristic saturates the final score on its own.
package fraud

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"courseview-backend/internal/integrity"
	"courseview-backend/internal/models"
)

type SessionLister interface {
	ListActiveSessions(ctx context.Context, userID, videoLessonID uuid.UUID) ([]models.ViewingSession, error)
}

type ProgressHistory interface {
	ListProgressForUser(ctx context.Context, userID uuid.UUID, videoLessonID *uuid.UUID) ([]models.VideoProgress, error)
}

// AlertSink persists alerts and fans them out to administrators.
type AlertSink interface {
	CreateAlert(ctx context.Context, alert *models.SecurityAlert) error
	SendAlertNotifications(ctx context.Context, alert *models.SecurityAlert) error
}

type Assessment struct {
	IsValid         bool     `json:"is_valid"`
	Violations      []string `json:"violations"`
	RiskScore       float64  `json:"risk_score"`
	Recommendations []string `json:"recommendations"`
}

type Service struct {
	cfg      integrity.FraudConfig
	sessions SessionLister
	history  ProgressHistory
	alerts   AlertSink
	now      func() time.Time
}

func NewService(cfg integrity.FraudConfig, sessions SessionLister, history ProgressHistory, alerts AlertSink) *Service {
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		history:  history,
		alerts:   alerts,
		now:      time.Now,
	}
}

// builder accumulates points, violations and recommendations for one check.
type builder struct {
	risk            float64
	violations      []string
	recommendations []string
	invalid         bool
}

func (b *builder) add(points float64, violation, recommendation string) {
	b.risk += points
	if violation != "" {
		b.violations = append(b.violations, violation)
	}
	if recommendation != "" {
		b.recommendations = append(b.recommendations, recommendation)
	}
}

func (b *builder) result(validBelow float64) Assessment {
	risk := clamp(b.risk)
	return Assessment{
		IsValid:         !b.invalid && risk < validBelow,
		Violations:      nonNil(b.violations),
		RiskScore:       risk,
		Recommendations: nonNil(b.recommendations),
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func byClientTime(events []models.ViewingEvent) []models.ViewingEvent {
	sorted := make([]models.ViewingEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ClientTimestamp.Before(sorted[j].ClientTimestamp)
	})
	return sorted
}

// impliedSpeed is video seconds advanced per wall-clock second between two
// events. ok is false when the pair says nothing about playback speed.
func impliedSpeed(prev, cur models.ViewingEvent) (speed float64, ok bool) {
	if cur.EventType == models.EventSeek {
		return 0, false
	}
	dc := cur.ClientTimestamp.Sub(prev.ClientTimestamp).Seconds()
	dv := cur.TimestampInVideo - prev.TimestampInVideo
	if dc <= 0 || dv <= 0 {
		return 0, false
	}
	return dv / dc, true
}

func seekDistance(ordered []models.ViewingEvent, i int) float64 {
	if d, ok := ordered[i].SeekDistance(); ok {
		return d
	}
	if i == 0 {
		return ordered[i].TimestampInVideo
	}
	return ordered[i].TimestampInVideo - ordered[i-1].TimestampInVideo
}

// SeverityForRisk maps a risk score onto an alert severity.
func SeverityForRisk(risk float64) models.AlertSeverity {
	switch {
	case risk > 80:
		return models.SeverityHigh
	case risk > 50:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
