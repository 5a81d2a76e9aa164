package fraud

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"courseview-backend/internal/logging"
	"courseview-backend/internal/models"
)

type ConcurrentSessions struct {
	HasConcurrentSessions bool                    `json:"has_concurrent_sessions"`
	ActiveSessions        int                     `json:"active_sessions"`
	Sessions              []models.ViewingSession `json:"-"`
}

// CheckConcurrentSessions reports whether more than one session is active
// for the same (user, lesson).
func (s *Service) CheckConcurrentSessions(ctx context.Context, userID, videoLessonID uuid.UUID) (ConcurrentSessions, error) {
	sessions, err := s.sessions.ListActiveSessions(ctx, userID, videoLessonID)
	if err != nil {
		return ConcurrentSessions{}, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return ConcurrentSessions{
		HasConcurrentSessions: len(sessions) > 1,
		ActiveSessions:        len(sessions),
		Sessions:              sessions,
	}, nil
}

// Report is the outcome of PerformComprehensiveFraudCheck.
type Report struct {
	Assessment
	Components  map[string]float64 `json:"components"`
	AlertLevel  AlertLevel         `json:"alert_level"`
	Reliability float64            `json:"reliability"`
	Concurrent  ConcurrentSessions `json:"concurrent"`
}

// PerformComprehensiveFraudCheck runs every check and sums their weighted
// contributions. Store failures are returned joined but never stop the
// remaining checks; the report is always usable.
func (s *Service) PerformComprehensiveFraudCheck(ctx context.Context, userID, videoLessonID uuid.UUID, events []models.ViewingEvent) (Report, error) {
	cfg := s.cfg
	report := Report{Components: make(map[string]float64)}

	var (
		errs            []error
		violations      []string
		recommendations []string
		risk            float64
	)
	collect := func(name string, a Assessment, contribution float64) {
		report.Components[name] = contribution
		risk += contribution
		violations = append(violations, a.Violations...)
		recommendations = append(recommendations, a.Recommendations...)
	}

	concurrent, err := s.CheckConcurrentSessions(ctx, userID, videoLessonID)
	if err != nil {
		errs = append(errs, err)
	}
	report.Concurrent = concurrent
	if concurrent.HasConcurrentSessions {
		collect("concurrent_sessions", Assessment{
			Violations:      []string{fmt.Sprintf("%d concurrent viewing sessions", concurrent.ActiveSessions)},
			Recommendations: []string{"Terminate duplicate sessions"},
		}, cfg.ConcurrentWeight)
	}

	eventsValid := true
	worstEvent := Assessment{}
	for _, e := range events {
		a := s.ValidateEvent(e)
		if !a.IsValid {
			eventsValid = false
		}
		violations = append(violations, a.Violations...)
		recommendations = append(recommendations, a.Recommendations...)
		if a.RiskScore > worstEvent.RiskScore {
			worstEvent = a
		}
	}
	report.Components["event_validation"] = worstEvent.RiskScore * cfg.EventWeight
	risk += report.Components["event_validation"]

	seq := s.AnalyzeEventSequence(events)
	collect("event_sequence", seq, seq.RiskScore*cfg.SequenceWeight)

	seek := s.AnalyzeSeekPatterns(events)
	collect("seek_patterns", seek, seek.RiskScore*cfg.SeekWeight)

	ts := s.ValidateTimestamps(events)
	collect("timestamps", ts, ts.RiskScore*cfg.TimestampWeight)

	reliability, err := s.CalculateUserReliabilityScore(ctx, userID)
	if err != nil {
		errs = append(errs, err)
	}
	report.Reliability = reliability
	if reliability < cfg.LowReliabilityScore {
		collect("reliability", Assessment{
			Violations:      []string{fmt.Sprintf("Low historical reliability score (%.0f)", reliability)},
			Recommendations: []string{"Review the student's past viewing records"},
		}, cfg.LowReliabilityRisk)
	}

	rt := s.MonitorRealTimePatterns(events)
	report.AlertLevel = rt.AlertLevel
	levelRisk := map[AlertLevel]float64{
		AlertInfo:     cfg.InfoRisk,
		AlertWarning:  cfg.WarningRisk,
		AlertCritical: cfg.CriticalRisk,
	}[rt.AlertLevel]
	rtAssessment := Assessment{}
	if rt.AlertLevel != AlertInfo {
		for _, f := range rt.Flags {
			rtAssessment.Violations = append(rtAssessment.Violations, "Real-time pattern: "+f)
		}
		rtAssessment.Recommendations = []string{"Monitor the session in real time"}
	}
	collect("realtime", rtAssessment, levelRisk)

	report.RiskScore = math.Round(clamp(risk)*100) / 100
	report.Violations = dedupe(violations)
	report.Recommendations = dedupe(recommendations)
	report.IsValid = eventsValid && report.RiskScore < cfg.InvalidRisk

	return report, errors.Join(errs...)
}

// FlagSuspiciousUser persists a security alert for a report and notifies
// administrators of it.
func (s *Service) FlagSuspiciousUser(ctx context.Context, userID, videoLessonID uuid.UUID, report Report) (*models.SecurityAlert, error) {
	lessonID := videoLessonID
	alert := &models.SecurityAlert{
		UserID:          userID,
		VideoLessonID:   &lessonID,
		AlertType:       "suspicious_viewing",
		Severity:        SeverityForRisk(report.RiskScore),
		RiskScore:       report.RiskScore,
		Violations:      report.Violations,
		Recommendations: report.Recommendations,
		CreatedAt:       s.now(),
	}
	return alert, s.raise(ctx, alert)
}

// AlertConcurrentSessions records that older sessions are about to be terminated.
func (s *Service) AlertConcurrentSessions(ctx context.Context, userID, videoLessonID uuid.UUID, concurrent ConcurrentSessions) (*models.SecurityAlert, error) {
	lessonID := videoLessonID
	alert := &models.SecurityAlert{
		UserID:          userID,
		VideoLessonID:   &lessonID,
		AlertType:       "concurrent_sessions",
		Severity:        models.SeverityMedium,
		RiskScore:       s.cfg.ConcurrentWeight,
		Violations:      []string{fmt.Sprintf("%d concurrent viewing sessions", concurrent.ActiveSessions)},
		Recommendations: []string{"Older sessions terminated"},
		CreatedAt:       s.now(),
	}
	return alert, s.raise(ctx, alert)
}

func (s *Service) raise(ctx context.Context, alert *models.SecurityAlert) error {
	logging.Ctx(ctx).Warn().
		Str("user_id", alert.UserID.String()).
		Str("alert_type", alert.AlertType).
		Str("severity", string(alert.Severity)).
		Float64("risk_score", alert.RiskScore).
		Msg("security alert raised")

	if s.alerts == nil {
		return nil
	}
	if err := s.alerts.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to create security alert: %w", err)
	}
	if err := s.alerts.SendAlertNotifications(ctx, alert); err != nil {
		return fmt.Errorf("failed to send alert notifications: %w", err)
	}
	return nil
}
