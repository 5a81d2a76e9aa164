package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"courseview-backend/internal/cache"
	"courseview-backend/internal/fraud"
	"courseview-backend/internal/integrity"
	"courseview-backend/internal/logging"
	"courseview-backend/internal/metrics"
	"courseview-backend/internal/models"
	"courseview-backend/internal/progress"
	"courseview-backend/internal/repository"
)

type SessionStore interface {
	Create(ctx context.Context, s *models.ViewingSession) error
	GetByTokenHash(ctx context.Context, hash []byte) (*models.ViewingSession, error)
	ListActiveSessions(ctx context.Context, userID, videoLessonID uuid.UUID) ([]models.ViewingSession, error)
	DeactivateForUserLesson(ctx context.Context, userID, videoLessonID uuid.UUID) ([][]byte, error)
	TouchHeartbeat(ctx context.Context, sessionID uuid.UUID) error
	Deactivate(ctx context.Context, sessionID uuid.UUID) error
	DeactivateStale(ctx context.Context, heartbeatBefore, startedBefore time.Time) (int64, error)
}

type EventStore interface {
	InsertBatch(ctx context.Context, events []models.ViewingEvent) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.ViewingEvent, error)
	ListForUserLesson(ctx context.Context, userID, videoLessonID uuid.UUID) ([]models.ViewingEvent, error)
}

type ProgressStore interface {
	Upsert(ctx context.Context, p *models.VideoProgress) error
	Get(ctx context.Context, userID, videoLessonID uuid.UUID) (*models.VideoProgress, error)
	ListProgressForUser(ctx context.Context, userID uuid.UUID, videoLessonID *uuid.UUID) ([]models.VideoProgress, error)
}

type LessonStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.VideoLesson, error)
}

type SessionLimits struct {
	HeartbeatTimeout time.Duration
	MaxAge           time.Duration
}

func DefaultSessionLimits() SessionLimits {
	return SessionLimits{HeartbeatTimeout: 30 * time.Minute, MaxAge: 8 * time.Hour}
}

type TrackingService struct {
	sessions   SessionStore
	events     EventStore
	progress   ProgressStore
	lessons    LessonStore
	fraud      *fraud.Service
	calculator *progress.Calculator
	cache      *cache.Cache
	cfg        integrity.Config
	limits     SessionLimits
	now        func() time.Time
}

func NewTrackingService(
	sessions SessionStore,
	events EventStore,
	progressStore ProgressStore,
	lessons LessonStore,
	fraudService *fraud.Service,
	c *cache.Cache,
	cfg integrity.Config,
	limits SessionLimits,
) *TrackingService {
	if c == nil {
		c = cache.New(nil)
	}
	return &TrackingService{
		sessions:   sessions,
		events:     events,
		progress:   progressStore,
		lessons:    lessons,
		fraud:      fraudService,
		calculator: progress.NewCalculator(cfg.Progress),
		cache:      c,
		cfg:        cfg,
		limits:     limits,
		now:        time.Now,
	}
}

type CreateSessionInput struct {
	UserID        uuid.UUID
	VideoLessonID uuid.UUID
	BrowserTabID  string
	UserAgent     string
	IPAddress     string
}

type SessionStart struct {
	SessionID    uuid.UUID          `json:"session_id"`
	SessionToken string             `json:"session_token"`
	VideoData    models.VideoLesson `json:"video_data"`
}

// CreateSession opens a viewing session. Any session the user still has open
// on the lesson is closed first; two or more of them raise an alert.
func (s *TrackingService) CreateSession(ctx context.Context, in CreateSessionInput) (*SessionStart, error) {
	lesson, err := s.lesson(ctx, in.VideoLessonID)
	if err != nil {
		return nil, err
	}
	if !lesson.IsPublished {
		return nil, &ForbiddenError{Message: "Video lesson is not available"}
	}

	concurrent, err := s.fraud.CheckConcurrentSessions(ctx, in.UserID, in.VideoLessonID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("concurrent session check failed")
	}
	if concurrent.HasConcurrentSessions {
		metrics.ConcurrentSessionsDetected.Inc()
		if _, err := s.fraud.AlertConcurrentSessions(ctx, in.UserID, in.VideoLessonID, concurrent); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("failed to raise concurrent session alert")
		}
	}
	if concurrent.ActiveSessions > 0 {
		hashes, err := s.sessions.DeactivateForUserLesson(ctx, in.UserID, in.VideoLessonID)
		if err != nil {
			return nil, fmt.Errorf("failed to terminate previous sessions: %w", err)
		}
		for _, h := range hashes {
			s.cache.DeleteSession(hex.EncodeToString(h))
		}
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	session := &models.ViewingSession{
		UserID:           in.UserID,
		VideoLessonID:    in.VideoLessonID,
		SessionToken:     token,
		SessionTokenHash: hashToken(token),
		BrowserTabID:     in.BrowserTabID,
		UserAgent:        in.UserAgent,
		IPAddress:        in.IPAddress,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create viewing session: %w", err)
	}
	s.cache.CacheSession(hex.EncodeToString(session.SessionTokenHash), session)
	metrics.SessionsCreated.Inc()

	logging.Ctx(ctx).Info().
		Str("session_id", session.ID.String()).
		Str("user_id", in.UserID.String()).
		Str("video_lesson_id", in.VideoLessonID.String()).
		Msg("viewing session created")

	return &SessionStart{SessionID: session.ID, SessionToken: token, VideoData: *lesson}, nil
}

// BatchResult is what ingestion learned; handlers decide how much of it a
// student gets to see.
type BatchResult struct {
	ProcessedEvents int                  `json:"processed_events"`
	Progress        models.VideoProgress `json:"progress"`
	Report          fraud.Report         `json:"-"`
}

// ProcessViewingEvents persists a batch and recomputes progress from the full
// history. Fraud findings are logged and flagged but never block ingestion.
func (s *TrackingService) ProcessViewingEvents(ctx context.Context, sessionToken string, events []models.ViewingEvent) (*BatchResult, error) {
	if len(events) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"events": "At least one event is required"}}
	}
	start := s.now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	session, err := s.resolveSession(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	received := s.now().UTC()
	batch := make([]models.ViewingEvent, len(events))
	for i, e := range events {
		e.ID = uuid.Nil
		e.SessionID = session.ID
		ts := received
		e.ServerTimestamp = &ts
		batch[i] = e
	}

	report := s.assess(ctx, session, batch)

	if err := s.events.InsertBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to persist viewing events: %w", err)
	}
	for _, e := range batch {
		metrics.EventsIngested.WithLabelValues(string(e.EventType)).Inc()
	}

	if err := s.sessions.TouchHeartbeat(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("failed to update session heartbeat: %w", err)
	}

	p, err := s.recomputeProgress(ctx, session.UserID, session.VideoLessonID, report.RiskScore)
	if err != nil {
		return nil, err
	}

	return &BatchResult{ProcessedEvents: len(batch), Progress: *p, Report: report}, nil
}

// assess runs the comprehensive check over the session's prior events plus the batch.
func (s *TrackingService) assess(ctx context.Context, session *models.ViewingSession, batch []models.ViewingEvent) fraud.Report {
	log := logging.Ctx(ctx)

	prior, err := s.events.ListBySession(ctx, session.ID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("could not load prior events for fraud check")
		prior = nil
	}
	all := make([]models.ViewingEvent, 0, len(prior)+len(batch))
	all = append(all, prior...)
	all = append(all, batch...)

	report, err := s.fraud.PerformComprehensiveFraudCheck(ctx, session.UserID, session.VideoLessonID, all)
	if err != nil {
		metrics.FraudCheckFailures.Inc()
		log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("fraud check incomplete")
	}
	metrics.RiskScore.Observe(report.RiskScore)

	if !report.IsValid {
		log.Warn().
			Str("session_id", session.ID.String()).
			Float64("risk_score", report.RiskScore).
			Strs("violations", report.Violations).
			Msg("viewing events failed validation, persisting for audit")
	}
	if report.RiskScore > s.cfg.Fraud.AlertThreshold {
		if _, err := s.fraud.FlagSuspiciousUser(ctx, session.UserID, session.VideoLessonID, report); err != nil {
			log.Warn().Err(err).Msg("failed to flag suspicious user")
		}
	}
	return report
}

func (s *TrackingService) recomputeProgress(ctx context.Context, userID, lessonID uuid.UUID, risk float64) (*models.VideoProgress, error) {
	lesson, err := s.lesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	history, err := s.events.ListForUserLesson(ctx, userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to load viewing history: %w", err)
	}

	result := s.calculator.Calculate(history, lesson.DurationSeconds)

	required := lesson.RequiredCompletionPercentage
	if required <= 0 {
		required = s.cfg.Grade.DefaultRequiredPercent
	}

	p := &models.VideoProgress{
		UserID:                  userID,
		VideoLessonID:           lessonID,
		TotalWatchedSeconds:     result.TotalWatchedSeconds,
		CompletionPercentage:    result.CompletionPercentage,
		IsCompleted:             result.CompletionPercentage >= required,
		FirstWatchStartedAt:     firstSeen(history, s.now()),
		SuspiciousActivityCount: result.SuspiciousActivityCount,
		GradeContribution: s.CalculateGradeContribution(
			result.CompletionPercentage, result.SuspiciousActivityCount, risk, required),
	}
	if err := s.progress.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save video progress: %w", err)
	}

	s.cache.InvalidateUser(userID)
	s.cache.CacheVideoProgress(p)
	return p, nil
}

// CalculateGradeContribution penalises suspicious activity and fraud risk,
// then scales down linearly below the required completion. The result is
// rounded to two decimals and never exceeds completion.
func (s *TrackingService) CalculateGradeContribution(completion float64, suspiciousCount int, risk, required float64) float64 {
	g := s.cfg.Grade
	grade := completion
	grade -= math.Min(g.SuspiciousCap, float64(suspiciousCount)*g.SuspiciousPointsPerCount)
	grade -= math.Min(g.RiskCap, math.Max(0, risk)*g.RiskFactor)
	if required > 0 && completion < required {
		grade *= completion / required
	}
	grade = math.Round(grade*100) / 100
	if grade < 0 {
		return 0
	}
	return math.Min(grade, completion)
}

// EndSession closes the session behind token.
func (s *TrackingService) EndSession(ctx context.Context, sessionToken string) error {
	session, err := s.resolveSession(ctx, sessionToken)
	if err != nil {
		return err
	}
	if err := s.sessions.Deactivate(ctx, session.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to end viewing session: %w", err)
	}
	s.cache.DeleteSession(hex.EncodeToString(session.SessionTokenHash))
	return nil
}

// GetProgress serves one lesson's row from cache when possible, or every row of the user.
func (s *TrackingService) GetProgress(ctx context.Context, userID uuid.UUID, videoLessonID *uuid.UUID) ([]models.VideoProgress, error) {
	if videoLessonID != nil {
		if p, ok := s.cache.GetVideoProgress(userID, *videoLessonID); ok {
			return []models.VideoProgress{*p}, nil
		}
		p, err := s.progress.Get(ctx, userID, *videoLessonID)
		if errors.Is(err, repository.ErrNotFound) {
			return []models.VideoProgress{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load video progress: %w", err)
		}
		s.cache.CacheVideoProgress(p)
		return []models.VideoProgress{*p}, nil
	}

	rows, err := s.progress.ListProgressForUser(ctx, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list video progress: %w", err)
	}
	if rows == nil {
		rows = []models.VideoProgress{}
	}
	return rows, nil
}

// CleanupInactiveSessions deactivates sessions with a stale heartbeat or past the maximum age.
func (s *TrackingService) CleanupInactiveSessions(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.sessions.DeactivateStale(ctx, now.Add(-s.limits.HeartbeatTimeout), now.Add(-s.limits.MaxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", err)
	}
	if n > 0 {
		s.cache.InvalidateSessions()
		metrics.SessionsReaped.Add(float64(n))
	}
	return n, nil
}

// resolveSession fails closed: unknown and inactive tokens look the same.
func (s *TrackingService) resolveSession(ctx context.Context, token string) (*models.ViewingSession, error) {
	if token == "" {
		return nil, &UnauthorizedError{Message: "Session not found"}
	}
	hash := hashToken(token)
	key := hex.EncodeToString(hash)

	if session, ok := s.cache.GetSession(key); ok {
		return session, nil
	}

	session, err := s.sessions.GetByTokenHash(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &UnauthorizedError{Message: "Session not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load viewing session: %w", err)
	}
	if !session.IsActive {
		return nil, &UnauthorizedError{Message: "Session not found"}
	}
	s.cache.CacheSession(key, session)
	return session, nil
}

func (s *TrackingService) lesson(ctx context.Context, id uuid.UUID) (*models.VideoLesson, error) {
	if l, ok := s.cache.GetVideoLesson(id); ok {
		return l, nil
	}
	l, err := s.lessons.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "Video lesson not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load video lesson: %w", err)
	}
	s.cache.CacheVideoLesson(l)
	return l, nil
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) []byte {
	sum := blake2b.Sum256([]byte(token))
	return sum[:]
}

// firstSeen is the earliest server receipt time in history.
func firstSeen(history []models.ViewingEvent, fallback time.Time) time.Time {
	first := fallback
	for _, e := range history {
		if e.ServerTimestamp != nil && e.ServerTimestamp.Before(first) {
			first = *e.ServerTimestamp
		}
	}
	return first
}
