package services

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"courseview-backend/internal/cache"
	"courseview-backend/internal/fraud"
	"courseview-backend/internal/integrity"
	"courseview-backend/internal/models"
)

type fixture struct {
	store    *memStore
	alerts   *memAlerts
	pub      *fakePublisher
	svc      *TrackingService
	user     uuid.UUID
	lessonID uuid.UUID
}

func newFixture() *fixture {
	store := newMemStore()
	alertStore := &memAlerts{}
	pub := newFakePublisher()
	c := cache.New(nil)
	cfg := integrity.DefaultConfig()

	alertSvc := NewAlertService(alertStore, pub, c)
	fraudSvc := fraud.NewService(cfg.Fraud, store, store, alertSvc)

	lessonID := uuid.New()
	store.lessons[lessonID] = models.VideoLesson{
		ID:                           lessonID,
		Title:                        "Limits and continuity",
		DurationSeconds:              60,
		RequiredCompletionPercentage: 80,
		IsPublished:                  true,
	}

	return &fixture{
		store:    store,
		alerts:   alertStore,
		pub:      pub,
		svc:      NewTrackingService(store, store, store, store, fraudSvc, c, cfg, DefaultSessionLimits()),
		user:     uuid.New(),
		lessonID: lessonID,
	}
}

func (f *fixture) start(t *testing.T) *SessionStart {
	t.Helper()
	start, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		UserID:        f.user,
		VideoLessonID: f.lessonID,
		BrowserTabID:  "tab-1",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return start
}

func viewingEvent(t models.EventType, video float64, at time.Time) models.ViewingEvent {
	return models.ViewingEvent{
		EventType:        t,
		TimestampInVideo: video,
		ClientTimestamp:  at,
		IsTabVisible:     true,
		PlaybackRate:     1,
		VolumeLevel:      1,
	}
}

func TestCreateSessionStoresOnlyTokenDigest(t *testing.T) {
	f := newFixture()
	start := f.start(t)

	if start.SessionToken == "" || start.VideoData.Title != "Limits and continuity" {
		t.Fatalf("unexpected start %+v", start)
	}
	stored := f.store.sessions[0]
	if bytes.Equal(stored.SessionTokenHash, []byte(start.SessionToken)) {
		t.Errorf("expected token to be hashed before storage")
	}
	if !bytes.Equal(stored.SessionTokenHash, hashToken(start.SessionToken)) {
		t.Errorf("expected blake2b digest of the token")
	}
	if stored.SessionToken != "" {
		t.Errorf("expected raw token not persisted")
	}
}

func TestCreateSessionTerminatesPreviousSessions(t *testing.T) {
	f := newFixture()
	first := f.start(t)
	f.start(t)

	if f.store.sessions[0].IsActive {
		t.Errorf("expected older session deactivated")
	}
	if len(f.alerts.alerts) != 0 {
		t.Errorf("expected no alert for a single superseded session")
	}

	if _, err := f.svc.ProcessViewingEvents(context.Background(), first.SessionToken,
		[]models.ViewingEvent{viewingEvent(models.EventPlay, 0, time.Now())}); err == nil {
		t.Errorf("expected superseded token to be rejected")
	}
}

func TestCreateSessionAlertsOnConcurrentSessions(t *testing.T) {
	f := newFixture()
	for i := 0; i < 2; i++ {
		f.store.sessions = append(f.store.sessions, &models.ViewingSession{
			ID: uuid.New(), UserID: f.user, VideoLessonID: f.lessonID, IsActive: true,
			SessionTokenHash: hashToken(uuid.NewString()),
		})
	}

	f.start(t)

	if len(f.alerts.alerts) != 1 || f.alerts.alerts[0].AlertType != "concurrent_sessions" {
		t.Fatalf("expected one concurrent_sessions alert, got %+v", f.alerts.alerts)
	}
	if f.pub.published[AdminAlertsChannel] != 1 || f.pub.pushed[AlertNotificationsQueue] != 0 {
		t.Errorf("expected medium alert on the live feed without an e-mail job, got %v %v", f.pub.published, f.pub.pushed)
	}
	active := 0
	for _, s := range f.store.sessions {
		if s.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("expected only the new session active, got %d", active)
	}
}

func TestCreateSessionLessonErrors(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateSession(context.Background(), CreateSessionInput{UserID: f.user, VideoLessonID: uuid.New()})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}

	hidden := uuid.New()
	f.store.lessons[hidden] = models.VideoLesson{ID: hidden, DurationSeconds: 10}
	_, err = f.svc.CreateSession(context.Background(), CreateSessionInput{UserID: f.user, VideoLessonID: hidden})
	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Errorf("expected ForbiddenError, got %v", err)
	}
}

func TestProcessViewingEventsComputesProgress(t *testing.T) {
	f := newFixture()
	start := f.start(t)
	now := time.Now().UTC()

	res, err := f.svc.ProcessViewingEvents(context.Background(), start.SessionToken, []models.ViewingEvent{
		viewingEvent(models.EventPlay, 0, now.Add(-30*time.Second)),
		viewingEvent(models.EventPause, 30, now),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if res.ProcessedEvents != 2 || len(f.store.events) != 2 {
		t.Fatalf("expected 2 events persisted, got %d", len(f.store.events))
	}
	for _, e := range f.store.events {
		if e.SessionID != start.SessionID || e.ServerTimestamp == nil {
			t.Errorf("expected session id and server timestamp set, got %+v", e)
		}
	}
	if f.store.touched != 1 {
		t.Errorf("expected heartbeat touched once, got %d", f.store.touched)
	}

	p := res.Progress
	if p.TotalWatchedSeconds != 30 || p.CompletionPercentage != 50 {
		t.Errorf("expected 30s / 50%%, got %v / %v", p.TotalWatchedSeconds, p.CompletionPercentage)
	}
	if p.IsCompleted {
		t.Errorf("expected incomplete below the required percentage")
	}
	if p.GradeContribution <= 0 || p.GradeContribution > p.CompletionPercentage {
		t.Errorf("expected grade in (0, completion], got %v", p.GradeContribution)
	}

	rows, err := f.svc.GetProgress(context.Background(), f.user, &f.lessonID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("get progress: %v %v", rows, err)
	}
	if f.store.progGets != 0 {
		t.Errorf("expected progress served from cache")
	}
}

func TestProcessViewingEventsRecomputesFromFullHistory(t *testing.T) {
	f := newFixture()
	start := f.start(t)
	now := time.Now().UTC()
	ctx := context.Background()

	if _, err := f.svc.ProcessViewingEvents(ctx, start.SessionToken, []models.ViewingEvent{
		viewingEvent(models.EventPlay, 0, now.Add(-50*time.Second)),
		viewingEvent(models.EventPause, 20, now.Add(-30*time.Second)),
	}); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	res, err := f.svc.ProcessViewingEvents(ctx, start.SessionToken, []models.ViewingEvent{
		viewingEvent(models.EventPlay, 20, now.Add(-20*time.Second)),
		viewingEvent(models.EventPause, 50, now),
	})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if res.Progress.TotalWatchedSeconds != 50 {
		t.Errorf("expected 50s across both batches, got %v", res.Progress.TotalWatchedSeconds)
	}
}

func TestProcessViewingEventsFailsClosed(t *testing.T) {
	f := newFixture()
	events := []models.ViewingEvent{viewingEvent(models.EventPlay, 0, time.Now())}

	_, err := f.svc.ProcessViewingEvents(context.Background(), "not-a-token", events)
	var ue *UnauthorizedError
	if !errors.As(err, &ue) || ue.Message != "Session not found" {
		t.Errorf("expected Session not found, got %v", err)
	}

	start := f.start(t)
	if err := f.svc.EndSession(context.Background(), start.SessionToken); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if _, err := f.svc.ProcessViewingEvents(context.Background(), start.SessionToken, events); !errors.As(err, &ue) {
		t.Errorf("expected ended session to be rejected, got %v", err)
	}

	var ve *ValidationError
	if _, err := f.svc.ProcessViewingEvents(context.Background(), start.SessionToken, nil); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for empty batch, got %v", err)
	}
}

func TestProcessViewingEventsPersistsDespiteFraudFailures(t *testing.T) {
	f := newFixture()
	start := f.start(t)
	f.store.listErr = errors.New("replica lag")

	_, err := f.svc.ProcessViewingEvents(context.Background(), start.SessionToken,
		[]models.ViewingEvent{viewingEvent(models.EventPlay, 0, time.Now())})
	if err != nil {
		t.Fatalf("expected ingestion to continue, got %v", err)
	}
	if len(f.store.events) != 1 {
		t.Errorf("expected event persisted")
	}
}

func TestProcessViewingEventsPropagatesWriteFailure(t *testing.T) {
	f := newFixture()
	start := f.start(t)
	f.store.insertErr = errors.New("disk full")

	_, err := f.svc.ProcessViewingEvents(context.Background(), start.SessionToken,
		[]models.ViewingEvent{viewingEvent(models.EventPlay, 0, time.Now())})
	if err == nil {
		t.Fatalf("expected write failure to propagate")
	}
}

func TestProcessViewingEventsFlagsSuspiciousViewing(t *testing.T) {
	f := newFixture()
	start := f.start(t)
	for i := 0; i < 2; i++ {
		f.store.sessions = append(f.store.sessions, &models.ViewingSession{
			ID: uuid.New(), UserID: f.user, VideoLessonID: f.lessonID, IsActive: true,
			SessionTokenHash: hashToken(uuid.NewString()),
		})
	}

	now := time.Now().UTC()
	var events []models.ViewingEvent
	for i := 0; i < 10; i++ {
		events = append(events, viewingEvent(models.EventSeek, float64((i+1)*40),
			now.Add(time.Duration(i)*800*time.Millisecond)))
	}

	res, err := f.svc.ProcessViewingEvents(context.Background(), start.SessionToken, events)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.store.events) != 10 {
		t.Errorf("expected suspicious events still persisted, got %d", len(f.store.events))
	}
	if res.Report.RiskScore <= 70 {
		t.Fatalf("expected risk above the alert threshold, got %v (%v)", res.Report.RiskScore, res.Report.Violations)
	}

	var flagged *models.SecurityAlert
	for i := range f.alerts.alerts {
		if f.alerts.alerts[i].AlertType == "suspicious_viewing" {
			flagged = &f.alerts.alerts[i]
		}
	}
	if flagged == nil {
		t.Fatalf("expected suspicious_viewing alert, got %+v", f.alerts.alerts)
	}
	if flagged.Severity != models.SeverityHigh {
		t.Errorf("expected high severity, got %s", flagged.Severity)
	}
	if f.pub.published[AdminAlertsChannel] != 1 || f.pub.pushed[AlertNotificationsQueue] != 1 {
		t.Errorf("expected alert published and queued, got %v %v", f.pub.published, f.pub.pushed)
	}
}

func TestCalculateGradeContribution(t *testing.T) {
	svc := NewTrackingService(nil, nil, nil, nil, nil, nil, integrity.DefaultConfig(), DefaultSessionLimits())

	tests := []struct {
		name       string
		completion float64
		suspicious int
		risk       float64
		required   float64
		want       float64
	}{
		{"clean full watch", 100, 0, 0, 80, 100},
		{"below required scales down", 50, 0, 0, 80, 31.25},
		{"penalties", 90, 5, 50, 80, 65},
		{"penalties capped", 90, 20, 200, 80, 40},
		{"floored at zero", 10, 20, 100, 80, 0},
		{"rounded", 42.333, 1, 0, 0, 40.33},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := svc.CalculateGradeContribution(tc.completion, tc.suspicious, tc.risk, tc.required)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}

	for completion := 0.0; completion <= 100; completion += 7.5 {
		for risk := 0.0; risk <= 100; risk += 25 {
			if g := svc.CalculateGradeContribution(completion, 3, risk, 80); g > completion || g < 0 {
				t.Errorf("grade %v out of [0, %v]", g, completion)
			}
		}
	}
}

func TestCleanupInactiveSessions(t *testing.T) {
	f := newFixture()
	now := time.Now()
	f.store.sessions = []*models.ViewingSession{
		{ID: uuid.New(), IsActive: true, StartedAt: now.Add(-time.Hour), LastHeartbeat: now.Add(-45 * time.Minute)},
		{ID: uuid.New(), IsActive: true, StartedAt: now.Add(-9 * time.Hour), LastHeartbeat: now},
		{ID: uuid.New(), IsActive: true, StartedAt: now.Add(-time.Hour), LastHeartbeat: now.Add(-time.Minute)},
	}

	n, err := f.svc.CleanupInactiveSessions(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 sessions reaped, got %d", n)
	}
	if !f.store.sessions[2].IsActive {
		t.Errorf("expected fresh session to stay active")
	}
}

func TestGetProgressWithoutRows(t *testing.T) {
	f := newFixture()
	rows, err := f.svc.GetProgress(context.Background(), f.user, &f.lessonID)
	if err != nil || len(rows) != 0 {
		t.Errorf("expected empty result, got %v %v", rows, err)
	}
	all, err := f.svc.GetProgress(context.Background(), f.user, nil)
	if err != nil || all == nil || len(all) != 0 {
		t.Errorf("expected empty non-nil list, got %v %v", all, err)
	}
}
