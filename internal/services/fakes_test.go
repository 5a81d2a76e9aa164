package services

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"courseview-backend/internal/models"
	"courseview-backend/internal/repository"
)

type memStore struct {
	mu        sync.Mutex
	sessions  []*models.ViewingSession
	events    []models.ViewingEvent
	progress  map[[2]uuid.UUID]models.VideoProgress
	lessons   map[uuid.UUID]models.VideoLesson
	touched   int
	progGets  int
	insertErr error
	listErr   error
}

func newMemStore() *memStore {
	return &memStore{
		progress: make(map[[2]uuid.UUID]models.VideoProgress),
		lessons:  make(map[uuid.UUID]models.VideoLesson),
	}
}

func (m *memStore) Create(ctx context.Context, s *models.ViewingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now()
	s.StartedAt, s.LastHeartbeat, s.IsActive = now, now, true
	cp := *s
	cp.SessionToken = ""
	m.sessions = append(m.sessions, &cp)
	return nil
}

func (m *memStore) GetByTokenHash(ctx context.Context, hash []byte) (*models.ViewingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if bytes.Equal(s.SessionTokenHash, hash) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ListActiveSessions(ctx context.Context, userID, lessonID uuid.UUID) ([]models.ViewingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ViewingSession
	for _, s := range m.sessions {
		if s.UserID == userID && s.VideoLessonID == lessonID && s.IsActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) DeactivateForUserLesson(ctx context.Context, userID, lessonID uuid.UUID) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hashes [][]byte
	for _, s := range m.sessions {
		if s.UserID == userID && s.VideoLessonID == lessonID && s.IsActive {
			s.IsActive = false
			hashes = append(hashes, s.SessionTokenHash)
		}
	}
	return hashes, nil
}

func (m *memStore) TouchHeartbeat(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched++
	for _, s := range m.sessions {
		if s.ID == id {
			s.LastHeartbeat = time.Now()
		}
	}
	return nil
}

func (m *memStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == id {
			s.IsActive = false
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memStore) DeactivateStale(ctx context.Context, heartbeatBefore, startedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.IsActive && (s.LastHeartbeat.Before(heartbeatBefore) || s.StartedAt.Before(startedBefore)) {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memStore) InsertBatch(ctx context.Context, events []models.ViewingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for i := range events {
		if events[i].ID == uuid.Nil {
			events[i].ID = uuid.New()
		}
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *memStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.ViewingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.ViewingEvent
	for _, e := range m.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ListForUserLesson(ctx context.Context, userID, lessonID uuid.UUID) ([]models.ViewingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[uuid.UUID]bool)
	for _, s := range m.sessions {
		if s.UserID == userID && s.VideoLessonID == lessonID {
			ids[s.ID] = true
		}
	}
	var out []models.ViewingEvent
	for _, e := range m.events {
		if ids[e.SessionID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) Upsert(ctx context.Context, p *models.VideoProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]uuid.UUID{p.UserID, p.VideoLessonID}
	if prev, ok := m.progress[key]; ok {
		p.FirstWatchStartedAt = prev.FirstWatchStartedAt
	}
	p.LastUpdatedAt = time.Now()
	m.progress[key] = *p
	return nil
}

func (m *memStore) Get(ctx context.Context, userID, lessonID uuid.UUID) (*models.VideoProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progGets++
	p, ok := m.progress[[2]uuid.UUID{userID, lessonID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) ListProgressForUser(ctx context.Context, userID uuid.UUID, lessonID *uuid.UUID) ([]models.VideoProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.VideoProgress
	for _, p := range m.progress {
		if p.UserID == userID && (lessonID == nil || p.VideoLessonID == *lessonID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) GetByID(ctx context.Context, id uuid.UUID) (*models.VideoLesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lessons[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &l, nil
}

type memAlerts struct {
	mu     sync.Mutex
	alerts []models.SecurityAlert
	lists  int
}

func (m *memAlerts) Create(ctx context.Context, a *models.SecurityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.alerts = append([]models.SecurityAlert{*a}, m.alerts...)
	return nil
}

func (m *memAlerts) ListRecent(ctx context.Context, limit int) ([]models.SecurityAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	out := append([]models.SecurityAlert(nil), m.alerts...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published map[string]int
	pushed    map[string]int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string]int), pushed: make(map[string]int)}
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel]++
	return redis.NewIntResult(1, nil)
}

func (f *fakePublisher) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed[key] += len(values)
	return redis.NewIntResult(int64(f.pushed[key]), nil)
}
