// Package cache is an in-process TTL store for recomputable tracking data.
// Losing it never changes results, only how often they are recomputed.
package cache

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"courseview-backend/internal/metrics"
	"courseview-backend/internal/models"
)

type Category string

const (
	CategoryProgress       Category = "progress"
	CategoryLesson         Category = "lesson"
	CategorySession        Category = "session"
	CategoryAnalytics      Category = "analytics"
	CategorySecurityAlerts Category = "alerts"
)

// DefaultTTLs is the per-category TTL table.
func DefaultTTLs() map[Category]time.Duration {
	return map[Category]time.Duration{
		CategoryProgress:       5 * time.Minute,
		CategoryLesson:         30 * time.Minute,
		CategorySession:        2 * time.Minute,
		CategoryAnalytics:      10 * time.Minute,
		CategorySecurityAlerts: time.Minute,
	}
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

type Stats struct {
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttls    map[Category]time.Duration
	now     func() time.Time

	hits, misses, evictions int64
}

// New builds a cache; missing categories fall back to DefaultTTLs.
func New(ttls map[Category]time.Duration) *Cache {
	merged := DefaultTTLs()
	for k, v := range ttls {
		merged[k] = v
	}
	return &Cache{
		entries: make(map[string]entry),
		ttls:    merged,
		now:     time.Now,
	}
}

func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		if ok {
			delete(c.entries, key)
			c.evictions++
		}
		c.misses++
		metrics.CacheMisses.Inc()
		return nil, false
	}
	c.hits++
	metrics.CacheHits.Inc()
	return e.value, true
}

// Set stores value for ttl and lazily evicts expired entries.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return ok && c.now().Before(e.expiresAt)
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePattern removes every key matching a path.Match glob such as
// "progress:<user>:*". It returns the number of removed keys.
func (c *Cache) InvalidatePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// InvalidateUser drops every cached value scoped to a user.
func (c *Cache) InvalidateUser(userID uuid.UUID) int {
	id := userID.String()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.Contains(key, ":"+id) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked()
	s := Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	metrics.CacheEntries.Set(float64(s.Entries))
	return s
}

func (c *Cache) evictExpiredLocked() {
	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			c.evictions++
		}
	}
}

func (c *Cache) ttl(cat Category) time.Duration {
	return c.ttls[cat]
}

func progressKey(userID, lessonID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", CategoryProgress, userID, lessonID)
}

func lessonKey(lessonID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", CategoryLesson, lessonID)
}

func sessionKey(tokenHash string) string {
	return fmt.Sprintf("%s:%s", CategorySession, tokenHash)
}

func analyticsKey(userID uuid.UUID, name string) string {
	return fmt.Sprintf("%s:%s:%s", CategoryAnalytics, userID, name)
}

const alertsKey = string(CategorySecurityAlerts) + ":recent"

func (c *Cache) CacheVideoProgress(p *models.VideoProgress) {
	c.Set(progressKey(p.UserID, p.VideoLessonID), *p, c.ttl(CategoryProgress))
}

func (c *Cache) GetVideoProgress(userID, lessonID uuid.UUID) (*models.VideoProgress, bool) {
	v, ok := c.Get(progressKey(userID, lessonID))
	if !ok {
		return nil, false
	}
	p := v.(models.VideoProgress)
	return &p, true
}

func (c *Cache) CacheVideoLesson(l *models.VideoLesson) {
	c.Set(lessonKey(l.ID), *l, c.ttl(CategoryLesson))
}

func (c *Cache) GetVideoLesson(lessonID uuid.UUID) (*models.VideoLesson, bool) {
	v, ok := c.Get(lessonKey(lessonID))
	if !ok {
		return nil, false
	}
	l := v.(models.VideoLesson)
	return &l, true
}

// CacheSession is keyed by the hex digest of the session token.
func (c *Cache) CacheSession(tokenHash string, s *models.ViewingSession) {
	c.Set(sessionKey(tokenHash), *s, c.ttl(CategorySession))
}

func (c *Cache) GetSession(tokenHash string) (*models.ViewingSession, bool) {
	v, ok := c.Get(sessionKey(tokenHash))
	if !ok {
		return nil, false
	}
	s := v.(models.ViewingSession)
	return &s, true
}

func (c *Cache) DeleteSession(tokenHash string) {
	c.Delete(sessionKey(tokenHash))
}

// InvalidateSessions drops every cached session, used after reaper sweeps.
func (c *Cache) InvalidateSessions() int {
	return c.InvalidatePattern(string(CategorySession) + ":*")
}

func (c *Cache) CacheAnalytics(userID uuid.UUID, name string, value interface{}) {
	c.Set(analyticsKey(userID, name), value, c.ttl(CategoryAnalytics))
}

func (c *Cache) GetAnalytics(userID uuid.UUID, name string) (interface{}, bool) {
	return c.Get(analyticsKey(userID, name))
}

func (c *Cache) CacheSecurityAlerts(alerts []models.SecurityAlert) {
	c.Set(alertsKey, alerts, c.ttl(CategorySecurityAlerts))
}

func (c *Cache) GetSecurityAlerts() ([]models.SecurityAlert, bool) {
	v, ok := c.Get(alertsKey)
	if !ok {
		return nil, false
	}
	return v.([]models.SecurityAlert), true
}

func (c *Cache) InvalidateSecurityAlerts() {
	c.Delete(alertsKey)
}
