package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"courseview-backend/internal/cache"
	"courseview-backend/internal/metrics"
	"courseview-backend/internal/models"
)

const (
	AdminAlertsChannel      = "admin_alerts"
	AlertNotificationsQueue = "queue:alert-notifications"

	maxRecentAlerts = 100
)

type AlertStore interface {
	Create(ctx context.Context, a *models.SecurityAlert) error
	ListRecent(ctx context.Context, limit int) ([]models.SecurityAlert, error)
}

// AlertPublisher is the subset of a Redis client used for fan-out.
type AlertPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// AlertJob is one queued notification delivery.
type AlertJob struct {
	ID         uuid.UUID            `json:"id"`
	Alert      models.SecurityAlert `json:"alert"`
	Attempts   int                  `json:"attempts"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
}

type AlertService struct {
	store AlertStore
	redis AlertPublisher
	cache *cache.Cache
}

func NewAlertService(store AlertStore, publisher AlertPublisher, c *cache.Cache) *AlertService {
	return &AlertService{store: store, redis: publisher, cache: c}
}

func (s *AlertService) CreateAlert(ctx context.Context, alert *models.SecurityAlert) error {
	if err := s.store.Create(ctx, alert); err != nil {
		return err
	}
	metrics.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()
	if s.cache != nil {
		s.cache.InvalidateSecurityAlerts()
	}
	return nil
}

// SendAlertNotifications publishes the alert to the admin live feed and
// queues an e-mail delivery for high severity alerts.
func (s *AlertService) SendAlertNotifications(ctx context.Context, alert *models.SecurityAlert) error {
	if s.redis == nil {
		return nil
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	var errs []error
	if err := s.redis.Publish(ctx, AdminAlertsChannel, payload).Err(); err != nil {
		errs = append(errs, fmt.Errorf("publish alert: %w", err))
	}

	if alert.Severity == models.SeverityHigh {
		job, err := json.Marshal(AlertJob{ID: uuid.New(), Alert: *alert, EnqueuedAt: time.Now().UTC()})
		if err != nil {
			return fmt.Errorf("failed to encode alert job: %w", err)
		}
		if err := s.redis.RPush(ctx, AlertNotificationsQueue, job).Err(); err != nil {
			errs = append(errs, fmt.Errorf("enqueue alert notification: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ListRecent is served from a one-minute cache of the newest alerts.
func (s *AlertService) ListRecent(ctx context.Context, limit int) ([]models.SecurityAlert, error) {
	if limit <= 0 || limit > maxRecentAlerts {
		limit = maxRecentAlerts
	}

	var alerts []models.SecurityAlert
	cached := false
	if s.cache != nil {
		alerts, cached = s.cache.GetSecurityAlerts()
	}
	if !cached {
		var err error
		alerts, err = s.store.ListRecent(ctx, maxRecentAlerts)
		if err != nil {
			return nil, fmt.Errorf("failed to list security alerts: %w", err)
		}
		if alerts == nil {
			alerts = []models.SecurityAlert{}
		}
		if s.cache != nil {
			s.cache.CacheSecurityAlerts(alerts)
		}
	}

	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}
