package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"courseview-backend/internal/logging"
	"courseview-backend/internal/metrics"
	"courseview-backend/internal/models"
	"courseview-backend/internal/services"
)

const maxDeliveryAttempts = 3

// Queue is the subset of a Redis client the pool consumes jobs with.
type Queue interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

type Mailer interface {
	SendSecurityAlertEmail(to []string, alert models.SecurityAlert) error
}

// Pool delivers queued security alert notifications to administrators.
type Pool struct {
	redis       Queue
	email       Mailer
	recipients  []string
	workerCount int
	stopChan    chan struct{}

	// schedule runs f after d; overridden in tests.
	schedule func(d time.Duration, f func())
}

func NewPool(redisClient Queue, email Mailer, recipients []string, workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		redis:       redisClient,
		email:       email,
		recipients:  recipients,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
		schedule: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}
	logging.Info().Int("workers", p.workerCount).Msg("alert notification workers started")
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.stopChan:
			logging.Info().Int("worker", id).Msg("alert worker shutting down")
			return
		default:
		}

		ctx := context.Background()

		// BLPOP with 30s timeout
		result, err := p.redis.BLPop(ctx, 30*time.Second, services.AlertNotificationsQueue).Result()
		if err != nil || len(result) < 2 {
			continue
		}

		if err := p.handleJob(ctx, result[1]); err != nil {
			logging.Warn().Int("worker", id).Err(err).Msg("alert notification failed")
		}
	}
}

// handleJob delivers one queued payload. Failed deliveries are re-queued
// with exponential backoff until maxDeliveryAttempts is reached.
func (p *Pool) handleJob(ctx context.Context, payload string) error {
	var job services.AlertJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		metrics.AlertDeliveries.WithLabelValues("invalid").Inc()
		return fmt.Errorf("failed to parse alert job: %w", err)
	}

	lockKey := fmt.Sprintf("alert_lock:%s", job.ID.String())
	locked, err := p.redis.SetNX(ctx, lockKey, "1", 10*time.Minute).Result()
	if err != nil || !locked {
		// Another worker has this job
		return nil
	}
	defer p.redis.Del(ctx, lockKey)

	if len(p.recipients) == 0 {
		metrics.AlertDeliveries.WithLabelValues("skipped").Inc()
		return nil
	}

	sendErr := p.email.SendSecurityAlertEmail(p.recipients, job.Alert)
	if sendErr == nil {
		metrics.AlertDeliveries.WithLabelValues("sent").Inc()
		logging.Info().
			Str("alert_id", job.Alert.ID.String()).
			Str("severity", string(job.Alert.Severity)).
			Msg("security alert delivered")
		return nil
	}

	job.Attempts++
	if job.Attempts >= maxDeliveryAttempts {
		metrics.AlertDeliveries.WithLabelValues("failed").Inc()
		return fmt.Errorf("alert %s failed permanently after %d attempts: %w", job.Alert.ID, job.Attempts, sendErr)
	}

	metrics.AlertDeliveries.WithLabelValues("retry").Inc()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode alert job: %w", err)
	}
	backoff := time.Duration(1<<uint(job.Attempts)) * time.Second
	p.schedule(backoff, func() {
		p.redis.RPush(context.Background(), services.AlertNotificationsQueue, string(data))
	})
	return fmt.Errorf("alert %s delivery attempt %d: %w", job.Alert.ID, job.Attempts, sendErr)
}
