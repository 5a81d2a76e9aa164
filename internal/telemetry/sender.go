package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"courseview-backend/internal/logging"
	"courseview-backend/internal/models"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultLatency     = 300 * time.Millisecond
)

// SendResult never carries a Go error; a failed delivery is described by Error.
type SendResult struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	StatusCode int    `json:"status_code,omitempty"`
}

// Sender posts event batches to the tracking API.
type Sender struct {
	client      *http.Client
	endpoint    string
	pingURL     string
	limiter     *rate.Limiter
	compact     bool
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Sender)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.client = c }
}

// WithPingURL sets the HEAD target used for latency estimation.
func WithPingURL(u string) Option {
	return func(s *Sender) { s.pingURL = u }
}

func WithLimiter(l *rate.Limiter) Option {
	return func(s *Sender) { s.limiter = l }
}

// WithCompaction toggles the short-key schema. On by default.
func WithCompaction(on bool) Option {
	return func(s *Sender) { s.compact = on }
}

func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *Sender) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			s.baseDelay = baseDelay
		}
	}
}

// NewSender builds a sender for endpoint. Sends are limited to 5/s with burst 5
// unless WithLimiter overrides it.
func NewSender(endpoint string, opts ...Option) *Sender {
	s := &Sender{
		client:      &http.Client{Timeout: 10 * time.Second},
		endpoint:    endpoint,
		limiter:     rate.NewLimiter(5, 5),
		compact:     true,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SendEventsWithRetry posts one batch. 4xx responses end the attempt loop;
// network failures and 5xx back off exponentially from the base delay.
func (s *Sender) SendEventsWithRetry(ctx context.Context, sessionToken string, events []models.ViewingEvent) SendResult {
	body, err := EncodeBatch(sessionToken, events, s.compact)
	if err != nil {
		return SendResult{Error: err.Error()}
	}

	var result SendResult
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		result.RetryCount = attempt

		if attempt > 0 {
			delay := s.baseDelay * time.Duration(1<<(attempt-1))
			if err := s.sleep(ctx, delay); err != nil {
				result.Error = err.Error()
				return result
			}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				result.Error = err.Error()
				return result
			}
		}

		status, err := s.post(ctx, body)
		result.StatusCode = status
		switch {
		case err != nil:
			result.Error = err.Error()
			if ctx.Err() != nil {
				return result
			}
		case status >= 200 && status < 300:
			result.Success = true
			result.Error = ""
			return result
		case status >= 400 && status < 500:
			result.Error = fmt.Sprintf("request rejected with status %d", status)
			return result
		default:
			result.Error = fmt.Sprintf("server error: status %d", status)
		}

		logging.Debug().
			Int("attempt", attempt+1).
			Int("events", len(events)).
			Str("error", result.Error).
			Msg("event batch delivery failed")
	}

	logging.Warn().
		Int("attempts", s.maxAttempts).
		Int("events", len(events)).
		Str("error", result.Error).
		Msg("event batch delivery exhausted retries")
	return result
}

func (s *Sender) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// SendOptimized optimises the queue, sizes batches for the current link and
// sends them in order. It stops at the first failed batch and returns every
// event not delivered so the caller can re-queue them.
func (s *Sender) SendOptimized(ctx context.Context, sessionToken string, events []models.ViewingEvent, batchSize int) (SendResult, []models.ViewingEvent) {
	queue := OptimizeEventQueue(events)
	if len(queue) == 0 {
		return SendResult{Success: true}, nil
	}

	batches := BatchEvents(queue, batchSize)
	sent := 0
	var last SendResult
	for _, batch := range batches {
		last = s.SendEventsWithRetry(ctx, sessionToken, batch)
		if !last.Success {
			return last, queue[sent:]
		}
		sent += len(batch)
	}
	return last, nil
}

// EstimateNetworkLatency times a HEAD request to the ping URL. Any failure
// yields the conservative 300ms default.
func (s *Sender) EstimateNetworkLatency(ctx context.Context) time.Duration {
	if s.pingURL == "" {
		return DefaultLatency
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.pingURL, nil)
	if err != nil {
		return DefaultLatency
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return DefaultLatency
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return DefaultLatency
	}
	return time.Since(start)
}
