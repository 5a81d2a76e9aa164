package telemetry

import (
	"context"
	"sync"
	"time"

	"courseview-backend/internal/models"
)

// DebouncedSender accumulates events and sends them once no new event has
// arrived for the configured delay.
type DebouncedSender struct {
	sender   *Sender
	token    string
	delay    time.Duration
	onResult func(SendResult, []models.ViewingEvent)

	mu      sync.Mutex
	pending []models.ViewingEvent
	timer   *time.Timer
	stopped bool
}

// NewDebouncedSender returns a coalescing sender for one session. onResult, if
// set, receives each flush's result together with any undelivered events.
func (s *Sender) NewDebouncedSender(sessionToken string, delay time.Duration, onResult func(SendResult, []models.ViewingEvent)) *DebouncedSender {
	return &DebouncedSender{
		sender:   s,
		token:    sessionToken,
		delay:    delay,
		onResult: onResult,
	}
}

// Add queues events and restarts the quiet-period timer.
func (d *DebouncedSender) Add(events ...models.ViewingEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = append(d.pending, events...)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.Flush(context.Background())
	})
}

func (d *DebouncedSender) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush sends whatever is queued right now.
func (d *DebouncedSender) Flush(ctx context.Context) SendResult {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if len(batch) == 0 {
		return SendResult{Success: true}
	}

	result, unsent := d.sender.SendOptimized(ctx, d.token, batch, DefaultMaxBatchSize)
	if d.onResult != nil {
		d.onResult(result, unsent)
	}
	return result
}

// Stop cancels the timer and makes one final flush. Later Adds are ignored.
func (d *DebouncedSender) Stop(ctx context.Context) SendResult {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	return d.Flush(ctx)
}
