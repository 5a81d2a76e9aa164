package telemetry

import (
	"math"
	"sort"
	"time"

	"courseview-backend/internal/models"
)

const (
	DefaultMaxBatchSize = 50
	MinBatchSize        = 5
	DefaultMaxPayload   = 64 * 1024

	heartbeatSpacing = 5 * time.Second
	seekCollapse     = 1.0
)

// BatchEvents chunks events into order-preserving batches of at most maxBatchSize.
func BatchEvents(events []models.ViewingEvent, maxBatchSize int) [][]models.ViewingEvent {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	var batches [][]models.ViewingEvent
	for start := 0; start < len(events); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(events) {
			end = len(events)
		}
		batches = append(batches, events[start:end])
	}
	return batches
}

// OptimizeEventQueue orders events by client time, thins heartbeats closer
// than 5s to the last kept one, and collapses consecutive seeks landing within
// one video second of each other into the latest.
func OptimizeEventQueue(events []models.ViewingEvent) []models.ViewingEvent {
	ordered := make([]models.ViewingEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ClientTimestamp.Before(ordered[j].ClientTimestamp)
	})

	out := make([]models.ViewingEvent, 0, len(ordered))
	var lastHeartbeat time.Time
	haveHeartbeat := false

	for _, e := range ordered {
		switch e.EventType {
		case models.EventHeartbeat:
			if haveHeartbeat && e.ClientTimestamp.Sub(lastHeartbeat) < heartbeatSpacing {
				continue
			}
			lastHeartbeat, haveHeartbeat = e.ClientTimestamp, true
		case models.EventSeek:
			if n := len(out); n > 0 && out[n-1].EventType == models.EventSeek &&
				math.Abs(out[n-1].TimestampInVideo-e.TimestampInVideo) <= seekCollapse {
				out[n-1] = e
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// CalculateOptimalBatchSize sizes a batch to fit maxPayload and shrinks it on
// slow links. The result is always within [5, 50].
func CalculateOptimalBatchSize(avgEventSize int, latency time.Duration, maxPayload int) int {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	size := float64(DefaultMaxBatchSize)
	if avgEventSize > 0 {
		size = math.Min(size, float64(maxPayload/avgEventSize))
	}

	switch {
	case latency > 500*time.Millisecond:
		size *= 0.7
	case latency > 200*time.Millisecond:
		size *= 0.85
	}

	n := int(math.Floor(size))
	if n < MinBatchSize {
		return MinBatchSize
	}
	if n > DefaultMaxBatchSize {
		return DefaultMaxBatchSize
	}
	return n
}
