package services

import (
	"context"
	"time"

	"courseview-backend/internal/logging"
)

type sessionCleaner interface {
	CleanupInactiveSessions(ctx context.Context) (int64, error)
}

// SessionReaper periodically deactivates abandoned viewing sessions.
type SessionReaper struct {
	tracking sessionCleaner
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
	started  bool
}

func NewSessionReaper(tracking sessionCleaner, interval time.Duration) *SessionReaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SessionReaper{
		tracking: tracking,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *SessionReaper) Start() {
	s.started = true
	go s.loop()
	logging.Info().Dur("interval", s.interval).Msg("session reaper started")
}

// Stop is safe to call more than once and waits for an in-flight sweep.
func (s *SessionReaper) Stop() {
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	if s.started {
		<-s.done
	}
}

func (s *SessionReaper) loop() {
	defer close(s.done)

	// Run on startup as well as by interval.
	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *SessionReaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.tracking.CleanupInactiveSessions(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("session cleanup failed")
		return
	}
	if n > 0 {
		logging.Info().Int64("sessions", n).Msg("deactivated inactive viewing sessions")
	}
}
