package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventPlay      EventType = "play"
	EventPause     EventType = "pause"
	EventSeek      EventType = "seek"
	EventHeartbeat EventType = "heartbeat"
	EventEnd       EventType = "end"
)

func (t EventType) Valid() bool {
	switch t {
	case EventPlay, EventPause, EventSeek, EventHeartbeat, EventEnd:
		return true
	}
	return false
}

// ViewingSession is one browser tab's attempt to watch one lesson.
// Only the blake2b digest of the session token is persisted.
type ViewingSession struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	VideoLessonID    uuid.UUID `json:"video_lesson_id"`
	SessionToken     string    `json:"-"`
	SessionTokenHash []byte    `json:"-"`
	StartedAt        time.Time `json:"started_at"`
	LastHeartbeat    time.Time `json:"last_heartbeat"`
	IsActive         bool      `json:"is_active"`
	BrowserTabID     string    `json:"browser_tab_id"`
	UserAgent        string    `json:"user_agent"`
	IPAddress        string    `json:"ip_address"`
}

// ViewingEvent is an immutable playback occurrence.
type ViewingEvent struct {
	ID               uuid.UUID    `json:"id"`
	SessionID        uuid.UUID    `json:"session_id"`
	EventType        EventType    `json:"event_type"`
	TimestampInVideo float64      `json:"timestamp_in_video"`
	ClientTimestamp  time.Time    `json:"client_timestamp"`
	ServerTimestamp  *time.Time   `json:"server_timestamp,omitempty"`
	IsTabVisible     bool         `json:"is_tab_visible"`
	PlaybackRate     float64      `json:"playback_rate"`
	VolumeLevel      float64      `json:"volume_level"`
	Details          EventDetails `json:"-"`
}

// TimeSegment is a derived [Start, End) interval of watched video time.
type TimeSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (s TimeSegment) Duration() float64 {
	return s.End - s.Start
}

type VideoLesson struct {
	ID                           uuid.UUID `json:"id"`
	Title                        string    `json:"title"`
	VideoURL                     string    `json:"video_url"`
	DurationSeconds              float64   `json:"duration_seconds"`
	RequiredCompletionPercentage float64   `json:"required_completion_percentage"`
	IsPublished                  bool      `json:"is_published"`
	CreatedAt                    time.Time `json:"created_at"`
}

// VideoProgress is recomputed from the full event history on every batch.
type VideoProgress struct {
	UserID                  uuid.UUID `json:"user_id"`
	VideoLessonID           uuid.UUID `json:"video_lesson_id"`
	TotalWatchedSeconds     float64   `json:"total_watched_seconds"`
	CompletionPercentage    float64   `json:"completion_percentage"`
	IsCompleted             bool      `json:"is_completed"`
	FirstWatchStartedAt     time.Time `json:"first_watch_started_at"`
	LastUpdatedAt           time.Time `json:"last_updated_at"`
	SuspiciousActivityCount int       `json:"suspicious_activity_count"`
	GradeContribution       float64   `json:"grade_contribution"`
}

type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

type SecurityAlert struct {
	ID              uuid.UUID     `json:"id"`
	UserID          uuid.UUID     `json:"user_id"`
	VideoLessonID   *uuid.UUID    `json:"video_lesson_id,omitempty"`
	AlertType       string        `json:"alert_type"`
	Severity        AlertSeverity `json:"severity"`
	RiskScore       float64       `json:"risk_score"`
	Violations      []string      `json:"violations"`
	Recommendations []string      `json:"recommendations"`
	CreatedAt       time.Time     `json:"created_at"`
}

// API error envelope
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
