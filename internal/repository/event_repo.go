package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courseview-backend/internal/models"
)

type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// InsertBatch stores events in one round trip. Missing ids and server
// timestamps are filled in on the passed slice.
func (r *EventRepo) InsertBatch(ctx context.Context, events []models.ViewingEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for i := range events {
		e := &events[i]
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.ServerTimestamp == nil {
			ts := now
			e.ServerTimestamp = &ts
		}
		details, err := models.EncodeDetails(e.Details)
		if err != nil {
			return fmt.Errorf("encode details for event %d: %w", i, err)
		}
		var additional []byte
		if len(details) > 0 {
			additional = details
		}

		batch.Queue(`
			INSERT INTO video_viewing_events (id, session_id, event_type, timestamp_in_video, client_timestamp,
				server_timestamp, is_tab_visible, playback_rate, volume_level, additional_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, e.SessionID, string(e.EventType), e.TimestampInVideo, e.ClientTimestamp,
			*e.ServerTimestamp, e.IsTabVisible, e.PlaybackRate, e.VolumeLevel, additional)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert event %d: %w", i, err)
		}
	}
	return nil
}

const eventColumns = `e.id, e.session_id, e.event_type, e.timestamp_in_video, e.client_timestamp, e.server_timestamp,
	e.is_tab_visible, e.playback_rate, e.volume_level, e.additional_data`

func collectEvents(rows pgx.Rows) ([]models.ViewingEvent, error) {
	defer rows.Close()

	var events []models.ViewingEvent
	for rows.Next() {
		var (
			e          models.ViewingEvent
			eventType  string
			serverTS   time.Time
			additional []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &eventType, &e.TimestampInVideo, &e.ClientTimestamp, &serverTS,
			&e.IsTabVisible, &e.PlaybackRate, &e.VolumeLevel, &additional); err != nil {
			return nil, err
		}
		e.EventType = models.EventType(eventType)
		e.ServerTimestamp = &serverTS
		e.Details = models.DecodeDetails(additional)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *EventRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.ViewingEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM video_viewing_events e
		WHERE e.session_id = $1
		ORDER BY e.client_timestamp, e.server_timestamp`, sessionID)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// ListForUserLesson returns the user's full event history on a lesson across sessions.
func (r *EventRepo) ListForUserLesson(ctx context.Context, userID, videoLessonID uuid.UUID) ([]models.ViewingEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM video_viewing_events e
		JOIN video_viewing_sessions s ON s.id = e.session_id
		WHERE s.user_id = $1 AND s.video_lesson_id = $2
		ORDER BY e.client_timestamp, e.server_timestamp`, userID, videoLessonID)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}
