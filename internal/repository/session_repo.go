package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courseview-backend/internal/models"
)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `id, user_id, video_lesson_id, session_token_hash, started_at, last_heartbeat,
	is_active, browser_tab_id, user_agent, ip_address`

func scanSession(row pgx.Row) (*models.ViewingSession, error) {
	s := &models.ViewingSession{}
	err := row.Scan(&s.ID, &s.UserID, &s.VideoLessonID, &s.SessionTokenHash, &s.StartedAt,
		&s.LastHeartbeat, &s.IsActive, &s.BrowserTabID, &s.UserAgent, &s.IPAddress)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SessionRepo) Create(ctx context.Context, s *models.ViewingSession) error {
	query := `
		INSERT INTO video_viewing_sessions (id, user_id, video_lesson_id, session_token_hash, browser_tab_id, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING started_at, last_heartbeat, is_active`

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, query,
		s.ID, s.UserID, s.VideoLessonID, s.SessionTokenHash, s.BrowserTabID, s.UserAgent, s.IPAddress,
	).Scan(&s.StartedAt, &s.LastHeartbeat, &s.IsActive)
}

func (r *SessionRepo) GetByTokenHash(ctx context.Context, hash []byte) (*models.ViewingSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM video_viewing_sessions WHERE session_token_hash = $1`, hash)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func (r *SessionRepo) ListActiveSessions(ctx context.Context, userID, videoLessonID uuid.UUID) ([]models.ViewingSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM video_viewing_sessions
		WHERE user_id = $1 AND video_lesson_id = $2 AND is_active
		ORDER BY started_at`, userID, videoLessonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ViewingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// DeactivateForUserLesson ends every active session of a user on a lesson and
// returns the token hashes it closed.
func (r *SessionRepo) DeactivateForUserLesson(ctx context.Context, userID, videoLessonID uuid.UUID) ([][]byte, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE video_viewing_sessions
		SET is_active = FALSE
		WHERE user_id = $1 AND video_lesson_id = $2 AND is_active
		RETURNING session_token_hash`, userID, videoLessonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes [][]byte
	for rows.Next() {
		var h []byte
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (r *SessionRepo) TouchHeartbeat(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE video_viewing_sessions
		SET last_heartbeat = NOW()
		WHERE id = $1 AND is_active`, sessionID)
	return err
}

func (r *SessionRepo) Deactivate(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE video_viewing_sessions SET is_active = FALSE WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateStale closes sessions whose heartbeat predates heartbeatBefore or
// that started before startedBefore.
func (r *SessionRepo) DeactivateStale(ctx context.Context, heartbeatBefore, startedBefore time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE video_viewing_sessions
		SET is_active = FALSE
		WHERE is_active AND (last_heartbeat < $1 OR started_at < $2)`, heartbeatBefore, startedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
