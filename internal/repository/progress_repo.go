package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courseview-backend/internal/models"
)

type ProgressRepo struct {
	pool *pgxpool.Pool
}

func NewProgressRepo(pool *pgxpool.Pool) *ProgressRepo {
	return &ProgressRepo{pool: pool}
}

const progressColumns = `user_id, video_lesson_id, total_watched_seconds, completion_percentage, is_completed,
	first_watch_started_at, last_updated_at, suspicious_activity_count, grade_contribution`

func scanProgress(row pgx.Row) (*models.VideoProgress, error) {
	p := &models.VideoProgress{}
	err := row.Scan(&p.UserID, &p.VideoLessonID, &p.TotalWatchedSeconds, &p.CompletionPercentage, &p.IsCompleted,
		&p.FirstWatchStartedAt, &p.LastUpdatedAt, &p.SuspiciousActivityCount, &p.GradeContribution)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Upsert writes the recomputed aggregate; first_watch_started_at keeps its
// original value on conflict.
func (r *ProgressRepo) Upsert(ctx context.Context, p *models.VideoProgress) error {
	query := `
		INSERT INTO video_progress (user_id, video_lesson_id, total_watched_seconds, completion_percentage,
			is_completed, first_watch_started_at, last_updated_at, suspicious_activity_count, grade_contribution)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7, $8)
		ON CONFLICT (user_id, video_lesson_id) DO UPDATE SET
			total_watched_seconds = EXCLUDED.total_watched_seconds,
			completion_percentage = EXCLUDED.completion_percentage,
			is_completed = EXCLUDED.is_completed,
			last_updated_at = NOW(),
			suspicious_activity_count = EXCLUDED.suspicious_activity_count,
			grade_contribution = EXCLUDED.grade_contribution
		RETURNING first_watch_started_at, last_updated_at`

	return r.pool.QueryRow(ctx, query,
		p.UserID, p.VideoLessonID, p.TotalWatchedSeconds, p.CompletionPercentage, p.IsCompleted,
		p.FirstWatchStartedAt, p.SuspiciousActivityCount, p.GradeContribution,
	).Scan(&p.FirstWatchStartedAt, &p.LastUpdatedAt)
}

func (r *ProgressRepo) Get(ctx context.Context, userID, videoLessonID uuid.UUID) (*models.VideoProgress, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+progressColumns+` FROM video_progress WHERE user_id = $1 AND video_lesson_id = $2`,
		userID, videoLessonID)
	p, err := scanProgress(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// ListProgressForUser returns every progress row of a user, or only one lesson's when videoLessonID is set.
func (r *ProgressRepo) ListProgressForUser(ctx context.Context, userID uuid.UUID, videoLessonID *uuid.UUID) ([]models.VideoProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM video_progress WHERE user_id = $1`
	args := []interface{}{userID}
	if videoLessonID != nil {
		query += ` AND video_lesson_id = $2`
		args = append(args, *videoLessonID)
	}
	query += ` ORDER BY last_updated_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.VideoProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
