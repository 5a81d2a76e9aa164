package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"courseview-backend/internal/models"
)

type LessonRepo struct {
	pool *pgxpool.Pool
}

func NewLessonRepo(pool *pgxpool.Pool) *LessonRepo {
	return &LessonRepo{pool: pool}
}

func (r *LessonRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.VideoLesson, error) {
	l := &models.VideoLesson{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, video_url, duration_seconds, required_completion_percentage, is_published, created_at
		FROM video_lessons WHERE id = $1`, id).Scan(
		&l.ID, &l.Title, &l.VideoURL, &l.DurationSeconds, &l.RequiredCompletionPercentage, &l.IsPublished, &l.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}
