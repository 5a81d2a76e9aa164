package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"courseview-backend/internal/models"
)

type AlertRepo struct {
	pool *pgxpool.Pool
}

func NewAlertRepo(pool *pgxpool.Pool) *AlertRepo {
	return &AlertRepo{pool: pool}
}

func (r *AlertRepo) Create(ctx context.Context, a *models.SecurityAlert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Violations == nil {
		a.Violations = []string{}
	}
	if a.Recommendations == nil {
		a.Recommendations = []string{}
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO security_alerts (id, user_id, video_lesson_id, alert_type, severity, risk_score, violations, recommendations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		a.ID, a.UserID, a.VideoLessonID, a.AlertType, string(a.Severity), a.RiskScore, a.Violations, a.Recommendations,
	).Scan(&a.CreatedAt)
}

func (r *AlertRepo) ListRecent(ctx context.Context, limit int) ([]models.SecurityAlert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, video_lesson_id, alert_type, severity, risk_score, violations, recommendations, created_at
		FROM security_alerts
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []models.SecurityAlert
	for rows.Next() {
		var (
			a        models.SecurityAlert
			severity string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.VideoLessonID, &a.AlertType, &severity, &a.RiskScore,
			&a.Violations, &a.Recommendations, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Severity = models.AlertSeverity(severity)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
