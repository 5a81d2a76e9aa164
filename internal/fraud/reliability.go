package fraud

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// CalculateUserReliabilityScore rates a user's past viewing on 0-100.
// Users without history start at the neutral ReliabilityNoHistory score.
func (s *Service) CalculateUserReliabilityScore(ctx context.Context, userID uuid.UUID) (float64, error) {
	history, err := s.history.ListProgressForUser(ctx, userID, nil)
	if err != nil {
		return s.cfg.ReliabilityNoHistory, fmt.Errorf("failed to load progress history: %w", err)
	}
	if len(history) == 0 {
		return s.cfg.ReliabilityNoHistory, nil
	}

	suspicious := make([]float64, len(history))
	completion := make([]float64, len(history))
	nearComplete := 0
	for i, p := range history {
		suspicious[i] = float64(p.SuspiciousActivityCount)
		completion[i] = p.CompletionPercentage
		if p.CompletionPercentage >= 95 {
			nearComplete++
		}
	}

	score := 100.0
	score -= math.Min(40, stat.Mean(suspicious, nil)*10)

	switch avg := stat.Mean(completion, nil); {
	case avg < 30:
		score -= 20
	case avg < 50:
		score -= 10
	case avg > 90:
		score += 10
	}

	if len(history) >= 3 && stat.StdDev(completion, nil) < 15 {
		score += 5
	}
	if float64(nearComplete)/float64(len(history)) > 0.8 {
		score += 5
	}

	return clamp(score), nil
}
