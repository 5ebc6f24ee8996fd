package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intake-bot-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnalysisRepository handles database operations for analysis records
type AnalysisRepository struct {
	db *pgxpool.Pool
}

// NewAnalysisRepository creates a new analysis repository
func NewAnalysisRepository(db *pgxpool.Pool) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Create creates a new analysis record
func (r *AnalysisRepository) Create(ctx context.Context, analysis *models.Analysis) error {
	query := `
		INSERT INTO analyses (id, user_id, user_info_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query,
		analysis.ID, analysis.UserID, analysis.UserInfoID, analysis.Status, analysis.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis: %w", err)
	}
	return nil
}

// Complete stores the analysis result and marks the record completed
func (r *AnalysisRepository) Complete(ctx context.Context, id string, result models.AnalysisResult) error {
	query := `
		UPDATE analyses
		SET status = $1, full_answer = $2, block_hypothesis = $3, short_summary = $4, completed_at = $5
		WHERE id = $6
	`
	tag, err := r.db.Exec(ctx, query,
		models.AnalysisCompleted, result.FullAnswer, result.BlockHypothesis, result.ShortSummary, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("analysis not found: %w", models.ErrNotFound)
	}
	return nil
}

// GetLatestByUserID retrieves the most recent analysis of a user
func (r *AnalysisRepository) GetLatestByUserID(ctx context.Context, userID int64) (*models.Analysis, error) {
	query := `
		SELECT id, user_id, user_info_id, status, full_answer, block_hypothesis, short_summary,
			created_at, completed_at
		FROM analyses
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var analysis models.Analysis
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&analysis.ID, &analysis.UserID, &analysis.UserInfoID, &analysis.Status, &analysis.FullAnswer,
		&analysis.BlockHypothesis, &analysis.ShortSummary, &analysis.CreatedAt, &analysis.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("analysis not found: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return &analysis, nil
}
