package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"intake-bot-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserInfoRepository handles database operations for user infos
type UserInfoRepository struct {
	db *pgxpool.Pool
}

// NewUserInfoRepository creates a new user info repository
func NewUserInfoRepository(db *pgxpool.Pool) *UserInfoRepository {
	return &UserInfoRepository{db: db}
}

// Create creates a new user info record
func (r *UserInfoRepository) Create(ctx context.Context, info *models.UserInfo) error {
	if info.SurveyAnswers == nil {
		info.SurveyAnswers = map[int]models.SurveyAnswer{}
	}
	if info.PhotoURLs == nil {
		info.PhotoURLs = []string{}
	}

	query := `
		INSERT INTO user_infos (id, user_id, survey_answers, survey_progress, photo_urls, feelings,
			block_hypothesis, summary_text, description, luscher_test_completed, luscher_test_error,
			analysis_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.Exec(ctx, query,
		info.ID, info.UserID, info.SurveyAnswers, info.SurveyProgress, info.PhotoURLs, info.Feelings,
		info.BlockHypothesis, info.SummaryText, info.Description, info.LuscherTestCompleted,
		info.LuscherTestError, info.AnalysisError, info.CreatedAt, info.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user info: %w", err)
	}
	return nil
}

// GetLatestByUserID retrieves the most recent user info of a user
func (r *UserInfoRepository) GetLatestByUserID(ctx context.Context, userID int64) (*models.UserInfo, error) {
	query := `
		SELECT id, user_id, survey_answers, survey_progress, photo_urls, feelings,
			block_hypothesis, summary_text, description, luscher_test_completed, luscher_test_error,
			analysis_error, created_at, updated_at
		FROM user_infos
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var info models.UserInfo
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&info.ID, &info.UserID, &info.SurveyAnswers, &info.SurveyProgress, &info.PhotoURLs, &info.Feelings,
		&info.BlockHypothesis, &info.SummaryText, &info.Description, &info.LuscherTestCompleted,
		&info.LuscherTestError, &info.AnalysisError, &info.CreatedAt, &info.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user info not found: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	if info.SurveyAnswers == nil {
		info.SurveyAnswers = map[int]models.SurveyAnswer{}
	}
	return &info, nil
}

// Update applies the non-nil fields of upd to the user info
func (r *UserInfoRepository) Update(ctx context.Context, id string, upd models.UserInfoUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.SurveyAnswers != nil {
		add("survey_answers", upd.SurveyAnswers)
	}
	if upd.SurveyProgress != nil {
		add("survey_progress", *upd.SurveyProgress)
	}
	if upd.PhotoURLs != nil {
		add("photo_urls", upd.PhotoURLs)
	}
	if upd.Feelings != nil {
		add("feelings", *upd.Feelings)
	}
	if upd.BlockHypothesis != nil {
		add("block_hypothesis", *upd.BlockHypothesis)
	}
	if upd.SummaryText != nil {
		add("summary_text", *upd.SummaryText)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.AnalysisError != nil {
		add("analysis_error", *upd.AnalysisError)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now())

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE user_infos SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user info: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user info not found: %w", models.ErrNotFound)
	}
	return nil
}
