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

// UserRepository handles database operations for users
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, pipeline_state, language, analysis_credits, subscription_active,
	subscription_expiry, referral_code, referred_by, funnel_milestone, mini_app_token_at, created_at, updated_at`

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, pipeline_state, language, analysis_credits, subscription_active,
			subscription_expiry, referral_code, referred_by, funnel_milestone, mini_app_token_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID, user.PipelineState, user.Language, user.AnalysisCredits, user.SubscriptionActive,
		user.SubscriptionExpiry, user.ReferralCode, user.ReferredBy, user.FunnelMilestone,
		user.MiniAppTokenAt, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by Telegram ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CodeExists checks if a referral code already exists
func (r *UserRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE referral_code = $1)`
	var exists bool
	err := r.db.QueryRow(ctx, query, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check code existence: %w", err)
	}
	return exists, nil
}

// Update applies the non-nil fields of upd to the user
func (r *UserRepository) Update(ctx context.Context, id int64, upd models.UserUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if upd.PipelineState != nil {
		add("pipeline_state = $%d", *upd.PipelineState)
	}
	if upd.Language != nil {
		add("language = $%d", *upd.Language)
	}
	if upd.FunnelMilestone != nil {
		add("funnel_milestone = GREATEST(funnel_milestone, $%d)", *upd.FunnelMilestone)
	}
	if upd.MiniAppTokenAt != nil {
		add("mini_app_token_at = $%d", *upd.MiniAppTokenAt)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at = $%d", time.Now())

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %w", models.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.PipelineState, &user.Language, &user.AnalysisCredits, &user.SubscriptionActive,
		&user.SubscriptionExpiry, &user.ReferralCode, &user.ReferredBy, &user.FunnelMilestone,
		&user.MiniAppTokenAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
