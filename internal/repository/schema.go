package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		pipeline_state TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		analysis_credits INTEGER NOT NULL DEFAULT 0,
		subscription_active BOOLEAN NOT NULL DEFAULT FALSE,
		subscription_expiry TIMESTAMPTZ,
		referral_code TEXT NOT NULL UNIQUE,
		referred_by TEXT NOT NULL DEFAULT '',
		funnel_milestone INTEGER NOT NULL DEFAULT 0,
		mini_app_token_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS mini_app_token_at TIMESTAMPTZ`,
	`CREATE TABLE IF NOT EXISTS user_infos (
		id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		survey_answers JSONB NOT NULL DEFAULT '{}',
		survey_progress INTEGER NOT NULL DEFAULT 0,
		photo_urls TEXT[] NOT NULL DEFAULT '{}',
		feelings TEXT NOT NULL DEFAULT '',
		block_hypothesis TEXT NOT NULL DEFAULT '',
		summary_text TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		luscher_test_completed BOOLEAN NOT NULL DEFAULT FALSE,
		luscher_test_error BOOLEAN NOT NULL DEFAULT FALSE,
		analysis_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS user_infos_user_created_idx ON user_infos (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		user_info_id TEXT NOT NULL REFERENCES user_infos(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		full_answer TEXT NOT NULL DEFAULT '',
		block_hypothesis TEXT NOT NULL DEFAULT '',
		short_summary TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS analyses_user_created_idx ON analyses (user_id, created_at DESC)`,
}

// Migrate creates the tables used by the bot if they do not exist
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, statement := range schema {
		if _, err := db.Exec(ctx, statement); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	log.Info().Int("statements", len(schema)).Msg("Database schema is up to date")
	return nil
}
