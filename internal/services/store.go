package services

import (
	"context"

	"intake-bot-backend/internal/models"
	"intake-bot-backend/internal/repository"
)

// Store is the durable pipeline state used by the onboarding flow
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, id int64, upd models.UserUpdate) error
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	GetLatestUserInfo(ctx context.Context, userID int64) (*models.UserInfo, error)
	CreateUserInfo(ctx context.Context, info *models.UserInfo) error
	UpdateUserInfo(ctx context.Context, id string, upd models.UserInfoUpdate) error
	CreateAnalysisRecord(ctx context.Context, analysis *models.Analysis) error
	CompleteAnalysisRecord(ctx context.Context, id string, result models.AnalysisResult) error
	GetLatestAnalysis(ctx context.Context, userID int64) (*models.Analysis, error)
}

// PostgresStore implements Store on top of the pgx repositories
type PostgresStore struct {
	users     *repository.UserRepository
	userInfos *repository.UserInfoRepository
	analyses  *repository.AnalysisRepository
}

// NewPostgresStore creates a new store
func NewPostgresStore(
	users *repository.UserRepository,
	userInfos *repository.UserInfoRepository,
	analyses *repository.AnalysisRepository,
) *PostgresStore {
	return &PostgresStore{
		users:     users,
		userInfos: userInfos,
		analyses:  analyses,
	}
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	return s.users.Create(ctx, user)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id int64, upd models.UserUpdate) error {
	return s.users.Update(ctx, id, upd)
}

func (s *PostgresStore) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	return s.users.CodeExists(ctx, code)
}

func (s *PostgresStore) GetLatestUserInfo(ctx context.Context, userID int64) (*models.UserInfo, error) {
	return s.userInfos.GetLatestByUserID(ctx, userID)
}

func (s *PostgresStore) CreateUserInfo(ctx context.Context, info *models.UserInfo) error {
	return s.userInfos.Create(ctx, info)
}

func (s *PostgresStore) UpdateUserInfo(ctx context.Context, id string, upd models.UserInfoUpdate) error {
	return s.userInfos.Update(ctx, id, upd)
}

func (s *PostgresStore) CreateAnalysisRecord(ctx context.Context, analysis *models.Analysis) error {
	return s.analyses.Create(ctx, analysis)
}

func (s *PostgresStore) CompleteAnalysisRecord(ctx context.Context, id string, result models.AnalysisResult) error {
	return s.analyses.Complete(ctx, id, result)
}

func (s *PostgresStore) GetLatestAnalysis(ctx context.Context, userID int64) (*models.Analysis, error) {
	return s.analyses.GetLatestByUserID(ctx, userID)
}
