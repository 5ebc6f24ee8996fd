package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist
var ErrNotFound = errors.New("not found")

// SurveyQuestionCount is the number of questions in the onboarding survey
const SurveyQuestionCount = 4

// FunnelMilestone is a monotonically advancing product analytics marker
type FunnelMilestone int

const (
	FunnelStarted FunnelMilestone = iota
	FunnelFirstPhotoAnalysis
	FunnelPsychologyTestPassed
	FunnelFeelingsShared
	FunnelHypothesisReceived
)

// String returns the analytics name of the milestone
func (m FunnelMilestone) String() string {
	switch m {
	case FunnelStarted:
		return "started"
	case FunnelFirstPhotoAnalysis:
		return "first_photo_analysis"
	case FunnelPsychologyTestPassed:
		return "psychology_test_passed"
	case FunnelFeelingsShared:
		return "feelings_shared"
	case FunnelHypothesisReceived:
		return "hypothesis_received"
	default:
		return "unknown"
	}
}

// User represents a bot user
type User struct {
	ID                 int64           `json:"id"`
	PipelineState      PipelineState   `json:"pipeline_state"`
	Language           string          `json:"language"`
	AnalysisCredits    int             `json:"analysis_credits"`
	SubscriptionActive bool            `json:"subscription_active"`
	SubscriptionExpiry *time.Time      `json:"subscription_expiry,omitempty"`
	ReferralCode       string          `json:"referral_code"`
	ReferredBy         string          `json:"referred_by,omitempty"`
	FunnelMilestone    FunnelMilestone `json:"funnel_milestone"`
	MiniAppTokenAt     *time.Time      `json:"mini_app_token_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// UserUpdate lists the user fields to change; nil fields are left untouched.
// FunnelMilestone never moves backwards.
type UserUpdate struct {
	PipelineState   *PipelineState
	Language        *string
	FunnelMilestone *FunnelMilestone
	MiniAppTokenAt  *time.Time
}

// SurveyAnswer is a stored answer to one survey question
type SurveyAnswer struct {
	AnswerIndex int       `json:"answer_index"`
	IsCustom    bool      `json:"is_custom"`
	AnswerText  string    `json:"answer_text"`
	AnsweredAt  time.Time `json:"answered_at"`
}

// UserInfo holds survey progress, photos and analysis output for a user.
// Several records may exist per user, the latest one wins.
type UserInfo struct {
	ID                   string               `json:"id"`
	UserID               int64                `json:"user_id"`
	SurveyAnswers        map[int]SurveyAnswer `json:"survey_answers"`
	SurveyProgress       int                  `json:"survey_progress"`
	PhotoURLs            []string             `json:"photo_urls"`
	Feelings             string               `json:"feelings"`
	BlockHypothesis      string               `json:"block_hypothesis"`
	SummaryText          string               `json:"summary_text"`
	Description          string               `json:"description"`
	LuscherTestCompleted bool                 `json:"luscher_test_completed"`
	LuscherTestError     bool                 `json:"luscher_test_error"`
	AnalysisError        string               `json:"analysis_error,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// UserInfoUpdate lists the user info fields to change; nil fields are left untouched
type UserInfoUpdate struct {
	SurveyAnswers   map[int]SurveyAnswer
	SurveyProgress  *int
	PhotoURLs       []string
	Feelings        *string
	BlockHypothesis *string
	SummaryText     *string
	Description     *string
	AnalysisError   *string
}

// AnalysisStatus is the lifecycle status of an analysis record
type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisCompleted AnalysisStatus = "completed"
)

// Analysis is the durable record of one full analysis run
type Analysis struct {
	ID              string         `json:"id"`
	UserID          int64          `json:"user_id"`
	UserInfoID      string         `json:"user_info_id"`
	Status          AnalysisStatus `json:"status"`
	FullAnswer      string         `json:"full_answer,omitempty"`
	BlockHypothesis string         `json:"block_hypothesis,omitempty"`
	ShortSummary    string         `json:"short_summary,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// AnalysisResult is the structured output stored when an analysis completes
type AnalysisResult struct {
	FullAnswer      string `json:"full_answer"`
	BlockHypothesis string `json:"block_hypothesis"`
	ShortSummary    string `json:"short_summary"`
}
