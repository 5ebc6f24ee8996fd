package services

import (
	"context"

	"intake-bot-backend/internal/models"
)

// minPhotoRating is the lowest score a face photo or photo set may get
const minPhotoRating = 1

// PhotoScorer rates photos before they are accepted
type PhotoScorer interface {
	ScorePhotoSet(ctx context.Context, photoRefs []string) (int, error)
	ScoreFacePhoto(ctx context.Context, photoRef string) (int, error)
}

// AnalysisRequest is the input of a full analysis
type AnalysisRequest struct {
	UserID        int64
	Language      string
	PhotoRefs     []string
	SurveyAnswers map[int]models.SurveyAnswer
	Feelings      string
	Transcript    string
}

// Analysis error codes reported by the analyzer
const (
	AnalysisErrorFaceNotDetected = "face_not_detected"
	AnalysisErrorRefusal         = "ai_analysis_refusal"
)

// AnalysisReport is the outcome of a full analysis. Success is false for
// application level failures, ErrorCode then explains why.
type AnalysisReport struct {
	Success         bool   `json:"success"`
	FullAnswer      string `json:"full_answer"`
	BlockHypothesis string `json:"block_hypothesis"`
	ShortSummary    string `json:"short_summary"`
	ErrorCode       string `json:"error_code,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Analyzer runs the slow full analysis
type Analyzer interface {
	RunFullAnalysis(ctx context.Context, req AnalysisRequest) (*AnalysisReport, error)
}

// Transcriber converts a voice message to text
type Transcriber interface {
	TranscribeVoice(ctx context.Context, audio []byte, mimeType, language string) (string, error)
}
