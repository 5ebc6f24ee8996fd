package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"intake-bot-backend/internal/middleware"
	"intake-bot-backend/internal/models"
	"intake-bot-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// PhotoPresigner creates temporary read links for stored photos
type PhotoPresigner interface {
	PresignGet(ctx context.Context, ref string) (string, error)
}

// AnalysisHandler serves analysis results to the mini-app
type AnalysisHandler struct {
	store  services.Store
	photos PhotoPresigner
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(store services.Store, photos PhotoPresigner) *AnalysisHandler {
	return &AnalysisHandler{
		store:  store,
		photos: photos,
	}
}

// AnalysisResponse is the mini-app view of the latest analysis
type AnalysisResponse struct {
	Status          models.AnalysisStatus `json:"status"`
	ShortSummary    string                `json:"short_summary,omitempty"`
	BlockHypothesis string                `json:"block_hypothesis,omitempty"`
	FullAnswer      string                `json:"full_answer,omitempty"`
	Photos          []string              `json:"photos"`
	CreatedAt       time.Time             `json:"created_at"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

// GetLatest handles GET /api/v1/analysis
func (h *AnalysisHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	analysis, err := h.store.GetLatestAnalysis(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, "analysis not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to get analysis")
		respondError(w, "failed to get analysis", http.StatusInternalServerError)
		return
	}

	response := AnalysisResponse{
		Status:          analysis.Status,
		ShortSummary:    analysis.ShortSummary,
		BlockHypothesis: analysis.BlockHypothesis,
		FullAnswer:      analysis.FullAnswer,
		Photos:          []string{},
		CreatedAt:       analysis.CreatedAt,
		CompletedAt:     analysis.CompletedAt,
	}

	info, err := h.store.GetLatestUserInfo(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to get user info")
		respondError(w, "failed to get analysis", http.StatusInternalServerError)
		return
	}
	if info != nil {
		for _, ref := range info.PhotoURLs {
			link, err := h.photos.PresignGet(ctx, ref)
			if err != nil {
				log.Error().Err(err).Int64("user_id", userID).Str("photo", ref).Msg("Failed to presign photo")
				continue
			}
			response.Photos = append(response.Photos, link)
		}
	}

	respondJSON(w, response, http.StatusOK)
}
