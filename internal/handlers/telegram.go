package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"intake-bot-backend/internal/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

const (
	pollTimeout  = 60
	maxFileBytes = 20 << 20
)

// Conversation is the onboarding flow driven by Telegram updates
type Conversation interface {
	HandleStart(ctx context.Context, chat services.Chat, payload string)
	Resume(ctx context.Context, chat services.Chat)
	HandleIncomingPhoto(ctx context.Context, chat services.Chat, photoRef, groupID string)
	HandleIncomingVoiceOrText(ctx context.Context, chat services.Chat, input services.FeelingsInput)
	HandleButtonAction(ctx context.Context, chat services.Chat, action string)
	AcceptingPhotos(ctx context.Context, userID int64) (bool, error)
	ReportError(ctx context.Context, chat services.Chat)
}

// PhotoUploader stores incoming photos and returns their reference
type PhotoUploader interface {
	Upload(ctx context.Context, userID int64, data []byte, contentType string) (string, error)
}

// CallbackAnswerer acknowledges inline button presses
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, chatID int64, callbackID string) error
}

// FileLinker resolves a Telegram file id to a download URL
type FileLinker interface {
	GetFileDirectURL(fileID string) (string, error)
}

// TelegramHandler turns Bot API updates into conversation events
type TelegramHandler struct {
	api          *tgbotapi.BotAPI
	files        FileLinker
	conversation Conversation
	photos       PhotoUploader
	callbacks    CallbackAnswerer
	httpClient   *http.Client
}

// NewTelegramHandler creates a new Telegram handler
func NewTelegramHandler(api *tgbotapi.BotAPI, conversation Conversation, photos PhotoUploader, callbacks CallbackAnswerer) *TelegramHandler {
	return &TelegramHandler{
		api:          api,
		files:        api,
		conversation: conversation,
		photos:       photos,
		callbacks:    callbacks,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Run long-polls for updates and handles them one by one until ctx is done
func (h *TelegramHandler) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := h.api.GetUpdatesChan(u)

	log.Info().Str("bot", h.api.Self.UserName).Msg("Telegram update loop started")

	for {
		select {
		case <-ctx.Done():
			h.api.StopReceivingUpdates()
			log.Info().Msg("Telegram update loop stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("telegram updates channel closed")
			}
			h.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate dispatches one update
func (h *TelegramHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		h.handleMessage(ctx, update.Message)
	}
}

func (h *TelegramHandler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	chat := services.Chat{
		ChatID:   msg.Chat.ID,
		UserID:   msg.From.ID,
		Language: msg.From.LanguageCode,
	}

	switch {
	case msg.IsCommand():
		switch msg.Command() {
		case "start":
			h.conversation.HandleStart(ctx, chat, msg.CommandArguments())
		default:
			h.conversation.Resume(ctx, chat)
		}
	case len(msg.Photo) > 0:
		h.handlePhoto(ctx, chat, msg)
	case msg.Voice != nil:
		audio, err := h.download(ctx, msg.Voice.FileID)
		if err != nil {
			log.Error().Err(err).Int64("user_id", chat.UserID).Msg("Failed to download voice message")
			h.conversation.ReportError(ctx, chat)
			return
		}
		h.conversation.HandleIncomingVoiceOrText(ctx, chat, services.FeelingsInput{
			Audio:         audio,
			AudioMIMEType: msg.Voice.MimeType,
		})
	case strings.TrimSpace(msg.Text) != "":
		h.conversation.HandleIncomingVoiceOrText(ctx, chat, services.FeelingsInput{Text: msg.Text})
	default:
		log.Debug().Int64("user_id", chat.UserID).Msg("Unsupported message ignored")
	}
}

// handlePhoto stores the largest size of the photo and hands its reference on.
// Photos outside photo collection are not stored.
func (h *TelegramHandler) handlePhoto(ctx context.Context, chat services.Chat, msg *tgbotapi.Message) {
	accepting, err := h.conversation.AcceptingPhotos(ctx, chat.UserID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", chat.UserID).Msg("Failed to check pipeline state")
		h.conversation.ReportError(ctx, chat)
		return
	}
	if !accepting {
		log.Info().Int64("user_id", chat.UserID).Msg("Photo outside photo collection ignored")
		return
	}

	largest := msg.Photo[len(msg.Photo)-1]

	data, err := h.download(ctx, largest.FileID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", chat.UserID).Msg("Failed to download photo")
		h.conversation.ReportError(ctx, chat)
		return
	}

	ref, err := h.photos.Upload(ctx, chat.UserID, data, "image/jpeg")
	if err != nil {
		log.Error().Err(err).Int64("user_id", chat.UserID).Msg("Failed to store photo")
		h.conversation.ReportError(ctx, chat)
		return
	}

	log.Debug().
		Int64("user_id", chat.UserID).
		Str("photo", ref).
		Str("media_group_id", msg.MediaGroupID).
		Msg("Photo received")

	h.conversation.HandleIncomingPhoto(ctx, chat, ref, msg.MediaGroupID)
}

func (h *TelegramHandler) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil || query.Message == nil || query.Message.Chat == nil {
		return
	}
	chat := services.Chat{
		ChatID:    query.Message.Chat.ID,
		UserID:    query.From.ID,
		MessageID: query.Message.MessageID,
		Language:  query.From.LanguageCode,
	}

	if err := h.callbacks.AnswerCallback(ctx, chat.ChatID, query.ID); err != nil {
		log.Debug().Err(err).Int64("user_id", chat.UserID).Msg("Failed to answer callback")
	}

	h.conversation.HandleButtonAction(ctx, chat, query.Data)
}

// download fetches a file from Telegram servers
func (h *TelegramHandler) download(ctx context.Context, fileID string) ([]byte, error) {
	link, err := h.files.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}
