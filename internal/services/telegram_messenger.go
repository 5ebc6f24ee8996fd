package services

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// perChatRate is the Telegram limit for messages to a single chat
const perChatRate = 1

// TelegramMessenger sends messages through the Bot API with global and
// per-chat rate limiting.
type TelegramMessenger struct {
	api    *tgbotapi.BotAPI
	global *rate.Limiter

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewTelegramMessenger creates a new messenger allowing perSecond messages in total
func NewTelegramMessenger(api *tgbotapi.BotAPI, perSecond int) *TelegramMessenger {
	return &TelegramMessenger{
		api:      api,
		global:   rate.NewLimiter(rate.Limit(perSecond), perSecond),
		limiters: make(map[int64]*rate.Limiter),
	}
}

// Send delivers msg, editing the original message when asked and possible
func (m *TelegramMessenger) Send(ctx context.Context, msg OutgoingMessage) (int, error) {
	if err := m.wait(ctx, msg.ChatID); err != nil {
		return 0, err
	}

	markup, hasKeyboard := inlineKeyboard(msg.Keyboard)

	if msg.Mode == SendEditIfPossible && msg.MessageID != 0 {
		var edit tgbotapi.EditMessageTextConfig
		if hasKeyboard {
			edit = tgbotapi.NewEditMessageTextAndMarkup(msg.ChatID, msg.MessageID, msg.Text, markup)
		} else {
			edit = tgbotapi.NewEditMessageText(msg.ChatID, msg.MessageID, msg.Text)
		}
		_, err := m.api.Send(edit)
		if err == nil {
			return msg.MessageID, nil
		}
		log.Debug().Err(err).Int64("chat_id", msg.ChatID).Int("message_id", msg.MessageID).Msg("Edit failed, sending new message")
	}

	out := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	if hasKeyboard {
		out.ReplyMarkup = markup
	}
	sent, err := m.api.Send(out)
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	return sent.MessageID, nil
}

// Delete removes a message
func (m *TelegramMessenger) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := m.wait(ctx, chatID); err != nil {
		return err
	}
	if _, err := m.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a button press so the client stops its spinner
func (m *TelegramMessenger) AnswerCallback(ctx context.Context, chatID int64, callbackID string) error {
	if err := m.wait(ctx, chatID); err != nil {
		return err
	}
	if _, err := m.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

func (m *TelegramMessenger) wait(ctx context.Context, chatID int64) error {
	if err := m.global.Wait(ctx); err != nil {
		return fmt.Errorf("global rate limiter error: %w", err)
	}
	if err := m.chatLimiter(chatID).Wait(ctx); err != nil {
		return fmt.Errorf("chat rate limiter error: %w", err)
	}
	return nil
}

func (m *TelegramMessenger) chatLimiter(chatID int64) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, ok := m.limiters[chatID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(perChatRate), 3)
		m.limiters[chatID] = limiter
	}
	return limiter
}

func inlineKeyboard(keyboard [][]Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(keyboard) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(keyboard))
	for _, buttons := range keyboard {
		r := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
		for _, b := range buttons {
			if b.URL != "" {
				r = append(r, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Action))
			}
		}
		rows = append(rows, r)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}
