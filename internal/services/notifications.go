package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"intake-bot-backend/internal/i18n"

	"github.com/rs/zerolog/log"
)

// EventKind is the type of an asynchronous notification
type EventKind string

const (
	EventAnalysisComplete      EventKind = "analysis_complete"
	EventAnalysisFailed        EventKind = "analysis_failed"
	EventFaceNotDetected       EventKind = "face_not_detected"
	EventAIAnalysisRefusal     EventKind = "ai_analysis_refusal"
	EventMiniAppClosed         EventKind = "mini_app_closed"
	EventSubscriptionActivated EventKind = "subscription_activated"
	EventPaymentSucceeded      EventKind = "payment_succeeded"
	EventReferralBonus         EventKind = "referral_bonus"
)

// ErrUnknownEvent is returned for notification types the bridge does not handle
var ErrUnknownEvent = errors.New("unknown notification type")

// Event is a notification delivered at least once from outside the conversation
type Event struct {
	Kind          EventKind      `json:"type"`
	SubjectUserID int64          `json:"subject_user_id"`
	ChatID        int64          `json:"chat_id"`
	Data          map[string]any `json:"data,omitempty"`
}

// Conversation is the part of the onboarding flow driven by notifications
type Conversation interface {
	OnAnalysisComplete(ctx context.Context, userID, chatID int64)
	OnMiniAppClosed(ctx context.Context, userID, chatID int64)
	RecoverToPhotos(ctx context.Context, userID, chatID int64, reasonKey string)
	SendNotice(ctx context.Context, userID, chatID int64, key string, args ...any)
}

// failureRetention is how long applied failure occurrences are remembered
const failureRetention = 24 * time.Hour

// MiniAppNotifier pushes live updates to an open mini-app
type MiniAppNotifier interface {
	NotifyAnalysisComplete(userID int64) error
}

// NotificationBridge applies notifications to the conversation. mini_app_closed
// is deduplicated per user for the TTL window, failures per user and job.
type NotificationBridge struct {
	conversation Conversation
	notifier     MiniAppNotifier
	ttl          time.Duration

	mu       sync.Mutex
	seen     map[int64]time.Time
	failures map[string]time.Time
	now      func() time.Time
}

// NewNotificationBridge creates a new bridge. notifier may be nil.
func NewNotificationBridge(conversation Conversation, notifier MiniAppNotifier, ttl time.Duration) *NotificationBridge {
	return &NotificationBridge{
		conversation: conversation,
		notifier:     notifier,
		ttl:          ttl,
		seen:         make(map[int64]time.Time),
		failures:     make(map[string]time.Time),
		now:          time.Now,
	}
}

// Handle applies one notification
func (b *NotificationBridge) Handle(ctx context.Context, event Event) error {
	if event.SubjectUserID == 0 {
		return fmt.Errorf("notification %q has no subject user", event.Kind)
	}

	log.Info().
		Str("type", string(event.Kind)).
		Int64("user_id", event.SubjectUserID).
		Msg("Notification received")

	b.sweep()

	switch event.Kind {
	case EventAnalysisComplete:
		if b.notifier != nil {
			if err := b.notifier.NotifyAnalysisComplete(event.SubjectUserID); err != nil {
				log.Debug().Err(err).Int64("user_id", event.SubjectUserID).Msg("Mini-app not notified")
			}
		}
		b.conversation.OnAnalysisComplete(ctx, event.SubjectUserID, event.ChatID)
	case EventAnalysisFailed, EventFaceNotDetected, EventAIAnalysisRefusal:
		if b.duplicateFailure(event) {
			log.Warn().
				Str("type", string(event.Kind)).
				Int64("user_id", event.SubjectUserID).
				Str("job_id", event.JobID()).
				Msg("Duplicate failure dropped")
			return nil
		}
		b.conversation.RecoverToPhotos(ctx, event.SubjectUserID, event.ChatID, failureReasons[event.Kind])
	case EventMiniAppClosed:
		if b.duplicate(event.SubjectUserID) {
			log.Warn().Int64("user_id", event.SubjectUserID).Msg("Duplicate mini_app_closed dropped")
			return nil
		}
		b.conversation.OnMiniAppClosed(ctx, event.SubjectUserID, event.ChatID)
	case EventSubscriptionActivated:
		b.conversation.SendNotice(ctx, event.SubjectUserID, event.ChatID, i18n.SubscriptionActive)
	case EventPaymentSucceeded:
		b.conversation.SendNotice(ctx, event.SubjectUserID, event.ChatID, i18n.PaymentSucceeded)
	case EventReferralBonus:
		b.conversation.SendNotice(ctx, event.SubjectUserID, event.ChatID, i18n.ReferralBonus)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event.Kind)
	}

	return nil
}

// Consume applies dispatcher outcomes until the channel closes or ctx is done
func (b *NotificationBridge) Consume(ctx context.Context, outcomes <-chan AnalysisOutcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case outcome, ok := <-outcomes:
			if !ok {
				return
			}
			if err := b.Handle(ctx, outcome.Event()); err != nil {
				log.Error().Err(err).Str("job_id", outcome.Job.ID).Msg("Failed to apply analysis outcome")
			}
		}
	}
}

// JobID returns data.job_id, or "" when the event carries none
func (e Event) JobID() string {
	id, _ := e.Data["job_id"].(string)
	return id
}

var failureReasons = map[EventKind]string{
	EventAnalysisFailed:    i18n.FailureAnalysis,
	EventFaceNotDetected:   i18n.FailureNoFace,
	EventAIAnalysisRefusal: i18n.FailureRefusal,
}

// sweep drops expired dedup entries
func (b *NotificationBridge) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for id, seenAt := range b.seen {
		if now.Sub(seenAt) >= b.ttl {
			delete(b.seen, id)
		}
	}
	for key, seenAt := range b.failures {
		if now.Sub(seenAt) >= failureRetention {
			delete(b.failures, key)
		}
	}
}

// duplicate reports whether userID was seen within the TTL and records it otherwise
func (b *NotificationBridge) duplicate(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.seen[userID]; ok {
		return true
	}
	b.seen[userID] = b.now()
	return false
}

// duplicateFailure reports whether the failure of this job was already applied.
// Failures without a job id cannot be told apart and always pass.
func (b *NotificationBridge) duplicateFailure(event Event) bool {
	jobID := event.JobID()
	if jobID == "" {
		return false
	}
	key := fmt.Sprintf("%d/%s", event.SubjectUserID, jobID)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.failures[key]; ok {
		return true
	}
	b.failures[key] = b.now()
	return false
}
