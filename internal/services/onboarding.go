package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"intake-bot-backend/internal/i18n"
	"intake-bot-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AnalysisDispatcher queues background analyses
type AnalysisDispatcher interface {
	Dispatch(job AnalysisJob) error
}

// OnboardingConfig holds the links and contacts shown to users
type OnboardingConfig struct {
	BotUsername string
	MiniAppURL  string
	PurchaseURL string
}

// FeelingsInput is a voice message or a typed text
type FeelingsInput struct {
	Text          string
	Audio         []byte
	AudioMIMEType string
}

// Onboarding drives a user from the first photo to the final menu. Every
// decision is taken from the durable pipeline state, read fresh on each event.
type Onboarding struct {
	cfg         OnboardingConfig
	store       Store
	intake      *PhotoIntake
	messenger   Messenger
	texts       *i18n.Localizer
	transcriber Transcriber
	dispatcher  AnalysisDispatcher
	tokens      *TokenIssuer
	locks       *UserLocks
	now         func() time.Time
}

// NewOnboarding creates the orchestrator and registers it as the intake listener
func NewOnboarding(
	cfg OnboardingConfig,
	store Store,
	intake *PhotoIntake,
	messenger Messenger,
	texts *i18n.Localizer,
	transcriber Transcriber,
	dispatcher AnalysisDispatcher,
	tokens *TokenIssuer,
	locks *UserLocks,
) *Onboarding {
	o := &Onboarding{
		cfg:         cfg,
		store:       store,
		intake:      intake,
		messenger:   messenger,
		texts:       texts,
		transcriber: transcriber,
		dispatcher:  dispatcher,
		tokens:      tokens,
		locks:       locks,
		now:         time.Now,
	}
	intake.SetListener(o)
	return o
}

// guard serializes fn per user and turns errors and panics into a generic reply
func (o *Onboarding) guard(ctx context.Context, chat Chat, handler string, fn func() error) {
	unlock := o.locks.Lock(chat.UserID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("handler", handler).
				Int64("user_id", chat.UserID).
				Msg("Handler panicked")
			o.sendGenericError(ctx, chat)
		}
	}()

	if err := fn(); err != nil {
		log.Error().Err(err).Str("handler", handler).Int64("user_id", chat.UserID).Msg("Handler failed")
		o.sendGenericError(ctx, chat)
	}
}

// ReportError tells the user that handling their message failed
func (o *Onboarding) ReportError(ctx context.Context, chat Chat) {
	o.sendGenericError(ctx, chat)
}

func (o *Onboarding) sendGenericError(ctx context.Context, chat Chat) {
	if _, err := o.messenger.Send(ctx, OutgoingMessage{
		ChatID: chat.ChatID,
		Text:   o.texts.Text(chat.Language, i18n.GenericError),
	}); err != nil {
		log.Error().Err(err).Int64("user_id", chat.UserID).Msg("Failed to send error message")
	}
}

// HandleStart registers new users and resumes existing ones. payload is the
// deep link parameter of /start, a referral code.
func (o *Onboarding) HandleStart(ctx context.Context, chat Chat, payload string) {
	o.guard(ctx, chat, "start", func() error {
		user, created, err := o.ensureUser(ctx, chat, payload)
		if err != nil {
			return err
		}
		chat = o.chatFor(chat, user)
		if created {
			if err := o.send(ctx, chat, o.texts.Text(chat.Language, i18n.Welcome), nil); err != nil {
				return err
			}
		}
		return o.resume(ctx, chat, user)
	})
}

// Resume re-sends the message that matches the user's durable state
func (o *Onboarding) Resume(ctx context.Context, chat Chat) {
	o.guard(ctx, chat, "resume", func() error {
		user, _, err := o.ensureUser(ctx, chat, "")
		if err != nil {
			return err
		}
		return o.resume(ctx, o.chatFor(chat, user), user)
	})
}

// HandleIncomingPhoto routes a photo to the intake manager. groupID is the
// media group id, empty for a photo sent on its own.
func (o *Onboarding) HandleIncomingPhoto(ctx context.Context, chat Chat, photoRef, groupID string) {
	o.guard(ctx, chat, "photo", func() error {
		user, created, err := o.ensureUser(ctx, chat, "")
		if err != nil {
			return err
		}
		chat = o.chatFor(chat, user)
		if created {
			if err := o.send(ctx, chat, o.texts.Text(chat.Language, i18n.Welcome), nil); err != nil {
				return err
			}
		}
		if user.PipelineState != models.StateWaitingPhotos {
			o.ignore(user, "photo")
			return nil
		}

		if groupID != "" {
			return o.intake.SubmitGroupedPhotos(ctx, chat, groupID, photoRef)
		}
		return o.intake.SubmitSinglePhoto(ctx, chat, photoRef)
	})
}

// HandleIncomingVoiceOrText handles free input: a custom survey answer while
// the survey runs, the user's feelings after it.
func (o *Onboarding) HandleIncomingVoiceOrText(ctx context.Context, chat Chat, input FeelingsInput) {
	o.guard(ctx, chat, "voice_or_text", func() error {
		user, err := o.store.GetUser(ctx, chat.UserID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				log.Info().Int64("user_id", chat.UserID).Msg("Message from unknown user ignored")
				return nil
			}
			return err
		}
		chat = o.chatFor(chat, user)

		switch user.PipelineState {
		case models.StateSurveyInProgress:
			text := strings.TrimSpace(input.Text)
			if text == "" {
				o.ignore(user, "voice during survey")
				return nil
			}
			info, err := o.latestInfo(ctx, user.ID)
			if err != nil {
				return err
			}
			return o.answerQuestion(ctx, chat, user, info, info.SurveyProgress+1, models.SurveyAnswer{
				AnswerIndex: -1,
				IsCustom:    true,
				AnswerText:  text,
			})
		case models.StateWaitingVoiceSurvey:
			return o.shareFeelings(ctx, chat, user, input)
		default:
			o.ignore(user, "text")
			return nil
		}
	})
}

// HandleButtonAction handles an inline button press
func (o *Onboarding) HandleButtonAction(ctx context.Context, chat Chat, action string) {
	o.guard(ctx, chat, "button", func() error {
		user, created, err := o.ensureUser(ctx, chat, "")
		if err != nil {
			return err
		}
		chat = o.chatFor(chat, user)
		if created {
			return o.resume(ctx, chat, user)
		}

		log.Debug().Int64("user_id", user.ID).Str("action", action).Str("state", string(user.PipelineState)).Msg("Button pressed")

		switch action {
		case ActionAddPalm:
			if user.PipelineState != models.StateWaitingPhotos {
				o.ignore(user, action)
				return nil
			}
			return o.intake.RequestSecondPalm(ctx, chat)
		case ActionFinishPhotos, ActionSkipPalms:
			if user.PipelineState != models.StateWaitingPhotos {
				o.ignore(user, action)
				return nil
			}
			return o.intake.Finish(ctx, chat)
		case ActionRetryPhotos:
			return o.resetToPhotos(ctx, chat, user, "")
		case ActionOnboardingReady:
			return o.startSurvey(ctx, chat, user)
		case ActionFinalReady:
			return o.acknowledgeFinal(ctx, chat, user)
		case ActionMenuShare, ActionMenuRepost, ActionMenuPurchase:
			return o.menuChoice(ctx, chat, user, action)
		}

		if q, opt, ok := parseSurveyAnswer(action); ok {
			if opt < 1 || opt > i18n.SurveyOptionCount {
				o.ignore(user, action)
				return nil
			}
			if user.PipelineState != models.StateSurveyInProgress {
				o.ignore(user, action)
				return nil
			}
			info, err := o.latestInfo(ctx, user.ID)
			if err != nil {
				return err
			}
			return o.answerQuestion(ctx, chat, user, info, q, models.SurveyAnswer{
				AnswerIndex: opt - 1,
				AnswerText:  o.texts.Text(chat.Language, i18n.SurveyOption(q, opt)),
			})
		}
		if q, ok := parseSurveyQuestion(action, surveyCustomPrefix); ok {
			return o.promptCustomAnswer(ctx, chat, user, q)
		}
		if q, ok := parseSurveyQuestion(action, surveyBackPrefix); ok {
			return o.navigateBack(ctx, chat, user, q)
		}

		log.Warn().Int64("user_id", user.ID).Str("action", action).Msg("Unknown button action")
		return nil
	})
}

// PhotosCollected stores the photos of a completed intake and moves the user
// to the survey invitation. The caller holds the user lock.
func (o *Onboarding) PhotosCollected(ctx context.Context, chat Chat, photoRefs []string) error {
	user, err := o.store.GetUser(ctx, chat.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	chat = o.chatFor(chat, user)
	if user.PipelineState != models.StateWaitingPhotos {
		o.ignore(user, "collected photos")
		return nil
	}

	if _, err := o.newInfo(ctx, user.ID, photoRefs); err != nil {
		return err
	}
	if err := o.transition(ctx, user, models.EventPhotosCollected, models.FunnelFirstPhotoAnalysis); err != nil {
		return err
	}

	return o.send(ctx, chat, o.texts.Text(chat.Language, i18n.PhotosCollected), readyKeyboard(o.texts, chat.Language, ActionOnboardingReady))
}

// AcceptingPhotos reports whether the user is in WAITING_PHOTOS. Unknown
// users are registered in that state by their first photo.
func (o *Onboarding) AcceptingPhotos(ctx context.Context, userID int64) (bool, error) {
	user, err := o.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("failed to load user: %w", err)
	}
	return user.PipelineState == models.StateWaitingPhotos, nil
}

// OnMiniAppClosed sends the final summary once the user leaves the mini-app
func (o *Onboarding) OnMiniAppClosed(ctx context.Context, userID, chatID int64) {
	chat := Chat{ChatID: chatID, UserID: userID}
	if chat.ChatID == 0 {
		chat.ChatID = userID
	}
	o.guard(ctx, chat, "mini_app_closed", func() error {
		user, err := o.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		chat = o.chatFor(chat, user)
		if !models.CanTransition(user.PipelineState, models.EventMiniAppClosed) {
			o.ignore(user, "mini_app_closed")
			return nil
		}

		if err := o.transition(ctx, user, models.EventMiniAppClosed, models.FunnelHypothesisReceived); err != nil {
			return err
		}
		return o.sendFinalMessage(ctx, chat, user)
	})
}

// OnAnalysisComplete tells the user the analysis result can be read
func (o *Onboarding) OnAnalysisComplete(ctx context.Context, userID, chatID int64) {
	chat := Chat{ChatID: chatID, UserID: userID}
	if chat.ChatID == 0 {
		chat.ChatID = userID
	}
	o.guard(ctx, chat, "analysis_complete", func() error {
		user, err := o.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		chat = o.chatFor(chat, user)

		switch user.PipelineState {
		case models.StateMiniAppOpened, models.StateAnalysisCompleted:
			keyboard, err := o.miniAppKeyboard(ctx, chat, user)
			if err != nil {
				return err
			}
			return o.send(ctx, chat, o.texts.Text(chat.Language, i18n.AnalysisReady), keyboard)
		case models.StateFinalMessageSent:
			return o.sendFinalMessage(ctx, chat, user)
		default:
			o.ignore(user, "analysis_complete")
			return nil
		}
	})
}

// RecoverToPhotos is the single recovery path for failed analyses: the
// photo session is dropped and the user is asked for new photos. A user
// already collecting photos keeps the session.
func (o *Onboarding) RecoverToPhotos(ctx context.Context, userID, chatID int64, reasonKey string) {
	chat := Chat{ChatID: chatID, UserID: userID}
	if chat.ChatID == 0 {
		chat.ChatID = userID
	}
	o.guard(ctx, chat, "recover", func() error {
		user, err := o.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.PipelineState == models.StateWaitingPhotos {
			o.ignore(user, "recover")
			return nil
		}
		return o.resetToPhotos(ctx, o.chatFor(chat, user), user, reasonKey)
	})
}

// SendNotice sends a localized text to a user outside the onboarding flow
func (o *Onboarding) SendNotice(ctx context.Context, userID, chatID int64, key string, args ...any) {
	chat := Chat{ChatID: chatID, UserID: userID}
	if chat.ChatID == 0 {
		chat.ChatID = userID
	}
	o.guard(ctx, chat, "notice", func() error {
		user, err := o.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		chat = o.chatFor(chat, user)
		return o.send(ctx, chat, o.texts.Text(chat.Language, key, args...), nil)
	})
}

// resume sends the next outward message for the durable state. Its only
// writes are repairing a finished survey that never left SURVEY_IN_PROGRESS
// and renewing a stale mini-app token time.
func (o *Onboarding) resume(ctx context.Context, chat Chat, user *models.User) error {
	lang := chat.Language

	switch user.PipelineState {
	case models.StateWaitingPhotos:
		return o.send(ctx, chat, o.texts.Text(lang, i18n.PhotoFacePrompt), nil)
	case models.StateReadyToStartSurvey:
		return o.send(ctx, chat, o.texts.Text(lang, i18n.PhotosCollected), readyKeyboard(o.texts, lang, ActionOnboardingReady))
	case models.StateSurveyInProgress:
		info, err := o.latestInfo(ctx, user.ID)
		if err != nil {
			return err
		}
		if info.SurveyProgress >= models.SurveyQuestionCount {
			log.Warn().Int64("user_id", user.ID).Int("progress", info.SurveyProgress).Msg("Repairing finished survey")
			if err := o.transition(ctx, user, models.EventSurveyCompleted, models.FunnelPsychologyTestPassed); err != nil {
				return err
			}
			text, keyboard := voicePromptMessage(o.texts, lang)
			return o.send(ctx, chat, text, keyboard)
		}
		text, keyboard := surveyQuestionMessage(o.texts, lang, info.SurveyProgress+1)
		return o.send(ctx, chat, text, keyboard)
	case models.StateWaitingVoiceSurvey:
		text, keyboard := voicePromptMessage(o.texts, lang)
		return o.send(ctx, chat, text, keyboard)
	case models.StateMiniAppOpened, models.StateAnalysisCompleted:
		keyboard, err := o.miniAppKeyboard(ctx, chat, user)
		if err != nil {
			return err
		}
		return o.send(ctx, chat, o.texts.Text(lang, i18n.MiniAppPrompt), keyboard)
	case models.StateFinalMessageSent:
		return o.sendFinalMessage(ctx, chat, user)
	case models.StateOnboardingComplete:
		return o.sendMenu(ctx, chat)
	default:
		return fmt.Errorf("unknown pipeline state %q", user.PipelineState)
	}
}

func (o *Onboarding) startSurvey(ctx context.Context, chat Chat, user *models.User) error {
	if user.PipelineState != models.StateReadyToStartSurvey {
		o.ignore(user, ActionOnboardingReady)
		return nil
	}

	info, err := o.latestInfo(ctx, user.ID)
	if err != nil {
		return err
	}
	progress := 0
	if err := o.store.UpdateUserInfo(ctx, info.ID, models.UserInfoUpdate{
		SurveyAnswers:  map[int]models.SurveyAnswer{},
		SurveyProgress: &progress,
	}); err != nil {
		return fmt.Errorf("failed to reset survey: %w", err)
	}
	if err := o.transition(ctx, user, models.EventSurveyStarted, models.FunnelStarted); err != nil {
		return err
	}
	o.intake.ClearSession(user.ID)

	text, keyboard := surveyQuestionMessage(o.texts, chat.Language, 1)
	return o.send(ctx, chat, text, keyboard)
}

// answerQuestion stores the answer to question q. Only the next unanswered
// question can be answered; stale buttons are ignored.
func (o *Onboarding) answerQuestion(ctx context.Context, chat Chat, user *models.User, info *models.UserInfo, q int, answer models.SurveyAnswer) error {
	if q != info.SurveyProgress+1 || q > models.SurveyQuestionCount {
		log.Info().
			Int64("user_id", user.ID).
			Int("question", q).
			Int("progress", info.SurveyProgress).
			Msg("Stale survey answer ignored")
		return nil
	}

	answer.AnsweredAt = o.now()
	answers := copyAnswers(info.SurveyAnswers)
	answers[q] = answer
	progress := q
	if err := o.store.UpdateUserInfo(ctx, info.ID, models.UserInfoUpdate{
		SurveyAnswers:  answers,
		SurveyProgress: &progress,
	}); err != nil {
		return fmt.Errorf("failed to store survey answer: %w", err)
	}

	log.Info().Int64("user_id", user.ID).Int("question", q).Bool("custom", answer.IsCustom).Msg("Survey answer stored")

	if q < models.SurveyQuestionCount {
		if err := o.transition(ctx, user, models.EventSurveyAnswered, models.FunnelStarted); err != nil {
			return err
		}
		text, keyboard := surveyQuestionMessage(o.texts, chat.Language, q+1)
		return o.sendMode(ctx, chat, text, keyboard, editMode(answer))
	}

	if err := o.transition(ctx, user, models.EventSurveyCompleted, models.FunnelPsychologyTestPassed); err != nil {
		return err
	}
	text, keyboard := voicePromptMessage(o.texts, chat.Language)
	return o.sendMode(ctx, chat, text, keyboard, editMode(answer))
}

func (o *Onboarding) promptCustomAnswer(ctx context.Context, chat Chat, user *models.User, q int) error {
	if user.PipelineState != models.StateSurveyInProgress {
		o.ignore(user, "custom answer")
		return nil
	}
	log.Debug().Int64("user_id", user.ID).Int("question", q).Msg("Custom answer requested")
	return o.send(ctx, chat, o.texts.Text(chat.Language, i18n.SurveyCustomPrompt), nil)
}

// navigateBack reopens question target. Answers to target and later
// questions are deleted so they must be answered again.
func (o *Onboarding) navigateBack(ctx context.Context, chat Chat, user *models.User, target int) error {
	if !models.CanTransition(user.PipelineState, models.EventSurveyReopened) {
		o.ignore(user, "survey back")
		return nil
	}

	info, err := o.latestInfo(ctx, user.ID)
	if err != nil {
		return err
	}
	if target < 1 || target > models.SurveyQuestionCount || target > info.SurveyProgress+1 {
		log.Info().Int64("user_id", user.ID).Int("target", target).Int("progress", info.SurveyProgress).Msg("Invalid survey back target ignored")
		return nil
	}

	progress := target - 1
	if err := o.store.UpdateUserInfo(ctx, info.ID, models.UserInfoUpdate{
		SurveyAnswers:  truncateAnswers(info.SurveyAnswers, target),
		SurveyProgress: &progress,
	}); err != nil {
		return fmt.Errorf("failed to truncate survey: %w", err)
	}
	if err := o.transition(ctx, user, models.EventSurveyReopened, models.FunnelStarted); err != nil {
		return err
	}

	text, keyboard := surveyQuestionMessage(o.texts, chat.Language, target)
	return o.sendMode(ctx, chat, text, keyboard, SendEditIfPossible)
}

// shareFeelings stores the feelings, queues the analysis and opens the mini-app
func (o *Onboarding) shareFeelings(ctx context.Context, chat Chat, user *models.User, input FeelingsInput) error {
	feelings := strings.TrimSpace(input.Text)
	if len(input.Audio) > 0 {
		transcript, err := o.transcriber.TranscribeVoice(ctx, input.Audio, input.AudioMIMEType, chat.Language)
		if err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to transcribe voice message")
			return o.send(ctx, chat, o.texts.Text(chat.Language, i18n.VoiceEmpty), nil)
		}
		feelings = strings.TrimSpace(transcript)
	}
	if feelings == "" {
		return o.send(ctx, chat, o.texts.Text(chat.Language, i18n.VoiceEmpty), nil)
	}

	info, err := o.latestInfo(ctx, user.ID)
	if err != nil {
		return err
	}
	if err := o.store.UpdateUserInfo(ctx, info.ID, models.UserInfoUpdate{Feelings: &feelings}); err != nil {
		return fmt.Errorf("failed to store feelings: %w", err)
	}
	if err := o.transition(ctx, user, models.EventFeelingsShared, models.FunnelFeelingsShared); err != nil {
		return err
	}

	job := AnalysisJob{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		ChatID:      chat.ChatID,
		Language:    chat.Language,
		Transcript:  buildTranscript(o.texts, chat.Language, info.SurveyAnswers, feelings),
		SubmittedAt: o.now(),
	}
	if err := o.dispatcher.Dispatch(job); err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Str("job_id", job.ID).Msg("Failed to dispatch analysis")
	}

	keyboard, err := o.miniAppKeyboard(ctx, chat, user)
	if err != nil {
		return err
	}
	return o.send(ctx, chat, o.texts.Text(chat.Language, i18n.MiniAppPrompt), keyboard)
}

func (o *Onboarding) acknowledgeFinal(ctx context.Context, chat Chat, user *models.User) error {
	switch user.PipelineState {
	case models.StateFinalMessageSent:
		if err := o.transition(ctx, user, models.EventFinalAcknowledged, models.FunnelStarted); err != nil {
			return err
		}
		return o.sendMenu(ctx, chat)
	case models.StateOnboardingComplete:
		return o.sendMenu(ctx, chat)
	default:
		o.ignore(user, ActionFinalReady)
		return nil
	}
}

func (o *Onboarding) menuChoice(ctx context.Context, chat Chat, user *models.User, action string) error {
	if user.PipelineState != models.StateOnboardingComplete {
		o.ignore(user, action)
		return nil
	}

	switch action {
	case ActionMenuShare:
		link := fmt.Sprintf("https://t.me/%s?start=%s", o.cfg.BotUsername, user.ReferralCode)
		return o.send(ctx, chat, o.texts.Text(chat.Language, i18n.MenuShare, link), nil)
	case ActionMenuRepost:
		return o.send(ctx, chat, o.texts.Text(chat.Language, i18n.MenuRepost), nil)
	default:
		return o.send(ctx, chat, o.texts.Text(chat.Language, i18n.MenuPurchase, o.cfg.PurchaseURL), nil)
	}
}

// resetToPhotos reverts the user to photo collection with an empty session
func (o *Onboarding) resetToPhotos(ctx context.Context, chat Chat, user *models.User, reasonKey string) error {
	o.intake.ClearSession(user.ID)
	if err := o.transition(ctx, user, models.EventPhotosReset, models.FunnelStarted); err != nil {
		return err
	}

	text := o.texts.Text(chat.Language, i18n.PhotoFacePrompt)
	if reasonKey != "" {
		text = o.texts.Text(chat.Language, reasonKey) + "\n\n" + text
	}
	return o.send(ctx, chat, text, nil)
}

func (o *Onboarding) sendFinalMessage(ctx context.Context, chat Chat, user *models.User) error {
	text := o.texts.Text(chat.Language, i18n.FinalMessagePending)
	info, err := o.store.GetLatestUserInfo(ctx, user.ID)
	switch {
	case err == nil && info.SummaryText != "":
		text = o.texts.Text(chat.Language, i18n.FinalMessage, info.SummaryText)
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("failed to load summary: %w", err)
	}
	return o.send(ctx, chat, text, readyKeyboard(o.texts, chat.Language, ActionFinalReady))
}

func (o *Onboarding) sendMenu(ctx context.Context, chat Chat) error {
	keyboard := [][]Button{
		row(Button{Text: o.texts.Text(chat.Language, i18n.ButtonShare), Action: ActionMenuShare}),
		row(Button{Text: o.texts.Text(chat.Language, i18n.ButtonRepost), Action: ActionMenuRepost}),
		row(Button{Text: o.texts.Text(chat.Language, i18n.ButtonPurchase), Action: ActionMenuPurchase}),
	}
	return o.send(ctx, chat, o.texts.Text(chat.Language, i18n.MenuPrompt), keyboard)
}

func (o *Onboarding) miniAppKeyboard(ctx context.Context, chat Chat, user *models.User) ([][]Button, error) {
	link, err := o.miniAppLink(ctx, user)
	if err != nil {
		return nil, err
	}
	return [][]Button{row(Button{Text: o.texts.Text(chat.Language, i18n.ButtonOpenMiniApp), URL: link})}, nil
}

// miniAppLink returns the mini-app URL carrying a token for the user. The
// token is signed from the stored issue time, which is renewed only once
// half of the token lifetime has passed.
func (o *Onboarding) miniAppLink(ctx context.Context, user *models.User) (string, error) {
	if user.MiniAppTokenAt == nil || !o.tokens.Fresh(*user.MiniAppTokenAt, o.now()) {
		issuedAt := o.now().Truncate(time.Second)
		if err := o.store.UpdateUser(ctx, user.ID, models.UserUpdate{MiniAppTokenAt: &issuedAt}); err != nil {
			return "", fmt.Errorf("failed to store mini-app token time: %w", err)
		}
		user.MiniAppTokenAt = &issuedAt
	}

	token, err := o.tokens.IssueAt(user.ID, *user.MiniAppTokenAt)
	if err != nil {
		return "", fmt.Errorf("failed to issue mini-app token: %w", err)
	}
	link, err := url.Parse(o.cfg.MiniAppURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse mini-app url: %w", err)
	}
	query := link.Query()
	query.Set("token", token)
	link.RawQuery = query.Encode()
	return link.String(), nil
}

// transition applies event to the user's state and persists it together with the milestone
func (o *Onboarding) transition(ctx context.Context, user *models.User, event models.PipelineEvent, milestone models.FunnelMilestone) error {
	next, err := models.Transition(ctx, user.PipelineState, event)
	if err != nil {
		return err
	}

	upd := models.UserUpdate{PipelineState: &next}
	if milestone > user.FunnelMilestone {
		upd.FunnelMilestone = &milestone
	}
	if err := o.store.UpdateUser(ctx, user.ID, upd); err != nil {
		return fmt.Errorf("failed to update pipeline state: %w", err)
	}

	log.Info().
		Int64("user_id", user.ID).
		Str("event", string(event)).
		Str("from", string(user.PipelineState)).
		Str("to", string(next)).
		Msg("Pipeline state changed")

	user.PipelineState = next
	if upd.FunnelMilestone != nil {
		user.FunnelMilestone = milestone
		log.Info().Int64("user_id", user.ID).Str("milestone", milestone.String()).Msg("Funnel milestone reached")
	}
	return nil
}

// ensureUser loads the user, creating it in WAITING_PHOTOS on first contact
func (o *Onboarding) ensureUser(ctx context.Context, chat Chat, referral string) (*models.User, bool, error) {
	user, err := o.store.GetUser(ctx, chat.UserID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to load user: %w", err)
	}

	code, err := generateUniqueCode(ctx, o.store)
	if err != nil {
		return nil, false, err
	}

	now := o.now()
	user = &models.User{
		ID:            chat.UserID,
		PipelineState: models.StateWaitingPhotos,
		Language:      chat.Language,
		ReferralCode:  code,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if referral = strings.TrimSpace(referral); referral != "" && referral != code {
		user.ReferredBy = referral
	}
	if err := o.store.CreateUser(ctx, user); err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}

	log.Info().Int64("user_id", user.ID).Str("referred_by", user.ReferredBy).Msg("User created")
	return user, true, nil
}

// latestInfo returns the newest user info, creating an empty one if the user has none
func (o *Onboarding) latestInfo(ctx context.Context, userID int64) (*models.UserInfo, error) {
	info, err := o.store.GetLatestUserInfo(ctx, userID)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to load user info: %w", err)
	}
	return o.newInfo(ctx, userID, nil)
}

func (o *Onboarding) newInfo(ctx context.Context, userID int64, photoRefs []string) (*models.UserInfo, error) {
	now := o.now()
	info := &models.UserInfo{
		ID:            uuid.New().String(),
		UserID:        userID,
		SurveyAnswers: map[int]models.SurveyAnswer{},
		PhotoURLs:     append([]string(nil), photoRefs...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.CreateUserInfo(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to create user info: %w", err)
	}
	return info, nil
}

func (o *Onboarding) chatFor(chat Chat, user *models.User) Chat {
	if user.Language != "" {
		chat.Language = user.Language
	}
	return chat
}

func (o *Onboarding) ignore(user *models.User, what string) {
	log.Info().
		Int64("user_id", user.ID).
		Str("state", string(user.PipelineState)).
		Str("event", what).
		Msg("Event does not match pipeline state, ignored")
}

func (o *Onboarding) send(ctx context.Context, chat Chat, text string, keyboard [][]Button) error {
	return o.sendMode(ctx, chat, text, keyboard, SendNew)
}

func (o *Onboarding) sendMode(ctx context.Context, chat Chat, text string, keyboard [][]Button, mode SendMode) error {
	_, err := o.messenger.Send(ctx, OutgoingMessage{
		ChatID:    chat.ChatID,
		Text:      text,
		Keyboard:  keyboard,
		Mode:      mode,
		MessageID: chat.MessageID,
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func readyKeyboard(texts *i18n.Localizer, lang, action string) [][]Button {
	return [][]Button{row(Button{Text: texts.Text(lang, i18n.ButtonReady), Action: action})}
}

// editMode edits the question message in place when the answer came from its buttons
func editMode(answer models.SurveyAnswer) SendMode {
	if answer.IsCustom {
		return SendNew
	}
	return SendEditIfPossible
}
