package services

import (
	"context"
	"errors"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"intake-bot-backend/internal/i18n"
	"intake-bot-backend/internal/models"
)

type onboardingHarness struct {
	store       *memStore
	messenger   *recordingMessenger
	scorer      *fakeScorer
	scheduler   *manualScheduler
	transcriber *fakeTranscriber
	dispatcher  *fakeDispatcher
	intake      *PhotoIntake
	onboarding  *Onboarding
	texts       *i18n.Localizer
	chat        Chat
}

func newOnboardingHarness(t *testing.T) *onboardingHarness {
	t.Helper()
	h := &onboardingHarness{
		store:       newMemStore(),
		messenger:   &recordingMessenger{},
		scorer:      &fakeScorer{faceRating: 7, setRating: 7},
		scheduler:   &manualScheduler{},
		transcriber: &fakeTranscriber{text: "I feel tired and stuck"},
		dispatcher:  &fakeDispatcher{},
		texts:       testTexts(),
		chat:        Chat{ChatID: 500, UserID: 77, Language: "en"},
	}
	locks := NewUserLocks()
	h.intake = NewPhotoIntake(h.scorer, h.messenger, h.texts, h.scheduler, locks, time.Second)
	h.onboarding = NewOnboarding(
		OnboardingConfig{
			BotUsername: "intake_bot",
			MiniAppURL:  "https://app.example.com/analysis",
			PurchaseURL: "https://pay.example.com",
		},
		h.store,
		h.intake,
		h.messenger,
		h.texts,
		h.transcriber,
		h.dispatcher,
		NewTokenIssuer("test-secret", time.Hour),
		locks,
	)
	return h
}

// seed stores a user in state with a user info at progress
func (h *onboardingHarness) seed(state models.PipelineState, progress int) {
	h.store.putUser(&models.User{
		ID:            h.chat.UserID,
		PipelineState: state,
		Language:      "en",
		ReferralCode:  "SEED01",
	})
	answers := map[int]models.SurveyAnswer{}
	for q := 1; q <= progress; q++ {
		answers[q] = models.SurveyAnswer{AnswerIndex: 0, AnswerText: "seeded"}
	}
	h.store.putInfo(&models.UserInfo{
		ID:             "info-1",
		UserID:         h.chat.UserID,
		SurveyAnswers:  answers,
		SurveyProgress: progress,
		PhotoURLs:      []string{"face", "palm"},
	})
}

func (h *onboardingHarness) press(action string) {
	chat := h.chat
	chat.MessageID = 9
	h.onboarding.HandleButtonAction(context.Background(), chat, action)
}

func (h *onboardingHarness) photo(ref string) {
	h.onboarding.HandleIncomingPhoto(context.Background(), h.chat, ref, "")
}

func (h *onboardingHarness) expectState(t *testing.T, want models.PipelineState) {
	t.Helper()
	if got := h.store.state(h.chat.UserID); got != want {
		t.Fatalf("state = %s, want %s", got, want)
	}
}

func TestOnboardingFullScenario(t *testing.T) {
	h := newOnboardingHarness(t)
	ctx := context.Background()

	h.onboarding.HandleStart(ctx, h.chat, "")
	h.expectState(t, models.StateWaitingPhotos)

	h.photo("face")
	if session, _ := h.intake.Session(h.chat.UserID); session.Stage != StageWaitingPalms {
		t.Fatalf("stage after face = %s, want %s", session.Stage, StageWaitingPalms)
	}
	h.photo("palm-1")
	h.expectState(t, models.StateWaitingPhotos)
	h.photo("palm-2")
	if session, _ := h.intake.Session(h.chat.UserID); session.Stage != StageCompleted {
		t.Fatalf("stage after palms = %s, want %s", session.Stage, StageCompleted)
	}
	h.expectState(t, models.StateReadyToStartSurvey)

	info := h.store.latest(h.chat.UserID)
	if info == nil || !reflect.DeepEqual(info.PhotoURLs, []string{"face", "palm-1", "palm-2"}) {
		t.Fatalf("stored photos = %+v", info)
	}
	if got := h.store.milestone(h.chat.UserID); got != models.FunnelFirstPhotoAnalysis {
		t.Errorf("milestone = %s, want %s", got, models.FunnelFirstPhotoAnalysis)
	}

	h.press(ActionOnboardingReady)
	h.expectState(t, models.StateSurveyInProgress)
	if got := h.messenger.last().Text; got != h.texts.Text("en", i18n.SurveyQuestion(1)) {
		t.Fatalf("after ready = %q, want question 1", got)
	}

	for q := 1; q <= models.SurveyQuestionCount; q++ {
		h.press(surveyAnswerAction(q, 2))
	}
	h.expectState(t, models.StateWaitingVoiceSurvey)
	if got := h.store.latest(h.chat.UserID).SurveyProgress; got != models.SurveyQuestionCount {
		t.Errorf("progress = %d, want %d", got, models.SurveyQuestionCount)
	}

	h.onboarding.HandleIncomingVoiceOrText(ctx, h.chat, FeelingsInput{Audio: []byte("ogg"), AudioMIMEType: "audio/ogg"})
	h.expectState(t, models.StateMiniAppOpened)
	if len(h.dispatcher.jobs) != 1 {
		t.Fatalf("dispatched jobs = %d, want 1", len(h.dispatcher.jobs))
	}
	job := h.dispatcher.jobs[0]
	if job.UserID != h.chat.UserID || job.ChatID != h.chat.ChatID || !strings.Contains(job.Transcript, "I feel tired and stuck") {
		t.Errorf("job = %+v", job)
	}
	if got := h.store.latest(h.chat.UserID).Feelings; got != "I feel tired and stuck" {
		t.Errorf("feelings = %q", got)
	}
	last := h.messenger.last()
	if len(last.Keyboard) != 1 || !strings.HasPrefix(last.Keyboard[0][0].URL, "https://app.example.com/analysis?token=") {
		t.Errorf("mini-app keyboard = %+v", last.Keyboard)
	}

	h.onboarding.OnMiniAppClosed(ctx, h.chat.UserID, h.chat.ChatID)
	h.expectState(t, models.StateFinalMessageSent)
	if got := h.messenger.last().Text; got != h.texts.Text("en", i18n.FinalMessagePending) {
		t.Errorf("final message = %q", got)
	}

	h.press(ActionFinalReady)
	h.expectState(t, models.StateOnboardingComplete)
	if got := h.messenger.last().Text; got != h.texts.Text("en", i18n.MenuPrompt) {
		t.Errorf("menu = %q", got)
	}
	if got := h.store.milestone(h.chat.UserID); got != models.FunnelHypothesisReceived {
		t.Errorf("milestone = %s, want %s", got, models.FunnelHypothesisReceived)
	}
}

func TestOnboardingResumeIsIdempotent(t *testing.T) {
	tests := []struct {
		name     string
		state    models.PipelineState
		progress int
		summary  string
		wantText string
	}{
		{"waiting photos", models.StateWaitingPhotos, 0, "", i18n.PhotoFacePrompt},
		{"ready to start", models.StateReadyToStartSurvey, 0, "", i18n.PhotosCollected},
		{"survey in progress", models.StateSurveyInProgress, 2, "", i18n.SurveyQuestion(3)},
		{"waiting voice", models.StateWaitingVoiceSurvey, 4, "", i18n.VoicePrompt},
		{"mini-app opened", models.StateMiniAppOpened, 4, "", i18n.MiniAppPrompt},
		{"analysis completed", models.StateAnalysisCompleted, 4, "", i18n.MiniAppPrompt},
		{"final message pending", models.StateFinalMessageSent, 4, "", i18n.FinalMessagePending},
		{"final message with summary", models.StateFinalMessageSent, 4, "You hold back anger.", i18n.FinalMessage},
		{"complete", models.StateOnboardingComplete, 4, "", i18n.MenuPrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newOnboardingHarness(t)
			h.seed(tt.state, tt.progress)
			if tt.summary != "" {
				summary := tt.summary
				h.store.UpdateUserInfo(context.Background(), "info-1", models.UserInfoUpdate{SummaryText: &summary})
			}
			now := time.Now()
			h.onboarding.now = func() time.Time { return now }

			h.onboarding.Resume(context.Background(), h.chat)
			now = now.Add(10 * time.Minute)
			h.onboarding.Resume(context.Background(), h.chat)

			sent := h.messenger.messages()
			if len(sent) != 2 {
				t.Fatalf("sent %d messages, want 2", len(sent))
			}
			if !reflect.DeepEqual(sent[0], sent[1]) {
				t.Errorf("resume not idempotent:\n%+v\n%+v", sent[0], sent[1])
			}
			want := h.texts.Text("en", tt.wantText)
			if tt.summary != "" {
				want = h.texts.Text("en", tt.wantText, tt.summary)
			}
			if sent[0].Text != want {
				t.Errorf("resume text = %q, want %q", sent[0].Text, want)
			}
			h.expectState(t, tt.state)
		})
	}
}

func TestOnboardingMiniAppTokenRenewedWhenStale(t *testing.T) {
	h := newOnboardingHarness(t)
	h.seed(models.StateMiniAppOpened, 4)
	tokens := NewTokenIssuer("test-secret", time.Hour)
	start := time.Now()
	now := start
	h.onboarding.now = func() time.Time { return now }

	link := func() string {
		t.Helper()
		h.onboarding.Resume(context.Background(), h.chat)
		keyboard := h.messenger.last().Keyboard
		if len(keyboard) != 1 || len(keyboard[0]) != 1 {
			t.Fatalf("keyboard = %+v", keyboard)
		}
		return keyboard[0][0].URL
	}

	first := link()
	now = start.Add(31 * time.Minute)
	renewed := link()
	if renewed == first {
		t.Fatal("stale token was not renewed")
	}
	now = start.Add(40 * time.Minute)
	if again := link(); again != renewed {
		t.Errorf("renewed link changed again:\n%s\n%s", renewed, again)
	}

	parsed, err := url.Parse(renewed)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	userID, err := tokens.Validate(parsed.Query().Get("token"))
	if err != nil || userID != h.chat.UserID {
		t.Errorf("Validate() = %d, %v", userID, err)
	}

	h.store.mu.Lock()
	stored := h.store.users[h.chat.UserID].MiniAppTokenAt
	h.store.mu.Unlock()
	if stored == nil || !stored.Equal(now.Add(-9*time.Minute).Truncate(time.Second)) {
		t.Errorf("stored token time = %v", stored)
	}
}

func TestOnboardingResumeRepairsFinishedSurvey(t *testing.T) {
	h := newOnboardingHarness(t)
	h.seed(models.StateSurveyInProgress, models.SurveyQuestionCount)

	h.onboarding.Resume(context.Background(), h.chat)

	h.expectState(t, models.StateWaitingVoiceSurvey)
	if got := h.messenger.last().Text; got != h.texts.Text("en", i18n.VoicePrompt) {
		t.Errorf("repair reply = %q, want voice prompt", got)
	}

	first := h.messenger.last()
	h.onboarding.Resume(context.Background(), h.chat)
	if !reflect.DeepEqual(h.messenger.last(), first) {
		t.Errorf("second resume differs: %+v", h.messenger.last())
	}
}

func TestOnboardingBackNavigationTruncates(t *testing.T) {
	h := newOnboardingHarness(t)
	h.seed(models.StateSurveyInProgress, 0)

	for q := 1; q <= models.SurveyQuestionCount; q++ {
		h.press(surveyAnswerAction(q, 1))
	}
	h.expectState(t, models.StateWaitingVoiceSurvey)

	h.press(surveyBackAction(2))

	h.expectState(t, models.StateSurveyInProgress)
	info := h.store.latest(h.chat.UserID)
	if info.SurveyProgress != 1 {
		t.Errorf("progress = %d, want 1", info.SurveyProgress)
	}
	if got := sortedKeys(info.SurveyAnswers); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("answered questions = %v, want [1]", got)
	}
	last := h.messenger.last()
	if last.Text != h.texts.Text("en", i18n.SurveyQuestion(2)) {
		t.Errorf("after back = %q, want question 2", last.Text)
	}
	if last.Mode != SendEditIfPossible || last.MessageID != 9 {
		t.Errorf("after back mode = %v message = %d, want edit of 9", last.Mode, last.MessageID)
	}
}

func TestOnboardingBackNavigationRejectsUnansweredTarget(t *testing.T) {
	h := newOnboardingHarness(t)
	h.seed(models.StateSurveyInProgress, 1)

	h.press(surveyBackAction(4))

	if len(h.messenger.messages()) != 0 {
		t.Errorf("sent %v for invalid back target", h.messenger.texts())
	}
	if got := h.store.latest(h.chat.UserID).SurveyProgress; got != 1 {
		t.Errorf("progress = %d, want 1", got)
	}
}

func TestOnboardingStaleSurveyAnswerIgnored(t *testing.T) {
	h := newOnboardingHarness(t)
	h.seed(models.StateSurveyInProgress, 2)

	h.press(surveyAnswerAction(1, 3))

	info := h.store.latest(h.chat.UserID)
	if info.SurveyProgress != 2 || info.SurveyAnswers[1].AnswerText != "seeded" {
		t.Errorf("stale answer changed info: %+v", info)
	}
	if len(h.messenger.messages()) != 0 {
		t.Errorf("sent %v for stale answer", h.messenger.texts())
	}
}

func TestOnboardingCustomAnswer(t *testing.T) {
	h := newOnboardingHarness(t)
	h.seed(models.StateSurveyInProgress, 1)

	h.press(surveyCustomAction(2))
	if got := h.messenger.last().Text; got != h.texts.Text("en", i18n.SurveyCustomPrompt) {
		t.Fatalf("custom prompt = %q", got)
	}

	h.onboarding.HandleIncomingVoiceOrText(context.Background(), h.chat, FeelingsInput{Text: "  my own words "})

	info := h.store.latest(h.chat.UserID)
	answer := info.SurveyAnswers[2]
	if !answer.IsCustom || answer.AnswerText != "my own words" || info.SurveyProgress != 2 {
		t.Errorf("custom answer = %+v progress = %d", answer, info.SurveyProgress)
	}
	if got := h.messenger.last().Text; got != h.texts.Text("en", i18n.SurveyQuestion(3)) {
		t.Errorf("after custom answer = %q, want question 3", got)
	}
}

func TestOnboardingPhotoIgnoredOutsideWaitingPhotos(t *testing.T) {
	h := newOnboardingHarness(t)
	h.seed(models.StateSurveyInProgress, 1)

	h.photo("late-photo")

	if len(h.messenger.messages()) != 0 {
		t.Errorf("sent %v for photo in survey", h.messenger.texts())
	}
	if _, ok := h.intake.Session(h.chat.UserID); ok {
		t.Error("photo session created outside WAITING_PHOTOS")
	}
	if len(h.scorer.faceCalls) != 0 {
		t.Error("photo scored outside WAITING_PHOTOS")
	}
}

func TestOnboardingTranscriptionFailure(t *testing.T) {
	h := newOnboardingHarness(t)
	h.seed(models.StateWaitingVoiceSurvey, 4)
	h.transcriber.err = errors.New("speech model down")

	h.onboarding.HandleIncomingVoiceOrText(context.Background(), h.chat, FeelingsInput{Audio: []byte("ogg")})

	h.expectState(t, models.StateWaitingVoiceSurvey)
	if got := h.messenger.last().Text; got != h.texts.Text("en", i18n.VoiceEmpty) {
		t.Errorf("reply = %q, want voice empty", got)
	}
	if len(h.dispatcher.jobs) != 0 {
		t.Errorf("dispatched %d jobs, want 0", len(h.dispatcher.jobs))
	}
}

func TestOnboardingDispatchFailureStillOpensMiniApp(t *testing.T) {
	h := newOnboardingHarness(t)
	h.seed(models.StateWaitingVoiceSurvey, 4)
	h.dispatcher.err = ErrQueueFull

	h.onboarding.HandleIncomingVoiceOrText(context.Background(), h.chat, FeelingsInput{Text: "calm"})

	h.expectState(t, models.StateMiniAppOpened)
	if got := h.messenger.last().Text; got != h.texts.Text("en", i18n.MiniAppPrompt) {
		t.Errorf("reply = %q, want mini-app prompt", got)
	}
}

func TestOnboardingStartWithReferral(t *testing.T) {
	h := newOnboardingHarness(t)

	h.onboarding.HandleStart(context.Background(), h.chat, "FRIEND")

	user, err := h.store.GetUser(context.Background(), h.chat.UserID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.ReferredBy != "FRIEND" {
		t.Errorf("referred_by = %q, want FRIEND", user.ReferredBy)
	}
	if len(user.ReferralCode) != 6 {
		t.Errorf("referral code = %q, want 6 characters", user.ReferralCode)
	}
	want := []string{h.texts.Text("en", i18n.Welcome), h.texts.Text("en", i18n.PhotoFacePrompt)}
	if got := h.messenger.texts(); !reflect.DeepEqual(got, want) {
		t.Errorf("sent %q, want %q", got, want)
	}
}

func TestOnboardingMenuShareLink(t *testing.T) {
	h := newOnboardingHarness(t)
	h.seed(models.StateOnboardingComplete, 4)

	h.press(ActionMenuShare)

	if got := h.messenger.last().Text; !strings.Contains(got, "https://t.me/intake_bot?start=SEED01") {
		t.Errorf("share reply = %q", got)
	}
}

func TestOnboardingStoreErrorSendsGenericError(t *testing.T) {
	h := newOnboardingHarness(t)
	h.store.failGet = errors.New("connection refused")

	h.press(ActionOnboardingReady)

	if got := h.messenger.last().Text; got != h.texts.Text("en", i18n.GenericError) {
		t.Errorf("reply = %q, want generic error", got)
	}
}

func TestOnboardingLateMediaGroupIgnored(t *testing.T) {
	h := newOnboardingHarness(t)
	h.seed(models.StateWaitingPhotos, 0)
	ctx := context.Background()

	for _, ref := range []string{"face", "palm-1", "palm-2"} {
		h.onboarding.HandleIncomingPhoto(ctx, h.chat, ref, "album")
	}
	ready := models.StateReadyToStartSurvey
	if err := h.store.UpdateUser(ctx, h.chat.UserID, models.UserUpdate{PipelineState: &ready}); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	h.messenger.reset()

	h.scheduler.fire()

	if len(h.scorer.faceCalls) != 0 || len(h.scorer.setCalls) != 0 {
		t.Errorf("late burst scored: face=%v set=%v", h.scorer.faceCalls, h.scorer.setCalls)
	}
	if got := h.messenger.texts(); len(got) != 0 {
		t.Errorf("late burst replies = %q, want none", got)
	}
	h.expectState(t, models.StateReadyToStartSurvey)
}

func TestOnboardingAcceptingPhotos(t *testing.T) {
	tests := []struct {
		name  string
		state models.PipelineState
		want  bool
	}{
		{"unknown user", "", true},
		{"waiting photos", models.StateWaitingPhotos, true},
		{"ready to start", models.StateReadyToStartSurvey, false},
		{"mini-app opened", models.StateMiniAppOpened, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newOnboardingHarness(t)
			if tt.state != "" {
				h.seed(tt.state, 0)
			}
			got, err := h.onboarding.AcceptingPhotos(context.Background(), h.chat.UserID)
			if err != nil || got != tt.want {
				t.Errorf("AcceptingPhotos() = %v, %v, want %v", got, err, tt.want)
			}
		})
	}

	h := newOnboardingHarness(t)
	h.store.failGet = errors.New("database down")
	if _, err := h.onboarding.AcceptingPhotos(context.Background(), h.chat.UserID); err == nil {
		t.Error("AcceptingPhotos() swallowed a store error")
	}
}

func TestOnboardingReportError(t *testing.T) {
	h := newOnboardingHarness(t)

	h.onboarding.ReportError(context.Background(), h.chat)

	if got := h.messenger.last(); got.ChatID != h.chat.ChatID || got.Text != h.texts.Text("en", i18n.GenericError) {
		t.Errorf("error reply = %+v", got)
	}
}
