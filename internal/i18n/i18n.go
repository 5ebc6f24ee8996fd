// Package i18n holds the localized texts the bot sends to users.
package i18n

import (
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys
const (
	Welcome             = "welcome"
	PhotoFacePrompt     = "photo.face_prompt"
	PhotoFaceRejected   = "photo.face_rejected"
	PhotoSetRejected    = "photo.set_rejected"
	PhotoFaceAccepted   = "photo.face_accepted"
	PhotoPalmAccepted   = "photo.palm_accepted"
	PhotoAlreadyDone    = "photo.already_done"
	PhotoRetry          = "photo.retry"
	PhotosCollected     = "photo.collected"
	ButtonSkipPalms     = "button.skip_palms"
	ButtonAddPalm       = "button.add_palm"
	ButtonFinishPhotos  = "button.finish_photos"
	ButtonReady         = "button.ready"
	ButtonBack          = "button.back"
	ButtonCustomAnswer  = "button.custom_answer"
	ButtonOpenMiniApp   = "button.open_mini_app"
	ButtonRetryPhotos   = "button.retry_photos"
	ButtonShare         = "button.share"
	ButtonRepost        = "button.repost"
	ButtonPurchase      = "button.purchase"
	PalmSecondPrompt    = "photo.palm_second_prompt"
	PalmSendPrompt      = "photo.palm_send_prompt"
	SurveyCustomPrompt  = "survey.custom_prompt"
	VoicePrompt         = "voice.prompt"
	VoiceEmpty          = "voice.empty"
	MiniAppPrompt       = "mini_app.prompt"
	AnalysisReady       = "analysis.ready"
	AnalysisSupport     = "analysis.support"
	FinalMessage        = "final.message"
	FinalMessagePending = "final.message_pending"
	MenuPrompt          = "menu.prompt"
	MenuShare           = "menu.share"
	MenuRepost          = "menu.repost"
	MenuPurchase        = "menu.purchase"
	FailureAnalysis     = "failure.analysis"
	FailureNoFace       = "failure.no_face"
	FailureRefusal      = "failure.refusal"
	GenericError        = "error.generic"
	SubscriptionActive  = "notify.subscription_activated"
	PaymentSucceeded    = "notify.payment_succeeded"
	ReferralBonus       = "notify.referral_bonus"
)

// SurveyOptionCount is the number of predefined answers per survey question
const SurveyOptionCount = 3

var supported = []language.Tag{language.Russian, language.English}

// Localizer renders message keys for a user language
type Localizer struct {
	matcher  language.Matcher
	fallback language.Tag
	catalog  catalog.Catalog
}

// NewLocalizer creates a localizer falling back to defaultLang for unknown languages
func NewLocalizer(defaultLang string) *Localizer {
	fallback := language.Russian
	if tag, err := language.Parse(defaultLang); err == nil {
		_, idx, confidence := language.NewMatcher(supported).Match(tag)
		if confidence != language.No {
			fallback = supported[idx]
		}
	}

	builder := catalog.NewBuilder(catalog.Fallback(fallback))
	for tag, texts := range translations {
		for key, text := range texts {
			builder.SetString(tag, key, text)
		}
	}

	return &Localizer{
		matcher:  language.NewMatcher(supported),
		fallback: fallback,
		catalog:  builder,
	}
}

// Tag resolves a Telegram language code to a supported language
func (l *Localizer) Tag(lang string) language.Tag {
	tag, err := language.Parse(lang)
	if err != nil {
		return l.fallback
	}
	_, idx, confidence := l.matcher.Match(tag)
	if confidence == language.No {
		return l.fallback
	}
	return supported[idx]
}

// Text renders key in lang with optional format arguments
func (l *Localizer) Text(lang, key string, args ...any) string {
	printer := message.NewPrinter(l.Tag(lang), message.Catalog(l.catalog))
	return printer.Sprintf(key, args...)
}

// SurveyQuestion returns the key of question n (1-based)
func SurveyQuestion(n int) string {
	return "survey.q" + strconv.Itoa(n)
}

// SurveyOption returns the key of option opt (1-based) of question n
func SurveyOption(n, opt int) string {
	return "survey.q" + strconv.Itoa(n) + ".o" + strconv.Itoa(opt)
}
