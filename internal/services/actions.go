package services

import (
	"fmt"
	"strconv"
	"strings"
)

// Button actions understood by the onboarding flow
const (
	ActionOnboardingReady = "onboarding:ready"
	ActionAddPalm         = "photos:add_palm"
	ActionFinishPhotos    = "photos:finish"
	ActionSkipPalms       = "photos:skip_palms"
	ActionRetryPhotos     = "photos:retry"
	ActionFinalReady      = "final:ready"
	ActionMenuShare       = "menu:share"
	ActionMenuRepost      = "menu:repost"
	ActionMenuPurchase    = "menu:purchase"
)

const (
	surveyAnswerPrefix = "survey:answer:"
	surveyCustomPrefix = "survey:custom:"
	surveyBackPrefix   = "survey:back:"
)

func surveyAnswerAction(question, option int) string {
	return fmt.Sprintf("%s%d:%d", surveyAnswerPrefix, question, option)
}

func surveyCustomAction(question int) string {
	return surveyCustomPrefix + strconv.Itoa(question)
}

func surveyBackAction(question int) string {
	return surveyBackPrefix + strconv.Itoa(question)
}

// parseSurveyAnswer parses "survey:answer:<q>:<option>"
func parseSurveyAnswer(action string) (question, option int, ok bool) {
	rest, found := strings.CutPrefix(action, surveyAnswerPrefix)
	if !found {
		return 0, 0, false
	}
	q, o, found := strings.Cut(rest, ":")
	if !found {
		return 0, 0, false
	}
	question, err := strconv.Atoi(q)
	if err != nil {
		return 0, 0, false
	}
	option, err = strconv.Atoi(o)
	if err != nil {
		return 0, 0, false
	}
	return question, option, true
}

// parseSurveyQuestion parses actions of the form "<prefix><q>"
func parseSurveyQuestion(action, prefix string) (int, bool) {
	rest, found := strings.CutPrefix(action, prefix)
	if !found {
		return 0, false
	}
	question, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return question, true
}
