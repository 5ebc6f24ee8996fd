package services

import (
	"sort"
	"strings"

	"intake-bot-backend/internal/i18n"
	"intake-bot-backend/internal/models"
)

// surveyQuestionMessage renders question n with its options
func surveyQuestionMessage(texts *i18n.Localizer, lang string, n int) (string, [][]Button) {
	var keyboard [][]Button
	for opt := 1; opt <= i18n.SurveyOptionCount; opt++ {
		keyboard = append(keyboard, row(Button{
			Text:   texts.Text(lang, i18n.SurveyOption(n, opt)),
			Action: surveyAnswerAction(n, opt),
		}))
	}
	keyboard = append(keyboard, row(Button{
		Text:   texts.Text(lang, i18n.ButtonCustomAnswer),
		Action: surveyCustomAction(n),
	}))
	if n > 1 {
		keyboard = append(keyboard, row(Button{
			Text:   texts.Text(lang, i18n.ButtonBack),
			Action: surveyBackAction(n - 1),
		}))
	}
	return texts.Text(lang, i18n.SurveyQuestion(n)), keyboard
}

// voicePromptMessage renders the feelings prompt shown after the last question
func voicePromptMessage(texts *i18n.Localizer, lang string) (string, [][]Button) {
	keyboard := [][]Button{row(Button{
		Text:   texts.Text(lang, i18n.ButtonBack),
		Action: surveyBackAction(models.SurveyQuestionCount),
	})}
	return texts.Text(lang, i18n.VoicePrompt), keyboard
}

// truncateAnswers drops the answers of question target and later ones
func truncateAnswers(answers map[int]models.SurveyAnswer, target int) map[int]models.SurveyAnswer {
	kept := make(map[int]models.SurveyAnswer, len(answers))
	for q, answer := range answers {
		if q < target {
			kept[q] = answer
		}
	}
	return kept
}

func copyAnswers(answers map[int]models.SurveyAnswer) map[int]models.SurveyAnswer {
	out := make(map[int]models.SurveyAnswer, len(answers)+1)
	for q, answer := range answers {
		out[q] = answer
	}
	return out
}

// buildTranscript joins the survey answers and feelings into the text the analyzer reads
func buildTranscript(texts *i18n.Localizer, lang string, answers map[int]models.SurveyAnswer, feelings string) string {
	questions := make([]int, 0, len(answers))
	for q := range answers {
		questions = append(questions, q)
	}
	sort.Ints(questions)

	var b strings.Builder
	for _, q := range questions {
		b.WriteString(texts.Text(lang, i18n.SurveyQuestion(q)))
		b.WriteString("\n")
		b.WriteString(answers[q].AnswerText)
		b.WriteString("\n\n")
	}
	b.WriteString(feelings)
	return strings.TrimSpace(b.String())
}
