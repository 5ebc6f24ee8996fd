package i18n

import "golang.org/x/text/language"

var translations = map[language.Tag]map[string]string{
	language.English: {
		Welcome:             "Hi! Let's get to know you. It takes a few minutes: photos, four short questions and a voice note.",
		PhotoFacePrompt:     "Send a clear photo of your face in good light. You can also send your face and palms together in one album.",
		PhotoFaceRejected:   "We could not see a face clearly on this photo. Please send another one in good light.",
		PhotoSetRejected:    "These photos are hard to read. Please send a clearer face photo first.",
		PhotoFaceAccepted:   "Great, the face photo is accepted. Now send a photo of your palm, or skip this step.",
		PhotoPalmAccepted:   "Palm photo received.",
		PalmSecondPrompt:    "You can add a photo of your second palm or finish now.",
		PalmSendPrompt:      "Send a photo of your second palm.",
		PhotoAlreadyDone:    "Your photos are already collected.",
		PhotoRetry:          "Something went wrong while processing the photo. Please send it again.",
		PhotosCollected:     "All photos are in. Ready to answer four short questions?",
		ButtonSkipPalms:     "Skip palms",
		ButtonAddPalm:       "Add second palm",
		ButtonFinishPhotos:  "Finish",
		ButtonReady:         "Ready",
		ButtonBack:          "Back",
		ButtonCustomAnswer:  "My own answer",
		ButtonOpenMiniApp:   "Open results",
		ButtonRetryPhotos:   "Send photos again",
		ButtonShare:         "Share",
		ButtonRepost:        "Repost",
		ButtonPurchase:      "Full report",
		SurveyCustomPrompt:  "Type your answer in a message.",
		VoicePrompt:         "Last step: record a voice message about how you feel these days. You can also type it.",
		VoiceEmpty:          "We could not hear anything. Please record the voice message again or type your answer.",
		MiniAppPrompt:       "Thank you! Your analysis is being prepared. Open the app to follow it.",
		AnalysisReady:       "Your analysis is ready. Open the app to read it.",
		AnalysisSupport:     "We could not finish your analysis. Please contact support: %s",
		FinalMessage:        "Here is the short summary of your analysis:\n\n%s",
		FinalMessagePending: "Your analysis is still being prepared. We will let you know as soon as it is ready.",
		MenuPrompt:          "What would you like to do next?",
		MenuShare:           "Invite a friend with your personal link: %s",
		MenuRepost:          "Share your result in your stories and tag us!",
		MenuPurchase:        "The full report is available here: %s",
		FailureAnalysis:     "The analysis failed. Let's start over with new photos.",
		FailureNoFace:       "We could not detect a face on your photos. Please send new ones.",
		FailureRefusal:      "The analysis could not be performed on these photos. Please send different ones.",
		GenericError:        "Something went wrong. Please try again a bit later.",
		SubscriptionActive:  "Your subscription is active. Enjoy!",
		PaymentSucceeded:    "Payment received, thank you!",
		ReferralBonus:       "A friend joined with your link. You received a bonus analysis!",
		"survey.q1":         "1/4. How would you describe your energy lately?",
		"survey.q1.o1":      "High",
		"survey.q1.o2":      "Changing",
		"survey.q1.o3":      "Low",
		"survey.q2":         "2/4. What occupies your thoughts most?",
		"survey.q2.o1":      "Work and money",
		"survey.q2.o2":      "Relationships",
		"survey.q2.o3":      "Myself",
		"survey.q3":         "3/4. How do you usually make important decisions?",
		"survey.q3.o1":      "With my head",
		"survey.q3.o2":      "With my heart",
		"survey.q3.o3":      "I postpone them",
		"survey.q4":         "4/4. What would you like to change first?",
		"survey.q4.o1":      "My habits",
		"survey.q4.o2":      "My surroundings",
		"survey.q4.o3":      "My attitude",
	},
	language.Russian: {
		Welcome:             "Привет! Давай познакомимся. Это займёт несколько минут: фото, четыре коротких вопроса и голосовое сообщение.",
		PhotoFacePrompt:     "Пришли чёткое фото лица при хорошем освещении. Можно отправить лицо и ладони одним альбомом.",
		PhotoFaceRejected:   "На этом фото не удалось разглядеть лицо. Пришли, пожалуйста, другое при хорошем освещении.",
		PhotoSetRejected:    "Фото получились нечёткими. Пришли, пожалуйста, сначала чёткое фото лица.",
		PhotoFaceAccepted:   "Отлично, фото лица принято. Теперь пришли фото ладони или пропусти этот шаг.",
		PhotoPalmAccepted:   "Фото ладони получено.",
		PalmSecondPrompt:    "Можно добавить фото второй ладони или завершить.",
		PalmSendPrompt:      "Пришли фото второй ладони.",
		PhotoAlreadyDone:    "Фото уже собраны.",
		PhotoRetry:          "Не получилось обработать фото. Пришли его ещё раз.",
		PhotosCollected:     "Все фото на месте. Готов ответить на четыре коротких вопроса?",
		ButtonSkipPalms:     "Пропустить ладони",
		ButtonAddPalm:       "Добавить вторую ладонь",
		ButtonFinishPhotos:  "Завершить",
		ButtonReady:         "Готов",
		ButtonBack:          "Назад",
		ButtonCustomAnswer:  "Свой ответ",
		ButtonOpenMiniApp:   "Открыть результаты",
		ButtonRetryPhotos:   "Отправить фото заново",
		ButtonShare:         "Поделиться",
		ButtonRepost:        "Репост",
		ButtonPurchase:      "Полный отчёт",
		SurveyCustomPrompt:  "Напиши свой ответ сообщением.",
		VoicePrompt:         "Последний шаг: запиши голосовое о том, как ты себя чувствуешь в последнее время. Можно и текстом.",
		VoiceEmpty:          "Ничего не удалось расслышать. Запиши голосовое ещё раз или напиши текстом.",
		MiniAppPrompt:       "Спасибо! Анализ готовится. Открой приложение, чтобы следить за ним.",
		AnalysisReady:       "Анализ готов. Открой приложение, чтобы прочитать его.",
		AnalysisSupport:     "Не удалось завершить анализ. Напиши, пожалуйста, в поддержку: %s",
		FinalMessage:        "Краткий итог твоего анализа:\n\n%s",
		FinalMessagePending: "Анализ ещё готовится. Мы сообщим, как только он будет готов.",
		MenuPrompt:          "Что хочешь сделать дальше?",
		MenuShare:           "Пригласи друга по личной ссылке: %s",
		MenuRepost:          "Поделись результатом в сторис и отметь нас!",
		MenuPurchase:        "Полный отчёт доступен здесь: %s",
		FailureAnalysis:     "Анализ не удался. Давай начнём заново с новыми фото.",
		FailureNoFace:       "На фото не удалось найти лицо. Пришли, пожалуйста, новые.",
		FailureRefusal:      "По этим фото анализ провести нельзя. Пришли, пожалуйста, другие.",
		GenericError:        "Что-то пошло не так. Попробуй ещё раз чуть позже.",
		SubscriptionActive:  "Подписка активна. Приятного пользования!",
		PaymentSucceeded:    "Оплата получена, спасибо!",
		ReferralBonus:       "Друг присоединился по твоей ссылке. Тебе начислен бонусный анализ!",
		"survey.q1":         "1/4. Как бы ты описал свою энергию в последнее время?",
		"survey.q1.o1":      "Высокая",
		"survey.q1.o2":      "Меняется",
		"survey.q1.o3":      "Низкая",
		"survey.q2":         "2/4. Что больше всего занимает твои мысли?",
		"survey.q2.o1":      "Работа и деньги",
		"survey.q2.o2":      "Отношения",
		"survey.q2.o3":      "Я сам",
		"survey.q3":         "3/4. Как ты обычно принимаешь важные решения?",
		"survey.q3.o1":      "Головой",
		"survey.q3.o2":      "Сердцем",
		"survey.q3.o3":      "Откладываю",
		"survey.q4":         "4/4. Что хочется изменить в первую очередь?",
		"survey.q4.o1":      "Привычки",
		"survey.q4.o2":      "Окружение",
		"survey.q4.o3":      "Отношение к жизни",
	},
}
