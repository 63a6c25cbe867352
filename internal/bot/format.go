package bot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"diet-bot/internal/assistant"
	"diet-bot/internal/models"
)

const maxMessageLength = 4096

const (
	welcomeText = "👋 Привет! Я ваш помощник по питанию.\n\n" +
		"Пишите вопросы текстом или голосом, присылайте фото блюд, и я посчитаю калории и БЖУ."
	helpText = "Что я умею:\n" +
		"• ответить на вопрос о питании (текст или голосовое)\n" +
		"• оценить блюдо по фото\n" +
		"/breakfast, /lunch, /snack - идеи для приёма пищи\n" +
		"/profile {\"goal\":\"похудеть\",\"weight\":80} - сохранить профиль\n" +
		"/status - остаток сообщений и калории за сегодня\n" +
		"/pay - оформить подписку"
	payText            = "Безлимитный доступ к ассистенту. Нажмите кнопку ниже, чтобы перейти к оплате."
	profileUsageText   = "Пришлите профиль в формате JSON, например:\n/profile {\"goal\":\"похудеть\",\"weight\":80,\"allergies\":[\"орехи\"]}"
	profileSavedText   = "Профиль сохранён ✅"
	unknownCommandText = "Неизвестная команда. Используйте /help."
	unsupportedText    = "Я понимаю текст, фото и голосовые сообщения."
	downloadFailedText = "Не удалось загрузить файл. Попробуйте ещё раз."
	upstreamFailedText = "Не удалось получить ответ. Попробуйте чуть позже."
	storageFailedText  = "Извините, произошла ошибка. Пожалуйста, попробуйте позже."
)

func userKey(telegramID int64) string {
	return strconv.FormatInt(telegramID, 10)
}

// parseProfileArgs reads the JSON object passed after /profile.
func parseProfileArgs(args string) (models.Profile, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return nil, errors.New("empty profile")
	}
	var profile models.Profile
	if err := json.Unmarshal([]byte(args), &profile); err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, errors.New("profile must be an object")
	}
	return profile, nil
}

func formatStatus(s assistant.Status) string {
	var sb strings.Builder
	if s.IsPaid {
		sb.WriteString("Подписка активна ✅\n")
	} else {
		fmt.Fprintf(&sb, "Бесплатных сообщений осталось: %d\n", s.FreeLeft)
	}
	fmt.Fprintf(&sb, "Сегодня: %s ккал (Б %s / Ж %s / У %s)",
		formatAmount(s.Today.Kcal), formatAmount(s.Today.B), formatAmount(s.Today.J), formatAmount(s.Today.U))
	return sb.String()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 0, 64)
}

func errorText(err error) string {
	var upstream *assistant.UpstreamError
	switch {
	case assistant.IsInvalidInput(err):
		if assistant.ErrorCode(err) == assistant.CodeTextRequired {
			return "Напишите, пожалуйста, вопрос текстом."
		}
		return storageFailedText
	case errors.As(err, &upstream):
		return upstreamFailedText
	default:
		return storageFailedText
	}
}

// splitMessage breaks text into chunks of at most limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
