package bot

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"diet-bot/internal/assistant"
	"diet-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfileArgs(t *testing.T) {
	profile, err := parseProfileArgs(` {"goal":"похудеть","weight":80} `)
	require.NoError(t, err)
	assert.Equal(t, models.Profile{"goal": "похудеть", "weight": 80.0}, profile)

	for _, args := range []string{"", "null", "[1,2]", "goal=lose"} {
		_, err := parseProfileArgs(args)
		assert.Error(t, err, args)
	}
}

func TestFormatStatus(t *testing.T) {
	free := formatStatus(assistant.Status{FreeLeft: 4, Today: models.MacroTotals{Kcal: 1234.6, B: 80, J: 40.2, U: 150}})
	assert.Equal(t, "Бесплатных сообщений осталось: 4\nСегодня: 1235 ккал (Б 80 / Ж 40 / У 150)", free)

	paid := formatStatus(assistant.Status{IsPaid: true, FreeLeft: models.UnlimitedFree})
	assert.True(t, strings.HasPrefix(paid, "Подписка активна"))
	assert.NotContains(t, paid, "1000000")
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, upstreamFailedText, errorText(&assistant.UpstreamError{Code: assistant.CodeChatFailed, Err: errors.New("x")}))
	assert.Equal(t, storageFailedText, errorText(&assistant.StorageError{Op: "get user", Err: errors.New("x")}))
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	text := strings.Repeat("а", 6) + "\n" + strings.Repeat("б", 6)
	assert.Equal(t, []string{strings.Repeat("а", 6), strings.Repeat("б", 6)}, splitMessage(text, 10))

	long := strings.Repeat("я", 25)
	parts := splitMessage(long, 10)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 10)
	}
	assert.Equal(t, long, strings.Join(parts, ""))
}

func TestUserKey(t *testing.T) {
	assert.Equal(t, "123456789", userKey(123456789))
}
