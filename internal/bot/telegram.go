package bot

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"diet-bot/internal/assistant"
	"diet-bot/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxDownloadSize = 20 << 20
	updateTimeout   = 2 * time.Minute
)

// Checkout creates payment links for the paywall reply.
type Checkout interface {
	CreateCheckoutSession(userID, successURL, cancelURL string) (string, string, error)
}

type TelegramBot struct {
	bot        *tgbotapi.BotAPI
	service    *assistant.Service
	checkout   Checkout
	logger     *logger.Logger
	httpClient *http.Client
	returnURL  string
	inflight   *inflight
}

// NewTelegramBot connects to the Bot API. checkout may be nil when payments are disabled.
func NewTelegramBot(token string, service *assistant.Service, checkout Checkout, l *logger.Logger) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	l.Infow("Authorized on Telegram", "username", api.Self.UserName)

	return &TelegramBot{
		bot:        api,
		service:    service,
		checkout:   checkout,
		logger:     l.With("component", "telegram"),
		httpClient: &http.Client{Timeout: time.Minute},
		returnURL:  fmt.Sprintf("https://t.me/%s", api.Self.UserName),
		inflight:   newInflight(context.Background()),
	}, nil
}

// Start switches the bot to long polling and handles updates until ctx is done or Stop is called.
func (t *TelegramBot) Start(ctx context.Context) error {
	if _, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: false}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := t.bot.GetUpdatesChan(updateConfig)

	t.logger.Info("Started receiving Telegram updates")
	go t.handleUpdates(ctx, updates)
	return nil
}

func (t *TelegramBot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if !t.inflight.add() {
				return
			}
			go t.handleUpdate(t.inflight.context(), update)
		}
	}
}

func (t *TelegramBot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer t.inflight.done()
	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorw("Recovered from panic while processing update", "update_id", update.UpdateID, "panic", r)
		}
	}()

	message := update.Message
	if message == nil || message.From == nil {
		if update.CallbackQuery != nil {
			if _, err := t.bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
				t.logger.Warnw("Failed to answer callback", "error", err)
			}
		}
		return
	}

	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	userID := userKey(message.From.ID)
	t.logger.Debugw("Received message", "update_id", update.UpdateID, "user_id", userID, "chat_id", message.Chat.ID)

	switch {
	case message.IsCommand():
		t.handleCommand(ctx, userID, message)
	case len(message.Photo) > 0:
		t.handlePhoto(ctx, userID, message)
	case message.Voice != nil:
		t.handleVoice(ctx, userID, message)
	case message.Text != "":
		t.withTyping(message.Chat.ID)
		res, err := t.service.Chat(ctx, userID, message.Text)
		t.replyResult(message.Chat.ID, userID, res, err)
	default:
		t.send(message.Chat.ID, unsupportedText)
	}
}

func (t *TelegramBot) handleCommand(ctx context.Context, userID string, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	switch command := message.Command(); command {
	case "start":
		if _, err := t.service.Users().GetOrCreate(ctx, userID); err != nil {
			t.replyError(chatID, userID, err)
			return
		}
		t.send(chatID, welcomeText)
	case "help":
		t.send(chatID, helpText)
	case "breakfast", "lunch", "snack":
		t.withTyping(chatID)
		res, err := t.service.SuggestMeals(ctx, userID, command)
		t.replyResult(chatID, userID, res, err)
	case "profile":
		profile, err := parseProfileArgs(message.CommandArguments())
		if err != nil {
			t.send(chatID, profileUsageText)
			return
		}
		if err := t.service.UpdateProfile(ctx, userID, profile); err != nil {
			t.replyError(chatID, userID, err)
			return
		}
		t.send(chatID, profileSavedText)
	case "status":
		if _, err := t.service.Users().GetOrCreate(ctx, userID); err != nil {
			t.replyError(chatID, userID, err)
			return
		}
		status, err := t.service.Status(ctx, userID)
		if err != nil {
			t.replyError(chatID, userID, err)
			return
		}
		t.send(chatID, formatStatus(status))
	case "pay":
		t.sendPaywall(chatID, userID, payText)
	default:
		t.send(chatID, unknownCommandText)
	}
}

func (t *TelegramBot) handlePhoto(ctx context.Context, userID string, message *tgbotapi.Message) {
	// Telegram lists sizes ascending; the last one is the original resolution.
	photo := message.Photo[len(message.Photo)-1]
	data, err := t.download(ctx, photo.FileID)
	if err != nil {
		t.logger.Errorw("Failed to download photo", "user_id", userID, "error", err)
		t.send(message.Chat.ID, downloadFailedText)
		return
	}

	t.withTyping(message.Chat.ID)
	// The direct file URL embeds the bot token, so the image is forwarded inline.
	image := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
	res, err := t.service.AnalyzePhoto(ctx, userID, image)
	t.replyResult(message.Chat.ID, userID, res.Result, err)
}

func (t *TelegramBot) handleVoice(ctx context.Context, userID string, message *tgbotapi.Message) {
	audio, err := t.download(ctx, message.Voice.FileID)
	if err != nil {
		t.logger.Errorw("Failed to download voice", "user_id", userID, "error", err)
		t.send(message.Chat.ID, downloadFailedText)
		return
	}

	t.withTyping(message.Chat.ID)
	res, err := t.service.AnalyzeVoice(ctx, userID, audio, "voice.ogg")
	if err == nil && !res.Paywall {
		res.Message = fmt.Sprintf("🎙 %s\n\n%s", res.Transcript, res.Message)
	}
	t.replyResult(message.Chat.ID, userID, res.Result, err)
}

func (t *TelegramBot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("file exceeds %d bytes", maxDownloadSize)
	}
	return data, nil
}

func (t *TelegramBot) replyResult(chatID int64, userID string, res assistant.Result, err error) {
	switch {
	case err != nil:
		t.replyError(chatID, userID, err)
	case res.Paywall:
		t.sendPaywall(chatID, userID, res.Message)
	default:
		t.send(chatID, res.Message)
	}
}

func (t *TelegramBot) replyError(chatID int64, userID string, err error) {
	t.logger.Warnw("Request failed", "user_id", userID, "code", assistant.ErrorCode(err), "error", err)
	t.send(chatID, errorText(err))
}

// sendPaywall attaches a checkout button when payments are configured.
func (t *TelegramBot) sendPaywall(chatID int64, userID, text string) {
	if t.checkout == nil {
		t.send(chatID, text)
		return
	}

	successURL := t.returnURL + "?start=payment_success"
	cancelURL := t.returnURL + "?start=payment_cancel"
	_, url, err := t.checkout.CreateCheckoutSession(userID, successURL, cancelURL)
	if err != nil {
		t.logger.Errorw("Failed to create Stripe session", "user_id", userID, "error", err)
		t.send(chatID, text)
		return
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Оплатить", url),
		),
	)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Errorw("Failed to send paywall message", "chat_id", chatID, "error", err)
	}
}

func (t *TelegramBot) send(chatID int64, text string) {
	for _, part := range splitMessage(text, maxMessageLength) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			t.logger.Errorw("Failed to send message", "chat_id", chatID, "error", err)
			return
		}
	}
}

func (t *TelegramBot) withTyping(chatID int64) {
	if _, err := t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		t.logger.Debugw("Failed to send chat action", "chat_id", chatID, "error", err)
	}
}

// Stop ends polling and waits for in-flight updates until ctx expires.
func (t *TelegramBot) Stop(ctx context.Context) error {
	t.bot.StopReceivingUpdates()
	return t.inflight.drain(ctx)
}
