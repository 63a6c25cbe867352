package assistant

import (
	"context"
	"strings"
	"time"

	"diet-bot/internal/db"
	"diet-bot/internal/gpt"
	"diet-bot/internal/models"
	"diet-bot/pkg/logger"
)

const compactTemperature = 0.2

// Compactor condenses a user's history into the summary field every
// `every` messages. It is best-effort: failures are logged, never returned.
type Compactor struct {
	store     db.Store
	users     *Manager
	generator gpt.Generator
	every     int
	window    int
	timeout   time.Duration
	logger    *logger.Logger
}

type CompactorConfig struct {
	Store     db.Store
	Users     *Manager
	Generator gpt.Generator
	Every     int
	Window    int
	Timeout   time.Duration
	Logger    *logger.Logger
}

func NewCompactor(cfg CompactorConfig) *Compactor {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Compactor{
		store:     cfg.Store,
		users:     cfg.Users,
		generator: cfg.Generator,
		every:     cfg.Every,
		window:    cfg.Window,
		timeout:   cfg.Timeout,
		logger:    l,
	}
}

// ShouldCompact reports whether a history of count messages is due for compaction.
func ShouldCompact(count, every int) bool {
	return every > 0 && count > 0 && count%every == 0
}

// MaybeCompact rewrites the summary when the message count hits a multiple of
// the configured interval. It reports whether a new summary was stored.
func (c *Compactor) MaybeCompact(ctx context.Context, userID string) bool {
	count, err := c.store.CountMessages(ctx, userID)
	if err != nil {
		c.logger.Warnw("Failed to count messages for compaction", "user_id", userID, "error", err)
		return false
	}
	if !ShouldCompact(count, c.every) {
		return false
	}

	recent, err := c.store.RecentMessages(ctx, userID, c.window)
	if err != nil {
		c.logger.Warnw("Failed to load history for compaction", "user_id", userID, "error", err)
		return false
	}

	var transcript strings.Builder
	for i := len(recent) - 1; i >= 0; i-- {
		speaker := "Пользователь"
		if recent[i].Role == models.RoleAssistant {
			speaker = "Ассистент"
		}
		transcript.WriteString(speaker)
		transcript.WriteString(": ")
		transcript.WriteString(recent[i].Text)
		transcript.WriteString("\n")
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	summary, err := c.generator.Generate(callCtx, []gpt.Message{
		{Role: gpt.RoleSystem, Content: summaryPrompt},
		{Role: gpt.RoleUser, Content: transcript.String()},
	}, compactTemperature)
	if err != nil {
		c.logger.Warnw("Summary compaction failed", "user_id", userID, "error", err)
		return false
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		return false
	}
	if err := c.users.SetSummary(ctx, userID, summary); err != nil {
		c.logger.Warnw("Failed to store summary", "user_id", userID, "error", err)
		return false
	}

	c.logger.Infow("Summary compacted", "user_id", userID, "messages", count)
	return true
}
