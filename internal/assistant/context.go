package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"diet-bot/internal/db"
	"diet-bot/internal/gpt"
	"diet-bot/internal/models"
)

// Context is what a model call needs to know about the user.
type Context struct {
	Text   string
	Recent []models.MessageEntry // oldest first
}

// Messages assembles the role-tagged sequence for a generation call.
func (c Context) Messages(systemPrompt, userText string) []gpt.Message {
	out := make([]gpt.Message, 0, len(c.Recent)+3)
	out = append(out,
		gpt.Message{Role: gpt.RoleSystem, Content: systemPrompt},
		gpt.Message{Role: gpt.RoleSystem, Content: c.Text},
	)
	for _, m := range c.Recent {
		role := gpt.RoleUser
		if m.Role == models.RoleAssistant {
			role = gpt.RoleAssistant
		}
		out = append(out, gpt.Message{Role: role, Content: m.Text})
	}
	return append(out, gpt.Message{Role: gpt.RoleUser, Content: userText})
}

type ContextBuilder struct {
	store  db.Store
	window int
}

func NewContextBuilder(store db.Store, window int) *ContextBuilder {
	return &ContextBuilder{store: store, window: window}
}

// Build formats the profile and summary and loads the recent message window
// in chronological order.
func (b *ContextBuilder) Build(ctx context.Context, user *models.UserRecord) (Context, error) {
	profile := parseProfile(user.ProfileJSON)

	recent, err := b.store.RecentMessages(ctx, user.UserID, b.window)
	if err != nil {
		return Context{}, storageErr("recent messages", err)
	}
	// The store returns newest first.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	return Context{
		Text:   formatContext(profile, user.Summary),
		Recent: recent,
	}, nil
}

// parseProfile never fails: a missing or unreadable profile is an empty one.
func parseProfile(raw string) models.Profile {
	profile := models.Profile{}
	if strings.TrimSpace(raw) == "" {
		return profile
	}
	if err := json.Unmarshal([]byte(raw), &profile); err != nil || profile == nil {
		return models.Profile{}
	}
	return profile
}

func formatContext(profile models.Profile, summary string) string {
	raw, err := json.Marshal(profile)
	if err != nil {
		raw = []byte("{}")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Профиль пользователя: %s", raw)
	if s := strings.TrimSpace(summary); s != "" {
		fmt.Fprintf(&sb, "\nПамять о пользователе: %s", s)
	}
	return sb.String()
}
