package assistant

import (
	"context"
	"fmt"
	"testing"

	"diet-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldCompact(t *testing.T) {
	tests := []struct {
		count int
		want  bool
	}{
		{0, false},
		{1, false},
		{14, false},
		{15, true},
		{16, false},
		{29, false},
		{30, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldCompact(tt.count, 15), "count=%d", tt.count)
	}
	assert.False(t, ShouldCompact(15, 0))
}

func seedMessages(t *testing.T, env *testEnv, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, env.store.AppendMessage(context.Background(), &models.MessageEntry{
			UserID: userID, Role: models.RoleUser, Text: fmt.Sprintf("msg %d", i),
		}))
	}
}

func newTestCompactor(env *testEnv) *Compactor {
	return NewCompactor(CompactorConfig{
		Store:     env.store,
		Users:     env.service.Users(),
		Generator: env.generator,
		Every:     15,
		Window:    50,
	})
}

func TestMaybeCompactReplacesSummary(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, models.DefaultFreeMessages)
	users := env.service.Users()
	_, err := users.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, users.SetSummary(ctx, "u1", "старая память"))

	compactor := newTestCompactor(env)

	seedMessages(t, env, "u1", 14)
	assert.False(t, compactor.MaybeCompact(ctx, "u1"))
	assert.Equal(t, 0, env.generator.sumCalls)

	seedMessages(t, env, "u1", 1)
	assert.True(t, compactor.MaybeCompact(ctx, "u1"))
	assert.Equal(t, 1, env.generator.sumCalls)

	user, err := env.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Цель: похудеть.", user.Summary)
}

func TestMaybeCompactFailureKeepsSummary(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, models.DefaultFreeMessages)
	env.generator.sumErr = errUpstream
	users := env.service.Users()
	_, err := users.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, users.SetSummary(ctx, "u1", "старая память"))
	seedMessages(t, env, "u1", 15)

	assert.False(t, newTestCompactor(env).MaybeCompact(ctx, "u1"))

	user, err := env.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "старая память", user.Summary)
}

func TestMaybeCompactIgnoresBlankSummary(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, models.DefaultFreeMessages)
	env.generator.summary = "   "
	users := env.service.Users()
	_, err := users.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, users.SetSummary(ctx, "u1", "старая память"))
	seedMessages(t, env, "u1", 15)

	assert.False(t, newTestCompactor(env).MaybeCompact(ctx, "u1"))

	user, err := env.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "старая память", user.Summary)
}
