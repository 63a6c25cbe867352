package db

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"diet-bot/config"
	"diet-bot/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set DB_TEST_POSTGRES=1 and the usual DB_* variables to run these against a live server.
func newPostgresTestStore(t *testing.T) *PostgresDB {
	t.Helper()
	if os.Getenv("DB_TEST_POSTGRES") == "" {
		t.Skip("DB_TEST_POSTGRES not set")
	}

	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)

	store, err := NewPostgresDB(cfg.DB)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresCreateUserIfMissingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newPostgresTestStore(t)
	userID := uuid.NewString()

	require.NoError(t, store.CreateUserIfMissing(ctx, userID, models.DefaultFreeMessages))
	_, err := store.DecrementFree(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, store.CreateUserIfMissing(ctx, userID, models.DefaultFreeMessages))

	user, err := store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 9, user.FreeLeft)
	assert.False(t, user.IsPaid)

	_, err = store.GetUser(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPostgresDecrementFreeFloor(t *testing.T) {
	ctx := context.Background()
	store := newPostgresTestStore(t)
	userID := uuid.NewString()
	require.NoError(t, store.CreateUserIfMissing(ctx, userID, 3))

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.DecrementFree(ctx, userID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, won)
	user, err := store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, user.FreeLeft)

	require.NoError(t, store.RefundFree(ctx, userID))
	user, err = store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, user.FreeLeft)
}

func TestPostgresCommitTurn(t *testing.T) {
	ctx := context.Background()
	store := newPostgresTestStore(t)
	userID := uuid.NewString()
	require.NoError(t, store.CreateUserIfMissing(ctx, userID, 10))
	start := time.Now().Add(-time.Minute)

	meal := &models.MealEntry{UserID: userID, Source: models.MealSourcePhoto, ItemJSON: "{}", Kcal: 250}
	require.NoError(t, store.CommitTurn(ctx, meal, []*models.MessageEntry{
		{UserID: userID, Role: models.RoleUser, Text: "[photo]"},
		{UserID: userID, Role: models.RoleAssistant, Text: "250 ккал"},
	}))
	assert.NotZero(t, meal.ID)

	recent, err := store.RecentMessages(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "250 ккал", recent[0].Text)
	assert.Equal(t, models.RoleAssistant, recent[0].Role)

	// The role CHECK rejects the second row, so the whole turn rolls back.
	err = store.CommitTurn(ctx, &models.MealEntry{UserID: userID, Source: models.MealSourcePhoto, ItemJSON: "{}", Kcal: 100},
		[]*models.MessageEntry{
			{UserID: userID, Role: models.RoleUser, Text: "again"},
			{UserID: userID, Role: models.Role("system"), Text: "bad"},
		})
	require.Error(t, err)

	count, err := store.CountMessages(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	meals, err := store.MealsSince(ctx, userID, start)
	require.NoError(t, err)
	require.Len(t, meals, 1)
	assert.Equal(t, 250.0, meals[0].Kcal)
}

func TestPostgresMarkPaidAndProfile(t *testing.T) {
	ctx := context.Background()
	store := newPostgresTestStore(t)
	userID := uuid.NewString()
	require.NoError(t, store.CreateUserIfMissing(ctx, userID, 0))

	require.NoError(t, store.UpdateProfile(ctx, userID, `{"goal":"lose"}`))
	require.NoError(t, store.UpdateSummary(ctx, userID, "Цель: похудеть."))
	require.NoError(t, store.MarkPaid(ctx, userID, models.UnlimitedFree))

	user, err := store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, user.IsPaid)
	assert.Equal(t, models.UnlimitedFree, user.FreeLeft)
	assert.JSONEq(t, `{"goal":"lose"}`, user.ProfileJSON)
	assert.Equal(t, "Цель: похудеть.", user.Summary)

	require.NoError(t, store.RefundFree(ctx, userID))
	user, err = store.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.UnlimitedFree, user.FreeLeft)

	assert.ErrorIs(t, store.UpdateProfile(ctx, uuid.NewString(), `{}`), ErrUserNotFound)
}
