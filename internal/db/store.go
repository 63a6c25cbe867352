package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"diet-bot/config"
	"diet-bot/internal/models"
	"diet-bot/pkg/logger"
)

var ErrUserNotFound = errors.New("db: user not found")

// Store is the persistence contract for users, messages and meals.
// Counter updates are single conditional statements so that concurrent
// requests never need a read-modify-write in application code.
type Store interface {
	// CreateUserIfMissing inserts a user row with defaults, ignoring an existing one.
	CreateUserIfMissing(ctx context.Context, userID string, freeLeft int) error
	GetUser(ctx context.Context, userID string) (*models.UserRecord, error)
	UpdateProfile(ctx context.Context, userID, profileJSON string) error
	UpdateSummary(ctx context.Context, userID, summary string) error
	MarkPaid(ctx context.Context, userID string, freeLeft int) error
	// DecrementFree lowers free_left by one for an unpaid user with free_left > 0.
	// It reports whether a row was changed.
	DecrementFree(ctx context.Context, userID string) (bool, error)
	// RefundFree returns one free message to an unpaid user.
	RefundFree(ctx context.Context, userID string) error

	AppendMessage(ctx context.Context, msg *models.MessageEntry) error
	// RecentMessages returns up to limit entries, newest first.
	RecentMessages(ctx context.Context, userID string, limit int) ([]models.MessageEntry, error)
	CountMessages(ctx context.Context, userID string) (int, error)

	SaveMeal(ctx context.Context, meal *models.MealEntry) error
	// CommitTurn stores the optional meal and the turns in one transaction.
	// Either every row is written or none is.
	CommitTurn(ctx context.Context, meal *models.MealEntry, turns []*models.MessageEntry) error
	MealsSince(ctx context.Context, userID string, since time.Time) ([]models.MealEntry, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured driver. Postgres connections are retried
// because the database container often comes up after the bot.
func Open(cfg config.DBConfig, l *logger.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return NewSQLiteDB(cfg.Path)
	case config.DriverPostgres:
		var (
			database *PostgresDB
			err      error
		)
		maxRetries := 5
		for i := 0; i < maxRetries; i++ {
			database, err = NewPostgresDB(cfg)
			if err == nil {
				return database, nil
			}
			l.Warnw("Failed to connect to database, retrying...", "attempt", i+1, "error", err)
			time.Sleep(time.Duration(i+1) * time.Second)
		}
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
