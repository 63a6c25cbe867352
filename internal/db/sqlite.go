package db

import (
	"context"
	"fmt"
	"time"

	"diet-bot/internal/models"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// SQLiteDB is the embedded store used for local runs and tests.
type SQLiteDB struct {
	db *gorm.DB
}

// NewSQLiteDB opens the database file at path. The connection pool is pinned
// to a single connection, which serializes writers the way SQLite expects.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteDB) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.UserRecord{}, &models.MessageEntry{}, &models.MealEntry{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteDB) CreateUserIfMissing(ctx context.Context, userID string, freeLeft int) error {
	user := models.UserRecord{
		UserID:   userID,
		IsPaid:   false,
		FreeLeft: freeLeft,
	}
	// Select forces zero values into the insert instead of the column defaults.
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Select("user_id", "is_paid", "free_left", "profile_json", "summary", "created_at").
		Create(&user).Error
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetUser(ctx context.Context, userID string) (*models.UserRecord, error) {
	var users []models.UserRecord
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(users) == 0 {
		return nil, ErrUserNotFound
	}
	return &users[0], nil
}

func (s *SQLiteDB) UpdateProfile(ctx context.Context, userID, profileJSON string) error {
	return s.updateUser(ctx, userID, map[string]interface{}{"profile_json": profileJSON}, "profile")
}

func (s *SQLiteDB) UpdateSummary(ctx context.Context, userID, summary string) error {
	return s.updateUser(ctx, userID, map[string]interface{}{"summary": summary}, "summary")
}

func (s *SQLiteDB) MarkPaid(ctx context.Context, userID string, freeLeft int) error {
	return s.updateUser(ctx, userID, map[string]interface{}{"is_paid": true, "free_left": freeLeft}, "paid status")
}

func (s *SQLiteDB) updateUser(ctx context.Context, userID string, columns map[string]interface{}, what string) error {
	result := s.db.WithContext(ctx).
		Model(&models.UserRecord{}).
		Where("user_id = ?", userID).
		UpdateColumns(columns)
	if result.Error != nil {
		return fmt.Errorf("failed to update %s: %w", what, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *SQLiteDB) DecrementFree(ctx context.Context, userID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.UserRecord{}).
		Where("user_id = ? AND is_paid = ? AND free_left > 0", userID, false).
		UpdateColumn("free_left", gorm.Expr("free_left - 1"))
	if result.Error != nil {
		return false, fmt.Errorf("failed to decrement free counter: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *SQLiteDB) RefundFree(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).
		Model(&models.UserRecord{}).
		Where("user_id = ? AND is_paid = ?", userID, false).
		UpdateColumn("free_left", gorm.Expr("free_left + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to refund free message: %w", err)
	}
	return nil
}

func (s *SQLiteDB) CommitTurn(ctx context.Context, meal *models.MealEntry, turns []*models.MessageEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if meal != nil {
			if err := tx.Create(meal).Error; err != nil {
				return fmt.Errorf("failed to save meal: %w", err)
			}
		}
		for _, turn := range turns {
			if err := tx.Create(turn).Error; err != nil {
				return fmt.Errorf("failed to append message: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteDB) AppendMessage(ctx context.Context, msg *models.MessageEntry) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *SQLiteDB) RecentMessages(ctx context.Context, userID string, limit int) ([]models.MessageEntry, error) {
	var out []models.MessageEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return out, nil
}

func (s *SQLiteDB) CountMessages(ctx context.Context, userID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.MessageEntry{}).Where("user_id = ?", userID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return int(count), nil
}

func (s *SQLiteDB) SaveMeal(ctx context.Context, meal *models.MealEntry) error {
	if err := s.db.WithContext(ctx).Create(meal).Error; err != nil {
		return fmt.Errorf("failed to save meal: %w", err)
	}
	return nil
}

func (s *SQLiteDB) MealsSince(ctx context.Context, userID string, since time.Time) ([]models.MealEntry, error) {
	var out []models.MealEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND dt >= ?", userID, since).
		Order("dt ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", err)
	}
	return out, nil
}
