package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"diet-bot/config"
	"diet-bot/internal/models"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(cfg config.DBConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	// Set connection pool parameters
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	if db.pool != nil {
		db.pool.Close()
	}
	return nil
}

func (db *PostgresDB) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (db *PostgresDB) CreateUserIfMissing(ctx context.Context, userID string, freeLeft int) error {
	query := `
        INSERT INTO users (user_id, is_paid, free_left)
        VALUES ($1, FALSE, $2)
        ON CONFLICT (user_id) DO NOTHING
    `

	if _, err := db.pool.Exec(ctx, query, userID, freeLeft); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (db *PostgresDB) GetUser(ctx context.Context, userID string) (*models.UserRecord, error) {
	query := `
        SELECT user_id, is_paid, free_left, paid_until, profile_json, summary, created_at
        FROM users
        WHERE user_id = $1
    `

	var user models.UserRecord
	err := db.pool.QueryRow(ctx, query, userID).Scan(
		&user.UserID, &user.IsPaid, &user.FreeLeft, &user.PaidUntil,
		&user.ProfileJSON, &user.Summary, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

func (db *PostgresDB) UpdateProfile(ctx context.Context, userID, profileJSON string) error {
	tag, err := db.pool.Exec(ctx, `UPDATE users SET profile_json = $2 WHERE user_id = $1`, userID, profileJSON)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (db *PostgresDB) UpdateSummary(ctx context.Context, userID, summary string) error {
	tag, err := db.pool.Exec(ctx, `UPDATE users SET summary = $2 WHERE user_id = $1`, userID, summary)
	if err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (db *PostgresDB) MarkPaid(ctx context.Context, userID string, freeLeft int) error {
	tag, err := db.pool.Exec(ctx, `UPDATE users SET is_paid = TRUE, free_left = $2 WHERE user_id = $1`, userID, freeLeft)
	if err != nil {
		return fmt.Errorf("failed to mark user paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (db *PostgresDB) DecrementFree(ctx context.Context, userID string) (bool, error) {
	query := `
        UPDATE users
        SET free_left = free_left - 1
        WHERE user_id = $1 AND is_paid = FALSE AND free_left > 0
    `

	tag, err := db.pool.Exec(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("failed to decrement free counter: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (db *PostgresDB) RefundFree(ctx context.Context, userID string) error {
	query := `
        UPDATE users
        SET free_left = free_left + 1
        WHERE user_id = $1 AND is_paid = FALSE
    `

	if _, err := db.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to refund free message: %w", err)
	}
	return nil
}

// queryRower is satisfied by both the pool and a transaction.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const insertMessageSQL = `
        INSERT INTO messages (user_id, role, text)
        VALUES ($1, $2, $3)
        RETURNING id, dt
    `

const insertMealSQL = `
        INSERT INTO meals (user_id, source, item_json, kcal, b, j, u)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, dt
    `

func insertMessage(ctx context.Context, q queryRower, msg *models.MessageEntry) error {
	err := q.QueryRow(ctx, insertMessageSQL, msg.UserID, string(msg.Role), msg.Text).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func insertMeal(ctx context.Context, q queryRower, meal *models.MealEntry) error {
	err := q.QueryRow(ctx, insertMealSQL,
		meal.UserID, meal.Source, meal.ItemJSON,
		meal.Kcal, meal.B, meal.J, meal.U,
	).Scan(&meal.ID, &meal.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save meal: %w", err)
	}
	return nil
}

func (db *PostgresDB) AppendMessage(ctx context.Context, msg *models.MessageEntry) error {
	return insertMessage(ctx, db.pool, msg)
}

func (db *PostgresDB) CommitTurn(ctx context.Context, meal *models.MealEntry, turns []*models.MessageEntry) error {
	return db.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if meal != nil {
			if err := insertMeal(ctx, tx, meal); err != nil {
				return err
			}
		}
		for _, turn := range turns {
			if err := insertMessage(ctx, tx, turn); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *PostgresDB) RecentMessages(ctx context.Context, userID string, limit int) ([]models.MessageEntry, error) {
	query := `
        SELECT id, user_id, dt, role, text
        FROM messages
        WHERE user_id = $1
        ORDER BY id DESC
        LIMIT $2
    `

	rows, err := db.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []models.MessageEntry
	for rows.Next() {
		var (
			msg  models.MessageEntry
			role string
		)
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.CreatedAt, &role, &msg.Text); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return out, nil
}

func (db *PostgresDB) CountMessages(ctx context.Context, userID string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (db *PostgresDB) SaveMeal(ctx context.Context, meal *models.MealEntry) error {
	return insertMeal(ctx, db.pool, meal)
}

func (db *PostgresDB) MealsSince(ctx context.Context, userID string, since time.Time) ([]models.MealEntry, error) {
	query := `
        SELECT id, user_id, dt, source, item_json, kcal, b, j, u
        FROM meals
        WHERE user_id = $1 AND dt >= $2
        ORDER BY dt ASC
    `

	rows, err := db.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", err)
	}
	defer rows.Close()

	var out []models.MealEntry
	for rows.Next() {
		var meal models.MealEntry
		if err := rows.Scan(
			&meal.ID, &meal.UserID, &meal.CreatedAt, &meal.Source, &meal.ItemJSON,
			&meal.Kcal, &meal.B, &meal.J, &meal.U,
		); err != nil {
			return nil, fmt.Errorf("failed to scan meal: %w", err)
		}
		out = append(out, meal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read meals: %w", err)
	}
	return out, nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        user_id      TEXT PRIMARY KEY,
        is_paid      BOOLEAN NOT NULL DEFAULT FALSE,
        free_left    INTEGER NOT NULL DEFAULT 10 CHECK (free_left >= 0),
        paid_until   TIMESTAMPTZ,
        profile_json TEXT NOT NULL DEFAULT '',
        summary      TEXT NOT NULL DEFAULT '',
        created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`CREATE TABLE IF NOT EXISTS messages (
        id      BIGSERIAL PRIMARY KEY,
        user_id TEXT NOT NULL REFERENCES users (user_id),
        dt      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        role    TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        text    TEXT NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages (user_id, id)`,
	`CREATE TABLE IF NOT EXISTS meals (
        id        BIGSERIAL PRIMARY KEY,
        user_id   TEXT NOT NULL REFERENCES users (user_id),
        dt        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        source    TEXT NOT NULL,
        item_json TEXT NOT NULL,
        kcal      DOUBLE PRECISION NOT NULL DEFAULT 0,
        b         DOUBLE PRECISION NOT NULL DEFAULT 0,
        j         DOUBLE PRECISION NOT NULL DEFAULT 0,
        u         DOUBLE PRECISION NOT NULL DEFAULT 0
    )`,
	`CREATE INDEX IF NOT EXISTS idx_meals_user_dt ON meals (user_id, dt)`,
}
