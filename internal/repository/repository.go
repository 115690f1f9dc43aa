package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/SergeiKhy/tinylinks/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDB struct {
	Pool *pgxpool.Pool
}

func NewPostgresDB(cfg config.DBConfig) (*PostgresDB, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB config: %w", err)
	}

	// Настройка пула соединений
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

func (db *PostgresDB) Close() {
	db.Pool.Close()
}

// Migrate создаёт схему при старте. Составной индекс по (last_checked_at,
// created_at, code) обслуживает выборку "N самых давно проверенных".
func (db *PostgresDB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS links (
			id               BIGSERIAL PRIMARY KEY,
			code             VARCHAR(32) NOT NULL,
			long_url         TEXT NOT NULL,
			owner_id         BIGINT,
			status           VARCHAR(10) NOT NULL DEFAULT 'unknown',
			validation_error TEXT NOT NULL DEFAULT '',
			last_checked_at  TIMESTAMPTZ,
			click_count      BIGINT NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT links_code_key UNIQUE (code)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_links_check_order
			ON links (last_checked_at ASC NULLS FIRST, created_at ASC, code ASC)`,
		`CREATE TABLE IF NOT EXISTS clicks (
			id         BIGSERIAL PRIMARY KEY,
			link_id    BIGINT NOT NULL REFERENCES links(id) ON DELETE CASCADE,
			ip_address VARCHAR(45) NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			referer    TEXT NOT NULL DEFAULT '',
			clicked_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clicks_link_id ON clicks (link_id, clicked_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
