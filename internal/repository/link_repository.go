package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/tinylinks/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrLinkNotFound = errors.New("link not found")
	ErrCodeExists   = errors.New("short code already exists")
)

type LinkRepository interface {
	// Create атомарно вставляет ссылку; ErrCodeExists при занятом коде.
	// Именно уникальный индекс в БД, а не предварительная проверка,
	// гарантирует отсутствие дублей при конкурентных созданиях.
	Create(ctx context.Context, link *models.Link) error
	GetByCode(ctx context.Context, code string) (*models.Link, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// ResolveAndCount одним запросом инкрементирует счётчик кликов и
	// возвращает ссылку. Инкремент атомарный: конкурентные резолвы одного
	// кода не теряют обновлений.
	ResolveAndCount(ctx context.Context, code string) (*models.Link, error)
	// OldestChecked возвращает limit ссылок с самой старой датой проверки.
	// Непроверенные (last_checked_at IS NULL) идут первыми, далее порядок
	// created_at, code - детерминированный tie-break.
	OldestChecked(ctx context.Context, limit int) ([]*models.Link, error)
	// MarkChecked фиксирует итог проверки; last_checked_at двигается
	// только вперёд.
	MarkChecked(ctx context.Context, id int64, status models.LinkStatus, reason string, checkedAt time.Time) error
	Count(ctx context.Context) (int64, error)
	Delete(ctx context.Context, code string) error
}

type linkRepository struct {
	db *PostgresDB
}

func NewLinkRepository(db *PostgresDB) LinkRepository {
	return &linkRepository{db: db}
}

const linkColumns = `id, code, long_url, owner_id, status, validation_error, last_checked_at, click_count, created_at`

func scanLink(row pgx.Row) (*models.Link, error) {
	link := &models.Link{}
	err := row.Scan(
		&link.ID,
		&link.Code,
		&link.LongURL,
		&link.OwnerID,
		&link.Status,
		&link.ValidationError,
		&link.LastCheckedAt,
		&link.ClickCount,
		&link.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (r *linkRepository) Create(ctx context.Context, link *models.Link) error {
	query := `
		INSERT INTO links (code, long_url, owner_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(
		ctx,
		query,
		link.Code,
		link.LongURL,
		link.OwnerID,
		link.Status,
		link.CreatedAt,
	).Scan(&link.ID, &link.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrCodeExists
		}
		return fmt.Errorf("failed to create link: %w", err)
	}

	return nil
}

func (r *linkRepository) GetByCode(ctx context.Context, code string) (*models.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE code = $1`

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	return link, nil
}

func (r *linkRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM links WHERE code = $1)`

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, query, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check code: %w", err)
	}

	return exists, nil
}

func (r *linkRepository) ResolveAndCount(ctx context.Context, code string) (*models.Link, error) {
	query := `
		UPDATE links
		SET click_count = click_count + 1
		WHERE code = $1
		RETURNING ` + linkColumns

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to resolve link: %w", err)
	}

	return link, nil
}

func (r *linkRepository) OldestChecked(ctx context.Context, limit int) ([]*models.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		ORDER BY last_checked_at ASC NULLS FIRST, created_at ASC, code ASC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query oldest checked links: %w", err)
	}
	defer rows.Close()

	var links []*models.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}

	return links, nil
}

func (r *linkRepository) MarkChecked(ctx context.Context, id int64, status models.LinkStatus, reason string, checkedAt time.Time) error {
	query := `
		UPDATE links
		SET status = $2,
		    validation_error = $3,
		    last_checked_at = GREATEST(COALESCE(last_checked_at, $4::timestamptz), $4::timestamptz)
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id, status, reason, checkedAt)
	if err != nil {
		return fmt.Errorf("failed to mark link checked: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrLinkNotFound
	}

	return nil
}

func (r *linkRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM links`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}
	return count, nil
}

func (r *linkRepository) Delete(ctx context.Context, code string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM links WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrLinkNotFound
	}

	return nil
}

// isUniqueViolation проверяет нарушение уникального индекса (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
