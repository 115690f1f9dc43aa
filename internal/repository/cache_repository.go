package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SergeiKhy/tinylinks/internal/models"
)

// CacheRepository кэш ссылок для читающей поверхности API (GET по коду).
// Редирект идёт мимо кэша: счётчик кликов живёт в БД и увеличивается там же
// атомарно, кэшированная копия его бы теряла. Запись результата валидации
// сбрасывает ключ, чтобы читатель не видел устаревший статус.
type CacheRepository interface {
	Get(ctx context.Context, code string) (*models.Link, error)
	Set(ctx context.Context, code string, link *models.Link, ttl time.Duration) error
	Delete(ctx context.Context, code string) error
}

const linkKeyPrefix = "link:"

type cacheRepository struct {
	redis *RedisDB
}

func NewCacheRepository(redis *RedisDB) CacheRepository {
	return &cacheRepository{redis: redis}
}

func (r *cacheRepository) Get(ctx context.Context, code string) (*models.Link, error) {
	data, err := r.redis.Client.Get(ctx, linkKeyPrefix+code).Bytes()
	if err != nil {
		return nil, err
	}

	var link models.Link
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached link %q: %w", code, err)
	}

	return &link, nil
}

func (r *cacheRepository) Set(ctx context.Context, code string, link *models.Link, ttl time.Duration) error {
	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to marshal link %q: %w", code, err)
	}

	return r.redis.Client.Set(ctx, linkKeyPrefix+code, data, ttl).Err()
}

func (r *cacheRepository) Delete(ctx context.Context, code string) error {
	return r.redis.Client.Del(ctx, linkKeyPrefix+code).Err()
}
