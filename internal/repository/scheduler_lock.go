package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SchedulerLock распределённый замок валидатора. В кластере тик должен
// выполняться ровно одним процессом, поэтому захват идёт через Redis
// SET NX PX под фиксированным ключом.
type SchedulerLock interface {
	// TryAcquire пытается захватить замок на ttl; false - замок занят
	// другим процессом.
	TryAcquire(ctx context.Context, ttl time.Duration) (bool, error)
	// Refresh продлевает TTL замка, только если он всё ещё наш; false -
	// замок истёк или перехвачен.
	Refresh(ctx context.Context, ttl time.Duration) (bool, error)
	// Release снимает замок, только если он всё ещё наш (сверка токена).
	Release(ctx context.Context) error
}

const schedulerLockKey = "validation:scheduler:lock"

// Снятие и продление безопасны только со сверкой токена владельца: замок,
// истёкший и перехваченный другим процессом, трогать нельзя.
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	refreshScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

type schedulerLock struct {
	redis *RedisDB
	token string
}

func NewSchedulerLock(redis *RedisDB) SchedulerLock {
	return &schedulerLock{
		redis: redis,
		token: newLockToken(),
	}
}

func (l *schedulerLock) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.redis.Client.SetNX(ctx, schedulerLockKey, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire scheduler lock: %w", err)
	}
	return ok, nil
}

func (l *schedulerLock) Refresh(ctx context.Context, ttl time.Duration) (bool, error) {
	res, err := refreshScript.Run(ctx, l.redis.Client, []string{schedulerLockKey}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to refresh scheduler lock: %w", err)
	}
	return res == 1, nil
}

func (l *schedulerLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.redis.Client, []string{schedulerLockKey}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release scheduler lock: %w", err)
	}
	return nil
}

func newLockToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
