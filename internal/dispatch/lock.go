package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/uuid"
)

type Locker interface {
	// Acquire возвращает токен блокировки; ok == false, если заказ уже обрабатывается.
	Acquire(ctx context.Context, orderID uuid.UUID) (token string, ok bool, err error)
	Release(ctx context.Context, orderID uuid.UUID, token string) error
}

// Снимаем блокировку только своим токеном: чужую, взятую после истечения TTL, не трогаем.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func lockKey(orderID uuid.UUID) string {
	return fmt.Sprintf("order-submit-lock:%s", orderID)
}

func (l *RedisLocker) Acquire(ctx context.Context, orderID uuid.UUID) (string, bool, error) {
	token, err := uuid.NewV4()
	if err != nil {
		return "", false, fmt.Errorf("dispatch: failed to generate lock token: %w", err)
	}

	ok, err := l.rdb.SetNX(ctx, lockKey(orderID), token.String(), l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("dispatch: failed to acquire lock for order %s: %w", orderID, err)
	}
	return token.String(), ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, orderID uuid.UUID, token string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{lockKey(orderID)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("dispatch: failed to release lock for order %s: %w", orderID, err)
	}
	return nil
}
