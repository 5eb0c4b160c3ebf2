package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fieldserve/internal/config"
	"fieldserve/internal/models"
)

// RedisBalanceCache keeps the derived wallet balance per user. Entries are a
// read optimization only; the ledger aggregate stays authoritative and the
// reconciler rewrites entries on its schedule.
type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient creates a redis client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) *RedisBalanceCache {
	return &RedisBalanceCache{
		client: client,
		ttl:    ttl,
	}
}

func balanceKey(userType string, userID int64) string {
	return fmt.Sprintf("wallet_balance:%s:%d", userType, userID)
}

func (r *RedisBalanceCache) GetBalance(ctx context.Context, userType string, userID int64) (*models.Balance, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, balanceKey(userType, userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance from redis: %w", err)
	}

	var balance models.Balance
	if err := json.Unmarshal([]byte(val), &balance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal balance: %w", err)
	}

	return &balance, nil
}

func (r *RedisBalanceCache) SetBalance(ctx context.Context, balance *models.Balance) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}

	key := balanceKey(balance.UserType, balance.UserID)
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set balance in redis: %w", err)
	}

	return nil
}

func (r *RedisBalanceCache) Invalidate(ctx context.Context, userType string, userID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, balanceKey(userType, userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete balance from redis: %w", err)
	}
	return nil
}
