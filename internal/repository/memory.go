package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fieldserve/internal/models"
)

// MemoryBalanceCache is the in-process fallback when redis is unavailable.
type MemoryBalanceCache struct {
	balances sync.Map
	ttl      time.Duration
}

type memoryEntry struct {
	balance   *models.Balance
	expiresAt time.Time
}

func NewMemoryBalanceCache(ttl time.Duration) *MemoryBalanceCache {
	return &MemoryBalanceCache{ttl: ttl}
}

func memoryKey(userType string, userID int64) string {
	return fmt.Sprintf("%s:%d", userType, userID)
}

func (r *MemoryBalanceCache) GetBalance(ctx context.Context, userType string, userID int64) (*models.Balance, error) {
	val, ok := r.balances.Load(memoryKey(userType, userID))
	if !ok {
		return nil, nil
	}
	entry := val.(*memoryEntry)
	if r.ttl > 0 && time.Now().After(entry.expiresAt) {
		r.balances.Delete(memoryKey(userType, userID))
		return nil, nil
	}
	return entry.balance, nil
}

func (r *MemoryBalanceCache) SetBalance(ctx context.Context, balance *models.Balance) error {
	r.balances.Store(memoryKey(balance.UserType, balance.UserID), &memoryEntry{
		balance:   balance,
		expiresAt: time.Now().Add(r.ttl),
	})
	return nil
}

func (r *MemoryBalanceCache) Invalidate(ctx context.Context, userType string, userID int64) error {
	r.balances.Delete(memoryKey(userType, userID))
	return nil
}
