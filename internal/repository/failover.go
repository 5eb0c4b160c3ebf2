package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"fieldserve/internal/domain"
	"fieldserve/internal/models"
)

// FailoverBalanceCache prefers the primary cache and silently degrades to
// the fallback, retrying the primary after a minute.
type FailoverBalanceCache struct {
	primary   domain.BalanceCache
	fallback  domain.BalanceCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverBalanceCache(primary, fallback domain.BalanceCache, logger *zerolog.Logger) *FailoverBalanceCache {
	return &FailoverBalanceCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverBalanceCache) markDown(err error) {
	r.logger.Error().Err(err).Msg("primary balance cache failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverBalanceCache) shouldRetryPrimary() bool {
	return time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute
}

func (r *FailoverBalanceCache) GetBalance(ctx context.Context, userType string, userID int64) (*models.Balance, error) {
	if !r.isDown.Load() || r.shouldRetryPrimary() {
		balance, err := r.primary.GetBalance(ctx, userType, userID)
		if err == nil {
			r.isDown.Store(false)
			return balance, nil
		}
		r.markDown(err)
	}

	return r.fallback.GetBalance(ctx, userType, userID)
}

func (r *FailoverBalanceCache) SetBalance(ctx context.Context, balance *models.Balance) error {
	if !r.isDown.Load() || r.shouldRetryPrimary() {
		err := r.primary.SetBalance(ctx, balance)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.SetBalance(ctx, balance)
}

func (r *FailoverBalanceCache) Invalidate(ctx context.Context, userType string, userID int64) error {
	if !r.isDown.Load() || r.shouldRetryPrimary() {
		err := r.primary.Invalidate(ctx, userType, userID)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Invalidate(ctx, userType, userID)
}
