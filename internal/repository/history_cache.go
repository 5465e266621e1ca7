package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FlowScope/internal/domain/models"
	domrepo "FlowScope/internal/domain/repository"
	"FlowScope/pkg/cache"
)

// HistoryKeyPrefix namespaces persisted series. Bump the version on format changes.
const HistoryKeyPrefix = "okx_calc_history_v1"

// CacheHistoryPersister stores each coin's series as one JSON value in a cache.Service.
type CacheHistoryPersister struct {
	cache cache.Service
	ttl   time.Duration
}

var _ domrepo.HistoryPersister = (*CacheHistoryPersister)(nil)

// NewCacheHistoryPersister keeps values for ttl; 0 means no expiry.
func NewCacheHistoryPersister(c cache.Service, ttl time.Duration) *CacheHistoryPersister {
	return &CacheHistoryPersister{cache: c, ttl: ttl}
}

func HistoryKey(coin string) string { return cache.Key(HistoryKeyPrefix, coin) }

// Load returns nil without error when nothing was saved.
func (p *CacheHistoryPersister) Load(ctx context.Context, coin string) ([]models.HistoryPoint, error) {
	var series []models.HistoryPoint
	if err := p.cache.Get(ctx, HistoryKey(coin), &series); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load history %s: %w", coin, err)
	}
	return series, nil
}

func (p *CacheHistoryPersister) Save(ctx context.Context, coin string, series []models.HistoryPoint) error {
	if err := p.cache.Set(ctx, HistoryKey(coin), series, p.ttl); err != nil {
		return fmt.Errorf("save history %s: %w", coin, err)
	}
	return nil
}
