package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/trogers1052/item-price-sync/internal/config"
	"github.com/trogers1052/item-price-sync/internal/models"
	"github.com/trogers1052/item-price-sync/internal/pricing"
)

// ErrCacheMiss is returned when no latest price is cached for an item
var ErrCacheMiss = errors.New("price not cached")

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// PriceCache keeps the latest recorded price of each item in redis
type PriceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPriceCache creates a price cache. A zero ttl keeps entries forever.
func NewPriceCache(client *redis.Client, ttl time.Duration) *PriceCache {
	return &PriceCache{client: client, ttl: ttl}
}

func latestPriceKey(itemID int64) string {
	return fmt.Sprintf("item:%d:latest_price", itemID)
}

// maxSetAttempts bounds optimistic retries when writers race on one key
const maxSetAttempts = 10

// SetLatest stores record as the item's latest price unless a newer one is
// cached. The compare and the write run under WATCH so a concurrent writer
// cannot slip an older price in between.
func (c *PriceCache) SetLatest(ctx context.Context, record *models.PriceHistoryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal price record: %w", err)
	}
	key := latestPriceKey(record.ItemID)

	update := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var current models.PriceHistoryRecord
			if json.Unmarshal(raw, &current) == nil && current.RecordedAt.After(record.RecordedAt) {
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSetAttempts; attempt++ {
		err = c.client.Watch(ctx, update, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to cache latest price: %w", err)
	}
	return nil
}

// GetLatest returns the cached latest price, or ErrCacheMiss
func (c *PriceCache) GetLatest(ctx context.Context, itemID int64) (*models.PriceHistoryRecord, error) {
	data, err := c.client.Get(ctx, latestPriceKey(itemID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached price: %w", err)
	}

	var record models.PriceHistoryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached price: %w", err)
	}
	return &record, nil
}

// LatestPriceRecorder records through next and mirrors each stored price
// into the cache. Cache failures are logged; the record already counts.
type LatestPriceRecorder struct {
	next   pricing.PriceRecorder
	cache  *PriceCache
	logger *logrus.Logger
}

// NewLatestPriceRecorder wraps next with cache mirroring
func NewLatestPriceRecorder(next pricing.PriceRecorder, cache *PriceCache, logger *logrus.Logger) *LatestPriceRecorder {
	return &LatestPriceRecorder{next: next, cache: cache, logger: logger}
}

// RecordPrice implements pricing.PriceRecorder
func (r *LatestPriceRecorder) RecordPrice(ctx context.Context, record *models.PriceHistoryRecord) error {
	if err := r.next.RecordPrice(ctx, record); err != nil {
		return err
	}

	if err := r.cache.SetLatest(ctx, record); err != nil {
		r.logger.WithError(err).WithField("item_id", record.ItemID).Warn("Failed to cache latest price")
	}
	return nil
}
