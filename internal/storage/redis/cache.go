package redis

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"tempmail/inbox/internal/domain"
)

const statisticsKey = "stats:latest"

// CacheStatistics 缓存最近一次统计结果
func (c *Client) CacheStatistics(ctx context.Context, stats *domain.Statistics, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, statisticsKey, data, ttl).Err()
}

// GetCachedStatistics 读取缓存的统计结果，未命中时返回 nil, nil
func (c *Client) GetCachedStatistics(ctx context.Context) (*domain.Statistics, error) {
	data, err := c.rdb.Get(ctx, statisticsKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var stats domain.Statistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
