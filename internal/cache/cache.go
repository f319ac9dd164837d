package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/types"
)

// CacheService wraps storage with Redis caching
type CacheService struct {
	storage.Storage
	redis *redis.Client
}

var _ storage.Storage = (*CacheService)(nil)

// NewCacheService creates a new cache service
func NewCacheService(store storage.Storage, redisClient *redis.Client) *CacheService {
	return &CacheService{
		Storage: store,
		redis:   redisClient,
	}
}

// Cache key patterns
const (
	MediaKey   = "media:%d"      // media:mediaID
	CountsKey  = "catalog:counts"
	PreviewKey = "preview:%s:%d" // preview:channel:limit
)

// Cache durations
const (
	MediaCacheDuration   = 10 * time.Minute
	CountsCacheDuration  = 15 * time.Second
	PreviewCacheDuration = 30 * time.Second
)

func (c *CacheService) getJSON(ctx context.Context, key string, v interface{}) bool {
	cached, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(cached, v) == nil
}

func (c *CacheService) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		slog.Warn("Cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (c *CacheService) del(ctx context.Context, keys ...string) {
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("Cache invalidation failed", slog.String("keys", strings.Join(keys, ",")), slog.String("error", err.Error()))
	}
}

// GetMedia returns a cached record or fetches from the catalog. Only approved
// records are cached; approval is final, so a cached copy never goes stale.
func (c *CacheService) GetMedia(ctx context.Context, id int64) (types.MediaRecord, error) {
	key := fmt.Sprintf(MediaKey, id)

	var m types.MediaRecord
	if c.getJSON(ctx, key, &m) {
		return m, nil
	}

	m, err := c.Storage.GetMedia(ctx, id)
	if err != nil {
		return m, err
	}
	if m.Approved {
		c.setJSON(ctx, key, m, MediaCacheDuration)
	}
	return m, nil
}

func (c *CacheService) Counts(ctx context.Context) (types.CatalogCounts, error) {
	var counts types.CatalogCounts
	if c.getJSON(ctx, CountsKey, &counts) {
		return counts, nil
	}

	counts, err := c.Storage.Counts(ctx)
	if err != nil {
		return counts, err
	}
	c.setJSON(ctx, CountsKey, counts, CountsCacheDuration)
	return counts, nil
}

func (c *CacheService) CreateMedia(ctx context.Context, nm types.NewMedia) (types.MediaRecord, error) {
	m, err := c.Storage.CreateMedia(ctx, nm)
	if err != nil {
		return m, err
	}
	c.del(ctx, CountsKey)
	return m, nil
}

func (c *CacheService) MarkApproved(ctx context.Context, id int64, s3Key string, at time.Time) (types.MediaRecord, bool, error) {
	m, ok, err := c.Storage.MarkApproved(ctx, id, s3Key, at)
	if err != nil {
		return m, ok, err
	}
	if m.Approved {
		c.setJSON(ctx, fmt.Sprintf(MediaKey, id), m, MediaCacheDuration)
	}
	c.del(ctx, CountsKey)
	return m, ok, nil
}

func (c *CacheService) CreateChannel(ctx context.Context, username string) (types.Channel, error) {
	ch, err := c.Storage.CreateChannel(ctx, username)
	if err != nil {
		return ch, err
	}
	c.del(ctx, CountsKey)
	return ch, nil
}

func (c *CacheService) SetChannelActive(ctx context.Context, id int64, active bool) (types.Channel, error) {
	ch, err := c.Storage.SetChannelActive(ctx, id, active)
	if err != nil {
		return ch, err
	}
	c.del(ctx, CountsKey)
	return ch, nil
}

func previewKey(channel string, limit int) string {
	return fmt.Sprintf(PreviewKey, strings.ToLower(channel), limit)
}

// GetPreview returns a cached channel preview.
func (c *CacheService) GetPreview(ctx context.Context, channel string, limit int) ([]types.MessagePreview, bool) {
	var previews []types.MessagePreview
	if !c.getJSON(ctx, previewKey(channel, limit), &previews) {
		return nil, false
	}
	return previews, true
}

func (c *CacheService) SetPreview(ctx context.Context, channel string, limit int, previews []types.MessagePreview) {
	c.setJSON(ctx, previewKey(channel, limit), previews, PreviewCacheDuration)
}
