package cache

import (
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/princekumarofficial/channel-media-service/internal/utils/response"
)

// CacheStats represents cache state for operators
type CacheStats struct {
	RedisConnected bool           `json:"redis_connected"`
	KeyCount       int64          `json:"total_keys"`
	Groups         map[string]int `json:"keys_by_group"`
}

var keyGroups = map[string]string{
	"media":   "media:*",
	"counts":  CountsKey,
	"preview": "preview:*",
	"posts":   "tg:post*",
}

func countKeys(r *http.Request, rdb *redis.Client, pattern string) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := rdb.Scan(r.Context(), cursor, pattern, 500).Result()
		if err != nil {
			return n, err
		}
		n += len(keys)
		if next == 0 {
			return n, nil
		}
		cursor = next
	}
}

// GetCacheStats returns cache statistics
// @Summary Cache statistics
// @Tags cache
// @Produce json
// @Success 200 {object} response.Response
// @Security BearerAuth
// @Router /api/cache/stats [get]
func GetCacheStats(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := CacheStats{RedisConnected: true, Groups: make(map[string]int)}

		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			stats.RedisConnected = false
			response.WriteJSON(w, http.StatusOK, response.RequestOK("Cache stats retrieved", stats))
			return
		}

		for group, pattern := range keyGroups {
			if n, err := countKeys(r, redisClient, pattern); err == nil {
				stats.Groups[group] = n
			}
		}
		if size, err := redisClient.DBSize(r.Context()).Result(); err == nil {
			stats.KeyCount = size
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Cache stats retrieved", stats))
	}
}

// ClearCache drops cached catalog reads and previews. Indexed bot posts are
// only removed with type=posts since they cannot be re-fetched.
// @Summary Clear cache
// @Tags cache
// @Produce json
// @Param type query string false "media | counts | preview | posts | all"
// @Success 200 {object} response.Response
// @Security BearerAuth
// @Router /api/cache [delete]
func ClearCache(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var groups []string
		switch t := r.URL.Query().Get("type"); t {
		case "media", "counts", "preview", "posts":
			groups = []string{t}
		case "all":
			groups = []string{"media", "counts", "preview"}
		default:
			groups = []string{"preview"}
		}

		var deleted int64
		for _, g := range groups {
			iter := redisClient.Scan(r.Context(), 0, keyGroups[g], 500).Iterator()
			var keys []string
			for iter.Next(r.Context()) {
				keys = append(keys, iter.Val())
			}
			if err := iter.Err(); err != nil {
				response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
				return
			}
			if len(keys) == 0 {
				continue
			}
			n, err := redisClient.Del(r.Context(), keys...).Result()
			if err != nil {
				response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
				return
			}
			deleted += n
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Cache cleared", map[string]interface{}{
			"groups":       groups,
			"deleted_keys": deleted,
		}))
	}
}
