package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/princekumarofficial/channel-media-service/internal/telegram/botapi"
)

const (
	postKey      = "tg:post:%s:%d" // tg:post:channel:messageID
	postByIDKey  = "tg:post:id:%d" // tg:post:id:messageID -> channel
	postIndexKey = "tg:posts:%s"   // sorted set of message ids per channel
)

// PostRetention bounds how long a bot-seen post stays approvable.
const PostRetention = 90 * 24 * time.Hour

// PostIndex keeps channel posts seen by the Bot API driver in Redis.
type PostIndex struct {
	redis *redis.Client
	ttl   time.Duration
}

var _ botapi.PostStore = (*PostIndex)(nil)

func NewPostIndex(redisClient *redis.Client) *PostIndex {
	return &PostIndex{redis: redisClient, ttl: PostRetention}
}

func channelKey(p botapi.Post) string {
	if p.ChannelHandle != "" {
		return strings.ToLower(p.ChannelHandle)
	}
	return strconv.FormatInt(p.ChatID, 10)
}

func (i *PostIndex) SavePost(ctx context.Context, p botapi.Post) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ch := channelKey(p)

	pipe := i.redis.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(postKey, ch, p.MessageID), data, i.ttl)
	pipe.Set(ctx, fmt.Sprintf(postByIDKey, p.MessageID), ch, i.ttl)
	pipe.ZAdd(ctx, fmt.Sprintf(postIndexKey, ch), &redis.Z{Score: float64(p.MessageID), Member: p.MessageID})
	pipe.Expire(ctx, fmt.Sprintf(postIndexKey, ch), i.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save post %d: %w", p.MessageID, err)
	}
	return nil
}

func (i *PostIndex) GetPost(ctx context.Context, channel string, messageID int64) (botapi.Post, error) {
	ch := strings.ToLower(channel)
	if ch == "" {
		owner, err := i.redis.Get(ctx, fmt.Sprintf(postByIDKey, messageID)).Result()
		if errors.Is(err, redis.Nil) {
			return botapi.Post{}, botapi.ErrPostNotFound
		}
		if err != nil {
			return botapi.Post{}, err
		}
		ch = owner
	}

	data, err := i.redis.Get(ctx, fmt.Sprintf(postKey, ch, messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return botapi.Post{}, botapi.ErrPostNotFound
	}
	if err != nil {
		return botapi.Post{}, err
	}

	var p botapi.Post
	if err := json.Unmarshal(data, &p); err != nil {
		return botapi.Post{}, fmt.Errorf("decode post %d: %w", messageID, err)
	}
	return p, nil
}

// RecentPosts returns up to limit posts of channel, newest first. Posts whose
// payload already expired are skipped.
func (i *PostIndex) RecentPosts(ctx context.Context, channel string, limit int) ([]botapi.Post, error) {
	ch := strings.ToLower(channel)
	ids, err := i.redis.ZRevRange(ctx, fmt.Sprintf(postIndexKey, ch), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	posts := make([]botapi.Post, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		p, err := i.GetPost(ctx, ch, id)
		if errors.Is(err, botapi.ErrPostNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, nil
}
