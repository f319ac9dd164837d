package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/storage/memory"
	"github.com/princekumarofficial/channel-media-service/internal/telegram/botapi"
	"github.com/princekumarofficial/channel-media-service/internal/types"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestGetMediaCachesApprovedRecords(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	store := memory.New()
	svc := NewCacheService(store, rdb)
	ctx := context.Background()

	m, err := svc.CreateMedia(ctx, types.NewMedia{MessageID: 5, ChannelUsername: "@some_channel", FileName: "a.pdf", FileType: types.MediaKindPDF})
	require.NoError(t, err)

	got, err := svc.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.Approved)
	assert.False(t, mr.Exists("media:1"), "pending records are not cached")

	_, ok, err := svc.MarkApproved(ctx, m.ID, "pdf/x-a.pdf", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("media:1"))

	got, err = svc.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Approved)
	require.NotNil(t, got.S3Key)
	assert.Equal(t, "pdf/x-a.pdf", *got.S3Key)
}

// stallingStore parks the first GetMedia between the catalog read and the
// return, so a concurrent approval can land in between.
type stallingStore struct {
	storage.Storage
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (s *stallingStore) GetMedia(ctx context.Context, id int64) (types.MediaRecord, error) {
	m, err := s.Storage.GetMedia(ctx, id)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return m, err
}

func TestGetMediaRacingApprovalDoesNotCacheStaleRecord(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	store := &stallingStore{Storage: memory.New(), read: make(chan struct{}), release: make(chan struct{})}
	svc := NewCacheService(store, rdb)
	ctx := context.Background()

	m, err := svc.CreateMedia(ctx, types.NewMedia{MessageID: 5, ChannelUsername: "@some_channel", FileName: "a.pdf", FileType: types.MediaKindPDF})
	require.NoError(t, err)

	stale := make(chan types.MediaRecord, 1)
	go func() {
		got, _ := svc.GetMedia(ctx, m.ID)
		stale <- got
	}()

	<-store.read
	_, ok, err := svc.MarkApproved(ctx, m.ID, "pdf/x-a.pdf", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	close(store.release)
	assert.False(t, (<-stale).Approved)

	got, err := svc.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Approved)
	require.NotNil(t, got.S3Key)
	assert.Equal(t, "pdf/x-a.pdf", *got.S3Key)
}

func TestInvalidationFailureIsLogged(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	svc := NewCacheService(memory.New(), rdb)
	ctx := context.Background()

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	mr.SetError("ERR cache offline")
	m, err := svc.CreateMedia(ctx, types.NewMedia{MessageID: 5, ChannelUsername: "@some_channel", FileName: "a.pdf", FileType: types.MediaKindPDF})
	require.NoError(t, err, "the catalog write stands when the cache is down")
	assert.Equal(t, int64(5), m.MessageID)
	assert.Contains(t, buf.String(), "Cache invalidation failed")
	assert.Contains(t, buf.String(), CountsKey)
}

func TestCountsInvalidatedOnInsert(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	svc := NewCacheService(memory.New(), rdb)
	ctx := context.Background()

	counts, err := svc.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.TotalMedia)

	_, err = svc.CreateMedia(ctx, types.NewMedia{MessageID: 1, ChannelUsername: "@some_channel", FileName: "a.mp3", FileType: types.MediaKindAudio})
	require.NoError(t, err)

	counts, err = svc.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.TotalMedia)
	assert.Equal(t, 1, counts.PendingMedia)
}

func TestPreviewRoundTrip(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	svc := NewCacheService(memory.New(), rdb)
	ctx := context.Background()

	_, ok := svc.GetPreview(ctx, "@Some_Channel", 20)
	assert.False(t, ok)

	svc.SetPreview(ctx, "@Some_Channel", 20, []types.MessagePreview{{MessageID: 9, FileName: "x.pdf"}})
	got, ok := svc.GetPreview(ctx, "@some_channel", 20)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, int64(9), got[0].MessageID)

	mr.FastForward(PreviewCacheDuration + time.Second)
	_, ok = svc.GetPreview(ctx, "@some_channel", 20)
	assert.False(t, ok)
}

func TestPostIndex(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	idx := NewPostIndex(rdb)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, idx.SavePost(ctx, botapi.Post{
			ChatID:        -100,
			ChannelHandle: "@Some_Channel",
			MessageID:     id,
			FileID:        "file",
			MimeType:      "audio/mpeg",
		}))
	}

	p, err := idx.GetPost(ctx, "@some_channel", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.MessageID)

	p, err = idx.GetPost(ctx, "", 3)
	require.NoError(t, err)
	assert.Equal(t, "@Some_Channel", p.ChannelHandle)

	_, err = idx.GetPost(ctx, "", 99)
	assert.ErrorIs(t, err, botapi.ErrPostNotFound)

	recent, err := idx.RecentPosts(ctx, "@some_channel", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(3), recent[0].MessageID)
	assert.Equal(t, int64(2), recent[1].MessageID)
}

func TestClearCache(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	mr.Set("preview:@a:20", "[]")
	mr.Set("preview:@b:20", "[]")
	mr.Set("media:1", "{}")

	rec := httptest.NewRecorder()
	ClearCache(rdb)(rec, httptest.NewRequest(http.MethodDelete, "/api/cache?type=preview", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Deleted int64 `json:"deleted_keys"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.Data.Deleted)
	assert.True(t, mr.Exists("media:1"))
}
