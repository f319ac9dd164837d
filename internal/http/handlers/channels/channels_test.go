package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
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

	"github.com/princekumarofficial/channel-media-service/internal/cache"
	"github.com/princekumarofficial/channel-media-service/internal/services/channels"
	"github.com/princekumarofficial/channel-media-service/internal/storage/memory"
	"github.com/princekumarofficial/channel-media-service/internal/telegram"
	"github.com/princekumarofficial/channel-media-service/internal/telegram/telegramtest"
	"github.com/princekumarofficial/channel-media-service/internal/types"
)

type envelope struct {
	Status  string          `json:"status"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type countingBackfill struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingBackfill) TriggerChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[channel]++
}

// flakySource counts Recent calls and can fail them.
type flakySource struct {
	*telegramtest.Client
	calls int
	err   error
}

func (f *flakySource) Recent(ctx context.Context, channel string, limit int) ([]telegram.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.Client.Recent(ctx, channel, limit)
}

type fixture struct {
	mux      *http.ServeMux
	backfill *countingBackfill
	source   *flakySource
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	f := &fixture{
		mux:      http.NewServeMux(),
		backfill: &countingBackfill{calls: make(map[string]int)},
		source:   &flakySource{Client: telegramtest.NewClient()},
		redis:    mr,
	}
	store := cache.NewCacheService(memory.New(), rdb)
	registry := channels.NewRegistry(store, f.backfill, slog.New(slog.NewTextHandler(io.Discard, nil)))

	f.mux.HandleFunc("POST /api/channels", Create(registry))
	f.mux.HandleFunc("GET /api/channels", ListActive(registry))
	f.mux.HandleFunc("GET /api/channels/all", ListAll(registry))
	f.mux.HandleFunc("DELETE /api/channels/{id}", Deactivate(registry))
	f.mux.HandleFunc("PATCH /api/channels/{id}", SetActive(registry))
	f.mux.HandleFunc("GET /api/channels/{username}/preview", Preview(f.source, store))
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body []byte) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestCreateChannel(t *testing.T) {
	f := newFixture(t)

	code, env := f.do(t, http.MethodPost, "/api/channels", []byte(`{"username": "https://t.me/My_Channel1"}`))
	require.Equal(t, http.StatusCreated, code, env.Error)
	var ch types.Channel
	require.NoError(t, json.Unmarshal(env.Data, &ch))
	assert.Equal(t, "@My_Channel1", ch.Username)
	assert.True(t, ch.Active)
	assert.Equal(t, 1, f.backfill.calls["@My_Channel1"])

	code, env = f.do(t, http.MethodPost, "/api/channels", []byte(`{"username": "My_Channel1"}`))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error, "already exists")

	code, _ = f.do(t, http.MethodPost, "/api/channels", []byte(`{"username": "abc"}`))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/channels", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestToggleChannel(t *testing.T) {
	f := newFixture(t)
	code, env := f.do(t, http.MethodPost, "/api/channels", []byte(`{"username": "toggle_me"}`))
	require.Equal(t, http.StatusCreated, code)
	var ch types.Channel
	require.NoError(t, json.Unmarshal(env.Data, &ch))
	target := "/api/channels/" + jsonInt(ch.ID)

	code, env = f.do(t, http.MethodDelete, target, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &ch))
	assert.False(t, ch.Active)

	_, env = f.do(t, http.MethodGet, "/api/channels", nil)
	var list []types.Channel
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Empty(t, list)

	_, env = f.do(t, http.MethodGet, "/api/channels/all", nil)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	code, _ = f.do(t, http.MethodPatch, target+"?active=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, f.backfill.calls["@toggle_me"])

	code, _ = f.do(t, http.MethodPatch, target, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPatch, "/api/channels/999?active=true", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodDelete, "/api/channels/0", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPreviewIsCached(t *testing.T) {
	f := newFixture(t)
	f.source.Add(
		telegram.Message{ID: 1, ChannelHandle: "@preview_chan", Text: "hello"},
		telegram.Message{
			ID:            2,
			ChannelHandle: "@preview_chan",
			Attachment:    &telegramtest.Attachment{Mime: "audio/mpeg", FileName: "ep1.mp3", Data: []byte("ID3ID3")},
		},
	)

	code, env := f.do(t, http.MethodGet, "/api/channels/preview_chan/preview?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	var previews []types.MessagePreview
	require.NoError(t, json.Unmarshal(env.Data, &previews))
	require.Len(t, previews, 2)
	assert.Equal(t, int64(2), previews[0].MessageID)
	assert.Equal(t, "audio/mpeg", previews[0].MimeType)
	assert.Equal(t, int64(6), previews[0].FileSize)
	assert.Equal(t, "hello", previews[1].Text)

	_, _ = f.do(t, http.MethodGet, "/api/channels/@Preview_Chan/preview?limit=5", nil)
	assert.Equal(t, 1, f.source.calls)

	f.redis.FastForward(31 * time.Second)
	_, _ = f.do(t, http.MethodGet, "/api/channels/preview_chan/preview?limit=5", nil)
	assert.Equal(t, 2, f.source.calls)
}

func TestPreviewFailureYieldsEmptyList(t *testing.T) {
	f := newFixture(t)
	f.source.err = telegram.ErrNotConnected

	code, env := f.do(t, http.MethodGet, "/api/channels/broken_chan/preview", nil)
	require.Equal(t, http.StatusOK, code)
	var previews []types.MessagePreview
	require.NoError(t, json.Unmarshal(env.Data, &previews))
	assert.Empty(t, previews)

	code, _ = f.do(t, http.MethodGet, "/api/channels/broken_chan/preview?limit=500", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/api/channels/bad/preview", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
