package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/princekumarofficial/channel-media-service/internal/config"
	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/types"
)

// openTestDB connects to TEST_DATABASE_URL and empties every table.
func openTestDB(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pg, err := NewPostgres(ctx, &config.Config{PGSQL: config.PQSQL{URL: url}})
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })

	_, err = pg.Db.ExecContext(ctx, "TRUNCATE channels, media_files, users RESTART IDENTITY")
	require.NoError(t, err)
	return pg
}

func TestMigrateIsIdempotent(t *testing.T) {
	pg := openTestDB(t)
	require.NoError(t, pg.Migrate(context.Background()))
}

func TestMediaLifecycle(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()

	m, err := pg.CreateMedia(ctx, types.NewMedia{MessageID: 10, ChannelUsername: "@some_channel", FileName: "a.mp3", FileType: types.MediaKindAudio})
	require.NoError(t, err)
	assert.False(t, m.Approved)
	assert.Nil(t, m.S3Key)

	_, err = pg.CreateMedia(ctx, types.NewMedia{MessageID: 10, ChannelUsername: "@some_channel", FileName: "a.mp3", FileType: types.MediaKindAudio})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	exists, err := pg.MediaExists(ctx, 10)
	require.NoError(t, err)
	assert.True(t, exists)

	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	got, ok, err := pg.MarkApproved(ctx, m.ID, "audio/x-a.mp3", at)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, got.S3Key)
	assert.Equal(t, "audio/x-a.mp3", *got.S3Key)

	_, ok, err = pg.MarkApproved(ctx, m.ID, "audio/y-a.mp3", at)
	require.NoError(t, err)
	assert.False(t, ok)

	items, total, err := pg.ListMedia(ctx, types.MediaFilter{ApprovedOnly: true}, types.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "audio/x-a.mp3", *items[0].S3Key)

	_, _, err = pg.MarkApproved(ctx, 9999, "audio/z", at)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChannelRegistry(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()

	ch, err := pg.CreateChannel(ctx, "@channel_one")
	require.NoError(t, err)
	assert.True(t, ch.Active)

	_, err = pg.CreateChannel(ctx, "@channel_one")
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	_, err = pg.SetChannelActive(ctx, ch.ID, false)
	require.NoError(t, err)

	active, err := pg.ListChannels(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	counts, err := pg.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.TotalChannels)
	assert.Equal(t, 0, counts.ActiveChannels)
}
