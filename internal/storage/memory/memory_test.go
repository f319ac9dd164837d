package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/types"
)

func seedMedia(t *testing.T, s *Store, n int) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		_, err := s.CreateMedia(context.Background(), types.NewMedia{
			MessageID:       int64(i),
			ChannelUsername: "@some_channel",
			FileName:        fmt.Sprintf("track_%d.mp3", i),
			FileType:        types.MediaKindAudio,
		})
		require.NoError(t, err)
	}
}

func TestListMediaPagination(t *testing.T) {
	s := New()
	seedMedia(t, s, 35)
	ctx := context.Background()

	items, total, err := s.ListMedia(ctx, types.MediaFilter{}, types.Page{Skip: 0, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 35, total)
	assert.Len(t, items, 10)
	assert.Equal(t, int64(35), items[0].MessageID, "newest first")

	items, total, err = s.ListMedia(ctx, types.MediaFilter{}, types.Page{Skip: 30, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 35, total)
	assert.Len(t, items, 5)

	items, _, err = s.ListMedia(ctx, types.MediaFilter{}, types.Page{Skip: 40, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCreateMediaRejectsDuplicateMessage(t *testing.T) {
	s := New()
	ctx := context.Background()
	nm := types.NewMedia{MessageID: 7, ChannelUsername: "@abcde", FileName: "a.pdf", FileType: types.MediaKindPDF}

	_, err := s.CreateMedia(ctx, nm)
	require.NoError(t, err)

	_, err = s.CreateMedia(ctx, nm)
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.TotalMedia)
}

func TestMarkApprovedTransitionsOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	m, err := s.CreateMedia(ctx, types.NewMedia{MessageID: 1, ChannelUsername: "@abcde", FileName: "a.pdf", FileType: types.MediaKindPDF})
	require.NoError(t, err)
	assert.Nil(t, m.S3Key)

	at := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	got, ok, err := s.MarkApproved(ctx, m.ID, "pdf/x-a.pdf", at)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Approved)
	require.NotNil(t, got.S3Key)
	assert.Equal(t, "pdf/x-a.pdf", *got.S3Key)
	assert.Equal(t, at, got.DownloadedAt)

	again, ok, err := s.MarkApproved(ctx, m.ID, "pdf/y-a.pdf", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "pdf/x-a.pdf", *again.S3Key)

	_, _, err = s.MarkApproved(ctx, 99, "pdf/z", at)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListMediaFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateMedia(ctx, types.NewMedia{MessageID: 1, ChannelUsername: "@first_chan", FileName: "a.mp3", FileType: types.MediaKindAudio})
	require.NoError(t, err)
	pdf, err := s.CreateMedia(ctx, types.NewMedia{MessageID: 2, ChannelUsername: "@second_chan", FileName: "b.pdf", FileType: types.MediaKindPDF})
	require.NoError(t, err)
	_, _, err = s.MarkApproved(ctx, pdf.ID, "pdf/b.pdf", time.Now())
	require.NoError(t, err)

	_, total, _ := s.ListMedia(ctx, types.MediaFilter{Kind: types.MediaKindAudio}, types.Page{Limit: 10})
	assert.Equal(t, 1, total)

	_, total, _ = s.ListMedia(ctx, types.MediaFilter{ApprovedOnly: true}, types.Page{Limit: 10})
	assert.Equal(t, 1, total)

	items, total, _ := s.ListMedia(ctx, types.MediaFilter{PendingOnly: true}, types.Page{Limit: 10})
	require.Equal(t, 1, total)
	assert.Equal(t, int64(1), items[0].MessageID)

	items, total, _ = s.ListMedia(ctx, types.MediaFilter{Channel: "@SECOND_chan"}, types.Page{Limit: 10})
	require.Equal(t, 1, total)
	assert.Equal(t, int64(2), items[0].MessageID)
}

func TestChannelsSoftDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	ch, err := s.CreateChannel(ctx, "@channel_one")
	require.NoError(t, err)
	assert.True(t, ch.Active)

	_, err = s.CreateChannel(ctx, "@Channel_One")
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	_, err = s.SetChannelActive(ctx, ch.ID, false)
	require.NoError(t, err)

	active, err := s.ListChannels(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListChannels(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.SetChannelActive(ctx, 42, true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
