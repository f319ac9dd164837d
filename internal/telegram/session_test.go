package telegram_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/princekumarofficial/channel-media-service/internal/telegram"
	"github.com/princekumarofficial/channel-media-service/internal/telegram/telegramtest"
)

func TestMessageChannelFallback(t *testing.T) {
	assert.Equal(t, "@named_chan", telegram.Message{ChannelID: 5, ChannelHandle: "@named_chan"}.Channel())
	assert.Equal(t, "1001234", telegram.Message{ChannelID: 1001234}.Channel())
}

func TestSessionStartRunsHookOnce(t *testing.T) {
	client := telegramtest.NewClient()
	s := telegram.NewSession(client, 4, nil)

	var hooks atomic.Int32
	done := make(chan struct{}, 4)
	s.OnFirstStart(func(context.Context) {
		hooks.Add(1)
		done <- struct{}{}
	})

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("startup hook did not run")
	}

	require.NoError(t, s.Restart(ctx))
	client.Drop()
	require.NoError(t, s.Restart(ctx))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), hooks.Load())
	assert.Equal(t, 3, client.ConnectCalls)
}

func TestSessionBotSkipsHookAndHistory(t *testing.T) {
	client := telegramtest.NewClient()
	client.Self = telegram.Identity{ID: 9, Username: "intake_bot", Bot: true}
	s := telegram.NewSession(client, 4, nil)

	var hooks atomic.Int32
	s.OnFirstStart(func(context.Context) { hooks.Add(1) })

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	err := s.History(ctx, "@some_channel", func(telegram.Message) error { return nil })
	assert.ErrorIs(t, err, telegram.ErrHistoryUnavailable)

	st := s.Status()
	assert.True(t, st.IsBot)
	assert.False(t, st.IsUser)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, hooks.Load())
}

func TestSessionStartFailureRecordsError(t *testing.T) {
	client := telegramtest.NewClient()
	client.ConnectErr = telegram.ErrNoSession
	s := telegram.NewSession(client, 4, nil)

	err := s.Start(context.Background())
	require.ErrorIs(t, err, telegram.ErrNoSession)
	assert.False(t, s.Started())
	assert.ErrorIs(t, s.LastError(), telegram.ErrNoSession)

	_, err = s.Recent(context.Background(), "@some_channel", 5)
	assert.ErrorIs(t, err, telegram.ErrNotConnected)
}

func TestEnsureConnectedReconnects(t *testing.T) {
	client := telegramtest.NewClient()
	s := telegram.NewSession(client, 4, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	client.Drop()
	require.NoError(t, s.EnsureConnected(ctx))
	assert.Equal(t, 1, client.ReconnectCalls)

	client.Drop()
	client.ReconnectErr = errors.New("network unreachable")
	err := s.EnsureConnected(ctx)
	assert.ErrorIs(t, err, telegram.ErrNotConnected)
	assert.Error(t, s.LastError())
}

func TestLiveMessagesAreQueued(t *testing.T) {
	client := telegramtest.NewClient()
	s := telegram.NewSession(client, 1, nil)
	s.SetDeliverTimeout(20 * time.Millisecond)
	var dropped []int64
	s.OnDrop(func(m telegram.Message) { dropped = append(dropped, m.ID) })
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	client.Push(ctx, telegram.Message{ID: 1, ChannelHandle: "@some_channel"})
	// The queue holds one message and nobody reads it; the second is dropped.
	client.Push(ctx, telegram.Message{ID: 2, ChannelHandle: "@some_channel"})

	got := <-s.Events()
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, []int64{2}, dropped)
	select {
	case m := <-s.Events():
		t.Fatalf("unexpected queued message %d", m.ID)
	default:
	}
}

func TestLiveMessagesWaitForSlowConsumer(t *testing.T) {
	client := telegramtest.NewClient()
	s := telegram.NewSession(client, 1, nil)
	var drops atomic.Int32
	s.OnDrop(func(telegram.Message) { drops.Add(1) })
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	client.Push(ctx, telegram.Message{ID: 1, ChannelHandle: "@some_channel"})

	pushed := make(chan struct{})
	go func() {
		defer close(pushed)
		client.Push(ctx, telegram.Message{ID: 2, ChannelHandle: "@some_channel"})
	}()

	// A consumer that falls behind briefly loses nothing.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), (<-s.Events()).ID)
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("second message was not queued once room was made")
	}
	assert.Equal(t, int64(2), (<-s.Events()).ID)
	assert.Zero(t, drops.Load())
}

func TestStartGivesUpAfterTimeout(t *testing.T) {
	client := telegramtest.NewClient()
	client.ConnectBlock = make(chan struct{})
	defer close(client.ConnectBlock)

	s := telegram.NewSession(client, 1, nil)
	s.SetStartTimeout(50 * time.Millisecond)

	start := time.Now()
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, s.Started())
	assert.Error(t, s.LastError())
}
